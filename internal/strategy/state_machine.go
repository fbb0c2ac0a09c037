package strategy

import (
	"sync"

	"wisp/internal/model"
	"wisp/pkg/ta"

	"go.uber.org/zap"
)

// StateMachine 根据宏观周期的指标判定市场状态 (趋势/震荡)
// 由 AnchorInterval 的已完成 K 线驱动，ConfirmInterval 作为更高周期的趋势过滤
type StateMachine struct {
	mu           sync.RWMutex
	CurrentState MarketState

	taClient        *ta.TACalculator
	symbol          string
	anchorInterval  string
	confirmInterval string

	// 状态转换阈值
	TrendThreshold  float64 // 判断趋势强度的 RSI 阈值，例如 60/40
	ATRVolThreshold float64 // 判断高/低波动的百分比 ATR 阈值

	logger *zap.Logger
}

// NewStateMachine 初始化状态机
// confirmInterval 为空时不做高周期过滤
func NewStateMachine(taClient *ta.TACalculator, symbol, anchorInterval, confirmInterval string, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		CurrentState:    StateInitial,
		taClient:        taClient,
		symbol:          symbol,
		anchorInterval:  anchorInterval,
		confirmInterval: confirmInterval,
		TrendThreshold:  60.0,
		ATRVolThreshold: 0.005, // 0.5% 的 ATR 阈值
		logger:          logger,
	}
}

// CheckAndTransition 是状态机驱动的核心函数
// 只处理 AnchorInterval 的 K 线，其余周期忽略
func (sm *StateMachine) CheckAndTransition(candle model.Candle) {
	if candle.Interval != sm.anchorInterval {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	anchor, err := sm.taClient.Snapshot(sm.symbol, sm.anchorInterval)
	if err != nil {
		sm.logger.Debug("Anchor TA not ready, skipping state transition",
			zap.String("interval", sm.anchorInterval))
		return
	}

	newState := sm.CurrentState

	// --- A. 趋势判断 ---
	isUpTrend, isDownTrend := sm.checkStrongTrend(anchor)

	if isUpTrend {
		newState = StateStrongUpTrend
	} else if isDownTrend {
		newState = StateStrongDownTrend
	} else {
		// --- B. 非趋势状态：归类为震荡模式 ---
		newState = sm.determineRangingMode(anchor)
	}

	// --- C. 状态切换与日志记录 ---
	if newState != sm.CurrentState {
		sm.logger.Info("!!! State Transition !!!",
			zap.String("From", string(sm.CurrentState)),
			zap.String("To", string(newState)),
			zap.Float64("RSI", anchor.RSI),
			zap.Float64("ATR", anchor.ATR),
		)
		sm.CurrentState = newState
	}
}

// checkStrongTrend 结合多周期指标判断强趋势
func (sm *StateMachine) checkStrongTrend(anchor ta.Snapshot) (isUpTrend bool, isDownTrend bool) {
	// 趋势条件 1: 价格在均线之上/之下
	trendUpConfirm := anchor.Close > anchor.SMA
	trendDownConfirm := anchor.Close < anchor.SMA

	// 趋势条件 2: 动量确认 (RSI)
	momentumUp := anchor.RSI >= sm.TrendThreshold
	momentumDown := anchor.RSI <= (100 - sm.TrendThreshold)

	// 趋势条件 3 (过滤): 高周期趋势一致性，数据未就绪时不阻止判定
	confirmUp, confirmDown := true, true
	if sm.confirmInterval != "" {
		if higher, err := sm.taClient.Snapshot(sm.symbol, sm.confirmInterval); err == nil {
			confirmUp = higher.Close > higher.SMA
			confirmDown = higher.Close < higher.SMA
		}
	}

	isUpTrend = trendUpConfirm && momentumUp && confirmUp
	isDownTrend = trendDownConfirm && momentumDown && confirmDown
	return isUpTrend, isDownTrend
}

// determineRangingMode 根据百分比 ATR 确定震荡模式
func (sm *StateMachine) determineRangingMode(anchor ta.Snapshot) MarketState {
	// 检查价格是否有效，防止除以零
	if anchor.Close == 0 {
		return StateLowVolRanging
	}

	percentATR := anchor.ATR / anchor.Close

	if percentATR >= sm.ATRVolThreshold {
		return StateHighVolRanging
	}
	return StateLowVolRanging
}

// GetCurrentState 供策略层查询当前状态
func (sm *StateMachine) GetCurrentState() MarketState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.CurrentState
}
