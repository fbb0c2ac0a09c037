package strategy

import (
	"context"
	"fmt"
	"sync"

	"wisp/internal/market"
	"wisp/internal/model"
	"wisp/pkg/ta"

	"go.uber.org/zap"
)

// Executor 是调度器需要的执行端最小接口
type Executor interface {
	ExecuteSignal(ctx context.Context, signal Signal) error
	GetCurrentPosition(ctx context.Context) (*Position, error)
	GetBalance(ctx context.Context) (float64, error)
	GetMaxEquity() float64
	GetTradeHistory() []*TradeRecord
}

// Scheduler 在固定周期上调用策略回调，并把产出的信号批次路由给执行器
// 策略回调永远不会与自身并发执行；同一根 K 线只触发一次回调
type Scheduler struct {
	mu sync.Mutex

	strategy Strategy
	sm       *StateMachine
	taClient *ta.TACalculator
	facade   *market.Facade
	exec     Executor
	sizer    *Sizer

	symbol         string
	exchange       string
	interval       string // 策略驱动周期 (strategy.interval)
	anchorInterval string // 自适应风控的触发周期
	params         map[string]float64

	logger *zap.Logger
}

// SchedulerConfig 聚合调度器的全部依赖
type SchedulerConfig struct {
	Strategy       Strategy
	StateMachine   *StateMachine
	TA             *ta.TACalculator
	Facade         *market.Facade
	Executor       Executor
	Sizer          *Sizer
	Symbol         string
	Exchange       string
	Interval       string
	AnchorInterval string
	Params         map[string]float64
	Logger         *zap.Logger
}

// NewScheduler 创建调度器
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		strategy:       cfg.Strategy,
		sm:             cfg.StateMachine,
		taClient:       cfg.TA,
		facade:         cfg.Facade,
		exec:           cfg.Executor,
		sizer:          cfg.Sizer,
		symbol:         cfg.Symbol,
		exchange:       cfg.Exchange,
		interval:       cfg.Interval,
		anchorInterval: cfg.AnchorInterval,
		params:         cfg.Params,
		logger:         cfg.Logger,
	}
}

// Run 消费 K 线通道直到 ctx 取消或通道关闭 (实时模式的主循环)
func (s *Scheduler) Run(ctx context.Context, candles <-chan model.Candle) error {
	s.logger.Info("Scheduler started",
		zap.String("strategy", s.strategy.Name()),
		zap.String("symbol", s.symbol),
		zap.String("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case candle, ok := <-candles:
			if !ok {
				s.logger.Info("Candle channel closed, scheduler exiting")
				return nil
			}
			if err := s.Step(ctx, candle); err != nil {
				s.logger.Error("Scheduler step failed", zap.Error(err))
			}
		}
	}
}

// Step 处理一根已完成的 K 线：更新指标和状态机，必要时触发策略回调
// 回测引擎直接按模拟时钟调用 Step
func (s *Scheduler) Step(ctx context.Context, candle model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if candle.Symbol != s.symbol {
		return nil
	}

	// A: 更新指标
	s.taClient.UpdateCandle(candle)

	// B: 状态机检查状态
	s.sm.CheckAndTransition(candle)

	// C: 宏观周期收盘时做仓位自适应
	if candle.Interval == s.anchorInterval {
		s.adapt(ctx)
	}

	// D: 只有驱动周期的 K 线触发策略回调
	if candle.Interval != s.interval {
		return nil
	}

	// E: 指标和历史长度未就绪前不调用策略
	if !s.taClient.Ready(s.symbol, s.interval) {
		return nil
	}
	if _, err := s.facade.Candles(s.symbol, s.interval, s.strategy.WarmupBars()); err != nil {
		return nil
	}

	// F: 获取当前持仓
	position, err := s.exec.GetCurrentPosition(ctx)
	if err != nil {
		return fmt.Errorf("get current position: %w", err)
	}

	// G: 调用策略回调
	env := &Env{
		Market:   s.facade,
		TA:       s.taClient,
		State:    s.sm.GetCurrentState(),
		Position: position,
		Symbol:   s.symbol,
		Exchange: s.exchange,
		Interval: s.interval,
		Params:   s.params,
	}

	builder := NewSignalBuilder(s.symbol, s.exchange).
		At(candle.EndTime).
		InState(env.State)

	if err := s.strategy.OnCandle(ctx, env, builder); err != nil {
		return fmt.Errorf("strategy %s: %w", s.strategy.Name(), err)
	}

	// H: 路由信号批次给执行器
	batch := builder.Build()
	for _, signal := range batch.Signals() {
		s.logger.Info("!!! NEW TRADING SIGNAL !!!", zap.String("Signal", signal.String()))
		if err := s.exec.ExecuteSignal(ctx, signal); err != nil {
			s.logger.Error("Execute signal failed", zap.Error(err), zap.String("Signal", signal.String()))
		}
	}

	return nil
}

// adapt 用执行器的绩效数据更新仓位缩放因子
func (s *Scheduler) adapt(ctx context.Context) {
	equity, err := s.exec.GetBalance(ctx)
	if err != nil {
		s.logger.Error("ADAPTATION: failed to get balance", zap.Error(err))
		return
	}
	s.sizer.Adapt(s.exec.GetTradeHistory(), equity, s.exec.GetMaxEquity())
}
