package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisp/internal/model"
	"wisp/internal/strategy"

	"go.uber.org/zap"
)

// SimulatorConfig 模拟器配置
type SimulatorConfig struct {
	InitialCapital float64 // 初始资金
	Leverage       float64 // 杠杆倍数 (例如 10)
	FeeRate        float64 // 交易手续费率 (例如 0.0005)
}

// SimulatorPosition 模拟交易所的持仓数据结构
type SimulatorPosition struct {
	Symbol           string
	Side             strategy.Direction // Long/Short/Flat
	Size             float64            // 持仓数量
	AvgPrice         float64            // 平均开仓价格
	LiquidationPrice float64            // 强平价格 (核心风控)
	StopLossPrice    float64            // 止损价格 (由策略给出)
	TakeProfitPrice  float64            // 止盈价格 (由策略给出)
	UPL              float64            // 未实现盈亏

	EntryTime time.Time // 记录开仓时间
	EntryFee  float64   // 记录开仓手续费
}

// SimulatorExecutor 实现了 Executor 接口
// 回测和模拟盘共用：价格由 ProcessTicker 推入，订单即时按最新价格成交
type SimulatorExecutor struct {
	cfg    *SimulatorConfig
	logger *zap.SugaredLogger

	mu sync.RWMutex // 保护账户状态

	// 账户状态 (接近交易所的资产视图)
	balance    float64 // 可用余额 (不含已占用保证金)
	equity     float64 // 账户净值 = 余额 + 保证金 + 浮动盈亏
	maxEquity  float64 // 历史最高账户净值
	marginUsed float64 // 已用保证金
	lastPrice  float64 // 实时更新的最新市场价格
	lastTS     int64   // 最新 Ticker 的毫秒时间戳

	// 持仓状态
	position *SimulatorPosition

	tradeHistory []*strategy.TradeRecord // 所有已平仓的交易记录
}

// NewSimulatorExecutor 构造函数
func NewSimulatorExecutor(cfg *SimulatorConfig, logger *zap.Logger) *SimulatorExecutor {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &SimulatorExecutor{
		cfg:       cfg,
		logger:    logger.Sugar(),
		balance:   cfg.InitialCapital,
		equity:    cfg.InitialCapital,
		maxEquity: cfg.InitialCapital,
		position:  &SimulatorPosition{Side: strategy.DirFlat},
	}
}

// ExecuteSignal 模拟下单和执行
func (e *SimulatorExecutor) ExecuteSignal(ctx context.Context, signal strategy.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	currentPrice := e.lastPrice
	if currentPrice <= 0 {
		return fmt.Errorf("simulator has no market price yet")
	}

	switch signal.Action {
	case strategy.ActionOpen:
		if e.position.Side != strategy.DirFlat {
			e.logger.Warnf("Sim Rejected: received OPEN signal while holding %s position", e.position.Side)
			return nil
		}
		return e.openPosition(signal, currentPrice)

	case strategy.ActionClose:
		if e.position.Side == strategy.DirFlat {
			return nil
		}
		e.closePosition(currentPrice, "Signal")
		return nil

	case strategy.ActionUpdate:
		if e.position.Side == strategy.DirFlat {
			return nil
		}
		if signal.StopLossPrice > 0 {
			e.position.StopLossPrice = signal.StopLossPrice
		}
		if signal.TakeProfitPrice > 0 {
			e.position.TakeProfitPrice = signal.TakeProfitPrice
		}
		return nil
	}

	return nil
}

// openPosition 扣除保证金和手续费并建立持仓，调用方必须持有锁
func (e *SimulatorExecutor) openPosition(signal strategy.Signal, currentPrice float64) error {
	requiredMargin := signal.Quantity * currentPrice / e.cfg.Leverage
	fee := signal.Quantity * currentPrice * e.cfg.FeeRate

	if e.balance < requiredMargin+fee {
		e.logger.Infof("Sim Rejected: insufficient balance. Need: %.2f, Have: %.2f", requiredMargin+fee, e.balance)
		return fmt.Errorf("insufficient margin")
	}

	e.balance -= requiredMargin + fee
	e.marginUsed = requiredMargin

	e.position = &SimulatorPosition{
		Symbol:           signal.Symbol,
		Side:             signal.Direction,
		Size:             signal.Quantity,
		AvgPrice:         currentPrice,
		StopLossPrice:    signal.StopLossPrice,
		TakeProfitPrice:  signal.TakeProfitPrice,
		LiquidationPrice: e.liquidationPrice(currentPrice, signal.Direction),
		EntryTime:        time.UnixMilli(e.lastTS).UTC(),
		EntryFee:         fee,
	}

	e.updateEquity(currentPrice)

	e.logger.Infof("Sim ORDER FILLED (OPEN): %s %s %.4f @ %.4f. Fee: %.4f. SL: %.4f, Liq: %.4f",
		signal.Direction, signal.Symbol, signal.Quantity, currentPrice, fee,
		e.position.StopLossPrice, e.position.LiquidationPrice)
	return nil
}

// closePosition 按给定价格平仓并记账，调用方必须持有锁
func (e *SimulatorExecutor) closePosition(exitPrice float64, reason string) {
	pnl := e.closedPnL(e.position, exitPrice)
	closeFee := e.position.Size * exitPrice * e.cfg.FeeRate

	record := &strategy.TradeRecord{
		EntryTime:     e.position.EntryTime,
		ExitTime:      time.UnixMilli(e.lastTS).UTC(),
		Symbol:        e.position.Symbol,
		PosSide:       e.position.Side,
		EntryPrice:    e.position.AvgPrice,
		ExitPrice:     exitPrice,
		Size:          e.position.Size,
		RealizedPnL:   pnl,
		Fee:           e.position.EntryFee + closeFee,
		TriggerReason: reason,
	}
	e.tradeHistory = append(e.tradeHistory, record)

	// 释放保证金，结算已实现盈亏
	e.balance += e.marginUsed + pnl - closeFee
	e.marginUsed = 0

	e.logger.Infof("Sim POSITION CLOSED (%s): %s %s @ %.4f. Realized PnL: %.4f. New Balance: %.4f",
		reason, e.position.Side, e.position.Symbol, exitPrice, pnl, e.balance)

	e.position = &SimulatorPosition{Side: strategy.DirFlat}
	e.updateEquity(exitPrice)
}

// StartMonitor 消费实时 Ticker 流，通道关闭后退出
func (e *SimulatorExecutor) StartMonitor(tickerCh <-chan model.Ticker) {
	e.logger.Info("SimulatorExecutor: real-time PnL monitor started")
	for ticker := range tickerCh {
		e.ProcessTicker(ticker)
	}
}

// ProcessTicker 更新最新价格，检查止损/止盈/强平触发
func (e *SimulatorExecutor) ProcessTicker(ticker model.Ticker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPrice = ticker.Price
	e.lastTS = ticker.Timestamp

	if e.position.Side == strategy.DirFlat {
		e.updateEquity(ticker.Price)
		return
	}

	price := ticker.Price
	pos := e.position

	switch pos.Side {
	case strategy.DirLong:
		if pos.LiquidationPrice > 0 && price <= pos.LiquidationPrice {
			e.closePosition(pos.LiquidationPrice, "Liquidation")
			return
		}
		if pos.StopLossPrice > 0 && price <= pos.StopLossPrice {
			e.closePosition(pos.StopLossPrice, "SL")
			return
		}
		if pos.TakeProfitPrice > 0 && price >= pos.TakeProfitPrice {
			e.closePosition(pos.TakeProfitPrice, "TP")
			return
		}
	case strategy.DirShort:
		if pos.LiquidationPrice > 0 && price >= pos.LiquidationPrice {
			e.closePosition(pos.LiquidationPrice, "Liquidation")
			return
		}
		if pos.StopLossPrice > 0 && price >= pos.StopLossPrice {
			e.closePosition(pos.StopLossPrice, "SL")
			return
		}
		if pos.TakeProfitPrice > 0 && price <= pos.TakeProfitPrice {
			e.closePosition(pos.TakeProfitPrice, "TP")
			return
		}
	}

	e.updateEquity(price)
}

// updateEquity 重算浮动盈亏和净值，调用方必须持有锁
func (e *SimulatorExecutor) updateEquity(price float64) {
	upl := 0.0
	if e.position.Side != strategy.DirFlat && price > 0 {
		upl = e.closedPnL(e.position, price)
		e.position.UPL = upl
	}
	e.equity = e.balance + e.marginUsed + upl
	if e.equity > e.maxEquity {
		e.maxEquity = e.equity
	}
}

// closedPnL 计算按 exitPrice 平仓的已实现盈亏
func (e *SimulatorExecutor) closedPnL(pos *SimulatorPosition, exitPrice float64) float64 {
	if pos.Side == strategy.DirLong {
		return (exitPrice - pos.AvgPrice) * pos.Size
	}
	return (pos.AvgPrice - exitPrice) * pos.Size
}

// liquidationPrice 简化的强平价格：保证金亏完即强平 (忽略维持保证金率)
func (e *SimulatorExecutor) liquidationPrice(entryPrice float64, dir strategy.Direction) float64 {
	if dir == strategy.DirLong {
		return entryPrice * (1 - 1/e.cfg.Leverage)
	}
	return entryPrice * (1 + 1/e.cfg.Leverage)
}

// GetCurrentPosition 返回当前持仓的策略层视图
func (e *SimulatorExecutor) GetCurrentPosition(ctx context.Context) (*strategy.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return &strategy.Position{
		Symbol:    e.position.Symbol,
		Direction: e.position.Side,
		Size:      e.position.Size,
		AvgPrice:  e.position.AvgPrice,
		UPL:       e.position.UPL,
		EntryTime: e.position.EntryTime,
	}, nil
}

// GetBalance 返回账户净值
func (e *SimulatorExecutor) GetBalance(ctx context.Context) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equity, nil
}

// GetMaxEquity 返回历史最高净值
func (e *SimulatorExecutor) GetMaxEquity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxEquity
}

// GetTradeHistory 返回交易记录副本
func (e *SimulatorExecutor) GetTradeHistory() []*strategy.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*strategy.TradeRecord, len(e.tradeHistory))
	copy(out, e.tradeHistory)
	return out
}
