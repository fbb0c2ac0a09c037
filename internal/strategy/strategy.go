package strategy

import (
	"context"
	"fmt"

	"wisp/internal/market"
	"wisp/pkg/ta"

	"go.uber.org/zap"
)

// Env 是一次策略回调可见的全部环境
type Env struct {
	Market   *market.Facade
	TA       *ta.TACalculator
	State    MarketState
	Position *Position
	Symbol   string
	Exchange string
	Interval string // 策略驱动周期
	Params   map[string]float64
}

// Param 读取策略参数，缺失时返回默认值
func (e *Env) Param(key string, def float64) float64 {
	if v, ok := e.Params[key]; ok {
		return v
	}
	return def
}

// Strategy 是用户策略的统一接口
// OnCandle 在驱动周期的每根已完成 K 线上被调度器调用一次，
// 通过 SignalBuilder 累积本次回调要发出的全部指令
type Strategy interface {
	Name() string
	// WarmupBars 返回策略需要的最小历史 K 线数量，未满足前不会被调用
	WarmupBars() int
	OnCandle(ctx context.Context, env *Env, b *SignalBuilder) error
}

// NewStrategy 按名称构建内置策略
func NewStrategy(name string, sizer *Sizer, logger *zap.Logger) (Strategy, error) {
	switch name {
	case "trend":
		return NewTrend(sizer, logger), nil
	case "meanrevert":
		return NewMeanRevert(sizer, logger), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %q", name)
	}
}

// Trend 趋势追踪策略：强趋势状态下顺势追入均线突破
type Trend struct {
	sizer  *Sizer
	logger *zap.Logger
}

func NewTrend(sizer *Sizer, logger *zap.Logger) *Trend {
	return &Trend{sizer: sizer, logger: logger}
}

func (t *Trend) Name() string { return "trend" }

func (t *Trend) WarmupBars() int { return 40 }

func (t *Trend) OnCandle(ctx context.Context, env *Env, b *SignalBuilder) error {
	snap, err := env.TA.Snapshot(env.Symbol, env.Interval)
	if err != nil {
		return err
	}

	// 持仓中：状态反转或价格跌破均线时离场
	if env.Position != nil && env.Position.Direction != DirFlat {
		if t.shouldExit(env.Position.Direction, env.State, snap) {
			b.Close().Because("trend exhausted: state flip or MA cross against position")
		}
		return nil
	}

	// 空仓：只在强趋势状态下开仓
	switch env.State {
	case StateStrongUpTrend:
		if snap.Close > snap.SMA {
			plan, err := t.sizer.Plan(DirLong, snap.Close, snap.ATR)
			if err != nil {
				return nil // 仓位过小或止损无效，本轮放弃
			}
			b.Buy(plan.Quantity).
				AtPrice(snap.Close).
				WithStopLoss(plan.StopLossPrice).
				WithTakeProfit(plan.TakeProfitPrice).
				WithRisk(plan.RiskedUSD).
				Because("strong up trend: MA breakout confirmation")
		}
	case StateStrongDownTrend:
		if snap.Close < snap.SMA {
			plan, err := t.sizer.Plan(DirShort, snap.Close, snap.ATR)
			if err != nil {
				return nil
			}
			b.Sell(plan.Quantity).
				AtPrice(snap.Close).
				WithStopLoss(plan.StopLossPrice).
				WithTakeProfit(plan.TakeProfitPrice).
				WithRisk(plan.RiskedUSD).
				Because("strong down trend: MA breakout confirmation")
		}
	}

	return nil
}

func (t *Trend) shouldExit(dir Direction, state MarketState, snap ta.Snapshot) bool {
	if dir == DirLong {
		return state == StateStrongDownTrend || snap.Close < snap.SMA
	}
	return state == StateStrongUpTrend || snap.Close > snap.SMA
}

// MeanRevert 均值回归策略：震荡状态下做布林带边界的回归
type MeanRevert struct {
	sizer  *Sizer
	logger *zap.Logger
}

func NewMeanRevert(sizer *Sizer, logger *zap.Logger) *MeanRevert {
	return &MeanRevert{sizer: sizer, logger: logger}
}

func (m *MeanRevert) Name() string { return "meanrevert" }

func (m *MeanRevert) WarmupBars() int { return 40 }

func (m *MeanRevert) OnCandle(ctx context.Context, env *Env, b *SignalBuilder) error {
	snap, err := env.TA.Snapshot(env.Symbol, env.Interval)
	if err != nil {
		return err
	}

	// 持仓中：价格回到中轨即离场
	if env.Position != nil && env.Position.Direction != DirFlat {
		if m.reachedMiddle(env.Position.Direction, snap) {
			b.Close().Because("mean reversion complete: price back at middle band")
		}
		return nil
	}

	// 强趋势状态下不做回归，避免逆势
	if env.State == StateStrongUpTrend || env.State == StateStrongDownTrend {
		return nil
	}

	// 震荡状态使用更紧的止损距离
	atrFactor := env.Param("atr_factor", 0.7)
	rsiGate := env.Param("rsi_gate", 50)

	if snap.Close < snap.BBandsDn && snap.RSI < rsiGate {
		plan, err := m.sizer.Plan(DirLong, snap.Close, snap.ATR, atrFactor)
		if err != nil {
			return nil
		}
		b.Buy(plan.Quantity).
			AtPrice(snap.Close).
			WithStopLoss(plan.StopLossPrice).
			WithTakeProfit(plan.TakeProfitPrice).
			WithRisk(plan.RiskedUSD).
			Because("ranging: lower band bounce")
	} else if snap.Close > snap.BBandsUp && snap.RSI > 100-rsiGate {
		plan, err := m.sizer.Plan(DirShort, snap.Close, snap.ATR, atrFactor)
		if err != nil {
			return nil
		}
		b.Sell(plan.Quantity).
			AtPrice(snap.Close).
			WithStopLoss(plan.StopLossPrice).
			WithTakeProfit(plan.TakeProfitPrice).
			WithRisk(plan.RiskedUSD).
			Because("ranging: upper band rejection")
	}

	return nil
}

func (m *MeanRevert) reachedMiddle(dir Direction, snap ta.Snapshot) bool {
	if dir == DirLong {
		return snap.Close >= snap.BBandsMid
	}
	return snap.Close <= snap.BBandsMid
}
