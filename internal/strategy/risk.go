package strategy

import (
	"errors"
	"math"
	"sync"

	"wisp/internal/service"

	"go.uber.org/zap"
)

// ErrInvalidPlan 表示风控无法给出有效的仓位方案
var ErrInvalidPlan = errors.New("risk: invalid trade plan")

// TradePlan 是风控计算出的一笔交易的仓位方案
type TradePlan struct {
	Quantity        float64
	StopLossPrice   float64
	TakeProfitPrice float64
	RiskedUSD       float64
}

// Sizer 负责仓位计算和基于绩效的仓位自适应
// 仓位数量 = 单笔最大风险 / 止损距离，再乘以自适应缩放因子
type Sizer struct {
	mu     sync.Mutex
	cfg    *service.RiskConfig
	scale  float64
	logger *zap.Logger
}

// NewSizer 初始化风控计算器
func NewSizer(cfg *service.RiskConfig, logger *zap.Logger) *Sizer {
	scale := cfg.PositionScaleFactor
	if scale <= 0 {
		scale = 1.0
	}
	scale = math.Max(MinScaleFactor, math.Min(MaxScaleFactor, scale))

	return &Sizer{
		cfg:    cfg,
		scale:  scale,
		logger: logger,
	}
}

// Plan 计算止损/止盈价格和仓位数量
// atrFactor 允许在不同状态下调整止损距离 (例如趋势追踪用 1.5，震荡用 0.7)
func (s *Sizer) Plan(dir Direction, entryPrice, atr float64, atrFactor ...float64) (TradePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	factor := s.cfg.StopLossATRMultiplier
	if len(atrFactor) > 0 {
		factor = atrFactor[0]
	}
	if factor <= 0 {
		factor = 1.5
	}

	// 1. 计算止损价格
	slDistance := atr * factor

	var stopLossPrice float64
	if dir == DirLong {
		stopLossPrice = entryPrice - slDistance
	} else {
		stopLossPrice = entryPrice + slDistance
	}

	if stopLossPrice <= 0 || slDistance <= 0 {
		s.logger.Error("Calculated stop loss is invalid", zap.Float64("ATR", atr), zap.Float64("entry", entryPrice))
		return TradePlan{}, ErrInvalidPlan
	}

	// 2. 计算本次交易的最大风险金额
	maxRisk := s.cfg.MaxTotalCapital * s.cfg.MaxPerTradeRisk

	// 3. 计算仓位数量并应用自适应缩放因子
	// (杠杆只影响保证金，不影响止损距离和仓位风险计算)
	quantity := maxRisk / slDistance * s.scale

	// 4. 仓位边界
	if s.cfg.MaxPositionSize > 0 && quantity > s.cfg.MaxPositionSize {
		quantity = s.cfg.MaxPositionSize
	}
	if quantity < s.cfg.MinPositionSize {
		return TradePlan{}, ErrInvalidPlan
	}

	// 5. 计算止盈价格 (固定风险回报比)
	rr := s.cfg.RiskRewardRatio
	if rr <= 0 {
		rr = 1.5
	}
	tpDistance := slDistance * rr

	var takeProfitPrice float64
	if dir == DirLong {
		takeProfitPrice = entryPrice + tpDistance
	} else {
		takeProfitPrice = entryPrice - tpDistance
	}

	return TradePlan{
		Quantity:        quantity,
		StopLossPrice:   stopLossPrice,
		TakeProfitPrice: takeProfitPrice,
		RiskedUSD:       maxRisk * s.scale,
	}, nil
}

// ScaleFactor 返回当前的仓位缩放因子
func (s *Sizer) ScaleFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale
}

// LookbackTrades 自适应只统计最近的交易笔数
const LookbackTrades = 10

// Adapt 根据历史绩效动态调整缩放因子
// 优先级：回撤熔断 > 连续亏损收缩 > 稳定盈利缓慢加仓
func (s *Sizer) Adapt(records []*TradeRecord, currentEquity, maxEquity float64) {
	if len(records) < LookbackTrades || maxEquity <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lossStreak := maxRecentLossStreak(records)
	drawdown := (maxEquity - currentEquity) / maxEquity

	switch {
	case drawdown >= MaxAllowedDrawdown:
		// 发生严重回撤，紧急收缩仓位以保护本金
		s.scale = MinScaleFactor
		s.logger.Warn("ADAPT: emergency drawdown, scale factor set to minimum",
			zap.Float64("drawdown", drawdown), zap.Float64("scale", s.scale))

	case lossStreak >= LossStreakThreshold:
		// 策略短期适应不良，收缩仓位等待市场风格切换
		s.scale *= 0.85
		if s.scale < MinScaleFactor {
			s.scale = MinScaleFactor
		}
		s.logger.Warn("ADAPT: loss streak detected, scale factor reduced",
			zap.Int("streak", lossStreak), zap.Float64("scale", s.scale))

	case lossStreak == 0 && drawdown < MaxAllowedDrawdown/2 && s.scale < MaxScaleFactor:
		// 连续盈利且回撤小，缓慢增加风险敞口
		s.scale *= 1.05
		if s.scale > MaxScaleFactor {
			s.scale = MaxScaleFactor
		}
		s.logger.Info("ADAPT: strong performance, scale factor increased",
			zap.Float64("scale", s.scale))
	}

	s.scale = math.Max(MinScaleFactor, math.Min(MaxScaleFactor, s.scale))
}

// maxRecentLossStreak 计算最近交易中的最大连续亏损次数
// records 按时间升序，只看最近 LookbackTrades 笔
func maxRecentLossStreak(records []*TradeRecord) int {
	start := len(records) - LookbackTrades
	if start < 0 {
		start = 0
	}

	maxStreak, streak := 0, 0
	for _, r := range records[start:] {
		// 净盈亏 = 已实现盈亏 - 手续费
		if r.RealizedPnL-r.Fee < 0 {
			streak++
			if streak > maxStreak {
				maxStreak = streak
			}
		} else {
			streak = 0
		}
	}
	return maxStreak
}
