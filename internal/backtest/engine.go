package backtest

import (
	"context"
	"fmt"
	"sort"

	"wisp/internal/executor"
	"wisp/internal/market"
	"wisp/internal/model"
	"wisp/internal/service"
	"wisp/internal/strategy"
	"wisp/pkg/ta"

	"go.uber.org/zap"
)

// Engine 是回测运行时：按模拟时钟把历史 K 线重放进与实时模式相同的管道
// (聚合器 → HistoryStore → 指标 → 状态机 → 策略 → 模拟执行器)
type Engine struct {
	cfg    *service.Config
	logger *zap.Logger
}

// NewEngine 创建回测引擎
func NewEngine(cfg *service.Config, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Run 执行回测并返回绩效报告
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	stratCfg := &e.cfg.Strategy
	symbol := stratCfg.Symbol

	// 1. 加载基础周期的历史数据
	candles, err := LoadCSV(e.cfg.Backtest.DataFile, symbol, stratCfg.Interval)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Backtest data loaded",
		zap.String("file", e.cfg.Backtest.DataFile),
		zap.Int("candles", len(candles)))

	intervals, err := stratCfg.IntervalDurations()
	if err != nil {
		return nil, err
	}
	baseDuration, err := service.ParseIntervalDuration(stratCfg.Interval)
	if err != nil {
		return nil, err
	}
	// 基础周期之下的序列无法由基础 K 线还原，直接剔除
	usable := intervals[:0]
	for _, d := range intervals {
		if d >= baseDuration {
			usable = append(usable, d)
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no aggregatable interval >= %s", stratCfg.Interval)
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i] < usable[j] })

	// 2. 搭建与实时模式相同的组件
	store := model.NewHistoryStore(0)
	facade := market.NewFacade(store)
	taClient := ta.NewTACalculator(ta.DefaultOptions(), e.logger)
	sizer := strategy.NewSizer(&e.cfg.Risk, e.logger)

	strat, err := strategy.NewStrategy(stratCfg.Name, sizer, e.logger)
	if err != nil {
		return nil, err
	}

	sm := strategy.NewStateMachine(taClient, symbol,
		stratCfg.AnchorInterval, stratCfg.ConfirmInterval(), e.logger)

	sim := executor.NewSimulatorExecutor(&executor.SimulatorConfig{
		InitialCapital: e.cfg.Backtest.InitialCapital,
		Leverage:       e.cfg.Backtest.Leverage,
		FeeRate:        e.cfg.Backtest.FeeRate,
	}, e.logger)

	sched := strategy.NewScheduler(strategy.SchedulerConfig{
		Strategy:       strat,
		StateMachine:   sm,
		TA:             taClient,
		Facade:         facade,
		Executor:       sim,
		Sizer:          sizer,
		Symbol:         symbol,
		Exchange:       stratCfg.Exchange,
		Interval:       stratCfg.Interval,
		AnchorInterval: stratCfg.AnchorInterval,
		Params:         stratCfg.Params,
		Logger:         e.logger,
	})

	aggregators := make([]*model.CandleAggregator, 0, len(usable))
	for _, d := range usable {
		aggregators = append(aggregators, model.NewCandleAggregator(symbol, d))
	}

	// 3. 重放：每根基础 K 线展开为 O/H/L/C 四个 Ticker
	equityCurve := make([]float64, 0, len(candles))

	for _, candle := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, tick := range expandCandle(candle) {
			// 先推给模拟执行器和门面，保证策略看到的价格不晚于成交价格
			sim.ProcessTicker(tick)
			facade.ApplyTicker(tick)

			for _, agg := range aggregators {
				if completed := agg.ProcessTicker(tick); completed != nil {
					store.Append(*completed)
					if err := sched.Step(ctx, *completed); err != nil {
						e.logger.Error("Backtest step failed", zap.Error(err))
					}
				}
			}
		}

		equity, _ := sim.GetBalance(ctx)
		equityCurve = append(equityCurve, equity)
	}

	// 4. 数据耗尽后冲刷各周期仍在构建的 bar，让策略看到每个序列的最后一根 K 线
	for _, agg := range aggregators {
		if c, ok := agg.Flush(); ok {
			store.Append(c)
			if err := sched.Step(ctx, c); err != nil {
				e.logger.Error("Backtest step failed", zap.Error(err))
			}
		}
	}

	// 5. 回测结束时平掉剩余仓位，把浮动盈亏变为已实现
	if pos, err := sim.GetCurrentPosition(ctx); err == nil && pos.Direction != strategy.DirFlat {
		lastCandle := candles[len(candles)-1]
		closeSignal := strategy.Signal{
			Symbol:    symbol,
			Exchange:  stratCfg.Exchange,
			Timestamp: lastCandle.EndTime,
			Action:    strategy.ActionClose,
			Direction: strategy.DirFlat,
			Reason:    "end of backtest",
		}
		if err := sim.ExecuteSignal(ctx, closeSignal); err != nil {
			e.logger.Warn("Failed to close final position", zap.Error(err))
		}
	}

	finalEquity, _ := sim.GetBalance(ctx)
	equityCurve = append(equityCurve, finalEquity)

	meta := Report{
		Strategy:       stratCfg.Name,
		Symbol:         symbol,
		Interval:       stratCfg.Interval,
		Start:          candles[0].StartTime,
		End:            candles[len(candles)-1].EndTime,
		InitialCapital: e.cfg.Backtest.InitialCapital,
		FinalEquity:    finalEquity,
	}

	return buildReport(meta, sim.GetTradeHistory(), equityCurve), nil
}

// expandCandle 把一根 K 线展开为按时间排列的四个 Ticker (O→H→L→C，看涨时 L→H)
// 成交量全部记在收盘 Ticker 上，避免重复计量
func expandCandle(c model.Candle) []model.Ticker {
	start := c.StartTime.UnixMilli()
	end := c.EndTime.UnixMilli()
	quarter := (end - start) / 4

	first, second := c.High, c.Low
	if c.Close >= c.Open {
		// 看涨 K 线假设先探底再冲高
		first, second = c.Low, c.High
	}

	return []model.Ticker{
		{Symbol: c.Symbol, Timestamp: start, Price: c.Open},
		{Symbol: c.Symbol, Timestamp: start + quarter, Price: first},
		{Symbol: c.Symbol, Timestamp: start + 2*quarter, Price: second},
		{Symbol: c.Symbol, Timestamp: end, Price: c.Close, Volume: c.Volume},
	}
}
