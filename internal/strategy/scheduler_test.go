package strategy

import (
	"context"
	"testing"
	"time"

	"wisp/internal/market"
	"wisp/internal/model"
	"wisp/pkg/ta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingStrategy 记录每次回调并无条件发出一条买入指令
type recordingStrategy struct {
	calls  int
	states []MarketState
}

func (r *recordingStrategy) Name() string    { return "recording" }
func (r *recordingStrategy) WarmupBars() int { return 1 }

func (r *recordingStrategy) OnCandle(ctx context.Context, env *Env, b *SignalBuilder) error {
	r.calls++
	r.states = append(r.states, env.State)
	b.Buy(1).Because("test")
	return nil
}

// recordingExecutor 记录路由到执行层的信号
type recordingExecutor struct {
	executed []Signal
	trades   []*TradeRecord
	equity   float64
	maxEq    float64
}

func (r *recordingExecutor) ExecuteSignal(ctx context.Context, signal Signal) error {
	r.executed = append(r.executed, signal)
	return nil
}

func (r *recordingExecutor) GetCurrentPosition(ctx context.Context) (*Position, error) {
	return &Position{Direction: DirFlat}, nil
}

func (r *recordingExecutor) GetBalance(ctx context.Context) (float64, error) {
	return r.equity, nil
}

func (r *recordingExecutor) GetMaxEquity() float64 { return r.maxEq }

func (r *recordingExecutor) GetTradeHistory() []*TradeRecord { return r.trades }

func schedCandle(i int, interval string, d time.Duration, close float64) model.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * d)
	return model.Candle{
		Symbol:    "BTC-USDT-SWAP",
		Interval:  interval,
		Open:      close - 0.5,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    10,
		StartTime: start,
		EndTime:   start.Add(d - time.Millisecond),
	}
}

func newTestScheduler(strat Strategy, exec Executor) (*Scheduler, *model.HistoryStore, *ta.TACalculator) {
	logger := zap.NewNop()
	store := model.NewHistoryStore(0)
	facade := market.NewFacade(store)
	taClient := ta.NewTACalculator(ta.DefaultOptions(), logger)
	sizer := NewSizer(testRiskConfig(), logger)
	sm := NewStateMachine(taClient, "BTC-USDT-SWAP", "1h", "", logger)

	sched := NewScheduler(SchedulerConfig{
		Strategy:       strat,
		StateMachine:   sm,
		TA:             taClient,
		Facade:         facade,
		Executor:       exec,
		Sizer:          sizer,
		Symbol:         "BTC-USDT-SWAP",
		Exchange:       "okx",
		Interval:       "5m",
		AnchorInterval: "1h",
		Logger:         logger,
	})
	return sched, store, taClient
}

func TestSchedulerWaitsForWarmup(t *testing.T) {
	strat := &recordingStrategy{}
	exec := &recordingExecutor{equity: 10000, maxEq: 10000}
	sched, store, taClient := newTestScheduler(strat, exec)

	ctx := context.Background()
	warmup := taClient.WarmupBars()

	for i := 0; i < warmup-1; i++ {
		c := schedCandle(i, "5m", 5*time.Minute, 100+float64(i))
		store.Append(c)
		require.NoError(t, sched.Step(ctx, c))
	}

	// 指标未就绪前不触发回调
	assert.Equal(t, 0, strat.calls)

	c := schedCandle(warmup-1, "5m", 5*time.Minute, 100+float64(warmup-1))
	store.Append(c)
	require.NoError(t, sched.Step(ctx, c))

	assert.Equal(t, 1, strat.calls)
}

func TestSchedulerFiltersSymbolAndInterval(t *testing.T) {
	strat := &recordingStrategy{}
	exec := &recordingExecutor{equity: 10000, maxEq: 10000}
	sched, store, taClient := newTestScheduler(strat, exec)

	ctx := context.Background()
	for i := 0; i < taClient.WarmupBars(); i++ {
		c := schedCandle(i, "5m", 5*time.Minute, 100+float64(i))
		store.Append(c)
		require.NoError(t, sched.Step(ctx, c))
	}
	require.Equal(t, 1, strat.calls)

	// 其他交易对的 K 线被忽略
	other := schedCandle(0, "5m", 5*time.Minute, 50)
	other.Symbol = "ETH-USDT-SWAP"
	require.NoError(t, sched.Step(ctx, other))
	assert.Equal(t, 1, strat.calls)

	// 非驱动周期的 K 线更新指标但不触发回调
	m1 := schedCandle(0, "1m", time.Minute, 100)
	require.NoError(t, sched.Step(ctx, m1))
	assert.Equal(t, 1, strat.calls)
}

func TestSchedulerRoutesSignalsToExecutor(t *testing.T) {
	strat := &recordingStrategy{}
	exec := &recordingExecutor{equity: 10000, maxEq: 10000}
	sched, store, taClient := newTestScheduler(strat, exec)

	ctx := context.Background()
	var last model.Candle
	for i := 0; i < taClient.WarmupBars(); i++ {
		last = schedCandle(i, "5m", 5*time.Minute, 100+float64(i))
		store.Append(last)
		require.NoError(t, sched.Step(ctx, last))
	}

	require.Len(t, exec.executed, 1)
	sig := exec.executed[0]
	assert.Equal(t, ActionOpen, sig.Action)
	assert.Equal(t, DirLong, sig.Direction)
	assert.Equal(t, "BTC-USDT-SWAP", sig.Symbol)
	assert.Equal(t, "okx", sig.Exchange)
	// 信号时间戳来自 K 线收盘时间
	assert.Equal(t, last.EndTime, sig.Timestamp)
}

func TestSchedulerAdaptsOnAnchorCandle(t *testing.T) {
	strat := &recordingStrategy{}
	exec := &recordingExecutor{equity: 8000, maxEq: 10000}
	for i := 0; i < LookbackTrades; i++ {
		exec.trades = append(exec.trades, &TradeRecord{RealizedPnL: -10})
	}
	sched, _, _ := newTestScheduler(strat, exec)

	scaleBefore := sched.sizer.ScaleFactor()
	require.Equal(t, 1.0, scaleBefore)

	// 宏观周期收盘触发自适应，回撤 20% 触发熔断
	anchor := schedCandle(0, "1h", time.Hour, 100)
	require.NoError(t, sched.Step(context.Background(), anchor))

	assert.Equal(t, MinScaleFactor, sched.sizer.ScaleFactor())
}

func TestSchedulerRunStopsOnChannelClose(t *testing.T) {
	strat := &recordingStrategy{}
	exec := &recordingExecutor{equity: 10000, maxEq: 10000}
	sched, _, _ := newTestScheduler(strat, exec)

	candles := make(chan model.Candle)
	close(candles)

	err := sched.Run(context.Background(), candles)
	assert.NoError(t, err)
}

func TestSchedulerRunStopsOnContextCancel(t *testing.T) {
	strat := &recordingStrategy{}
	exec := &recordingExecutor{equity: 10000, maxEq: 10000}
	sched, _, _ := newTestScheduler(strat, exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sched.Run(ctx, make(chan model.Candle))
	assert.ErrorIs(t, err, context.Canceled)
}
