package executor

import (
	"context"
	"testing"
	"time"

	"wisp/internal/model"
	"wisp/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSimulator() *SimulatorExecutor {
	return NewSimulatorExecutor(&SimulatorConfig{
		InitialCapital: 10000,
		Leverage:       10,
		FeeRate:        0.001,
	}, zap.NewNop())
}

func pushPrice(e *SimulatorExecutor, price float64, ts time.Time) {
	e.ProcessTicker(model.Ticker{
		Symbol:    "BTC-USDT-SWAP",
		Timestamp: ts.UnixMilli(),
		Price:     price,
	})
}

func openLong(t *testing.T, e *SimulatorExecutor, qty, sl, tp float64) {
	t.Helper()
	err := e.ExecuteSignal(context.Background(), strategy.Signal{
		Symbol:          "BTC-USDT-SWAP",
		Action:          strategy.ActionOpen,
		Direction:       strategy.DirLong,
		Quantity:        qty,
		StopLossPrice:   sl,
		TakeProfitPrice: tp,
	})
	require.NoError(t, err)
}

func TestSimulatorRejectsOrderWithoutPrice(t *testing.T) {
	e := newTestSimulator()

	err := e.ExecuteSignal(context.Background(), strategy.Signal{
		Action:    strategy.ActionOpen,
		Direction: strategy.DirLong,
		Quantity:  1,
	})
	assert.Error(t, err)
}

func TestSimulatorOpenAndCloseLong(t *testing.T) {
	e := newTestSimulator()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pushPrice(e, 1000, now)
	openLong(t, e, 1, 900, 1100)

	pos, err := e.GetCurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, strategy.DirLong, pos.Direction)
	assert.Equal(t, 1.0, pos.Size)
	assert.Equal(t, 1000.0, pos.AvgPrice)

	// 开仓手续费 1000*0.001=1，净值 = 10000 - 1
	equity, err := e.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9999, equity, 1e-9)

	// 价格上涨 50，信号平仓
	pushPrice(e, 1050, now.Add(time.Minute))
	err = e.ExecuteSignal(ctx, strategy.Signal{Action: strategy.ActionClose})
	require.NoError(t, err)

	pos, err = e.GetCurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, strategy.DirFlat, pos.Direction)

	// 净值 = 10000 + 50 盈利 - 开仓费 1 - 平仓费 1.05
	equity, err = e.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000+50-1-1.05, equity, 1e-9)

	trades := e.GetTradeHistory()
	require.Len(t, trades, 1)
	assert.Equal(t, "Signal", trades[0].TriggerReason)
	assert.InDelta(t, 50, trades[0].RealizedPnL, 1e-9)
	assert.InDelta(t, 1+1.05, trades[0].Fee, 1e-9)
}

func TestSimulatorRejectsDoubleOpen(t *testing.T) {
	e := newTestSimulator()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pushPrice(e, 1000, now)
	openLong(t, e, 1, 900, 1100)
	// 已持仓时 OPEN 被拒绝但不算错误
	openLong(t, e, 1, 900, 1100)

	pos, _ := e.GetCurrentPosition(context.Background())
	assert.Equal(t, 1.0, pos.Size)
	assert.Empty(t, e.GetTradeHistory())
}

func TestSimulatorRejectsInsufficientMargin(t *testing.T) {
	e := NewSimulatorExecutor(&SimulatorConfig{
		InitialCapital: 100,
		Leverage:       1,
		FeeRate:        0.001,
	}, zap.NewNop())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pushPrice(e, 1000, now)
	err := e.ExecuteSignal(context.Background(), strategy.Signal{
		Action:    strategy.ActionOpen,
		Direction: strategy.DirLong,
		Quantity:  1, // 需要 1000 保证金，只有 100
	})
	assert.Error(t, err)
}

func TestSimulatorStopLossSweep(t *testing.T) {
	e := newTestSimulator()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pushPrice(e, 1000, now)
	openLong(t, e, 1, 950, 1100)

	// 价格击穿止损，按止损价成交
	pushPrice(e, 940, now.Add(time.Minute))

	trades := e.GetTradeHistory()
	require.Len(t, trades, 1)
	assert.Equal(t, "SL", trades[0].TriggerReason)
	assert.Equal(t, 950.0, trades[0].ExitPrice)
	assert.InDelta(t, -50, trades[0].RealizedPnL, 1e-9)
}

func TestSimulatorTakeProfitSweep(t *testing.T) {
	e := newTestSimulator()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pushPrice(e, 1000, now)
	openLong(t, e, 1, 950, 1100)

	pushPrice(e, 1120, now.Add(time.Minute))

	trades := e.GetTradeHistory()
	require.Len(t, trades, 1)
	assert.Equal(t, "TP", trades[0].TriggerReason)
	assert.Equal(t, 1100.0, trades[0].ExitPrice)
	assert.InDelta(t, 100, trades[0].RealizedPnL, 1e-9)
}

func TestSimulatorLiquidation(t *testing.T) {
	e := newTestSimulator() // 10x → 强平价 = 1000*(1-0.1) = 900
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pushPrice(e, 1000, now)
	openLong(t, e, 1, 0, 0) // 不设止损

	pushPrice(e, 880, now.Add(time.Minute))

	trades := e.GetTradeHistory()
	require.Len(t, trades, 1)
	assert.Equal(t, "Liquidation", trades[0].TriggerReason)
	assert.Equal(t, 900.0, trades[0].ExitPrice)
}

func TestSimulatorShortStopLoss(t *testing.T) {
	e := newTestSimulator()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pushPrice(e, 1000, now)
	err := e.ExecuteSignal(ctx, strategy.Signal{
		Symbol:        "BTC-USDT-SWAP",
		Action:        strategy.ActionOpen,
		Direction:     strategy.DirShort,
		Quantity:      1,
		StopLossPrice: 1050,
	})
	require.NoError(t, err)

	// 空头在价格上涨时止损
	pushPrice(e, 1060, now.Add(time.Minute))

	trades := e.GetTradeHistory()
	require.Len(t, trades, 1)
	assert.Equal(t, "SL", trades[0].TriggerReason)
	assert.Equal(t, strategy.DirShort, trades[0].PosSide)
	assert.InDelta(t, -50, trades[0].RealizedPnL, 1e-9)
}

func TestSimulatorUpdateStops(t *testing.T) {
	e := newTestSimulator()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pushPrice(e, 1000, now)
	openLong(t, e, 1, 950, 1100)

	// 移动止损到 990
	err := e.ExecuteSignal(ctx, strategy.Signal{
		Action:        strategy.ActionUpdate,
		StopLossPrice: 990,
	})
	require.NoError(t, err)

	pushPrice(e, 985, now.Add(time.Minute))

	trades := e.GetTradeHistory()
	require.Len(t, trades, 1)
	assert.Equal(t, 990.0, trades[0].ExitPrice)
}

func TestSimulatorEquityTracksUPL(t *testing.T) {
	e := newTestSimulator()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pushPrice(e, 1000, now)
	openLong(t, e, 1, 0, 0)

	pushPrice(e, 1080, now.Add(time.Minute))

	// 净值 = 初始资金 - 开仓费 + 浮动盈亏
	equity, err := e.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000-1+80, equity, 1e-9)
	assert.InDelta(t, 10000-1+80, e.GetMaxEquity(), 1e-9)

	// 回落后 maxEquity 保持峰值
	pushPrice(e, 1020, now.Add(2*time.Minute))
	equity, _ = e.GetBalance(ctx)
	assert.InDelta(t, 10000-1+20, equity, 1e-9)
	assert.InDelta(t, 10000-1+80, e.GetMaxEquity(), 1e-9)
}

func TestSimulatorCloseWhenFlatIsNoop(t *testing.T) {
	e := newTestSimulator()
	pushPrice(e, 1000, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	err := e.ExecuteSignal(context.Background(), strategy.Signal{Action: strategy.ActionClose})
	assert.NoError(t, err)
	assert.Empty(t, e.GetTradeHistory())
}
