package backtest

import (
	"testing"
	"time"

	"wisp/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxDrawdown(t *testing.T) {
	cases := []struct {
		name  string
		curve []float64
		want  float64
	}{
		{"empty", nil, 0},
		{"monotonic up", []float64{100, 110, 120}, 0},
		{"single dip", []float64{100, 80, 120}, 0.2},
		{"drawdown after peak", []float64{100, 200, 150, 180}, 0.25},
		{"full loss", []float64{100, 0}, 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.InDelta(t, c.want, maxDrawdown(c.curve), 1e-9)
		})
	}
}

func TestBuildReport(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []*strategy.TradeRecord{
		{RealizedPnL: 100, Fee: 5},
		{RealizedPnL: -50, Fee: 5},
		{RealizedPnL: 4, Fee: 5}, // 净亏：毛利不够手续费
		{RealizedPnL: 30, Fee: 5},
	}
	curve := []float64{10000, 10100, 10050, 10079}

	meta := Report{
		Strategy:       "trend",
		Symbol:         "BTC-USDT-SWAP",
		Interval:       "5m",
		Start:          start,
		End:            start.Add(24 * time.Hour),
		InitialCapital: 10000,
		FinalEquity:    10079,
	}

	r := buildReport(meta, trades, curve)

	assert.Equal(t, 4, r.TotalTrades)
	assert.Equal(t, 2, r.Wins)
	assert.Equal(t, 2, r.Losses)
	assert.InDelta(t, 0.5, r.WinRate, 1e-9)
	assert.InDelta(t, 20.0, r.TotalFees, 1e-9)
	assert.InDelta(t, 79.0, r.NetProfit, 1e-9)
	assert.InDelta(t, 0.0079, r.ReturnPct, 1e-9)
	assert.InDelta(t, 50.0/10100.0, r.MaxDrawdown, 1e-9)
	require.Len(t, r.Trades, 4)
}

func TestBuildReportNoTrades(t *testing.T) {
	meta := Report{InitialCapital: 10000, FinalEquity: 10000}
	r := buildReport(meta, nil, []float64{10000, 10000})

	assert.Equal(t, 0, r.TotalTrades)
	assert.Equal(t, 0.0, r.WinRate)
	assert.Equal(t, 0.0, r.NetProfit)
}

func TestReportString(t *testing.T) {
	meta := Report{
		Strategy:       "trend",
		Symbol:         "BTC-USDT-SWAP",
		Interval:       "5m",
		Start:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		InitialCapital: 10000,
		FinalEquity:    10500,
	}
	r := buildReport(meta, []*strategy.TradeRecord{{RealizedPnL: 500, Fee: 2}}, []float64{10000, 10500})

	out := r.String()
	assert.Contains(t, out, "trend")
	assert.Contains(t, out, "BTC-USDT-SWAP")
	assert.Contains(t, out, "Final equity:    10500.00")
	assert.Contains(t, out, "win rate 100.0%")
}
