package backtest

import (
	"fmt"
	"strings"
	"time"

	"wisp/internal/strategy"
)

// Report 汇总一次回测的绩效
type Report struct {
	Strategy string
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time

	InitialCapital float64
	FinalEquity    float64
	NetProfit      float64
	ReturnPct      float64
	MaxDrawdown    float64 // 相对最高净值的最大回撤比例

	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64
	TotalFees   float64

	Trades []*strategy.TradeRecord
}

// buildReport 由交易记录和净值曲线计算绩效指标
func buildReport(meta Report, trades []*strategy.TradeRecord, equityCurve []float64) *Report {
	r := meta
	r.Trades = trades
	r.TotalTrades = len(trades)

	for _, t := range trades {
		net := t.RealizedPnL - t.Fee
		if net >= 0 {
			r.Wins++
		} else {
			r.Losses++
		}
		r.TotalFees += t.Fee
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.TotalTrades)
	}

	r.NetProfit = r.FinalEquity - r.InitialCapital
	if r.InitialCapital > 0 {
		r.ReturnPct = r.NetProfit / r.InitialCapital
	}
	r.MaxDrawdown = maxDrawdown(equityCurve)

	return &r
}

// maxDrawdown 计算净值曲线相对历史峰值的最大回撤比例
func maxDrawdown(curve []float64) float64 {
	peak, maxDD := 0.0, 0.0
	for _, eq := range curve {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// String 输出适合终端阅读的报告
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "==== Backtest Report: %s on %s (%s) ====\n", r.Strategy, r.Symbol, r.Interval)
	fmt.Fprintf(&b, "Period:          %s ~ %s\n", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	fmt.Fprintf(&b, "Initial capital: %.2f\n", r.InitialCapital)
	fmt.Fprintf(&b, "Final equity:    %.2f\n", r.FinalEquity)
	fmt.Fprintf(&b, "Net profit:      %.2f (%.2f%%)\n", r.NetProfit, r.ReturnPct*100)
	fmt.Fprintf(&b, "Max drawdown:    %.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintf(&b, "Trades:          %d (win %d / loss %d, win rate %.1f%%)\n",
		r.TotalTrades, r.Wins, r.Losses, r.WinRate*100)
	fmt.Fprintf(&b, "Total fees:      %.4f\n", r.TotalFees)

	return b.String()
}
