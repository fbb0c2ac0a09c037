package model

import (
	"os"
	"testing"
	"time"

	"wisp/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	service.Logger = zap.NewNop()
	os.Exit(m.Run())
}

func tickAt(ts time.Time, price, volume float64) Ticker {
	return Ticker{
		Symbol:    "BTC-USDT-SWAP",
		Timestamp: ts.UnixMilli(),
		Price:     price,
		Volume:    volume,
	}
}

func TestCandleAggregatorBuildsOHLCV(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT-SWAP", time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, agg.ProcessTicker(tickAt(base.Add(1*time.Second), 100, 1)))
	assert.Nil(t, agg.ProcessTicker(tickAt(base.Add(20*time.Second), 105, 2)))
	assert.Nil(t, agg.ProcessTicker(tickAt(base.Add(40*time.Second), 98, 3)))
	assert.Nil(t, agg.ProcessTicker(tickAt(base.Add(59*time.Second), 102, 4)))

	current, started := agg.Current()
	require.True(t, started)
	assert.Equal(t, 100.0, current.Open)
	assert.Equal(t, 105.0, current.High)
	assert.Equal(t, 98.0, current.Low)
	assert.Equal(t, 102.0, current.Close)
	assert.Equal(t, 10.0, current.Volume)
	assert.Equal(t, base, current.StartTime)
}

func TestCandleAggregatorFlushOnBoundary(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT-SWAP", time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	agg.ProcessTicker(tickAt(base.Add(time.Second), 100, 1))
	agg.ProcessTicker(tickAt(base.Add(30*time.Second), 110, 2))

	// 跨过分钟边界，上一根 bar 完成
	completed := agg.ProcessTicker(tickAt(base.Add(61*time.Second), 111, 5))
	require.NotNil(t, completed)
	assert.Equal(t, "1m", completed.Interval)
	assert.Equal(t, 100.0, completed.Open)
	assert.Equal(t, 110.0, completed.High)
	assert.Equal(t, 110.0, completed.Close)
	assert.Equal(t, 3.0, completed.Volume)
	assert.Equal(t, base, completed.StartTime)
	assert.Equal(t, base.Add(time.Minute-time.Millisecond), completed.EndTime)

	// 新 bar 开盘价取上一根的收盘价
	current, _ := agg.Current()
	assert.Equal(t, 110.0, current.Open)
	assert.Equal(t, 111.0, current.Close)
	assert.Equal(t, 5.0, current.Volume)
	assert.Equal(t, base.Add(time.Minute), current.StartTime)
}

func TestCandleAggregatorIgnoresLateTicker(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT-SWAP", time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	agg.ProcessTicker(tickAt(base.Add(time.Second), 100, 1))
	agg.ProcessTicker(tickAt(base.Add(70*time.Second), 105, 1))

	// 属于上一分钟的迟到 Ticker 不能影响当前 bar
	late := agg.ProcessTicker(tickAt(base.Add(30*time.Second), 999, 1))
	assert.Nil(t, late)

	current, _ := agg.Current()
	assert.Equal(t, 105.0, current.Close)
	assert.Equal(t, base.Add(time.Minute), current.StartTime)
}

func TestCandleAggregatorSkipsGapPeriods(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT-SWAP", time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	agg.ProcessTicker(tickAt(base, 100, 1))

	// 中间两分钟没有任何成交，直接跳到第三分钟
	completed := agg.ProcessTicker(tickAt(base.Add(3*time.Minute), 120, 1))
	require.NotNil(t, completed)
	assert.Equal(t, base, completed.StartTime)

	current, _ := agg.Current()
	assert.Equal(t, base.Add(3*time.Minute), current.StartTime)
	assert.Equal(t, 100.0, current.Open) // 开盘价延续上一根收盘价
}

func TestCandleAggregatorFlush(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT-SWAP", time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok := agg.Flush()
	assert.False(t, ok)

	agg.ProcessTicker(tickAt(base.Add(time.Second), 100, 1))
	agg.ProcessTicker(tickAt(base.Add(30*time.Second), 104, 2))

	flushed, ok := agg.Flush()
	require.True(t, ok)
	assert.Equal(t, 100.0, flushed.Open)
	assert.Equal(t, 104.0, flushed.Close)
	assert.Equal(t, 3.0, flushed.Volume)
	assert.Equal(t, base, flushed.StartTime)

	// 重复冲刷没有新数据
	_, ok = agg.Flush()
	assert.False(t, ok)
}

func TestDataEnginePipeline(t *testing.T) {
	tickerChan := make(chan Ticker, 16)
	store := NewHistoryStore(0)
	de := NewDataEngine(tickerChan, "BTC-USDT-SWAP", []time.Duration{time.Minute}, store)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tickerChan <- tickAt(base.Add(time.Second), 100, 1)
	// 其他交易对的数据必须被过滤
	tickerChan <- Ticker{Symbol: "ETH-USDT-SWAP", Timestamp: base.Add(2 * time.Second).UnixMilli(), Price: 1}
	tickerChan <- tickAt(base.Add(30*time.Second), 104, 1)
	tickerChan <- tickAt(base.Add(61*time.Second), 105, 1)
	close(tickerChan)

	de.Start() // 通道关闭后同步返回

	var candles []Candle
	for c := range de.GetCandleChannel() {
		candles = append(candles, c)
	}
	// 跨边界完成的第一根 + 流结束时冲刷出的第二根
	require.Len(t, candles, 2)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 104.0, candles[0].Close)
	assert.Equal(t, 104.0, candles[1].Open)
	assert.Equal(t, 105.0, candles[1].Close)

	// 两根 K 线都写入了 HistoryStore
	latest, err := store.Latest("BTC-USDT-SWAP", "1m")
	require.NoError(t, err)
	assert.Equal(t, candles[1], latest)

	// 广播通道只包含本 symbol 的 Ticker，且在引擎退出后已关闭
	count := 0
	for range de.GetBroadcasterTickerChannel() {
		count++
	}
	assert.Equal(t, 3, count)
}
