package market

import (
	"context"
	"testing"
	"time"

	"wisp/internal/model"
	"wisp/pkg/ta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadePriceLifecycle(t *testing.T) {
	f := NewFacade(model.NewHistoryStore(0))

	_, err := f.CurrentPrice("BTC-USDT-SWAP")
	assert.ErrorIs(t, err, ErrNotAvailable)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.ApplyTicker(model.Ticker{Symbol: "BTC-USDT-SWAP", Timestamp: ts.UnixMilli(), Price: 42000})

	price, err := f.CurrentPrice("BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, 42000.0, price)

	pt, err := f.PriceTime("BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, ts, pt)

	// 其他交易对不受影响
	_, err = f.CurrentPrice("ETH-USDT-SWAP")
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestFacadePreview(t *testing.T) {
	f := NewFacade(model.NewHistoryStore(0))

	// 还没有任何成交时连预览状态都不存在
	_, err := f.Preview("BTC-USDT-SWAP")
	assert.ErrorIs(t, err, ErrNotAvailable)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.ApplyTicker(model.Ticker{Symbol: "BTC-USDT-SWAP", Timestamp: base.UnixMilli(), Price: 100})

	// 有成交但增量指标还在预热
	_, err = f.Preview("BTC-USDT-SWAP")
	assert.ErrorIs(t, err, ta.ErrNotReady)

	// 默认参数下 20 个 tick 后全部指标就绪
	for i := 1; i < 25; i++ {
		f.ApplyTicker(model.Ticker{
			Symbol:    "BTC-USDT-SWAP",
			Timestamp: base.Add(time.Duration(i) * time.Second).UnixMilli(),
			Price:     100 + float64(i),
		})
	}

	snap, err := f.Preview("BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, 124.0, snap.Last)
	// 单调上涨的成交流，RSI 预览打满
	assert.Equal(t, 100.0, snap.RSI)
	// 最近 20 个价格 105..124 的均值
	assert.InDelta(t, 114.5, snap.SMA, 1e-9)
	assert.InDelta(t, 1.0, snap.Volatility, 1e-9)

	// 预览按交易对隔离
	_, err = f.Preview("ETH-USDT-SWAP")
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestFacadeOrderBookAndFunding(t *testing.T) {
	f := NewFacade(model.NewHistoryStore(0))

	_, err := f.OrderBook("BTC-USDT-SWAP")
	assert.ErrorIs(t, err, ErrNotAvailable)
	_, err = f.FundingRate("BTC-USDT-SWAP")
	assert.ErrorIs(t, err, ErrNotAvailable)

	f.ApplyBook(model.BookUpdate{
		Symbol:    "BTC-USDT-SWAP",
		Timestamp: time.Now().UnixMilli(),
		Bids:      []model.BookLevel{{Price: 41999, Amount: 2}},
		Asks:      []model.BookLevel{{Price: 42001, Amount: 1}},
	})
	f.ApplyFunding(model.FundingRate{Symbol: "BTC-USDT-SWAP", Rate: 0.0001})

	book, err := f.OrderBook("BTC-USDT-SWAP")
	require.NoError(t, err)
	mid, err := book.MidPrice()
	require.NoError(t, err)
	assert.Equal(t, 42000.0, mid)

	fr, err := f.FundingRate("BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, 0.0001, fr.Rate)
}

func TestFacadeCandlesDelegateToStore(t *testing.T) {
	store := model.NewHistoryStore(0)
	f := NewFacade(store)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Append(model.Candle{
		Symbol: "BTC-USDT-SWAP", Interval: "1m",
		Open: 1, High: 2, Low: 0.5, Close: 1.5,
		StartTime: start, EndTime: start.Add(time.Minute - time.Millisecond),
	})

	latest, err := f.LatestCandle("BTC-USDT-SWAP", "1m")
	require.NoError(t, err)
	assert.Equal(t, 1.5, latest.Close)

	window, err := f.Candles("BTC-USDT-SWAP", "1m", 1)
	require.NoError(t, err)
	assert.Len(t, window, 1)

	_, err = f.Candles("BTC-USDT-SWAP", "1m", 2)
	assert.ErrorIs(t, err, model.ErrNotEnoughHistory)
}

func TestFacadeRunConsumesChannels(t *testing.T) {
	f := NewFacade(model.NewHistoryStore(0))

	tickers := make(chan model.Ticker, 1)
	books := make(chan model.BookUpdate, 1)
	funding := make(chan model.FundingRate, 1)

	tickers <- model.Ticker{Symbol: "BTC-USDT-SWAP", Timestamp: time.Now().UnixMilli(), Price: 100}
	books <- model.BookUpdate{Symbol: "BTC-USDT-SWAP", Bids: []model.BookLevel{{Price: 99, Amount: 1}}}
	funding <- model.FundingRate{Symbol: "BTC-USDT-SWAP", Rate: 0.01}
	close(tickers)
	close(books)
	close(funding)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx, tickers, books, funding)
		close(done)
	}()

	// 三路通道全部消费完成后各项数据可读
	assert.Eventually(t, func() bool {
		if _, err := f.CurrentPrice("BTC-USDT-SWAP"); err != nil {
			return false
		}
		if _, err := f.OrderBook("BTC-USDT-SWAP"); err != nil {
			return false
		}
		_, err := f.FundingRate("BTC-USDT-SWAP")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("facade.Run did not exit after context cancel")
	}
}

func TestOrderBookAccessors(t *testing.T) {
	book := newOrderBook(model.BookUpdate{
		Symbol:    "BTC-USDT-SWAP",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		Bids:      []model.BookLevel{{Price: 100, Amount: 3}, {Price: 99, Amount: 5}},
		Asks:      []model.BookLevel{{Price: 101, Amount: 2}},
	})

	bid, err := book.BestBid()
	require.NoError(t, err)
	assert.Equal(t, 100.0, bid.Price)

	ask, err := book.BestAsk()
	require.NoError(t, err)
	assert.Equal(t, 101.0, ask.Price)

	mid, err := book.MidPrice()
	require.NoError(t, err)
	assert.Equal(t, 100.5, mid)

	spread, err := book.Spread()
	require.NoError(t, err)
	assert.Equal(t, 1.0, spread)
}

func TestOrderBookEmptySides(t *testing.T) {
	book := newOrderBook(model.BookUpdate{Symbol: "BTC-USDT-SWAP"})

	_, err := book.BestBid()
	assert.ErrorIs(t, err, ErrEmptyBook)
	_, err = book.BestAsk()
	assert.ErrorIs(t, err, ErrEmptyBook)
	_, err = book.MidPrice()
	assert.ErrorIs(t, err, ErrEmptyBook)
	_, err = book.Spread()
	assert.ErrorIs(t, err, ErrEmptyBook)
}

func TestOrderBookCopiesLevels(t *testing.T) {
	bids := []model.BookLevel{{Price: 100, Amount: 1}}
	book := newOrderBook(model.BookUpdate{Symbol: "BTC-USDT-SWAP", Bids: bids})

	bids[0].Price = -1

	bid, err := book.BestBid()
	require.NoError(t, err)
	assert.Equal(t, 100.0, bid.Price)
}
