package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisp/internal/model"
	"wisp/pkg/ta"
)

// ErrNotAvailable 表示请求的市场数据尚未就绪
var ErrNotAvailable = errors.New("market data not available")

// Facade 是策略层读取市场数据的统一入口
// 实时数据 (最新价/订单簿/资金费率) 由数据管道推入，K 线窗口读取 HistoryStore
type Facade struct {
	mu       sync.RWMutex
	store    *model.HistoryStore
	prices   map[string]float64
	priceTS  map[string]time.Time
	books    map[string]OrderBook
	funding  map[string]model.FundingRate
	previews map[string]*ta.TickPreview
}

// NewFacade 创建市场数据门面
func NewFacade(store *model.HistoryStore) *Facade {
	return &Facade{
		store:    store,
		prices:   make(map[string]float64),
		priceTS:  make(map[string]time.Time),
		books:    make(map[string]OrderBook),
		funding:  make(map[string]model.FundingRate),
		previews: make(map[string]*ta.TickPreview),
	}
}

// ApplyTicker 更新最新成交价并推进该交易对的盘中指标预览
func (f *Facade) ApplyTicker(t model.Ticker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[t.Symbol] = t.Price
	f.priceTS[t.Symbol] = time.UnixMilli(t.Timestamp).UTC()

	p, ok := f.previews[t.Symbol]
	if !ok {
		p = ta.NewTickPreview(ta.DefaultOptions())
		f.previews[t.Symbol] = p
	}
	p.Update(t.Price)
}

// ApplyBook 更新订单簿快照
func (f *Facade) ApplyBook(u model.BookUpdate) {
	book := newOrderBook(u)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[u.Symbol] = book
}

// ApplyFunding 更新资金费率
func (f *Facade) ApplyFunding(fr model.FundingRate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funding[fr.Symbol] = fr
}

// Run 消费数据管道的三路通道直到 ctx 取消，供实时模式在独立 Goroutine 中调用
// 任意通道为 nil 时忽略该路数据
func (f *Facade) Run(ctx context.Context, tickers <-chan model.Ticker, books <-chan model.BookUpdate, funding <-chan model.FundingRate) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tickers:
			if !ok {
				tickers = nil
				continue
			}
			f.ApplyTicker(t)
		case b, ok := <-books:
			if !ok {
				books = nil
				continue
			}
			f.ApplyBook(b)
		case fr, ok := <-funding:
			if !ok {
				funding = nil
				continue
			}
			f.ApplyFunding(fr)
		}
	}
}

// CurrentPrice 返回最新成交价
func (f *Facade) CurrentPrice(symbol string) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: price for %s", ErrNotAvailable, symbol)
	}
	return p, nil
}

// PriceTime 返回最新成交价的时间戳
func (f *Facade) PriceTime(symbol string) (time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ts, ok := f.priceTS[symbol]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: price for %s", ErrNotAvailable, symbol)
	}
	return ts, nil
}

// Preview 返回成交流上的盘中指标预览
// 数据不足时返回 ta.ErrNotReady，该交易对还没有成交时返回 ErrNotAvailable
func (f *Facade) Preview(symbol string) (ta.PreviewSnapshot, error) {
	f.mu.RLock()
	p, ok := f.previews[symbol]
	f.mu.RUnlock()
	if !ok {
		return ta.PreviewSnapshot{}, fmt.Errorf("%w: preview for %s", ErrNotAvailable, symbol)
	}
	return p.Snapshot()
}

// OrderBook 返回订单簿快照
func (f *Facade) OrderBook(symbol string) (OrderBook, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.books[symbol]
	if !ok {
		return OrderBook{}, fmt.Errorf("%w: order book for %s", ErrNotAvailable, symbol)
	}
	return b, nil
}

// FundingRate 返回资金费率快照
func (f *Facade) FundingRate(symbol string) (model.FundingRate, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fr, ok := f.funding[symbol]
	if !ok {
		return model.FundingRate{}, fmt.Errorf("%w: funding rate for %s", ErrNotAvailable, symbol)
	}
	return fr, nil
}

// Candles 返回最近 n 根已完成的 K 线 (升序)
func (f *Facade) Candles(symbol, interval string, n int) ([]model.Candle, error) {
	return f.store.Window(symbol, interval, n)
}

// LatestCandle 返回最近一根已完成的 K 线
func (f *Facade) LatestCandle(symbol, interval string) (model.Candle, error) {
	return f.store.Latest(symbol, interval)
}
