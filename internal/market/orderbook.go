package market

import (
	"errors"
	"time"

	"wisp/internal/model"
)

// ErrEmptyBook 表示订单簿一侧没有任何档位
var ErrEmptyBook = errors.New("order book side is empty")

// OrderBook 是某个交易对的订单簿快照
// Bids 按价格降序，Asks 按价格升序，均为副本，读取方可以安全持有
type OrderBook struct {
	Symbol    string
	Timestamp time.Time
	Bids      []model.BookLevel
	Asks      []model.BookLevel
}

// newOrderBook 由交易所推送的快照构建 OrderBook
func newOrderBook(u model.BookUpdate) OrderBook {
	bids := make([]model.BookLevel, len(u.Bids))
	copy(bids, u.Bids)
	asks := make([]model.BookLevel, len(u.Asks))
	copy(asks, u.Asks)

	return OrderBook{
		Symbol:    u.Symbol,
		Timestamp: time.UnixMilli(u.Timestamp).UTC(),
		Bids:      bids,
		Asks:      asks,
	}
}

// BestBid 返回买一档
func (b OrderBook) BestBid() (model.BookLevel, error) {
	if len(b.Bids) == 0 {
		return model.BookLevel{}, ErrEmptyBook
	}
	return b.Bids[0], nil
}

// BestAsk 返回卖一档
func (b OrderBook) BestAsk() (model.BookLevel, error) {
	if len(b.Asks) == 0 {
		return model.BookLevel{}, ErrEmptyBook
	}
	return b.Asks[0], nil
}

// MidPrice 返回买一卖一的中间价
func (b OrderBook) MidPrice() (float64, error) {
	bid, err := b.BestBid()
	if err != nil {
		return 0, err
	}
	ask, err := b.BestAsk()
	if err != nil {
		return 0, err
	}
	return (bid.Price + ask.Price) / 2, nil
}

// Spread 返回买卖价差
func (b OrderBook) Spread() (float64, error) {
	bid, err := b.BestBid()
	if err != nil {
		return 0, err
	}
	ask, err := b.BestAsk()
	if err != nil {
		return 0, err
	}
	return ask.Price - bid.Price, nil
}
