package model

import "time"

// Ticker 代表最小粒度的市场数据（成交或价格快照）
type Ticker struct {
	Symbol       string  // 所属交易对，例如 "BTC-USDT"
	Timestamp    int64   // 毫秒时间戳
	Price        float64 // 价格
	Volume       float64 // 交易量 (0 表示价格快照)
	IsBuyerMaker bool    // 是否为 Maker 导致的成交 (用于判断方向)
}

// Candle 代表聚合后的 K 线数据
type Candle struct {
	Symbol    string // 所属交易对
	Interval  string // 周期，例如 "1m", "5m", "1h"
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	StartTime time.Time
	EndTime   time.Time
}

// BookLevel 是订单簿的单个价位档
type BookLevel struct {
	Price  float64
	Amount float64
}

// BookUpdate 是交易所推送的订单簿快照 (books5 档位快照，非增量)
type BookUpdate struct {
	Symbol    string
	Timestamp int64 // 毫秒时间戳
	Bids      []BookLevel
	Asks      []BookLevel
}

// FundingRate 是永续合约的资金费率快照
type FundingRate struct {
	Symbol      string
	Rate        float64   // 当期费率
	NextRate    float64   // 预测下一期费率
	FundingTime time.Time // 下次结算时间
}
