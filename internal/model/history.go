package model

import (
	"errors"
	"sync"
)

var (
	// ErrSeriesNotFound 表示请求的 (symbol, interval) 序列不存在
	ErrSeriesNotFound = errors.New("candle series not found")
	// ErrNotEnoughHistory 表示序列长度不足以满足请求窗口
	ErrNotEnoughHistory = errors.New("not enough candle history")
)

// DefaultRetention 是每个序列默认保留的 K 线数量
const DefaultRetention = 1000

type seriesKey struct {
	symbol   string
	interval string
}

// HistoryStore 按 (symbol, interval) 保存有序的 K 线序列
// 序列按 StartTime 升序排列，长度超过 retention 时丢弃最旧的数据
type HistoryStore struct {
	mu        sync.RWMutex
	series    map[seriesKey][]Candle
	retention int
}

// NewHistoryStore 创建 HistoryStore，retention <= 0 时使用默认值
func NewHistoryStore(retention int) *HistoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &HistoryStore{
		series:    make(map[seriesKey][]Candle),
		retention: retention,
	}
}

// Append 追加一根 K 线
// 同一 StartTime 的 K 线视为未完成 bar 的更新，原地替换而不是追加；
// 早于序列尾部的 K 线直接丢弃，已完成的 bar 不允许被重新打开
func (hs *HistoryStore) Append(c Candle) {
	key := seriesKey{symbol: c.Symbol, interval: c.Interval}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	s := hs.series[key]
	if n := len(s); n > 0 {
		last := s[n-1]
		if c.StartTime.Equal(last.StartTime) {
			s[n-1] = c
			return
		}
		if c.StartTime.Before(last.StartTime) {
			return
		}
	}

	s = append(s, c)
	if len(s) > hs.retention {
		// 截断后复制，避免底层数组无限增长
		trimmed := make([]Candle, hs.retention)
		copy(trimmed, s[len(s)-hs.retention:])
		s = trimmed
	}
	hs.series[key] = s
}

// Latest 返回序列中最新的一根 K 线
func (hs *HistoryStore) Latest(symbol, interval string) (Candle, error) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	s, ok := hs.series[seriesKey{symbol: symbol, interval: interval}]
	if !ok || len(s) == 0 {
		return Candle{}, ErrSeriesNotFound
	}
	return s[len(s)-1], nil
}

// Window 返回最近 n 根 K 线的副本 (升序)
func (hs *HistoryStore) Window(symbol, interval string, n int) ([]Candle, error) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	s, ok := hs.series[seriesKey{symbol: symbol, interval: interval}]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	if len(s) < n {
		return nil, ErrNotEnoughHistory
	}

	out := make([]Candle, n)
	copy(out, s[len(s)-n:])
	return out, nil
}

// Len 返回序列当前长度，序列不存在时返回 0
func (hs *HistoryStore) Len(symbol, interval string) int {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return len(hs.series[seriesKey{symbol: symbol, interval: interval}])
}
