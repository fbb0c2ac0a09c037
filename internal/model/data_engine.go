package model

import (
	"math"
	"sync"
	"time"

	"wisp/internal/service"

	"go.uber.org/zap"
)

// DataEngine 负责接收 Ticker，聚合 K 线，写入 HistoryStore 并发送给策略层
type DataEngine struct {
	tickerChan  <-chan Ticker
	candleChan  chan Candle
	aggregators []*CandleAggregator
	symbol      string
	store       *HistoryStore

	broadcasterTickerChan chan Ticker // Ticker 广播通道，供需要实时价格的组件使用
}

// NewDataEngine 创建并初始化 DataEngine
// intervals 是需要聚合的全部 K 线周期
func NewDataEngine(tickerChan <-chan Ticker, symbol string, intervals []time.Duration, store *HistoryStore) *DataEngine {
	de := &DataEngine{
		tickerChan:            tickerChan,
		candleChan:            make(chan Candle, 100),
		symbol:                symbol,
		store:                 store,
		broadcasterTickerChan: make(chan Ticker, 1000),
	}

	for _, interval := range intervals {
		de.aggregators = append(de.aggregators, NewCandleAggregator(symbol, interval))
	}

	return de
}

// Start 启动数据处理循环，tickerChan 关闭后冲刷未完成的 K 线并关闭全部输出通道
func (de *DataEngine) Start() {
	service.Logger.Info("Data Engine started, monitoring ticker stream...",
		zap.String("Symbol", de.symbol))

	for ticker := range de.tickerChan {
		// 核心过滤逻辑：只处理与本 DataEngine 实例 Symbol 匹配的数据
		if ticker.Symbol != de.symbol {
			continue
		}

		// 依次送入所有周期的聚合器，完成的 K 线写入 store 并下发
		for _, agg := range de.aggregators {
			if completed := agg.ProcessTicker(ticker); completed != nil {
				de.store.Append(*completed)
				select {
				case de.candleChan <- *completed:
				default:
					service.Logger.Warn("Candle output channel full! Dropping completed candle.",
						zap.String("Symbol", de.symbol), zap.String("Interval", completed.Interval))
				}
			}
		}

		// 转发给 Ticker 广播通道
		select {
		case de.broadcasterTickerChan <- ticker:
		default:
		}
	}

	// 数据流结束，把正在构建的 bar 作为最后一根 K 线交给下游
	for _, agg := range de.aggregators {
		if c, ok := agg.Flush(); ok {
			de.store.Append(c)
			select {
			case de.candleChan <- c:
			default:
				service.Logger.Warn("Candle output channel full! Dropping flushed candle.",
					zap.String("Symbol", de.symbol), zap.String("Interval", c.Interval))
			}
		}
	}

	close(de.candleChan)
	close(de.broadcasterTickerChan)
	service.Logger.Info("Data Engine stopped", zap.String("Symbol", de.symbol))
}

// GetBroadcasterTickerChannel 供 SimulatorExecutor 等需要实时 Ticker 的组件使用
func (de *DataEngine) GetBroadcasterTickerChannel() <-chan Ticker {
	return de.broadcasterTickerChan
}

// GetCandleChannel 供策略层调用以获取已完成的 K 线数据流
func (de *DataEngine) GetCandleChannel() <-chan Candle {
	return de.candleChan
}

// CandleAggregator 根据 Ticker 聚合特定周期和 Symbol 的 K 线
type CandleAggregator struct {
	mu       sync.Mutex
	Symbol   string        // 所属交易对
	Interval string        // 聚合周期字符串，如 "1m", "5m"
	duration time.Duration // 解析后的周期
	current  Candle        // 正在构建的当前 K 线
	started  bool          // current 是否已初始化
}

// NewCandleAggregator 创建一个新的聚合器
func NewCandleAggregator(symbol string, interval time.Duration) *CandleAggregator {
	return &CandleAggregator{
		Symbol:   symbol,
		Interval: service.FormatInterval(interval),
		duration: interval,
	}
}

// ProcessTicker 将 Ticker 聚合到当前 K 线
// 当 Ticker 跨过周期边界时返回上一根已完成的 K 线，否则返回 nil
func (agg *CandleAggregator) ProcessTicker(ticker Ticker) *Candle {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	// 将 Ticker 时间戳对齐到 K 线起始时间
	tickerTime := time.UnixMilli(ticker.Timestamp).UTC()
	barStart := tickerTime.Truncate(agg.duration)

	var completed *Candle

	if agg.started && barStart.After(agg.current.StartTime) {
		// 上一根 K 线完成，新 K 线的开盘价取上一根的收盘价
		done := agg.current
		completed = &done

		agg.current = Candle{
			Symbol:    agg.Symbol,
			Interval:  agg.Interval,
			Open:      done.Close,
			High:      ticker.Price,
			Low:       ticker.Price,
			StartTime: barStart,
			EndTime:   barStart.Add(agg.duration).Add(-time.Millisecond),
		}
	}

	if !agg.started {
		// 第一次收到 Ticker，初始化 K 线
		agg.current = Candle{
			Symbol:    agg.Symbol,
			Interval:  agg.Interval,
			Open:      ticker.Price,
			High:      ticker.Price,
			Low:       ticker.Price,
			StartTime: barStart,
			EndTime:   barStart.Add(agg.duration).Add(-time.Millisecond),
		}
		agg.started = true
	}

	if barStart.Before(agg.current.StartTime) {
		// 迟到的 Ticker 属于已完成的 bar，不允许重新打开
		return completed
	}

	// 更新 OHLCV
	agg.current.Close = ticker.Price
	agg.current.High = math.Max(agg.current.High, ticker.Price)
	agg.current.Low = math.Min(agg.current.Low, ticker.Price)
	agg.current.Volume += ticker.Volume

	return completed
}

// Flush 把正在构建的 K 线强制标记为完成并返回，用于数据流结束时的收尾
// 之后收到的 Ticker 会开启全新的 bar
func (agg *CandleAggregator) Flush() (Candle, bool) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if !agg.started {
		return Candle{}, false
	}
	done := agg.current
	agg.started = false
	return done, true
}

// Current 返回正在构建的 K 线副本 (未完成 bar)
func (agg *CandleAggregator) Current() (Candle, bool) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return agg.current, agg.started
}
