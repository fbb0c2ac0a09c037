package ta

import (
	"errors"
	"fmt"
	"sync"

	"wisp/internal/model"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"
)

// ErrNotReady 表示指标序列不存在或历史长度不足
var ErrNotReady = errors.New("ta: series not ready")

// Options 集中定义所有指标的参数
type Options struct {
	SMAPeriod    int
	EMAPeriod    int
	RSIPeriod    int
	ATRPeriod    int
	BBandsPeriod int
	BBandsStdDev float64
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	StochFastK   int
	StochSlowK   int
	StochSlowD   int
}

// DefaultOptions 返回约定俗成的指标参数
func DefaultOptions() Options {
	return Options{
		SMAPeriod:    20,
		EMAPeriod:    20,
		RSIPeriod:    14,
		ATRPeriod:    14,
		BBandsPeriod: 20,
		BBandsStdDev: 2,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		StochFastK:   14,
		StochSlowK:   3,
		StochSlowD:   3,
	}
}

// warmupBars 计算指标全部就绪所需的最小历史长度
func (o Options) warmupBars() int {
	need := o.SMAPeriod
	for _, n := range []int{
		o.EMAPeriod,
		o.RSIPeriod + 1,
		o.ATRPeriod + 1,
		o.BBandsPeriod,
		o.MACDSlow + o.MACDSignal,
		o.StochFastK + o.StochSlowK + o.StochSlowD,
	} {
		if n > need {
			need = n
		}
	}
	// 预留安全长度
	return need + 5
}

// Snapshot 存储某个序列最新计算出的全部指标值
type Snapshot struct {
	SMA        float64
	EMA        float64
	RSI        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	BBandsUp   float64
	BBandsMid  float64
	BBandsDn   float64
	StochK     float64
	StochD     float64
	ATR        float64
	Close      float64 // 最新收盘价，方便策略层直接比较
}

// TAData 存储计算指标所需的历史数据和最新快照
type TAData struct {
	Symbol   string
	Interval string
	Close    []float64
	High     []float64
	Low      []float64
	Volume   []float64

	snapshot Snapshot
	ready    bool
}

type seriesKey struct {
	symbol   string
	interval string
}

// TACalculator 负责管理所有 (symbol, interval) 序列的数据和指标计算
// 每根已完成的 K 线到来时在尾部有限窗口上重算一次全量指标
type TACalculator struct {
	mu      sync.RWMutex
	history map[seriesKey]*TAData
	opts    Options
	warmup  int
	maxLen  int
	logger  *zap.Logger
}

// NewTACalculator 初始化技术指标计算器
func NewTACalculator(opts Options, logger *zap.Logger) *TACalculator {
	return &TACalculator{
		history: make(map[seriesKey]*TAData),
		opts:    opts,
		warmup:  opts.warmupBars(),
		maxLen:  200,
		logger:  logger,
	}
}

// UpdateCandle 追加一根已完成的 K 线并重算该序列的指标
func (tc *TACalculator) UpdateCandle(c model.Candle) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	key := seriesKey{symbol: c.Symbol, interval: c.Interval}
	data, ok := tc.history[key]
	if !ok {
		data = &TAData{
			Symbol:   c.Symbol,
			Interval: c.Interval,
			Close:    make([]float64, 0, tc.maxLen),
			High:     make([]float64, 0, tc.maxLen),
			Low:      make([]float64, 0, tc.maxLen),
			Volume:   make([]float64, 0, tc.maxLen),
		}
		tc.history[key] = data
		tc.logger.Debug("Initialized TA history",
			zap.String("symbol", c.Symbol), zap.String("interval", c.Interval))
	}

	// 1. 更新历史数据，保持有限窗口
	data.Close = append(data.Close, c.Close)
	data.High = append(data.High, c.High)
	data.Low = append(data.Low, c.Low)
	data.Volume = append(data.Volume, c.Volume)
	if len(data.Close) > tc.maxLen {
		data.Close = data.Close[len(data.Close)-tc.maxLen:]
		data.High = data.High[len(data.High)-tc.maxLen:]
		data.Low = data.Low[len(data.Low)-tc.maxLen:]
		data.Volume = data.Volume[len(data.Volume)-tc.maxLen:]
	}

	// 2. 历史不足时不计算
	if len(data.Close) < tc.warmup {
		return
	}

	tc.calculate(data)
	data.ready = true
}

// calculate 集中计算所有需要的指标，取每个结果序列的最新值
func (tc *TACalculator) calculate(data *TAData) {
	o := tc.opts
	closes := data.Close

	sma := talib.Sma(closes, o.SMAPeriod)
	ema := talib.Ema(closes, o.EMAPeriod)
	rsi := talib.Rsi(closes, o.RSIPeriod)
	macd, macdSignal, macdHist := talib.Macd(closes, o.MACDFast, o.MACDSlow, o.MACDSignal)
	bbUp, bbMid, bbDn := talib.BBands(closes, o.BBandsPeriod, o.BBandsStdDev, o.BBandsStdDev, talib.SMA)
	stochK, stochD := talib.Stoch(data.High, data.Low, closes,
		o.StochFastK, o.StochSlowK, talib.SMA, o.StochSlowD, talib.SMA)
	atr := talib.Atr(data.High, data.Low, closes, o.ATRPeriod)

	last := len(closes) - 1
	data.snapshot = Snapshot{
		SMA:        sma[last],
		EMA:        ema[last],
		RSI:        rsi[last],
		MACD:       macd[last],
		MACDSignal: macdSignal[last],
		MACDHist:   macdHist[last],
		BBandsUp:   bbUp[last],
		BBandsMid:  bbMid[last],
		BBandsDn:   bbDn[last],
		StochK:     stochK[last],
		StochD:     stochD[last],
		ATR:        atr[last],
		Close:      closes[last],
	}
}

// Snapshot 返回指定序列的最新指标快照
func (tc *TACalculator) Snapshot(symbol, interval string) (Snapshot, error) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	data, ok := tc.history[seriesKey{symbol: symbol, interval: interval}]
	if !ok || !data.ready {
		return Snapshot{}, fmt.Errorf("%w: %s %s", ErrNotReady, symbol, interval)
	}
	return data.snapshot, nil
}

// RSI 返回指定序列的最新 RSI 值
func (tc *TACalculator) RSI(symbol, interval string) (float64, error) {
	s, err := tc.Snapshot(symbol, interval)
	if err != nil {
		return 0, err
	}
	return s.RSI, nil
}

// SMA 返回指定序列的最新 SMA 值
func (tc *TACalculator) SMA(symbol, interval string) (float64, error) {
	s, err := tc.Snapshot(symbol, interval)
	if err != nil {
		return 0, err
	}
	return s.SMA, nil
}

// EMA 返回指定序列的最新 EMA 值
func (tc *TACalculator) EMA(symbol, interval string) (float64, error) {
	s, err := tc.Snapshot(symbol, interval)
	if err != nil {
		return 0, err
	}
	return s.EMA, nil
}

// MACD 返回指定序列的最新 MACD 线/信号线/柱
func (tc *TACalculator) MACD(symbol, interval string) (macd, signal, hist float64, err error) {
	s, err := tc.Snapshot(symbol, interval)
	if err != nil {
		return 0, 0, 0, err
	}
	return s.MACD, s.MACDSignal, s.MACDHist, nil
}

// BBands 返回指定序列的最新布林带上/中/下轨
func (tc *TACalculator) BBands(symbol, interval string) (up, mid, dn float64, err error) {
	s, err := tc.Snapshot(symbol, interval)
	if err != nil {
		return 0, 0, 0, err
	}
	return s.BBandsUp, s.BBandsMid, s.BBandsDn, nil
}

// Stoch 返回指定序列的最新慢速随机指标 K/D
func (tc *TACalculator) Stoch(symbol, interval string) (k, d float64, err error) {
	s, err := tc.Snapshot(symbol, interval)
	if err != nil {
		return 0, 0, err
	}
	return s.StochK, s.StochD, nil
}

// ATR 返回指定序列的最新 ATR 值
func (tc *TACalculator) ATR(symbol, interval string) (float64, error) {
	s, err := tc.Snapshot(symbol, interval)
	if err != nil {
		return 0, err
	}
	return s.ATR, nil
}

// WarmupBars 返回指标全部就绪所需的最小 K 线数量
func (tc *TACalculator) WarmupBars() int {
	return tc.warmup
}

// Ready 判断指定序列的指标是否已经可用
func (tc *TACalculator) Ready(symbol, interval string) bool {
	_, err := tc.Snapshot(symbol, interval)
	return err == nil
}
