package ta

import "sync"

// PreviewSnapshot 是成交流上的增量指标近似值
// 与 K 线收盘后的整窗重算不同，这里的窗口单位是 tick 而不是 bar
type PreviewSnapshot struct {
	SMA float64
	EMA float64
	RSI float64
	// Volatility 是 tick 间价差的 Wilder 平滑均值
	Volatility float64
	Last       float64
}

// TickPreview 维护单个交易对成交流上的增量指标状态
// 每个 tick O(1) 更新，用于 K 线收盘前的盘中预览
type TickPreview struct {
	mu   sync.Mutex
	sma  *StreamSMA
	ema  *StreamEMA
	rsi  *StreamRSI
	vol  *StreamATR
	last float64
}

// NewTickPreview 创建盘中指标预览，周期参数沿用 Options
func NewTickPreview(opts Options) *TickPreview {
	return &TickPreview{
		sma: NewStreamSMA(opts.SMAPeriod),
		ema: NewStreamEMA(opts.EMAPeriod),
		rsi: NewStreamRSI(opts.RSIPeriod),
		vol: NewStreamATR(opts.ATRPeriod),
	}
}

// Update 推入一个最新成交价
func (p *TickPreview) Update(price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sma.Update(price)
	p.ema.Update(price)
	p.rsi.Update(price)
	// 成交价序列没有 bar 高低点，真实波幅退化为 tick 间价差
	p.vol.Update(price, price, price)
	p.last = price
}

// Snapshot 返回当前预览值，预热完成前返回 ErrNotReady
func (p *TickPreview) Snapshot() (PreviewSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sma.Ready() || !p.ema.Ready() || !p.rsi.Ready() || !p.vol.Ready() {
		return PreviewSnapshot{}, ErrNotReady
	}
	return PreviewSnapshot{
		SMA:        p.sma.Value(),
		EMA:        p.ema.Value(),
		RSI:        p.rsi.Value(),
		Volatility: p.vol.Value(),
		Last:       p.last,
	}, nil
}
