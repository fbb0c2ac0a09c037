package strategy

import "time"

// Batch 是一次策略回调产出的不可变信号集合
// Build 之后对 Builder 的任何修改都不会影响已生成的 Batch
type Batch struct {
	signals []Signal
}

// Signals 返回信号列表的副本
func (b Batch) Signals() []Signal {
	out := make([]Signal, len(b.signals))
	copy(out, b.signals)
	return out
}

// Len 返回信号数量
func (b Batch) Len() int {
	return len(b.signals)
}

// Empty 判断批次是否为空
func (b Batch) Empty() bool {
	return len(b.signals) == 0
}

// SignalBuilder 以流式调用的方式累积买卖指令
//
//	b := strategy.NewSignalBuilder("BTC-USDT", "okx")
//	b.Buy(0.5).AtPrice(43000).WithStopLoss(42000).Because("breakout")
//	batch := b.Build()
//
// Buy/Sell/Close 开启一条新指令，后续的修饰方法作用于最近开启的指令；
// Build 返回不可变批次并清空 Builder，Builder 可以复用
type SignalBuilder struct {
	symbol   string
	exchange string
	state    MarketState
	now      time.Time
	done     []Signal
	pending  *Signal
}

// NewSignalBuilder 创建指定交易对和交易所的信号构建器
func NewSignalBuilder(symbol, exchange string) *SignalBuilder {
	return &SignalBuilder{
		symbol:   symbol,
		exchange: exchange,
		state:    StateInitial,
	}
}

// At 固定信号时间戳 (回测中使用模拟时钟，实时模式使用 K 线收盘时间)
func (b *SignalBuilder) At(t time.Time) *SignalBuilder {
	b.now = t
	return b
}

// InState 记录信号产生时的市场状态
func (b *SignalBuilder) InState(state MarketState) *SignalBuilder {
	b.state = state
	return b
}

// Buy 开启一条做多开仓指令
func (b *SignalBuilder) Buy(quantity float64) *SignalBuilder {
	b.begin(ActionOpen, DirLong, quantity)
	return b
}

// Sell 开启一条做空开仓指令
func (b *SignalBuilder) Sell(quantity float64) *SignalBuilder {
	b.begin(ActionOpen, DirShort, quantity)
	return b
}

// Close 开启一条平仓指令
func (b *SignalBuilder) Close() *SignalBuilder {
	b.begin(ActionClose, DirFlat, 0)
	return b
}

// AtPrice 设置期望成交价格 (不设置则为市价)
func (b *SignalBuilder) AtPrice(price float64) *SignalBuilder {
	if b.pending != nil {
		b.pending.Price = price
	}
	return b
}

// WithStopLoss 设置止损价格
func (b *SignalBuilder) WithStopLoss(price float64) *SignalBuilder {
	if b.pending != nil {
		b.pending.StopLossPrice = price
	}
	return b
}

// WithTakeProfit 设置止盈价格
func (b *SignalBuilder) WithTakeProfit(price float64) *SignalBuilder {
	if b.pending != nil {
		b.pending.TakeProfitPrice = price
	}
	return b
}

// WithRisk 记录本条指令承担的最大 USD 风险
func (b *SignalBuilder) WithRisk(riskedUSD float64) *SignalBuilder {
	if b.pending != nil {
		b.pending.RiskedUSD = riskedUSD
	}
	return b
}

// Because 记录信号产生的文字原因
func (b *SignalBuilder) Because(reason string) *SignalBuilder {
	if b.pending != nil {
		b.pending.Reason = reason
	}
	return b
}

// Build 返回不可变的信号批次并重置 Builder
func (b *SignalBuilder) Build() Batch {
	b.flush()

	signals := make([]Signal, len(b.done))
	copy(signals, b.done)
	b.done = b.done[:0]

	return Batch{signals: signals}
}

// begin 结束上一条指令并开启新指令
func (b *SignalBuilder) begin(action ActionType, dir Direction, quantity float64) {
	b.flush()

	ts := b.now
	if ts.IsZero() {
		ts = time.Now()
	}

	b.pending = &Signal{
		Symbol:      b.symbol,
		Exchange:    b.exchange,
		Timestamp:   ts,
		Action:      action,
		Direction:   dir,
		Quantity:    quantity,
		SourceState: b.state,
	}
}

func (b *SignalBuilder) flush() {
	if b.pending != nil {
		b.done = append(b.done, *b.pending)
		b.pending = nil
	}
}
