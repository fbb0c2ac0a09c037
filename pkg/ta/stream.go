package ta

// 增量指标状态：每个 tick O(1) 更新，用于不适合整窗重算的热路径。
// 预热完成前 Ready() 返回 false，Value() 的结果无意义。

// StreamSMA 基于滚动和的简单移动平均
type StreamSMA struct {
	period int
	buf    []float64
	next   int
	count  int
	sum    float64
}

func NewStreamSMA(period int) *StreamSMA {
	if period <= 1 {
		period = 1
	}
	return &StreamSMA{period: period, buf: make([]float64, period)}
}

func (s *StreamSMA) Update(price float64) {
	if s.count < s.period {
		s.buf[s.next] = price
		s.sum += price
		s.count++
	} else {
		s.sum += price - s.buf[s.next]
		s.buf[s.next] = price
	}
	s.next = (s.next + 1) % s.period
}

func (s *StreamSMA) Ready() bool    { return s.count >= s.period }
func (s *StreamSMA) Value() float64 { return s.sum / float64(s.count) }

// StreamEMA 指数移动平均，alpha = 2/(period+1)
type StreamEMA struct {
	period int
	alpha  float64
	value  float64
	warmup int
}

func NewStreamEMA(period int) *StreamEMA {
	if period <= 1 {
		period = 1
	}
	return &StreamEMA{
		period: period,
		alpha:  2.0 / (float64(period) + 1),
	}
}

func (e *StreamEMA) Update(price float64) {
	if e.warmup == 0 {
		e.value = price
		e.warmup = 1
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	if e.warmup < e.period {
		e.warmup++
	}
}

func (e *StreamEMA) Ready() bool    { return e.warmup >= e.period }
func (e *StreamEMA) Value() float64 { return e.value }

// StreamRSI Wilder 平滑的相对强弱指数
// 前 period 个涨跌样本取简单平均作为种子，之后按 (prev*(n-1)+x)/n 平滑
type StreamRSI struct {
	period  int
	avgGain float64
	avgLoss float64
	prev    float64
	hasPrev bool
	samples int
	gainAcc float64
	lossAcc float64
}

func NewStreamRSI(period int) *StreamRSI {
	if period <= 0 {
		period = 14
	}
	return &StreamRSI{period: period}
}

func (r *StreamRSI) Update(price float64) {
	if !r.hasPrev {
		r.prev = price
		r.hasPrev = true
		return
	}

	change := price - r.prev
	r.prev = price

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if r.samples < r.period {
		r.gainAcc += gain
		r.lossAcc += loss
		r.samples++
		if r.samples == r.period {
			r.avgGain = r.gainAcc / float64(r.period)
			r.avgLoss = r.lossAcc / float64(r.period)
		}
		return
	}

	n := float64(r.period)
	r.avgGain = (r.avgGain*(n-1) + gain) / n
	r.avgLoss = (r.avgLoss*(n-1) + loss) / n
}

func (r *StreamRSI) Ready() bool { return r.samples >= r.period }

func (r *StreamRSI) Value() float64 {
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// StreamATR Wilder 平滑的平均真实波幅
type StreamATR struct {
	period    int
	value     float64
	prevClose float64
	hasPrev   bool
	samples   int
	acc       float64
}

func NewStreamATR(period int) *StreamATR {
	if period <= 0 {
		period = 14
	}
	return &StreamATR{period: period}
}

func (a *StreamATR) Update(high, low, close float64) {
	tr := high - low
	if a.hasPrev {
		if d := high - a.prevClose; d > tr {
			tr = d
		}
		if d := a.prevClose - low; d > tr {
			tr = d
		}
		if tr < 0 {
			tr = -tr
		}
	}
	a.prevClose = close

	if !a.hasPrev {
		// 第一根 bar 没有前收盘价，只记录，不进入平滑
		a.hasPrev = true
		return
	}

	if a.samples < a.period {
		a.acc += tr
		a.samples++
		if a.samples == a.period {
			a.value = a.acc / float64(a.period)
		}
		return
	}

	n := float64(a.period)
	a.value = (a.value*(n-1) + tr) / n
}

func (a *StreamATR) Ready() bool    { return a.samples >= a.period }
func (a *StreamATR) Value() float64 { return a.value }
