package executor

import (
	"context"

	"wisp/internal/strategy"
)

// Executor 是交易执行器的通用接口，负责把策略信号变成订单
type Executor interface {
	// ExecuteSignal 接收策略信号，并尝试执行交易 (开仓、平仓、修改订单)
	ExecuteSignal(ctx context.Context, signal strategy.Signal) error

	// GetCurrentPosition 查询并返回当前持仓信息
	GetCurrentPosition(ctx context.Context) (*strategy.Position, error)

	// GetBalance 获取账户净值 (余额 + 浮动盈亏)
	GetBalance(ctx context.Context) (float64, error)

	// GetMaxEquity 返回历史最高账户净值
	GetMaxEquity() float64

	// GetTradeHistory 返回已平仓的交易记录 (按时间升序)
	GetTradeHistory() []*strategy.TradeRecord
}

var (
	_ Executor = (*SimulatorExecutor)(nil)
	_ Executor = (*OkxExecutor)(nil)
)
