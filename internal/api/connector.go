package api

import (
	"context"
	"encoding/json"
	"time"

	"wisp/internal/model"
	"wisp/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// OkxWsData 适用于 Okx V5 的通用响应结构
type OkxWsData struct {
	Arg struct {
		Channel string `json:"channel"`
		InstId  string `json:"instId"`
	} `json:"arg"`
	Data  json.RawMessage `json:"data"` // 延迟解析，不同频道结构不同
	Event string          `json:"event"`
}

// OkxTradeData 适配 Okx trades 频道数据结构
type OkxTradeData struct {
	Timestamp string `json:"ts"`   // 成交时间 (毫秒字符串)
	Price     string `json:"px"`   // 成交价格
	Size      string `json:"sz"`   // 成交数量
	Side      string `json:"side"` // buy 或 sell (成交方向)
	TradeId   string `json:"tradeId"`
	InstId    string `json:"instId"`
}

// OkxTickerData 适配 tickers 频道数据结构
type OkxTickerData struct {
	LastPrice string `json:"last"` // 最新成交价
	Timestamp string `json:"ts"`
	InstId    string `json:"instId"`
}

// OkxBookData 适配 books5 频道数据结构 (5 档快照，[价格, 数量, ...])
type OkxBookData struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Timestamp string     `json:"ts"`
}

// OkxFundingData 适配 funding-rate 频道数据结构
type OkxFundingData struct {
	InstId          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	NextFundingRate string `json:"nextFundingRate"`
	FundingTime     string `json:"fundingTime"`
}

// Connector 负责维持与交易所的 WebSocket 连接，把原始推送转换为内部数据结构
// 所有输出通道都是非阻塞写入，消费不及时的数据会被丢弃并告警
type Connector struct {
	wsURL       string
	symbols     []string
	tickerChan  chan model.Ticker
	bookChan    chan model.BookUpdate
	fundingChan chan model.FundingRate
}

// NewConnector 创建连接器
// symbols 使用交易所原生的 InstId，例如 "BTC-USDT-SWAP"
func NewConnector(wsURL string, symbols []string) *Connector {
	service.Logger.Info("Connector initialized", zap.Strings("Symbols", symbols))

	return &Connector{
		wsURL:       wsURL,
		symbols:     symbols,
		tickerChan:  make(chan model.Ticker, 2048),
		bookChan:    make(chan model.BookUpdate, 256),
		fundingChan: make(chan model.FundingRate, 64),
	}
}

// Start 维持连接直到 ctx 取消，断线后自动重连并重新订阅
// 退出时关闭全部输出通道，通知下游数据流结束
func (c *Connector) Start(ctx context.Context) {
	defer func() {
		close(c.tickerChan)
		close(c.bookChan)
		close(c.fundingChan)
		service.Logger.Info("Connector stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connectAndRead(ctx); err != nil {
			service.Logger.Error("WS connection lost, reconnecting in 5s...", zap.Error(err))
		}

		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}
}

// connectAndRead 建立连接、订阅全部频道并进入读循环
func (c *Connector) connectAndRead(ctx context.Context) error {
	service.Logger.Info("Connecting to Okx WS...", zap.String("URL", c.wsURL))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// ctx 取消时强制关闭连接，打断阻塞中的 ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var args []map[string]string
	for _, inst := range c.symbols {
		args = append(args,
			map[string]string{"channel": "trades", "instId": inst},
			map[string]string{"channel": "tickers", "instId": inst},
			map[string]string{"channel": "books5", "instId": inst},
			map[string]string{"channel": "funding-rate", "instId": inst},
		)
	}
	subscribeMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}

	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return err
	}
	service.Logger.Info("Subscribed to Okx market data streams",
		zap.Int("channels", len(args)))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(message)
	}
}

// handleMessage 分发单条 WS 消息
func (c *Connector) handleMessage(message []byte) {
	var wsResp OkxWsData
	if err := json.Unmarshal(message, &wsResp); err != nil {
		return
	}

	// 忽略订阅确认等事件消息
	if wsResp.Event != "" {
		return
	}

	instID := wsResp.Arg.InstId
	if instID == "" || len(wsResp.Data) == 0 {
		return
	}

	switch wsResp.Arg.Channel {
	case "trades":
		c.handleTrades(instID, wsResp.Data)
	case "tickers":
		c.handleTickers(instID, wsResp.Data)
	case "books5":
		c.handleBooks(instID, wsResp.Data)
	case "funding-rate":
		c.handleFunding(wsResp.Data)
	}
}

func (c *Connector) handleTrades(symbol string, data json.RawMessage) {
	var trades []OkxTradeData
	if err := json.Unmarshal(data, &trades); err != nil {
		service.Logger.Error("Trade data unmarshal error", zap.Error(err))
		return
	}

	for _, t := range trades {
		price, err := service.StringToFloat(t.Price)
		if err != nil {
			continue
		}
		volume, err := service.StringToFloat(t.Size)
		if err != nil {
			continue
		}
		timestamp, err := service.StringToInt64(t.Timestamp)
		if err != nil {
			continue
		}

		// side="buy" 是主动买入 (Taker 买入)，否则为主动卖出
		ticker := model.Ticker{
			Symbol:       symbol,
			Timestamp:    timestamp,
			Price:        price,
			Volume:       volume,
			IsBuyerMaker: t.Side != "buy",
		}

		select {
		case c.tickerChan <- ticker:
		default:
			service.Logger.Warn("Ticker channel full! Dropping trade data.", zap.String("Symbol", symbol))
		}
	}
}

func (c *Connector) handleTickers(symbol string, data json.RawMessage) {
	var tickers []OkxTickerData
	if err := json.Unmarshal(data, &tickers); err != nil {
		service.Logger.Error("Tickers data unmarshal error", zap.Error(err))
		return
	}
	if len(tickers) == 0 {
		return
	}

	// 仅处理最新的快照
	t := tickers[0]
	price, err := service.StringToFloat(t.LastPrice)
	if err != nil {
		return
	}
	timestamp, _ := service.StringToInt64(t.Timestamp)

	// 价格快照: volume=0
	ticker := model.Ticker{
		Symbol:    symbol,
		Timestamp: timestamp,
		Price:     price,
	}

	select {
	case c.tickerChan <- ticker:
	default:
		service.Logger.Debug("Ticker channel full! Dropping ticker snapshot.", zap.String("Symbol", symbol))
	}
}

func (c *Connector) handleBooks(symbol string, data json.RawMessage) {
	var books []OkxBookData
	if err := json.Unmarshal(data, &books); err != nil {
		service.Logger.Error("Books data unmarshal error", zap.Error(err))
		return
	}
	if len(books) == 0 {
		return
	}

	b := books[0]
	timestamp, _ := service.StringToInt64(b.Timestamp)

	update := model.BookUpdate{
		Symbol:    symbol,
		Timestamp: timestamp,
		Bids:      parseBookLevels(b.Bids),
		Asks:      parseBookLevels(b.Asks),
	}

	select {
	case c.bookChan <- update:
	default:
		service.Logger.Debug("Book channel full! Dropping book snapshot.", zap.String("Symbol", symbol))
	}
}

func (c *Connector) handleFunding(data json.RawMessage) {
	var rates []OkxFundingData
	if err := json.Unmarshal(data, &rates); err != nil {
		service.Logger.Error("Funding data unmarshal error", zap.Error(err))
		return
	}

	for _, r := range rates {
		rate, err := service.StringToFloat(r.FundingRate)
		if err != nil {
			continue
		}
		nextRate, _ := service.StringToFloat(r.NextFundingRate)
		fundingTime, _ := service.StringToInt64(r.FundingTime)

		fr := model.FundingRate{
			Symbol:      r.InstId,
			Rate:        rate,
			NextRate:    nextRate,
			FundingTime: time.UnixMilli(fundingTime).UTC(),
		}

		select {
		case c.fundingChan <- fr:
		default:
		}
	}
}

// parseBookLevels 解析 Okx 的 [价格, 数量, ...] 档位数组，跳过无法解析的档位
func parseBookLevels(raw [][]string) []model.BookLevel {
	levels := make([]model.BookLevel, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		price, err := service.StringToFloat(l[0])
		if err != nil {
			continue
		}
		amount, err := service.StringToFloat(l[1])
		if err != nil {
			continue
		}
		levels = append(levels, model.BookLevel{Price: price, Amount: amount})
	}
	return levels
}

// GetTickerChannel 供 DataEngine 消费成交/快照流
func (c *Connector) GetTickerChannel() <-chan model.Ticker {
	return c.tickerChan
}

// GetBookChannel 供市场数据门面消费订单簿快照流
func (c *Connector) GetBookChannel() <-chan model.BookUpdate {
	return c.bookChan
}

// GetFundingChannel 供市场数据门面消费资金费率流
func (c *Connector) GetFundingChannel() <-chan model.FundingRate {
	return c.fundingChan
}
