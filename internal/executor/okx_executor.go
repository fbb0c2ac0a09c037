package executor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"wisp/internal/strategy"

	"go.uber.org/zap"
)

// OkxConfig 定义 Okx 执行器所需的全部配置
type OkxConfig struct {
	Symbol     string // 交易对，例如 "BTC-USDT-SWAP"
	APIKey     string
	SecretKey  string
	Passphrase string
	RESTURL    string
	Leverage   int
}

// OkxExecutor 实现了 Executor 接口，把信号转换为 Okx V5 REST 订单
// 本策略假定只允许单向持仓
type OkxExecutor struct {
	cfg        *OkxConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu              sync.RWMutex
	currentPosition *strategy.Position
	maxEquity       float64
	tradeHistory    []*strategy.TradeRecord
}

// NewOkxExecutor 初始化 Okx 执行器
func NewOkxExecutor(cfg *OkxConfig, logger *zap.Logger) *OkxExecutor {
	return &OkxExecutor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(zap.String("executor", "Okx")),
		currentPosition: &strategy.Position{
			Symbol:    cfg.Symbol,
			Direction: strategy.DirFlat,
		},
	}
}

// okxOrderRequest 是 /api/v5/trade/order 的请求体
type okxOrderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	PosSide string `json:"posSide"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
}

// okxResponse 是 Okx V5 REST 的通用响应信封
type okxResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ExecuteSignal 将交易信号转换为 Okx 订单指令
func (e *OkxExecutor) ExecuteSignal(ctx context.Context, signal strategy.Signal) error {
	switch signal.Action {
	case strategy.ActionOpen:
		return e.openPosition(ctx, signal)
	case strategy.ActionClose:
		return e.closePosition(ctx, signal)
	default:
		return nil
	}
}

func (e *OkxExecutor) openPosition(ctx context.Context, signal strategy.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 检查方向是否与当前持仓冲突
	if e.currentPosition.Direction != strategy.DirFlat {
		e.logger.Warn("Received OPEN signal, but already holding a position.",
			zap.String("CurrentDir", string(e.currentPosition.Direction)),
			zap.String("SignalDir", string(signal.Direction)))
		return nil
	}

	var side, posSide string
	switch signal.Direction {
	case strategy.DirLong:
		side, posSide = "buy", "long"
	case strategy.DirShort:
		side, posSide = "sell", "short"
	default:
		return fmt.Errorf("unsupported direction for open: %s", signal.Direction)
	}

	req := okxOrderRequest{
		InstID:  e.cfg.Symbol,
		TdMode:  "cross",
		Side:    side,
		PosSide: posSide,
		OrdType: "market",
		Sz:      strconv.FormatFloat(signal.Quantity, 'f', -1, 64),
	}
	if signal.Price > 0 {
		req.OrdType = "limit"
		req.Px = strconv.FormatFloat(signal.Price, 'f', -1, 64)
	}

	e.logger.Info("Sending Okx order...",
		zap.String("Side", side),
		zap.String("PosSide", posSide),
		zap.Float64("Size", signal.Quantity),
		zap.Float64("Price", signal.Price))

	if err := e.call(ctx, http.MethodPost, "/api/v5/trade/order", req, nil); err != nil {
		e.logger.Error("Okx place order failed", zap.Error(err))
		return err
	}

	// 乐观更新内部仓位状态，下一次 GetCurrentPosition 会用交易所数据校正
	e.currentPosition = &strategy.Position{
		Symbol:    signal.Symbol,
		Direction: signal.Direction,
		Size:      signal.Quantity,
		AvgPrice:  signal.Price,
		EntryTime: signal.Timestamp,
	}
	return nil
}

func (e *OkxExecutor) closePosition(ctx context.Context, signal strategy.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.currentPosition.Direction == strategy.DirFlat {
		return nil
	}

	// 平仓 = 反方向市价单
	side, posSide := "sell", "long"
	if e.currentPosition.Direction == strategy.DirShort {
		side, posSide = "buy", "short"
	}

	req := okxOrderRequest{
		InstID:  e.cfg.Symbol,
		TdMode:  "cross",
		Side:    side,
		PosSide: posSide,
		OrdType: "market",
		Sz:      strconv.FormatFloat(e.currentPosition.Size, 'f', -1, 64),
	}

	if err := e.call(ctx, http.MethodPost, "/api/v5/trade/order", req, nil); err != nil {
		e.logger.Error("Okx close order failed", zap.Error(err))
		return err
	}

	e.currentPosition = &strategy.Position{
		Symbol:    e.cfg.Symbol,
		Direction: strategy.DirFlat,
	}
	return nil
}

// okxPositionData 是 /api/v5/account/positions 的单条持仓
type okxPositionData struct {
	InstID   string `json:"instId"`
	PosSide  string `json:"posSide"`
	Pos      string `json:"pos"`
	AvgPx    string `json:"avgPx"`
	Upl      string `json:"upl"`
	CTimeStr string `json:"cTime"`
}

// GetCurrentPosition 查询交易所持仓并同步内部状态
func (e *OkxExecutor) GetCurrentPosition(ctx context.Context) (*strategy.Position, error) {
	var positions []okxPositionData
	path := "/api/v5/account/positions?instId=" + e.cfg.Symbol
	if err := e.call(ctx, http.MethodGet, path, nil, &positions); err != nil {
		// 查询失败时退回内部缓存，避免策略循环被交易所抖动打断
		e.logger.Warn("Okx get positions failed, using cached position", zap.Error(err))
		e.mu.RLock()
		defer e.mu.RUnlock()
		cached := *e.currentPosition
		return &cached, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos := &strategy.Position{Symbol: e.cfg.Symbol, Direction: strategy.DirFlat}
	for _, p := range positions {
		size, err := strconv.ParseFloat(p.Pos, 64)
		if err != nil || size == 0 {
			continue
		}
		avgPx, _ := strconv.ParseFloat(p.AvgPx, 64)
		upl, _ := strconv.ParseFloat(p.Upl, 64)
		cTime, _ := strconv.ParseInt(p.CTimeStr, 10, 64)

		dir := strategy.DirLong
		if p.PosSide == "short" {
			dir = strategy.DirShort
		}
		pos = &strategy.Position{
			Symbol:    p.InstID,
			Direction: dir,
			Size:      size,
			AvgPrice:  avgPx,
			UPL:       upl,
			EntryTime: time.UnixMilli(cTime).UTC(),
		}
		break
	}

	e.currentPosition = pos
	cached := *pos
	return &cached, nil
}

// okxBalanceData 是 /api/v5/account/balance 的精简视图
type okxBalanceData struct {
	TotalEq string `json:"totalEq"`
}

// GetBalance 查询账户总净值
func (e *OkxExecutor) GetBalance(ctx context.Context) (float64, error) {
	var balances []okxBalanceData
	if err := e.call(ctx, http.MethodGet, "/api/v5/account/balance", nil, &balances); err != nil {
		return 0, err
	}
	if len(balances) == 0 {
		return 0, fmt.Errorf("okx returned empty balance data")
	}

	eq, err := strconv.ParseFloat(balances[0].TotalEq, 64)
	if err != nil {
		return 0, fmt.Errorf("parse totalEq: %w", err)
	}

	e.mu.Lock()
	if eq > e.maxEquity {
		e.maxEquity = eq
	}
	e.mu.Unlock()

	return eq, nil
}

// GetMaxEquity 返回进程内观测到的最高净值
func (e *OkxExecutor) GetMaxEquity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxEquity
}

// GetTradeHistory 返回进程内记录的已平仓交易
func (e *OkxExecutor) GetTradeHistory() []*strategy.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*strategy.TradeRecord, len(e.tradeHistory))
	copy(out, e.tradeHistory)
	return out
}

// call 发送带 Okx V5 签名的 REST 请求并解码通用信封
func (e *OkxExecutor) call(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, e.cfg.RESTURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	// Okx V5 签名: base64(hmac_sha256(timestamp + method + path + body))
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	mac := hmac.New(sha256.New, []byte(e.cfg.SecretKey))
	mac.Write([]byte(ts + method + path + string(payload)))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", e.cfg.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sign)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", e.cfg.Passphrase)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope okxResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode okx response: %w", err)
	}
	if envelope.Code != "0" {
		return fmt.Errorf("okx error %s: %s", envelope.Code, envelope.Msg)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode okx data: %w", err)
		}
	}
	return nil
}
