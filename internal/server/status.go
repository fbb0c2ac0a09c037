package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Status 是 /status 返回的运行快照，也是 `wisp status` 的输出
type Status struct {
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	State     string    `json:"state"`
	Equity    float64   `json:"equity"`
	Direction string    `json:"direction"`
	Size      float64   `json:"size"`
	AvgPrice  float64   `json:"avg_price"`
	LastPrice float64   `json:"last_price"`
	// IntrabarRSI 是成交流上的增量 RSI 预览，预热完成前为 0
	IntrabarRSI float64   `json:"intrabar_rsi"`
	StartedAt   time.Time `json:"started_at"`
}

// StatusFunc 由运行时提供，采集当前状态
type StatusFunc func(ctx context.Context) Status

// Server 是本地状态服务，承载 `wisp status` / `wisp stop` 和 Prometheus 指标
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// New 创建状态服务
// stopFn 在收到 POST /stop 时被调用一次，用于触发优雅退出
func New(addr string, statusFn StatusFunc, stopFn context.CancelFunc, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	// Prometheus 指标：净值作为 GaugeFunc 暴露
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "wisp_equity",
			Help: "Current account equity reported by the executor.",
		},
		func() float64 {
			return statusFn(context.Background()).Equity
		},
	))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"HEALTHY"}`))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statusFn(r.Context())); err != nil {
			logger.Error("Failed to encode status", zap.Error(err))
		}
	})

	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		logger.Info("Stop requested via status server")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"STOPPING"}`))
		stopFn()
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: time.Second,
		},
		logger: logger,
	}
}

// Serve 监听并服务直到 Shutdown 或 ctx 取消
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	s.logger.Info("Status server listening", zap.String("addr", s.srv.Addr))

	err = s.srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// QueryStatus 是 `wisp status` 使用的客户端
func QueryStatus(ctx context.Context, addr string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is a wisp instance running on %s? %w", addr, err)
	}
	defer resp.Body.Close()

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

// RequestStop 是 `wisp stop` 使用的客户端
func RequestStop(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/stop", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("is a wisp instance running on %s? %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stop rejected: HTTP %d", resp.StatusCode)
	}
	return nil
}
