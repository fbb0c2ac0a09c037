package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"wisp/internal/api"
	"wisp/internal/backtest"
	"wisp/internal/executor"
	"wisp/internal/market"
	"wisp/internal/model"
	"wisp/internal/server"
	"wisp/internal/service"
	"wisp/internal/strategy"
	"wisp/pkg/ta"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const usage = `wisp - streaming technical-analysis strategy runtime

Usage:
  wisp init <strategy>      scaffold config.yaml and strategies/<strategy>/
  wisp backtest <strategy>  replay historical candles through the strategy
  wisp live <strategy>      run against the exchange (paper mode without API keys)
  wisp status               query a running instance
  wisp stop                 stop a running instance gracefully
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// .env 只在本地开发存在，找不到不算错误
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "backtest":
		err = cmdBacktest(os.Args[2:])
	case "live":
		err = cmdLive(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "stop":
		err = cmdStop(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig 读取工作目录下的 config.yaml 并合并策略参数文件
func loadConfig(name string) *service.Config {
	cfg := service.LoadConfig(".")
	if name != "" {
		cfg.Strategy.Name = name
	}

	params, err := service.LoadStrategyParams(".", cfg.Strategy.Name)
	if err != nil {
		service.Logger.Fatal("Failed to load strategy params", zap.Error(err))
	}
	cfg.Strategy.Params = params

	return cfg
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: wisp init <strategy>")
	}
	name := fs.Arg(0)

	if _, err := os.Stat("config.yaml"); err == nil {
		return errors.New("config.yaml already exists, refusing to overwrite")
	}

	rootCfg := fmt.Sprintf(`exchanges:
  - name: okx
    ws_url: "wss://ws.okx.com:8443/ws/v5/public"
    rest_url: "https://www.okx.com"
    # api_key / secret_key / passphrase 建议通过 .env 注入

strategy:
  name: %s
  symbol: "BTC-USDT-SWAP"
  exchange: okx
  interval: "5m"
  anchor_interval: "1h"
  intervals: ["1m", "5m", "15m", "1h", "4h"]

risk:
  max_total_capital: 10000
  max_per_trade_risk: 0.02
  max_position_size: 1.0
  min_position_size: 0.001
  fixed_leverage: 3
  stop_loss_atr_multiplier: 1.5
  risk_reward_ratio: 1.5
  position_scale_factor: 1.0

backtest:
  data_file: "data/candles.csv"
  initial_capital: 10000
  fee_rate: 0.0005
  leverage: 3

server:
  addr: "127.0.0.1:7070"
`, name)

	strategyCfg := `# 策略私有参数，由 Env.Param 读取
params:
  atr_factor: 1.5
  rsi_gate: 50
`

	if err := os.WriteFile("config.yaml", []byte(rootCfg), 0o644); err != nil {
		return err
	}
	dir := filepath.Join("strategies", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(strategyCfg), 0o644); err != nil {
		return err
	}
	if err := os.MkdirAll("data", 0o755); err != nil {
		return err
	}

	fmt.Printf("Initialized wisp workspace for strategy %q\n", name)
	fmt.Println("  config.yaml")
	fmt.Printf("  %s\n", filepath.Join(dir, "config.yaml"))
	return nil
}

func cmdBacktest(args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	dataFile := fs.String("data", "", "override backtest.data_file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	service.InitLogger()
	defer service.Logger.Sync()

	cfg := loadConfig(fs.Arg(0))
	if *dataFile != "" {
		cfg.Backtest.DataFile = *dataFile
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := backtest.NewEngine(cfg, service.Logger).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Print(report.String())
	return nil
}

func cmdLive(args []string) error {
	fs := flag.NewFlagSet("live", flag.ExitOnError)
	paper := fs.Bool("paper", false, "force the simulator even when API keys are configured")
	if err := fs.Parse(args); err != nil {
		return err
	}

	service.InitLogger()
	defer service.Logger.Sync()
	logger := service.Logger

	cfg := loadConfig(fs.Arg(0))
	stratCfg := &cfg.Strategy
	symbol := stratCfg.Symbol

	ex, err := cfg.Exchange(stratCfg.Exchange)
	if err != nil {
		return err
	}
	intervals, err := stratCfg.IntervalDurations()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 数据管道: Connector → DataEngine → (K 线 → Scheduler, Ticker → Facade/Simulator)
	connector := api.NewConnector(ex.WSURL, []string{symbol})
	store := model.NewHistoryStore(0)
	dataEngine := model.NewDataEngine(connector.GetTickerChannel(), symbol, intervals, store)
	facade := market.NewFacade(store)

	taClient := ta.NewTACalculator(ta.DefaultOptions(), logger)
	sizer := strategy.NewSizer(&cfg.Risk, logger)

	strat, err := strategy.NewStrategy(stratCfg.Name, sizer, logger)
	if err != nil {
		return err
	}
	sm := strategy.NewStateMachine(taClient, symbol,
		stratCfg.AnchorInterval, stratCfg.ConfirmInterval(), logger)

	// 没有 API Key 时自动降级为模拟盘
	var exec strategy.Executor
	var sim *executor.SimulatorExecutor
	if *paper || ex.APIKey == "" {
		logger.Info("Running in PAPER mode (simulator executor)")
		sim = executor.NewSimulatorExecutor(&executor.SimulatorConfig{
			InitialCapital: cfg.Backtest.InitialCapital,
			Leverage:       cfg.Backtest.Leverage,
			FeeRate:        cfg.Backtest.FeeRate,
		}, logger)
		exec = sim
	} else {
		logger.Warn("Running in LIVE mode, real orders will be placed",
			zap.String("exchange", ex.Name), zap.String("symbol", symbol))
		exec = executor.NewOkxExecutor(&executor.OkxConfig{
			Symbol:     symbol,
			APIKey:     ex.APIKey,
			SecretKey:  ex.SecretKey,
			Passphrase: ex.Passphrase,
			RESTURL:    ex.RESTURL,
			Leverage:   cfg.Risk.FixedLeverage,
		}, logger)
	}

	sched := strategy.NewScheduler(strategy.SchedulerConfig{
		Strategy:       strat,
		StateMachine:   sm,
		TA:             taClient,
		Facade:         facade,
		Executor:       exec,
		Sizer:          sizer,
		Symbol:         symbol,
		Exchange:       stratCfg.Exchange,
		Interval:       stratCfg.Interval,
		AnchorInterval: stratCfg.AnchorInterval,
		Params:         stratCfg.Params,
		Logger:         logger,
	})

	startedAt := time.Now()
	statusFn := func(ctx context.Context) server.Status {
		st := server.Status{
			Strategy:  stratCfg.Name,
			Symbol:    symbol,
			Interval:  stratCfg.Interval,
			State:     string(sm.GetCurrentState()),
			Direction: string(strategy.DirFlat),
			StartedAt: startedAt,
		}
		if equity, err := exec.GetBalance(ctx); err == nil {
			st.Equity = equity
		}
		if pos, err := exec.GetCurrentPosition(ctx); err == nil && pos != nil {
			st.Direction = string(pos.Direction)
			st.Size = pos.Size
			st.AvgPrice = pos.AvgPrice
		}
		if price, err := facade.CurrentPrice(symbol); err == nil {
			st.LastPrice = price
		}
		if pv, err := facade.Preview(symbol); err == nil {
			st.IntrabarRSI = pv.RSI
		}
		return st
	}
	statusSrv := server.New(cfg.Server.Addr, statusFn, cancel, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		connector.Start(gctx)
		return nil
	})
	g.Go(func() error {
		dataEngine.Start()
		return nil
	})
	g.Go(func() error {
		// Ticker 广播喂给行情门面和模拟执行器
		for ticker := range dataEngine.GetBroadcasterTickerChannel() {
			facade.ApplyTicker(ticker)
			if sim != nil {
				sim.ProcessTicker(ticker)
			}
		}
		return nil
	})
	g.Go(func() error {
		facade.Run(gctx, nil, connector.GetBookChannel(), connector.GetFundingChannel())
		return nil
	})
	g.Go(func() error {
		return sched.Run(gctx, dataEngine.GetCandleChannel())
	})
	g.Go(func() error {
		return statusSrv.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return statusSrv.Shutdown(shutdownCtx)
	})

	logger.Info("wisp live started",
		zap.String("strategy", stratCfg.Name),
		zap.String("symbol", symbol),
		zap.String("interval", stratCfg.Interval))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("wisp stopped")
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:7070", "status server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := server.QueryStatus(ctx, *addr)
	if err != nil {
		return err
	}

	fmt.Printf("Strategy:  %s (%s @ %s)\n", st.Strategy, st.Symbol, st.Interval)
	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Equity:    %.2f\n", st.Equity)
	fmt.Printf("Price:     %.2f (intrabar RSI %.1f)\n", st.LastPrice, st.IntrabarRSI)
	fmt.Printf("Position:  %s %.6f @ %.2f\n", st.Direction, st.Size, st.AvgPrice)
	fmt.Printf("Uptime:    %s\n", time.Since(st.StartedAt).Round(time.Second))
	return nil
}

func cmdStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:7070", "status server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.RequestStop(ctx, *addr); err != nil {
		return err
	}
	fmt.Println("Stop requested")
	return nil
}
