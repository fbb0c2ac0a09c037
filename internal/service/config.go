// internal/service/config.go
package service

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ExchangeConfig 定义了交易所的连接信息
type ExchangeConfig struct {
	Name       string
	APIKey     string `mapstructure:"api_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Passphrase string // Okx 独有
	WSURL      string `mapstructure:"ws_url"`
	RESTURL    string `mapstructure:"rest_url"`
}

// StrategyConfig 定义了策略启动参数
type StrategyConfig struct {
	Name     string
	Symbol   string
	Exchange string
	// Interval 是策略回调的驱动周期 (即 strategy.interval)
	Interval string
	// AnchorInterval 是状态机判定市场状态的宏观周期
	AnchorInterval string `mapstructure:"anchor_interval"`
	// Intervals 是需要聚合并计算指标的全部周期
	Intervals []string

	// Params 来自 strategies/<name>/config.yaml，策略自行解释
	Params map[string]float64
}

// RiskConfig 定义了风控和仓位信息
type RiskConfig struct {
	MaxPositionSize       float64 `mapstructure:"max_position_size"`
	MinPositionSize       float64 `mapstructure:"min_position_size"`
	MaxTotalCapital       float64 `mapstructure:"max_total_capital"`
	MaxPerTradeRisk       float64 `mapstructure:"max_per_trade_risk"`
	FixedLeverage         int     `mapstructure:"fixed_leverage"`
	StopLossATRMultiplier float64 `mapstructure:"stop_loss_atr_multiplier"`
	RiskRewardRatio       float64 `mapstructure:"risk_reward_ratio"`
	// 仓位缩放因子 实际仓位大小 = 基础仓位大小 × PositionScaleFactor
	PositionScaleFactor float64 `mapstructure:"position_scale_factor"`
}

// BacktestConfig 定义了回测运行参数
type BacktestConfig struct {
	DataFile       string  `mapstructure:"data_file"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	FeeRate        float64 `mapstructure:"fee_rate"`
	Leverage       float64
}

// ServerConfig 定义了本地状态服务的监听地址
type ServerConfig struct {
	Addr string
}

type Config struct {
	Exchanges []ExchangeConfig `mapstructure:"exchanges"`
	Strategy  StrategyConfig   `mapstructure:"strategy"`
	Risk      RiskConfig       `mapstructure:"risk"`
	Backtest  BacktestConfig   `mapstructure:"backtest"`
	Server    ServerConfig     `mapstructure:"server"`
}

// Exchange 按名称查找交易所配置
func (c *Config) Exchange(name string) (*ExchangeConfig, error) {
	for i := range c.Exchanges {
		if c.Exchanges[i].Name == name {
			return &c.Exchanges[i], nil
		}
	}
	return nil, fmt.Errorf("exchange %q not found in config", name)
}

// ConfirmInterval 选择比 AnchorInterval 更高一级的周期做趋势确认，没有则返回空串
func (c *StrategyConfig) ConfirmInterval() string {
	anchor, err := ParseIntervalDuration(c.AnchorInterval)
	if err != nil {
		return ""
	}

	best := time.Duration(0)
	for _, s := range c.Intervals {
		d, err := ParseIntervalDuration(s)
		if err != nil {
			continue
		}
		if d > anchor && (best == 0 || d < best) {
			best = d
		}
	}
	if best == 0 {
		return ""
	}
	return FormatInterval(best)
}

// IntervalDurations 解析策略需要的全部 K 线周期
func (c *StrategyConfig) IntervalDurations() ([]time.Duration, error) {
	if len(c.Intervals) == 0 {
		return nil, fmt.Errorf("strategy.intervals is empty")
	}
	out := make([]time.Duration, 0, len(c.Intervals))
	for _, s := range c.Intervals {
		d, err := ParseIntervalDuration(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// GlobalConfig 存储加载后的全局配置
var GlobalConfig Config

// LoadConfig 读取并解析 config.yaml，配置缺失时直接退出
func LoadConfig(configPath string) *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// 允许通过环境变量覆盖敏感字段，例如 WISP_EXCHANGES_0_API_KEY
	v.SetEnvPrefix("WISP")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Fatalf("Config file not found: %s", err)
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	}

	if err := v.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode config into struct: %s", err)
	}

	return &GlobalConfig
}

// LoadStrategyParams 读取 strategies/<name>/config.yaml 并合并进策略配置
// 文件不存在时返回空参数，不视为错误
func LoadStrategyParams(baseDir, name string) (map[string]float64, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(baseDir, "strategies", name))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return map[string]float64{}, nil
		}
		return nil, fmt.Errorf("read strategy config for %s: %w", name, err)
	}

	params := map[string]float64{}
	if err := v.UnmarshalKey("params", &params); err != nil {
		return nil, fmt.Errorf("decode strategy params for %s: %w", name, err)
	}
	return params, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("strategy.interval", "5m")
	v.SetDefault("strategy.anchor_interval", "1h")
	v.SetDefault("strategy.intervals", []string{"1m", "5m", "15m", "1h", "4h"})
	v.SetDefault("risk.max_per_trade_risk", 0.02)
	v.SetDefault("risk.stop_loss_atr_multiplier", 1.5)
	v.SetDefault("risk.risk_reward_ratio", 1.5)
	v.SetDefault("risk.fixed_leverage", 3)
	v.SetDefault("risk.position_scale_factor", 1.0)
	v.SetDefault("backtest.initial_capital", 10000)
	v.SetDefault("backtest.fee_rate", 0.0005)
	v.SetDefault("backtest.leverage", 3)
	v.SetDefault("server.addr", "127.0.0.1:7070")
}
