// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/exec"
	"github.com/quangdv/optionsbot/internal/lifecycle"
	"github.com/quangdv/optionsbot/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Alerting    AlertingConfig    `yaml:"alerting"`
}

// GatewayConfig holds venue connectivity settings.
type GatewayConfig struct {
	Type               string `yaml:"type"` // deribit | sim
	BaseURL            string `yaml:"base_url"`
	WSURL              string `yaml:"ws_url"`
	APIKey             string `yaml:"api_key"`
	APISecret          string `yaml:"api_secret"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
	TimeoutSec         int    `yaml:"timeout_sec"`
}

// ExecutionConfig holds smart execution defaults.
type ExecutionConfig struct {
	ChunkCount            int     `yaml:"chunk_count"`
	TimePerChunkSec       int     `yaml:"time_per_chunk_sec"`
	QuoteStrategy         string  `yaml:"quote_strategy"`
	SpreadPct             float64 `yaml:"spread_pct"`
	RepriceIntervalSec    int     `yaml:"reprice_interval_sec"`
	RepricePriceThreshold float64 `yaml:"reprice_price_threshold"`
	MinOrderQty           float64 `yaml:"min_order_qty"`
	AggressiveAttempts    int     `yaml:"aggressive_attempts"`
	AggressiveWaitSec     int     `yaml:"aggressive_wait_sec"`
	AggressivePauseSec    int     `yaml:"aggressive_pause_sec"`
	MaxSlippagePct        float64 `yaml:"max_slippage_pct"`
	PollIntervalMs        int     `yaml:"poll_interval_ms"`
}

// LifecycleConfig holds trade lifecycle settings.
type LifecycleConfig struct {
	RFQMinNotional   float64 `yaml:"rfq_min_notional"`
	SmartMinNotional float64 `yaml:"smart_min_notional"`
	TickIntervalSec  int     `yaml:"tick_interval_sec"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // console | telegram
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment variable
// references in the file (${VAR}) are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Type:               "sim",
			RateLimitPerSecond: 10,
			TimeoutSec:         10,
		},
		Execution: ExecutionConfig{
			ChunkCount:            5,
			TimePerChunkSec:       600,
			QuoteStrategy:         "top_of_book",
			SpreadPct:             0.5,
			RepriceIntervalSec:    10,
			RepricePriceThreshold: 0.1,
			MinOrderQty:           0.01,
			AggressiveAttempts:    10,
			AggressiveWaitSec:     5,
			AggressivePauseSec:    1,
			PollIntervalMs:        500,
		},
		Lifecycle: LifecycleConfig{
			RFQMinNotional:   50000,
			SmartMinNotional: 10000,
			TickIntervalSec:  30,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// Validate validates the configuration, collecting all problems.
func (c *Config) Validate() error {
	var errs []string

	switch c.Gateway.Type {
	case "deribit", "sim":
	default:
		errs = append(errs, fmt.Sprintf("gateway.type '%s' must be 'deribit' or 'sim'", c.Gateway.Type))
	}
	if c.Gateway.Type == "deribit" {
		if c.Gateway.BaseURL == "" {
			errs = append(errs, "gateway.base_url is required for deribit")
		}
		if c.Gateway.APIKey == "" || c.Gateway.APISecret == "" {
			errs = append(errs, "gateway.api_key and gateway.api_secret are required for deribit")
		}
	}
	if c.Gateway.RateLimitPerSecond <= 0 {
		errs = append(errs, "gateway.rate_limit_per_second must be positive")
	}

	if c.Execution.ChunkCount < 1 {
		errs = append(errs, "execution.chunk_count must be >= 1")
	}
	if c.Execution.TimePerChunkSec <= 0 {
		errs = append(errs, "execution.time_per_chunk_sec must be positive")
	}
	if c.Execution.MinOrderQty <= 0 {
		errs = append(errs, "execution.min_order_qty must be positive")
	}
	if c.Execution.AggressiveWaitSec <= 0 {
		errs = append(errs, "execution.aggressive_wait_sec must be positive")
	}

	if c.Lifecycle.RFQMinNotional < c.Lifecycle.SmartMinNotional {
		errs = append(errs, "lifecycle.rfq_min_notional must be >= lifecycle.smart_min_notional")
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "console":
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
				}
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: unknown type '%s'", i, ch.Type))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToExecConfig converts the execution section to an engine config.
func (c *Config) ToExecConfig() exec.Config {
	return exec.Config{
		ChunkCount:         c.Execution.ChunkCount,
		TimePerChunk:       time.Duration(c.Execution.TimePerChunkSec) * time.Second,
		Strategy:           exec.QuoteStrategy(c.Execution.QuoteStrategy),
		SpreadPct:          decimal.NewFromFloat(c.Execution.SpreadPct),
		RepriceInterval:    time.Duration(c.Execution.RepriceIntervalSec) * time.Second,
		RepriceThreshold:   decimal.NewFromFloat(c.Execution.RepricePriceThreshold),
		MinOrderQty:        decimal.NewFromFloat(c.Execution.MinOrderQty),
		AggressiveAttempts: c.Execution.AggressiveAttempts,
		AggressiveWait:     time.Duration(c.Execution.AggressiveWaitSec) * time.Second,
		AggressivePause:    time.Duration(c.Execution.AggressivePauseSec) * time.Second,
		MaxSlippagePct:     decimal.NewFromFloat(c.Execution.MaxSlippagePct),
		PollInterval:       time.Duration(c.Execution.PollIntervalMs) * time.Millisecond,
	}
}

// ToLifecycleConfig converts the lifecycle section to a manager config.
func (c *Config) ToLifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		RFQMinNotional:   decimal.NewFromFloat(c.Lifecycle.RFQMinNotional),
		SmartMinNotional: decimal.NewFromFloat(c.Lifecycle.SmartMinNotional),
		Exec:             c.ToExecConfig(),
	}
}

// GatewayTimeout returns the gateway request timeout.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSec) * time.Second
}

// TickInterval returns the lifecycle tick cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Lifecycle.TickIntervalSec) * time.Second
}
