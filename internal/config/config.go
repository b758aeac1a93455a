// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openkeeper/keeper/internal/exchange/rest"
	"github.com/openkeeper/keeper/internal/orderbook"
	"github.com/openkeeper/keeper/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Book        BookConfig        `yaml:"book"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Watchdog    WatchdogConfig    `yaml:"watchdog"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BookConfig holds order book manager settings.
type BookConfig struct {
	RefreshFrequencySec int  `yaml:"refresh_frequency_sec"`
	FetchBalances       bool `yaml:"fetch_balances"`
}

// ExchangeConfig holds exchange connectivity settings.
type ExchangeConfig struct {
	Type               string  `yaml:"type"` // rest | paper
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`
	APISecret          string  `yaml:"api_secret"`
	TimeoutSec         int     `yaml:"timeout_sec"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RetryCount         int     `yaml:"retry_count"`
	PaperLatencyMs     int     `yaml:"paper_latency_ms"`
}

// WatchdogConfig holds keeper watchdog settings.
type WatchdogConfig struct {
	IntervalSec          int `yaml:"interval_sec"`
	StaleAfterFailures   int `yaml:"stale_after_failures"`
	SummaryIntervalHours int `yaml:"summary_interval_hours"`
}

// PersistenceConfig holds journal settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. Environment
// variables in the document are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration, collecting all problems.
func (c *Config) Validate() error {
	var errs []string

	// Book validation
	if c.Book.RefreshFrequencySec < 0 {
		errs = append(errs, "book.refresh_frequency_sec must not be negative")
	}

	// Exchange validation
	switch c.Exchange.Type {
	case "rest":
		if c.Exchange.BaseURL == "" {
			errs = append(errs, "exchange.base_url is required for rest")
		}
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			errs = append(errs, "exchange.api_key and exchange.api_secret are required for rest")
		}
	case "paper":
	case "":
		errs = append(errs, "exchange.type is required")
	default:
		errs = append(errs, fmt.Sprintf("exchange.type '%s' is not supported", c.Exchange.Type))
	}
	if c.Exchange.RateLimitPerSecond < 0 {
		errs = append(errs, "exchange.rate_limit_per_second must not be negative")
	}

	// Watchdog validation
	if c.Watchdog.IntervalSec < 0 {
		errs = append(errs, "watchdog.interval_sec must not be negative")
	}
	if c.Watchdog.StaleAfterFailures < 0 {
		errs = append(errs, "watchdog.stale_after_failures must not be negative")
	}

	// Persistence validation
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	// Alerting validation
	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "console":
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: bot_token and chat_id are required for telegram", i))
				}
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: type '%s' is not supported", i, ch.Type))
			}
		}
	}

	// Logging validation
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level '%s' is not supported", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format '%s' is not supported", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToBookConfig converts to the order book manager config.
func (c *Config) ToBookConfig() orderbook.Config {
	cfg := orderbook.DefaultConfig()
	if c.Book.RefreshFrequencySec > 0 {
		cfg.RefreshInterval = time.Duration(c.Book.RefreshFrequencySec) * time.Second
	}
	return cfg
}

// ToRESTConfig converts to the REST exchange client config.
func (c *Config) ToRESTConfig() rest.Config {
	cfg := rest.DefaultConfig()
	cfg.BaseURL = c.Exchange.BaseURL
	cfg.APIKey = c.Exchange.APIKey
	cfg.APISecret = c.Exchange.APISecret
	if c.Exchange.TimeoutSec > 0 {
		cfg.Timeout = time.Duration(c.Exchange.TimeoutSec) * time.Second
	}
	if c.Exchange.RateLimitPerSecond > 0 {
		cfg.RateLimitPerSecond = c.Exchange.RateLimitPerSecond
	}
	if c.Exchange.RetryCount > 0 {
		cfg.RetryCount = c.Exchange.RetryCount
	}
	return cfg
}

// WatchdogInterval returns the watchdog tick interval.
func (c *Config) WatchdogInterval() time.Duration {
	if c.Watchdog.IntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Watchdog.IntervalSec) * time.Second
}

// SummaryInterval returns the activity summary interval, zero when
// disabled.
func (c *Config) SummaryInterval() time.Duration {
	return time.Duration(c.Watchdog.SummaryIntervalHours) * time.Hour
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
