// Package config provides configuration management for the trading agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig `mapstructure:"trading"`
	Risk        RiskConfig    `mapstructure:"risk"`
	Oracle      OracleConfig  `mapstructure:"oracle"`
	News        NewsConfig    `mapstructure:"news"`
	Scanner     ScannerConfig `mapstructure:"scanner"`
	Server      ServerConfig  `mapstructure:"server"`
	Credentials Credentials   `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds the decision-loop configuration.
type TradingConfig struct {
	Mode             string        `mapstructure:"mode"`              // "live", "paper"
	CycleInterval    time.Duration `mapstructure:"cycle_interval"`    // fixed decision interval
	MarketOpen       string        `mapstructure:"market_open"`       // HH:MM, IST
	MarketClose      string        `mapstructure:"market_close"`      // HH:MM, IST
	SquareOffTime    string        `mapstructure:"square_off_time"`   // HH:MM, EOD forced-exit cutoff
	OrderFillTimeout time.Duration `mapstructure:"order_fill_timeout"`
	SnapshotMaxAge   time.Duration `mapstructure:"snapshot_max_age"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"` // per external call
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	Leverage             float64 `mapstructure:"leverage"`
	PerTradeRiskFraction float64 `mapstructure:"per_trade_risk_fraction"`
	MinMargin            float64 `mapstructure:"min_margin"`
	MaxCapitalAtRisk     float64 `mapstructure:"max_capital_at_risk"`
	MaxPositionValue     float64 `mapstructure:"max_position_value"`
	MaxTradesPerDay      int     `mapstructure:"max_trades_per_day"`
	MinConfidence        float64 `mapstructure:"min_confidence"`
	RejectHaltThreshold  int     `mapstructure:"reject_halt_threshold"`
}

// OracleConfig holds reasoning-oracle configuration.
type OracleConfig struct {
	Model              string        `mapstructure:"model"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RecentRecordWindow int           `mapstructure:"recent_record_window"`
}

// NewsConfig holds the headline-feed configuration.
type NewsConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	ArticleLimit int  `mapstructure:"article_limit"`
	LookbackDays int  `mapstructure:"lookback_days"`
}

// ScannerConfig holds instrument-selection configuration.
type ScannerConfig struct {
	AutoPick     bool     `mapstructure:"auto_pick"`
	CompareCount int      `mapstructure:"compare_count"`
	RandomSample bool     `mapstructure:"random_sample"`
	FixedSymbols []string `mapstructure:"fixed_symbols"`
}

// ServerConfig holds the read-only status server configuration.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
	OpenAI  OpenAICredentials  `mapstructure:"openai"`
	NewsAPI NewsAPICredentials `mapstructure:"newsapi"`
}

// ZerodhaCredentials holds Zerodha API credentials.
type ZerodhaCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	UserID    string `mapstructure:"user_id"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// NewsAPICredentials holds NewsAPI credentials.
type NewsAPICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/intraday-trader"
	}
	return filepath.Join(home, ".config", "intraday-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := createTemplateConfig(configDir); err != nil {
				return err
			}
			return v.Unmarshal(target)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.cycle_interval", "100s")
	v.SetDefault("trading.market_open", "09:15")
	v.SetDefault("trading.market_close", "15:30")
	v.SetDefault("trading.square_off_time", "15:10")
	v.SetDefault("trading.order_fill_timeout", "45s")
	v.SetDefault("trading.snapshot_max_age", "60s")
	v.SetDefault("trading.call_timeout", "30s")

	v.SetDefault("risk.leverage", 5.0)
	v.SetDefault("risk.per_trade_risk_fraction", 0.01)
	v.SetDefault("risk.min_margin", 1000.0)
	v.SetDefault("risk.max_capital_at_risk", 1000000.0)
	v.SetDefault("risk.max_position_value", 100000.0)
	v.SetDefault("risk.max_trades_per_day", 20)
	v.SetDefault("risk.min_confidence", 0.75)
	v.SetDefault("risk.reject_halt_threshold", 3)

	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.timeout", "60s")
	v.SetDefault("oracle.recent_record_window", 5)

	v.SetDefault("news.enabled", false)
	v.SetDefault("news.article_limit", 5)
	v.SetDefault("news.lookback_days", 7)

	v.SetDefault("scanner.auto_pick", true)
	v.SetDefault("scanner.compare_count", 10)
	v.SetDefault("scanner.random_sample", true)
	v.SetDefault("scanner.fixed_symbols", []string{"SILVERBEES"})

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", "127.0.0.1:8420")
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("NEWSAPI_API_KEY"); v != "" {
		cfg.Credentials.NewsAPI.APIKey = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if c.Trading.CycleInterval <= 0 {
		return fmt.Errorf("cycle_interval must be positive")
	}
	if _, err := ParseClock(c.Trading.SquareOffTime); err != nil {
		return fmt.Errorf("square_off_time: %w", err)
	}
	if _, err := ParseClock(c.Trading.MarketOpen); err != nil {
		return fmt.Errorf("market_open: %w", err)
	}
	if _, err := ParseClock(c.Trading.MarketClose); err != nil {
		return fmt.Errorf("market_close: %w", err)
	}
	if c.Risk.PerTradeRiskFraction <= 0 || c.Risk.PerTradeRiskFraction > 1 {
		return fmt.Errorf("per_trade_risk_fraction must be in (0, 1]")
	}
	if c.Risk.Leverage < 1 {
		return fmt.Errorf("leverage must be >= 1")
	}
	if c.Oracle.RecentRecordWindow < 0 {
		return fmt.Errorf("recent_record_window must be non-negative")
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

// ParseClock parses an "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// Minutes returns the clock value of t in its own location.
func Minutes(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}
