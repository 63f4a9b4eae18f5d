// Package config loads and validates the service configuration from a YAML
// file and PAPERCORE_* environment variable overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/frontier-trading/papercore/pkg/models"
)

// Config is the root configuration tree.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Risk    RiskConfig    `mapstructure:"risk" yaml:"risk"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Feed    FeedConfig    `mapstructure:"feed" yaml:"feed"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EngineConfig holds the trading engine settings.
type EngineConfig struct {
	StartingCash   string        `mapstructure:"starting_cash" yaml:"starting_cash"`
	CommissionRate string        `mapstructure:"commission_rate" yaml:"commission_rate"`
	Symbols        []AssetConfig `mapstructure:"symbols" yaml:"symbols"`
}

// AssetConfig describes one tradable symbol.
type AssetConfig struct {
	Symbol   string `mapstructure:"symbol" yaml:"symbol"`
	Name     string `mapstructure:"name" yaml:"name"`
	Exchange string `mapstructure:"exchange" yaml:"exchange"`
	TickSize string `mapstructure:"tick_size" yaml:"tick_size"`
	LotSize  string `mapstructure:"lot_size" yaml:"lot_size"`
}

// RiskConfig holds the configurable risk limits.
type RiskConfig struct {
	MaxPositionSize    string `mapstructure:"max_position_size" yaml:"max_position_size"`
	MaxDailyLoss       string `mapstructure:"max_daily_loss" yaml:"max_daily_loss"`
	MaxDrawdown        string `mapstructure:"max_drawdown" yaml:"max_drawdown"`
	MaxLeverage        string `mapstructure:"max_leverage" yaml:"max_leverage"`
	MaxConcentration   string `mapstructure:"max_concentration" yaml:"max_concentration"`
	AllowShortSelling  bool   `mapstructure:"allow_short_selling" yaml:"allow_short_selling"`
	PositionEquityFrac string `mapstructure:"position_equity_fraction" yaml:"position_equity_fraction"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// FeedConfig holds the simulated market-data feed settings.
type FeedConfig struct {
	Simulate   bool     `mapstructure:"simulate" yaml:"simulate"`
	IntervalMs int      `mapstructure:"interval_ms" yaml:"interval_ms"`
	Seed       int64    `mapstructure:"seed" yaml:"seed"`
	Symbols    []string `mapstructure:"symbols" yaml:"symbols"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from the given file (optional) and the
// environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("engine.starting_cash", "100000")
	v.SetDefault("engine.commission_rate", "0")
	v.SetDefault("risk.max_position_size", "100000")
	v.SetDefault("risk.max_daily_loss", "5000")
	v.SetDefault("risk.max_drawdown", "0.10")
	v.SetDefault("risk.max_leverage", "2")
	v.SetDefault("risk.max_concentration", "0.25")
	v.SetDefault("risk.allow_short_selling", false)
	v.SetDefault("risk.position_equity_fraction", "0.20")
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "papercore.db")
	v.SetDefault("feed.simulate", false)
	v.SetDefault("feed.interval_ms", 1000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetEnvPrefix("PAPERCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	cash, err := decimal.NewFromString(c.Engine.StartingCash)
	if err != nil {
		return fmt.Errorf("invalid starting cash %q: %w", c.Engine.StartingCash, err)
	}
	if cash.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("starting cash must be positive")
	}
	rate, err := decimal.NewFromString(c.Engine.CommissionRate)
	if err != nil {
		return fmt.Errorf("invalid commission rate %q: %w", c.Engine.CommissionRate, err)
	}
	if rate.IsNegative() {
		return fmt.Errorf("commission rate must not be negative")
	}
	for _, a := range c.Engine.Symbols {
		if a.Symbol == "" {
			return fmt.Errorf("asset with empty symbol in engine.symbols")
		}
	}
	if _, err := c.RiskLimits(); err != nil {
		return err
	}
	if c.Feed.Simulate && c.Feed.IntervalMs <= 0 {
		return fmt.Errorf("feed interval must be positive, got %d", c.Feed.IntervalMs)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	return nil
}

// StartingCash returns the parsed starting cash balance.
func (c *Config) StartingCash() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Engine.StartingCash)
	return d
}

// CommissionRate returns the parsed per-trade commission rate.
func (c *Config) CommissionRate() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Engine.CommissionRate)
	return d
}

// PositionEquityFraction returns the parsed per-position equity cap fraction.
func (c *Config) PositionEquityFraction() decimal.Decimal {
	d, err := decimal.NewFromString(c.Risk.PositionEquityFrac)
	if err != nil {
		return decimal.NewFromFloat(0.20)
	}
	return d
}

// Assets converts the configured symbols into domain assets.
func (c *Config) Assets() ([]models.Asset, error) {
	out := make([]models.Asset, 0, len(c.Engine.Symbols))
	for _, a := range c.Engine.Symbols {
		asset := models.Asset{Symbol: a.Symbol, Name: a.Name, Exchange: a.Exchange}
		var err error
		if a.TickSize != "" {
			if asset.TickSize, err = decimal.NewFromString(a.TickSize); err != nil {
				return nil, fmt.Errorf("invalid tick size for %s: %w", a.Symbol, err)
			}
		} else {
			asset.TickSize = decimal.NewFromFloat(0.01)
		}
		if a.LotSize != "" {
			if asset.LotSize, err = decimal.NewFromString(a.LotSize); err != nil {
				return nil, fmt.Errorf("invalid lot size for %s: %w", a.Symbol, err)
			}
		} else {
			asset.LotSize = decimal.NewFromInt(1)
		}
		out = append(out, asset)
	}
	return out, nil
}

// RiskLimits converts the configured limits into the domain representation.
func (c *Config) RiskLimits() (models.RiskLimits, error) {
	limits := models.DefaultRiskLimits()
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"max_position_size", c.Risk.MaxPositionSize, &limits.MaxPositionSize},
		{"max_daily_loss", c.Risk.MaxDailyLoss, &limits.MaxDailyLoss},
		{"max_drawdown", c.Risk.MaxDrawdown, &limits.MaxDrawdown},
		{"max_leverage", c.Risk.MaxLeverage, &limits.MaxLeverage},
		{"max_concentration", c.Risk.MaxConcentration, &limits.MaxConcentration},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return limits, fmt.Errorf("invalid risk.%s %q: %w", f.name, f.raw, err)
		}
		if d.IsNegative() {
			return limits, fmt.Errorf("risk.%s must not be negative", f.name)
		}
		*f.dst = d
	}
	limits.AllowShortSelling = c.Risk.AllowShortSelling
	return limits, nil
}
