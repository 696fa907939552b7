// Package config loads service settings from the environment (and an
// optional .env file).
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Port     string `env:"PORT" envDefault:"8080"`

	Postgres   Postgres
	Redis      Redis
	MarketData MarketData
	Engine     Engine
	Jobs       Jobs
}

type Postgres struct {
	URL     string `env:"DATABASE_URL" envDefault:""`
	Migrate bool   `env:"PG_MIGRATE" envDefault:"true"`
}

type Redis struct {
	URL       string        `env:"REDIS_URL" envDefault:""`
	CacheTTL  time.Duration `env:"REDIS_CACHE_TTL" envDefault:"30s"`
	MirrorKey string        `env:"REDIS_PRICE_MIRROR_KEY" envDefault:"prices:live"`
}

type MarketData struct {
	Provider     string        `env:"MARKETDATA_PROVIDER" envDefault:"yahoo"`
	Timeout      time.Duration `env:"MARKETDATA_TIMEOUT" envDefault:"15s"`
	Debug        bool          `env:"MARKETDATA_DEBUG" envDefault:"false"`
	YahooURL     string        `env:"YAHOO_URL" envDefault:"https://query1.finance.yahoo.com"`
	SymbolSuffix string        `env:"YAHOO_SYMBOL_SUFFIX" envDefault:""`
	AlpacaKeyID  string        `env:"APCA_API_KEY_ID" envDefault:""`
	AlpacaSecret string        `env:"APCA_API_SECRET_KEY" envDefault:""`
	AlpacaFeed   string        `env:"APCA_FEED" envDefault:"iex"`
	LivePrices   bool          `env:"LIVE_PRICES_ENABLED" envDefault:"false"`
}

type Engine struct {
	HistoryStart   string        `env:"HISTORY_START" envDefault:"2006-01-01"`
	LockBackoff    time.Duration `env:"LOCK_BACKOFF" envDefault:"50ms"`
	RefreshWorkers int           `env:"REFRESH_WORKERS" envDefault:"4"`
}

type Jobs struct {
	RefreshCrontab string `env:"REFRESH_CRONTAB" envDefault:"0 2 * * *"`
	RefreshOnStart bool   `env:"REFRESH_ON_START" envDefault:"true"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load for process bootstrap.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.MarketData.Provider {
	case "yahoo":
	case "alpaca":
		if c.MarketData.AlpacaKeyID == "" || c.MarketData.AlpacaSecret == "" {
			return fmt.Errorf("parse config: alpaca provider needs APCA_API_KEY_ID and APCA_API_SECRET_KEY")
		}
	default:
		return fmt.Errorf("parse config: unknown MARKETDATA_PROVIDER %q", c.MarketData.Provider)
	}
	if _, err := c.HistoryStartTime(); err != nil {
		return fmt.Errorf("parse config: HISTORY_START: %w", err)
	}
	return nil
}

// HistoryStartTime parses Engine.HistoryStart as a UTC date.
func (c *Config) HistoryStartTime() (time.Time, error) {
	return time.Parse(time.DateOnly, c.Engine.HistoryStart)
}

// SlogLevel maps LogLevel to a slog level; unknown names mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
