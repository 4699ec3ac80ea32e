// Package config loads process settings from the environment (optionally
// seeded by a .env file) and the tradable universe from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/papertrade/trading-engine/internal/market"
)

// Config holds every runtime setting.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	TickInterval time.Duration
	MaxDelta     decimal.Decimal
	Seeds        []market.Seed

	MaxOrderQuantity int64
	MaxOrderNotional decimal.Decimal

	KafkaBrokers []string
	KafkaTopic   string

	CORSOrigins []string
}

// Defaults.
const (
	DefaultPort         = "8080"
	DefaultTickInterval = 2 * time.Second
	DefaultTokenTTL     = 30 * time.Minute
	DefaultCacheTTL     = 30 * time.Second
	DefaultKafkaTopic   = "papertrade.orders"
	devJWTSecret        = "dev-secret-change-me"
)

// Load reads .env (if present) and the environment. A missing .env is not
// an error; a malformed value is.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:         orDefault(getenv("PORT"), DefaultPort),
		DatabaseURL:  getenv("DATABASE_URL"),
		RedisURL:     getenv("REDIS_URL"),
		CacheTTL:     DefaultCacheTTL,
		JWTSecret:    getenv("JWT_SECRET"),
		TokenTTL:     DefaultTokenTTL,
		TickInterval: DefaultTickInterval,
		MaxDelta:     market.DefaultMaxDelta,
		Seeds:        market.DefaultSeeds(),
		KafkaTopic:   orDefault(getenv("KAFKA_TOPIC"), DefaultKafkaTopic),
		KafkaBrokers: splitList(getenv("KAFKA_BROKERS")),
		CORSOrigins:  splitList(orDefault(getenv("CORS_ORIGINS"), "*")),
	}

	var err error
	if cfg.TokenTTL, err = duration(getenv, "TOKEN_TTL", cfg.TokenTTL); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = duration(getenv, "TICK_INTERVAL", cfg.TickInterval); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = duration(getenv, "CACHE_TTL", cfg.CacheTTL); err != nil {
		return nil, err
	}
	if v := getenv("MAX_ORDER_QUANTITY"); v != "" {
		if cfg.MaxOrderQuantity, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("config: MAX_ORDER_QUANTITY: %w", err)
		}
	}
	if v := getenv("MAX_ORDER_NOTIONAL"); v != "" {
		if cfg.MaxOrderNotional, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("config: MAX_ORDER_NOTIONAL: %w", err)
		}
	}

	if path := getenv("MARKET_CONFIG"); path != "" {
		mf, err := LoadMarketFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Seeds = mf.Seeds
		if mf.MaxDelta.IsPositive() {
			cfg.MaxDelta = mf.MaxDelta
		}
	}

	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set, using an insecure development secret")
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT: %s", c.Port)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.MaxOrderQuantity < 0 || c.MaxOrderNotional.IsNegative() {
		return errors.New("order limits must not be negative")
	}
	if len(c.Seeds) == 0 {
		return errors.New("at least one tradable symbol is required")
	}
	return nil
}

// MarketFile is the parsed form of the YAML market universe.
type MarketFile struct {
	MaxDelta decimal.Decimal
	Seeds    []market.Seed
}

// marketYAML keeps prices as strings so they parse exactly into decimals.
type marketYAML struct {
	MaxDelta string `yaml:"max_delta"`
	Symbols  []struct {
		Symbol string `yaml:"symbol"`
		Price  string `yaml:"price"`
		Change string `yaml:"change"`
	} `yaml:"symbols"`
}

// LoadMarketFile reads a YAML universe:
//
//	max_delta: "2.00"
//	symbols:
//	  - {symbol: AAPL, price: "175.50", change: "2.45"}
func LoadMarketFile(path string) (*MarketFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read market file: %w", err)
	}
	return ParseMarketFile(data)
}

// ParseMarketFile parses YAML market config bytes.
func ParseMarketFile(data []byte) (*MarketFile, error) {
	var raw marketYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse market file: %w", err)
	}

	mf := &MarketFile{}
	if raw.MaxDelta != "" {
		d, err := decimal.NewFromString(raw.MaxDelta)
		if err != nil {
			return nil, fmt.Errorf("config: max_delta: %w", err)
		}
		mf.MaxDelta = d
	}

	seen := make(map[string]bool, len(raw.Symbols))
	for i, s := range raw.Symbols {
		sym, err := market.ParseSymbol(s.Symbol)
		if err != nil {
			return nil, fmt.Errorf("config: symbols[%d]: %w", i, err)
		}
		if seen[sym] {
			return nil, fmt.Errorf("config: duplicate symbol %s", sym)
		}
		seen[sym] = true

		price, err := decimal.NewFromString(s.Price)
		if err != nil || !price.GreaterThanOrEqual(market.PriceFloor) {
			return nil, fmt.Errorf("config: %s: price must be at least %s", sym, market.PriceFloor)
		}
		change := decimal.Zero
		if s.Change != "" {
			if change, err = decimal.NewFromString(s.Change); err != nil {
				return nil, fmt.Errorf("config: %s: change: %w", sym, err)
			}
		}
		mf.Seeds = append(mf.Seeds, market.Seed{Symbol: sym, Price: price, Change: change})
	}
	if len(mf.Seeds) == 0 {
		return nil, errors.New("config: market file lists no symbols")
	}
	return mf, nil
}

func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
