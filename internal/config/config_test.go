package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || cfg.TickInterval != 2*time.Second || cfg.TokenTTL != 30*time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Seeds) != 8 {
		t.Errorf("expected 8 default symbols, got %d", len(cfg.Seeds))
	}
	if cfg.JWTSecret == "" {
		t.Error("a development secret should be filled in")
	}
	if len(cfg.KafkaBrokers) != 0 || cfg.KafkaTopic != DefaultKafkaTopic {
		t.Errorf("unexpected kafka settings: %v %s", cfg.KafkaBrokers, cfg.KafkaTopic)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":               "9090",
		"JWT_SECRET":         "s",
		"TOKEN_TTL":          "1h",
		"TICK_INTERVAL":      "500ms",
		"MAX_ORDER_QUANTITY": "1000",
		"MAX_ORDER_NOTIONAL": "250000.00",
		"KAFKA_BROKERS":      "k1:9092, k2:9092",
		"CORS_ORIGINS":       "http://localhost:3000",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" || cfg.TokenTTL != time.Hour || cfg.TickInterval != 500*time.Millisecond {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.MaxOrderQuantity != 1000 || !cfg.MaxOrderNotional.Equal(decimal.RequireFromString("250000")) {
		t.Errorf("limits not applied: %d %s", cfg.MaxOrderQuantity, cfg.MaxOrderNotional)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers not split: %v", cfg.KafkaBrokers)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected origins: %v", cfg.CORSOrigins)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"port":     {"PORT": "http"},
		"tick":     {"TICK_INTERVAL": "fast"},
		"tick <=0": {"TICK_INTERVAL": "0s"},
		"quantity": {"MAX_ORDER_QUANTITY": "lots"},
		"notional": {"MAX_ORDER_NOTIONAL": "-1"},
		"market":   {"MARKET_CONFIG": "/does/not/exist.yaml"},
	}
	for name, vars := range cases {
		if _, err := FromEnv(env(vars)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseMarketFile(t *testing.T) {
	mf, err := ParseMarketFile([]byte(`
max_delta: "0.50"
symbols:
  - symbol: aapl
    price: "175.50"
    change: "2.45"
  - {symbol: BRK.B, price: "410.00"}
`))
	if err != nil {
		t.Fatal(err)
	}
	if !mf.MaxDelta.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("expected max delta 0.50, got %s", mf.MaxDelta)
	}
	if len(mf.Seeds) != 2 || mf.Seeds[0].Symbol != "AAPL" || mf.Seeds[1].Symbol != "BRK.B" {
		t.Fatalf("unexpected seeds: %+v", mf.Seeds)
	}
	if !mf.Seeds[1].Change.IsZero() {
		t.Errorf("missing change should default to zero")
	}
}

func TestParseMarketFile_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":     `symbols: []`,
		"bad sym":   `symbols: [{symbol: "A-1", price: "1.00"}]`,
		"dup":       `symbols: [{symbol: A, price: "1.00"}, {symbol: a, price: "2.00"}]`,
		"low price": `symbols: [{symbol: A, price: "0.001"}]`,
		"no price":  `symbols: [{symbol: A}]`,
		"not yaml":  `symbols: [`,
	}
	for name, doc := range cases {
		if _, err := ParseMarketFile([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestFromEnv_MarketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.yaml")
	doc := "symbols:\n  - {symbol: IBM, price: \"190.10\"}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := FromEnv(env(map[string]string{"MARKET_CONFIG": path}))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Seeds) != 1 || cfg.Seeds[0].Symbol != "IBM" {
		t.Errorf("market file not applied: %+v", cfg.Seeds)
	}
}
