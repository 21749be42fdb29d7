package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesTemplatesAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KITE_API_KEY", "")
	t.Setenv("KITE_ACCESS_TOKEN", "")
	t.Setenv("SCANNER_FEED", "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, name := range []string{"config.toml", "credentials.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected template %s to be created: %v", name, err)
		}
	}

	if cfg.Scanner.StartTimeframe != 5 || cfg.Scanner.MaxTimeframe != 80 {
		t.Errorf("unexpected timeframe defaults: %+v", cfg.Scanner)
	}
	if cfg.Scanner.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %v, want 500ms", cfg.Scanner.PollInterval)
	}
	if cfg.Exits.FastMoveUnits != 20 || cfg.Exits.TrailingDistance != 10 {
		t.Errorf("unexpected exit defaults: %+v", cfg.Exits)
	}
	if cfg.Store.Path != filepath.Join(dir, "scanner.db") {
		t.Errorf("store path = %s", cfg.Store.Path)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := `
[scanner]
start_timeframe = 10
max_timeframe = 40
settle_delay = "5s"

[feed]
provider = "store"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KITE_API_KEY", "key")
	t.Setenv("KITE_ACCESS_TOKEN", "token")
	t.Setenv("SCANNER_FEED", "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scanner.StartTimeframe != 10 || cfg.Scanner.MaxTimeframe != 40 {
		t.Errorf("file values not applied: %+v", cfg.Scanner)
	}
	if cfg.Scanner.SettleDelay != 5*time.Second {
		t.Errorf("settle delay = %v", cfg.Scanner.SettleDelay)
	}
	if cfg.Scanner.Quantity != 100 {
		t.Errorf("default quantity lost: %d", cfg.Scanner.Quantity)
	}
	if cfg.Feed.Provider != "store" {
		t.Errorf("provider = %s", cfg.Feed.Provider)
	}
	if !cfg.HasKiteCredentials() {
		t.Error("env credentials not applied")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero quantity", func(c *Config) { c.Scanner.Quantity = 0 }},
		{"timeframe not multiple of base", func(c *Config) { c.Scanner.BaseResolution = 3 }},
		{"max below start", func(c *Config) { c.Scanner.MaxTimeframe = 1 }},
		{"ratio above one", func(c *Config) { c.Exits.EarlyTargetRatio = 1.5 }},
		{"bad clock", func(c *Config) { c.Market.Open = "9am" }},
		{"bad provider", func(c *Config) { c.Feed.Provider = "yahoo" }},
		{"bad notify level", func(c *Config) { c.Notify.Level = "loud" }},
		{"webhook without url", func(c *Config) { c.Notify.Webhook.Enabled = true }},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMarketSessionTimes(t *testing.T) {
	m := MarketConfig{Timezone: "Asia/Kolkata", Open: "09:15", Close: "15:30"}
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	open := m.OpenAt(date)
	if open.Hour() != 9 || open.Minute() != 15 {
		t.Errorf("open = %v", open)
	}
	if got := m.CloseAt(date).Sub(open); got != 375*time.Minute {
		t.Errorf("session length = %v, want 6h15m", got)
	}
}
