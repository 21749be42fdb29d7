// Package config provides configuration management for the breakout scanner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // market timezone on hosts without zoneinfo

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Scanner     ScannerConfig  `mapstructure:"scanner"`
	Exits       ExitConfig     `mapstructure:"exits"`
	Market      MarketConfig   `mapstructure:"market"`
	Feed        FeedConfig     `mapstructure:"feed"`
	Store       StoreConfig    `mapstructure:"store"`
	Schedule    ScheduleConfig `mapstructure:"schedule"`
	Notify      NotifyConfig   `mapstructure:"notifications"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Credentials Credentials    `mapstructure:"-"` // Loaded separately
}

// ScannerConfig holds progression controller configuration.
type ScannerConfig struct {
	BaseResolution int           `mapstructure:"base_resolution"` // minutes per base candle
	StartTimeframe int           `mapstructure:"start_timeframe"` // minutes
	MaxTimeframe   int           `mapstructure:"max_timeframe"`   // minutes
	Quantity       int           `mapstructure:"quantity"`
	Exchange       string        `mapstructure:"exchange"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	HistoryRetries int           `mapstructure:"history_retries"`
}

// ExitConfig holds the trade simulator thresholds.
type ExitConfig struct {
	FastMoveUnits        float64 `mapstructure:"fast_move_units"`
	EarlyTargetRatio     float64 `mapstructure:"early_target_ratio"`
	TimeDecayRatio       float64 `mapstructure:"time_decay_ratio"`
	RiskFreeRatio        float64 `mapstructure:"risk_free_ratio"`
	RiskFreeMovesStop    bool    `mapstructure:"risk_free_moves_stop"`
	TrailActivationRatio float64 `mapstructure:"trail_activation_ratio"`
	TrailingDistance     float64 `mapstructure:"trailing_distance"`
}

// MarketConfig holds the trading session calendar.
type MarketConfig struct {
	Timezone string `mapstructure:"timezone"`
	Open     string `mapstructure:"open"`  // HH:MM
	Close    string `mapstructure:"close"` // HH:MM
	// Holidays lists exchange holidays as YYYY-MM-DD.
	Holidays []string `mapstructure:"holidays"`
}

// FeedConfig holds price-feed provider configuration.
type FeedConfig struct {
	Provider         string        `mapstructure:"provider"` // "kite", "store"
	TickerMaxRetries int           `mapstructure:"ticker_max_retries"`
	TickerBaseDelay  time.Duration `mapstructure:"ticker_base_delay"`
	HistoricalRate   float64       `mapstructure:"historical_rate"` // requests per second
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ScheduleConfig holds the daily scan schedule.
type ScheduleConfig struct {
	Cron    string   `mapstructure:"cron"` // six fields, seconds first
	Symbols []string `mapstructure:"symbols"`
}

// NotifyConfig holds notification configuration.
type NotifyConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, trades_only, sessions_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite KiteCredentials `mapstructure:"kite"`
}

// KiteCredentials holds Kite Connect API credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/breakout-scanner"
	}
	return filepath.Join(home, ".config", "breakout-scanner")
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "scanner.db")
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scanner.base_resolution", 1)
	v.SetDefault("scanner.start_timeframe", 5)
	v.SetDefault("scanner.max_timeframe", 80)
	v.SetDefault("scanner.quantity", 100)
	v.SetDefault("scanner.exchange", "NSE")
	v.SetDefault("scanner.poll_interval", 500*time.Millisecond)
	v.SetDefault("scanner.settle_delay", 2*time.Second)
	v.SetDefault("scanner.fetch_timeout", 10*time.Second)
	v.SetDefault("scanner.history_retries", 3)

	v.SetDefault("exits.fast_move_units", 20.0)
	v.SetDefault("exits.early_target_ratio", 0.8)
	v.SetDefault("exits.time_decay_ratio", 0.95)
	v.SetDefault("exits.risk_free_ratio", 0.5)
	v.SetDefault("exits.risk_free_moves_stop", false)
	v.SetDefault("exits.trail_activation_ratio", 0.5)
	v.SetDefault("exits.trailing_distance", 10.0)

	v.SetDefault("market.timezone", "Asia/Kolkata")
	v.SetDefault("market.open", "09:15")
	v.SetDefault("market.close", "15:30")
	v.SetDefault("market.holidays", []string{})

	v.SetDefault("feed.provider", "kite")
	v.SetDefault("feed.ticker_max_retries", 5)
	v.SetDefault("feed.ticker_base_delay", time.Second)
	v.SetDefault("feed.historical_rate", 3.0)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", "")

	v.SetDefault("schedule.cron", "0 10 9 * * 1-5")
	v.SetDefault("schedule.symbols", []string{})

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.telegram.enabled", false)
	v.SetDefault("notifications.telegram.bot_token", "")
	v.SetDefault("notifications.telegram.chat_id", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, create template and run on defaults
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
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
	// Kite credentials
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Credentials.Kite.APISecret = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}

	if v := os.Getenv("SCANNER_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
	}

	if v := os.Getenv("SCANNER_FEED"); v != "" {
		cfg.Feed.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("SCANNER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	s := c.Scanner
	if s.BaseResolution <= 0 {
		return fmt.Errorf("base_resolution must be positive")
	}
	if s.StartTimeframe <= 0 || s.StartTimeframe%s.BaseResolution != 0 {
		return fmt.Errorf("start_timeframe must be a positive multiple of base_resolution")
	}
	if s.MaxTimeframe < s.StartTimeframe {
		return fmt.Errorf("max_timeframe must be >= start_timeframe")
	}
	if s.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	e := c.Exits
	for name, ratio := range map[string]float64{
		"early_target_ratio":     e.EarlyTargetRatio,
		"time_decay_ratio":       e.TimeDecayRatio,
		"risk_free_ratio":        e.RiskFreeRatio,
		"trail_activation_ratio": e.TrailActivationRatio,
	} {
		if ratio <= 0 || ratio > 1 {
			return fmt.Errorf("%s must be in (0, 1]", name)
		}
	}
	if e.FastMoveUnits <= 0 || e.TrailingDistance <= 0 {
		return fmt.Errorf("fast_move_units and trailing_distance must be positive")
	}

	if _, err := c.Market.Location(); err != nil {
		return err
	}
	if _, _, err := parseClock(c.Market.Open); err != nil {
		return fmt.Errorf("market.open: %w", err)
	}
	if _, _, err := parseClock(c.Market.Close); err != nil {
		return fmt.Errorf("market.close: %w", err)
	}
	for _, h := range c.Market.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("market.holidays: invalid date %q", h)
		}
	}

	switch c.Feed.Provider {
	case "kite", "store":
	default:
		return fmt.Errorf("invalid feed provider: %s (must be 'kite' or 'store')", c.Feed.Provider)
	}

	switch c.Notify.Level {
	case "", "all", "trades_only", "sessions_only":
	default:
		return fmt.Errorf("invalid notifications.level: %s", c.Notify.Level)
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url is required when the webhook is enabled")
	}

	return nil
}

// Location returns the market time zone.
func (m MarketConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid market timezone %q: %w", m.Timezone, err)
	}
	return loc, nil
}

// OpenAt returns the session open on the given date.
func (m MarketConfig) OpenAt(date time.Time) time.Time {
	return m.at(date, m.Open)
}

// CloseAt returns the session close on the given date.
func (m MarketConfig) CloseAt(date time.Time) time.Time {
	return m.at(date, m.Close)
}

func (m MarketConfig) at(date time.Time, clock string) time.Time {
	loc, err := m.Location()
	if err != nil {
		loc = time.UTC
	}
	hh, mm, _ := parseClock(clock)
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, loc)
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}

// HasKiteCredentials reports whether Kite Connect can be used.
func (c *Config) HasKiteCredentials() bool {
	return c.Credentials.Kite.APIKey != "" && c.Credentials.Kite.AccessToken != ""
}
