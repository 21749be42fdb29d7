// Package cli provides the command-line interface for the breakout scanner.
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"breakout-scanner/internal/config"
	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/feed"
	"breakout-scanner/internal/logging"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/notify"
	"breakout-scanner/internal/security"
	"breakout-scanner/internal/store"
	"breakout-scanner/internal/stream"
	"breakout-scanner/pkg/utils"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-03-01"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    store.DataStore
	Calendar *utils.Calendar
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	calendar, err := utils.NewCalendar(cfg.Market)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid market calendar, falling back to defaults")
		calendar, _ = utils.NewCalendar(config.Default().Market)
	}
	app.Calendar = calendar

	if cfg.Store.Enabled {
		dbPath := cfg.Store.Path
		if dbPath == "" {
			dbPath = filepath.Join(config.DefaultConfigDir(), "scanner.db")
		}
		dataStore, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize store, journaling and replay from store disabled")
		} else {
			app.Store = dataStore
			logger.Debug().Str("path", dbPath).Msg("SQLite store initialized")
		}
	}

	rootCmd := &cobra.Command{
		Use:   "scanner",
		Short: "Breakout Scanner - multi-timeframe breakout detection and trade simulation",
		Long: `Breakout Scanner finds Point A / Point B legs in the first four candles of a
timeframe, watches candles five and six for a breakout and simulates a trade on it.
A session walks the timeframes 5m, 10m, 20m, 40m and 80m, resolving each one
before the next begins.

Past trading days are replayed from recorded candles; today runs live against
Kite Connect.

Use 'scanner help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.Store != nil {
				if err := app.Store.Close(); err != nil {
					app.Logger.Warn().Err(err).Msg("Failed to close store")
				}
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/breakout-scanner)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newMarketCmd(app))
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newSyncCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newSessionsCmd(app))
	rootCmd.AddCommand(newScheduleCmd(app))
	addHelpCommands(rootCmd)

	return rootCmd
}

// source builds the price-feed provider named by provider, or the configured
// one when provider is empty.
func (a *App) source(provider string) (feed.Source, error) {
	if provider == "" {
		provider = a.Config.Feed.Provider
	}
	switch provider {
	case "kite":
		if !a.Config.HasKiteCredentials() {
			return nil, apperrors.Wrap(apperrors.ErrNotAuthenticated,
				"kite credentials missing; set them in credentials.toml or KITE_API_KEY/KITE_ACCESS_TOKEN")
		}
		return feed.NewKiteSource(feed.KiteConfig{
			APIKey:         a.Config.Credentials.Kite.APIKey,
			AccessToken:    a.Config.Credentials.Kite.AccessToken,
			Exchange:       models.Exchange(a.Config.Scanner.Exchange),
			MaxRetries:     a.Config.Feed.TickerMaxRetries,
			BaseDelay:      a.Config.Feed.TickerBaseDelay,
			HistoricalRate: a.Config.Feed.HistoricalRate,
			Logger:         logging.WithComponent(a.Logger, "kite"),
		}), nil
	case "store":
		if a.Store == nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabaseError, "store is not available")
		}
		return feed.NewStoreSource(a.Store), nil
	}
	return nil, apperrors.NewValidationError("source", provider, "must be 'kite' or 'store'", apperrors.ErrConfigInvalid)
}

// observe registers the console, journal and notification observers on hub.
// The returned func flushes pending notifications.
func (a *App) observe(hub *stream.Hub, console stream.Observer) func() {
	if console != nil {
		hub.Register(console)
	}
	if a.Store != nil {
		hub.Register(store.NewJournal(a.Store, logging.WithComponent(a.Logger, "journal")))
	}
	n := notify.FromConfig(a.Config.Notify, logging.WithComponent(a.Logger, "notify"))
	if n == nil {
		return func() {}
	}
	hub.Register(n)
	return n.Close
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Breakout Scanner v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	s := cfg.Scanner
	output.Bold("Scanner")
	output.Printf("  Base Resolution: %s\n", utils.FormatTimeframe(s.BaseResolution))
	output.Printf("  Timeframes:      %s\n", formatLadder(s.StartTimeframe, s.MaxTimeframe))
	output.Printf("  Quantity:        %s\n", utils.FormatQuantity(int64(s.Quantity)))
	output.Printf("  Exchange:        %s\n", s.Exchange)
	output.Printf("  Poll Interval:   %s\n", s.PollInterval)
	output.Printf("  Settle Delay:    %s\n", s.SettleDelay)
	output.Println()

	e := cfg.Exits
	output.Bold("Exit Rules")
	output.Printf("  A Fast Move:     %.2f x qty\n", e.FastMoveUnits)
	output.Printf("  B Early Target:  %.0f%% of target\n", e.EarlyTargetRatio*100)
	output.Printf("  C Time Decay:    %.0f%% of candle\n", e.TimeDecayRatio*100)
	output.Printf("  E Risk Free:     %.0f%% of target (moves stop: %v)\n", e.RiskFreeRatio*100, e.RiskFreeMovesStop)
	output.Printf("  F Trailing:      %.2f after %.0f%% of candle\n", e.TrailingDistance, e.TrailActivationRatio*100)
	output.Println()

	output.Bold("Market")
	output.Printf("  Session:         %s-%s %s\n", cfg.Market.Open, cfg.Market.Close, cfg.Market.Timezone)
	output.Printf("  Holidays:        %d\n", len(cfg.Market.Holidays))
	output.Println()

	output.Bold("Feed & Store")
	output.Printf("  Provider:        %s\n", cfg.Feed.Provider)
	output.Printf("  Kite API Key:    %s\n", orDash(security.MaskCredential(cfg.Credentials.Kite.APIKey)))
	output.Printf("  Kite Token:      %s\n", orDash(security.MaskCredential(cfg.Credentials.Kite.AccessToken)))
	output.Printf("  Store Enabled:   %v\n", cfg.Store.Enabled)
	output.Printf("  Schedule:        %s %v\n", cfg.Schedule.Cron, cfg.Schedule.Symbols)
	output.Println()

	n := cfg.Notify
	output.Bold("Notifications")
	output.Printf("  Enabled:         %v (%s)\n", n.Enabled, n.Level)
	output.Printf("  Webhook:         %s\n", orDash(security.MaskSensitive(n.Webhook.URL)))
	output.Printf("  Telegram Chat:   %s\n", orDash(n.Telegram.ChatID))
	output.Printf("  Telegram Token:  %s\n", orDash(security.MaskCredential(n.Telegram.BotToken)))

	return nil
}

func newMarketCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show market session status",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			now := app.Calendar.Location()
			at := nowIn(now)
			status := app.Calendar.Status(at)
			next := app.Calendar.NextOpen(at)

			if output.IsJSON() {
				output.JSON(map[string]interface{}{
					"status":    status,
					"next_open": next,
					"time":      at,
				})
				return
			}
			output.Printf("Market:    %s\n", output.MarketStatus(status))
			output.Printf("Time:      %s\n", at.Format("Mon 02 Jan 15:04 MST"))
			if status == models.MarketOpen {
				output.Printf("Closes in: %s\n", utils.FormatDuration(app.Calendar.TimeUntilClose(at)))
			} else {
				output.Printf("Next open: %s\n", next.Format("Mon 02 Jan 15:04"))
			}
		},
	}
}

// redacted returns a copy of cfg with credentials masked.
func redacted(cfg *config.Config) *config.Config {
	c := *cfg
	k := &c.Credentials.Kite
	k.APIKey = security.MaskCredential(k.APIKey)
	k.APISecret = security.MaskCredential(k.APISecret)
	k.AccessToken = security.MaskCredential(k.AccessToken)
	c.Notify.Telegram.BotToken = security.MaskCredential(c.Notify.Telegram.BotToken)
	return &c
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// normalizeSymbols validates and upper-cases command-line symbols.
func normalizeSymbols(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if err := security.ValidateSymbol(s); err != nil {
			return nil, err
		}
		out = append(out, security.SanitizeSymbol(s))
	}
	return out, nil
}

func formatLadder(start, max int) string {
	out := ""
	for tf := start; tf > 0 && tf <= max; tf *= 2 {
		if out != "" {
			out += " → "
		}
		out += utils.FormatTimeframe(tf)
	}
	if out == "" {
		return fmt.Sprintf("invalid (%d-%d)", start, max)
	}
	return out
}
