package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Breakout Scanner Configuration

[scanner]
# Minutes per base-resolution candle fetched from the feed
base_resolution = 1
# First timeframe of the progression (minutes); doubled after each cycle
start_timeframe = 5
# Last timeframe attempted (minutes)
max_timeframe = 80
# Simulated position size
quantity = 100
# Exchange used for instrument lookup: NSE, BSE, NFO, MCX
exchange = "NSE"
# Live candle refresh interval
poll_interval = "500ms"
# Delay before moving to the next timeframe
settle_delay = "2s"
# Timeout for a single feed request
fetch_timeout = "10s"
# Attempts for the initial bulk history fetch
history_retries = 3

[exits]
# A. fast move threshold in price units (multiplied by quantity)
fast_move_units = 20.0
# B. early target as fraction of the target distance
early_target_ratio = 0.8
# C. time-decay close as fraction of the validation candle duration
time_decay_ratio = 0.95
# E. risk-free marker as fraction of the target distance
risk_free_ratio = 0.5
# Move the stop to the entry price when the risk-free marker is reached
risk_free_moves_stop = false
# F. trailing stop activation as fraction of the validation candle duration
trail_activation_ratio = 0.5
# F. trailing distance in price units
trailing_distance = 10.0

[market]
timezone = "Asia/Kolkata"
open = "09:15"
close = "15:30"
# Exchange holidays (YYYY-MM-DD); weekends are always closed
holidays = []

[feed]
# Price feed provider: "kite" (Kite Connect) or "store" (replay stored candles)
provider = "kite"
ticker_max_retries = 5
ticker_base_delay = "1s"
# Historical data requests per second (Kite allows 3)
historical_rate = 3.0

[store]
# Persist candles, sessions and simulated trades in SQLite
enabled = true
# Defaults to <config dir>/scanner.db
path = ""

[schedule]
# Cron expression (seconds first) for the daily live scan
cron = "0 10 9 * * 1-5"
symbols = []

[notifications]
# Push breakouts, trades and session results to external channels
enabled = false
# all, trades_only, sessions_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
# Or set SCANNER_TELEGRAM_TOKEN
bot_token = ""
chat_id = ""

[logging]
# debug, info, warn, error
level = "info"
# Write a rotating log file under the config directory
file = true
`

const credentialsTemplate = `# Breakout Scanner Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[kite]
api_key = ""
api_secret = ""
access_token = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
