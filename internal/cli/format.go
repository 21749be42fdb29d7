package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"breakout-scanner/internal/models"
	"breakout-scanner/pkg/utils"
)

// nowIn returns the current time in loc.
func nowIn(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// progressBar renders current/total as a fixed-width bar with a percentage.
func progressBar(current, total, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		return "[" + strings.Repeat("░", width) + "]   0%"
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	filled := width * current / total
	pct := 100 * current / total
	return fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("█", filled), strings.Repeat("░", width-filled), pct)
}

// formatAvailability renders a data-availability report on one line.
func formatAvailability(a models.Availability) string {
	line := fmt.Sprintf("%s %s %d/%d candles",
		utils.FormatTimeframe(a.Timeframe), progressBar(a.Available, a.Required, 20), a.Available, a.Required)
	if a.RemainingUntilClose > 0 {
		line += fmt.Sprintf(", %d to close", a.RemainingUntilClose)
	}
	if a.LastError != "" {
		line += fmt.Sprintf(" (last error: %s, %d failures)", a.LastError, a.ConsecutiveFailures)
	}
	return line
}

// formatTimeframes joins timeframes as "5m, 10m, 20m".
func formatTimeframes(tfs []int) string {
	if len(tfs) == 0 {
		return "-"
	}
	parts := make([]string, len(tfs))
	for i, tf := range tfs {
		parts[i] = utils.FormatTimeframe(tf)
	}
	return strings.Join(parts, ", ")
}

// parseTimeframe accepts "20", "20m" or "1h20m" and returns minutes.
func parseTimeframe(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("timeframe must be positive: %d", n)
		}
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	if d <= 0 || d%time.Minute != 0 {
		return 0, fmt.Errorf("timeframe must be a whole number of minutes: %q", s)
	}
	return int(d / time.Minute), nil
}

// formatExitReason shortens an exit reason to its rule letter and name.
func formatExitReason(r models.ExitReason) string {
	switch r {
	case models.ExitFastMove:
		return "A fast-move"
	case models.ExitEarlyTarget:
		return "B early-target"
	case models.ExitTimeDecay:
		return "C time-decay"
	case models.ExitStopLoss:
		return "D stop-loss"
	case models.ExitTrailingStop:
		return "F trailing-stop"
	case models.ExitPeriodClose:
		return "period-close"
	case models.ExitNone:
		return "open"
	}
	return string(r)
}

// formatNoTrade describes a cycle result that produced no trade.
func formatNoTrade(r models.CycleResult) string {
	switch r.NoTrade {
	case models.NoTradeNoPattern:
		return "no pattern"
	case models.NoTradeNoBreakout:
		return "no breakout"
	case models.NoTradeInsufficient:
		return fmt.Sprintf("insufficient candles (%d formed)", r.CandlesFormed)
	}
	return "-"
}
