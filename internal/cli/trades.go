package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/store"
	"breakout-scanner/pkg/utils"
)

func newTradesCmd(app *App) *cobra.Command {
	var (
		symbol, session string
		side, reason    string
		tf              string
		days, limit     int
	)

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List journaled simulated trades",
		Example: `  scanner trades --symbol RELIANCE --days 30
  scanner trades --reason stop-loss --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return apperrors.Wrap(apperrors.ErrDatabaseError, "store is disabled; set store.enabled in config.toml")
			}

			filter := store.TradeFilter{
				Symbol:    strings.ToUpper(symbol),
				SessionID: session,
				Reason:    models.ExitReason(reason),
				Limit:     limit,
			}
			if side != "" {
				s, err := models.ParseSide(side)
				if err != nil {
					return err
				}
				filter.Side = s
			}
			if tf != "" {
				minutes, err := parseTimeframe(tf)
				if err != nil {
					return err
				}
				filter.Timeframe = minutes
			}
			if days > 0 {
				filter.StartDate = app.Calendar.Date(time.Now()).AddDate(0, 0, -days)
			}

			trades, err := app.Store.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades found")
				return nil
			}

			loc := app.Calendar.Location()
			table := NewTable(output, "Entered", "Symbol", "TF", "Side", "Trigger", "Entry", "Exit", "P&L", "Reason", "Held")
			for _, t := range trades {
				table.AddRow(
					t.EntryTimestamp.In(loc).Format("2006-01-02 15:04"),
					t.Symbol,
					utils.FormatTimeframe(t.Timeframe),
					output.Side(t.Side),
					string(t.TriggerPos),
					utils.FormatPrice(t.EntryPrice),
					utils.FormatPrice(t.ExitPrice),
					output.FormatPnL(t.ProfitLoss),
					formatExitReason(t.ExitReason),
					utils.FormatDuration(t.HoldDuration()),
				)
			}
			table.Render()
			output.Println()
			printTradeSummary(output, models.Summarize(trades))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().StringVar(&session, "session", "", "filter by session ID, e.g. RELIANCE-20240304")
	cmd.Flags().StringVar(&side, "side", "", "filter by side: BUY or SELL")
	cmd.Flags().StringVar(&reason, "reason", "", "filter by exit reason, e.g. fast-move, stop-loss")
	cmd.Flags().StringVar(&tf, "tf", "", "filter by timeframe, e.g. 20m")
	cmd.Flags().IntVar(&days, "days", 0, "only trades from the last N days")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of trades")

	return cmd
}

func printTradeSummary(output *Output, sum models.TradeSummary) {
	winRate := 0.0
	if sum.Count > 0 {
		winRate = float64(sum.Winners) / float64(sum.Count) * 100
	}
	output.Printf("Trades: %d  Win rate: %.1f%%  Total P&L: %s\n", sum.Count, winRate, output.FormatPnL(sum.TotalPnL))

	reasons := make([]string, 0, len(sum.ByReason))
	for r := range sum.ByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		output.Dim("  %-16s %d", formatExitReason(models.ExitReason(r)), sum.ByReason[models.ExitReason(r)])
	}
}

func newSessionsCmd(app *App) *cobra.Command {
	var (
		symbol, status string
		days, limit    int
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List journaled scanner sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return apperrors.Wrap(apperrors.ErrDatabaseError, "store is disabled; set store.enabled in config.toml")
			}

			filter := store.SessionFilter{
				Symbol: strings.ToUpper(symbol),
				Status: models.SessionStatus(strings.ToUpper(status)),
				Limit:  limit,
			}
			if days > 0 {
				filter.StartDate = app.Calendar.Date(time.Now()).AddDate(0, 0, -days)
			}

			sessions, err := app.Store.GetSessions(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(sessions)
			}
			if len(sessions) == 0 {
				output.Dim("No sessions found")
				return nil
			}

			table := NewTable(output, "Session", "Status", "Completed", "Trades", "P&L", "Warnings")
			for _, s := range sessions {
				table.AddRow(
					s.ID,
					string(s.Status),
					formatTimeframes(s.CompletedTimeframes),
					fmt.Sprint(s.TradeCount),
					output.FormatPnL(s.TotalPnL),
					fmt.Sprint(len(s.Warnings)),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().StringVar(&status, "status", "", "filter by status: COMPLETED or STOPPED")
	cmd.Flags().IntVar(&days, "days", 0, "only sessions from the last N days")
	cmd.Flags().IntVar(&limit, "limit", 30, "maximum number of sessions")

	return cmd
}
