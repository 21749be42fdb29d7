package cli

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/feed"
	"breakout-scanner/internal/logging"
	"breakout-scanner/internal/performance"
	"breakout-scanner/internal/scanner"
	"breakout-scanner/pkg/utils"
)

func newSyncCmd(app *App) *cobra.Command {
	var (
		from, to string
		days     int
		force    bool
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "sync <symbol>...",
		Short: "Download base candles into the local store",
		Long: `Fetch base-resolution candles from Kite Connect and store them so past
sessions can be replayed with --source store.`,
		Example: `  scanner sync RELIANCE --days 5
  scanner sync INFY TCS --from 2024-03-01 --to 2024-03-08 --force`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return apperrors.Wrap(apperrors.ErrDatabaseError, "store is disabled; set store.enabled in config.toml")
			}

			symbols, err := normalizeSymbols(args)
			if err != nil {
				return err
			}

			start, end, err := syncRange(app.Calendar, from, to, days)
			if err != nil {
				return err
			}

			src, err := app.source("kite")
			if err != nil {
				return err
			}
			defer src.Close()

			res := scanner.ConfigFrom(app.Config).BaseResolution
			syncer := feed.NewSyncer(src, app.Store, app.Calendar, logging.WithComponent(app.Logger, "sync"))

			pool := performance.NewWorkerPool(workers)
			pool.Start()

			var (
				mu       sync.Mutex
				done     int
				failures []error
			)
			results := make([]feed.SyncResult, len(symbols))
			if !output.IsJSON() {
				output.Progress(0, len(symbols), "Syncing")
			}
			for i, symbol := range symbols {
				i, symbol := i, symbol
				pool.Submit(cmd.Context(), func() {
					result, err := syncer.Sync(cmd.Context(), symbol, res, start, end, force)

					mu.Lock()
					defer mu.Unlock()
					results[i] = result
					if err != nil {
						failures = append(failures, fmt.Errorf("sync %s: %w", symbol, err))
					}
					done++
					if !output.IsJSON() {
						output.Progress(done, len(symbols), "Syncing")
					}
				})
			}
			pool.Stop()

			if len(failures) > 0 {
				return errors.Join(failures...)
			}

			if output.IsJSON() {
				return output.JSON(results)
			}
			table := NewTable(output, "Symbol", "Days", "Skipped", "Candles", "Covered Until")
			for _, r := range results {
				last := "-"
				if !r.LastSync.IsZero() {
					last = r.LastSync.In(app.Calendar.Location()).Format("2006-01-02 15:04")
				}
				table.AddRow(r.Symbol, fmt.Sprint(r.Days), fmt.Sprint(r.Skipped),
					utils.FormatQuantity(int64(r.Candles)), last)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&days, "days", 1, "number of calendar days back from --to when --from is not set")
	cmd.Flags().BoolVar(&force, "force", false, "re-download days already in the store")
	cmd.Flags().IntVar(&workers, "workers", 2, "symbols synced concurrently")

	return cmd
}

func syncRange(cal *utils.Calendar, from, to string, days int) (time.Time, time.Time, error) {
	end := cal.Date(time.Now())
	if to != "" {
		d, err := cal.ParseDate(to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", to, err)
		}
		end = d
	}
	if from != "" {
		start, err := cal.ParseDate(from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", from, err)
		}
		return start, end, nil
	}
	if days < 1 {
		return time.Time{}, time.Time{}, apperrors.NewValidationError("days", days, "must be at least 1", apperrors.ErrInvalidDate)
	}
	return end.AddDate(0, 0, -(days - 1)), end, nil
}
