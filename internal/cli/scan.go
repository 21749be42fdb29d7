package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"breakout-scanner/internal/models"
	"breakout-scanner/internal/scanner"
	"breakout-scanner/internal/stream"
	"breakout-scanner/pkg/utils"
)

func newScanCmd(app *App) *cobra.Command {
	var (
		date, from, to string
		source         string
		quantity       int
		startTF, maxTF string
		statusEvery    time.Duration
		quiet          bool
	)

	cmd := &cobra.Command{
		Use:   "scan <symbol>",
		Short: "Scan a symbol for breakouts and simulate trades",
		Long: `Run the timeframe progression for one symbol.

A past date is replayed from recorded candles. Today's session runs live: the
scanner polls the feed, listens for pushed ticks and resolves each timeframe as
its candles form.`,
		Example: `  scanner scan RELIANCE
  scanner scan INFY --date 2024-03-04 --source store
  scanner scan TCS --from 2024-03-01 --to 2024-03-08 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			symbols, err := normalizeSymbols(args)
			if err != nil {
				return err
			}
			symbol := symbols[0]

			fromDay, toDay, err := scanRange(app.Calendar, date, from, to)
			if err != nil {
				return err
			}

			cfg := scanner.ConfigFrom(app.Config)
			if quantity > 0 {
				cfg.Quantity = quantity
			}
			if startTF != "" {
				if cfg.StartTimeframe, err = parseTimeframe(startTF); err != nil {
					return err
				}
			}
			if maxTF != "" {
				if cfg.MaxTimeframe, err = parseTimeframe(maxTF); err != nil {
					return err
				}
			}

			src, err := app.source(source)
			if err != nil {
				return err
			}
			defer src.Close()

			hub := stream.NewHub()
			defer hub.Stop()
			var console stream.Observer
			if !output.IsJSON() && !quiet {
				console = newConsoleObserver(output)
			}
			flush := app.observe(hub, console)
			defer flush()

			ctrl, err := scanner.New(src, app.Calendar, cfg,
				scanner.WithObserver(hub),
				scanner.WithLogger(app.Logger),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !output.IsJSON() {
				output.Bold("Scanning %s %s", symbol, formatDays(fromDay, toDay))
				output.Dim("Timeframes %s, qty %s, source %s", formatTimeframes(cfg.Timeframes()),
					utils.FormatQuantity(int64(cfg.Quantity)), src.Name())
				output.Println()
			}

			if err := ctrl.Start(ctx, symbol, fromDay, toDay); err != nil {
				return err
			}

			go func() {
				<-ctx.Done()
				ctrl.Stop()
			}()

			if statusEvery > 0 && !output.IsJSON() {
				go reportAvailability(ctx, output, ctrl, statusEvery)
			}

			waitErr := ctrl.Wait()
			sessions := ctrl.Sessions()

			if output.IsJSON() {
				if err := output.JSON(sessions); err != nil {
					return err
				}
				return waitErr
			}

			printSummary(output, sessions)
			return waitErr
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "trading date to scan, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&from, "from", "", "first date of a range, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date of a range, YYYY-MM-DD (default: --from)")
	cmd.Flags().StringVar(&source, "source", "", "price feed: kite or store (default: feed.provider)")
	cmd.Flags().IntVarP(&quantity, "quantity", "q", 0, "simulated position size")
	cmd.Flags().StringVar(&startTF, "start", "", "first timeframe, e.g. 5m")
	cmd.Flags().StringVar(&maxTF, "max", "", "last timeframe, e.g. 1h20m")
	cmd.Flags().DurationVar(&statusEvery, "status-every", 0, "print data availability at this interval")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "print only the final summary")
	cmd.MarkFlagsMutuallyExclusive("date", "from")

	return cmd
}

// scanRange resolves the date flags to an inclusive range of calendar days.
func scanRange(cal *utils.Calendar, date, from, to string) (time.Time, time.Time, error) {
	if from == "" {
		day := cal.Date(time.Now())
		if date != "" {
			d, err := cal.ParseDate(date)
			if err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("invalid --date %q: %w", date, err)
			}
			day = d
		}
		return day, day, nil
	}

	start, err := cal.ParseDate(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", from, err)
	}
	end := start
	if to != "" {
		if end, err = cal.ParseDate(to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", to, err)
		}
	}
	return start, end, nil
}

func formatDays(from, to time.Time) string {
	if from.Equal(to) {
		return from.Format("Mon 02 Jan 2006")
	}
	return from.Format("02 Jan") + " to " + to.Format("02 Jan 2006")
}

func reportAvailability(ctx context.Context, output *Output, ctrl *scanner.Controller, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !ctrl.Running() {
				return
			}
			output.Dim("  [%s] %s", ctrl.State(), formatAvailability(ctrl.Availability()))
		}
	}
}

func printSummary(output *Output, sessions []models.ScannerSession) {
	var trades []models.SimulatedTrade
	for _, s := range sessions {
		output.Println()
		output.Bold("%s %s  %s", s.Symbol, s.Date.Format("2006-01-02"), s.Status)

		table := NewTable(output, "TF", "Result", "Side", "Entry", "Exit", "P&L", "Confirmed")
		for _, r := range s.Results {
			confirmed := output.DimText("no")
			if r.Confirmed {
				confirmed = output.Green("yes")
			}
			if r.Trade == nil {
				table.AddRow(utils.FormatTimeframe(r.Timeframe), formatNoTrade(r), "-", "-", "-", "-", confirmed)
				continue
			}
			t := r.Trade
			table.AddRow(
				utils.FormatTimeframe(r.Timeframe),
				formatExitReason(t.ExitReason),
				output.Side(t.Side),
				utils.FormatPrice(t.EntryPrice),
				utils.FormatPrice(t.ExitPrice),
				output.FormatPnL(t.ProfitLoss),
				confirmed,
			)
		}
		table.Render()
		for _, w := range s.Warnings {
			output.Warning("  ! %s", w)
		}
		trades = append(trades, s.Trades...)
	}

	sum := models.Summarize(trades)
	output.Println()
	output.Printf("Trades: %d  Winners: %s  Losers: %s  Total P&L: %s\n",
		sum.Count, output.Green(fmt.Sprint(sum.Winners)), output.Red(fmt.Sprint(sum.Losers)), output.FormatPnL(sum.TotalPnL))
}

// consoleObserver prints scanner events as they happen.
type consoleObserver struct {
	stream.NopObserver
	out *Output
}

func newConsoleObserver(out *Output) *consoleObserver {
	return &consoleObserver{out: out}
}

func (o *consoleObserver) PatternFound(s stream.Scope, set models.PatternSet) {
	for _, p := range set.All() {
		o.out.Printf("%s %s %s A %s → B %s, level %s, stop %s\n",
			o.out.DimText(s.At.Format("15:04")),
			o.out.Cyan(utils.FormatTimeframe(s.Timeframe)),
			o.out.Direction(p.Direction),
			utils.FormatPrice(p.PointA.Price), utils.FormatPrice(p.PointB.Price),
			utils.FormatPrice(p.BreakoutLevel), utils.FormatPrice(p.StopLoss))
	}
}

func (o *consoleObserver) BreakoutDetected(s stream.Scope, ev models.BreakoutEvent) {
	o.out.Printf("%s %s %s %s breakout at %s on the %s candle\n",
		o.out.DimText(ev.TriggerTimestamp.Format("15:04:05")),
		o.out.Cyan(utils.FormatTimeframe(s.Timeframe)),
		o.out.Magenta("⚡"),
		o.out.Direction(ev.Pattern.Direction),
		utils.FormatPrice(ev.TriggerPrice),
		ev.Position)
}

func (o *consoleObserver) TradeResolved(s stream.Scope, t models.SimulatedTrade) {
	risk := ""
	if t.RiskFree {
		risk = o.out.Green(" risk-free")
	}
	o.out.Printf("%s %s %s %d @ %s → %s %s  %s (%s)%s\n",
		o.out.DimText(t.ExitTimestamp.Format("15:04:05")),
		o.out.Cyan(utils.FormatTimeframe(s.Timeframe)),
		o.out.Side(t.Side), t.Quantity,
		utils.FormatPrice(t.EntryPrice), utils.FormatPrice(t.ExitPrice),
		o.out.FormatPnL(t.ProfitLoss),
		formatExitReason(t.ExitReason), utils.FormatDuration(t.HoldDuration()), risk)
}

func (o *consoleObserver) TimeframeAdvanced(s stream.Scope, from, to int) {
	o.out.Dim("%s %s → %s", s.At.Format("15:04"), utils.FormatTimeframe(from), utils.FormatTimeframe(to))
}

func (o *consoleObserver) SessionFinished(session models.ScannerSession) {
	o.out.Info("%s %s finished: %s, completed %s", session.Symbol, session.Date.Format("2006-01-02"),
		session.Status, formatTimeframes(session.Completed()))
}

var _ stream.Observer = (*consoleObserver)(nil)
