package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"breakout-scanner/internal/feed"
	"breakout-scanner/internal/logging"
	"breakout-scanner/internal/scanner"
	"breakout-scanner/internal/stream"
	"breakout-scanner/pkg/utils"
)

// Scheduler starts one live scan per configured symbol on a cron schedule.
// Each scan gets its own source since a source has a single push handler.
type Scheduler struct {
	cron     *cron.Cron
	app      *App
	source   func() (feed.Source, error)
	hub      *stream.Hub
	symbols  []string
	log      zerolog.Logger
	ctx      context.Context
	mu       sync.Mutex
	running  map[string]*scanner.Controller
	finished sync.WaitGroup
}

// NewScheduler creates a scheduler. Scans stop when ctx is cancelled.
func NewScheduler(ctx context.Context, app *App, src func() (feed.Source, error), hub *stream.Hub, symbols []string) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(app.Calendar.Location())),
		app:     app,
		source:  src,
		hub:     hub,
		symbols: symbols,
		log:     logging.WithComponent(app.Logger, "schedule"),
		ctx:     ctx,
		running: make(map[string]*scanner.Controller),
	}
}

// Register adds the daily scan task.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.scanAll); err != nil {
		return fmt.Errorf("register scan task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Strs("symbols", s.symbols).Msg("scheduler started")
}

// Stop stops the cron scheduler, stops running scans and waits for them.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for _, ctrl := range s.running {
		ctrl.Stop()
	}
	s.mu.Unlock()

	s.finished.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// Next returns the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow executes the scan task immediately.
func (s *Scheduler) RunNow() {
	s.scanAll()
}

func (s *Scheduler) scanAll() {
	now := time.Now()
	if !s.app.Calendar.IsTradingDay(now) {
		s.log.Info().Time("date", now).Msg("not a trading day, skipping")
		return
	}
	day := s.app.Calendar.Date(now)
	for _, symbol := range s.symbols {
		if err := s.scan(symbol, day); err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("scheduled scan failed to start")
		}
	}
}

func (s *Scheduler) scan(symbol string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctrl, ok := s.running[symbol]; ok && ctrl.Running() {
		s.log.Warn().Str("symbol", symbol).Msg("scan still running, skipping")
		return nil
	}

	src, err := s.source()
	if err != nil {
		return err
	}
	ctrl, err := scanner.New(src, s.app.Calendar, scanner.ConfigFrom(s.app.Config),
		scanner.WithObserver(s.hub),
		scanner.WithLogger(s.app.Logger),
	)
	if err != nil {
		src.Close()
		return err
	}
	if err := ctrl.Start(s.ctx, symbol, day, day); err != nil {
		src.Close()
		return err
	}
	s.running[symbol] = ctrl

	s.finished.Add(1)
	go func() {
		defer s.finished.Done()
		defer src.Close()
		if err := ctrl.Wait(); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("scheduled scan ended with error")
		}
	}()
	return nil
}

func newScheduleCmd(app *App) *cobra.Command {
	var (
		spec    string
		symbols []string
		now     bool
		source  string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run live scans on a daily schedule",
		Long: `Start a live scan for each configured symbol whenever the cron schedule
fires. The schedule uses six fields with seconds first and is evaluated in the
market time zone. Non-trading days are skipped.`,
		Example: `  scanner schedule
  scanner schedule --cron "0 14 9 * * 1-5" --symbols RELIANCE,INFY --now`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if spec == "" {
				spec = app.Config.Schedule.Cron
			}
			if len(symbols) == 0 {
				symbols = app.Config.Schedule.Symbols
			}
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols to schedule; pass --symbols or set schedule.symbols")
			}
			symbols, err := normalizeSymbols(symbols)
			if err != nil {
				return err
			}

			// fail fast on missing credentials
			check, err := app.source(source)
			if err != nil {
				return err
			}
			check.Close()
			newSource := func() (feed.Source, error) { return app.source(source) }

			hub := stream.NewHub()
			defer hub.Stop()
			flush := app.observe(hub, newConsoleObserver(output))
			defer flush()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := NewScheduler(ctx, app, newSource, hub, symbols)
			if err := sched.Register(spec); err != nil {
				return err
			}
			sched.Start()
			if now {
				sched.RunNow()
			}

			next := sched.Next()
			output.Info("Scheduled %s on %q", strings.Join(symbols, ", "), spec)
			if !next.IsZero() {
				output.Dim("Next run %s (in %s)", next.Format("Mon 02 Jan 15:04:05"),
					utils.FormatDuration(time.Until(next)))
			}

			<-ctx.Done()
			output.Println()
			output.Warning("Stopping scheduled scans...")
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "cron schedule with seconds (default: schedule.cron)")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to scan (default: schedule.symbols)")
	cmd.Flags().BoolVar(&now, "now", false, "also run once immediately")
	cmd.Flags().StringVar(&source, "source", "", "price feed: kite or store (default: feed.provider)")

	return cmd
}
