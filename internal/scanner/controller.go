// Package scanner implements the progression controller: the per-session
// state machine that walks timeframes upward from the start timeframe,
// resolving pattern detection and trade simulation for one timeframe before
// the next begins.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"breakout-scanner/internal/config"
	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/feed"
	"breakout-scanner/internal/logging"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/reconciler"
	"breakout-scanner/internal/resilience"
	"breakout-scanner/internal/stream"
	"breakout-scanner/internal/trading"
	"breakout-scanner/pkg/utils"
)

// Config holds progression controller configuration.
type Config struct {
	Exchange       models.Exchange
	BaseResolution time.Duration
	StartTimeframe int // minutes
	MaxTimeframe   int // minutes
	Quantity       int
	PollInterval   time.Duration
	SettleDelay    time.Duration
	FetchTimeout   time.Duration
	HistoryRetries int
	Rules          trading.ExitRules
	Breaker        resilience.CircuitBreakerConfig
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		Exchange:       models.NSE,
		BaseResolution: time.Minute,
		StartTimeframe: 5,
		MaxTimeframe:   80,
		Quantity:       100,
		PollInterval:   500 * time.Millisecond,
		SettleDelay:    2 * time.Second,
		FetchTimeout:   10 * time.Second,
		HistoryRetries: 3,
		Rules:          trading.DefaultRules(),
		Breaker:        resilience.DefaultCircuitBreakerConfig(),
	}
}

// ConfigFrom builds the controller configuration from application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	s := cfg.Scanner
	if s.Exchange != "" {
		c.Exchange = models.Exchange(strings.ToUpper(s.Exchange))
	}
	if s.BaseResolution > 0 {
		c.BaseResolution = time.Duration(s.BaseResolution) * time.Minute
	}
	if s.StartTimeframe > 0 {
		c.StartTimeframe = s.StartTimeframe
	}
	if s.MaxTimeframe > 0 {
		c.MaxTimeframe = s.MaxTimeframe
	}
	if s.Quantity > 0 {
		c.Quantity = s.Quantity
	}
	if s.PollInterval > 0 {
		c.PollInterval = s.PollInterval
	}
	if s.SettleDelay >= 0 {
		c.SettleDelay = s.SettleDelay
	}
	if s.FetchTimeout > 0 {
		c.FetchTimeout = s.FetchTimeout
	}
	if s.HistoryRetries > 0 {
		c.HistoryRetries = s.HistoryRetries
	}
	c.Rules = trading.RulesFromConfig(cfg.Exits)
	return c
}

// Validate checks the timeframe ladder against the base resolution.
func (c Config) Validate() error {
	if c.BaseResolution <= 0 {
		return apperrors.NewValidationError("base_resolution", c.BaseResolution, "must be positive", apperrors.ErrConfigInvalid)
	}
	if c.StartTimeframe <= 0 || c.MaxTimeframe < c.StartTimeframe {
		return apperrors.NewValidationError("timeframes", fmt.Sprintf("%d-%d", c.StartTimeframe, c.MaxTimeframe),
			"need 0 < start <= max", apperrors.ErrConfigInvalid)
	}
	if time.Duration(c.StartTimeframe)*time.Minute%c.BaseResolution != 0 {
		return apperrors.NewValidationError("start_timeframe", c.StartTimeframe,
			"must be a multiple of the base resolution", apperrors.ErrConfigInvalid)
	}
	if c.Quantity <= 0 {
		return apperrors.NewValidationError("quantity", c.Quantity, "must be positive", apperrors.ErrConfigInvalid)
	}
	return nil
}

// Timeframes returns the ladder start, 2*start, ... up to the maximum.
func (c Config) Timeframes() []int {
	var out []int
	for tf := c.StartTimeframe; tf > 0 && tf <= c.MaxTimeframe; tf *= 2 {
		out = append(out, tf)
	}
	return out
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver sets the event observer. Use a stream.Hub to fan out.
func WithObserver(obs stream.Observer) Option {
	return func(c *Controller) {
		c.observer = obs
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithClock replaces time.Now, which decides between live and replay runs
// and validates dates.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller runs scanner sessions for one symbol at a time. Sessions of a
// date range run one after another on a single worker goroutine.
type Controller struct {
	cfg      Config
	source   feed.Source
	calendar *utils.Calendar
	observer stream.Observer
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	state    State
	current  *run
	sessions []*models.ScannerSession
	running  bool
	stopping bool
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// New creates a controller reading from source.
func New(source feed.Source, calendar *utils.Calendar, cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:      cfg,
		source:   source,
		calendar: calendar,
		observer: stream.NopObserver{},
		log:      logging.NewLogger(),
		now:      time.Now,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.WithComponent(c.log, "scanner")
	return c, nil
}

// Start validates the request and begins scanning in the background. A zero
// to scans the single day from. Past trading days are replayed from recorded
// data; today runs live. Only an invalid symbol or date fails Start.
func (c *Controller) Start(ctx context.Context, symbol string, from, to time.Time) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return apperrors.NewValidationError("symbol", symbol, "symbol is required", apperrors.ErrInvalidSymbol)
	}
	days, err := c.tradingDays(from, to)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return apperrors.ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	if err := c.source.Lookup(ctx, symbol); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return apperrors.Wrapf(err, "lookup %s on %s", symbol, c.source.Name())
	}

	workCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.state = StateIdle
	c.current = nil
	c.sessions = nil
	c.stopping = false
	c.err = nil
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.log.Info().
		Str("symbol", symbol).
		Str("from", days[0].Format("2006-01-02")).
		Str("to", days[len(days)-1].Format("2006-01-02")).
		Int("sessions", len(days)).
		Msg("Scanner started")

	go c.work(ctx, workCtx, symbol, days, done)
	return nil
}

func (c *Controller) tradingDays(from, to time.Time) ([]time.Time, error) {
	if from.IsZero() {
		return nil, apperrors.NewValidationError("date", from, "date is required", apperrors.ErrInvalidDate)
	}
	if to.IsZero() {
		to = from
	}
	first, last := c.calendar.Date(from), c.calendar.Date(to)
	if last.Before(first) {
		return nil, apperrors.NewValidationError("date", to.Format("2006-01-02"), "range ends before it starts", apperrors.ErrInvalidDate)
	}
	if last.After(c.calendar.Date(c.now())) {
		return nil, apperrors.NewValidationError("date", to.Format("2006-01-02"), "date is in the future", apperrors.ErrInvalidDate)
	}
	days := c.calendar.TradingDays(first, last)
	if len(days) == 0 {
		return nil, apperrors.NewValidationError("date", from.Format("2006-01-02"), "no trading day in range", apperrors.ErrInvalidDate)
	}
	return days, nil
}

func (c *Controller) work(parent, ctx context.Context, symbol string, days []time.Time, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if err := parent.Err(); err != nil && !c.stopping {
			c.err = err
		}
		c.running = false
		c.cancel()
		c.mu.Unlock()
		close(done)
	}()

	for _, day := range days {
		if ctx.Err() != nil {
			return
		}
		c.runSession(ctx, symbol, day)
	}
}

func (c *Controller) runSession(ctx context.Context, symbol string, day time.Time) {
	open, close := c.calendar.SessionOpen(day), c.calendar.SessionClose(day)
	now := c.now()
	live := c.calendar.Date(now).Equal(day) && now.Before(close)

	session := models.NewScannerSession(fmt.Sprintf("%s-%s", symbol, day.Format("20060102")), symbol, day, c.cfg.StartTimeframe)
	session.Status = models.SessionRunning
	session.StartedAt = now

	log := logging.WithSymbol(c.log, symbol)
	clock := &virtualClock{t: open}
	source := c.source
	breakerCfg := c.cfg.Breaker
	if !live {
		source = feed.NewReplaySource(c.source, open, close, clock.Now)
		breakerCfg.Now = clock.Now
	}
	defer source.Close()

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = c.cfg.HistoryRetries
	retry.Retryable = apperrors.IsRecoverable
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying history load")
	}

	rec := reconciler.New(source, reconciler.Config{
		Symbol:         symbol,
		Exchange:       c.cfg.Exchange,
		BaseResolution: c.cfg.BaseResolution,
		SessionOpen:    open,
		SessionClose:   close,
		FetchTimeout:   c.cfg.FetchTimeout,
		Retry:          retry,
		Breaker:        resilience.NewCircuitBreaker("feed:"+symbol, breakerCfg),
		Logger:         logging.WithComponent(log, "reconciler"),
	})

	r := newRun(c.cfg, session, rec, open, close, live, log)

	c.mu.Lock()
	c.current = r
	c.sessions = append(c.sessions, session)
	c.mu.Unlock()

	log.Info().
		Str("session", session.ID).
		Bool("live", live).
		Time("open", open).
		Time("close", close).
		Msg("Session started")

	if live {
		c.runLive(ctx, r)
	} else {
		c.runReplay(ctx, r, clock)
	}
}

// advance runs one state machine step under the lock and publishes the
// resulting events after releasing it, so observers may call accessors.
func (c *Controller) advance(r *run, now time.Time, tick *models.Tick) {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	if tick != nil {
		r.observe(*tick)
	}
	r.step(now)
	c.state = r.state
	events := r.drain()
	c.mu.Unlock()

	c.publish(events)
}

func (c *Controller) halt(r *run, now time.Time) {
	c.mu.Lock()
	r.halt(now)
	c.state = StateStopped
	events := r.drain()
	c.mu.Unlock()

	c.publish(events)
}

func (c *Controller) publish(events []stream.Event) {
	for _, ev := range events {
		stream.Dispatch(c.observer, ev)
	}
}

// Stop halts polling and timers and forces Stopped. An open simulation is
// abandoned unresolved.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.stopping {
		return
	}
	c.stopping = true
	c.state = StateStopped
	c.cancel()
	c.log.Info().Msg("Scanner stop requested")
}

// Wait blocks until the current run ends. It returns the parent context's
// error when the run was cancelled without Stop.
func (c *Controller) Wait() error {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()
	if done == nil {
		return nil
	}
	<-done

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Running reports whether a run is in progress.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// State returns the current progression state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Timeframe returns the timeframe of the current cycle, or zero before start.
func (c *Controller) Timeframe() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return 0
	}
	return c.current.tf
}

// Patterns returns the pattern set of the current cycle.
func (c *Controller) Patterns() models.PatternSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return models.PatternSet{}
	}
	return c.current.patterns
}

// Trades returns every simulated trade of the run, oldest first.
func (c *Controller) Trades() []models.SimulatedTrade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.SimulatedTrade
	for _, s := range c.sessions {
		out = append(out, s.Trades...)
	}
	return out
}

// Availability reports base data present against what the current
// timeframe needs.
func (c *Controller) Availability() models.Availability {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.current
	if r == nil {
		return models.Availability{}
	}
	now := r.now
	if r.live || now.IsZero() {
		now = c.now()
	}
	return r.rec.Availability(r.tf, now)
}

// Sessions returns snapshots of the sessions of the run.
func (c *Controller) Sessions() []models.ScannerSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ScannerSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// Results returns the cycle results of the current session.
func (c *Controller) Results() []models.CycleResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	return append([]models.CycleResult(nil), c.current.session.Results...)
}

// virtualClock is the replay clock shared with the replay source and the
// circuit breaker.
type virtualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (v *virtualClock) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.t
}

func (v *virtualClock) Set(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.t = t
}
