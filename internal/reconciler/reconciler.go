// Package reconciler merges bulk-fetched and live base candles into one
// consistent series per symbol and reports data sufficiency.
package reconciler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/feed"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/resilience"
	"breakout-scanner/pkg/utils"
)

// CandlesPerTimeframe is the number of timeframe candles a cycle can use:
// four pattern candles and two breakout candles.
const CandlesPerTimeframe = 6

// Config holds reconciler configuration.
type Config struct {
	Symbol         string
	Exchange       models.Exchange
	BaseResolution time.Duration
	SessionOpen    time.Time
	SessionClose   time.Time
	FetchTimeout   time.Duration
	Retry          utils.RetryConfig
	Breaker        *resilience.CircuitBreaker
	Logger         zerolog.Logger
}

// Reconciler owns the base series of one symbol for one session. The frozen
// history is append-mostly; at most one forming candle sits on top of it.
type Reconciler struct {
	cfg    Config
	source feed.Source

	mu       sync.RWMutex
	history  []models.Candle
	final    map[int64]bool // history entries that came from a pull after their window elapsed
	forming  *models.Candle
	revision int
	inFlight bool

	failures      int
	totalFailures int
	lastErr       error
	lastPull      time.Time
	warnings      []string
}

// New creates a reconciler reading from source.
func New(source feed.Source, cfg Config) *Reconciler {
	if cfg.BaseResolution <= 0 {
		cfg.BaseResolution = time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = utils.DefaultRetryConfig()
		cfg.Retry.Retryable = apperrors.IsRecoverable
	}
	return &Reconciler{
		cfg:    cfg,
		source: source,
		final:  make(map[int64]bool),
	}
}

// LoadHistory bulk-fetches the session up to now with bounded retry. A
// failure is recorded and returned, and the series stays usable.
func (r *Reconciler) LoadHistory(ctx context.Context, now time.Time) error {
	req, ok := r.request(now, r.cfg.SessionOpen)
	if !ok {
		return nil
	}

	candles, err := utils.RetryWithResult(ctx, r.cfg.Retry, func() ([]models.Candle, error) {
		return r.fetch(ctx, req)
	})
	r.Apply(candles, err, now)
	return err
}

// Required returns the number of base candles covering CandlesPerTimeframe
// candles of the timeframe.
func (r *Reconciler) Required(timeframe int) int {
	tf := time.Duration(timeframe) * time.Minute
	return int(tf * CandlesPerTimeframe / r.cfg.BaseResolution)
}

// NeedsPoll reports whether the history is still short of Required(timeframe).
func (r *Reconciler) NeedsPoll(timeframe int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.history) < r.Required(timeframe)
}

// BeginPoll claims the in-flight slot and returns the request to fetch. It
// returns false when no poll is needed or one is already running. The caller
// must hand the outcome to Apply.
func (r *Reconciler) BeginPoll(now time.Time, timeframe int) (feed.Request, bool) {
	if !r.NeedsPoll(timeframe) {
		return feed.Request{}, false
	}

	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return feed.Request{}, false
	}
	from := r.cfg.SessionOpen
	if n := len(r.history); n > 0 {
		from = r.history[n-1].End(r.cfg.BaseResolution)
	}
	r.mu.Unlock()

	req, ok := r.request(now, from)
	if !ok {
		return feed.Request{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight {
		return feed.Request{}, false
	}
	r.inFlight = true
	return req, true
}

// Fetch pulls req through the circuit breaker.
func (r *Reconciler) Fetch(ctx context.Context, req feed.Request) ([]models.Candle, error) {
	return r.fetch(ctx, req)
}

// Poll runs BeginPoll, Fetch and Apply synchronously. It reports whether a
// pull was attempted.
func (r *Reconciler) Poll(ctx context.Context, now time.Time, timeframe int) (bool, error) {
	req, ok := r.BeginPoll(now, timeframe)
	if !ok {
		return false, nil
	}
	candles, err := r.Fetch(ctx, req)
	r.Apply(candles, err, now)
	return true, err
}

func (r *Reconciler) request(now, from time.Time) (feed.Request, bool) {
	to := now
	if to.After(r.cfg.SessionClose) {
		to = r.cfg.SessionClose
	}
	if !to.After(from) {
		return feed.Request{}, false
	}
	return feed.Request{
		Symbol:     r.cfg.Symbol,
		Exchange:   r.cfg.Exchange,
		Resolution: r.cfg.BaseResolution,
		From:       from,
		To:         to,
	}, true
}

func (r *Reconciler) fetch(ctx context.Context, req feed.Request) ([]models.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	pull := func(ctx context.Context) ([]models.Candle, error) {
		return r.source.Pull(ctx, req)
	}
	if r.cfg.Breaker == nil {
		return pull(ctx)
	}
	return resilience.ExecuteWithResult(r.cfg.Breaker, ctx, pull)
}

// Apply merges the outcome of a fetch and releases the in-flight slot. On
// error the last-known series is kept and the failure counted.
func (r *Reconciler) Apply(candles []models.Candle, err error, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = false

	if err != nil {
		r.failures++
		r.totalFailures++
		r.lastErr = err
		r.cfg.Logger.Warn().Err(err).Int("consecutive", r.failures).Msg("candle pull failed; keeping last-known series")
		return
	}

	r.failures = 0
	r.lastErr = nil
	r.lastPull = now
	for _, c := range candles {
		r.mergePulled(c, now)
	}
}

// mergePulled folds one pulled bar into the series. Pulled bars take
// precedence over tick-built data for the windows they cover; a bar pulled
// after its window elapsed is final.
func (r *Reconciler) mergePulled(c models.Candle, now time.Time) {
	if err := c.Validate(); err != nil {
		r.warn(apperrors.NewDataError("candle", r.cfg.Symbol, err.Error(), apperrors.ErrDataMalformed))
		return
	}
	if c.Timestamp.Before(r.cfg.SessionOpen) || !c.Timestamp.Before(r.cfg.SessionClose) {
		return
	}
	c.Timestamp = r.windowStart(c.Timestamp)

	if c.End(r.cfg.BaseResolution).After(now) {
		switch {
		case r.forming == nil || r.forming.Timestamp.Before(c.Timestamp):
			r.freezeForming()
			if r.covered(c.Timestamp) {
				return
			}
			r.forming = &c
		case r.forming.Timestamp.Equal(c.Timestamp):
			r.forming = &c
		}
		return
	}

	if r.forming != nil && !r.forming.Timestamp.After(c.Timestamp) {
		if r.forming.Timestamp.Before(c.Timestamp) {
			r.freezeForming()
		} else {
			r.forming = nil
		}
	}
	if r.upsert(c, true) {
		r.final[c.Timestamp.UnixNano()] = true
	}
}

// OnTick widens the forming candle with a pushed price. Ticks for windows
// already frozen are ignored.
func (r *Reconciler) OnTick(t models.Tick) {
	if t.Price <= 0 {
		r.mu.Lock()
		r.warn(apperrors.NewDataError("tick", t.Symbol, fmt.Sprintf("non-positive price %.2f", t.Price), apperrors.ErrDataMalformed))
		r.mu.Unlock()
		return
	}
	if t.Timestamp.Before(r.cfg.SessionOpen) || !t.Timestamp.Before(r.cfg.SessionClose) {
		return
	}
	ws := r.windowStart(t.Timestamp)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.forming != nil && ws.Before(r.forming.Timestamp) {
		return
	}
	if r.forming != nil && ws.Equal(r.forming.Timestamp) {
		r.forming.High = math.Max(r.forming.High, t.Price)
		r.forming.Low = math.Min(r.forming.Low, t.Price)
		r.forming.Close = t.Price
		return
	}

	r.freezeForming()
	if r.covered(ws) {
		return
	}
	r.forming = &models.Candle{
		Timestamp: ws,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
	}
}

// Freeze appends the forming candle to history once its window has elapsed.
// Readers never observe the candle half-moved.
func (r *Reconciler) Freeze(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forming == nil || r.forming.End(r.cfg.BaseResolution).After(now) {
		return false
	}
	r.freezeForming()
	return true
}

func (r *Reconciler) freezeForming() {
	if r.forming == nil {
		return
	}
	c := *r.forming
	r.forming = nil
	r.upsert(c, false)
}

// upsert inserts c by timestamp. A final entry is never replaced; a
// provisional one is replaced only by a pulled bar. It reports whether the
// series changed.
func (r *Reconciler) upsert(c models.Candle, pulled bool) bool {
	key := c.Timestamp.UnixNano()
	i := sort.Search(len(r.history), func(i int) bool {
		return !r.history[i].Timestamp.Before(c.Timestamp)
	})

	if i < len(r.history) && r.history[i].Timestamp.Equal(c.Timestamp) {
		if r.final[key] || !pulled {
			return false
		}
		if r.history[i] != c {
			c.Index = r.history[i].Index
			r.history[i] = c
			r.revision++
		}
		return true
	}

	if i < len(r.history) {
		r.revision++
	}
	r.history = append(r.history, models.Candle{})
	copy(r.history[i+1:], r.history[i:])
	r.history[i] = c
	for j := i; j < len(r.history); j++ {
		r.history[j].Index = j + 1
	}
	return true
}

func (r *Reconciler) covered(ws time.Time) bool {
	n := len(r.history)
	return n > 0 && !r.history[n-1].Timestamp.Before(ws)
}

func (r *Reconciler) windowStart(ts time.Time) time.Time {
	res := r.cfg.BaseResolution
	k := ts.Sub(r.cfg.SessionOpen) / res
	return r.cfg.SessionOpen.Add(k * res)
}

func (r *Reconciler) warn(err error) {
	r.warnings = append(r.warnings, err.Error())
	r.cfg.Logger.Warn().Err(err).Msg("dropping malformed data")
}

// History returns a copy of the frozen base candles.
func (r *Reconciler) History() []models.Candle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Candle, len(r.history))
	copy(out, r.history)
	return out
}

// Candles returns a copy of the frozen history followed by the forming
// candle, if any.
func (r *Reconciler) Candles() []models.Candle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Candle, len(r.history), len(r.history)+1)
	copy(out, r.history)
	if r.forming != nil {
		c := *r.forming
		c.Index = len(out) + 1
		out = append(out, c)
	}
	return out
}

// Forming returns the forming candle, if any.
func (r *Reconciler) Forming() (models.Candle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.forming == nil {
		return models.Candle{}, false
	}
	return *r.forming, true
}

// Revision increases whenever a frozen candle is replaced or inserted
// out of order, so aggregates built from older snapshots must be rebuilt.
func (r *Reconciler) Revision() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// DrainWarnings returns and clears the data warnings recorded so far.
func (r *Reconciler) DrainWarnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.warnings
	r.warnings = nil
	return w
}

// LastError returns the most recent fetch error, nil after a success.
func (r *Reconciler) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Availability reports base data present against what the timeframe needs.
func (r *Reconciler) Availability(timeframe int, now time.Time) models.Availability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available := len(r.history)
	if r.forming != nil {
		available++
	}
	required := r.Required(timeframe)

	remaining := 0
	if left := r.cfg.SessionClose.Sub(now); left > 0 {
		remaining = int((left + r.cfg.BaseResolution - 1) / r.cfg.BaseResolution)
	}

	pct := 100.0
	if required > 0 {
		pct = math.Min(100, float64(available)/float64(required)*100)
	}

	a := models.Availability{
		Timeframe:           timeframe,
		Available:           available,
		Required:            required,
		RemainingUntilClose: remaining,
		PercentComplete:     pct,
		Polling:             len(r.history) < required,
		ConsecutiveFailures: r.failures,
		UpdatedAt:           now,
	}
	if r.lastErr != nil {
		a.LastError = r.lastErr.Error()
	}
	return a
}
