package scanner

import (
	"time"

	"github.com/rs/zerolog"

	"breakout-scanner/internal/aggregator"
	"breakout-scanner/internal/analysis/patterns"
	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/logging"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/reconciler"
	"breakout-scanner/internal/stream"
	"breakout-scanner/internal/trading"
)

// run is the context of one session. Every component call receives its
// state from here; nothing is read from globals. A run is driven by a single
// goroutine under the controller lock.
type run struct {
	cfg     Config
	session *models.ScannerSession
	rec     *reconciler.Reconciler
	open    time.Time
	close   time.Time
	live    bool
	base    zerolog.Logger // session scoped
	log     zerolog.Logger // base plus the current timeframe

	table      *Table
	extractor  *patterns.Extractor
	classifier *patterns.Classifier

	state State
	tf    int // the one authoritative current timeframe
	now   time.Time

	agg        *aggregator.Aggregator
	fed        int
	revision   int
	block      aggregator.Block
	lastCandle models.Candle

	patterns models.PatternSet
	pending  []*models.Pattern
	breakout *models.BreakoutEvent
	sim      *trading.Simulation
	simNext  time.Time
	result   models.CycleResult

	settleUntil time.Time
	outbox      []stream.Event
}

func newRun(cfg Config, session *models.ScannerSession, rec *reconciler.Reconciler, open, close time.Time, live bool, log zerolog.Logger) *run {
	table := NewTable()
	r := &run{
		cfg:        cfg,
		session:    session,
		rec:        rec,
		open:       open,
		close:      close,
		live:       live,
		base:       logging.WithSession(log, session.ID),
		table:      table,
		extractor:  patterns.NewExtractor(),
		classifier: patterns.NewClassifier(table),
		state:      StateIdle,
		tf:         cfg.StartTimeframe,
	}
	r.log = logging.WithTimeframe(r.base, r.tf)
	return r
}

func (r *run) timeframe() time.Duration {
	return time.Duration(r.tf) * time.Minute
}

func (r *run) scope() stream.Scope {
	return stream.Scope{
		SessionID: r.session.ID,
		Symbol:    r.session.Symbol,
		Timeframe: r.tf,
		At:        r.now,
	}
}

func (r *run) emit(ev stream.Event) {
	ev.Scope = r.scope()
	r.outbox = append(r.outbox, ev)
}

// drain returns the events produced since the last call.
func (r *run) drain() []stream.Event {
	out := r.outbox
	r.outbox = nil
	return out
}

func (r *run) transition(next State) {
	if !r.state.CanTransition(next) {
		r.log.Error().Str("from", string(r.state)).Str("to", string(next)).Msg("illegal state transition")
		return
	}
	logging.LogTransition(r.log, string(r.state), string(next))
	r.state = next
}

// step advances the state machine as far as the data available at now
// allows. Several transitions may happen in one step.
func (r *run) step(now time.Time) {
	r.now = now
	for !r.state.Terminal() {
		prev := r.state
		switch r.state {
		case StateIdle:
			r.begin(r.cfg.StartTimeframe)
		case StateGathering:
			r.gather()
		case StateAnalyzing:
			r.analyze()
		case StateAwaitingBreakout:
			r.awaitBreakout()
		case StateSimulating:
			r.simulate()
		case StateValidating:
			r.validate()
		case StateTransitioning:
			r.advance()
		}
		if r.state == prev {
			return
		}
	}
}

func (r *run) sessionClosed() bool {
	return !r.now.Before(r.close)
}

// begin resets the cycle context and starts gathering at tf.
func (r *run) begin(tf int) {
	r.tf = tf
	r.log = logging.WithTimeframe(r.base, tf)
	r.session.CurrentTimeframe = tf
	r.agg = nil
	r.fed = 0
	r.block = aggregator.Block{Timeframe: tf}
	r.lastCandle = models.Candle{}
	r.patterns = models.PatternSet{}
	r.pending = nil
	r.breakout = nil
	r.sim = nil
	r.simNext = time.Time{}
	r.result = models.CycleResult{Timeframe: tf}
	r.settleUntil = time.Time{}
	r.transition(StateGathering)
}

// refresh folds new base data into the aggregate series of the current
// timeframe. The series is rebuilt when the reconciler replaced or inserted
// history behind it.
func (r *run) refresh() aggregator.Block {
	if rev := r.rec.Revision(); r.agg == nil || rev != r.revision {
		r.agg = aggregator.New(r.timeframe(), r.cfg.BaseResolution, r.open)
		r.fed = 0
		r.revision = rev
	}

	history := r.rec.History()
	for _, c := range history[r.fed:] {
		if _, err := r.agg.Update(c); err != nil {
			r.log.Debug().Err(err).Time("candle", c.Timestamp).Msg("base candle skipped")
		}
	}
	r.fed = len(history)
	if c, ok := r.rec.Forming(); ok {
		_, _ = r.agg.Update(c)
	}
	if r.sessionClosed() {
		r.agg.Accept()
	}

	r.block = r.agg.Block(r.now)
	if n := r.block.Len(); n > 0 {
		if last := r.block.Candles[n-1]; last != r.lastCandle {
			r.lastCandle = last
			r.emit(stream.Event{Type: stream.EventCandleUpdated, Candle: last})
		}
	}
	return r.block
}

func (r *run) gather() {
	block := r.refresh()
	if len(block.Complete()) >= patterns.PatternWindow {
		r.transition(StateAnalyzing)
		return
	}
	if r.sessionClosed() {
		r.log.Warn().
			Err(apperrors.ErrSessionClosed).
			Int("candles", len(block.Complete())).
			Msg("session closed with insufficient candles")
		r.result.NoTrade = models.NoTradeInsufficient
		r.transition(StateValidating)
	}
}

func (r *run) analyze() {
	set, err := r.extractor.Extract(r.block.Complete(), r.tf)
	if err != nil {
		r.warn(err)
		r.result.NoTrade = models.NoTradeNoPattern
		r.transition(StateValidating)
		return
	}

	r.patterns = set
	r.result.Patterns = set
	if set.Empty() {
		r.log.Info().Msg("no pattern in first four candles")
		r.result.NoTrade = models.NoTradeNoPattern
		r.transition(StateValidating)
		return
	}

	for _, p := range set.All() {
		logging.LogPattern(r.log, string(p.Direction), p.PointA.Price, p.PointB.Price, p.StopLoss)
	}
	r.emit(stream.Event{Type: stream.EventPatternFound, Patterns: set})
	r.pending = set.All()
	r.transition(StateAwaitingBreakout)
}

func (r *run) awaitBreakout() {
	block := r.refresh()
	closed := r.sessionClosed()

	var fired []*models.BreakoutEvent
	remaining := r.pending[:0]
	for _, p := range r.pending {
		out, err := r.classifier.Classify(p, block, closed)
		switch {
		case apperrors.Is(err, apperrors.ErrDuplicateProcessing):
			r.log.Debug().Str("pattern", p.String()).Msg("breakout already processed")
		case err != nil:
			r.log.Debug().Err(err).Msg("classification deferred")
			remaining = append(remaining, p)
		case out.Event != nil:
			fired = append(fired, out.Event)
		case out.NoTrade:
			r.log.Info().Str("direction", string(p.Direction)).Msg("breakout window closed without a breach")
		default:
			remaining = append(remaining, p)
		}
	}
	r.pending = remaining

	if len(fired) > 0 {
		r.pending = nil
		r.openTrade(r.pick(fired))
		return
	}
	if len(r.pending) == 0 || closed {
		r.pending = nil
		r.result.NoTrade = models.NoTradeNoBreakout
		r.transition(StateValidating)
	}
}

// pick refines fired breakouts with base data and resolves a dual trigger.
func (r *run) pick(fired []*models.BreakoutEvent) *models.BreakoutEvent {
	base := r.rec.Candles()
	var up, down *models.BreakoutEvent
	for _, ev := range fired {
		patterns.Refine(ev, base, r.timeframe())
		if ev.Pattern.Direction == models.Downtrend {
			down = ev
		} else {
			up = ev
		}
	}
	ev := patterns.ResolveDualTrigger(up, down, base)
	if up != nil && down != nil {
		r.log.Warn().
			Str("winner", string(ev.Pattern.Direction)).
			Msg("both directions triggered; resolved dual trigger")
	}
	return ev
}

func (r *run) openTrade(ev *models.BreakoutEvent) {
	if !r.table.Claim(ev.Key()) {
		r.log.Debug().
			Str("key", ev.Key().String()).
			Bool("same_position", r.table.Processed(ev.Key())).
			Msg("breakout already processed")
		r.transition(StateValidating)
		return
	}
	r.breakout = ev
	r.result.Breakout = ev
	logging.LogBreakout(r.log, string(ev.Pattern.Direction), string(ev.Position), ev.TriggerPrice, ev.TriggerTimestamp)
	r.emit(stream.Event{Type: stream.EventBreakoutDetected, Breakout: ev})

	if !r.table.ClaimTrade(ev.Key(), ev.TriggerPrice) {
		r.log.Debug().Str("key", ev.Key().String()).Msg("trade already opened")
		r.transition(StateValidating)
		return
	}

	end := ev.CandleStart.Add(r.timeframe())
	if end.After(r.close) {
		end = r.close
	}
	window := trading.Window{Start: ev.CandleStart, End: end}
	r.sim = trading.Open(ev, r.session.Symbol, r.cfg.Quantity, r.cfg.Rules, window)
	r.simNext = ev.TriggerTimestamp.Add(r.cfg.BaseResolution)
	r.transition(StateSimulating)
}

// observe feeds a live tick to the open simulation.
func (r *run) observe(t models.Tick) {
	if r.state != StateSimulating || r.sim == nil || r.sim.Closed() {
		return
	}
	if sig, err := r.sim.OnTick(t); err == nil && sig != nil {
		r.now = t.Timestamp
		r.resolve()
	}
}

func (r *run) simulate() {
	if r.sim == nil {
		r.transition(StateValidating)
		return
	}
	if r.sim.Closed() {
		r.resolve()
		return
	}

	window := r.sim.Window()
	for _, c := range aggregator.BaseWithin(r.rec.History(), r.simNext, window.End) {
		r.simNext = c.Timestamp.Add(r.cfg.BaseResolution)
		sig, err := r.sim.OnCandle(c, r.cfg.BaseResolution)
		if err != nil {
			break
		}
		if sig != nil {
			r.resolve()
			return
		}
	}

	if !r.now.Before(window.End) || r.sessionClosed() {
		at := window.End
		if r.now.Before(at) {
			at = r.now
		}
		if _, err := r.sim.CloseAt(r.lastClose(window), at); err == nil {
			r.resolve()
		}
	}
}

// lastClose returns the close of the latest base candle inside the window,
// or zero when there is none.
func (r *run) lastClose(w trading.Window) float64 {
	base := aggregator.BaseWithin(r.rec.Candles(), w.Start, w.End)
	if len(base) == 0 {
		return 0
	}
	return base[len(base)-1].Close
}

func (r *run) resolve() {
	trade := r.sim.Trade()
	r.session.Trades = append(r.session.Trades, trade)
	r.result.Trade = &trade
	logging.LogTrade(r.log, trade.Symbol, string(trade.Side), trade.Quantity,
		trade.EntryPrice, trade.ExitPrice, trade.ProfitLoss, string(trade.ExitReason))
	r.emit(stream.Event{Type: stream.EventTradeResolved, Trade: &trade})
	r.transition(StateValidating)
}

func (r *run) validate() {
	r.result.Timeframe = r.tf
	r.result.CandlesFormed = r.block.Len()
	r.result.ResolvedAt = r.now
	r.result.Confirmed = r.confirm()

	r.session.Results = append(r.session.Results, r.result)
	if !r.session.Complete(r.tf) {
		r.log.Error().Msg("timeframe completed twice")
	}
	r.session.Warnings = append(r.session.Warnings, r.rec.DrainWarnings()...)

	r.log.Info().
		Str("no_trade", string(r.result.NoTrade)).
		Bool("confirmed", r.result.Confirmed).
		Ints("completed", r.session.Completed()).
		Msg("Timeframe resolved")

	if r.live && !r.sessionClosed() && r.cfg.SettleDelay > 0 {
		r.settleUntil = r.now.Add(r.cfg.SettleDelay)
	}
	r.transition(StateTransitioning)
}

// confirm cross-checks the cycle outcome with base-resolution data: a
// breakout must be reproduced by a base candle inside its trigger window,
// and a missed breakout must show no base breach over candles 5 and 6.
func (r *run) confirm() bool {
	base := r.rec.Candles()
	tf := r.timeframe()

	if ev := r.breakout; ev != nil {
		shifted := *ev.Pattern
		shifted.BreakoutLevel = ev.Level
		for _, c := range aggregator.BaseWithin(base, ev.CandleStart, ev.CandleStart.Add(tf)) {
			if patterns.Breaches(&shifted, c) {
				return true
			}
		}
		return false
	}

	if r.result.NoTrade != models.NoTradeNoBreakout {
		return false
	}
	// the same ordinal candles the classifier watched, so a gap in the
	// series cannot shift the check onto other data
	block := r.refresh()
	var window []models.Candle
	for _, pos := range []models.TriggerPosition{models.TriggerFifth, models.TriggerSixth} {
		if c, ok := block.At(pos.CandleIndex()); ok {
			window = append(window, aggregator.BaseWithin(base, c.Timestamp, c.Timestamp.Add(tf))...)
		}
	}
	for _, p := range r.patterns.All() {
		for _, c := range window {
			if patterns.Breaches(p, c) {
				return false
			}
		}
	}
	return true
}

func (r *run) advance() {
	if r.live && r.now.Before(r.settleUntil) {
		return
	}

	next := r.tf * 2
	if next <= r.cfg.MaxTimeframe && !r.session.IsCompleted(next) {
		from := r.tf
		r.emit(stream.Event{Type: stream.EventTimeframeAdvanced, From: from, To: next})
		r.begin(next)
		return
	}

	r.transition(StateCompleted)
	r.finish(models.SessionCompleted)
}

// halt abandons any open simulation and forces Stopped.
func (r *run) halt(now time.Time) {
	if r.state.Terminal() {
		return
	}
	r.now = now
	if r.sim != nil && !r.sim.Closed() {
		r.log.Info().Str("trade", r.sim.Trade().ID).Msg("open simulation abandoned")
	}
	r.sim = nil
	r.pending = nil
	r.transition(StateStopped)
	r.finish(models.SessionStopped)
}

func (r *run) finish(status models.SessionStatus) {
	r.session.Status = status
	r.session.FinishedAt = r.now
	r.session.Warnings = append(r.session.Warnings, r.rec.DrainWarnings()...)
	r.base.Info().
		Str("status", string(status)).
		Int("breakouts", r.table.Len()).
		Msg("session finished")
	snapshot := r.session.Clone()
	r.emit(stream.Event{Type: stream.EventSessionFinished, Session: &snapshot})
}

func (r *run) warn(err error) {
	r.log.Warn().Err(err).Msg("data warning")
	r.session.Warnings = append(r.session.Warnings, err.Error())
}
