package trading

import (
	"fmt"
	"math"
	"time"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
)

// Simulation is an open hypothetical position resolved against the price
// observations that follow its breakout. It is not safe for concurrent use;
// the progression controller drives it from a single goroutine.
type Simulation struct {
	trade  models.SimulatedTrade
	rules  ExitRules
	window Window
	trail  *trailingStop

	lastClose float64
	observed  int
}

// Open starts a simulation for a breakout. Entry happens at the trigger price
// and time; the trade resolves inside window.
func Open(ev *models.BreakoutEvent, symbol string, qty int, rules ExitRules, window Window) *Simulation {
	side := ev.Pattern.Direction.Side()
	entry := ev.TriggerPrice

	trade := models.SimulatedTrade{
		ID:             fmt.Sprintf("%s-%dm-%s-%s", symbol, ev.Timeframe, ev.Position, ev.TriggerTimestamp.Format("150405")),
		Symbol:         symbol,
		Pattern:        ev.Pattern,
		Timeframe:      ev.Timeframe,
		Side:           side,
		Quantity:       qty,
		EntryPrice:     entry,
		TargetPrice:    ev.Pattern.Target(entry),
		StopLoss:       ev.Pattern.StopLoss,
		EntryTimestamp: ev.TriggerTimestamp,
		TriggerPos:     ev.Position,
	}

	return &Simulation{
		trade:     trade,
		rules:     rules,
		window:    window,
		trail:     newTrailingStop(rules.TrailingDistance, side == models.SideBuy, entry),
		lastClose: entry,
	}
}

// Trade returns a copy of the simulated trade.
func (s *Simulation) Trade() models.SimulatedTrade {
	return s.trade
}

// Closed reports whether the trade has been resolved.
func (s *Simulation) Closed() bool {
	return s.trade.Closed()
}

// Window returns the validation window.
func (s *Simulation) Window() Window {
	return s.window
}

// Observations returns how many observations were evaluated.
func (s *Simulation) Observations() int {
	return s.observed
}

// OnCandle evaluates a base candle.
func (s *Simulation) OnCandle(c models.Candle, baseRes time.Duration) (*ExitSignal, error) {
	return s.Observe(FromCandle(c, baseRes))
}

// OnTick evaluates a live tick.
func (s *Simulation) OnTick(t models.Tick) (*ExitSignal, error) {
	return s.Observe(FromTick(t))
}

// Observe evaluates the exit rules in priority order; the first match closes
// the trade. An observation at or after the window end with no rule matched
// closes the trade at its price with period-close protection.
func (s *Simulation) Observe(o Observation) (*ExitSignal, error) {
	if s.Closed() {
		return nil, apperrors.ErrTradeClosed
	}
	if o.Time.Before(s.trade.EntryTimestamp) {
		return nil, nil
	}
	s.observed++
	s.lastClose = o.Price

	sig := s.evaluate(o)
	if sig == nil && !o.Time.Before(s.window.End) {
		sig = &ExitSignal{Reason: models.ExitPeriodClose, Price: o.Price, Time: o.Time}
	}
	if sig != nil {
		s.close(*sig)
	}
	return sig, nil
}

func (s *Simulation) evaluate(o Observation) *ExitSignal {
	t := &s.trade
	qty := float64(t.Quantity)
	pnl := t.UnrealizedPnL(o.Price)
	targetDistance := math.Abs(t.TargetPrice - t.EntryPrice)
	elapsed := o.Time.Sub(s.window.Start)
	duration := s.window.Duration()

	exit := func(reason models.ExitReason, price float64) *ExitSignal {
		return &ExitSignal{Reason: reason, Price: price, Time: o.Time}
	}

	// A. Fast move
	if math.Abs(pnl) >= s.rules.FastMoveUnits*qty {
		return exit(models.ExitFastMove, o.Price)
	}

	// B. Early target
	if targetDistance > 0 && pnl >= s.rules.EarlyTargetRatio*targetDistance*qty {
		return exit(models.ExitEarlyTarget, o.Price)
	}

	// C. Time-decay close
	if duration > 0 && float64(elapsed) >= s.rules.TimeDecayRatio*float64(duration) {
		return exit(models.ExitTimeDecay, o.Price)
	}

	// D. Stop loss, checked at the adverse extreme
	adverse := o.Low
	if t.Side == models.SideSell {
		adverse = o.High
	}
	if t.UnrealizedPnL(adverse) <= -math.Abs(t.EntryPrice-t.StopLoss)*qty {
		return exit(models.ExitStopLoss, t.StopLoss)
	}

	// E. Risk-free marker
	if !t.RiskFree && targetDistance > 0 && pnl >= s.rules.RiskFreeRatio*targetDistance*qty {
		t.RiskFree = true
		if s.rules.RiskFreeMovesStop {
			t.StopLoss = t.EntryPrice
		}
	}

	// F. Duration-based trailing stop
	s.trail.track(o)
	if duration > 0 && float64(elapsed) >= s.rules.TrailActivationRatio*float64(duration) {
		if hit, price := s.trail.check(o); hit {
			return exit(models.ExitTrailingStop, price)
		}
	}

	return nil
}

// CloseAt resolves an open trade with period-close protection, normally at
// the close of the validation candle.
func (s *Simulation) CloseAt(price float64, at time.Time) (*ExitSignal, error) {
	if s.Closed() {
		return nil, apperrors.ErrTradeClosed
	}
	if price <= 0 {
		price = s.lastClose
	}
	sig := ExitSignal{Reason: models.ExitPeriodClose, Price: price, Time: at}
	s.close(sig)
	return &sig, nil
}

func (s *Simulation) close(sig ExitSignal) {
	s.trade.ExitPrice = sig.Price
	s.trade.ExitReason = sig.Reason
	s.trade.ExitTimestamp = sig.Time
	s.trade.ProfitLoss = models.ProfitLoss(s.trade.Side, s.trade.EntryPrice, sig.Price, s.trade.Quantity)
}

// Run replays observations until the trade resolves and returns the trade,
// which stays open when the observations run out first.
func Run(sim *Simulation, observations []Observation) models.SimulatedTrade {
	for _, o := range observations {
		if sig, err := sim.Observe(o); err != nil || sig != nil {
			break
		}
	}
	return sim.Trade()
}
