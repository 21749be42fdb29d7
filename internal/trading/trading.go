// Package trading simulates hypothetical trades opened on breakouts and
// resolves them with a fixed, prioritized set of exit rules.
package trading

import (
	"time"

	"breakout-scanner/internal/config"
	"breakout-scanner/internal/models"
)

// ExitRules holds the simulator thresholds.
type ExitRules struct {
	FastMoveUnits        float64 // A: price units, multiplied by quantity
	EarlyTargetRatio     float64 // B: fraction of target distance
	TimeDecayRatio       float64 // C: fraction of validation candle duration
	RiskFreeRatio        float64 // E: fraction of target distance
	RiskFreeMovesStop    bool
	TrailActivationRatio float64 // F: fraction of validation candle duration
	TrailingDistance     float64 // F: price units
}

// DefaultRules returns the standard thresholds.
func DefaultRules() ExitRules {
	return ExitRules{
		FastMoveUnits:        20,
		EarlyTargetRatio:     0.8,
		TimeDecayRatio:       0.95,
		RiskFreeRatio:        0.5,
		TrailActivationRatio: 0.5,
		TrailingDistance:     10,
	}
}

// RulesFromConfig converts the [exits] configuration section.
func RulesFromConfig(cfg config.ExitConfig) ExitRules {
	return ExitRules{
		FastMoveUnits:        cfg.FastMoveUnits,
		EarlyTargetRatio:     cfg.EarlyTargetRatio,
		TimeDecayRatio:       cfg.TimeDecayRatio,
		RiskFreeRatio:        cfg.RiskFreeRatio,
		RiskFreeMovesStop:    cfg.RiskFreeMovesStop,
		TrailActivationRatio: cfg.TrailActivationRatio,
		TrailingDistance:     cfg.TrailingDistance,
	}
}

// Observation is one price update seen by an open simulation.
type Observation struct {
	Time  time.Time // moment the values are final
	Price float64   // current price
	High  float64
	Low   float64
}

// FromCandle converts a base candle. The observation is taken at the end of
// the candle, with the close as current price.
func FromCandle(c models.Candle, baseRes time.Duration) Observation {
	return Observation{
		Time:  c.Timestamp.Add(baseRes),
		Price: c.Close,
		High:  c.High,
		Low:   c.Low,
	}
}

// FromTick converts a live tick.
func FromTick(t models.Tick) Observation {
	return Observation{
		Time:  t.Timestamp,
		Price: t.Price,
		High:  t.Price,
		Low:   t.Price,
	}
}

// Window is the validation candle a trade is resolved inside.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// ExitSignal describes a resolved exit.
type ExitSignal struct {
	Reason models.ExitReason
	Price  float64
	Time   time.Time
}
