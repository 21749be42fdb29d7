package models

import "time"

// ExitReason describes which rule closed a simulated trade.
type ExitReason string

const (
	ExitFastMove     ExitReason = "fast-move"
	ExitEarlyTarget  ExitReason = "early-target"
	ExitTimeDecay    ExitReason = "time-decay-close"
	ExitStopLoss     ExitReason = "stop-loss"
	ExitTrailingStop ExitReason = "trailing-stop"
	ExitPeriodClose  ExitReason = "period-close protection"
	ExitNone         ExitReason = ""
)

// SimulatedTrade is a hypothetical position opened on a breakout.
// It is immutable once ExitPrice has been assigned.
type SimulatedTrade struct {
	ID             string
	Symbol         string
	Pattern        *Pattern
	Timeframe      int
	Side           Side
	Quantity       int
	EntryPrice     float64
	TargetPrice    float64
	StopLoss       float64
	ExitPrice      float64
	ExitReason     ExitReason
	ProfitLoss     float64
	RiskFree       bool // unrealized P&L reached the risk-free marker
	EntryTimestamp time.Time
	ExitTimestamp  time.Time
	TriggerPos     TriggerPosition
}

// Closed reports whether the trade has been resolved.
func (t *SimulatedTrade) Closed() bool {
	return t.ExitReason != ExitNone
}

// UnrealizedPnL returns the P&L of the open trade at price.
func (t *SimulatedTrade) UnrealizedPnL(price float64) float64 {
	return ProfitLoss(t.Side, t.EntryPrice, price, t.Quantity)
}

// HoldDuration returns the time between entry and exit.
func (t *SimulatedTrade) HoldDuration() time.Duration {
	if !t.Closed() {
		return 0
	}
	return t.ExitTimestamp.Sub(t.EntryTimestamp)
}

// ProfitLoss computes the P&L of a round trip.
func ProfitLoss(side Side, entry, exit float64, qty int) float64 {
	if side == SideSell {
		return (entry - exit) * float64(qty)
	}
	return (exit - entry) * float64(qty)
}

// TradeSummary aggregates a list of simulated trades.
type TradeSummary struct {
	Count    int
	Winners  int
	Losers   int
	TotalPnL float64
	ByReason map[ExitReason]int
}

// Summarize builds a TradeSummary from closed trades.
func Summarize(trades []SimulatedTrade) TradeSummary {
	s := TradeSummary{ByReason: make(map[ExitReason]int)}
	for _, t := range trades {
		if !t.Closed() {
			continue
		}
		s.Count++
		s.TotalPnL += t.ProfitLoss
		if t.ProfitLoss > 0 {
			s.Winners++
		} else if t.ProfitLoss < 0 {
			s.Losers++
		}
		s.ByReason[t.ExitReason]++
	}
	return s
}
