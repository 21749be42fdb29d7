// Package stream distributes scanner events to observers and subscribers.
package stream

import (
	"time"

	"breakout-scanner/internal/models"
)

// EventType identifies a scanner event.
type EventType string

const (
	EventCandleUpdated     EventType = "candle-updated"
	EventPatternFound      EventType = "pattern-found"
	EventBreakoutDetected  EventType = "breakout-detected"
	EventTradeResolved     EventType = "trade-resolved"
	EventTimeframeAdvanced EventType = "timeframe-advanced"
	EventSessionFinished   EventType = "session-finished"
)

// Scope identifies the session and timeframe an event belongs to.
type Scope struct {
	SessionID string
	Symbol    string
	Timeframe int
	At        time.Time
}

// Event is the channel form of an observer notification. Only the fields
// relevant to Type are set.
type Event struct {
	Type     EventType
	Scope    Scope
	Candle   models.Candle
	Patterns models.PatternSet
	Breakout *models.BreakoutEvent
	Trade    *models.SimulatedTrade
	From     int
	To       int
	Session  *models.ScannerSession
}

// Observer receives typed scanner notifications. Implementations must not
// block; they run on the scanner's worker goroutine.
type Observer interface {
	CandleUpdated(s Scope, c models.Candle)
	PatternFound(s Scope, set models.PatternSet)
	BreakoutDetected(s Scope, ev models.BreakoutEvent)
	TradeResolved(s Scope, t models.SimulatedTrade)
	TimeframeAdvanced(s Scope, from, to int)
	SessionFinished(session models.ScannerSession)
}

// NopObserver implements Observer with empty methods. Embed it to handle a
// subset of events.
type NopObserver struct{}

func (NopObserver) CandleUpdated(Scope, models.Candle)           {}
func (NopObserver) PatternFound(Scope, models.PatternSet)        {}
func (NopObserver) BreakoutDetected(Scope, models.BreakoutEvent) {}
func (NopObserver) TradeResolved(Scope, models.SimulatedTrade)   {}
func (NopObserver) TimeframeAdvanced(Scope, int, int)            {}
func (NopObserver) SessionFinished(models.ScannerSession)        {}

// Dispatch delivers ev to obs through the matching typed method.
func Dispatch(obs Observer, ev Event) {
	switch ev.Type {
	case EventCandleUpdated:
		obs.CandleUpdated(ev.Scope, ev.Candle)
	case EventPatternFound:
		obs.PatternFound(ev.Scope, ev.Patterns)
	case EventBreakoutDetected:
		if ev.Breakout != nil {
			obs.BreakoutDetected(ev.Scope, *ev.Breakout)
		}
	case EventTradeResolved:
		if ev.Trade != nil {
			obs.TradeResolved(ev.Scope, *ev.Trade)
		}
	case EventTimeframeAdvanced:
		obs.TimeframeAdvanced(ev.Scope, ev.From, ev.To)
	case EventSessionFinished:
		if ev.Session != nil {
			obs.SessionFinished(*ev.Session)
		}
	}
}
