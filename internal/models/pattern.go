package models

import (
	"fmt"
	"math"
	"time"
)

// PricePoint is a price observed at a moment in time.
type PricePoint struct {
	Price     float64
	Timestamp time.Time
	Index     int // 1-based candle ordinal inside the block
}

// Pattern is a directional leg between two extrema taken from the first
// four candles of a timeframe block.
type Pattern struct {
	Direction       Direction
	Timeframe       int // minutes
	PointA          PricePoint
	PointB          PricePoint
	Slope           float64
	DurationMinutes float64
	BreakoutLevel   float64
	StopLoss        float64
}

// LegSize returns the absolute price distance between Point A and Point B.
func (p *Pattern) LegSize() float64 {
	return math.Abs(p.PointB.Price - p.PointA.Price)
}

// Target projects the leg from the entry price in the pattern direction.
func (p *Pattern) Target(entry float64) float64 {
	if p.Direction == Downtrend {
		return entry - p.LegSize()
	}
	return entry + p.LegSize()
}

// Key returns the breakout idempotency key of the pattern.
func (p *Pattern) Key() BreakoutKey {
	return BreakoutKey{
		Direction: p.Direction,
		Timeframe: p.Timeframe,
		Level:     p.BreakoutLevel,
	}
}

func (p *Pattern) String() string {
	return fmt.Sprintf("%s %dm A=%.2f@%s B=%.2f@%s level=%.2f stop=%.2f",
		p.Direction, p.Timeframe,
		p.PointA.Price, p.PointA.Timestamp.Format("15:04"),
		p.PointB.Price, p.PointB.Timestamp.Format("15:04"),
		p.BreakoutLevel, p.StopLoss)
}

// PatternSet holds the independently selected legs of a block. Either may be nil.
type PatternSet struct {
	Uptrend   *Pattern
	Downtrend *Pattern
}

// Empty reports whether neither direction produced a leg.
func (s PatternSet) Empty() bool {
	return s.Uptrend == nil && s.Downtrend == nil
}

// All returns the non-nil patterns, uptrend first.
func (s PatternSet) All() []*Pattern {
	out := make([]*Pattern, 0, 2)
	if s.Uptrend != nil {
		out = append(out, s.Uptrend)
	}
	if s.Downtrend != nil {
		out = append(out, s.Downtrend)
	}
	return out
}

// TriggerPosition tags which candle triggered a breakout.
type TriggerPosition string

const (
	TriggerFifth        TriggerPosition = "5th"
	TriggerSixth        TriggerPosition = "6th"
	TriggerSessionClose TriggerPosition = "session-close-fallback"
)

// CandleIndex returns the 1-based candle ordinal of the position.
func (t TriggerPosition) CandleIndex() int {
	switch t {
	case TriggerFifth:
		return 5
	case TriggerSixth:
		return 6
	case TriggerSessionClose:
		return 4
	}
	return 0
}

// BreakoutKey identifies a breakout for idempotency checks.
type BreakoutKey struct {
	Direction Direction
	Timeframe int
	Level     float64
}

func (k BreakoutKey) String() string {
	return fmt.Sprintf("%s:%d:%.4f", k.Direction, k.Timeframe, k.Level)
}

// BreakoutEvent records the first candle breaching a pattern's breakout level.
type BreakoutEvent struct {
	Pattern          *Pattern
	Timeframe        int
	Position         TriggerPosition
	Level            float64 // price crossed; candle 1-3 extreme for the session-close fallback
	CandleStart      time.Time
	TriggerTimestamp time.Time
	TriggerPrice     float64
	Refined          bool // trigger located with base-resolution data
}

// Key returns the processing key of the breakout, including its position.
func (b *BreakoutEvent) Key() ProcessingKey {
	return ProcessingKey{
		Direction: b.Pattern.Direction,
		Timeframe: b.Timeframe,
		Level:     b.Pattern.BreakoutLevel,
		Position:  b.Position,
	}
}

// ProcessingKey is the idempotency table key owned by the progression controller.
type ProcessingKey struct {
	Direction Direction
	Timeframe int
	Level     float64
	Position  TriggerPosition
}

func (k ProcessingKey) String() string {
	return fmt.Sprintf("%s:%d:%.4f:%s", k.Direction, k.Timeframe, k.Level, k.Position)
}
