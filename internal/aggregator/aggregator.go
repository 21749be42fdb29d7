// Package aggregator converts base-resolution candles into coarser
// fixed-duration bars.
package aggregator

import (
	"errors"
	"math"
	"sort"
	"time"

	"breakout-scanner/internal/models"
)

// ErrFrozenWindow is returned when a base candle falls into a window that has
// already been superseded by a later one.
var ErrFrozenWindow = errors.New("candle belongs to a frozen window")

// Block is an ordered sequence of candles aggregated at one timeframe.
type Block struct {
	Timeframe  int // minutes
	Candles    []models.Candle
	Incomplete bool // the last candle has not covered its full window yet
}

// Len returns the number of candles including a trailing partial one.
func (b Block) Len() int {
	return len(b.Candles)
}

// Complete returns the candles usable by pattern logic.
func (b Block) Complete() []models.Candle {
	if b.Incomplete && len(b.Candles) > 0 {
		return b.Candles[:len(b.Candles)-1]
	}
	return b.Candles
}

// Forming returns the trailing partial candle, if any.
func (b Block) Forming() (models.Candle, bool) {
	if !b.Incomplete || len(b.Candles) == 0 {
		return models.Candle{}, false
	}
	return b.Candles[len(b.Candles)-1], true
}

// At returns the candle with the given 1-based ordinal.
func (b Block) At(index int) (models.Candle, bool) {
	if index < 1 || index > len(b.Candles) {
		return models.Candle{}, false
	}
	return b.Candles[index-1], true
}

// Aggregator builds T-duration candles incrementally. Windows are aligned to
// the anchor, normally the session open.
type Aggregator struct {
	timeframe time.Duration
	baseRes   time.Duration
	anchor    time.Time

	candles  []models.Candle
	parts    []models.Candle // base candles of the last window, ordered by timestamp
	accepted bool
}

// New creates an aggregator for the given timeframe and base resolution.
func New(timeframe, baseRes time.Duration, anchor time.Time) *Aggregator {
	return &Aggregator{
		timeframe: timeframe,
		baseRes:   baseRes,
		anchor:    anchor,
	}
}

// Aggregate builds a block from base candles in one pass.
func Aggregate(base []models.Candle, timeframe, baseRes time.Duration, anchor, now time.Time) Block {
	a := New(timeframe, baseRes, anchor)
	for _, c := range base {
		_, _ = a.Update(c)
	}
	return a.Block(now)
}

// Timeframe returns the aggregation duration.
func (a *Aggregator) Timeframe() time.Duration {
	return a.timeframe
}

// WindowStart returns the start of the window containing ts.
func (a *Aggregator) WindowStart(ts time.Time) time.Time {
	offset := ts.Sub(a.anchor)
	k := int64(math.Floor(float64(offset) / float64(a.timeframe)))
	return a.anchor.Add(time.Duration(k) * a.timeframe)
}

// Update folds a base candle into the aggregate series. A candle inside the
// last window updates that aggregate in place; re-sending a base candle with
// the same timestamp replaces it, so a widened forming candle never double
// counts. It returns true when a new aggregate was started.
func (a *Aggregator) Update(c models.Candle) (bool, error) {
	ws := a.WindowStart(c.Timestamp)

	if len(a.candles) == 0 || ws.After(a.candles[len(a.candles)-1].Timestamp) {
		a.parts = []models.Candle{c}
		a.accepted = false
		a.candles = append(a.candles, models.Candle{Timestamp: ws, Index: len(a.candles) + 1})
		a.recompute()
		return true, nil
	}

	if !ws.Equal(a.candles[len(a.candles)-1].Timestamp) {
		return false, ErrFrozenWindow
	}

	i := sort.Search(len(a.parts), func(i int) bool {
		return !a.parts[i].Timestamp.Before(c.Timestamp)
	})
	if i < len(a.parts) && a.parts[i].Timestamp.Equal(c.Timestamp) {
		a.parts[i] = c
	} else {
		a.parts = append(a.parts, models.Candle{})
		copy(a.parts[i+1:], a.parts[i:])
		a.parts[i] = c
	}
	a.recompute()
	return false, nil
}

func (a *Aggregator) recompute() {
	last := &a.candles[len(a.candles)-1]
	first := a.parts[0]
	last.Open = first.Open
	last.Close = a.parts[len(a.parts)-1].Close
	last.High = first.High
	last.Low = first.Low
	last.Volume = 0
	for _, p := range a.parts {
		last.High = math.Max(last.High, p.High)
		last.Low = math.Min(last.Low, p.Low)
		last.Volume += p.Volume
	}
}

// Accept marks the trailing partial window complete. Used at session close.
func (a *Aggregator) Accept() {
	a.accepted = true
}

// LastComplete reports whether the trailing aggregate has covered its window
// or the window has elapsed.
func (a *Aggregator) LastComplete(now time.Time) bool {
	if len(a.candles) == 0 {
		return true
	}
	if a.accepted {
		return true
	}
	start := a.candles[len(a.candles)-1].Timestamp
	end := start.Add(a.timeframe)
	if !now.IsZero() && !now.Before(end) {
		return true
	}
	covered := a.parts[len(a.parts)-1].Timestamp.Add(a.baseRes).Sub(start)
	return covered >= a.timeframe
}

// Block returns a snapshot of the aggregated series.
func (a *Aggregator) Block(now time.Time) Block {
	candles := make([]models.Candle, len(a.candles))
	copy(candles, a.candles)
	return Block{
		Timeframe:  int(a.timeframe / time.Minute),
		Candles:    candles,
		Incomplete: !a.LastComplete(now),
	}
}

// BaseWithin returns the base candles whose timestamps fall in [start, end).
func BaseWithin(base []models.Candle, start, end time.Time) []models.Candle {
	lo := sort.Search(len(base), func(i int) bool {
		return !base[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(base), func(i int) bool {
		return !base[i].Timestamp.Before(end)
	})
	if lo >= hi {
		return nil
	}
	out := make([]models.Candle, hi-lo)
	copy(out, base[lo:hi])
	return out
}
