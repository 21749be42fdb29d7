// Package patterns implements the 4-candle leg extraction and breakout
// classification used by the progression controller.
package patterns

import (
	"fmt"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
)

// PatternWindow is the number of leading candles a pattern is derived from.
const PatternWindow = 4

// Extractor selects the Point A/B legs of a timeframe block.
type Extractor struct{}

// NewExtractor creates a new extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Name() string {
	return "FourCandleExtractor"
}

// Extract derives the uptrend and downtrend legs from candles 1-4.
// Candles beyond the fourth are ignored. A direction is nil when no ordered
// pair moves price in that direction.
func (e *Extractor) Extract(candles []models.Candle, timeframe int) (models.PatternSet, error) {
	if len(candles) < PatternWindow {
		return models.PatternSet{}, apperrors.Wrapf(apperrors.ErrInsufficientCandles,
			"%dm block has %d candles, need %d", timeframe, len(candles), PatternWindow)
	}

	window := candles[:PatternWindow]
	for i, c := range window {
		if c.High < c.Low {
			return models.PatternSet{}, apperrors.NewDataError("pattern", fmt.Sprintf("%dm", timeframe),
				fmt.Sprintf("candle %d high below low", i+1), apperrors.ErrDataMalformed)
		}
		if i > 0 && !c.Timestamp.After(window[i-1].Timestamp) {
			return models.PatternSet{}, apperrors.NewDataError("pattern", fmt.Sprintf("%dm", timeframe),
				fmt.Sprintf("candle %d not after candle %d", i+1, i), apperrors.ErrDataMalformed)
		}
	}

	return models.PatternSet{
		Uptrend:   e.uptrend(window, timeframe),
		Downtrend: e.downtrend(window, timeframe),
	}, nil
}

// uptrend picks the low-then-later-high pair with the largest rise.
func (e *Extractor) uptrend(window []models.Candle, timeframe int) *models.Pattern {
	bestI, bestJ := -1, -1
	best := 0.0
	for i := 0; i < len(window)-1; i++ {
		for j := i + 1; j < len(window); j++ {
			// Strict comparison keeps the earliest pair on ties.
			if delta := window[j].High - window[i].Low; delta > best {
				best, bestI, bestJ = delta, i, j
			}
		}
	}
	if bestI < 0 {
		return nil
	}

	a, b := window[bestI], window[bestJ]
	return newPattern(models.Uptrend, timeframe,
		models.PricePoint{Price: a.Low, Timestamp: a.Timestamp, Index: bestI + 1},
		models.PricePoint{Price: b.High, Timestamp: b.Timestamp, Index: bestJ + 1},
		window[PatternWindow-1].Low)
}

// downtrend picks the high-then-later-low pair with the largest fall.
func (e *Extractor) downtrend(window []models.Candle, timeframe int) *models.Pattern {
	bestI, bestJ := -1, -1
	best := 0.0
	for i := 0; i < len(window)-1; i++ {
		for j := i + 1; j < len(window); j++ {
			if delta := window[i].High - window[j].Low; delta > best {
				best, bestI, bestJ = delta, i, j
			}
		}
	}
	if bestI < 0 {
		return nil
	}

	a, b := window[bestI], window[bestJ]
	return newPattern(models.Downtrend, timeframe,
		models.PricePoint{Price: a.High, Timestamp: a.Timestamp, Index: bestI + 1},
		models.PricePoint{Price: b.Low, Timestamp: b.Timestamp, Index: bestJ + 1},
		window[PatternWindow-1].High)
}

func newPattern(dir models.Direction, timeframe int, a, b models.PricePoint, stop float64) *models.Pattern {
	duration := b.Timestamp.Sub(a.Timestamp).Minutes()
	slope := 0.0
	if duration > 0 {
		slope = (b.Price - a.Price) / duration
	}
	return &models.Pattern{
		Direction:       dir,
		Timeframe:       timeframe,
		PointA:          a,
		PointB:          b,
		Slope:           slope,
		DurationMinutes: duration,
		BreakoutLevel:   b.Price,
		StopLoss:        stop,
	}
}

// RederiveStop returns a copy of p whose stop is the opposite extreme of
// candle 5. Used when the breakout is triggered by candle 6.
func RederiveStop(p *models.Pattern, candle5 models.Candle) *models.Pattern {
	cp := *p
	if p.Direction == models.Downtrend {
		cp.StopLoss = candle5.High
	} else {
		cp.StopLoss = candle5.Low
	}
	return &cp
}
