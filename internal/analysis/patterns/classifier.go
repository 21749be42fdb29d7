package patterns

import (
	"math"
	"time"

	"breakout-scanner/internal/aggregator"
	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
)

// Claimer records breakouts that have already been emitted.
// Claim returns false when a breakout with the same direction, timeframe and
// level was claimed before.
type Claimer interface {
	Claim(key models.ProcessingKey) bool
}

// Outcome is the result of classifying one pattern against a block.
// A zero Outcome means the breakout window is still open.
type Outcome struct {
	Event   *models.BreakoutEvent
	NoTrade bool
}

// Resolved reports whether the pattern reached a final verdict.
func (o Outcome) Resolved() bool {
	return o.Event != nil || o.NoTrade
}

var breakoutPositions = []models.TriggerPosition{models.TriggerFifth, models.TriggerSixth}

// Classifier finds the first candle breaching a pattern's breakout level.
type Classifier struct {
	claimer Claimer
}

// NewClassifier creates a classifier that claims emitted breakouts in c.
func NewClassifier(c Claimer) *Classifier {
	return &Classifier{claimer: c}
}

func (c *Classifier) Name() string {
	return "BreakoutClassifier"
}

// Classify scans candles 5 and 6 of the block. The trailing forming candle is
// scanned too since a breach by its running extreme cannot be undone.
// When sessionClosed is set and no further candle can form, the session-close
// fallback is tried and an unbreached window resolves to no trade.
// A breakout whose key was already claimed returns ErrDuplicateProcessing.
func (c *Classifier) Classify(p *models.Pattern, block aggregator.Block, sessionClosed bool) (Outcome, error) {
	if p == nil {
		return Outcome{NoTrade: true}, nil
	}
	if block.Len() < PatternWindow {
		return Outcome{}, apperrors.Wrapf(apperrors.ErrInsufficientCandles,
			"%dm block has %d candles", block.Timeframe, block.Len())
	}

	for _, pos := range breakoutPositions {
		candle, ok := block.At(pos.CandleIndex())
		if !ok {
			break
		}
		if Breaches(p, candle) {
			pattern := p
			if pos == models.TriggerSixth {
				prev, _ := block.At(models.TriggerFifth.CandleIndex())
				pattern = RederiveStop(p, prev)
			}
			return c.emit(pattern, block.Timeframe, pos, p.BreakoutLevel, candle)
		}
		if block.Incomplete && pos.CandleIndex() == block.Len() && !sessionClosed {
			return Outcome{}, nil
		}
		if pos == models.TriggerSixth {
			return Outcome{NoTrade: true}, nil
		}
	}

	if !sessionClosed {
		return Outcome{}, nil
	}

	if block.Len() == PatternWindow {
		if candle4, ok := SessionCloseTrigger(p, block.Candles); ok {
			level := priorExtreme(p, block.Candles[:PatternWindow-1])
			return c.emit(p, block.Timeframe, models.TriggerSessionClose, level, candle4)
		}
	}
	return Outcome{NoTrade: true}, nil
}

func (c *Classifier) emit(p *models.Pattern, timeframe int, pos models.TriggerPosition, level float64, candle models.Candle) (Outcome, error) {
	ev := &models.BreakoutEvent{
		Pattern:          p,
		Timeframe:        timeframe,
		Position:         pos,
		Level:            level,
		CandleStart:      candle.Timestamp,
		TriggerTimestamp: candle.Timestamp,
		TriggerPrice:     entryPrice(p.Direction, level, candle.Open),
	}
	if c.claimer != nil && !c.claimer.Claim(ev.Key()) {
		return Outcome{}, apperrors.Wrapf(apperrors.ErrDuplicateProcessing, "breakout %s", p.Key())
	}
	return Outcome{Event: ev}, nil
}

// Breaches reports whether the candle crosses the pattern's level in the
// pattern direction.
func Breaches(p *models.Pattern, c models.Candle) bool {
	if p.Direction == models.Downtrend {
		return c.Low < p.BreakoutLevel
	}
	return c.High > p.BreakoutLevel
}

// SessionCloseTrigger checks the fallback for blocks that only ever formed
// four candles: Point B must be set by candle 4 and candle 4 alone must break
// the extreme of candles 1-3.
func SessionCloseTrigger(p *models.Pattern, candles []models.Candle) (models.Candle, bool) {
	if len(candles) < PatternWindow || p.PointB.Index != PatternWindow {
		return models.Candle{}, false
	}
	prior := priorExtreme(p, candles[:PatternWindow-1])
	candle4 := candles[PatternWindow-1]
	if p.Direction == models.Downtrend {
		return candle4, candle4.Low < prior
	}
	return candle4, candle4.High > prior
}

// priorExtreme returns the highest high (uptrend) or lowest low (downtrend).
func priorExtreme(p *models.Pattern, candles []models.Candle) float64 {
	if len(candles) == 0 {
		return p.BreakoutLevel
	}
	ext := candles[0].High
	if p.Direction == models.Downtrend {
		ext = candles[0].Low
	}
	for _, c := range candles[1:] {
		if p.Direction == models.Downtrend {
			ext = math.Min(ext, c.Low)
		} else {
			ext = math.Max(ext, c.High)
		}
	}
	return ext
}

// entryPrice is the level, or the open when price gapped through it.
func entryPrice(dir models.Direction, level, open float64) float64 {
	if dir == models.Downtrend {
		return math.Min(level, open)
	}
	return math.Max(level, open)
}

// Refine locates the first base candle inside the trigger candle's window
// that breaches the level and moves the trigger timestamp and price onto it.
// The coarse decision is left untouched when no base candle breaches.
func Refine(ev *models.BreakoutEvent, base []models.Candle, timeframe time.Duration) {
	if ev == nil {
		return
	}
	level := ev.Level
	shifted := *ev.Pattern
	shifted.BreakoutLevel = level

	for _, c := range aggregator.BaseWithin(base, ev.CandleStart, ev.CandleStart.Add(timeframe)) {
		if Breaches(&shifted, c) {
			ev.TriggerTimestamp = c.Timestamp
			ev.TriggerPrice = entryPrice(ev.Pattern.Direction, level, c.Open)
			ev.Refined = true
			return
		}
	}
}

// ResolveDualTrigger picks one breakout when both directions fired.
// The breach that came first in base data wins; a tie on the same base
// candle goes to the larger breach magnitude, then to the uptrend.
func ResolveDualTrigger(up, down *models.BreakoutEvent, base []models.Candle) *models.BreakoutEvent {
	switch {
	case up == nil:
		return down
	case down == nil:
		return up
	}

	if !up.TriggerTimestamp.Equal(down.TriggerTimestamp) {
		if up.TriggerTimestamp.Before(down.TriggerTimestamp) {
			return up
		}
		return down
	}

	if breachMagnitude(down, base) > breachMagnitude(up, base) {
		return down
	}
	return up
}

func breachMagnitude(ev *models.BreakoutEvent, base []models.Candle) float64 {
	level := ev.Level
	for _, c := range base {
		if !c.Timestamp.Equal(ev.TriggerTimestamp) {
			continue
		}
		if ev.Pattern.Direction == models.Downtrend {
			return level - c.Low
		}
		return c.High - level
	}
	return math.Abs(ev.TriggerPrice - level)
}
