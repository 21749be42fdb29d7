package patterns

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"breakout-scanner/internal/aggregator"
	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
)

// claimSet is a minimal Claimer keyed without trigger position.
type claimSet map[models.BreakoutKey]bool

func (s claimSet) Claim(k models.ProcessingKey) bool {
	key := models.BreakoutKey{Direction: k.Direction, Timeframe: k.Timeframe, Level: k.Level}
	if s[key] {
		return false
	}
	s[key] = true
	return true
}

func uptrendPattern(level float64) *models.Pattern {
	return &models.Pattern{
		Direction:     models.Uptrend,
		Timeframe:     5,
		PointA:        models.PricePoint{Price: 100, Timestamp: blockStart, Index: 1},
		PointB:        models.PricePoint{Price: level, Timestamp: blockStart.Add(10 * time.Minute), Index: 3},
		BreakoutLevel: level,
		StopLoss:      98,
	}
}

func firstFour() []models.Candle {
	return []models.Candle{
		bar(1, 100, 104, 99, 103),
		bar(2, 103, 108, 102, 107),
		bar(3, 107, 110, 104, 105),
		bar(4, 105, 107, 98, 100),
	}
}

func TestClassifyNoBreakout(t *testing.T) {
	p := uptrendPattern(150)
	candles := append(firstFour(),
		bar(5, 100, 120, 99, 118),
		bar(6, 118, 149, 110, 140),
	)
	block := aggregator.Block{Timeframe: 5, Candles: candles}

	out, err := NewClassifier(claimSet{}).Classify(p, block, false)
	if err != nil {
		t.Fatal(err)
	}
	if !out.NoTrade || out.Event != nil {
		t.Errorf("expected no trade, got %+v", out)
	}
}

func TestClassifyFifthCandle(t *testing.T) {
	p := uptrendPattern(110)
	block := aggregator.Block{Timeframe: 5, Candles: append(firstFour(), bar(5, 108, 112, 106, 111))}

	out, err := NewClassifier(claimSet{}).Classify(p, block, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Event == nil || out.Event.Position != models.TriggerFifth {
		t.Fatalf("expected 5th candle trigger, got %+v", out)
	}
	if out.Event.TriggerPrice != 110 || out.Event.Pattern.StopLoss != 98 {
		t.Errorf("trigger price/stop = %.2f/%.2f", out.Event.TriggerPrice, out.Event.Pattern.StopLoss)
	}
}

func TestClassifySixthCandleRederivesStop(t *testing.T) {
	p := uptrendPattern(110)
	block := aggregator.Block{Timeframe: 5, Candles: append(firstFour(),
		bar(5, 100, 109, 97, 108),
		bar(6, 111, 113, 108, 112), // gaps above the level
	)}

	out, err := NewClassifier(claimSet{}).Classify(p, block, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Event == nil || out.Event.Position != models.TriggerSixth {
		t.Fatalf("expected 6th candle trigger, got %+v", out)
	}
	if out.Event.Pattern.StopLoss != 97 {
		t.Errorf("stop = %.2f, want candle 5 low 97", out.Event.Pattern.StopLoss)
	}
	if out.Event.TriggerPrice != 111 {
		t.Errorf("gap entry = %.2f, want open 111", out.Event.TriggerPrice)
	}
	if p.StopLoss != 98 {
		t.Error("source pattern modified")
	}
}

func TestClassifyPendingWhileForming(t *testing.T) {
	p := uptrendPattern(110)
	c := NewClassifier(claimSet{})

	// Only four candles so far.
	out, err := c.Classify(p, aggregator.Block{Timeframe: 5, Candles: firstFour()}, false)
	if err != nil || out.Resolved() {
		t.Fatalf("expected pending, got %+v, %v", out, err)
	}

	// Candle 5 forming below the level.
	block := aggregator.Block{Timeframe: 5, Candles: append(firstFour(), bar(5, 105, 109, 104, 108)), Incomplete: true}
	out, err = c.Classify(p, block, false)
	if err != nil || out.Resolved() {
		t.Fatalf("expected pending while candle 5 forms, got %+v, %v", out, err)
	}

	// The forming candle breaches: final.
	block.Candles[4].High = 111
	out, err = c.Classify(p, block, false)
	if err != nil || out.Event == nil {
		t.Fatalf("expected breakout on forming candle, got %+v, %v", out, err)
	}
}

func TestClassifyDuplicateIsRejected(t *testing.T) {
	p := uptrendPattern(110)
	block := aggregator.Block{Timeframe: 5, Candles: append(firstFour(), bar(5, 108, 112, 106, 111))}
	c := NewClassifier(claimSet{})

	if _, err := c.Classify(p, block, false); err != nil {
		t.Fatal(err)
	}
	out, err := c.Classify(p, block, false)
	if !errors.Is(err, apperrors.ErrDuplicateProcessing) {
		t.Errorf("expected ErrDuplicateProcessing, got %v", err)
	}
	if out.Event != nil {
		t.Error("duplicate scan must not emit an event")
	}
}

func TestClassifySessionCloseFallback(t *testing.T) {
	candles := []models.Candle{
		bar(1, 100, 104, 99, 103),
		bar(2, 103, 106, 102, 105),
		bar(3, 105, 107, 103, 106),
		bar(4, 106, 115, 105, 114),
	}
	set, err := NewExtractor().Extract(candles, 80)
	if err != nil {
		t.Fatal(err)
	}
	up := set.Uptrend
	if up.PointB.Index != 4 {
		t.Fatalf("expected Point B on candle 4, got %d", up.PointB.Index)
	}

	block := aggregator.Block{Timeframe: 80, Candles: candles}
	c := NewClassifier(claimSet{})

	out, err := c.Classify(up, block, false)
	if err != nil || out.Resolved() {
		t.Fatalf("fallback must wait for session close, got %+v, %v", out, err)
	}

	out, err = c.Classify(up, block, true)
	if err != nil {
		t.Fatal(err)
	}
	if out.Event == nil || out.Event.Position != models.TriggerSessionClose {
		t.Fatalf("expected session-close trigger, got %+v", out)
	}
	if out.Event.Level != 107 {
		t.Errorf("fallback level = %.2f, want candle 1-3 high 107", out.Event.Level)
	}
}

func TestClassifySessionCloseWithoutBreachIsNoTrade(t *testing.T) {
	p := uptrendPattern(110)
	block := aggregator.Block{Timeframe: 80, Candles: firstFour()}
	out, err := NewClassifier(claimSet{}).Classify(p, block, true)
	if err != nil {
		t.Fatal(err)
	}
	if !out.NoTrade {
		t.Errorf("expected no trade, got %+v", out)
	}
}

func TestRefine(t *testing.T) {
	p := uptrendPattern(110)
	block := aggregator.Block{Timeframe: 5, Candles: append(firstFour(), bar(5, 108, 112, 106, 111))}
	out, _ := NewClassifier(nil).Classify(p, block, false)
	ev := out.Event

	start := block.Candles[4].Timestamp
	base := []models.Candle{
		{Timestamp: start, Open: 108, High: 109, Low: 106, Close: 109},
		{Timestamp: start.Add(time.Minute), Open: 109, High: 109.5, Low: 108, Close: 109},
		{Timestamp: start.Add(2 * time.Minute), Open: 109, High: 112, Low: 109, Close: 111},
	}
	Refine(ev, base, 5*time.Minute)

	if !ev.Refined || !ev.TriggerTimestamp.Equal(start.Add(2*time.Minute)) {
		t.Errorf("refined trigger = %v (refined=%v)", ev.TriggerTimestamp, ev.Refined)
	}
	if ev.Position != models.TriggerFifth || ev.TriggerPrice != 110 {
		t.Errorf("refinement changed decision: %+v", ev)
	}
}

func TestResolveDualTrigger(t *testing.T) {
	up := &models.BreakoutEvent{Pattern: uptrendPattern(110), Level: 110, TriggerTimestamp: blockStart.Add(21 * time.Minute)}
	down := &models.BreakoutEvent{
		Pattern:          &models.Pattern{Direction: models.Downtrend, BreakoutLevel: 95},
		Level:            95,
		TriggerTimestamp: blockStart.Add(22 * time.Minute),
	}

	if got := ResolveDualTrigger(up, down, nil); got != up {
		t.Error("earlier breach should win")
	}

	down.TriggerTimestamp = up.TriggerTimestamp
	base := []models.Candle{{Timestamp: up.TriggerTimestamp, Open: 100, High: 111, Low: 90, Close: 100}}
	if got := ResolveDualTrigger(up, down, base); got != down {
		t.Error("larger breach should win on the same base candle")
	}

	base[0].Low = 94
	base[0].High = 111
	if got := ResolveDualTrigger(up, down, base); got != up {
		t.Error("uptrend should win a full tie")
	}

	if ResolveDualTrigger(nil, down, nil) != down || ResolveDualTrigger(up, nil, nil) != up {
		t.Error("single trigger should pass through")
	}
}

// Property: repeated scans never emit a second event for the same key.
func TestProperty_SingleBreakoutPerKey(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("at most one event per pattern key", prop.ForAll(
		func(highs []float64, scans int) bool {
			p := uptrendPattern(110)
			candles := firstFour()
			for i, h := range highs {
				candles = append(candles, bar(5+i, 100, h, 95, 100))
			}
			block := aggregator.Block{Timeframe: 5, Candles: candles}
			c := NewClassifier(claimSet{})

			events := 0
			for i := 0; i < scans; i++ {
				out, err := c.Classify(p, block, true)
				if err != nil && !errors.Is(err, apperrors.ErrDuplicateProcessing) {
					return false
				}
				if out.Event != nil {
					events++
				}
			}
			return events <= 1
		},
		gen.SliceOfN(2, gen.Float64Range(100, 120)),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
