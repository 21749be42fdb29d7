package trading

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"breakout-scanner/internal/config"
	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
)

var windowStart = time.Date(2024, 3, 4, 9, 40, 0, 0, time.UTC)

// breakout builds an event entering at entry with the given stop and leg size.
func breakout(dir models.Direction, entry, stop, leg float64) *models.BreakoutEvent {
	a := entry - leg
	if dir == models.Downtrend {
		a = entry + leg
	}
	p := &models.Pattern{
		Direction:     dir,
		Timeframe:     5,
		PointA:        models.PricePoint{Price: a},
		PointB:        models.PricePoint{Price: entry},
		BreakoutLevel: entry,
		StopLoss:      stop,
	}
	return &models.BreakoutEvent{
		Pattern:          p,
		Timeframe:        5,
		Position:         models.TriggerFifth,
		Level:            entry,
		CandleStart:      windowStart,
		TriggerTimestamp: windowStart,
		TriggerPrice:     entry,
	}
}

func window5m() Window {
	return Window{Start: windowStart, End: windowStart.Add(5 * time.Minute)}
}

func minute(n int, open, high, low, close float64) models.Candle {
	return models.Candle{
		Timestamp: windowStart.Add(time.Duration(n) * time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
	}
}

func TestFastMoveExit(t *testing.T) {
	sim := Open(breakout(models.Uptrend, 100, 95, 50), "INFY", 100, DefaultRules(), window5m())

	sig, err := sim.OnCandle(minute(0, 100, 126, 100, 125), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Reason != models.ExitFastMove {
		t.Fatalf("expected fast move, got %+v", sig)
	}

	trade := sim.Trade()
	if trade.ExitPrice != 125 || trade.ProfitLoss != 2500 {
		t.Errorf("exit/pnl = %.2f/%.2f, want 125/2500", trade.ExitPrice, trade.ProfitLoss)
	}
	if trade.Side != models.SideBuy || trade.TargetPrice != 150 {
		t.Errorf("side/target = %s/%.2f", trade.Side, trade.TargetPrice)
	}
}

func TestStopLossExit(t *testing.T) {
	sim := Open(breakout(models.Downtrend, 100, 110, 30), "INFY", 100, DefaultRules(), window5m())

	sig, err := sim.OnCandle(minute(0, 100, 115, 99, 105), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Reason != models.ExitStopLoss {
		t.Fatalf("expected stop loss, got %+v", sig)
	}
	trade := sim.Trade()
	if trade.ExitPrice != 110 || trade.ProfitLoss != -1000 {
		t.Errorf("exit/pnl = %.2f/%.2f, want 110/-1000", trade.ExitPrice, trade.ProfitLoss)
	}
}

func TestEarlyTargetExit(t *testing.T) {
	// Leg 10, 80% = 8 points; fast move needs 20.
	sim := Open(breakout(models.Uptrend, 100, 90, 10), "INFY", 10, DefaultRules(), window5m())

	sig, _ := sim.OnCandle(minute(0, 100, 105, 99, 104), time.Minute)
	if sig != nil {
		t.Fatalf("unexpected exit %+v", sig)
	}
	sig, _ = sim.OnCandle(minute(1, 104, 109, 103, 108.5), time.Minute)
	if sig == nil || sig.Reason != models.ExitEarlyTarget || sig.Price != 108.5 {
		t.Fatalf("expected early target at 108.5, got %+v", sig)
	}
}

func TestTimeDecayExit(t *testing.T) {
	sim := Open(breakout(models.Uptrend, 100, 90, 10), "INFY", 10, DefaultRules(), window5m())

	for i := 0; i < 4; i++ {
		if sig, _ := sim.OnCandle(minute(i, 100, 101, 99.5, 100.5), time.Minute); sig != nil {
			t.Fatalf("unexpected exit at minute %d: %+v", i, sig)
		}
	}
	// Observation at 5:00 of the 5-minute window: 100% >= 95%.
	sig, _ := sim.OnCandle(minute(4, 100.5, 101, 99.5, 100.2), time.Minute)
	if sig == nil || sig.Reason != models.ExitTimeDecay || sig.Price != 100.2 {
		t.Fatalf("expected time decay at 100.2, got %+v", sig)
	}
}

func TestTrailingStopExit(t *testing.T) {
	rules := DefaultRules()
	rules.TrailingDistance = 2
	sim := Open(breakout(models.Uptrend, 100, 90, 10), "INFY", 10, rules, Window{Start: windowStart, End: windowStart.Add(20 * time.Minute)})

	// Before activation (50% of 20 minutes) a retrace is ignored.
	feed := []models.Candle{
		minute(0, 100, 104, 100, 103),
		minute(1, 103, 103, 101, 101.5),
	}
	for _, c := range feed {
		if sig, _ := sim.OnCandle(c, time.Minute); sig != nil {
			t.Fatalf("unexpected exit %+v", sig)
		}
	}
	for i := 2; i < 9; i++ {
		if sig, _ := sim.OnCandle(minute(i, 105, 105.5, 104.5, 105), time.Minute); sig != nil {
			t.Fatalf("unexpected exit at minute %d: %+v", i, sig)
		}
	}
	// Elapsed 10m: trail at 105.5-2 = 103.5; low 103.4 retraces through it.
	sig, _ := sim.OnCandle(minute(9, 105, 105.2, 103.4, 104), time.Minute)
	if sig == nil || sig.Reason != models.ExitTrailingStop || sig.Price != 103.5 {
		t.Fatalf("expected trailing stop at 103.5, got %+v", sig)
	}
	if !sim.Trade().RiskFree {
		t.Error("risk-free marker should have been set at +5")
	}
}

func TestRiskFreeMovesStop(t *testing.T) {
	rules := DefaultRules()
	rules.RiskFreeMovesStop = true
	sim := Open(breakout(models.Uptrend, 100, 90, 10), "INFY", 10, rules, Window{Start: windowStart, End: windowStart.Add(20 * time.Minute)})

	if sig, _ := sim.OnCandle(minute(0, 100, 106, 100, 106), time.Minute); sig != nil {
		t.Fatalf("unexpected exit %+v", sig)
	}
	if tr := sim.Trade(); !tr.RiskFree || tr.StopLoss != 100 {
		t.Fatalf("stop not moved to entry: %+v", tr)
	}
	sig, _ := sim.OnCandle(minute(1, 106, 106, 99.5, 101), time.Minute)
	if sig == nil || sig.Reason != models.ExitStopLoss || sig.Price != 100 || sim.Trade().ProfitLoss != 0 {
		t.Fatalf("expected stop at entry, got %+v", sig)
	}
}

func TestPeriodCloseProtection(t *testing.T) {
	sim := Open(breakout(models.Uptrend, 100, 90, 10), "INFY", 10, DefaultRules(), window5m())

	sig, err := sim.CloseAt(101.5, windowStart.Add(5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if sig.Reason != models.ExitPeriodClose || sim.Trade().ProfitLoss != 15 {
		t.Errorf("fallback = %+v pnl %.2f", sig, sim.Trade().ProfitLoss)
	}
	if _, err := sim.CloseAt(101, windowStart.Add(6*time.Minute)); !errors.Is(err, apperrors.ErrTradeClosed) {
		t.Errorf("second close: %v", err)
	}
	if _, err := sim.OnCandle(minute(5, 1, 1, 1, 1), time.Minute); !errors.Is(err, apperrors.ErrTradeClosed) {
		t.Errorf("observe after close: %v", err)
	}
}

func TestRulesFromConfig(t *testing.T) {
	rules := RulesFromConfig(config.Default().Exits)
	if rules != DefaultRules() {
		t.Errorf("config defaults %+v differ from DefaultRules %+v", rules, DefaultRules())
	}
}

// Property: a trade resolves exactly once and its P&L follows the side formula.
func TestProperty_SingleExitAndPnLFormula(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("one exit, pnl = side formula", prop.ForAll(
		func(sell bool, qty int, moves []float64) bool {
			dir := models.Uptrend
			stop := 95.0
			if sell {
				dir = models.Downtrend
				stop = 105.0
			}
			sim := Open(breakout(dir, 100, stop, 10), "INFY", qty, DefaultRules(), window5m())

			price := 100.0
			exits := 0
			for i, m := range moves {
				open := price
				price = math.Max(1, price+m)
				c := minute(i, open, math.Max(open, price)+0.5, math.Min(open, price)-0.5, price)
				sig, err := sim.OnCandle(c, time.Minute)
				if err != nil {
					if !errors.Is(err, apperrors.ErrTradeClosed) || exits != 1 {
						return false
					}
					continue
				}
				if sig != nil {
					exits++
				}
			}
			if !sim.Closed() {
				if _, err := sim.CloseAt(price, windowStart.Add(5*time.Minute)); err != nil {
					return false
				}
				exits++
			}

			trade := sim.Trade()
			want := (trade.ExitPrice - trade.EntryPrice) * float64(qty)
			if trade.Side == models.SideSell {
				want = (trade.EntryPrice - trade.ExitPrice) * float64(qty)
			}
			return exits == 1 && trade.ExitReason != models.ExitNone && math.Abs(trade.ProfitLoss-want) < 1e-9
		},
		gen.Bool(),
		gen.IntRange(1, 500),
		gen.SliceOfN(8, gen.Float64Range(-6, 6)),
	))

	properties.TestingRun(t)
}
