package reconciler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"breakout-scanner/internal/feed"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/resilience"
	"breakout-scanner/pkg/utils"
)

var (
	open         = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	sessionClose = open.Add(6*time.Hour + 15*time.Minute)
)

func bars(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = models.Candle{
			Timestamp: open.Add(time.Duration(i) * time.Minute),
			Open:      p,
			High:      p + 2,
			Low:       p - 2,
			Close:     p + 1,
			Volume:    10,
		}
	}
	return out
}

func newReconciler(src feed.Source, breaker *resilience.CircuitBreaker) *Reconciler {
	return New(src, Config{
		Symbol:         "INFY",
		Exchange:       models.NSE,
		BaseResolution: time.Minute,
		SessionOpen:    open,
		SessionClose:   sessionClose,
		Retry:          utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond},
		Breaker:        breaker,
		Logger:         zerolog.Nop(),
	})
}

func TestLoadHistoryAndPollUntilRequired(t *testing.T) {
	src := feed.NewMemorySource()
	src.Add("INFY", bars(60)...)
	r := newReconciler(src, nil)
	ctx := context.Background()

	now := open.Add(20 * time.Minute)
	if err := r.LoadHistory(ctx, now); err != nil {
		t.Fatal(err)
	}
	if got := len(r.History()); got != 20 {
		t.Fatalf("history = %d, want 20", got)
	}

	// 5-minute timeframe needs 30 base candles.
	now = open.Add(30 * time.Minute)
	if polled, err := r.Poll(ctx, now, 5); !polled || err != nil {
		t.Fatalf("poll = %v, %v", polled, err)
	}
	if got := len(r.History()); got != 30 {
		t.Fatalf("history = %d, want 30", got)
	}
	if r.NeedsPoll(5) {
		t.Error("should stop polling once 30 candles are present")
	}
	if polled, _ := r.Poll(ctx, open.Add(40*time.Minute), 5); polled {
		t.Error("polled although history was sufficient")
	}
	if !r.NeedsPoll(10) {
		t.Error("10-minute timeframe needs 60 candles")
	}

	h := r.History()
	for i, c := range h {
		if c.Index != i+1 {
			t.Fatalf("candle %d has index %d", i, c.Index)
		}
	}
}

func TestFetchFailureKeepsSeries(t *testing.T) {
	src := feed.NewMemorySource()
	src.Add("INFY", bars(30)...)
	r := newReconciler(src, nil)
	ctx := context.Background()

	if err := r.LoadHistory(ctx, open.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	src.FailNext(1)
	if _, err := r.Poll(ctx, open.Add(15*time.Minute), 5); err == nil {
		t.Fatal("expected poll failure")
	}
	a := r.Availability(5, open.Add(15*time.Minute))
	if a.Available != 10 || a.ConsecutiveFailures != 1 || a.LastError == "" {
		t.Fatalf("availability after failure = %+v", a)
	}

	if _, err := r.Poll(ctx, open.Add(16*time.Minute), 5); err != nil {
		t.Fatal(err)
	}
	a = r.Availability(5, open.Add(16*time.Minute))
	if a.Available != 16 || a.ConsecutiveFailures != 0 || a.LastError != "" {
		t.Fatalf("availability after recovery = %+v", a)
	}
	if a.Required != 30 || a.RemainingUntilClose != 375-16 {
		t.Errorf("required/remaining = %d/%d", a.Required, a.RemainingUntilClose)
	}
}

func TestLoadHistoryRetriesTransientErrors(t *testing.T) {
	src := feed.NewMemorySource()
	src.Add("INFY", bars(10)...)
	src.FailNext(1)
	r := newReconciler(src, nil)

	if err := r.LoadHistory(context.Background(), open.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if src.Pulls() != 2 || len(r.History()) != 10 {
		t.Errorf("pulls = %d, history = %d", src.Pulls(), len(r.History()))
	}
}

func TestTicksWidenFormingAndFreeze(t *testing.T) {
	r := newReconciler(feed.NewMemorySource(), nil)
	at := open.Add(2 * time.Minute)

	r.OnTick(models.Tick{Symbol: "INFY", Price: 100, Timestamp: at.Add(5 * time.Second)})
	r.OnTick(models.Tick{Symbol: "INFY", Price: 103, Timestamp: at.Add(20 * time.Second)})
	r.OnTick(models.Tick{Symbol: "INFY", Price: 99, Timestamp: at.Add(40 * time.Second)})

	f, ok := r.Forming()
	if !ok || f.Open != 100 || f.High != 103 || f.Low != 99 || f.Close != 99 || !f.Timestamp.Equal(at) {
		t.Fatalf("forming = %+v", f)
	}
	if r.Freeze(at.Add(59 * time.Second)) {
		t.Fatal("froze before window elapsed")
	}
	if !r.Freeze(at.Add(time.Minute)) {
		t.Fatal("did not freeze elapsed candle")
	}
	if _, ok := r.Forming(); ok || len(r.History()) != 1 {
		t.Fatal("candle not moved to history")
	}

	// A tick for the frozen window is ignored.
	r.OnTick(models.Tick{Symbol: "INFY", Price: 150, Timestamp: at.Add(50 * time.Second)})
	if h := r.History(); h[0].High != 103 {
		t.Errorf("frozen candle changed: %+v", h[0])
	}
}

func TestPulledBarsTakePrecedence(t *testing.T) {
	src := feed.NewMemorySource()
	r := newReconciler(src, nil)
	at := open

	r.OnTick(models.Tick{Symbol: "INFY", Price: 100, Timestamp: at.Add(10 * time.Second)})
	r.Freeze(at.Add(time.Minute))
	rev := r.Revision()

	pulled := models.Candle{Timestamp: at, Open: 100, High: 104, Low: 98, Close: 101, Volume: 50}
	r.Apply([]models.Candle{pulled}, nil, at.Add(2*time.Minute))

	h := r.History()
	if len(h) != 1 || h[0].High != 104 || h[0].Volume != 50 {
		t.Fatalf("pulled bar did not replace tick-built candle: %+v", h)
	}
	if r.Revision() == rev {
		t.Error("revision should change when a frozen candle is replaced")
	}

	// A final bar is immutable.
	r.Apply([]models.Candle{{Timestamp: at, Open: 1, High: 1, Low: 1, Close: 1}}, nil, at.Add(3*time.Minute))
	if h := r.History(); h[0].High != 104 {
		t.Errorf("final candle replaced: %+v", h[0])
	}
}

func TestMalformedBarsBecomeWarnings(t *testing.T) {
	src := feed.NewMemorySource()
	good := bars(3)
	bad := good[1]
	bad.High, bad.Low = 90, 110
	r := newReconciler(src, nil)

	r.Apply([]models.Candle{good[0], bad, good[2]}, nil, open.Add(5*time.Minute))
	if got := len(r.History()); got != 2 {
		t.Fatalf("history = %d, want malformed bar dropped", got)
	}
	w := r.DrainWarnings()
	if len(w) != 1 || !strings.Contains(w[0], "malformed") {
		t.Errorf("warnings = %v", w)
	}
	if len(r.DrainWarnings()) != 0 {
		t.Error("warnings not drained")
	}
}

func TestInFlightGuard(t *testing.T) {
	src := feed.NewMemorySource()
	src.Add("INFY", bars(10)...)
	r := newReconciler(src, nil)
	now := open.Add(10 * time.Minute)

	req, ok := r.BeginPoll(now, 5)
	if !ok {
		t.Fatal("expected poll")
	}
	if _, again := r.BeginPoll(now, 5); again {
		t.Fatal("second poll started while first in flight")
	}
	candles, err := r.Fetch(context.Background(), req)
	r.Apply(candles, err, now)
	if _, ok := r.BeginPoll(now.Add(time.Minute), 5); !ok {
		t.Error("slot not released after Apply")
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	src := feed.NewMemorySource()
	src.Add("INFY", bars(10)...)
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Hour
	r := newReconciler(src, resilience.NewCircuitBreaker("feed", cfg))
	ctx := context.Background()

	src.FailNext(1)
	_, _ = r.Poll(ctx, open.Add(5*time.Minute), 5)
	_, err := r.Poll(ctx, open.Add(6*time.Minute), 5)
	if err == nil || src.Pulls() != 1 {
		t.Fatalf("breaker let pull through: err=%v pulls=%d", err, src.Pulls())
	}
}
