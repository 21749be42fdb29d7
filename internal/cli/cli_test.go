package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"breakout-scanner/internal/config"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/store"
	"breakout-scanner/pkg/utils"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Market.Timezone = "UTC"
	cfg.Store.Enabled = true
	cfg.Store.Path = filepath.Join(t.TempDir(), "scanner.db")
	return cfg
}

func mustCalendar(t *testing.T, cfg *config.Config) *utils.Calendar {
	t.Helper()
	cal, err := utils.NewCalendar(cfg.Market)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return cal
}

func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCmd(cfg, zerolog.Nop())
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func minute(open time.Time, n int, o, h, l, c float64) models.Candle {
	return models.Candle{
		Timestamp: open.Add(time.Duration(n) * time.Minute),
		Open:      o, High: h, Low: l, Close: c,
		Volume: 100,
	}
}

// seedFastExit stores a day whose 5m uptrend breaks out at minute 20 and runs
// far enough on minute 21 to trigger the fast-move exit.
func seedFastExit(t *testing.T, path string, open time.Time) {
	t.Helper()
	ds, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer ds.Close()

	var candles []models.Candle
	for m := 0; m < 20; m++ {
		w := float64(m / 5)
		lo, hi := 60+10*w, 60+10*(w+1)
		candles = append(candles, minute(open, m, lo, hi, lo, hi))
	}
	candles = append(candles,
		minute(open, 20, 99, 101, 99, 100.5),
		minute(open, 21, 100.5, 126, 100.5, 125),
	)
	for m := 22; m < 375; m++ {
		candles = append(candles, minute(open, m, 125, 125, 125, 125))
	}
	if err := ds.SaveCandles(context.Background(), "TEST", "minute", candles); err != nil {
		t.Fatalf("SaveCandles: %v", err)
	}
}

func TestScanReplayFromStore(t *testing.T) {
	cfg := testConfig(t)
	open := time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	seedFastExit(t, cfg.Store.Path, open)

	out, err := execute(t, cfg, "scan", "test", "--date", "2024-03-04", "--source", "store", "--json")
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}

	var sessions []models.ScannerSession
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.ID != "TEST-20240304" || s.Status != models.SessionCompleted {
		t.Errorf("session = %s %s", s.ID, s.Status)
	}
	if len(s.Trades) != 1 || s.Trades[0].ExitReason != models.ExitFastMove {
		t.Fatalf("trades = %+v, want one fast-move exit", s.Trades)
	}

	ds, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer ds.Close()
	journaled, err := ds.GetTrades(context.Background(), store.TradeFilter{Symbol: "TEST"})
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(journaled) != 1 || journaled[0].ProfitLoss != s.Trades[0].ProfitLoss {
		t.Errorf("journaled trades = %+v", journaled)
	}
}

func TestScanSummaryTable(t *testing.T) {
	cfg := testConfig(t)
	open := time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	seedFastExit(t, cfg.Store.Path, open)

	out, err := execute(t, cfg, "scan", "TEST", "--date", "2024-03-04", "--source", "store", "--quiet")
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	for _, want := range []string{"TEST 2024-03-04  COMPLETED", "A fast-move", "Trades: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestScanUnknownSymbolInStore(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, cfg, "scan", "NOPE", "--date", "2024-03-04", "--source", "store")
	if err == nil {
		t.Fatal("scan of an unsynced symbol succeeded")
	}
}

func TestKiteSourceNeedsCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials = config.Credentials{}
	_, err := execute(t, cfg, "sync", "TEST")
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Errorf("sync without credentials: err = %v", err)
	}
}

func TestTradesAndSessionsEmpty(t *testing.T) {
	cfg := testConfig(t)
	for _, cmd := range []string{"trades", "sessions"} {
		out, err := execute(t, cfg, cmd)
		if err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
		if !strings.Contains(out, "No ") {
			t.Errorf("%s output = %q", cmd, out)
		}
	}
}

func TestScheduleRejectsBadCron(t *testing.T) {
	app := &App{Config: testConfig(t), Logger: zerolog.Nop()}
	app.Calendar = mustCalendar(t, app.Config)
	sched := NewScheduler(context.Background(), app, nil, nil, []string{"TEST"})
	if err := sched.Register("0 10 9 * *"); err == nil {
		t.Error("five-field spec accepted; schedule expects seconds")
	}
	if err := sched.Register("0 10 9 * * 1-5"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sched.Start()
	defer sched.Stop()
	next := sched.Next()
	if next.IsZero() || next.Hour() != 9 || next.Minute() != 10 {
		t.Errorf("Next() = %v", next)
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, testConfig(t), "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil || v["version"] != Version {
		t.Errorf("version output = %q (%v)", out, err)
	}
}

func TestScanNotifiesWebhook(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Kind string `json:"kind"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		kinds = append(kinds, payload.Kind)
		mu.Unlock()
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Notify = config.NotifyConfig{
		Enabled: true,
		Level:   "trades_only",
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL},
	}
	open := time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	seedFastExit(t, cfg.Store.Path, open)

	if out, err := execute(t, cfg, "scan", "TEST", "--date", "2024-03-04", "--source", "store", "--json"); err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 1 || kinds[0] != "trade" {
		t.Errorf("webhook kinds = %v, want one trade", kinds)
	}
}

func TestCommandsListsScan(t *testing.T) {
	out, err := execute(t, testConfig(t), "commands")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Scanning", "scan <symbol>", "sync <symbols...>", "trades"} {
		if !strings.Contains(out, want) {
			t.Errorf("commands output missing %q", want)
		}
	}
}
