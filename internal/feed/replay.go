package feed

import (
	"context"
	"sync"
	"time"

	"breakout-scanner/internal/models"
)

// ReplaySource replays one recorded session from another source. The whole
// session is pulled once on first use; later pulls are served from memory and
// never reveal candles that start at or after the replay clock.
type ReplaySource struct {
	inner Source
	open  time.Time
	close time.Time
	clock func() time.Time

	mu      sync.Mutex
	loaded  bool
	candles []models.Candle
}

// NewReplaySource wraps inner for the session [open, close). clock returns the
// virtual time of the replay.
func NewReplaySource(inner Source, open, close time.Time, clock func() time.Time) *ReplaySource {
	return &ReplaySource{inner: inner, open: open, close: close, clock: clock}
}

func (r *ReplaySource) Name() string {
	return "replay:" + r.inner.Name()
}

func (r *ReplaySource) Lookup(ctx context.Context, symbol string) error {
	return r.inner.Lookup(ctx, symbol)
}

// Pull serves req from the cached session. A failed load is returned to the
// caller and retried on the next pull.
func (r *ReplaySource) Pull(ctx context.Context, req Request) ([]models.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		full := req
		full.From, full.To = r.open, r.close
		candles, err := r.inner.Pull(ctx, full)
		if err != nil {
			return nil, err
		}
		r.candles = candles
		r.loaded = true
	}

	to := req.To
	if now := r.clock(); now.Before(to) {
		to = now
	}
	return within(r.candles, req.From, to), nil
}

// OnPush is a no-op; replays have no live stream.
func (r *ReplaySource) OnPush(handler func(models.Tick)) {}

func (r *ReplaySource) Subscribe(ctx context.Context, symbols []string) error {
	return nil
}

// Close releases the cached session. The inner source stays open.
func (r *ReplaySource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles = nil
	r.loaded = false
	return nil
}

var _ Source = (*ReplaySource)(nil)
