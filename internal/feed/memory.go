package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
)

// MemorySource serves candles held in memory. With a clock set, only candles
// that started before the clock's time are visible, which lets a recorded
// session be replayed as if it were live.
type MemorySource struct {
	mu         sync.Mutex
	candles    map[string][]models.Candle
	handler    func(models.Tick)
	subscribed map[string]bool
	clock      func() time.Time
	failNext   int
	pulls      int
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		candles:    make(map[string][]models.Candle),
		subscribed: make(map[string]bool),
	}
}

func (m *MemorySource) Name() string {
	return "memory"
}

// Add stores candles for a symbol, replacing any with the same timestamp.
func (m *MemorySource) Add(symbol string, candles ...models.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byTime := make(map[int64]models.Candle, len(m.candles[symbol])+len(candles))
	for _, c := range m.candles[symbol] {
		byTime[c.Timestamp.UnixNano()] = c
	}
	for _, c := range candles {
		byTime[c.Timestamp.UnixNano()] = c
	}

	merged := make([]models.Candle, 0, len(byTime))
	for _, c := range byTime {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	m.candles[symbol] = merged
}

// SetClock limits visibility to candles that started before clock().
func (m *MemorySource) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// FailNext makes the next n pulls fail with a transient error.
func (m *MemorySource) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// Pulls returns the number of Pull calls served or failed.
func (m *MemorySource) Pulls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulls
}

func (m *MemorySource) Lookup(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.candles[symbol]; !ok {
		return apperrors.NewValidationError("symbol", symbol, "no candles recorded", apperrors.ErrInvalidSymbol)
	}
	return nil
}

func (m *MemorySource) Pull(ctx context.Context, req Request) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pulls++
	if m.failNext > 0 {
		m.failNext--
		return nil, apperrors.NewFeedError(m.Name(), "pull "+req.String(), true, apperrors.ErrDataUnavailable)
	}

	to := req.To
	if m.clock != nil {
		if now := m.clock(); now.Before(to) {
			to = now
		}
	}
	return within(m.candles[req.Symbol], req.From, to), nil
}

func (m *MemorySource) OnPush(handler func(models.Tick)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *MemorySource) Subscribe(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		m.subscribed[s] = true
	}
	return nil
}

// Push delivers a tick to the handler when its symbol is subscribed.
func (m *MemorySource) Push(t models.Tick) {
	m.mu.Lock()
	handler := m.handler
	ok := m.subscribed[t.Symbol]
	m.mu.Unlock()

	if ok && handler != nil {
		handler(t)
	}
}

func (m *MemorySource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = make(map[string]bool)
	return nil
}

var _ Source = (*MemorySource)(nil)
