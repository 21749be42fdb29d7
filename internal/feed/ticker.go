package feed

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"breakout-scanner/internal/models"
)

// Ticker streams last-traded prices over the Kite websocket.
type Ticker struct {
	ticker      *kiteticker.Ticker
	apiKey      string
	accessToken string

	onTick func(models.Tick)

	connected    bool
	reconnecting bool
	closed       bool
	subscribed   map[uint32]bool
	symbolTokens map[string]uint32
	tokenSymbols map[uint32]string

	maxRetries int
	baseDelay  time.Duration
	log        zerolog.Logger

	mu      sync.RWMutex
	writeMu sync.Mutex // Protects websocket writes (Subscribe, SetMode)
}

// TickerConfig holds configuration for the ticker.
type TickerConfig struct {
	APIKey      string
	AccessToken string
	MaxRetries  int
	BaseDelay   time.Duration
	Logger      zerolog.Logger
}

// NewTicker creates a new ticker instance.
func NewTicker(cfg TickerConfig) *Ticker {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = time.Second
	}

	return &Ticker{
		apiKey:       cfg.APIKey,
		accessToken:  cfg.AccessToken,
		subscribed:   make(map[uint32]bool),
		symbolTokens: make(map[string]uint32),
		tokenSymbols: make(map[uint32]string),
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		log:          cfg.Logger,
	}
}

// Connect establishes the websocket connection.
func (t *Ticker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.closed = false

	t.ticker = kiteticker.New(t.apiKey, t.accessToken)
	// Retries go through reconnect, which resubscribes.
	t.ticker.SetAutoReconnect(false)
	connectedCh := make(chan struct{}, 1)
	firstConnect := true

	t.ticker.OnConnect(func() {
		t.mu.Lock()
		t.connected = true
		t.reconnecting = false
		isFirst := firstConnect
		firstConnect = false
		t.mu.Unlock()

		select {
		case connectedCh <- struct{}{}:
		default:
		}

		// On first connection the caller subscribes
		if !isFirst {
			t.resubscribe()
		}
	})

	t.ticker.OnClose(func(code int, reason string) {
		t.mu.Lock()
		t.connected = false
		closed := t.closed
		t.mu.Unlock()

		if closed {
			return
		}
		t.log.Warn().Int("code", code).Str("reason", reason).Msg("ticker closed")
		go t.reconnect(ctx)
	})

	t.ticker.OnError(func(err error) {
		t.log.Warn().Err(err).Msg("ticker error")
	})

	t.ticker.OnTick(func(tick kitemodels.Tick) {
		t.mu.RLock()
		handler := t.onTick
		t.mu.RUnlock()
		if handler != nil {
			handler(t.convertTick(tick))
		}
	})

	ticker := t.ticker
	t.mu.Unlock()

	go ticker.Serve()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-connectedCh:
		return nil
	case <-time.After(30 * time.Second):
		if !t.IsConnected() {
			return fmt.Errorf("connection timeout")
		}
		return nil
	}
}

// Disconnect closes the websocket connection.
func (t *Ticker) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.ticker != nil {
		t.ticker.Close()
		t.connected = false
	}
	return nil
}

// Subscribe subscribes registered symbols in LTP mode.
func (t *Ticker) Subscribe(symbols []string) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("not connected")
	}

	tokens := make([]uint32, 0, len(symbols))
	for _, symbol := range symbols {
		token, ok := t.symbolTokens[symbol]
		if !ok {
			continue
		}
		tokens = append(tokens, token)
		t.subscribed[token] = true
	}
	ticker := t.ticker
	t.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := ticker.SetMode(kiteticker.ModeLTP, tokens); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

// OnTick sets the tick handler.
func (t *Ticker) OnTick(handler func(models.Tick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = handler
}

// RegisterSymbol registers a symbol with its instrument token.
func (t *Ticker) RegisterSymbol(symbol string, token uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.symbolTokens[symbol] = token
	t.tokenSymbols[token] = symbol
}

// IsConnected returns whether the ticker is connected.
func (t *Ticker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *Ticker) convertTick(tick kitemodels.Tick) models.Tick {
	t.mu.RLock()
	symbol := t.tokenSymbols[tick.InstrumentToken]
	t.mu.RUnlock()

	ts := tick.Timestamp.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return models.Tick{
		Symbol:    symbol,
		Price:     tick.LastPrice,
		Volume:    int64(tick.VolumeTraded),
		Timestamp: ts,
	}
}

// reconnect attempts to reconnect with exponential backoff.
func (t *Ticker) reconnect(ctx context.Context) {
	t.mu.Lock()
	if t.reconnecting {
		t.mu.Unlock()
		return
	}
	t.reconnecting = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.reconnecting = false
		t.mu.Unlock()
	}()

	for attempt := 0; attempt < t.maxRetries; attempt++ {
		delay := t.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		t.mu.RLock()
		done := t.connected || t.closed
		t.mu.RUnlock()
		if done {
			return
		}

		if err := t.Connect(ctx); err == nil {
			return
		}
	}

	t.log.Error().Int("attempts", t.maxRetries).Msg("ticker reconnection gave up")
}

// resubscribe resubscribes to all previously subscribed tokens.
func (t *Ticker) resubscribe() {
	t.mu.RLock()
	tokens := make([]uint32, 0, len(t.subscribed))
	for token := range t.subscribed {
		tokens = append(tokens, token)
	}
	ticker := t.ticker
	t.mu.RUnlock()

	if len(tokens) == 0 {
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := ticker.Subscribe(tokens); err != nil {
		t.log.Warn().Err(err).Msg("ticker resubscribe failed")
		return
	}
	_ = ticker.SetMode(kiteticker.ModeLTP, tokens)
}
