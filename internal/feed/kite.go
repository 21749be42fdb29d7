package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/logging"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/performance"
)

// KiteSource implements Source for Zerodha Kite Connect. Historical candles
// come from the REST API and live prices from the websocket ticker.
type KiteSource struct {
	client      *kiteconnect.Client
	ticker      *Ticker
	limiter     *performance.RateLimiter
	exchange    models.Exchange
	accessToken string
	log         zerolog.Logger
	tokens      map[string]uint32 // exchange:symbol -> instrument token
	mu          sync.RWMutex
}

// KiteConfig holds configuration for the Kite source.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	Exchange    models.Exchange
	MaxRetries  int
	BaseDelay   time.Duration

	// HistoricalRate caps historical requests per second; zero disables it.
	HistoricalRate float64
	Logger         zerolog.Logger
}

// NewKiteSource creates a new Kite Connect source.
func NewKiteSource(cfg KiteConfig) *KiteSource {
	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = models.NSE
	}

	return &KiteSource{
		client:      client,
		limiter:     performance.NewRateLimiter(cfg.HistoricalRate, 1),
		exchange:    exchange,
		accessToken: cfg.AccessToken,
		log:         cfg.Logger,
		tokens:      make(map[string]uint32),
		ticker: NewTicker(TickerConfig{
			APIKey:      cfg.APIKey,
			AccessToken: cfg.AccessToken,
			MaxRetries:  cfg.MaxRetries,
			BaseDelay:   cfg.BaseDelay,
			Logger:      cfg.Logger,
		}),
	}
}

func (k *KiteSource) Name() string {
	return "kite"
}

// Lookup resolves the instrument token of the symbol.
func (k *KiteSource) Lookup(ctx context.Context, symbol string) error {
	_, err := k.instrumentToken(ctx, symbol, k.exchange)
	return err
}

// Pull fetches historical OHLCV data.
func (k *KiteSource) Pull(ctx context.Context, req Request) ([]models.Candle, error) {
	if k.accessToken == "" {
		return nil, apperrors.ErrNotAuthenticated
	}

	exchange := req.Exchange
	if exchange == "" {
		exchange = k.exchange
	}
	token, err := k.instrumentToken(ctx, req.Symbol, exchange)
	if err != nil {
		return nil, err
	}

	interval, err := Interval(req.Resolution)
	if err != nil {
		return nil, apperrors.NewValidationError("resolution", req.Resolution, err.Error(), apperrors.ErrConfigInvalid)
	}

	// Kite treats the upper bound as inclusive.
	to := req.To.Add(-time.Second)
	if !to.After(req.From) {
		return nil, nil
	}

	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := k.client.GetHistoricalData(int(token), interval, req.From, to, false, false)
	logging.LogAPICall(k.log, "GET", "historical/"+interval, time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewFeedError(k.Name(), "historical "+req.String(), true, err)
	}

	candles := make([]models.Candle, 0, len(data))
	for _, d := range data {
		candles = append(candles, models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		})
	}

	return within(candles, req.From, req.To), nil
}

// OnPush sets the live tick handler.
func (k *KiteSource) OnPush(handler func(models.Tick)) {
	k.ticker.OnTick(handler)
}

// Subscribe connects the ticker and subscribes to the symbols.
func (k *KiteSource) Subscribe(ctx context.Context, symbols []string) error {
	for _, symbol := range symbols {
		token, err := k.instrumentToken(ctx, symbol, k.exchange)
		if err != nil {
			return err
		}
		k.ticker.RegisterSymbol(symbol, token)
	}

	if err := k.ticker.Connect(ctx); err != nil {
		return apperrors.NewFeedError(k.Name(), "ticker connect", true, err)
	}
	return k.ticker.Subscribe(symbols)
}

// Close disconnects the ticker.
func (k *KiteSource) Close() error {
	return k.ticker.Disconnect()
}

func (k *KiteSource) instrumentToken(ctx context.Context, symbol string, exchange models.Exchange) (uint32, error) {
	key := fmt.Sprintf("%s:%s", exchange, symbol)

	k.mu.RLock()
	token, ok := k.tokens[key]
	k.mu.RUnlock()
	if ok {
		return token, nil
	}

	// Fetch instruments if not cached
	if err := k.loadInstruments(ctx, exchange); err != nil {
		return 0, err
	}

	k.mu.RLock()
	token, ok = k.tokens[key]
	k.mu.RUnlock()
	if !ok {
		return 0, apperrors.NewValidationError("symbol", symbol, "instrument not found on "+string(exchange), apperrors.ErrInvalidSymbol)
	}
	return token, nil
}

func (k *KiteSource) loadInstruments(ctx context.Context, exchange models.Exchange) error {
	if k.accessToken == "" {
		return apperrors.ErrNotAuthenticated
	}

	start := time.Now()
	instruments, err := k.client.GetInstruments()
	logging.LogAPICall(k.log, "GET", "instruments", time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewFeedError(k.Name(), "instruments", true, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, inst := range instruments {
		if inst.Exchange != string(exchange) {
			continue
		}
		k.tokens[fmt.Sprintf("%s:%s", inst.Exchange, inst.Tradingsymbol)] = uint32(inst.InstrumentToken)
	}
	return nil
}

var _ Source = (*KiteSource)(nil)
