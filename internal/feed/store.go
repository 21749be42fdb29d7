package feed

import (
	"context"
	"time"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/store"
)

// StoreSource serves candles previously synced into the local store. It has
// no live stream: Subscribe succeeds and no ticks are ever pushed.
type StoreSource struct {
	store store.DataStore
}

// NewStoreSource creates a source reading from ds.
func NewStoreSource(ds store.DataStore) *StoreSource {
	return &StoreSource{store: ds}
}

func (s *StoreSource) Name() string {
	return "store"
}

// Lookup reports ErrInvalidSymbol when nothing was ever synced for the
// symbol at any supported resolution.
func (s *StoreSource) Lookup(ctx context.Context, symbol string) error {
	for _, res := range []time.Duration{time.Minute, 3 * time.Minute, 5 * time.Minute} {
		interval, _ := Interval(res)
		latest, err := s.store.GetCandlesFreshness(ctx, symbol, interval)
		if err != nil {
			return apperrors.NewFeedError(s.Name(), "lookup "+symbol, false, err)
		}
		if !latest.IsZero() {
			return nil
		}
	}
	return apperrors.NewValidationError("symbol", symbol, "no candles in store; run sync first", apperrors.ErrInvalidSymbol)
}

func (s *StoreSource) Pull(ctx context.Context, req Request) ([]models.Candle, error) {
	interval, err := Interval(req.Resolution)
	if err != nil {
		return nil, apperrors.NewValidationError("resolution", req.Resolution, err.Error(), apperrors.ErrConfigInvalid)
	}
	candles, err := s.store.GetCandles(ctx, req.Symbol, interval, req.From, req.To)
	if err != nil {
		return nil, apperrors.NewFeedError(s.Name(), "pull "+req.String(), false, err)
	}
	return candles, nil
}

func (s *StoreSource) OnPush(handler func(models.Tick)) {}

func (s *StoreSource) Subscribe(ctx context.Context, symbols []string) error {
	return nil
}

// Close leaves the store open; its owner closes it.
func (s *StoreSource) Close() error {
	return nil
}

var _ Source = (*StoreSource)(nil)
