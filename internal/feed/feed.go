// Package feed defines the price-feed provider contract and its
// implementations: Kite Connect, the local candle store and an in-memory
// source used for replays and tests.
package feed

import (
	"context"
	"fmt"
	"time"

	"breakout-scanner/internal/models"
)

// Source is a price-feed provider. Pull fetches base candles for a time range;
// OnPush registers the handler for live price notifications delivered after
// Subscribe.
type Source interface {
	Name() string

	// Lookup checks that the symbol is known to the provider.
	Lookup(ctx context.Context, symbol string) error

	// Pull returns base candles with timestamps in [From, To), oldest first.
	// The last candle may still be forming.
	Pull(ctx context.Context, req Request) ([]models.Candle, error)

	OnPush(handler func(models.Tick))
	Subscribe(ctx context.Context, symbols []string) error
	Close() error
}

// Request represents a request for base-resolution candles.
type Request struct {
	Symbol     string
	Exchange   models.Exchange
	Resolution time.Duration
	From       time.Time
	To         time.Time
}

func (r Request) String() string {
	return fmt.Sprintf("%s:%s %s [%s, %s)", r.Exchange, r.Symbol, r.Resolution,
		r.From.Format("2006-01-02 15:04"), r.To.Format("15:04"))
}

// Interval maps a base resolution to a Kite Connect interval name.
func Interval(res time.Duration) (string, error) {
	switch res {
	case time.Minute:
		return "minute", nil
	case 3 * time.Minute:
		return "3minute", nil
	case 5 * time.Minute:
		return "5minute", nil
	case 10 * time.Minute:
		return "10minute", nil
	case 15 * time.Minute:
		return "15minute", nil
	case 30 * time.Minute:
		return "30minute", nil
	case time.Hour:
		return "60minute", nil
	}
	return "", fmt.Errorf("unsupported resolution: %s", res)
}

// within filters candles to [from, to).
func within(candles []models.Candle, from, to time.Time) []models.Candle {
	var out []models.Candle
	for _, c := range candles {
		if c.Timestamp.Before(from) || !c.Timestamp.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}
