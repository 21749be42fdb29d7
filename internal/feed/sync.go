package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/store"
	"breakout-scanner/pkg/utils"
)

// Syncer copies base candles from a remote source into the store, one
// trading session per request.
type Syncer struct {
	source   Source
	store    store.DataStore
	calendar *utils.Calendar
	retry    utils.RetryConfig
	log      zerolog.Logger
}

// SyncResult reports what a sync stored.
type SyncResult struct {
	Symbol   string
	Days     int
	Candles  int
	Skipped  int // days already synced past their close
	LastSync time.Time
}

// NewSyncer creates a syncer.
func NewSyncer(source Source, ds store.DataStore, calendar *utils.Calendar, log zerolog.Logger) *Syncer {
	retry := utils.DefaultRetryConfig()
	retry.Retryable = apperrors.IsRecoverable
	return &Syncer{source: source, store: ds, calendar: calendar, retry: retry, log: log}
}

// Sync fetches every trading session in [from, to] at resolution res. Days
// whose stored candles already reach the session close are skipped unless
// force is set. The sync_status entry tracks the latest covered instant.
func (s *Syncer) Sync(ctx context.Context, symbol string, res time.Duration, from, to time.Time, force bool) (SyncResult, error) {
	result := SyncResult{Symbol: symbol}

	interval, err := Interval(res)
	if err != nil {
		return result, apperrors.NewValidationError("resolution", res, err.Error(), apperrors.ErrConfigInvalid)
	}
	if err := s.source.Lookup(ctx, symbol); err != nil {
		return result, err
	}

	key := store.CandleSyncKey(symbol, interval)
	last := s.store.GetLastSync(key)

	for _, day := range s.calendar.TradingDays(from, to) {
		open := s.calendar.SessionOpen(day)
		end := s.calendar.SessionClose(day)
		if now := time.Now(); now.Before(end) {
			end = now.Truncate(res)
		}
		if !end.After(open) {
			continue
		}
		if !force {
			stored, err := s.store.GetCandles(ctx, symbol, interval, open, end)
			if err != nil {
				return result, err
			}
			if n := len(stored); n > 0 && !stored[n-1].End(res).Before(end) {
				result.Skipped++
				continue
			}
		}

		req := Request{Symbol: symbol, Resolution: res, From: open, To: end}
		candles, err := utils.RetryWithResult(ctx, s.retry, func() ([]models.Candle, error) {
			return s.source.Pull(ctx, req)
		})
		if err != nil {
			return result, fmt.Errorf("sync %s: %w", req, err)
		}

		valid := candles[:0]
		for _, c := range candles {
			if err := c.Validate(); err != nil {
				s.log.Warn().Err(err).Str("symbol", symbol).Msg("dropping malformed candle")
				continue
			}
			valid = append(valid, c)
		}
		if err := s.store.SaveCandles(ctx, symbol, interval, valid); err != nil {
			return result, err
		}

		result.Days++
		result.Candles += len(valid)
		if end.After(last) {
			last = end
			if err := s.store.SetLastSync(key, last); err != nil {
				return result, err
			}
		}
		s.log.Info().Str("symbol", symbol).Str("date", day.Format("2006-01-02")).Int("candles", len(valid)).Msg("synced session")
	}

	result.LastSync = last
	return result, nil
}
