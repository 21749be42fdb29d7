// Package store provides persistence of base candles, scanner sessions and
// simulated trades.
package store

import (
	"context"
	"fmt"
	"time"

	"breakout-scanner/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Candles
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	// GetCandles returns candles with timestamps in [from, to), oldest first.
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error)

	// Sessions
	SaveSession(ctx context.Context, session *models.ScannerSession) error
	GetSessions(ctx context.Context, filter SessionFilter) ([]SessionRecord, error)

	// Trades
	LogTrade(ctx context.Context, sessionID string, trade *models.SimulatedTrade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.SimulatedTrade, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying simulated trades.
type TradeFilter struct {
	Symbol    string
	SessionID string
	StartDate time.Time
	EndDate   time.Time
	Side      models.Side
	Reason    models.ExitReason
	Timeframe int
	Limit     int
}

// SessionFilter represents filters for querying sessions.
type SessionFilter struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	Status    models.SessionStatus
	Limit     int
}

// SessionRecord is the persisted summary of a scanner session.
type SessionRecord struct {
	ID                  string
	Symbol              string
	Date                time.Time
	Status              models.SessionStatus
	CurrentTimeframe    int
	CompletedTimeframes []int
	TradeCount          int
	TotalPnL            float64
	Warnings            []string
	StartedAt           time.Time
	FinishedAt          time.Time
}

// CandleSyncKey is the sync_status key for a symbol's candles at a timeframe.
func CandleSyncKey(symbol, timeframe string) string {
	return fmt.Sprintf("candles:%s:%s", symbol, timeframe)
}
