package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"breakout-scanner/internal/models"
	"breakout-scanner/internal/stream"
)

// Journal is a stream.Observer that records resolved trades and finished
// sessions. Write failures are logged and never reach the scanner.
type Journal struct {
	stream.NopObserver
	store   DataStore
	timeout time.Duration
	log     zerolog.Logger
}

// NewJournal creates a journal writing to store.
func NewJournal(store DataStore, log zerolog.Logger) *Journal {
	return &Journal{
		store:   store,
		timeout: 5 * time.Second,
		log:     log,
	}
}

// TradeResolved persists the trade.
func (j *Journal) TradeResolved(s stream.Scope, t models.SimulatedTrade) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.store.LogTrade(ctx, s.SessionID, &t); err != nil {
		j.log.Error().Err(err).Str("trade", t.ID).Msg("failed to journal trade")
	}
}

// SessionFinished persists the session summary.
func (j *Journal) SessionFinished(session models.ScannerSession) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.store.SaveSession(ctx, &session); err != nil {
		j.log.Error().Err(err).Str("session", session.ID).Msg("failed to journal session")
	}
}

var _ stream.Observer = (*Journal)(nil)
