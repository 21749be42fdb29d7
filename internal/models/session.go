package models

import (
	"sort"
	"time"
)

// SessionStatus represents the lifecycle status of a scanner session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionRunning   SessionStatus = "RUNNING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionStopped   SessionStatus = "STOPPED"
)

// NoTradeReason explains why a cycle resolved without a trade.
type NoTradeReason string

const (
	NoTradeNone         NoTradeReason = ""
	NoTradeNoPattern    NoTradeReason = "no-pattern"
	NoTradeNoBreakout   NoTradeReason = "no-breakout"
	NoTradeInsufficient NoTradeReason = "insufficient-candles"
)

// CycleResult is the outcome of one timeframe cycle.
type CycleResult struct {
	Timeframe     int
	Patterns      PatternSet
	Breakout      *BreakoutEvent
	Trade         *SimulatedTrade
	NoTrade       NoTradeReason
	Confirmed     bool // breakout reproduced with base-resolution data
	CandlesFormed int
	ResolvedAt    time.Time
}

// ScannerSession is the scanning run for one symbol on one trading date.
type ScannerSession struct {
	ID                  string
	Symbol              string
	Date                time.Time
	CurrentTimeframe    int
	CompletedTimeframes map[int]bool
	Status              SessionStatus
	Trades              []SimulatedTrade
	Results             []CycleResult
	Warnings            []string
	StartedAt           time.Time
	FinishedAt          time.Time
}

// NewScannerSession creates a pending session.
func NewScannerSession(id, symbol string, date time.Time, startTimeframe int) *ScannerSession {
	return &ScannerSession{
		ID:                  id,
		Symbol:              symbol,
		Date:                date,
		CurrentTimeframe:    startTimeframe,
		CompletedTimeframes: make(map[int]bool),
		Status:              SessionPending,
	}
}

// IsCompleted reports whether the timeframe was already resolved.
func (s *ScannerSession) IsCompleted(tf int) bool {
	return s.CompletedTimeframes[tf]
}

// Complete adds tf to the completed set. It returns false if tf was already present.
func (s *ScannerSession) Complete(tf int) bool {
	if s.CompletedTimeframes[tf] {
		return false
	}
	s.CompletedTimeframes[tf] = true
	return true
}

// Completed returns the completed timeframes in ascending order.
func (s *ScannerSession) Completed() []int {
	out := make([]int, 0, len(s.CompletedTimeframes))
	for tf := range s.CompletedTimeframes {
		out = append(out, tf)
	}
	sort.Ints(out)
	return out
}

// Clone returns a copy that shares no mutable state with s.
func (s *ScannerSession) Clone() ScannerSession {
	c := *s
	c.CompletedTimeframes = make(map[int]bool, len(s.CompletedTimeframes))
	for tf := range s.CompletedTimeframes {
		c.CompletedTimeframes[tf] = true
	}
	c.Trades = append([]SimulatedTrade(nil), s.Trades...)
	c.Results = append([]CycleResult(nil), s.Results...)
	c.Warnings = append([]string(nil), s.Warnings...)
	return c
}

// Availability reports how much base data is present versus required.
type Availability struct {
	Timeframe           int
	Available           int
	Required            int
	RemainingUntilClose int
	PercentComplete     float64
	Polling             bool
	LastError           string
	ConsecutiveFailures int
	UpdatedAt           time.Time
}
