// Package models provides domain models for the breakout scanner.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	MCX Exchange = "MCX" // Commodity
)

// Candle represents OHLCV data for a time period.
// Index is the 1-based ordinal of the candle inside its timeframe block;
// base-resolution candles carry the ordinal within the session series.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Index     int
}

// End returns the end of the candle window for the given duration.
func (c Candle) End(d time.Duration) time.Time {
	return c.Timestamp.Add(d)
}

// Validate checks the OHLC relationships of the candle.
func (c Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candle has zero timestamp")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle %s has non-positive price", c.Timestamp.Format(time.RFC3339))
	}
	if c.High < c.Low {
		return fmt.Errorf("candle %s has high %.2f below low %.2f", c.Timestamp.Format(time.RFC3339), c.High, c.Low)
	}
	if c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return fmt.Errorf("candle %s has open/close outside high-low range", c.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// Tick represents a real-time price notification.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    int64
	Timestamp time.Time
}

// Direction is the direction of a price leg.
type Direction string

const (
	Uptrend   Direction = "uptrend"
	Downtrend Direction = "downtrend"
)

// Side returns the trade side taken on a breakout of this direction.
func (d Direction) Side() Side {
	if d == Downtrend {
		return SideSell
	}
	return SideBuy
}

// Side represents the side of a simulated trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide parses a side string case-insensitively.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side: %q", s)
}

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)
