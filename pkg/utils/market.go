package utils

import (
	"time"

	"breakout-scanner/internal/config"
	"breakout-scanner/internal/models"
)

const dateLayout = "2006-01-02"

// Calendar answers trading-session questions for one market.
type Calendar struct {
	market   config.MarketConfig
	loc      *time.Location
	holidays map[string]bool
}

// NewCalendar builds a calendar from market configuration.
func NewCalendar(market config.MarketConfig) (*Calendar, error) {
	loc, err := market.Location()
	if err != nil {
		return nil, err
	}
	holidays := make(map[string]bool, len(market.Holidays))
	for _, h := range market.Holidays {
		holidays[h] = true
	}
	return &Calendar{market: market, loc: loc, holidays: holidays}, nil
}

// Location returns the market time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Date returns midnight of t's calendar day in the market time zone.
func (c *Calendar) Date(t time.Time) time.Time {
	d := t.In(c.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, c.loc)
}

// ParseDate parses a YYYY-MM-DD date in the market time zone.
func (c *Calendar) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, c.loc)
}

// IsTradingDay reports whether the exchange is open on t's date.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	d := t.In(c.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[d.Format(dateLayout)]
}

// TradingDays returns the trading dates in [from, to], inclusive of both days.
func (c *Calendar) TradingDays(from, to time.Time) []time.Time {
	var days []time.Time
	end := c.Date(to)
	for d := c.Date(from); !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// SessionOpen returns the session open on t's date.
func (c *Calendar) SessionOpen(t time.Time) time.Time {
	return c.market.OpenAt(t)
}

// SessionClose returns the session close on t's date.
func (c *Calendar) SessionClose(t time.Time) time.Time {
	return c.market.CloseAt(t)
}

// Status returns the market status at now.
func (c *Calendar) Status(now time.Time) models.MarketStatus {
	if !c.IsTradingDay(now) {
		return models.MarketClosed
	}
	open := c.SessionOpen(now)
	switch {
	case now.Before(open.Add(-15 * time.Minute)):
		return models.MarketClosed
	case now.Before(open):
		return models.MarketPreOpen
	case now.Before(c.SessionClose(now)):
		return models.MarketOpen
	}
	return models.MarketClosed
}

// IsOpen reports whether the session is in progress at now.
func (c *Calendar) IsOpen(now time.Time) bool {
	return c.Status(now) == models.MarketOpen
}

// NextOpen returns the first session open strictly after now.
func (c *Calendar) NextOpen(now time.Time) time.Time {
	next := c.SessionOpen(now)
	if !now.Before(next) || !c.IsTradingDay(next) {
		next = c.SessionOpen(c.Date(now).AddDate(0, 0, 1))
		for !c.IsTradingDay(next) {
			next = c.SessionOpen(c.Date(next).AddDate(0, 0, 1))
		}
	}
	return next
}

// TimeUntilClose returns the duration until the session close on now's date.
func (c *Calendar) TimeUntilClose(now time.Time) time.Duration {
	return c.SessionClose(now).Sub(now)
}
