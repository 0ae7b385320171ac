// Package session answers whether the exchange is open, using the
// configured trading window and timezone.
package session

import (
	"fmt"
	"time"
)

// Clock evaluates the trading session in the exchange timezone. The
// now func is replaceable for tests.
type Clock struct {
	loc       *time.Location
	openMins  int
	closeMins int
	now       func() time.Time
}

// NewClock builds a Clock from an IANA timezone name and HH:MM session
// bounds. The close minute is inclusive.
func NewClock(timezone, open, close string) (*Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", timezone, err)
	}
	openMins, err := parseHHMM(open)
	if err != nil {
		return nil, fmt.Errorf("invalid session open: %w", err)
	}
	closeMins, err := parseHHMM(close)
	if err != nil {
		return nil, fmt.Errorf("invalid session close: %w", err)
	}
	if closeMins <= openMins {
		return nil, fmt.Errorf("session close %s must be after open %s", close, open)
	}
	return &Clock{loc: loc, openMins: openMins, closeMins: closeMins, now: time.Now}, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// SetNow overrides the time source. Test hook.
func (c *Clock) SetNow(now func() time.Time) {
	c.now = now
}

// Location returns the exchange timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// IsOpen reports whether the market is currently in session: a weekday
// with the local time inside [open, close].
func (c *Clock) IsOpen() bool {
	return c.IsOpenAt(c.now())
}

// IsOpenAt reports whether the market is in session at t.
func (c *Clock) IsOpenAt(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	mins := local.Hour()*60 + local.Minute()
	return mins >= c.openMins && mins <= c.closeMins
}

// TradingDate returns the current exchange-local calendar day at
// midnight, the key snapshot rows are bucketed on.
func (c *Clock) TradingDate() time.Time {
	return c.TradingDateAt(c.now())
}

// TradingDateAt returns the exchange-local calendar day of t.
func (c *Clock) TradingDateAt(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// Now returns the current time from the clock's time source.
func (c *Clock) Now() time.Time {
	return c.now()
}
