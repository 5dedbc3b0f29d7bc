package usecase

import (
	"fmt"
	"time"

	_ "time/tzdata"

	"TradePulse/pkg/util"
)

// MarketClock answers whether the exchange session is open.
type MarketClock struct {
	loc      *time.Location
	holidays map[string]struct{}
	open     time.Duration
	close    time.Duration
}

// NewMarketClock uses regular US equity hours (09:30-16:00, weekdays) in tz.
func NewMarketClock(tz string, holidays []string) (*MarketClock, error) {
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tz, err)
	}
	days, err := util.ParseDays(holidays)
	if err != nil {
		return nil, fmt.Errorf("parse holidays: %w", err)
	}
	return &MarketClock{
		loc:      loc,
		holidays: days,
		open:     9*time.Hour + 30*time.Minute,
		close:    16 * time.Hour,
	}, nil
}

// Open reports whether t falls inside a trading session.
func (c *MarketClock) Open(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if _, ok := c.holidays[util.DayKey(t, c.loc)]; ok {
		return false
	}
	// Wall-clock time of day.
	since := time.Duration(local.Hour())*time.Hour + time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	return since >= c.open && since < c.close
}
