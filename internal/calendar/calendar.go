package calendar

import (
	"errors"
	"sort"
	"time"
)

// ErrEmptyCalendar is returned when a calendar is constructed or queried
// without any trading days.
var ErrEmptyCalendar = errors.New("calendar: no trading days")

// ErrExhausted is returned when a snap operation runs off either end of
// the calendar.
var ErrExhausted = errors.New("calendar: no trading day in direction of search")

// Calendar holds the sorted set of trading days for one market. Days are
// normalized to UTC midnight; duplicates are collapsed at construction.
type Calendar struct {
	days []time.Time
}

// New builds a Calendar from an arbitrary list of trading days.
func New(days []time.Time) (*Calendar, error) {
	if len(days) == 0 {
		return nil, ErrEmptyCalendar
	}

	normalized := make([]time.Time, 0, len(days))
	seen := make(map[int64]struct{}, len(days))
	for _, d := range days {
		nd := Normalize(d)
		if _, ok := seen[nd.Unix()]; ok {
			continue
		}
		seen[nd.Unix()] = struct{}{}
		normalized = append(normalized, nd)
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].Before(normalized[j]) })

	return &Calendar{days: normalized}, nil
}

// NewWeekdays builds a synthetic Monday-Friday calendar covering [start, end].
// Useful for tests and for markets without an exchange holiday feed.
func NewWeekdays(start, end time.Time) (*Calendar, error) {
	start = Normalize(start)
	end = Normalize(end)
	if end.Before(start) {
		return nil, ErrEmptyCalendar
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return New(days)
}

// Normalize truncates a timestamp to UTC midnight.
func Normalize(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Len returns the number of trading days.
func (c *Calendar) Len() int { return len(c.days) }

// First returns the earliest trading day.
func (c *Calendar) First() time.Time { return c.days[0] }

// Last returns the latest trading day.
func (c *Calendar) Last() time.Time { return c.days[len(c.days)-1] }

// Contains reports whether d (normalized) is a trading day.
func (c *Calendar) Contains(d time.Time) bool {
	nd := Normalize(d)
	i := c.searchAtOrAfter(nd)
	return i < len(c.days) && c.days[i].Equal(nd)
}

// NextTradingDay returns the first trading day at or after d.
func (c *Calendar) NextTradingDay(d time.Time) (time.Time, error) {
	i := c.searchAtOrAfter(Normalize(d))
	if i >= len(c.days) {
		return time.Time{}, ErrExhausted
	}
	return c.days[i], nil
}

// PrevTradingDay returns the last trading day at or before d.
func (c *Calendar) PrevTradingDay(d time.Time) (time.Time, error) {
	nd := Normalize(d)
	i := c.searchAtOrAfter(nd)
	if i < len(c.days) && c.days[i].Equal(nd) {
		return c.days[i], nil
	}
	if i == 0 {
		return time.Time{}, ErrExhausted
	}
	return c.days[i-1], nil
}

// TradingDaysBetween counts trading days in [start, end] inclusive.
func (c *Calendar) TradingDaysBetween(start, end time.Time) int {
	lo := c.searchAtOrAfter(Normalize(start))
	hi := c.searchAtOrAfter(Normalize(end).AddDate(0, 0, 1))
	if hi < lo {
		return 0
	}
	return hi - lo
}

// searchAtOrAfter returns the first index i where days[i] >= target.
func (c *Calendar) searchAtOrAfter(target time.Time) int {
	return sort.Search(len(c.days), func(i int) bool {
		return !c.days[i].Before(target)
	})
}
