// Package session answers exchange-calendar questions as pure functions of a
// timestamp, anchored to the exchange's local time zone.
package session

import (
	"fmt"
	"time"

	"github.com/crajarshi/SwingTrading/internal/contracts"
)

// Clock is the narrow view of the calendar consumed by the pipeline
type Clock interface {
	LastCompleteSession(now time.Time) string
	NextSession(now time.Time) (time.Time, bool)
	IsOpen(now time.Time) bool
	IsTradingDay(date string) bool
	Location() *time.Location
}

// Times describes one calendar date
type Times struct {
	Date      string    `json:"date"`
	Open      time.Time `json:"open"`
	Close     time.Time `json:"close"`
	IsHalfDay bool      `json:"is_half_day"`
	IsHoliday bool      `json:"is_holiday"`
}

// Tables holds the static holiday and early-close lookups
type Tables struct {
	Holidays    map[string]bool
	EarlyCloses map[string]bool
}

// Calendar is a static-table exchange calendar
type Calendar struct {
	loc         *time.Location
	tables      Tables
	openH       int
	openM       int
	closeH      int
	earlyCloseH int
}

// searchDays bounds forward/backward session searches
const searchDays = 10

// New creates a calendar with regular hours 09:30-16:00 and 13:00 early closes
func New(loc *time.Location, tables Tables) *Calendar {
	return &Calendar{
		loc:         loc,
		tables:      tables,
		openH:       9,
		openM:       30,
		closeH:      16,
		earlyCloseH: 13,
	}
}

// NYSE returns the New York Stock Exchange calendar
func NYSE() (*Calendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load exchange time zone: %w", err)
	}
	return New(loc, NYSETables()), nil
}

// NYSETables returns the observed NYSE holidays and early closes for 2024-2026
func NYSETables() Tables {
	return Tables{
		Holidays: set(
			// 2024
			"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27",
			"2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25",
			// 2025
			"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26",
			"2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25",
			// 2026
			"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
			"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
		),
		EarlyCloses: set(
			"2024-07-03", "2024-11-29", "2024-12-24",
			"2025-07-03", "2025-11-28", "2025-12-24",
			"2026-11-27", "2026-12-24",
		),
	}
}

func set(dates ...string) map[string]bool {
	m := make(map[string]bool, len(dates))
	for _, d := range dates {
		m[d] = true
	}
	return m
}

// Location returns the exchange time zone
func (c *Calendar) Location() *time.Location {
	return c.loc
}

func (c *Calendar) local(t time.Time) time.Time {
	return t.In(c.loc)
}

func (c *Calendar) dateOf(t time.Time) string {
	return c.local(t).Format(contracts.DateLayout)
}

func (c *Calendar) midnight(date string) (time.Time, error) {
	return time.ParseInLocation(contracts.DateLayout, date, c.loc)
}

// IsHoliday reports whether date is a full-day closure
func (c *Calendar) IsHoliday(date string) bool {
	return c.tables.Holidays[date]
}

// IsEarlyClose reports whether date closes at 13:00
func (c *Calendar) IsEarlyClose(date string) bool {
	return c.tables.EarlyCloses[date]
}

// IsTradingDay reports whether date is a weekday that is not a holiday
func (c *Calendar) IsTradingDay(date string) bool {
	d, err := c.midnight(date)
	if err != nil {
		return false
	}
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.IsHoliday(date)
}

// SessionTimes returns the open/close for a date
// Holidays carry zero Open/Close; weekends are reported as non-holiday closures with zero times.
func (c *Calendar) SessionTimes(date string) (Times, error) {
	d, err := c.midnight(date)
	if err != nil {
		return Times{}, fmt.Errorf("invalid session date %q: %w", date, err)
	}
	t := Times{Date: date}
	if c.IsHoliday(date) {
		t.IsHoliday = true
		return t, nil
	}
	if !c.IsTradingDay(date) {
		return t, nil
	}

	y, m, day := d.Date()
	t.Open = time.Date(y, m, day, c.openH, c.openM, 0, 0, c.loc)
	t.Close = time.Date(y, m, day, c.closeH, 0, 0, 0, c.loc)
	if c.IsEarlyClose(date) {
		t.IsHalfDay = true
		t.Close = time.Date(y, m, day, c.earlyCloseH, 0, 0, 0, c.loc)
	}
	return t, nil
}

// IsOpen reports whether the regular session is in progress at now
func (c *Calendar) IsOpen(now time.Time) bool {
	t, err := c.SessionTimes(c.dateOf(now))
	if err != nil || t.Open.IsZero() {
		return false
	}
	return !now.Before(t.Open) && now.Before(t.Close)
}

// NextSession returns the open of the first trading day strictly after now's date
func (c *Calendar) NextSession(now time.Time) (time.Time, bool) {
	d := c.local(now)
	for i := 1; i <= searchDays; i++ {
		next := d.AddDate(0, 0, i).Format(contracts.DateLayout)
		if c.IsTradingDay(next) {
			t, _ := c.SessionTimes(next)
			return t.Open, true
		}
	}
	return time.Time{}, false
}

// LastCompleteSession returns the newest session whose close is at or before now
// Today counts once its close has passed; otherwise the previous trading day.
func (c *Calendar) LastCompleteSession(now time.Time) string {
	d := c.local(now)
	today := d.Format(contracts.DateLayout)
	if c.IsTradingDay(today) {
		t, _ := c.SessionTimes(today)
		if !now.Before(t.Close) {
			return today
		}
	}
	return c.PreviousTradingDay(today)
}

// PreviousTradingDay returns the trading day before date
func (c *Calendar) PreviousTradingDay(date string) string {
	d, err := c.midnight(date)
	if err != nil {
		return ""
	}
	for i := 1; i <= searchDays; i++ {
		prev := d.AddDate(0, 0, -i).Format(contracts.DateLayout)
		if c.IsTradingDay(prev) {
			return prev
		}
	}
	return ""
}

// PreviousClose returns the most recent close at or before now
func (c *Calendar) PreviousClose(now time.Time) (time.Time, bool) {
	date := c.LastCompleteSession(now)
	if date == "" {
		return time.Time{}, false
	}
	t, err := c.SessionTimes(date)
	if err != nil {
		return time.Time{}, false
	}
	return t.Close, true
}

// AdjustPlacementTime anchors an HH:MM placement time to a trading day
// A non-trading date carries forward to the next session.
func (c *Calendar) AdjustPlacementTime(date string, hhmm string) (time.Time, error) {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid placement time %q: %w", hhmm, err)
	}
	d, err := c.midnight(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid placement date %q: %w", date, err)
	}
	if !c.IsTradingDay(date) {
		next, ok := c.NextSession(d)
		if !ok {
			return time.Time{}, fmt.Errorf("no trading session within %d days of %s", searchDays, date)
		}
		d = next
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, clock.Hour(), clock.Minute(), 0, 0, c.loc), nil
}

// TradingDaysBetween counts trading days in (from, to]
func (c *Calendar) TradingDaysBetween(from, to string) int {
	start, err1 := c.midnight(from)
	end, err2 := c.midnight(to)
	if err1 != nil || err2 != nil || !end.After(start) {
		return 0
	}
	n := 0
	for d := start.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d.Format(contracts.DateLayout)) {
			n++
		}
	}
	return n
}

// Schedule returns session times for every trading day in [from, to]
func (c *Calendar) Schedule(from, to string) ([]Times, error) {
	start, err := c.midnight(from)
	if err != nil {
		return nil, err
	}
	end, err := c.midnight(to)
	if err != nil {
		return nil, err
	}
	var out []Times
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(contracts.DateLayout)
		if !c.IsTradingDay(date) {
			continue
		}
		t, _ := c.SessionTimes(date)
		out = append(out, t)
	}
	return out, nil
}
