package generic

import (
	"regexp"
	"time"
)

// =============================================================================
// TIME POINT - A calendar day. Milestone due dates and absence dates have no
// time-of-day component.
// =============================================================================

const DateLayout = "2006-01-02"

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) TimePoint {
	t = t.UTC()
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// DateIn is the calendar day of t as observed in loc.
func DateIn(t time.Time, loc *time.Location) TimePoint {
	t = t.In(loc)
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

var dateShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseDate parses a strict YYYY-MM-DD calendar date. Shapes like
// "2026-1-5" or "2026-01-05T00:00:00Z" and impossible dates like
// "2026-02-30" are rejected.
func ParseDate(s string) (TimePoint, error) {
	if !dateShape.MatchString(s) {
		return TimePoint{}, &ValidationError{Field: "date", Message: "must be YYYY-MM-DD, got " + quote(s)}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, &ValidationError{Field: "date", Message: "not a calendar date: " + quote(s)}
	}
	return TimePoint{Time: t}, nil
}

// MustParseDate is ParseDate for tests and seed data.
func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint  { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddWeeks(n int) TimePoint { return tp.AddDays(7 * n) }

// Properties
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsWeekend() bool {
	wd := tp.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
func (tp TimePoint) IsWorkday() bool { return !tp.IsWeekend() }
func (tp TimePoint) IsZero() bool    { return tp.Time.IsZero() }

func (tp TimePoint) String() string { return tp.Time.Format(DateLayout) }

// Ptr returns a pointer to a copy of tp, for optional date fields.
func (tp TimePoint) Ptr() *TimePoint { return &tp }

// =============================================================================
// CLOCK - "now" is always asked for, never captured
// =============================================================================

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
func SystemClock() Clock { return systemClock{} }

// FixedClock always returns At. Intended for tests.
type FixedClock struct {
	At time.Time
}

func (c *FixedClock) Now() time.Time { return c.At }

// Advance moves the clock forward by d days.
func (c *FixedClock) Advance(d int) { c.At = c.At.AddDate(0, 0, d) }

// Today returns the current calendar day according to clock.
func Today(clock Clock) TimePoint {
	return DateOf(clock.Now())
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween returns the number of calendar days from -> to (negative if to is earlier).
func DaysBetween(from, to TimePoint) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// WeekdaysBetween counts Monday-Friday days in [from, to], both ends included.
// Returns 0 when to is before from.
func WeekdaysBetween(from, to TimePoint) int {
	if to.Before(from) {
		return 0
	}
	total := DaysBetween(from, to) + 1
	weeks := total / 7
	count := weeks * 5
	current := from.AddDays(weeks * 7)
	for current.BeforeOrEqual(to) {
		if current.IsWorkday() {
			count++
		}
		current = current.AddDays(1)
	}
	return count
}

func quote(s string) string { return `"` + s + `"` }
