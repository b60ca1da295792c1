package generic

// =============================================================================
// PERIOD - A closed range of calendar days
// =============================================================================

// Period is the day range [Start, End]. Absence spells and the Bradford
// window are both expressed as periods.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns the number of calendar days in the period, both ends included.
func (p Period) Days() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// Weekdays returns the number of Monday-Friday days in the period.
func (p Period) Weekdays() int {
	return WeekdaysBetween(p.Start, p.End)
}

// Validate rejects periods whose end precedes their start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// RollingWeeks returns the window reaching n weeks back from end. Both ends
// are included.
//
//	RollingWeeks(2026-03-10, 52) = [2025-03-11, 2026-03-10]
func RollingWeeks(end TimePoint, n int) Period {
	return Period{Start: end.AddWeeks(-n), End: end}
}
