package generic

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tp, err := ParseDate("2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, NewTimePoint(2026, time.March, 10), tp)
	assert.Equal(t, "2026-03-10", tp.String())

	for _, bad := range []string{"", "2026-3-10", "2026-03-10T00:00:00Z", "10/03/2026", "2026-02-30", "2026-13-01"} {
		_, err := ParseDate(bad)
		var ve *ValidationError
		require.True(t, errors.As(err, &ve), "%q should be rejected", bad)
		assert.Equal(t, "date", ve.Field)
	}
}

func TestDateOf_TruncatesToUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	tp := DateOf(time.Date(2026, 3, 11, 1, 30, 0, 0, loc))
	assert.Equal(t, "2026-03-10", tp.String())
}

func TestDateIn(t *testing.T) {
	bst := time.FixedZone("BST", 60*60)
	at := time.Date(2026, 6, 10, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, "2026-06-10", DateIn(at, time.UTC).String())
	assert.Equal(t, "2026-06-11", DateIn(at, bst).String())
	assert.Equal(t, time.UTC, DateIn(at, bst).Time.Location(), "dates stay in UTC")
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 28, DaysBetween(MustParseDate("2026-02-01"), MustParseDate("2026-03-01")))
	assert.Equal(t, 0, DaysBetween(MustParseDate("2026-03-01"), MustParseDate("2026-03-01")))
	assert.Equal(t, -1, DaysBetween(MustParseDate("2026-03-02"), MustParseDate("2026-03-01")))
	// Across the March DST change in zones that have one; dates are UTC so it is 7 days
	assert.Equal(t, 7, DaysBetween(MustParseDate("2026-03-26"), MustParseDate("2026-04-02")))
}

func TestWeekdaysBetween(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"2026-03-09", "2026-03-09", 1},  // Monday
		{"2026-03-09", "2026-03-13", 5},  // Mon-Fri
		{"2026-03-09", "2026-03-15", 5},  // Mon-Sun
		{"2026-03-14", "2026-03-15", 0},  // weekend only
		{"2026-03-09", "2026-03-20", 10}, // two weeks
		{"2026-03-11", "2026-03-24", 10}, // two weeks, mid-week start
		{"2026-03-10", "2026-03-09", 0},  // reversed
	}
	for _, tt := range tests {
		t.Run(tt.from+"_"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, WeekdaysBetween(MustParseDate(tt.from), MustParseDate(tt.to)))
		})
	}
}

func TestFixedClock(t *testing.T) {
	clock := &FixedClock{At: time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)}
	assert.Equal(t, "2026-03-10", Today(clock).String())
	clock.Advance(1)
	assert.Equal(t, "2026-03-11", Today(clock).String())
}

func TestPeriod(t *testing.T) {
	p := Period{Start: MustParseDate("2026-03-09"), End: MustParseDate("2026-03-15")}
	assert.True(t, p.Contains(MustParseDate("2026-03-09")))
	assert.True(t, p.Contains(MustParseDate("2026-03-15")))
	assert.False(t, p.Contains(MustParseDate("2026-03-16")))
	assert.Equal(t, 7, p.Days())
	assert.Equal(t, 5, p.Weekdays())
	assert.NoError(t, p.Validate())
	assert.Equal(t, "[2026-03-09, 2026-03-15]", p.String())

	reversed := Period{Start: p.End, End: p.Start}
	assert.ErrorIs(t, reversed.Validate(), ErrInvalidPeriod)
	assert.Equal(t, 0, reversed.Days())
}

func TestRollingWeeks(t *testing.T) {
	w := RollingWeeks(MustParseDate("2026-03-10"), 52)
	assert.Equal(t, "2025-03-11", w.Start.String())
	assert.Equal(t, "2026-03-10", w.End.String())
	assert.False(t, w.Contains(MustParseDate("2025-03-10")))
}
