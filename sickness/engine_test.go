package sickness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/generic"
)

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

func intp(n int) *int { return &n }

func orgp(s string) *generic.OrganisationID {
	org := generic.OrganisationID(s)
	return &org
}

// =============================================================================
// MILESTONE RESOLUTION
// =============================================================================

func defaultCatalog() []MilestoneConfig {
	return []MilestoneConfig{
		{Key: "welfare_check", Label: "Welfare check", DayOffset: 14, Active: true, IsDefault: true},
		{Key: "first_contact", Label: "First contact", DayOffset: 1, Active: true, IsDefault: true},
		{Key: "fit_note_check", Label: "Fit note check", DayOffset: 7, Description: "day 8 onwards", Active: true, IsDefault: true},
		{Key: "legacy", Label: "Legacy", DayOffset: 3, Active: false, IsDefault: true},
	}
}

func TestResolveMilestones_DefaultsOnly(t *testing.T) {
	// GIVEN: no overrides
	// THEN: active defaults ordered by day offset, inactive default dropped
	got := ResolveMilestones(defaultCatalog(), nil)

	keys := make([]MilestoneKey, len(got))
	for i, m := range got {
		keys[i] = m.Key
	}
	assert.Equal(t, []MilestoneKey{"first_contact", "fit_note_check", "welfare_check"}, keys)
}

func TestResolveMilestones_OverrideReplacesFields(t *testing.T) {
	// GIVEN: an override moving the welfare check to day 10 with a new label
	overrides := []MilestoneConfig{
		{OrganisationID: orgp("org-a"), Key: "welfare_check", Label: "Wellbeing call", DayOffset: 5, Description: "ours", Active: true},
	}

	// WHEN: resolving
	got := ResolveMilestones(defaultCatalog(), overrides)

	// THEN: override fields win and the order follows the new offset
	require.Len(t, got, 3)
	assert.Equal(t, MilestoneKey("first_contact"), got[0].Key)
	assert.Equal(t, MilestoneKey("welfare_check"), got[1].Key)
	assert.Equal(t, "Wellbeing call", got[1].Label)
	assert.Equal(t, 5, got[1].DayOffset)
	assert.Equal(t, "ours", got[1].Description)
	assert.False(t, got[1].IsDefault)
	assert.Equal(t, "org-a", string(*got[1].OrganisationID))

	// Untouched keys keep their default fields
	assert.Equal(t, "day 8 onwards", got[2].Description)
	assert.True(t, got[2].IsDefault)
}

func TestResolveMilestones_ActivationFollowsOverride(t *testing.T) {
	overrides := []MilestoneConfig{
		{Key: "first_contact", Label: "First contact", DayOffset: 1, Active: false},
		{Key: "legacy", Label: "Legacy", DayOffset: 3, Active: true},
	}
	got := ResolveMilestones(defaultCatalog(), overrides)

	keys := map[MilestoneKey]bool{}
	for _, m := range got {
		keys[m.Key] = true
	}
	assert.False(t, keys["first_contact"], "deactivated by override")
	assert.True(t, keys["legacy"], "activated by override")
}

func TestResolveMilestones_IgnoresOverridesWithoutDefault(t *testing.T) {
	overrides := []MilestoneConfig{{Key: "made_up", Label: "Made up", DayOffset: 2, Active: true}}
	got := ResolveMilestones(defaultCatalog(), overrides)
	for _, m := range got {
		assert.NotEqual(t, MilestoneKey("made_up"), m.Key)
	}
	assert.Len(t, got, 3)
}

func TestResolveMilestones_TiesOrderedByKey(t *testing.T) {
	defaults := []MilestoneConfig{
		{Key: "b", Label: "B", DayOffset: 7, Active: true},
		{Key: "a", Label: "A", DayOffset: 7, Active: true},
	}
	got := ResolveMilestones(defaults, nil)
	assert.Equal(t, MilestoneKey("a"), got[0].Key)
	assert.Equal(t, MilestoneKey("b"), got[1].Key)
}

func TestResolveGuidance(t *testing.T) {
	defaults := []Guidance{{Key: "a", Content: "default a"}, {Key: "b", Content: "default b"}}
	overrides := []Guidance{{OrganisationID: orgp("org-a"), Key: "b", Content: "ours"}}

	got := ResolveGuidance(defaults, overrides)
	assert.Equal(t, map[MilestoneKey]string{"a": "default a", "b": "ours"}, got)
}

// =============================================================================
// TIMELINE
// =============================================================================

func TestBuildTimeline_StatusBoundary(t *testing.T) {
	// GIVEN: absence started 2026-01-01 and a milestone at day 7
	start := date("2026-01-01")
	milestones := []MilestoneConfig{{Key: "fit_note_check", Label: "Fit note check", DayOffset: 7, Active: true}}

	tests := []struct {
		today string
		want  TimelineStatus
	}{
		{"2026-01-07", TimelineUpcoming},
		{"2026-01-08", TimelineDueToday},
		{"2026-01-09", TimelineOverdue},
	}
	for _, tt := range tests {
		t.Run(tt.today, func(t *testing.T) {
			// WHEN: building the timeline on that day
			entries := BuildTimeline(start, milestones, nil, date(tt.today))

			// THEN: due 2026-01-08 with the day-granular status
			require.Len(t, entries, 1)
			assert.Equal(t, "2026-01-08", entries[0].DueDate.String())
			assert.Equal(t, tt.want, entries[0].Status)
		})
	}
}

func TestBuildTimeline_IgnoresTimeOfDay(t *testing.T) {
	due := date("2026-01-08")
	late := generic.DateOf(time.Date(2026, 1, 8, 23, 59, 59, 0, time.UTC))
	assert.Equal(t, TimelineDueToday, DueStatus(due, late))
}

func TestBuildTimeline_CarriesGuidanceAndOrder(t *testing.T) {
	milestones := ResolveMilestones(defaultCatalog(), nil)
	guidance := map[MilestoneKey]string{"welfare_check": "be kind"}

	entries := BuildTimeline(date("2026-01-01"), milestones, guidance, date("2026-01-01"))

	require.Len(t, entries, 3)
	assert.Equal(t, "2026-01-02", entries[0].DueDate.String())
	assert.Equal(t, "2026-01-15", entries[2].DueDate.String())
	assert.Equal(t, "be kind", entries[2].Guidance)
	assert.Empty(t, entries[0].Guidance)
}

// =============================================================================
// LONG-TERM DURATION
// =============================================================================

func TestLongTermDuration(t *testing.T) {
	today := date("2026-03-01")

	t.Run("ongoing counts calendar days to today", func(t *testing.T) {
		c := Case{AbsenceStart: date("2026-02-01")}
		assert.Equal(t, 28, LongTermDuration(c, today))
		assert.True(t, IsLongTerm(LongTermDuration(c, today), 28))
	})

	t.Run("ended counts recorded working days", func(t *testing.T) {
		end := date("2026-02-27")
		c := Case{AbsenceStart: date("2026-01-01"), AbsenceEnd: &end, WorkingDaysLost: intp(5)}
		assert.Equal(t, 5, LongTermDuration(c, today))
	})

	t.Run("ended without working days counts zero", func(t *testing.T) {
		end := date("2026-02-27")
		c := Case{AbsenceStart: date("2026-01-01"), AbsenceEnd: &end}
		assert.Equal(t, 0, LongTermDuration(c, today))
	})

	assert.False(t, IsLongTerm(27, 28))
}

// =============================================================================
// BRADFORD FACTOR
// =============================================================================

func closedCase(start, end string, days int) Case {
	e := date(end)
	return Case{AbsenceStart: date(start), AbsenceEnd: &e, WorkingDaysLost: intp(days)}
}

func TestCalculateBradford_WorkedExamples(t *testing.T) {
	today := date("2026-03-10")
	window := generic.RollingWeeks(today, 52)

	t.Run("2 spells, 10 days = 40 Low", func(t *testing.T) {
		cases := []Case{
			closedCase("2025-06-02", "2025-06-05", 4),
			closedCase("2025-11-03", "2025-11-10", 6),
		}
		r := CalculateBradford("emp-1", cases, window, today, 260)
		assert.Equal(t, 2, r.Spells)
		assert.Equal(t, 10, r.TotalDays)
		assert.Equal(t, 40, r.Score)
		assert.Equal(t, RiskLow, r.RiskLevel)
		assert.Equal(t, "3.85", r.AbsenceRate.StringFixed(2))
	})

	t.Run("3 spells, 20 days = 180 Medium", func(t *testing.T) {
		cases := []Case{
			closedCase("2025-04-01", "2025-04-07", 5),
			closedCase("2025-08-11", "2025-08-18", 6),
			closedCase("2026-01-05", "2026-01-14", 9),
		}
		r := CalculateBradford("emp-1", cases, window, today, 260)
		assert.Equal(t, 3, r.Spells)
		assert.Equal(t, 20, r.TotalDays)
		assert.Equal(t, 180, r.Score)
		assert.Equal(t, RiskMedium, r.RiskLevel)
	})
}

func TestCalculateBradford_Window(t *testing.T) {
	// GIVEN: window [2025-03-11, 2026-03-10]
	today := date("2026-03-10")
	window := generic.RollingWeeks(today, 52)
	require.Equal(t, "2025-03-11", window.Start.String())

	cases := []Case{
		closedCase("2025-03-10", "2025-03-20", 9), // starts the day before the window
		closedCase("2025-03-11", "2025-03-11", 1), // first day of the window
	}

	r := CalculateBradford("emp-1", cases, window, today, 260)
	assert.Equal(t, 1, r.Spells)
	assert.Equal(t, 1, r.TotalDays)
}

func TestSpellDays(t *testing.T) {
	today := date("2026-03-10") // Tuesday

	t.Run("ongoing counts weekdays to today", func(t *testing.T) {
		assert.Equal(t, 2, SpellDays(Case{AbsenceStart: date("2026-03-09")}, today))
	})
	t.Run("ongoing started at the weekend counts at least one", func(t *testing.T) {
		assert.Equal(t, 1, SpellDays(Case{AbsenceStart: date("2026-03-10")}, today))
		assert.Equal(t, 1, SpellDays(Case{AbsenceStart: date("2026-03-14")}, date("2026-03-15")))
	})
	t.Run("recorded working days win", func(t *testing.T) {
		assert.Equal(t, 0, SpellDays(closedCase("2026-03-02", "2026-03-06", 0), today))
	})
	t.Run("ongoing ignores a stored working days value", func(t *testing.T) {
		c := Case{AbsenceStart: date("2026-02-09"), WorkingDaysLost: intp(1)}
		assert.Equal(t, 22, SpellDays(c, today))
	})
	t.Run("ended without recorded days counts weekdays to end", func(t *testing.T) {
		end := date("2026-03-06")
		assert.Equal(t, 5, SpellDays(Case{AbsenceStart: date("2026-03-02"), AbsenceEnd: &end}, today))
	})
}

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLow}, {49, RiskLow},
		{50, RiskMedium}, {199, RiskMedium},
		{200, RiskHigh}, {499, RiskHigh},
		{500, RiskCritical}, {5000, RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskLevelFor(tt.score), "score %d", tt.score)
	}
}

func TestTriggerType_Observed(t *testing.T) {
	r := BradfordResult{Score: 180, Spells: 3, TotalDays: 20}
	assert.Equal(t, 180, TriggerBradford.Observed(r))
	assert.Equal(t, 3, TriggerFrequency.Observed(r))
	assert.Equal(t, 20, TriggerDuration.Observed(r))
}
