package sickness

import (
	"context"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// CASE TIMELINE
// =============================================================================

type TimelineStatus string

const (
	TimelineUpcoming TimelineStatus = "UPCOMING"
	TimelineDueToday TimelineStatus = "DUE_TODAY"
	TimelineOverdue  TimelineStatus = "OVERDUE"
)

// TimelineEntry is one effective milestone mapped onto a case.
type TimelineEntry struct {
	Milestone MilestoneConfig
	DueDate   generic.TimePoint
	Status    TimelineStatus
	Guidance  string
}

// DueStatus compares a due date with today at day granularity.
func DueStatus(due, today generic.TimePoint) TimelineStatus {
	switch {
	case due.Before(today):
		return TimelineOverdue
	case due.Equal(today):
		return TimelineDueToday
	default:
		return TimelineUpcoming
	}
}

// BuildTimeline maps milestones onto an absence that started on start. The
// entries keep the order of milestones. guidance may be nil.
func BuildTimeline(start generic.TimePoint, milestones []MilestoneConfig, guidance map[MilestoneKey]string, today generic.TimePoint) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(milestones))
	for _, m := range milestones {
		due := start.AddDays(m.DayOffset)
		entries = append(entries, TimelineEntry{
			Milestone: m,
			DueDate:   due,
			Status:    DueStatus(due, today),
			Guidance:  guidance[m.Key],
		})
	}
	return entries
}

// caseTimeline builds the timeline of c inside tx, as of today.
func caseTimeline(ctx context.Context, tx Tx, c *Case, today generic.TimePoint) ([]TimelineEntry, error) {
	milestones, err := effectiveMilestones(ctx, tx, c.OrganisationID)
	if err != nil {
		return nil, err
	}
	guidance, err := effectiveGuidance(ctx, tx, c.OrganisationID)
	if err != nil {
		return nil, err
	}
	return BuildTimeline(c.AbsenceStart, milestones, guidance, today), nil
}

// CaseTimeline returns the case's timeline computed against the current date.
// It is recomputed on every call.
func (s *Service) CaseTimeline(ctx context.Context, tenant generic.Tenant, id CaseID) ([]TimelineEntry, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return WithTenant(ctx, s.store, tenant, func(ctx context.Context, tx Tx) ([]TimelineEntry, error) {
		c, err := tx.GetCase(ctx, id)
		if err != nil {
			return nil, err
		}
		return caseTimeline(ctx, tx, c, s.Today())
	})
}
