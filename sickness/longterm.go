package sickness

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// LONG-TERM THRESHOLD MONITOR
// =============================================================================

// LongTermDuration is the duration compared against the long-term threshold.
// A closed absence counts its recorded working days lost (0 when unset); an
// ongoing absence counts calendar days from start to today.
func LongTermDuration(c Case, today generic.TimePoint) int {
	if c.AbsenceEnd != nil {
		if c.WorkingDaysLost == nil {
			return 0
		}
		return *c.WorkingDaysLost
	}
	return generic.DaysBetween(c.AbsenceStart, today)
}

// IsLongTerm reports whether a case of the given duration should carry the flag.
func IsLongTerm(duration, thresholdDays int) bool {
	return duration >= thresholdDays
}

// reconcileLongTerm flips the case's long-term flag to match its current
// duration and persists it when it changes. The flag moves in both directions.
func (s *Service) reconcileLongTerm(ctx context.Context, u *unit, c *Case, actor generic.ActorID) error {
	settings, err := settingsFor(ctx, u, c.OrganisationID)
	if err != nil {
		return err
	}
	duration := LongTermDuration(*c, u.today())
	want := IsLongTerm(duration, settings.LongTermDays)
	if want == c.LongTerm {
		return nil
	}
	if err := u.SetLongTerm(ctx, c.ID, want, u.now); err != nil {
		return err
	}
	c.LongTerm = want
	c.UpdatedAt = u.now

	s.log.Debug("long-term flag changed",
		zap.String("case_id", string(c.ID)),
		zap.Bool("long_term", want),
		zap.Int("duration", duration),
		zap.Int("threshold", settings.LongTermDays))

	return u.audit(ctx, generic.AuditRecord{
		ActorID:        actor,
		OrganisationID: generic.OrgRef(c.OrganisationID),
		Action:         generic.AuditCaseLongTermChanged,
		Entity:         "sickness_case",
		EntityID:       string(c.ID),
		Metadata: map[string]any{
			"long_term": want,
			"duration":  duration,
			"threshold": settings.LongTermDays,
		},
	})
}

// SweepLongTerm re-evaluates the flag of every case visible to tenant that
// is not closed. Ongoing absences cross the threshold as days pass without
// any call touching them. Returns the number of flags that changed.
func (s *Service) SweepLongTerm(ctx context.Context, tenant generic.Tenant) (int, error) {
	changed := 0
	err := s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		cases, err := u.ListCases(ctx, CaseFilter{})
		if err != nil {
			return err
		}
		for i := range cases {
			c := &cases[i]
			if c.Status == StatusClosed {
				continue
			}
			before := c.LongTerm
			if err := s.reconcileLongTerm(ctx, u, c, generic.SystemActor); err != nil {
				return err
			}
			if c.LongTerm != before {
				changed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}
