/*
actions.go - Milestone action tracker

PURPOSE:
  The timeline says WHEN a milestone is due; an action record tracks WHAT
  the case handler did about it. There is one record per (case, milestone
  key), created lazily the first time the case's actions are read.

MATERIALIZATION:
  GetOrCreateActions:
    1. list existing records -> non-empty: return them unchanged
    2. build the timeline as of today
    3. insert one PENDING record per entry, skipping any (case, key) pair
       that already exists (a concurrent first call may have won)
    4. re-read and return

  The unique (case, milestone key) index in the store is what prevents
  duplicates; the existence check only avoids needless work.

MANUAL STATUS:
  PENDING -> IN_PROGRESS -> COMPLETED, in any order, set by a person. It is
  independent of the timeline's date-derived status. Moving to PENDING is a
  reset: completion date, completer and notes are cleared whatever the
  caller supplied.
*/
package sickness

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/absence-engine/generic"
)

type ActionID string

type ActionStatus string

const (
	ActionPending    ActionStatus = "PENDING"
	ActionInProgress ActionStatus = "IN_PROGRESS"
	ActionCompleted  ActionStatus = "COMPLETED"
)

func ParseActionStatus(s string) (ActionStatus, error) {
	switch st := ActionStatus(s); st {
	case ActionPending, ActionInProgress, ActionCompleted:
		return st, nil
	}
	return "", generic.Invalid("status", "unknown action status %q", s)
}

// MilestoneAction is the persisted tracking record of one milestone of one case.
type MilestoneAction struct {
	ID             ActionID
	CaseID         CaseID
	OrganisationID generic.OrganisationID
	MilestoneKey   MilestoneKey
	DueDate        generic.TimePoint
	Status         ActionStatus
	CompletedAt    *generic.TimePoint
	CompletedBy    *generic.ActorID
	Notes          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpdateAction is the raw input of UpdateActionStatus. CompletedAt is a
// YYYY-MM-DD date or empty.
type UpdateAction struct {
	Status      string
	Notes       *string
	CompletedAt string
}

// GetOrCreateActions returns the case's action records, creating one PENDING
// record per timeline entry on first access.
func (s *Service) GetOrCreateActions(ctx context.Context, tenant generic.Tenant, id CaseID) ([]MilestoneAction, error) {
	var actions []MilestoneAction
	err := s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		c, err := u.GetCase(ctx, id)
		if err != nil {
			return err
		}
		existing, err := u.ListActions(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			actions = existing
			return nil
		}

		timeline, err := caseTimeline(ctx, u, c, u.today())
		if err != nil {
			return err
		}
		if len(timeline) == 0 {
			actions = []MilestoneAction{}
			return nil
		}
		rows := lo.Map(timeline, func(e TimelineEntry, _ int) MilestoneAction {
			return MilestoneAction{
				ID:             ActionID(generic.NewID()),
				CaseID:         c.ID,
				OrganisationID: c.OrganisationID,
				MilestoneKey:   e.Milestone.Key,
				DueDate:        e.DueDate,
				Status:         ActionPending,
				CreatedAt:      u.now,
				UpdatedAt:      u.now,
			}
		})
		inserted, err := u.InsertActions(ctx, rows)
		if err != nil {
			return err
		}
		if inserted > 0 {
			s.log.Debug("milestone actions materialized",
				zap.String("case_id", string(c.ID)),
				zap.Int("count", inserted))
			if err := u.audit(ctx, generic.AuditRecord{
				ActorID:        generic.SystemActor,
				OrganisationID: generic.OrgRef(c.OrganisationID),
				Action:         generic.AuditActionsMaterialized,
				Entity:         "sickness_case",
				EntityID:       string(c.ID),
				Metadata:       map[string]any{"count": inserted},
			}); err != nil {
				return err
			}
		}
		actions, err = u.ListActions(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}

// UpdateActionStatus sets the manual status of an action record. Input is
// validated completely before anything is written.
func (s *Service) UpdateActionStatus(ctx context.Context, tenant generic.Tenant, id ActionID, in UpdateAction, actor generic.ActorID) (*MilestoneAction, error) {
	status, err := ParseActionStatus(in.Status)
	if err != nil {
		return nil, err
	}
	var completedAt *generic.TimePoint
	if in.CompletedAt != "" {
		d, err := generic.ParseDate(in.CompletedAt)
		if err != nil {
			var ve *generic.ValidationError
			if errors.As(err, &ve) {
				return nil, generic.Invalid("completed_at", "%s", ve.Message)
			}
			return nil, err
		}
		completedAt = &d
	}

	var result *MilestoneAction
	err = s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		a, err := u.GetAction(ctx, id)
		if err != nil {
			return err
		}
		prior := a.Status
		a.Status = status
		a.UpdatedAt = u.now
		switch status {
		case ActionPending:
			a.CompletedAt = nil
			a.CompletedBy = nil
			a.Notes = nil
		default:
			if completedAt == nil && status == ActionCompleted {
				completedAt = u.today().Ptr()
			}
			a.CompletedAt = completedAt
			a.CompletedBy = &actor
			a.Notes = in.Notes
		}
		if err := u.UpdateAction(ctx, *a); err != nil {
			return err
		}
		result = a
		return u.audit(ctx, generic.AuditRecord{
			ActorID:        actor,
			OrganisationID: generic.OrgRef(a.OrganisationID),
			Action:         generic.AuditActionStatusChanged,
			Entity:         "milestone_action",
			EntityID:       string(a.ID),
			Metadata: map[string]any{
				"milestone_key": string(a.MilestoneKey),
				"from":          string(prior),
				"to":            string(status),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
