/*
service.go - Sickness case operations

PURPOSE:
  Service is the entry point for everything that changes or reads cases.
  Each public method runs in exactly one tenant-scoped unit of work:

    ReportCase        create case + creating transition (action "report")
    Transition        validate against the table, conditional status update,
                      append transition, re-evaluate the long-term flag
    UpdateAbsenceEnd  set end date and working days lost
    GetCase/ListCases/CaseHistory  reads

AUDIT:
  Mutations append AuditRecords through the Tx, so they commit or roll back
  with the change. After the OUTERMOST unit of work commits, the records are
  handed to the configured AuditPublisher. A publish failure is logged and
  never surfaces to the caller; the change is already durable.

CONCURRENCY:
  Transition reads the case with LockCase and then updates it only while the
  status is still the one it read. A concurrent transition that committed
  first makes the update affect zero rows, which is returned as
  generic.ErrConcurrentModification and rolls the whole unit back.

SEE ALSO:
  - workflow.go: the transition table
  - longterm.go: long-term threshold monitor
  - store.go: Store / Tx contract
*/
package sickness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/absence-engine/generic"
)

// Service runs the sickness engine's operations against a Store.
type Service struct {
	store  Store
	clock  generic.Clock
	log    *zap.Logger
	events generic.AuditPublisher
	loc    *time.Location
}

type Option func(*Service)

// WithClock sets the clock used for "today" and for timestamps.
func WithClock(c generic.Clock) Option { return func(s *Service) { s.clock = c } }

// WithLocation sets the time zone whose calendar day is "today". The default
// is UTC.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithPublisher sets where committed audit records are published.
func WithPublisher(p generic.AuditPublisher) Option { return func(s *Service) { s.events = p } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		clock: generic.SystemClock(),
		log:   zap.NewNop(),
		loc:   time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the service's current date.
func (s *Service) Today() generic.TimePoint { return generic.DateIn(s.clock.Now(), s.loc) }

// =============================================================================
// UNIT OF WORK
// =============================================================================

type unitKey struct{}

// unit is a Tx plus the audit records collected while it runs.
type unit struct {
	Tx
	now     time.Time
	loc     *time.Location
	pending []generic.AuditRecord
}

func (u *unit) today() generic.TimePoint { return generic.DateIn(u.now, u.loc) }

func (u *unit) audit(ctx context.Context, rec generic.AuditRecord) error {
	rec.ID = generic.NewID()
	rec.At = u.now
	if err := u.AppendAudit(ctx, rec); err != nil {
		return err
	}
	u.pending = append(u.pending, rec)
	return nil
}

// run executes fn in a unit of work for tenant. Nested calls hand their audit
// records to the enclosing unit, which publishes them after it commits.
func (s *Service) run(ctx context.Context, tenant generic.Tenant, fn func(ctx context.Context, u *unit) error) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	parent, _ := ctx.Value(unitKey{}).(*unit)

	var u *unit
	err := s.store.WithTenant(ctx, tenant, func(ctx context.Context, tx Tx) error {
		u = &unit{Tx: tx, now: s.clock.Now().UTC(), loc: s.loc}
		return fn(context.WithValue(ctx, unitKey{}, u), u)
	})
	if err != nil {
		return err
	}
	if parent != nil {
		parent.pending = append(parent.pending, u.pending...)
		return nil
	}
	s.publish(ctx, u.pending)
	return nil
}

func (s *Service) publish(ctx context.Context, recs []generic.AuditRecord) {
	if s.events == nil || len(recs) == 0 {
		return
	}
	if err := s.events.Publish(ctx, recs); err != nil {
		s.log.Warn("failed to publish audit records",
			zap.Int("count", len(recs)),
			zap.Error(err))
	}
}

// =============================================================================
// CASE LIFECYCLE
// =============================================================================

// ReportCase creates a case in REPORTED for the tenant's organisation and
// records the creating transition.
func (s *Service) ReportCase(ctx context.Context, tenant generic.Tenant, in NewCase, reporter generic.ActorID) (*Case, error) {
	if err := validateNewCase(in); err != nil {
		return nil, err
	}
	if reporter == "" {
		return nil, generic.Invalid("reporter_id", "is required")
	}
	if tenant.OrganisationID == "" {
		return nil, generic.Invalid("organisation_id", "cases belong to an organisation")
	}

	var created *Case
	err := s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		c := Case{
			ID:              CaseID(generic.NewID()),
			OrganisationID:  tenant.OrganisationID,
			EmployeeID:      in.EmployeeID,
			ReporterID:      reporter,
			Status:          StatusReported,
			AbsenceType:     in.AbsenceType,
			AbsenceStart:    in.AbsenceStart,
			AbsenceEnd:      in.AbsenceEnd,
			WorkingDaysLost: in.WorkingDaysLost,
			Notes:           in.Notes,
			CreatedAt:       u.now,
			UpdatedAt:       u.now,
		}
		if c.AbsenceEnd != nil && c.WorkingDaysLost == nil {
			days := generic.WeekdaysBetween(c.AbsenceStart, *c.AbsenceEnd)
			c.WorkingDaysLost = &days
		}
		if err := u.CreateCase(ctx, c); err != nil {
			return err
		}
		if err := u.AppendTransition(ctx, CaseTransition{
			ID:             generic.NewID(),
			CaseID:         c.ID,
			OrganisationID: c.OrganisationID,
			ToStatus:       StatusReported,
			Action:         ActionReport,
			PerformedBy:    reporter,
			At:             u.now,
		}); err != nil {
			return err
		}
		if err := u.audit(ctx, generic.AuditRecord{
			ActorID:        reporter,
			OrganisationID: generic.OrgRef(c.OrganisationID),
			Action:         generic.AuditCaseReported,
			Entity:         "sickness_case",
			EntityID:       string(c.ID),
			Metadata: map[string]any{
				"employee_id":   string(c.EmployeeID),
				"absence_type":  string(c.AbsenceType),
				"absence_start": c.AbsenceStart.String(),
			},
		}); err != nil {
			return err
		}
		if err := s.reconcileLongTerm(ctx, u, &c, reporter); err != nil {
			return err
		}
		created = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("case reported",
		zap.String("case_id", string(created.ID)),
		zap.String("organisation_id", string(created.OrganisationID)))
	return created, nil
}

func validateNewCase(in NewCase) error {
	if in.EmployeeID == "" {
		return generic.Invalid("employee_id", "is required")
	}
	if _, err := ParseAbsenceType(string(in.AbsenceType)); err != nil {
		return err
	}
	if in.AbsenceStart.IsZero() {
		return generic.Invalid("absence_start", "is required")
	}
	if in.AbsenceEnd != nil && in.AbsenceEnd.Before(in.AbsenceStart) {
		return generic.Invalid("absence_end", "%s is before absence start %s", in.AbsenceEnd, in.AbsenceStart)
	}
	if in.WorkingDaysLost != nil {
		if in.AbsenceEnd == nil {
			return generic.Invalid("working_days_lost", "is only recorded once the absence has ended")
		}
		if *in.WorkingDaysLost < 0 {
			return generic.Invalid("working_days_lost", "must not be negative")
		}
	}
	return nil
}

// Transition applies action to the case. The status update and the
// transition row commit together or not at all.
func (s *Service) Transition(ctx context.Context, tenant generic.Tenant, id CaseID, action Action, actor generic.ActorID, notes string) (*Case, error) {
	if !action.Valid() {
		return nil, generic.Invalid("action", "unknown case action %q", action)
	}

	var result *Case
	err := s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		c, err := u.LockCase(ctx, id)
		if err != nil {
			return err
		}
		next, ok := Next(c.Status, action)
		if !ok {
			return &generic.InvalidTransitionError{Action: string(action), Status: string(c.Status)}
		}
		prior := c.Status
		if err := u.UpdateCaseStatus(ctx, c.ID, prior, next, u.now); err != nil {
			return err
		}
		if err := u.AppendTransition(ctx, CaseTransition{
			ID:             generic.NewID(),
			CaseID:         c.ID,
			OrganisationID: c.OrganisationID,
			FromStatus:     &prior,
			ToStatus:       next,
			Action:         action,
			PerformedBy:    actor,
			Notes:          notes,
			At:             u.now,
		}); err != nil {
			return err
		}
		c.Status = next
		c.UpdatedAt = u.now
		if err := u.audit(ctx, generic.AuditRecord{
			ActorID:        actor,
			OrganisationID: generic.OrgRef(c.OrganisationID),
			Action:         generic.AuditCaseTransitioned,
			Entity:         "sickness_case",
			EntityID:       string(c.ID),
			Metadata: map[string]any{
				"action": string(action),
				"from":   string(prior),
				"to":     string(next),
			},
		}); err != nil {
			return err
		}
		if err := s.reconcileLongTerm(ctx, u, c, actor); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("case transitioned",
		zap.String("case_id", string(id)),
		zap.String("action", string(action)),
		zap.String("status", string(result.Status)))
	return result, nil
}

// UpdateAbsenceEnd records the end of the absence. When end is set and
// workingDaysLost is nil it defaults to the weekdays from start to end, both
// included. A nil end reopens the absence and clears working days lost. The
// long-term flag is not re-evaluated here; the next transition does it.
func (s *Service) UpdateAbsenceEnd(ctx context.Context, tenant generic.Tenant, id CaseID, end *generic.TimePoint, workingDaysLost *int, actor generic.ActorID) (*Case, error) {
	if workingDaysLost != nil && *workingDaysLost < 0 {
		return nil, generic.Invalid("working_days_lost", "must not be negative")
	}

	var result *Case
	err := s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		c, err := u.LockCase(ctx, id)
		if err != nil {
			return err
		}
		days := workingDaysLost
		metadata := map[string]any{"absence_end": nil}
		if end == nil {
			days = nil
		} else {
			if end.Before(c.AbsenceStart) {
				return generic.Invalid("absence_end", "%s is before absence start %s", end, c.AbsenceStart)
			}
			if days == nil {
				d := generic.WeekdaysBetween(c.AbsenceStart, *end)
				days = &d
			}
			metadata["absence_end"] = end.String()
			metadata["working_days_lost"] = *days
		}
		if err := u.UpdateAbsence(ctx, c.ID, end, days, u.now); err != nil {
			return err
		}
		c.AbsenceEnd = end
		c.WorkingDaysLost = days
		c.UpdatedAt = u.now
		result = c
		return u.audit(ctx, generic.AuditRecord{
			ActorID:        actor,
			OrganisationID: generic.OrgRef(c.OrganisationID),
			Action:         generic.AuditCaseAbsenceUpdated,
			Entity:         "sickness_case",
			EntityID:       string(c.ID),
			Metadata:       metadata,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetCase(ctx context.Context, tenant generic.Tenant, id CaseID) (*Case, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return WithTenant(ctx, s.store, tenant, func(ctx context.Context, tx Tx) (*Case, error) {
		return tx.GetCase(ctx, id)
	})
}

func (s *Service) ListCases(ctx context.Context, tenant generic.Tenant, filter CaseFilter) ([]Case, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return WithTenant(ctx, s.store, tenant, func(ctx context.Context, tx Tx) ([]Case, error) {
		return tx.ListCases(ctx, filter)
	})
}

// CaseHistory returns the case's transitions oldest first.
func (s *Service) CaseHistory(ctx context.Context, tenant generic.Tenant, id CaseID) ([]CaseTransition, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return WithTenant(ctx, s.store, tenant, func(ctx context.Context, tx Tx) ([]CaseTransition, error) {
		if _, err := tx.GetCase(ctx, id); err != nil {
			return nil, err
		}
		return tx.ListTransitions(ctx, id)
	})
}

// CaseActions returns the actions available for the case's current status.
func (s *Service) CaseActions(ctx context.Context, tenant generic.Tenant, id CaseID) ([]Action, error) {
	c, err := s.GetCase(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	return AvailableActions(c.Status), nil
}
