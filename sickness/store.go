/*
store.go - Persistence contract for the sickness engine

PURPOSE:
  The engine never talks to a database directly. Every operation asks the
  Store for a tenant-scoped unit of work and runs against the Tx it hands
  back. The Tx sees only rows of the tenant's organisation (plus the shared
  default milestone catalog); a platform administrator sees everything.

UNIT OF WORK:
  WithTenant runs fn inside one transaction:
    - fn returns nil   -> commit
    - fn returns error -> rollback, the error is returned unchanged
    - fn panics        -> rollback, the panic is re-raised
  A WithTenant call made with a ctx that already carries an open unit of work
  for the SAME tenant joins it: no second transaction, no second commit. A
  different tenant fails with generic.ErrTenantMismatch.

NOT FOUND:
  Getters return a *generic.NotFoundError both for missing rows and for rows
  of another organisation. Callers cannot tell the two apart.

IMPLEMENTATIONS:
  - store/sqlite:   embedded, organisation predicate held by the Tx
  - store/postgres: row-level security driven by transaction-local settings
*/
package sickness

import (
	"context"
	"time"

	"github.com/warp/absence-engine/generic"
)

// Store opens tenant-scoped units of work.
type Store interface {
	WithTenant(ctx context.Context, tenant generic.Tenant, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of the database inside one unit of work.
type Tx interface {
	Tenant() generic.Tenant

	CaseRepository
	TransitionLog
	MilestoneRepository
	ActionRepository
	SettingsRepository
	TriggerRepository
	generic.AuditLog
}

// CaseRepository persists cases.
type CaseRepository interface {
	CreateCase(ctx context.Context, c Case) error
	GetCase(ctx context.Context, id CaseID) (*Case, error)
	// LockCase reads the case and holds a row lock on it until the unit of
	// work ends, where the database supports one.
	LockCase(ctx context.Context, id CaseID) (*Case, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]Case, error)

	// UpdateCaseStatus moves the case from -> to only if its status is still
	// from. Zero affected rows is generic.ErrConcurrentModification.
	UpdateCaseStatus(ctx context.Context, id CaseID, from, to Status, at time.Time) error
	UpdateAbsence(ctx context.Context, id CaseID, end *generic.TimePoint, workingDaysLost *int, at time.Time) error
	SetLongTerm(ctx context.Context, id CaseID, longTerm bool, at time.Time) error
}

// TransitionLog is the append-only case history. There is no update or delete.
type TransitionLog interface {
	AppendTransition(ctx context.Context, t CaseTransition) error
	// ListTransitions returns the case's transitions oldest first.
	ListTransitions(ctx context.Context, id CaseID) ([]CaseTransition, error)
}

// MilestoneRepository persists the default catalog and per-organisation
// overrides of milestones and their guidance. Default rows have no
// organisation and are writable by platform administrators only.
type MilestoneRepository interface {
	DefaultMilestones(ctx context.Context) ([]MilestoneConfig, error)
	MilestoneOverrides(ctx context.Context, org generic.OrganisationID) ([]MilestoneConfig, error)
	UpsertDefaultMilestone(ctx context.Context, m MilestoneConfig, at time.Time) error
	UpsertMilestoneOverride(ctx context.Context, m MilestoneConfig, at time.Time) error
	DeleteMilestoneOverride(ctx context.Context, org generic.OrganisationID, key MilestoneKey) (bool, error)

	DefaultGuidance(ctx context.Context) ([]Guidance, error)
	GuidanceOverrides(ctx context.Context, org generic.OrganisationID) ([]Guidance, error)
	UpsertDefaultGuidance(ctx context.Context, g Guidance, at time.Time) error
	UpsertGuidanceOverride(ctx context.Context, g Guidance, at time.Time) error
	DeleteGuidanceOverride(ctx context.Context, org generic.OrganisationID, key MilestoneKey) (bool, error)
}

// ActionRepository persists materialized milestone actions.
type ActionRepository interface {
	// ListActions returns the case's actions ordered by due date then key.
	ListActions(ctx context.Context, id CaseID) ([]MilestoneAction, error)
	// InsertActions inserts the rows, silently skipping any whose
	// (case, milestone key) pair already exists. Returns the number inserted.
	InsertActions(ctx context.Context, actions []MilestoneAction) (int, error)
	GetAction(ctx context.Context, id ActionID) (*MilestoneAction, error)
	UpdateAction(ctx context.Context, a MilestoneAction) error
}

// SettingsRepository persists organisation settings.
type SettingsRepository interface {
	// Settings returns nil, nil when the organisation has none stored.
	Settings(ctx context.Context, org generic.OrganisationID) (*OrganisationSettings, error)
	SaveSettings(ctx context.Context, s OrganisationSettings, at time.Time) error
}

// TriggerRepository persists absence trigger configs and their alerts.
type TriggerRepository interface {
	TriggerConfigs(ctx context.Context, org generic.OrganisationID) ([]TriggerConfig, error)
	SaveTriggerConfig(ctx context.Context, c TriggerConfig, at time.Time) error
	// InsertAlert inserts the alert unless an OPEN alert exists for the same
	// (config, employee). Reports whether a row was inserted.
	InsertAlert(ctx context.Context, a TriggerAlert) (bool, error)
	ListAlerts(ctx context.Context, employee generic.EmployeeID) ([]TriggerAlert, error)
}

// =============================================================================
// TYPED UNIT OF WORK
// =============================================================================

// WithTenant runs fn in a tenant-scoped unit of work and returns its result.
// On error the zero T is returned and the unit of work is rolled back.
func WithTenant[T any](ctx context.Context, store Store, tenant generic.Tenant, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var result T
	err := store.WithTenant(ctx, tenant, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
