/*
store.go - Audit trail interfaces

PURPOSE:
  Every state change the engine makes is recorded as an AuditRecord: who did
  what to which entity, in which organisation. Records are written in two
  steps:

    1. AuditLog.Append runs INSIDE the tenant transaction of the change, so a
       rolled-back change leaves no audit row behind.
    2. AuditPublisher.Publish runs AFTER commit with the records of that unit
       of work, for downstream consumers (Kafka, tests).

APPEND-ONLY CONTRACT:
  Like the case transition log, the audit log has no Update or Delete.

IMPLEMENTATIONS:
  - store/sqlite, store/postgres: AuditLog backed by the audit_log table
  - generic/store/memory.go: in-memory AuditLog + AuditPublisher for tests
  - events/kafka.go: AuditPublisher writing to a Kafka topic

SEE ALSO:
  - sickness/service.go: collects records per unit of work and publishes them
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT RECORD
// =============================================================================

type AuditAction string

const (
	AuditCaseReported         AuditAction = "case_reported"
	AuditCaseTransitioned     AuditAction = "case_transitioned"
	AuditCaseAbsenceUpdated   AuditAction = "case_absence_updated"
	AuditCaseLongTermChanged  AuditAction = "case_long_term_changed"
	AuditActionsMaterialized  AuditAction = "milestone_actions_materialized"
	AuditActionStatusChanged  AuditAction = "milestone_action_status_changed"
	AuditMilestoneOverridden  AuditAction = "milestone_override_set"
	AuditMilestoneReverted    AuditAction = "milestone_override_deleted"
	AuditGuidanceOverridden   AuditAction = "milestone_guidance_set"
	AuditGuidanceReverted     AuditAction = "milestone_guidance_deleted"
	AuditSettingsChanged      AuditAction = "settings_changed"
	AuditTriggerConfigChanged AuditAction = "trigger_config_changed"
	AuditTriggerFired         AuditAction = "trigger_fired"
	AuditCatalogSeeded        AuditAction = "milestone_catalog_seeded"
)

// AuditRecord records who did what when.
type AuditRecord struct {
	ID             string
	ActorID        ActorID
	OrganisationID *OrganisationID // nil for system-wide changes (default catalog)
	Action         AuditAction
	Entity         string
	EntityID       string
	Metadata       map[string]any
	At             time.Time
}

// AuditLog stores audit records inside the caller's transaction.
type AuditLog interface {
	AppendAudit(ctx context.Context, rec AuditRecord) error
}

// AuditPublisher receives the audit records of a committed unit of work.
// Publishing is best-effort: the change is already committed.
type AuditPublisher interface {
	Publish(ctx context.Context, recs []AuditRecord) error
}

// OrgRef returns a pointer to org, or nil for the empty organisation.
func OrgRef(org OrganisationID) *OrganisationID {
	if org == "" {
		return nil
	}
	return &org
}
