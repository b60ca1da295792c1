/*
Package generic provides the domain-agnostic building blocks of the absence engine.

PURPOSE:
  Everything in here is shared by the sickness domain, the stores and the API
  without knowing what a sickness case is: identifiers, calendar-day time
  arithmetic, the error taxonomy, the tenant scope that confines every
  read/write to one organisation, and the audit record shape.

KEY CONCEPTS IN THIS FILE (types.go):
  - OrganisationID / EmployeeID / ActorID: type-safe identifiers
  - NewID: random identifiers for rows created by the engine

DESIGN PRINCIPLES:
  1. Type Safety: an EmployeeID can't be passed where an OrganisationID is expected
  2. No ambient state: tenant scope is a value threaded through calls (tenant.go)
  3. Calendar days: all dates are day-granular (time.go)

SEE ALSO:
  - tenant.go: Tenant and the active scope carried in a context
  - errors.go: NotFound / InvalidTransition / Validation errors
  - time.go: TimePoint, Clock, weekday counting
*/
package generic

import (
	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrganisationID string
type EmployeeID string
type ActorID string

// SystemActor is used for writes that are not attributable to a user
// (catalog seeding, migrations).
const SystemActor ActorID = "system"

// NewID returns a new random identifier.
func NewID() string {
	return uuid.NewString()
}

// ParseID reports whether s is a well-formed identifier produced by NewID.
func ParseID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
