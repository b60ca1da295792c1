/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error kinds callers are expected to branch on, in one place.
  Domain code returns the structured errors; callers match them with
  errors.Is against the sentinels or errors.As against the structs.

ERROR CATEGORIES:
  1. NotFound          - row missing OR outside the caller's tenant (indistinguishable)
  2. InvalidTransition - action not legal for the case's current status
  3. Validation        - malformed input shape (dates, status literals)
  4. Concurrency       - a conflicting write committed first
  5. Store errors      - anything else from the persistence layer, wrapped with %w,
                         never reinterpreted as one of the above

USAGE:
  if errors.Is(err, generic.ErrNotFound) {
      // 404
  }
  var it *generic.InvalidTransitionError
  if errors.As(err, &it) {
      log.Printf("cannot %s from %s", it.Action, it.Status)
  }

SEE ALSO:
  - api/handlers.go: maps these to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a row does not exist or belongs to another
	// organisation. Callers cannot tell the two apart.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when an action is not defined for the
	// case's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification is returned when a conditional write finds the
	// row changed under it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTenantMismatch is returned when a nested unit of work asks for a
	// different tenant than the transaction it would join.
	ErrTenantMismatch = errors.New("tenant scope mismatch")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the entity that could not be found.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound is shorthand for &NotFoundError{...}.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InvalidTransitionError names the attempted action and the status it was
// attempted from.
type InvalidTransitionError struct {
	Action string
	Status string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: action %q is not allowed from status %s", e.Action, e.Status)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError describes one malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for &ValidationError{...}.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing (or foreign) row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrTenantMismatch)
}

// IsConflict returns true if the error means the caller lost a race or asked
// for a state change the current state does not allow.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConcurrentModification)
}
