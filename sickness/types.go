// Package sickness implements the sickness-absence case workflow: the case
// state machine, the milestone timeline engine and the Bradford Factor.
// Every operation that touches persisted data runs inside a tenant-scoped
// unit of work obtained from a Store.
package sickness

import (
	"time"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// CASE STATUS
// =============================================================================

type CaseID string

type Status string

const (
	StatusReported        Status = "REPORTED"
	StatusTracking        Status = "TRACKING"
	StatusFitNoteReceived Status = "FIT_NOTE_RECEIVED"
	StatusRTWScheduled    Status = "RTW_SCHEDULED"
	StatusRTWCompleted    Status = "RTW_COMPLETED"
	StatusClosed          Status = "CLOSED"
)

// AllStatuses lists every case status in lifecycle order.
var AllStatuses = []Status{
	StatusReported,
	StatusTracking,
	StatusFitNoteReceived,
	StatusRTWScheduled,
	StatusRTWCompleted,
	StatusClosed,
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus converts a stored or user-supplied literal into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", generic.Invalid("status", "unknown case status %q", s)
	}
	return st, nil
}

// =============================================================================
// CASE ACTIONS
// =============================================================================

type Action string

const (
	ActionAcknowledge    Action = "acknowledge"
	ActionReceiveFitNote Action = "receive_fit_note"
	ActionScheduleRTW    Action = "schedule_rtw"
	ActionCompleteRTW    Action = "complete_rtw"
	ActionCloseCase      Action = "close_case"
	ActionReopen         Action = "reopen"

	// ActionReport is recorded on the creating transition only. It is not
	// part of the transition table and cannot be requested.
	ActionReport Action = "report"
)

// AllActions lists every action a caller may request, in lifecycle order.
var AllActions = []Action{
	ActionAcknowledge,
	ActionReceiveFitNote,
	ActionScheduleRTW,
	ActionCompleteRTW,
	ActionCloseCase,
	ActionReopen,
}

func (a Action) Valid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", generic.Invalid("action", "unknown case action %q", s)
	}
	return a, nil
}

// =============================================================================
// ABSENCE TYPE
// =============================================================================

type AbsenceType string

const (
	AbsenceSickness           AbsenceType = "SICKNESS"
	AbsenceInjury             AbsenceType = "INJURY"
	AbsenceMentalHealth       AbsenceType = "MENTAL_HEALTH"
	AbsenceMedicalAppointment AbsenceType = "MEDICAL_APPOINTMENT"
	AbsenceOther              AbsenceType = "OTHER"
)

func ParseAbsenceType(s string) (AbsenceType, error) {
	switch t := AbsenceType(s); t {
	case AbsenceSickness, AbsenceInjury, AbsenceMentalHealth, AbsenceMedicalAppointment, AbsenceOther:
		return t, nil
	}
	return "", generic.Invalid("absence_type", "unknown absence type %q", s)
}

// =============================================================================
// CASE
// =============================================================================

// Case is one sickness-absence episode. Status changes go through the
// transition table only; the absence end date is an explicit field update.
type Case struct {
	ID              CaseID
	OrganisationID  generic.OrganisationID
	EmployeeID      generic.EmployeeID
	ReporterID      generic.ActorID
	Status          Status
	AbsenceType     AbsenceType
	AbsenceStart    generic.TimePoint
	AbsenceEnd      *generic.TimePoint // nil while the absence is ongoing
	WorkingDaysLost *int               // nil while the absence is ongoing
	LongTerm        bool
	Notes           string // sealed at rest by the store
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Ongoing reports whether the absence has no end date yet.
func (c *Case) Ongoing() bool { return c.AbsenceEnd == nil }

// NewCase is the input for reporting a case.
type NewCase struct {
	EmployeeID      generic.EmployeeID
	AbsenceType     AbsenceType
	AbsenceStart    generic.TimePoint
	AbsenceEnd      *generic.TimePoint
	WorkingDaysLost *int
	Notes           string
}

// CaseFilter narrows ListCases. Zero fields don't filter.
type CaseFilter struct {
	EmployeeID   generic.EmployeeID
	Status       Status
	LongTermOnly bool
	StartedFrom  *generic.TimePoint
	StartedTo    *generic.TimePoint
}

// =============================================================================
// CASE TRANSITION - Append-only history
// =============================================================================

// CaseTransition is one immutable row per status change. FromStatus is nil
// on the creating transition.
type CaseTransition struct {
	ID             string
	CaseID         CaseID
	OrganisationID generic.OrganisationID
	FromStatus     *Status
	ToStatus       Status
	Action         Action
	PerformedBy    generic.ActorID
	Notes          string
	At             time.Time
}

// =============================================================================
// ORGANISATION SETTINGS
// =============================================================================

const (
	DefaultLongTermDays        = 28
	DefaultBradfordWindowWeeks = 52
	DefaultWorkingDaysPerYear  = 260
)

// OrganisationSettings holds the per-organisation thresholds the engine reads.
type OrganisationSettings struct {
	OrganisationID      generic.OrganisationID
	LongTermDays        int
	BradfordWindowWeeks int
	WorkingDaysPerYear  int
}

// DefaultSettings returns the settings used when an organisation has none stored.
func DefaultSettings(org generic.OrganisationID) OrganisationSettings {
	return OrganisationSettings{
		OrganisationID:      org,
		LongTermDays:        DefaultLongTermDays,
		BradfordWindowWeeks: DefaultBradfordWindowWeeks,
		WorkingDaysPerYear:  DefaultWorkingDaysPerYear,
	}
}

func (s OrganisationSettings) Validate() error {
	if s.LongTermDays < 1 {
		return generic.Invalid("long_term_days", "must be at least 1, got %d", s.LongTermDays)
	}
	if s.BradfordWindowWeeks < 1 {
		return generic.Invalid("bradford_window_weeks", "must be at least 1, got %d", s.BradfordWindowWeeks)
	}
	if s.WorkingDaysPerYear < 1 {
		return generic.Invalid("working_days_per_year", "must be at least 1, got %d", s.WorkingDaysPerYear)
	}
	return nil
}
