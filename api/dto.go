/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Calendar dates are "YYYY-MM-DD" strings; timestamps are RFC 3339 UTC.
  Request dates are parsed strictly by the handlers (generic.ParseDate).

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/samber/lo"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// =============================================================================
// CASES
// =============================================================================

// CaseDTO represents a sickness case in API responses.
type CaseDTO struct {
	ID              string    `json:"id"`
	OrganisationID  string    `json:"organisation_id"`
	EmployeeID      string    `json:"employee_id"`
	ReporterID      string    `json:"reporter_id"`
	Status          string    `json:"status"`
	AbsenceType     string    `json:"absence_type"`
	AbsenceStart    string    `json:"absence_start"`
	AbsenceEnd      *string   `json:"absence_end"`
	WorkingDaysLost *int      `json:"working_days_lost"`
	LongTerm        bool      `json:"long_term"`
	Notes           string    `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ReportCaseRequest is the body of POST /api/cases.
type ReportCaseRequest struct {
	EmployeeID      string  `json:"employee_id"`
	AbsenceType     string  `json:"absence_type"`
	AbsenceStart    string  `json:"absence_start"`
	AbsenceEnd      *string `json:"absence_end,omitempty"`
	WorkingDaysLost *int    `json:"working_days_lost,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

// UpdateAbsenceRequest is the body of PUT /api/cases/{id}/absence. A null
// absence_end reopens the absence.
type UpdateAbsenceRequest struct {
	AbsenceEnd      *string `json:"absence_end"`
	WorkingDaysLost *int    `json:"working_days_lost,omitempty"`
}

// TransitionRequest is the body of POST /api/cases/{id}/transitions.
type TransitionRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes,omitempty"`
}

// TransitionDTO is one row of a case's history.
type TransitionDTO struct {
	ID          string    `json:"id"`
	FromStatus  *string   `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	Action      string    `json:"action"`
	PerformedBy string    `json:"performed_by"`
	Notes       string    `json:"notes,omitempty"`
	At          time.Time `json:"at"`
}

// AvailableActionsDTO lists the actions legal from the case's current status.
type AvailableActionsDTO struct {
	Status  string   `json:"status"`
	Actions []string `json:"actions"`
}

// =============================================================================
// MILESTONES
// =============================================================================

// MilestoneDTO is one effective milestone.
type MilestoneDTO struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	DayOffset   int    `json:"day_offset"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	IsDefault   bool   `json:"is_default"`
}

// MilestoneOverrideRequest is the body of PUT /api/milestones/{key}.
type MilestoneOverrideRequest struct {
	Label       string `json:"label"`
	DayOffset   int    `json:"day_offset"`
	Description string `json:"description"`
	Active      *bool  `json:"active,omitempty"`
}

// GuidanceDTO is the body of PUT and the response of GET
// /api/milestones/{key}/guidance.
type GuidanceDTO struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}

// TimelineEntryDTO is one milestone mapped onto a case.
type TimelineEntryDTO struct {
	Milestone MilestoneDTO `json:"milestone"`
	DueDate   string       `json:"due_date"`
	Status    string       `json:"status"`
	Guidance  string       `json:"guidance,omitempty"`
}

// ActionDTO is a materialized milestone action record.
type ActionDTO struct {
	ID           string    `json:"id"`
	CaseID       string    `json:"case_id"`
	MilestoneKey string    `json:"milestone_key"`
	DueDate      string    `json:"due_date"`
	Status       string    `json:"status"`
	CompletedAt  *string   `json:"completed_at"`
	CompletedBy  *string   `json:"completed_by"`
	Notes        *string   `json:"notes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpdateActionRequest is the body of PATCH /api/actions/{id}.
type UpdateActionRequest struct {
	Status      string  `json:"status"`
	Notes       *string `json:"notes,omitempty"`
	CompletedAt string  `json:"completed_at,omitempty"`
}

// =============================================================================
// BRADFORD, TRIGGERS, SETTINGS
// =============================================================================

// BradfordDTO is an employee's Bradford Factor over the rolling window.
type BradfordDTO struct {
	EmployeeID  string `json:"employee_id"`
	Score       int    `json:"score"`
	Spells      int    `json:"spells"`
	TotalDays   int    `json:"total_days"`
	RiskLevel   string `json:"risk_level"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	AbsenceRate string `json:"absence_rate"`
}

// TriggerConfigRequest is the body of PUT /api/triggers/{id}.
type TriggerConfigRequest struct {
	Type      string `json:"type"`
	Threshold int    `json:"threshold"`
	Active    *bool  `json:"active,omitempty"`
}

type TriggerConfigDTO struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Threshold int    `json:"threshold"`
	Active    bool   `json:"active"`
}

type TriggerAlertDTO struct {
	ID              string    `json:"id"`
	TriggerConfigID string    `json:"trigger_config_id"`
	EmployeeID      string    `json:"employee_id"`
	TriggerType     string    `json:"trigger_type"`
	Observed        int       `json:"observed"`
	Threshold       int       `json:"threshold"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// SettingsDTO is the organisation's settings document. On PUT, omitted
// fields take the engine defaults.
type SettingsDTO struct {
	LongTermDays        *int `json:"long_term_days,omitempty"`
	BradfordWindowWeeks *int `json:"bradford_window_weeks,omitempty"`
	WorkingDaysPerYear  *int `json:"working_days_per_year,omitempty"`
}

// LongTermSweepDTO reports how many long-term flags a sweep changed.
type LongTermSweepDTO struct {
	Changed int `json:"changed"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCaseDTO(c *sickness.Case) CaseDTO {
	return CaseDTO{
		ID:              string(c.ID),
		OrganisationID:  string(c.OrganisationID),
		EmployeeID:      string(c.EmployeeID),
		ReporterID:      string(c.ReporterID),
		Status:          string(c.Status),
		AbsenceType:     string(c.AbsenceType),
		AbsenceStart:    c.AbsenceStart.String(),
		AbsenceEnd:      dateString(c.AbsenceEnd),
		WorkingDaysLost: c.WorkingDaysLost,
		LongTerm:        c.LongTerm,
		Notes:           c.Notes,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func toTransitionDTO(tr sickness.CaseTransition, _ int) TransitionDTO {
	dto := TransitionDTO{
		ID:          tr.ID,
		ToStatus:    string(tr.ToStatus),
		Action:      string(tr.Action),
		PerformedBy: string(tr.PerformedBy),
		Notes:       tr.Notes,
		At:          tr.At,
	}
	if tr.FromStatus != nil {
		dto.FromStatus = lo.ToPtr(string(*tr.FromStatus))
	}
	return dto
}

func toMilestoneDTO(m sickness.MilestoneConfig, _ int) MilestoneDTO {
	return MilestoneDTO{
		Key:         string(m.Key),
		Label:       m.Label,
		DayOffset:   m.DayOffset,
		Description: m.Description,
		Active:      m.Active,
		IsDefault:   m.IsDefault,
	}
}

func toTimelineDTO(e sickness.TimelineEntry, i int) TimelineEntryDTO {
	return TimelineEntryDTO{
		Milestone: toMilestoneDTO(e.Milestone, i),
		DueDate:   e.DueDate.String(),
		Status:    string(e.Status),
		Guidance:  e.Guidance,
	}
}

func toActionDTO(a sickness.MilestoneAction, _ int) ActionDTO {
	dto := ActionDTO{
		ID:           string(a.ID),
		CaseID:       string(a.CaseID),
		MilestoneKey: string(a.MilestoneKey),
		DueDate:      a.DueDate.String(),
		Status:       string(a.Status),
		CompletedAt:  dateString(a.CompletedAt),
		Notes:        a.Notes,
		UpdatedAt:    a.UpdatedAt,
	}
	if a.CompletedBy != nil {
		dto.CompletedBy = lo.ToPtr(string(*a.CompletedBy))
	}
	return dto
}

func toBradfordDTO(r sickness.BradfordResult) BradfordDTO {
	return BradfordDTO{
		EmployeeID:  string(r.EmployeeID),
		Score:       r.Score,
		Spells:      r.Spells,
		TotalDays:   r.TotalDays,
		RiskLevel:   string(r.RiskLevel),
		WindowStart: r.Window.Start.String(),
		WindowEnd:   r.Window.End.String(),
		AbsenceRate: r.AbsenceRate.StringFixed(2),
	}
}

func toTriggerConfigDTO(c sickness.TriggerConfig) TriggerConfigDTO {
	return TriggerConfigDTO{ID: c.ID, Type: string(c.Type), Threshold: c.Threshold, Active: c.Active}
}

func toAlertDTO(a sickness.TriggerAlert, _ int) TriggerAlertDTO {
	return TriggerAlertDTO{
		ID:              a.ID,
		TriggerConfigID: a.TriggerConfigID,
		EmployeeID:      string(a.EmployeeID),
		TriggerType:     string(a.TriggerType),
		Observed:        a.Observed,
		Threshold:       a.Threshold,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt,
	}
}

func toSettingsDTO(s sickness.OrganisationSettings) SettingsDTO {
	return SettingsDTO{
		LongTermDays:        lo.ToPtr(s.LongTermDays),
		BradfordWindowWeeks: lo.ToPtr(s.BradfordWindowWeeks),
		WorkingDaysPerYear:  lo.ToPtr(s.WorkingDaysPerYear),
	}
}

func dateString(tp *generic.TimePoint) *string {
	if tp == nil {
		return nil
	}
	return lo.ToPtr(tp.String())
}
