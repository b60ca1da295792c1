package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// =============================================================================
// CASES (sickness.CaseRepository)
// =============================================================================

type caseRow struct {
	ID              string     `gorm:"column:id;primaryKey"`
	OrganisationID  string     `gorm:"column:organisation_id"`
	EmployeeID      string     `gorm:"column:employee_id"`
	ReporterID      string     `gorm:"column:reporter_id"`
	Status          string     `gorm:"column:status"`
	AbsenceType     string     `gorm:"column:absence_type"`
	AbsenceStart    time.Time  `gorm:"column:absence_start;type:date"`
	AbsenceEnd      *time.Time `gorm:"column:absence_end;type:date"`
	WorkingDaysLost *int       `gorm:"column:working_days_lost"`
	LongTerm        bool       `gorm:"column:long_term"`
	Notes           string     `gorm:"column:notes"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (caseRow) TableName() string { return "sickness_cases" }

func (t *scopedTx) CreateCase(ctx context.Context, c sickness.Case) error {
	if !t.allows(c.OrganisationID) {
		return generic.NotFound("organisation", string(c.OrganisationID))
	}
	notes, err := t.store.sealer.Seal(c.Notes)
	if err != nil {
		return fmt.Errorf("failed to seal case notes: %w", err)
	}
	row := caseRow{
		ID:              string(c.ID),
		OrganisationID:  string(c.OrganisationID),
		EmployeeID:      string(c.EmployeeID),
		ReporterID:      string(c.ReporterID),
		Status:          string(c.Status),
		AbsenceType:     string(c.AbsenceType),
		AbsenceStart:    c.AbsenceStart.Time,
		AbsenceEnd:      dateTime(c.AbsenceEnd),
		WorkingDaysLost: c.WorkingDaysLost,
		LongTerm:        c.LongTerm,
		Notes:           notes,
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
	if err := t.q(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (t *scopedTx) GetCase(ctx context.Context, id sickness.CaseID) (*sickness.Case, error) {
	return t.takeCase(t.q(ctx), id)
}

// LockCase holds a row lock on the case until the unit of work ends.
func (t *scopedTx) LockCase(ctx context.Context, id sickness.CaseID) (*sickness.Case, error) {
	return t.takeCase(t.q(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (t *scopedTx) takeCase(db *gorm.DB, id sickness.CaseID) (*sickness.Case, error) {
	var row caseRow
	err := db.Where("id = ?", string(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, generic.NotFound("case", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return t.toCase(row)
}

func (t *scopedTx) ListCases(ctx context.Context, f sickness.CaseFilter) ([]sickness.Case, error) {
	db := t.q(ctx).Model(&caseRow{})
	if f.EmployeeID != "" {
		db = db.Where("employee_id = ?", string(f.EmployeeID))
	}
	if f.Status != "" {
		db = db.Where("status = ?", string(f.Status))
	}
	if f.LongTermOnly {
		db = db.Where("long_term = ?", true)
	}
	if f.StartedFrom != nil {
		db = db.Where("absence_start >= ?", f.StartedFrom.Time)
	}
	if f.StartedTo != nil {
		db = db.Where("absence_start <= ?", f.StartedTo.Time)
	}

	var rows []caseRow
	if err := db.Order("absence_start DESC, created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	cases := make([]sickness.Case, 0, len(rows))
	for _, row := range rows {
		c, err := t.toCase(row)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, nil
}

func (t *scopedTx) UpdateCaseStatus(ctx context.Context, id sickness.CaseID, from, to sickness.Status, at time.Time) error {
	res := t.q(ctx).Model(&caseRow{}).
		Where("id = ? AND status = ?", string(id), string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": at.UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to update case status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func (t *scopedTx) UpdateAbsence(ctx context.Context, id sickness.CaseID, end *generic.TimePoint, workingDaysLost *int, at time.Time) error {
	var days any
	if workingDaysLost != nil {
		days = *workingDaysLost
	}
	res := t.q(ctx).Model(&caseRow{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{
			"absence_end":       dateValue(end),
			"working_days_lost": days,
			"updated_at":        at.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update absence: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return generic.NotFound("case", string(id))
	}
	return nil
}

func (t *scopedTx) SetLongTerm(ctx context.Context, id sickness.CaseID, longTerm bool, at time.Time) error {
	res := t.q(ctx).Model(&caseRow{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{"long_term": longTerm, "updated_at": at.UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to set long-term flag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return generic.NotFound("case", string(id))
	}
	return nil
}

func (t *scopedTx) toCase(row caseRow) (*sickness.Case, error) {
	plain, err := t.store.sealer.Open(row.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to open case notes: %w", err)
	}
	return &sickness.Case{
		ID:              sickness.CaseID(row.ID),
		OrganisationID:  generic.OrganisationID(row.OrganisationID),
		EmployeeID:      generic.EmployeeID(row.EmployeeID),
		ReporterID:      generic.ActorID(row.ReporterID),
		Status:          sickness.Status(row.Status),
		AbsenceType:     sickness.AbsenceType(row.AbsenceType),
		AbsenceStart:    generic.DateOf(row.AbsenceStart),
		AbsenceEnd:      datePoint(row.AbsenceEnd),
		WorkingDaysLost: row.WorkingDaysLost,
		LongTerm:        row.LongTerm,
		Notes:           plain,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}, nil
}

// =============================================================================
// TRANSITIONS (sickness.TransitionLog)
// =============================================================================

type transitionRow struct {
	Seq            int64     `gorm:"column:seq;->"`
	ID             string    `gorm:"column:id;primaryKey"`
	CaseID         string    `gorm:"column:case_id"`
	OrganisationID string    `gorm:"column:organisation_id"`
	FromStatus     *string   `gorm:"column:from_status"`
	ToStatus       string    `gorm:"column:to_status"`
	Action         string    `gorm:"column:action"`
	PerformedBy    string    `gorm:"column:performed_by"`
	Notes          string    `gorm:"column:notes"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (transitionRow) TableName() string { return "case_transitions" }

func (t *scopedTx) AppendTransition(ctx context.Context, tr sickness.CaseTransition) error {
	if !t.allows(tr.OrganisationID) {
		return generic.NotFound("case", string(tr.CaseID))
	}
	row := transitionRow{
		ID:             tr.ID,
		CaseID:         string(tr.CaseID),
		OrganisationID: string(tr.OrganisationID),
		ToStatus:       string(tr.ToStatus),
		Action:         string(tr.Action),
		PerformedBy:    string(tr.PerformedBy),
		Notes:          tr.Notes,
		CreatedAt:      tr.At.UTC(),
	}
	if tr.FromStatus != nil {
		from := string(*tr.FromStatus)
		row.FromStatus = &from
	}
	if err := t.q(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

func (t *scopedTx) ListTransitions(ctx context.Context, id sickness.CaseID) ([]sickness.CaseTransition, error) {
	var rows []transitionRow
	if err := t.q(ctx).Where("case_id = ?", string(id)).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	result := make([]sickness.CaseTransition, 0, len(rows))
	for _, row := range rows {
		tr := sickness.CaseTransition{
			ID:             row.ID,
			CaseID:         sickness.CaseID(row.CaseID),
			OrganisationID: generic.OrganisationID(row.OrganisationID),
			ToStatus:       sickness.Status(row.ToStatus),
			Action:         sickness.Action(row.Action),
			PerformedBy:    generic.ActorID(row.PerformedBy),
			Notes:          row.Notes,
			At:             row.CreatedAt.UTC(),
		}
		if row.FromStatus != nil {
			from := sickness.Status(*row.FromStatus)
			tr.FromStatus = &from
		}
		result = append(result, tr)
	}
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func dateTime(tp *generic.TimePoint) *time.Time {
	if tp == nil {
		return nil
	}
	t := tp.Time
	return &t
}

// dateValue is dateTime for Updates maps, where NULL must be an untyped nil.
func dateValue(tp *generic.TimePoint) any {
	if tp == nil {
		return nil
	}
	return tp.Time
}

func datePoint(t *time.Time) *generic.TimePoint {
	if t == nil {
		return nil
	}
	tp := generic.DateOf(*t)
	return &tp
}

func orgColumn(org *generic.OrganisationID) *string {
	if org == nil {
		return nil
	}
	s := string(*org)
	return &s
}

func orgPtr(s *string) *generic.OrganisationID {
	if s == nil {
		return nil
	}
	org := generic.OrganisationID(*s)
	return &org
}
