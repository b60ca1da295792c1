package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// =============================================================================
// CASES (sickness.CaseRepository)
// =============================================================================

const caseColumns = `id, organisation_id, employee_id, reporter_id, status, absence_type,
	absence_start, absence_end, working_days_lost, long_term, notes, created_at, updated_at`

func (t *scopedTx) CreateCase(ctx context.Context, c sickness.Case) error {
	if !t.allows(c.OrganisationID) {
		return generic.NotFound("organisation", string(c.OrganisationID))
	}
	notes, err := t.store.sealer.Seal(c.Notes)
	if err != nil {
		return fmt.Errorf("failed to seal case notes: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO sickness_cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID),
		string(c.OrganisationID),
		string(c.EmployeeID),
		string(c.ReporterID),
		string(c.Status),
		string(c.AbsenceType),
		c.AbsenceStart.String(),
		nullDate(c.AbsenceEnd),
		nullInt(c.WorkingDaysLost),
		c.LongTerm,
		notes,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (t *scopedTx) GetCase(ctx context.Context, id sickness.CaseID) (*sickness.Case, error) {
	pred, args := t.scope("")
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM sickness_cases WHERE id = ? AND `+pred,
		append([]any{string(id)}, args...)...)
	c, err := t.scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("case", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

// LockCase is GetCase: the store mutex already serializes units of work.
func (t *scopedTx) LockCase(ctx context.Context, id sickness.CaseID) (*sickness.Case, error) {
	return t.GetCase(ctx, id)
}

func (t *scopedTx) ListCases(ctx context.Context, f sickness.CaseFilter) ([]sickness.Case, error) {
	pred, args := t.scope("")
	where := []string{pred}
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, string(f.EmployeeID))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.LongTermOnly {
		where = append(where, "long_term = 1")
	}
	if f.StartedFrom != nil {
		where = append(where, "absence_start >= ?")
		args = append(args, f.StartedFrom.String())
	}
	if f.StartedTo != nil {
		where = append(where, "absence_start <= ?")
		args = append(args, f.StartedTo.String())
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM sickness_cases WHERE `+strings.Join(where, " AND ")+
			` ORDER BY absence_start DESC, created_at DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var cases []sickness.Case
	for rows.Next() {
		c, err := t.scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

func (t *scopedTx) UpdateCaseStatus(ctx context.Context, id sickness.CaseID, from, to sickness.Status, at time.Time) error {
	pred, args := t.scope("")
	res, err := t.tx.ExecContext(ctx,
		`UPDATE sickness_cases SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND `+pred,
		append([]any{string(to), formatTime(at), string(id), string(from)}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update case status: %w", err)
	}
	return expectOneRow(res, generic.ErrConcurrentModification)
}

func (t *scopedTx) UpdateAbsence(ctx context.Context, id sickness.CaseID, end *generic.TimePoint, workingDaysLost *int, at time.Time) error {
	pred, args := t.scope("")
	res, err := t.tx.ExecContext(ctx,
		`UPDATE sickness_cases SET absence_end = ?, working_days_lost = ?, updated_at = ? WHERE id = ? AND `+pred,
		append([]any{nullDate(end), nullInt(workingDaysLost), formatTime(at), string(id)}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update absence: %w", err)
	}
	return expectOneRow(res, generic.NotFound("case", string(id)))
}

func (t *scopedTx) SetLongTerm(ctx context.Context, id sickness.CaseID, longTerm bool, at time.Time) error {
	pred, args := t.scope("")
	res, err := t.tx.ExecContext(ctx,
		`UPDATE sickness_cases SET long_term = ?, updated_at = ? WHERE id = ? AND `+pred,
		append([]any{longTerm, formatTime(at), string(id)}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to set long-term flag: %w", err)
	}
	return expectOneRow(res, generic.NotFound("case", string(id)))
}

type scanner interface {
	Scan(dest ...any) error
}

func (t *scopedTx) scanCase(row scanner) (*sickness.Case, error) {
	var (
		c                    sickness.Case
		id, org, emp, rep    string
		status, absenceType  string
		start                string
		end                  sql.NullString
		days                 sql.NullInt64
		notes                string
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &org, &emp, &rep, &status, &absenceType,
		&start, &end, &days, &c.LongTerm, &notes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	startDate, err := generic.ParseDate(start)
	if err != nil {
		return nil, fmt.Errorf("corrupt absence_start %q: %w", start, err)
	}
	endDate, err := datePtr(end)
	if err != nil {
		return nil, err
	}
	plain, err := t.store.sealer.Open(notes)
	if err != nil {
		return nil, fmt.Errorf("failed to open case notes: %w", err)
	}

	c.ID = sickness.CaseID(id)
	c.OrganisationID = generic.OrganisationID(org)
	c.EmployeeID = generic.EmployeeID(emp)
	c.ReporterID = generic.ActorID(rep)
	c.Status = sickness.Status(status)
	c.AbsenceType = sickness.AbsenceType(absenceType)
	c.AbsenceStart = startDate
	c.AbsenceEnd = endDate
	c.WorkingDaysLost = intPtr(days)
	c.Notes = plain
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func expectOneRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}

// =============================================================================
// TRANSITIONS (sickness.TransitionLog)
// =============================================================================

func (t *scopedTx) AppendTransition(ctx context.Context, tr sickness.CaseTransition) error {
	if !t.allows(tr.OrganisationID) {
		return generic.NotFound("case", string(tr.CaseID))
	}
	var from sql.NullString
	if tr.FromStatus != nil {
		from = nullString(string(*tr.FromStatus))
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO case_transitions
		(id, case_id, organisation_id, from_status, to_status, action, performed_by, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID,
		string(tr.CaseID),
		string(tr.OrganisationID),
		from,
		string(tr.ToStatus),
		string(tr.Action),
		string(tr.PerformedBy),
		tr.Notes,
		formatTime(tr.At),
	)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

func (t *scopedTx) ListTransitions(ctx context.Context, id sickness.CaseID) ([]sickness.CaseTransition, error) {
	pred, args := t.scope("")
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, case_id, organisation_id, from_status, to_status, action, performed_by, notes, created_at
		FROM case_transitions
		WHERE case_id = ? AND `+pred+`
		ORDER BY created_at, rowid`,
		append([]any{string(id)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var result []sickness.CaseTransition
	for rows.Next() {
		var (
			tr                   sickness.CaseTransition
			caseID, org, to, act string
			from                 sql.NullString
			by, at               string
		)
		if err := rows.Scan(&tr.ID, &caseID, &org, &from, &to, &act, &by, &tr.Notes, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.CaseID = sickness.CaseID(caseID)
		tr.OrganisationID = generic.OrganisationID(org)
		if from.Valid {
			st := sickness.Status(from.String)
			tr.FromStatus = &st
		}
		tr.ToStatus = sickness.Status(to)
		tr.Action = sickness.Action(act)
		tr.PerformedBy = generic.ActorID(by)
		tr.At = parseTime(at)
		result = append(result, tr)
	}
	return result, rows.Err()
}
