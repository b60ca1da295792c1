package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// =============================================================================
// MILESTONE ACTIONS (sickness.ActionRepository)
// =============================================================================

const actionColumns = `id, case_id, organisation_id, milestone_key, due_date, status,
	completed_at, completed_by, notes, created_at, updated_at`

func (t *scopedTx) ListActions(ctx context.Context, id sickness.CaseID) ([]sickness.MilestoneAction, error) {
	pred, args := t.scope("")
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM milestone_actions
		 WHERE case_id = ? AND `+pred+`
		 ORDER BY due_date, milestone_key`,
		append([]any{string(id)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var result []sickness.MilestoneAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// InsertActions inserts with ON CONFLICT DO NOTHING on (case_id, milestone_key).
func (t *scopedTx) InsertActions(ctx context.Context, actions []sickness.MilestoneAction) (int, error) {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO milestone_actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_id, milestone_key) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare action insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, a := range actions {
		if !t.allows(a.OrganisationID) {
			return 0, generic.NotFound("case", string(a.CaseID))
		}
		res, err := stmt.ExecContext(ctx,
			string(a.ID),
			string(a.CaseID),
			string(a.OrganisationID),
			string(a.MilestoneKey),
			a.DueDate.String(),
			string(a.Status),
			nullDate(a.CompletedAt),
			nullActor(a.CompletedBy),
			nullStringPtr(a.Notes),
			formatTime(a.CreatedAt),
			formatTime(a.UpdatedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert action: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (t *scopedTx) GetAction(ctx context.Context, id sickness.ActionID) (*sickness.MilestoneAction, error) {
	pred, args := t.scope("")
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM milestone_actions WHERE id = ? AND `+pred,
		append([]any{string(id)}, args...)...)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("action", string(id))
	}
	return a, err
}

func (t *scopedTx) UpdateAction(ctx context.Context, a sickness.MilestoneAction) error {
	pred, args := t.scope("")
	res, err := t.tx.ExecContext(ctx,
		`UPDATE milestone_actions
		 SET status = ?, completed_at = ?, completed_by = ?, notes = ?, updated_at = ?
		 WHERE id = ? AND `+pred,
		append([]any{
			string(a.Status),
			nullDate(a.CompletedAt),
			nullActor(a.CompletedBy),
			nullStringPtr(a.Notes),
			formatTime(a.UpdatedAt),
			string(a.ID),
		}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	return expectOneRow(res, generic.NotFound("action", string(a.ID)))
}

func scanAction(row scanner) (*sickness.MilestoneAction, error) {
	var (
		a                        sickness.MilestoneAction
		id, caseID, org, key     string
		due, status              string
		completedAt, completedBy sql.NullString
		notes                    sql.NullString
		createdAt, updatedAt     string
	)
	err := row.Scan(&id, &caseID, &org, &key, &due, &status,
		&completedAt, &completedBy, &notes, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan action: %w", err)
	}
	dueDate, err := generic.ParseDate(due)
	if err != nil {
		return nil, fmt.Errorf("corrupt due_date %q: %w", due, err)
	}
	completed, err := datePtr(completedAt)
	if err != nil {
		return nil, err
	}

	a.ID = sickness.ActionID(id)
	a.CaseID = sickness.CaseID(caseID)
	a.OrganisationID = generic.OrganisationID(org)
	a.MilestoneKey = sickness.MilestoneKey(key)
	a.DueDate = dueDate
	a.Status = sickness.ActionStatus(status)
	a.CompletedAt = completed
	if completedBy.Valid {
		by := generic.ActorID(completedBy.String)
		a.CompletedBy = &by
	}
	if notes.Valid {
		n := notes.String
		a.Notes = &n
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func nullActor(a *generic.ActorID) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*a), Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// =============================================================================
// ORGANISATION SETTINGS (sickness.SettingsRepository)
// =============================================================================

func (t *scopedTx) Settings(ctx context.Context, org generic.OrganisationID) (*sickness.OrganisationSettings, error) {
	pred, args := t.scope("")
	var raw string
	err := t.tx.QueryRowContext(ctx,
		`SELECT settings_json FROM organisation_settings WHERE organisation_id = ? AND `+pred,
		append([]any{string(org)}, args...)...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	s, err := factory.ParseSettings(org, []byte(raw))
	if err != nil {
		return nil, fmt.Errorf("stored settings of %s: %w", org, err)
	}
	return &s, nil
}

func (t *scopedTx) SaveSettings(ctx context.Context, s sickness.OrganisationSettings, at time.Time) error {
	if !t.allows(s.OrganisationID) {
		return generic.NotFound("organisation", string(s.OrganisationID))
	}
	raw, err := factory.EncodeSettings(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO organisation_settings (organisation_id, settings_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(organisation_id) DO UPDATE SET
			settings_json = excluded.settings_json,
			updated_at = excluded.updated_at`,
		string(s.OrganisationID), string(raw), formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// =============================================================================
// TRIGGERS (sickness.TriggerRepository)
// =============================================================================

func (t *scopedTx) TriggerConfigs(ctx context.Context, org generic.OrganisationID) ([]sickness.TriggerConfig, error) {
	pred, args := t.scope("")
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, organisation_id, trigger_type, threshold, active FROM trigger_configs
		 WHERE organisation_id = ? AND `+pred+` ORDER BY id`,
		append([]any{string(org)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trigger configs: %w", err)
	}
	defer rows.Close()

	var result []sickness.TriggerConfig
	for rows.Next() {
		var (
			c          sickness.TriggerConfig
			orgID, typ string
		)
		if err := rows.Scan(&c.ID, &orgID, &typ, &c.Threshold, &c.Active); err != nil {
			return nil, fmt.Errorf("failed to scan trigger config: %w", err)
		}
		c.OrganisationID = generic.OrganisationID(orgID)
		c.Type = sickness.TriggerType(typ)
		result = append(result, c)
	}
	return result, rows.Err()
}

// SaveTriggerConfig upserts by id. A config id owned by another organisation
// is reported as not found.
func (t *scopedTx) SaveTriggerConfig(ctx context.Context, c sickness.TriggerConfig, at time.Time) error {
	if !t.allows(c.OrganisationID) {
		return generic.NotFound("organisation", string(c.OrganisationID))
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO trigger_configs (id, organisation_id, trigger_type, threshold, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trigger_type = excluded.trigger_type,
			threshold = excluded.threshold,
			active = excluded.active,
			updated_at = excluded.updated_at
		WHERE trigger_configs.organisation_id = excluded.organisation_id`,
		c.ID, string(c.OrganisationID), string(c.Type), c.Threshold, c.Active, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to save trigger config: %w", err)
	}
	return expectOneRow(res, generic.NotFound("trigger config", c.ID))
}

func (t *scopedTx) InsertAlert(ctx context.Context, a sickness.TriggerAlert) (bool, error) {
	if !t.allows(a.OrganisationID) {
		return false, generic.NotFound("organisation", string(a.OrganisationID))
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO trigger_alerts
		(id, trigger_config_id, organisation_id, employee_id, trigger_type, observed, threshold, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		a.ID, a.TriggerConfigID, string(a.OrganisationID), string(a.EmployeeID),
		string(a.TriggerType), a.Observed, a.Threshold, string(a.Status), formatTime(a.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (t *scopedTx) ListAlerts(ctx context.Context, employee generic.EmployeeID) ([]sickness.TriggerAlert, error) {
	pred, args := t.scope("")
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, trigger_config_id, organisation_id, employee_id, trigger_type, observed, threshold, status, created_at
		 FROM trigger_alerts WHERE employee_id = ? AND `+pred+` ORDER BY created_at, id`,
		append([]any{string(employee)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var result []sickness.TriggerAlert
	for rows.Next() {
		var (
			a                         sickness.TriggerAlert
			org, emp, typ, status, at string
		)
		if err := rows.Scan(&a.ID, &a.TriggerConfigID, &org, &emp, &typ, &a.Observed, &a.Threshold, &status, &at); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.OrganisationID = generic.OrganisationID(org)
		a.EmployeeID = generic.EmployeeID(emp)
		a.TriggerType = sickness.TriggerType(typ)
		a.Status = sickness.AlertStatus(status)
		a.CreatedAt = parseTime(at)
		result = append(result, a)
	}
	return result, rows.Err()
}

// =============================================================================
// AUDIT LOG (generic.AuditLog)
// =============================================================================

func (t *scopedTx) AppendAudit(ctx context.Context, rec generic.AuditRecord) error {
	var metadata sql.NullString
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = nullString(string(raw))
	}
	var org sql.NullString
	if rec.OrganisationID != nil {
		org = nullString(string(*rec.OrganisationID))
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, organisation_id, action, entity, entity_id, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.ActorID), org, string(rec.Action), rec.Entity,
		nullString(rec.EntityID), metadata, formatTime(rec.At))
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// AuditTrail returns the audit records of org, oldest first.
func (s *Store) AuditTrail(ctx context.Context, tenant generic.Tenant, org generic.OrganisationID) ([]generic.AuditRecord, error) {
	var result []generic.AuditRecord
	err := s.WithTenant(ctx, tenant, func(ctx context.Context, tx sickness.Tx) error {
		t := tx.(*scopedTx)
		pred, args := t.scope("")
		rows, err := t.tx.QueryContext(ctx,
			`SELECT id, actor_id, organisation_id, action, entity, entity_id, metadata_json, created_at
			 FROM audit_log WHERE organisation_id = ? AND `+pred+` ORDER BY created_at, rowid`,
			append([]any{string(org)}, args...)...)
		if err != nil {
			return fmt.Errorf("failed to query audit log: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				rec                 generic.AuditRecord
				actor, action, at   string
				orgID, entityID, md sql.NullString
			)
			if err := rows.Scan(&rec.ID, &actor, &orgID, &action, &rec.Entity, &entityID, &md, &at); err != nil {
				return fmt.Errorf("failed to scan audit record: %w", err)
			}
			rec.ActorID = generic.ActorID(actor)
			rec.OrganisationID = orgPtr(orgID)
			rec.Action = generic.AuditAction(action)
			rec.EntityID = entityID.String
			if md.Valid {
				if err := json.Unmarshal([]byte(md.String), &rec.Metadata); err != nil {
					return fmt.Errorf("corrupt audit metadata: %w", err)
				}
			}
			rec.At = parseTime(at)
			result = append(result, rec)
		}
		return rows.Err()
	})
	return result, err
}
