package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// errDefaultsReadOnly is returned when a confined tenant writes the shared catalog.
var errDefaultsReadOnly = errors.New("the default milestone catalog is writable by platform administrators only")

// =============================================================================
// MILESTONE CATALOG (sickness.MilestoneRepository)
// =============================================================================

const milestoneColumns = `organisation_id, milestone_key, label, day_offset, description, active, is_default`

func (t *scopedTx) DefaultMilestones(ctx context.Context) ([]sickness.MilestoneConfig, error) {
	return t.queryMilestones(ctx,
		`SELECT `+milestoneColumns+` FROM milestone_configs
		 WHERE organisation_id IS NULL
		 ORDER BY day_offset, milestone_key`)
}

func (t *scopedTx) MilestoneOverrides(ctx context.Context, org generic.OrganisationID) ([]sickness.MilestoneConfig, error) {
	pred, args := t.scope("")
	return t.queryMilestones(ctx,
		`SELECT `+milestoneColumns+` FROM milestone_configs
		 WHERE organisation_id = ? AND `+pred+`
		 ORDER BY day_offset, milestone_key`,
		append([]any{string(org)}, args...)...)
}

func (t *scopedTx) queryMilestones(ctx context.Context, query string, args ...any) ([]sickness.MilestoneConfig, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	var result []sickness.MilestoneConfig
	for rows.Next() {
		var (
			m   sickness.MilestoneConfig
			org sql.NullString
			key string
		)
		if err := rows.Scan(&org, &key, &m.Label, &m.DayOffset, &m.Description, &m.Active, &m.IsDefault); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		m.OrganisationID = orgPtr(org)
		m.Key = sickness.MilestoneKey(key)
		result = append(result, m)
	}
	return result, rows.Err()
}

func (t *scopedTx) UpsertDefaultMilestone(ctx context.Context, m sickness.MilestoneConfig, at time.Time) error {
	if !t.tenant.PlatformAdmin {
		return errDefaultsReadOnly
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO milestone_configs (`+milestoneColumns+`, updated_at)
		VALUES (NULL, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(milestone_key) WHERE organisation_id IS NULL DO UPDATE SET
			label = excluded.label,
			day_offset = excluded.day_offset,
			description = excluded.description,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		string(m.Key), m.Label, m.DayOffset, m.Description, m.Active, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to upsert default milestone: %w", err)
	}
	return nil
}

func (t *scopedTx) UpsertMilestoneOverride(ctx context.Context, m sickness.MilestoneConfig, at time.Time) error {
	if m.OrganisationID == nil || !t.allows(*m.OrganisationID) {
		return generic.NotFound("organisation", orgString(m.OrganisationID))
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO milestone_configs (`+milestoneColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(organisation_id, milestone_key) WHERE organisation_id IS NOT NULL DO UPDATE SET
			label = excluded.label,
			day_offset = excluded.day_offset,
			description = excluded.description,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		string(*m.OrganisationID), string(m.Key), m.Label, m.DayOffset, m.Description, m.Active, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to upsert milestone override: %w", err)
	}
	return nil
}

func (t *scopedTx) DeleteMilestoneOverride(ctx context.Context, org generic.OrganisationID, key sickness.MilestoneKey) (bool, error) {
	pred, args := t.scope("")
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM milestone_configs WHERE organisation_id = ? AND milestone_key = ? AND `+pred,
		append([]any{string(org), string(key)}, args...)...)
	if err != nil {
		return false, fmt.Errorf("failed to delete milestone override: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// MILESTONE GUIDANCE
// =============================================================================

func (t *scopedTx) DefaultGuidance(ctx context.Context) ([]sickness.Guidance, error) {
	return t.queryGuidance(ctx,
		`SELECT organisation_id, milestone_key, content FROM milestone_guidance
		 WHERE organisation_id IS NULL ORDER BY milestone_key`)
}

func (t *scopedTx) GuidanceOverrides(ctx context.Context, org generic.OrganisationID) ([]sickness.Guidance, error) {
	pred, args := t.scope("")
	return t.queryGuidance(ctx,
		`SELECT organisation_id, milestone_key, content FROM milestone_guidance
		 WHERE organisation_id = ? AND `+pred+` ORDER BY milestone_key`,
		append([]any{string(org)}, args...)...)
}

func (t *scopedTx) queryGuidance(ctx context.Context, query string, args ...any) ([]sickness.Guidance, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query guidance: %w", err)
	}
	defer rows.Close()

	var result []sickness.Guidance
	for rows.Next() {
		var (
			g   sickness.Guidance
			org sql.NullString
			key string
		)
		if err := rows.Scan(&org, &key, &g.Content); err != nil {
			return nil, fmt.Errorf("failed to scan guidance: %w", err)
		}
		g.OrganisationID = orgPtr(org)
		g.Key = sickness.MilestoneKey(key)
		result = append(result, g)
	}
	return result, rows.Err()
}

func (t *scopedTx) UpsertDefaultGuidance(ctx context.Context, g sickness.Guidance, at time.Time) error {
	if !t.tenant.PlatformAdmin {
		return errDefaultsReadOnly
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO milestone_guidance (organisation_id, milestone_key, content, updated_at)
		VALUES (NULL, ?, ?, ?)
		ON CONFLICT(milestone_key) WHERE organisation_id IS NULL DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		string(g.Key), g.Content, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to upsert default guidance: %w", err)
	}
	return nil
}

func (t *scopedTx) UpsertGuidanceOverride(ctx context.Context, g sickness.Guidance, at time.Time) error {
	if g.OrganisationID == nil || !t.allows(*g.OrganisationID) {
		return generic.NotFound("organisation", orgString(g.OrganisationID))
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO milestone_guidance (organisation_id, milestone_key, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(organisation_id, milestone_key) WHERE organisation_id IS NOT NULL DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		string(*g.OrganisationID), string(g.Key), g.Content, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to upsert guidance override: %w", err)
	}
	return nil
}

func (t *scopedTx) DeleteGuidanceOverride(ctx context.Context, org generic.OrganisationID, key sickness.MilestoneKey) (bool, error) {
	pred, args := t.scope("")
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM milestone_guidance WHERE organisation_id = ? AND milestone_key = ? AND `+pred,
		append([]any{string(org), string(key)}, args...)...)
	if err != nil {
		return false, fmt.Errorf("failed to delete guidance override: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func orgString(org *generic.OrganisationID) string {
	if org == nil {
		return ""
	}
	return string(*org)
}
