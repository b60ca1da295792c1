package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// errDefaultsReadOnly is returned when a confined tenant writes the shared catalog.
var errDefaultsReadOnly = errors.New("the default milestone catalog is writable by platform administrators only")

// =============================================================================
// MILESTONE CATALOG (sickness.MilestoneRepository)
// =============================================================================

type milestoneRow struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrganisationID *string   `gorm:"column:organisation_id"`
	Key            string    `gorm:"column:milestone_key"`
	Label          string    `gorm:"column:label"`
	DayOffset      int       `gorm:"column:day_offset"`
	Description    string    `gorm:"column:description"`
	Active         bool      `gorm:"column:active"`
	IsDefault      bool      `gorm:"column:is_default"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (milestoneRow) TableName() string { return "milestone_configs" }

type guidanceRow struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrganisationID *string   `gorm:"column:organisation_id"`
	Key            string    `gorm:"column:milestone_key"`
	Content        string    `gorm:"column:content"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (guidanceRow) TableName() string { return "milestone_guidance" }

// catalogConflict targets the partial unique index of default rows or of
// per-organisation overrides.
func catalogConflict(defaults bool, updates ...string) clause.OnConflict {
	columns := []clause.Column{{Name: "organisation_id"}, {Name: "milestone_key"}}
	where := "organisation_id IS NOT NULL"
	if defaults {
		columns = []clause.Column{{Name: "milestone_key"}}
		where = "organisation_id IS NULL"
	}
	return clause.OnConflict{
		Columns:     columns,
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: where}}},
		DoUpdates:   clause.AssignmentColumns(append(updates, "updated_at")),
	}
}

func (t *scopedTx) DefaultMilestones(ctx context.Context) ([]sickness.MilestoneConfig, error) {
	return t.findMilestones(t.q(ctx).Where("organisation_id IS NULL"))
}

func (t *scopedTx) MilestoneOverrides(ctx context.Context, org generic.OrganisationID) ([]sickness.MilestoneConfig, error) {
	return t.findMilestones(t.q(ctx).Where("organisation_id = ?", string(org)))
}

func (t *scopedTx) findMilestones(db *gorm.DB) ([]sickness.MilestoneConfig, error) {
	var rows []milestoneRow
	if err := db.Order("day_offset, milestone_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	result := make([]sickness.MilestoneConfig, 0, len(rows))
	for _, row := range rows {
		result = append(result, sickness.MilestoneConfig{
			OrganisationID: orgPtr(row.OrganisationID),
			Key:            sickness.MilestoneKey(row.Key),
			Label:          row.Label,
			DayOffset:      row.DayOffset,
			Description:    row.Description,
			Active:         row.Active,
			IsDefault:      row.IsDefault,
		})
	}
	return result, nil
}

func (t *scopedTx) UpsertDefaultMilestone(ctx context.Context, m sickness.MilestoneConfig, at time.Time) error {
	if !t.tenant.PlatformAdmin {
		return errDefaultsReadOnly
	}
	return t.upsertMilestone(ctx, nil, m, true, at)
}

func (t *scopedTx) UpsertMilestoneOverride(ctx context.Context, m sickness.MilestoneConfig, at time.Time) error {
	if m.OrganisationID == nil || !t.allows(*m.OrganisationID) {
		return generic.NotFound("organisation", orgString(m.OrganisationID))
	}
	return t.upsertMilestone(ctx, orgColumn(m.OrganisationID), m, false, at)
}

func (t *scopedTx) upsertMilestone(ctx context.Context, org *string, m sickness.MilestoneConfig, isDefault bool, at time.Time) error {
	row := milestoneRow{
		OrganisationID: org,
		Key:            string(m.Key),
		Label:          m.Label,
		DayOffset:      m.DayOffset,
		Description:    m.Description,
		Active:         m.Active,
		IsDefault:      isDefault,
		UpdatedAt:      at.UTC(),
	}
	err := t.q(ctx).
		Clauses(catalogConflict(isDefault, "label", "day_offset", "description", "active")).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert milestone %s: %w", m.Key, err)
	}
	return nil
}

func (t *scopedTx) DeleteMilestoneOverride(ctx context.Context, org generic.OrganisationID, key sickness.MilestoneKey) (bool, error) {
	res := t.q(ctx).
		Where("organisation_id = ? AND milestone_key = ?", string(org), string(key)).
		Delete(&milestoneRow{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete milestone override: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (t *scopedTx) DefaultGuidance(ctx context.Context) ([]sickness.Guidance, error) {
	return t.findGuidance(t.q(ctx).Where("organisation_id IS NULL"))
}

func (t *scopedTx) GuidanceOverrides(ctx context.Context, org generic.OrganisationID) ([]sickness.Guidance, error) {
	return t.findGuidance(t.q(ctx).Where("organisation_id = ?", string(org)))
}

func (t *scopedTx) findGuidance(db *gorm.DB) ([]sickness.Guidance, error) {
	var rows []guidanceRow
	if err := db.Order("milestone_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query guidance: %w", err)
	}
	result := make([]sickness.Guidance, 0, len(rows))
	for _, row := range rows {
		result = append(result, sickness.Guidance{
			OrganisationID: orgPtr(row.OrganisationID),
			Key:            sickness.MilestoneKey(row.Key),
			Content:        row.Content,
		})
	}
	return result, nil
}

func (t *scopedTx) UpsertDefaultGuidance(ctx context.Context, g sickness.Guidance, at time.Time) error {
	if !t.tenant.PlatformAdmin {
		return errDefaultsReadOnly
	}
	return t.upsertGuidance(ctx, nil, g, true, at)
}

func (t *scopedTx) UpsertGuidanceOverride(ctx context.Context, g sickness.Guidance, at time.Time) error {
	if g.OrganisationID == nil || !t.allows(*g.OrganisationID) {
		return generic.NotFound("organisation", orgString(g.OrganisationID))
	}
	return t.upsertGuidance(ctx, orgColumn(g.OrganisationID), g, false, at)
}

func (t *scopedTx) upsertGuidance(ctx context.Context, org *string, g sickness.Guidance, isDefault bool, at time.Time) error {
	row := guidanceRow{OrganisationID: org, Key: string(g.Key), Content: g.Content, UpdatedAt: at.UTC()}
	if err := t.q(ctx).Clauses(catalogConflict(isDefault, "content")).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to upsert guidance %s: %w", g.Key, err)
	}
	return nil
}

func (t *scopedTx) DeleteGuidanceOverride(ctx context.Context, org generic.OrganisationID, key sickness.MilestoneKey) (bool, error) {
	res := t.q(ctx).
		Where("organisation_id = ? AND milestone_key = ?", string(org), string(key)).
		Delete(&guidanceRow{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete guidance override: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func orgString(org *generic.OrganisationID) string {
	if org == nil {
		return ""
	}
	return string(*org)
}

// =============================================================================
// MILESTONE ACTIONS (sickness.ActionRepository)
// =============================================================================

type actionRow struct {
	ID             string     `gorm:"column:id;primaryKey"`
	CaseID         string     `gorm:"column:case_id"`
	OrganisationID string     `gorm:"column:organisation_id"`
	MilestoneKey   string     `gorm:"column:milestone_key"`
	DueDate        time.Time  `gorm:"column:due_date;type:date"`
	Status         string     `gorm:"column:status"`
	CompletedAt    *time.Time `gorm:"column:completed_at;type:date"`
	CompletedBy    *string    `gorm:"column:completed_by"`
	Notes          *string    `gorm:"column:notes"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (actionRow) TableName() string { return "milestone_actions" }

func (t *scopedTx) ListActions(ctx context.Context, id sickness.CaseID) ([]sickness.MilestoneAction, error) {
	var rows []actionRow
	err := t.q(ctx).Where("case_id = ?", string(id)).Order("due_date, milestone_key").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	result := make([]sickness.MilestoneAction, 0, len(rows))
	for _, row := range rows {
		result = append(result, toAction(row))
	}
	return result, nil
}

// InsertActions inserts with ON CONFLICT (case_id, milestone_key) DO NOTHING.
func (t *scopedTx) InsertActions(ctx context.Context, actions []sickness.MilestoneAction) (int, error) {
	if len(actions) == 0 {
		return 0, nil
	}
	rows := make([]actionRow, 0, len(actions))
	for _, a := range actions {
		if !t.allows(a.OrganisationID) {
			return 0, generic.NotFound("case", string(a.CaseID))
		}
		rows = append(rows, fromAction(a))
	}
	res := t.q(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "case_id"}, {Name: "milestone_key"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to insert actions: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (t *scopedTx) GetAction(ctx context.Context, id sickness.ActionID) (*sickness.MilestoneAction, error) {
	var row actionRow
	err := t.q(ctx).Where("id = ?", string(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, generic.NotFound("action", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	a := toAction(row)
	return &a, nil
}

func (t *scopedTx) UpdateAction(ctx context.Context, a sickness.MilestoneAction) error {
	row := fromAction(a)
	res := t.q(ctx).Model(&actionRow{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"status":       row.Status,
			"completed_at": dateValue(a.CompletedAt),
			"completed_by": nullable(row.CompletedBy),
			"notes":        nullable(row.Notes),
			"updated_at":   row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update action: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return generic.NotFound("action", string(a.ID))
	}
	return nil
}

func fromAction(a sickness.MilestoneAction) actionRow {
	row := actionRow{
		ID:             string(a.ID),
		CaseID:         string(a.CaseID),
		OrganisationID: string(a.OrganisationID),
		MilestoneKey:   string(a.MilestoneKey),
		DueDate:        a.DueDate.Time,
		Status:         string(a.Status),
		CompletedAt:    dateTime(a.CompletedAt),
		Notes:          a.Notes,
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
	}
	if a.CompletedBy != nil {
		by := string(*a.CompletedBy)
		row.CompletedBy = &by
	}
	return row
}

func toAction(row actionRow) sickness.MilestoneAction {
	a := sickness.MilestoneAction{
		ID:             sickness.ActionID(row.ID),
		CaseID:         sickness.CaseID(row.CaseID),
		OrganisationID: generic.OrganisationID(row.OrganisationID),
		MilestoneKey:   sickness.MilestoneKey(row.MilestoneKey),
		DueDate:        generic.DateOf(row.DueDate),
		Status:         sickness.ActionStatus(row.Status),
		CompletedAt:    datePoint(row.CompletedAt),
		Notes:          row.Notes,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if row.CompletedBy != nil {
		by := generic.ActorID(*row.CompletedBy)
		a.CompletedBy = &by
	}
	return a
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// =============================================================================
// ORGANISATION SETTINGS (sickness.SettingsRepository)
// =============================================================================

type settingsRow struct {
	OrganisationID string         `gorm:"column:organisation_id;primaryKey"`
	Settings       datatypes.JSON `gorm:"column:settings;type:jsonb"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (settingsRow) TableName() string { return "organisation_settings" }

func (t *scopedTx) Settings(ctx context.Context, org generic.OrganisationID) (*sickness.OrganisationSettings, error) {
	var row settingsRow
	err := t.q(ctx).Where("organisation_id = ?", string(org)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	s, err := factory.ParseSettings(org, row.Settings)
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
	row := settingsRow{
		OrganisationID: string(s.OrganisationID),
		Settings:       datatypes.JSON(raw),
		UpdatedAt:      at.UTC(),
	}
	err = t.q(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organisation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"settings", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// =============================================================================
// TRIGGERS (sickness.TriggerRepository)
// =============================================================================

type triggerConfigRow struct {
	ID             string    `gorm:"column:id;primaryKey"`
	OrganisationID string    `gorm:"column:organisation_id"`
	TriggerType    string    `gorm:"column:trigger_type"`
	Threshold      int       `gorm:"column:threshold"`
	Active         bool      `gorm:"column:active"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (triggerConfigRow) TableName() string { return "trigger_configs" }

type alertRow struct {
	ID              string    `gorm:"column:id;primaryKey"`
	TriggerConfigID string    `gorm:"column:trigger_config_id"`
	OrganisationID  string    `gorm:"column:organisation_id"`
	EmployeeID      string    `gorm:"column:employee_id"`
	TriggerType     string    `gorm:"column:trigger_type"`
	Observed        int       `gorm:"column:observed"`
	Threshold       int       `gorm:"column:threshold"`
	Status          string    `gorm:"column:status"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (alertRow) TableName() string { return "trigger_alerts" }

func (t *scopedTx) TriggerConfigs(ctx context.Context, org generic.OrganisationID) ([]sickness.TriggerConfig, error) {
	var rows []triggerConfigRow
	if err := t.q(ctx).Where("organisation_id = ?", string(org)).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list trigger configs: %w", err)
	}
	result := make([]sickness.TriggerConfig, 0, len(rows))
	for _, row := range rows {
		result = append(result, sickness.TriggerConfig{
			ID:             row.ID,
			OrganisationID: generic.OrganisationID(row.OrganisationID),
			Type:           sickness.TriggerType(row.TriggerType),
			Threshold:      row.Threshold,
			Active:         row.Active,
		})
	}
	return result, nil
}

// SaveTriggerConfig upserts by id. A config id owned by another organisation
// is reported as not found: the conflicting row is invisible under
// row-level security, so postgres rejects the upsert and the unit of work
// cannot continue.
func (t *scopedTx) SaveTriggerConfig(ctx context.Context, c sickness.TriggerConfig, at time.Time) error {
	if !t.allows(c.OrganisationID) {
		return generic.NotFound("organisation", string(c.OrganisationID))
	}
	row := triggerConfigRow{
		ID:             c.ID,
		OrganisationID: string(c.OrganisationID),
		TriggerType:    string(c.Type),
		Threshold:      c.Threshold,
		Active:         c.Active,
		UpdatedAt:      at.UTC(),
	}
	res := t.q(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"trigger_type", "threshold", "active", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "trigger_configs.organisation_id = excluded.organisation_id"},
		}},
	}).Create(&row)
	if isOwnershipConflict(res.Error) {
		return generic.NotFound("trigger config", c.ID)
	}
	if res.Error != nil {
		return fmt.Errorf("failed to save trigger config: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return generic.NotFound("trigger config", c.ID)
	}
	return nil
}

func (t *scopedTx) InsertAlert(ctx context.Context, a sickness.TriggerAlert) (bool, error) {
	if !t.allows(a.OrganisationID) {
		return false, generic.NotFound("organisation", string(a.OrganisationID))
	}
	row := alertRow{
		ID:              a.ID,
		TriggerConfigID: a.TriggerConfigID,
		OrganisationID:  string(a.OrganisationID),
		EmployeeID:      string(a.EmployeeID),
		TriggerType:     string(a.TriggerType),
		Observed:        a.Observed,
		Threshold:       a.Threshold,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt.UTC(),
	}
	res := t.q(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "trigger_config_id"}, {Name: "employee_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'OPEN'"}}},
		DoNothing:   true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert alert: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (t *scopedTx) ListAlerts(ctx context.Context, employee generic.EmployeeID) ([]sickness.TriggerAlert, error) {
	var rows []alertRow
	err := t.q(ctx).Where("employee_id = ?", string(employee)).Order("created_at, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	result := make([]sickness.TriggerAlert, 0, len(rows))
	for _, row := range rows {
		result = append(result, sickness.TriggerAlert{
			ID:              row.ID,
			TriggerConfigID: row.TriggerConfigID,
			OrganisationID:  generic.OrganisationID(row.OrganisationID),
			EmployeeID:      generic.EmployeeID(row.EmployeeID),
			TriggerType:     sickness.TriggerType(row.TriggerType),
			Observed:        row.Observed,
			Threshold:       row.Threshold,
			Status:          sickness.AlertStatus(row.Status),
			CreatedAt:       row.CreatedAt.UTC(),
		})
	}
	return result, nil
}

// isOwnershipConflict matches the errors postgres raises when an upsert
// collides with a row of another organisation: a unique violation, or a
// row-level security rejection of the DO UPDATE arm.
func isOwnershipConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" || pgErr.Code == "42501"
}

// =============================================================================
// AUDIT LOG (generic.AuditLog)
// =============================================================================

type auditRow struct {
	Seq            int64          `gorm:"column:seq;->"`
	ID             string         `gorm:"column:id;primaryKey"`
	ActorID        string         `gorm:"column:actor_id"`
	OrganisationID *string        `gorm:"column:organisation_id"`
	Action         string         `gorm:"column:action"`
	Entity         string         `gorm:"column:entity"`
	EntityID       *string        `gorm:"column:entity_id"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime:false"`
}

func (auditRow) TableName() string { return "audit_log" }

func (t *scopedTx) AppendAudit(ctx context.Context, rec generic.AuditRecord) error {
	row := auditRow{
		ID:             rec.ID,
		ActorID:        string(rec.ActorID),
		OrganisationID: orgColumn(rec.OrganisationID),
		Action:         string(rec.Action),
		Entity:         rec.Entity,
		CreatedAt:      rec.At.UTC(),
	}
	if rec.EntityID != "" {
		id := rec.EntityID
		row.EntityID = &id
	}
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(raw)
	}
	if err := t.q(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// AuditTrail returns the audit records of org, oldest first.
func (s *Store) AuditTrail(ctx context.Context, tenant generic.Tenant, org generic.OrganisationID) ([]generic.AuditRecord, error) {
	var rows []auditRow
	err := s.WithTenant(ctx, tenant, func(ctx context.Context, tx sickness.Tx) error {
		return tx.(*scopedTx).q(ctx).Where("organisation_id = ?", string(org)).Order("seq").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	result := make([]generic.AuditRecord, 0, len(rows))
	for _, row := range rows {
		rec := generic.AuditRecord{
			ID:             row.ID,
			ActorID:        generic.ActorID(row.ActorID),
			OrganisationID: orgPtr(row.OrganisationID),
			Action:         generic.AuditAction(row.Action),
			Entity:         row.Entity,
			At:             row.CreatedAt.UTC(),
		}
		if row.EntityID != nil {
			rec.EntityID = *row.EntityID
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt audit metadata: %w", err)
			}
		}
		result = append(result, rec)
	}
	return result, nil
}
