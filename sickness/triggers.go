package sickness

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// ABSENCE TRIGGERS - Where Bradford outputs are persisted
// =============================================================================

type TriggerType string

const (
	TriggerBradford  TriggerType = "BRADFORD"
	TriggerFrequency TriggerType = "FREQUENCY"
	TriggerDuration  TriggerType = "DURATION"
)

func ParseTriggerType(s string) (TriggerType, error) {
	switch t := TriggerType(s); t {
	case TriggerBradford, TriggerFrequency, TriggerDuration:
		return t, nil
	}
	return "", generic.Invalid("type", "unknown trigger type %q", s)
}

// Observed picks the value of r this trigger type compares to its threshold.
func (t TriggerType) Observed(r BradfordResult) int {
	switch t {
	case TriggerFrequency:
		return r.Spells
	case TriggerDuration:
		return r.TotalDays
	default:
		return r.Score
	}
}

type TriggerConfig struct {
	ID             string
	OrganisationID generic.OrganisationID
	Type           TriggerType
	Threshold      int
	Active         bool
}

func (c TriggerConfig) Validate() error {
	if c.ID == "" {
		return generic.Invalid("id", "is required")
	}
	if _, err := ParseTriggerType(string(c.Type)); err != nil {
		return err
	}
	if c.Threshold < 1 {
		return generic.Invalid("threshold", "must be at least 1, got %d", c.Threshold)
	}
	return nil
}

type AlertStatus string

const (
	AlertOpen         AlertStatus = "OPEN"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
)

// TriggerAlert records that an employee reached a trigger's threshold.
type TriggerAlert struct {
	ID              string
	TriggerConfigID string
	OrganisationID  generic.OrganisationID
	EmployeeID      generic.EmployeeID
	TriggerType     TriggerType
	Observed        int
	Threshold       int
	Status          AlertStatus
	CreatedAt       time.Time
}

// SetTriggerConfig upserts one of the organisation's trigger configs.
func (s *Service) SetTriggerConfig(ctx context.Context, tenant generic.Tenant, cfg TriggerConfig, actor generic.ActorID) (TriggerConfig, error) {
	if cfg.OrganisationID == "" {
		cfg.OrganisationID = tenant.OrganisationID
	}
	if err := cfg.Validate(); err != nil {
		return TriggerConfig{}, err
	}
	if cfg.OrganisationID == "" {
		return TriggerConfig{}, generic.Invalid("organisation_id", "is required")
	}
	if !tenant.Allows(cfg.OrganisationID) {
		return TriggerConfig{}, generic.NotFound("organisation", string(cfg.OrganisationID))
	}
	err := s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		if err := u.SaveTriggerConfig(ctx, cfg, u.now); err != nil {
			return err
		}
		return u.audit(ctx, generic.AuditRecord{
			ActorID:        actor,
			OrganisationID: generic.OrgRef(cfg.OrganisationID),
			Action:         generic.AuditTriggerConfigChanged,
			Entity:         "trigger_config",
			EntityID:       cfg.ID,
			Metadata: map[string]any{
				"type":      string(cfg.Type),
				"threshold": cfg.Threshold,
				"active":    cfg.Active,
			},
		})
	})
	if err != nil {
		return TriggerConfig{}, err
	}
	return cfg, nil
}

// EvaluateTriggers compares the employee's Bradford outputs with every active
// trigger of the organisation, opens an alert for each threshold reached, and
// returns the employee's open alerts. An alert that is already open is not
// duplicated.
func (s *Service) EvaluateTriggers(ctx context.Context, tenant generic.Tenant, employee generic.EmployeeID) ([]TriggerAlert, error) {
	if employee == "" {
		return nil, generic.Invalid("employee_id", "is required")
	}
	if tenant.OrganisationID == "" {
		return nil, generic.Invalid("organisation_id", "triggers belong to an organisation")
	}

	var open []TriggerAlert
	err := s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		result, err := bradfordFor(ctx, u, tenant.OrganisationID, employee, u.today())
		if err != nil {
			return err
		}
		configs, err := u.TriggerConfigs(ctx, tenant.OrganisationID)
		if err != nil {
			return err
		}
		for _, cfg := range lo.Filter(configs, func(c TriggerConfig, _ int) bool { return c.Active }) {
			observed := cfg.Type.Observed(result)
			if observed < cfg.Threshold {
				continue
			}
			alert := TriggerAlert{
				ID:              generic.NewID(),
				TriggerConfigID: cfg.ID,
				OrganisationID:  tenant.OrganisationID,
				EmployeeID:      employee,
				TriggerType:     cfg.Type,
				Observed:        observed,
				Threshold:       cfg.Threshold,
				Status:          AlertOpen,
				CreatedAt:       u.now,
			}
			inserted, err := u.InsertAlert(ctx, alert)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			s.log.Info("absence trigger fired",
				zap.String("trigger_id", cfg.ID),
				zap.String("employee_id", string(employee)),
				zap.Int("observed", observed))
			if err := u.audit(ctx, generic.AuditRecord{
				ActorID:        generic.SystemActor,
				OrganisationID: generic.OrgRef(tenant.OrganisationID),
				Action:         generic.AuditTriggerFired,
				Entity:         "trigger_alert",
				EntityID:       alert.ID,
				Metadata: map[string]any{
					"employee_id": string(employee),
					"type":        string(cfg.Type),
					"observed":    observed,
					"threshold":   cfg.Threshold,
				},
			}); err != nil {
				return err
			}
		}
		alerts, err := u.ListAlerts(ctx, employee)
		if err != nil {
			return err
		}
		open = lo.Filter(alerts, func(a TriggerAlert, _ int) bool { return a.Status == AlertOpen })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return open, nil
}
