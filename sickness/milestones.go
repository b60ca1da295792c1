/*
milestones.go - Milestone catalog resolver

PURPOSE:
  A milestone is a named checkpoint at a fixed number of days after the
  absence started ("welfare check at day 14"). The catalog has two tiers:

    defaults   system-wide, one row per key, no organisation, shared
               read-only by every tenant
    overrides  per organisation, at most one per (organisation, key),
               replacing label, day offset, description and active flag

RESOLUTION:
  ResolveMilestones is the single merge function:

    for each default d:
        if override o exists for d.Key: use o's label/offset/description/active
        drop if not active
    sort by day offset, then key

  Overrides for keys that have no default are ignored. Guidance text resolves
  the same way, independently (ResolveGuidance).

REVERT:
  Deleting an override reverts the key to its default. Defaults are never
  deleted through the service.

SEE ALSO:
  - timeline.go: maps the effective milestones onto a case
  - factory/catalog.go: the seeded default catalog
*/
package sickness

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// TYPES
// =============================================================================

type MilestoneKey string

// MilestoneConfig is one catalog row. OrganisationID is nil for a default.
type MilestoneConfig struct {
	OrganisationID *generic.OrganisationID
	Key            MilestoneKey
	Label          string
	DayOffset      int
	Description    string
	Active         bool
	IsDefault      bool
}

func (m MilestoneConfig) Validate() error {
	if m.Key == "" {
		return generic.Invalid("key", "is required")
	}
	if m.Label == "" {
		return generic.Invalid("label", "is required")
	}
	if m.DayOffset < 1 {
		return generic.Invalid("day_offset", "must be at least 1, got %d", m.DayOffset)
	}
	return nil
}

// Guidance is free-text content attached to a milestone key, such as
// suggested wording for a welfare call.
type Guidance struct {
	OrganisationID *generic.OrganisationID
	Key            MilestoneKey
	Content        string
}

// Catalog is the system-wide default milestone set and its guidance.
type Catalog struct {
	Milestones []MilestoneConfig
	Guidance   []Guidance
}

// MilestoneOverride is the input for an organisation's override of one key.
type MilestoneOverride struct {
	Key         MilestoneKey
	Label       string
	DayOffset   int
	Description string
	Active      bool
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolveMilestones merges defaults with one organisation's overrides and
// returns the active milestones ordered by day offset, then key.
func ResolveMilestones(defaults, overrides []MilestoneConfig) []MilestoneConfig {
	byKey := lo.KeyBy(overrides, func(m MilestoneConfig) MilestoneKey { return m.Key })

	effective := make([]MilestoneConfig, 0, len(defaults))
	for _, d := range defaults {
		m := d
		if o, ok := byKey[d.Key]; ok {
			m.OrganisationID = o.OrganisationID
			m.Label = o.Label
			m.DayOffset = o.DayOffset
			m.Description = o.Description
			m.Active = o.Active
			m.IsDefault = false
		}
		if m.Active {
			effective = append(effective, m)
		}
	}
	sort.SliceStable(effective, func(i, j int) bool {
		if effective[i].DayOffset != effective[j].DayOffset {
			return effective[i].DayOffset < effective[j].DayOffset
		}
		return effective[i].Key < effective[j].Key
	})
	return effective
}

// ResolveGuidance merges default guidance with one organisation's overrides.
// The result maps each key to its effective content.
func ResolveGuidance(defaults, overrides []Guidance) map[MilestoneKey]string {
	resolved := make(map[MilestoneKey]string, len(defaults))
	for _, g := range defaults {
		resolved[g.Key] = g.Content
	}
	for _, g := range overrides {
		resolved[g.Key] = g.Content
	}
	return resolved
}

// effectiveMilestones loads and resolves the catalog for org inside tx.
func effectiveMilestones(ctx context.Context, tx Tx, org generic.OrganisationID) ([]MilestoneConfig, error) {
	defaults, err := tx.DefaultMilestones(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := tx.MilestoneOverrides(ctx, org)
	if err != nil {
		return nil, err
	}
	return ResolveMilestones(defaults, overrides), nil
}

func effectiveGuidance(ctx context.Context, tx Tx, org generic.OrganisationID) (map[MilestoneKey]string, error) {
	defaults, err := tx.DefaultGuidance(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := tx.GuidanceOverrides(ctx, org)
	if err != nil {
		return nil, err
	}
	return ResolveGuidance(defaults, overrides), nil
}

// =============================================================================
// SERVICE OPERATIONS
// =============================================================================

// EffectiveMilestones returns the organisation's resolved milestone list.
func (s *Service) EffectiveMilestones(ctx context.Context, tenant generic.Tenant, org generic.OrganisationID) ([]MilestoneConfig, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if !tenant.Allows(org) {
		return nil, generic.NotFound("organisation", string(org))
	}
	return WithTenant(ctx, s.store, tenant, func(ctx context.Context, tx Tx) ([]MilestoneConfig, error) {
		return effectiveMilestones(ctx, tx, org)
	})
}

// SetMilestoneOverride upserts the organisation's override for a key that
// exists in the default catalog.
func (s *Service) SetMilestoneOverride(ctx context.Context, tenant generic.Tenant, org generic.OrganisationID, in MilestoneOverride, actor generic.ActorID) (MilestoneConfig, error) {
	m := MilestoneConfig{
		OrganisationID: generic.OrgRef(org),
		Key:            in.Key,
		Label:          in.Label,
		DayOffset:      in.DayOffset,
		Description:    in.Description,
		Active:         in.Active,
	}
	if err := m.Validate(); err != nil {
		return MilestoneConfig{}, err
	}
	if org == "" {
		return MilestoneConfig{}, generic.Invalid("organisation_id", "is required")
	}
	if !tenant.Allows(org) {
		return MilestoneConfig{}, generic.NotFound("organisation", string(org))
	}

	err := s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		if err := requireDefault(ctx, u, in.Key); err != nil {
			return err
		}
		if err := u.UpsertMilestoneOverride(ctx, m, u.now); err != nil {
			return err
		}
		return u.audit(ctx, generic.AuditRecord{
			ActorID:        actor,
			OrganisationID: generic.OrgRef(org),
			Action:         generic.AuditMilestoneOverridden,
			Entity:         "milestone_config",
			EntityID:       string(in.Key),
			Metadata: map[string]any{
				"label":      m.Label,
				"day_offset": m.DayOffset,
				"active":     m.Active,
			},
		})
	})
	if err != nil {
		return MilestoneConfig{}, err
	}
	return m, nil
}

// DeleteMilestoneOverride reverts key to its default for org.
func (s *Service) DeleteMilestoneOverride(ctx context.Context, tenant generic.Tenant, org generic.OrganisationID, key MilestoneKey, actor generic.ActorID) error {
	if !tenant.Allows(org) {
		return generic.NotFound("organisation", string(org))
	}
	return s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		deleted, err := u.DeleteMilestoneOverride(ctx, org, key)
		if err != nil {
			return err
		}
		if !deleted {
			return generic.NotFound("milestone override", string(key))
		}
		return u.audit(ctx, generic.AuditRecord{
			ActorID:        actor,
			OrganisationID: generic.OrgRef(org),
			Action:         generic.AuditMilestoneReverted,
			Entity:         "milestone_config",
			EntityID:       string(key),
		})
	})
}

// MilestoneGuidance returns the effective guidance content of key for org.
func (s *Service) MilestoneGuidance(ctx context.Context, tenant generic.Tenant, org generic.OrganisationID, key MilestoneKey) (string, error) {
	if err := tenant.Validate(); err != nil {
		return "", err
	}
	if !tenant.Allows(org) {
		return "", generic.NotFound("organisation", string(org))
	}
	return WithTenant(ctx, s.store, tenant, func(ctx context.Context, tx Tx) (string, error) {
		resolved, err := effectiveGuidance(ctx, tx, org)
		if err != nil {
			return "", err
		}
		content, ok := resolved[key]
		if !ok {
			return "", generic.NotFound("milestone guidance", string(key))
		}
		return content, nil
	})
}

// SetGuidanceOverride upserts the organisation's guidance for key.
func (s *Service) SetGuidanceOverride(ctx context.Context, tenant generic.Tenant, org generic.OrganisationID, key MilestoneKey, content string, actor generic.ActorID) error {
	if key == "" {
		return generic.Invalid("key", "is required")
	}
	if org == "" {
		return generic.Invalid("organisation_id", "is required")
	}
	if !tenant.Allows(org) {
		return generic.NotFound("organisation", string(org))
	}
	return s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		if err := requireDefault(ctx, u, key); err != nil {
			return err
		}
		if err := u.UpsertGuidanceOverride(ctx, Guidance{OrganisationID: generic.OrgRef(org), Key: key, Content: content}, u.now); err != nil {
			return err
		}
		return u.audit(ctx, generic.AuditRecord{
			ActorID:        actor,
			OrganisationID: generic.OrgRef(org),
			Action:         generic.AuditGuidanceOverridden,
			Entity:         "milestone_guidance",
			EntityID:       string(key),
		})
	})
}

// DeleteGuidanceOverride reverts key's guidance to the default for org.
func (s *Service) DeleteGuidanceOverride(ctx context.Context, tenant generic.Tenant, org generic.OrganisationID, key MilestoneKey, actor generic.ActorID) error {
	if !tenant.Allows(org) {
		return generic.NotFound("organisation", string(org))
	}
	return s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		deleted, err := u.DeleteGuidanceOverride(ctx, org, key)
		if err != nil {
			return err
		}
		if !deleted {
			return generic.NotFound("milestone guidance override", string(key))
		}
		return u.audit(ctx, generic.AuditRecord{
			ActorID:        actor,
			OrganisationID: generic.OrgRef(org),
			Action:         generic.AuditGuidanceReverted,
			Entity:         "milestone_guidance",
			EntityID:       string(key),
		})
	})
}

func requireDefault(ctx context.Context, tx Tx, key MilestoneKey) error {
	defaults, err := tx.DefaultMilestones(ctx)
	if err != nil {
		return err
	}
	if !lo.ContainsBy(defaults, func(m MilestoneConfig) bool { return m.Key == key }) {
		return generic.NotFound("milestone", string(key))
	}
	return nil
}

// SeedDefaults upserts the system-wide catalog. It always runs with
// platform-administrator scope.
func (s *Service) SeedDefaults(ctx context.Context, catalog Catalog) error {
	for _, m := range catalog.Milestones {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	err := s.run(ctx, generic.AdminTenant(), func(ctx context.Context, u *unit) error {
		for _, m := range catalog.Milestones {
			m.OrganisationID = nil
			m.IsDefault = true
			if err := u.UpsertDefaultMilestone(ctx, m, u.now); err != nil {
				return err
			}
		}
		for _, g := range catalog.Guidance {
			g.OrganisationID = nil
			if err := u.UpsertDefaultGuidance(ctx, g, u.now); err != nil {
				return err
			}
		}
		return u.audit(ctx, generic.AuditRecord{
			ActorID: generic.SystemActor,
			Action:  generic.AuditCatalogSeeded,
			Entity:  "milestone_config",
			Metadata: map[string]any{
				"milestones": len(catalog.Milestones),
				"guidance":   len(catalog.Guidance),
			},
		})
	})
	if err != nil {
		return err
	}
	s.log.Info("default milestone catalog seeded", zap.Int("milestones", len(catalog.Milestones)))
	return nil
}
