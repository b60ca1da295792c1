package sickness

import (
	"context"

	"github.com/warp/absence-engine/generic"
)

// settingsFor returns the stored settings of org, or the defaults.
func settingsFor(ctx context.Context, tx Tx, org generic.OrganisationID) (OrganisationSettings, error) {
	if org == "" {
		return DefaultSettings(org), nil
	}
	stored, err := tx.Settings(ctx, org)
	if err != nil {
		return OrganisationSettings{}, err
	}
	if stored == nil {
		return DefaultSettings(org), nil
	}
	return *stored, nil
}

// Settings returns the organisation's settings, falling back to the defaults.
func (s *Service) Settings(ctx context.Context, tenant generic.Tenant, org generic.OrganisationID) (OrganisationSettings, error) {
	if err := tenant.Validate(); err != nil {
		return OrganisationSettings{}, err
	}
	if !tenant.Allows(org) {
		return OrganisationSettings{}, generic.NotFound("organisation", string(org))
	}
	return WithTenant(ctx, s.store, tenant, func(ctx context.Context, tx Tx) (OrganisationSettings, error) {
		return settingsFor(ctx, tx, org)
	})
}

// UpdateSettings validates and stores the organisation's settings.
func (s *Service) UpdateSettings(ctx context.Context, tenant generic.Tenant, settings OrganisationSettings, actor generic.ActorID) (OrganisationSettings, error) {
	if err := settings.Validate(); err != nil {
		return OrganisationSettings{}, err
	}
	if settings.OrganisationID == "" {
		return OrganisationSettings{}, generic.Invalid("organisation_id", "is required")
	}
	if !tenant.Allows(settings.OrganisationID) {
		return OrganisationSettings{}, generic.NotFound("organisation", string(settings.OrganisationID))
	}
	err := s.run(ctx, tenant, func(ctx context.Context, u *unit) error {
		if err := u.SaveSettings(ctx, settings, u.now); err != nil {
			return err
		}
		return u.audit(ctx, generic.AuditRecord{
			ActorID:        actor,
			OrganisationID: generic.OrgRef(settings.OrganisationID),
			Action:         generic.AuditSettingsChanged,
			Entity:         "organisation_settings",
			EntityID:       string(settings.OrganisationID),
			Metadata: map[string]any{
				"long_term_days":        settings.LongTermDays,
				"bradford_window_weeks": settings.BradfordWindowWeeks,
				"working_days_per_year": settings.WorkingDaysPerYear,
			},
		})
	})
	if err != nil {
		return OrganisationSettings{}, err
	}
	return settings, nil
}
