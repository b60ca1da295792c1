package factory

import (
	"encoding/json"
	"fmt"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// =============================================================================
// ORGANISATION SETTINGS
// =============================================================================

// SettingsJSON is the stored and posted form of organisation settings.
// Missing fields take the engine defaults.
//
//	{"long_term_days": 28, "bradford_window_weeks": 52, "working_days_per_year": 260}
type SettingsJSON struct {
	LongTermDays        *int `json:"long_term_days,omitempty"`
	BradfordWindowWeeks *int `json:"bradford_window_weeks,omitempty"`
	WorkingDaysPerYear  *int `json:"working_days_per_year,omitempty"`
}

// ParseSettings parses a settings document for org and validates it.
func ParseSettings(org generic.OrganisationID, raw []byte) (sickness.OrganisationSettings, error) {
	var sj SettingsJSON
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sj); err != nil {
			return sickness.OrganisationSettings{}, fmt.Errorf("failed to parse settings JSON: %w", err)
		}
	}
	return FromSettingsJSON(org, sj)
}

// FromSettingsJSON applies sj on top of the defaults.
func FromSettingsJSON(org generic.OrganisationID, sj SettingsJSON) (sickness.OrganisationSettings, error) {
	s := sickness.DefaultSettings(org)
	if sj.LongTermDays != nil {
		s.LongTermDays = *sj.LongTermDays
	}
	if sj.BradfordWindowWeeks != nil {
		s.BradfordWindowWeeks = *sj.BradfordWindowWeeks
	}
	if sj.WorkingDaysPerYear != nil {
		s.WorkingDaysPerYear = *sj.WorkingDaysPerYear
	}
	if err := s.Validate(); err != nil {
		return sickness.OrganisationSettings{}, err
	}
	return s, nil
}

// EncodeSettings returns the stored JSON form of s.
func EncodeSettings(s sickness.OrganisationSettings) ([]byte, error) {
	return json.Marshal(SettingsJSON{
		LongTermDays:        &s.LongTermDays,
		BradfordWindowWeeks: &s.BradfordWindowWeeks,
		WorkingDaysPerYear:  &s.WorkingDaysPerYear,
	})
}

// =============================================================================
// TRIGGER CONFIGS
// =============================================================================

// TriggerConfigJSON is the posted form of a trigger config.
type TriggerConfigJSON struct {
	Type      string `json:"type"`
	Threshold int    `json:"threshold"`
	Active    *bool  `json:"active,omitempty"`
}

// FromTriggerConfigJSON converts a posted trigger config. Active defaults to true.
func FromTriggerConfigJSON(id string, org generic.OrganisationID, tj TriggerConfigJSON) (sickness.TriggerConfig, error) {
	t, err := sickness.ParseTriggerType(tj.Type)
	if err != nil {
		return sickness.TriggerConfig{}, err
	}
	cfg := sickness.TriggerConfig{
		ID:             id,
		OrganisationID: org,
		Type:           t,
		Threshold:      tj.Threshold,
		Active:         tj.Active == nil || *tj.Active,
	}
	if err := cfg.Validate(); err != nil {
		return sickness.TriggerConfig{}, err
	}
	return cfg, nil
}
