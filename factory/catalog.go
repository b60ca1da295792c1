/*
Package factory provides JSON to Go conversion for engine configuration.

PURPOSE:
  Converts JSON documents into sickness types so that the milestone catalog,
  organisation settings and trigger configs can be edited without code
  changes, stored as JSON in the database, or posted by an admin UI.

CATALOG JSON SCHEMA:
  {
    "milestones": [
      {
        "key": "welfare_check",
        "label": "Welfare check",
        "day_offset": 14,
        "description": "Check in on the employee's wellbeing",
        "active": true,
        "guidance": "Keep the call supportive..."
      }
    ]
  }

  "active" defaults to true. "guidance" is optional; when present it becomes
  the default guidance for the key.

USAGE:
  catalog, err := factory.DefaultCatalog()
  err = svc.SeedDefaults(ctx, catalog)

SEE ALSO:
  - sickness/milestones.go: Catalog and resolution
  - factory/settings.go: organisation settings documents
*/
package factory

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/warp/absence-engine/sickness"
)

//go:embed default_catalog.json
var defaultCatalogJSON string

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of the default milestone catalog.
type CatalogJSON struct {
	Milestones []MilestoneJSON `json:"milestones"`
}

// MilestoneJSON represents one milestone and its optional guidance.
type MilestoneJSON struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	DayOffset   int    `json:"day_offset"`
	Description string `json:"description,omitempty"`
	Active      *bool  `json:"active,omitempty"`
	Guidance    string `json:"guidance,omitempty"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// DefaultCatalog returns the catalog shipped with the engine.
func DefaultCatalog() (sickness.Catalog, error) {
	return ParseCatalog(defaultCatalogJSON)
}

// ParseCatalog parses a JSON catalog document. Keys must be unique and every
// milestone must be valid.
func ParseCatalog(jsonStr string) (sickness.Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return sickness.Catalog{}, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return FromCatalogJSON(cj)
}

// FromCatalogJSON converts CatalogJSON to a sickness.Catalog.
func FromCatalogJSON(cj CatalogJSON) (sickness.Catalog, error) {
	var catalog sickness.Catalog
	seen := make(map[string]bool, len(cj.Milestones))
	for _, mj := range cj.Milestones {
		if seen[mj.Key] {
			return sickness.Catalog{}, fmt.Errorf("duplicate milestone key %q", mj.Key)
		}
		seen[mj.Key] = true

		m := sickness.MilestoneConfig{
			Key:         sickness.MilestoneKey(mj.Key),
			Label:       mj.Label,
			DayOffset:   mj.DayOffset,
			Description: mj.Description,
			Active:      mj.Active == nil || *mj.Active,
			IsDefault:   true,
		}
		if err := m.Validate(); err != nil {
			return sickness.Catalog{}, fmt.Errorf("milestone %q: %w", mj.Key, err)
		}
		catalog.Milestones = append(catalog.Milestones, m)

		if mj.Guidance != "" {
			catalog.Guidance = append(catalog.Guidance, sickness.Guidance{
				Key:     m.Key,
				Content: mj.Guidance,
			})
		}
	}
	return catalog, nil
}

// ToCatalogJSON converts a catalog back to its JSON representation.
func ToCatalogJSON(catalog sickness.Catalog) CatalogJSON {
	guidance := sickness.ResolveGuidance(catalog.Guidance, nil)
	cj := CatalogJSON{Milestones: make([]MilestoneJSON, 0, len(catalog.Milestones))}
	for _, m := range catalog.Milestones {
		active := m.Active
		cj.Milestones = append(cj.Milestones, MilestoneJSON{
			Key:         string(m.Key),
			Label:       m.Label,
			DayOffset:   m.DayOffset,
			Description: m.Description,
			Active:      &active,
			Guidance:    guidance[m.Key],
		})
	}
	return cj
}
