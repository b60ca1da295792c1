package factory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

func TestDefaultCatalog(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	offsets := map[sickness.MilestoneKey]int{}
	for _, m := range catalog.Milestones {
		offsets[m.Key] = m.DayOffset
		assert.True(t, m.Active, "%s should be active", m.Key)
		assert.True(t, m.IsDefault)
		assert.Nil(t, m.OrganisationID)
	}
	assert.Equal(t, map[sickness.MilestoneKey]int{
		"first_contact":    1,
		"fit_note_check":   7,
		"welfare_check":    14,
		"long_term_review": 28,
		"oh_referral":      42,
		"case_review":      56,
		"ssp_exhaustion":   196,
	}, offsets)
	assert.Len(t, catalog.Guidance, len(catalog.Milestones))
}

func TestParseCatalog_ActiveDefaultsToTrue(t *testing.T) {
	catalog, err := ParseCatalog(`{"milestones": [
		{"key": "a", "label": "A", "day_offset": 3},
		{"key": "b", "label": "B", "day_offset": 5, "active": false}
	]}`)
	require.NoError(t, err)
	require.Len(t, catalog.Milestones, 2)
	assert.True(t, catalog.Milestones[0].Active)
	assert.False(t, catalog.Milestones[1].Active)
	assert.Empty(t, catalog.Guidance)
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"milestones": [`},
		{"duplicate key", `{"milestones": [{"key":"a","label":"A","day_offset":1},{"key":"a","label":"A","day_offset":2}]}`},
		{"zero offset", `{"milestones": [{"key":"a","label":"A","day_offset":0}]}`},
		{"missing label", `{"milestones": [{"key":"a","day_offset":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog(tt.json)
			assert.Error(t, err)
		})
	}
}

func TestCatalogJSON_RoundTripKeepsGuidance(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	back, err := FromCatalogJSON(ToCatalogJSON(catalog))
	require.NoError(t, err)
	assert.Equal(t, catalog.Milestones, back.Milestones)
	assert.Equal(t, catalog.Guidance, back.Guidance)
}

func TestParseSettings(t *testing.T) {
	t.Run("empty document gives defaults", func(t *testing.T) {
		s, err := ParseSettings("org-1", nil)
		require.NoError(t, err)
		assert.Equal(t, sickness.DefaultSettings("org-1"), s)
	})

	t.Run("partial document overrides given fields only", func(t *testing.T) {
		s, err := ParseSettings("org-1", []byte(`{"long_term_days": 20}`))
		require.NoError(t, err)
		assert.Equal(t, 20, s.LongTermDays)
		assert.Equal(t, 52, s.BradfordWindowWeeks)
		assert.Equal(t, 260, s.WorkingDaysPerYear)
	})

	t.Run("invalid threshold is a validation error", func(t *testing.T) {
		_, err := ParseSettings("org-1", []byte(`{"long_term_days": 0}`))
		assert.True(t, errors.Is(err, generic.ErrValidation))
	})

	t.Run("encode then parse keeps values", func(t *testing.T) {
		in := sickness.OrganisationSettings{OrganisationID: "org-1", LongTermDays: 21, BradfordWindowWeeks: 26, WorkingDaysPerYear: 250}
		raw, err := EncodeSettings(in)
		require.NoError(t, err)
		out, err := ParseSettings("org-1", raw)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}

func TestFromTriggerConfigJSON(t *testing.T) {
	cfg, err := FromTriggerConfigJSON("t1", "org-1", TriggerConfigJSON{Type: "BRADFORD", Threshold: 200})
	require.NoError(t, err)
	assert.True(t, cfg.Active)
	assert.Equal(t, sickness.TriggerBradford, cfg.Type)

	_, err = FromTriggerConfigJSON("t1", "org-1", TriggerConfigJSON{Type: "SOMETHING", Threshold: 1})
	assert.True(t, errors.Is(err, generic.ErrValidation))

	_, err = FromTriggerConfigJSON("t1", "org-1", TriggerConfigJSON{Type: "FREQUENCY", Threshold: 0})
	assert.True(t, errors.Is(err, generic.ErrValidation))
}
