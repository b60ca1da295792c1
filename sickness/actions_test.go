package sickness_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// =============================================================================
// MILESTONE ACTION TRACKER
// =============================================================================

func TestGetOrCreateActions_MaterializesOncePerMilestone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.report(t, tenantA, "emp-1", "2026-03-02")

	// WHEN: actions are requested for the first time
	first, err := f.svc.GetOrCreateActions(ctx, tenantA, c.ID)
	require.NoError(t, err)

	// THEN: one PENDING record per default milestone, due start+offset
	require.Len(t, first, 7)
	for _, a := range first {
		assert.Equal(t, sickness.ActionPending, a.Status)
		assert.Equal(t, c.ID, a.CaseID)
		assert.Equal(t, orgA, a.OrganisationID)
		assert.Nil(t, a.CompletedAt)
	}
	assert.Equal(t, sickness.MilestoneKey("first_contact"), first[0].MilestoneKey)
	assert.Equal(t, "2026-03-03", first[0].DueDate.String())

	// WHEN: requested again
	second, err := f.svc.GetOrCreateActions(ctx, tenantA, c.ID)
	require.NoError(t, err)

	// THEN: the same records come back
	require.Len(t, second, 7)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestGetOrCreateActions_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.report(t, tenantA, "emp-1", "2026-03-02")

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]sickness.MilestoneAction, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.GetOrCreateActions(ctx, tenantA, c.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, results[i], 7)
		assert.Equal(t, results[0][0].ID, results[i][0].ID)
	}

	materialized := 0
	for _, a := range f.audit.PublishedActions() {
		if a == generic.AuditActionsMaterialized {
			materialized++
		}
	}
	assert.Equal(t, 1, materialized)
}

func TestGetOrCreateActions_UsesOverriddenCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetMilestoneOverride(ctx, tenantA, orgA, sickness.MilestoneOverride{
		Key: "ssp_exhaustion", Label: "SSP exhaustion", DayOffset: 196, Active: false,
	}, manager)
	require.NoError(t, err)

	c := f.report(t, tenantA, "emp-1", "2026-03-02")
	actions, err := f.svc.GetOrCreateActions(ctx, tenantA, c.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 6)
}

func TestUpdateActionStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.report(t, tenantA, "emp-1", "2026-03-02")
	actions, err := f.svc.GetOrCreateActions(ctx, tenantA, c.ID)
	require.NoError(t, err)
	id := actions[0].ID

	t.Run("completed without a date defaults to today", func(t *testing.T) {
		notes := "called, back next week"
		got, err := f.svc.UpdateActionStatus(ctx, tenantA, id, sickness.UpdateAction{
			Status: "COMPLETED", Notes: &notes,
		}, manager)
		require.NoError(t, err)
		assert.Equal(t, sickness.ActionCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.Equal(t, "2026-03-10", got.CompletedAt.String())
		require.NotNil(t, got.CompletedBy)
		assert.Equal(t, manager, *got.CompletedBy)
		assert.Equal(t, notes, *got.Notes)
	})

	t.Run("explicit completion date", func(t *testing.T) {
		got, err := f.svc.UpdateActionStatus(ctx, tenantA, id, sickness.UpdateAction{
			Status: "COMPLETED", CompletedAt: "2026-03-04",
		}, manager)
		require.NoError(t, err)
		assert.Equal(t, "2026-03-04", got.CompletedAt.String())
	})

	t.Run("pending clears completion fields", func(t *testing.T) {
		got, err := f.svc.UpdateActionStatus(ctx, tenantA, id, sickness.UpdateAction{Status: "PENDING"}, manager)
		require.NoError(t, err)
		assert.Equal(t, sickness.ActionPending, got.Status)
		assert.Nil(t, got.CompletedAt)
		assert.Nil(t, got.CompletedBy)
		assert.Nil(t, got.Notes)

		stored, err := f.svc.GetOrCreateActions(ctx, tenantA, c.ID)
		require.NoError(t, err)
		assert.Nil(t, stored[0].CompletedAt)
	})

	t.Run("pending ignores a supplied completion date and notes", func(t *testing.T) {
		// GIVEN: the action is completed with notes
		notes := "spoke to employee"
		_, err := f.svc.UpdateActionStatus(ctx, tenantA, id, sickness.UpdateAction{
			Status: "COMPLETED", CompletedAt: "2026-03-04", Notes: &notes,
		}, manager)
		require.NoError(t, err)

		// WHEN: it is reset to PENDING with a date and notes in the same call
		again := "x"
		got, err := f.svc.UpdateActionStatus(ctx, tenantA, id, sickness.UpdateAction{
			Status: "PENDING", CompletedAt: "2026-03-04", Notes: &again,
		}, manager)

		// THEN: completion fields and notes are cleared, returned and stored
		require.NoError(t, err)
		assert.Equal(t, sickness.ActionPending, got.Status)
		assert.Nil(t, got.CompletedAt)
		assert.Nil(t, got.CompletedBy)
		assert.Nil(t, got.Notes)

		stored, err := f.svc.GetOrCreateActions(ctx, tenantA, c.ID)
		require.NoError(t, err)
		assert.Equal(t, sickness.ActionPending, stored[0].Status)
		assert.Nil(t, stored[0].CompletedAt)
		assert.Nil(t, stored[0].CompletedBy)
		assert.Nil(t, stored[0].Notes)
	})

	t.Run("malformed completion date writes nothing", func(t *testing.T) {
		_, err := f.svc.UpdateActionStatus(ctx, tenantA, id, sickness.UpdateAction{
			Status: "COMPLETED", CompletedAt: "2026-02-30",
		}, manager)
		var ve *generic.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "completed_at", ve.Field)

		stored, err := f.svc.GetOrCreateActions(ctx, tenantA, c.ID)
		require.NoError(t, err)
		assert.Equal(t, sickness.ActionPending, stored[0].Status)
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := f.svc.UpdateActionStatus(ctx, tenantA, id, sickness.UpdateAction{Status: "DONE"}, manager)
		assert.True(t, errors.Is(err, generic.ErrValidation))
	})

	t.Run("foreign tenant", func(t *testing.T) {
		_, err := f.svc.UpdateActionStatus(ctx, tenantB, id, sickness.UpdateAction{Status: "IN_PROGRESS"}, manager)
		assert.True(t, generic.IsNotFound(err))
	})
}

// =============================================================================
// MILESTONE CATALOG AND TIMELINE
// =============================================================================

func TestMilestoneOverride_SetAndRevert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: organisation A moves its welfare check to day 10
	_, err := f.svc.SetMilestoneOverride(ctx, tenantA, orgA, sickness.MilestoneOverride{
		Key: "welfare_check", Label: "Wellbeing call", DayOffset: 10, Active: true,
	}, manager)
	require.NoError(t, err)

	find := func(ms []sickness.MilestoneConfig, key sickness.MilestoneKey) sickness.MilestoneConfig {
		for _, m := range ms {
			if m.Key == key {
				return m
			}
		}
		t.Fatalf("milestone %s not found", key)
		return sickness.MilestoneConfig{}
	}

	// THEN: A sees the override, B still sees the default
	a, err := f.svc.EffectiveMilestones(ctx, tenantA, orgA)
	require.NoError(t, err)
	assert.Equal(t, 10, find(a, "welfare_check").DayOffset)
	assert.Equal(t, "Wellbeing call", find(a, "welfare_check").Label)

	b, err := f.svc.EffectiveMilestones(ctx, tenantB, orgB)
	require.NoError(t, err)
	assert.Equal(t, 14, find(b, "welfare_check").DayOffset)

	// AND: A's case timeline uses the overridden offset
	c := f.report(t, tenantA, "emp-1", "2026-03-01")
	timeline, err := f.svc.CaseTimeline(ctx, tenantA, c.ID)
	require.NoError(t, err)
	for _, e := range timeline {
		if e.Milestone.Key == "welfare_check" {
			assert.Equal(t, "2026-03-11", e.DueDate.String())
			assert.Equal(t, sickness.TimelineUpcoming, e.Status)
		}
	}

	// WHEN: the override is deleted
	require.NoError(t, f.svc.DeleteMilestoneOverride(ctx, tenantA, orgA, "welfare_check", manager))

	// THEN: the default comes back
	a, err = f.svc.EffectiveMilestones(ctx, tenantA, orgA)
	require.NoError(t, err)
	assert.Equal(t, 14, find(a, "welfare_check").DayOffset)

	// AND: deleting again is not found
	err = f.svc.DeleteMilestoneOverride(ctx, tenantA, orgA, "welfare_check", manager)
	assert.True(t, generic.IsNotFound(err))
}

func TestMilestoneOverride_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetMilestoneOverride(ctx, tenantA, orgA, sickness.MilestoneOverride{
		Key: "made_up", Label: "Made up", DayOffset: 3, Active: true,
	}, manager)
	assert.True(t, generic.IsNotFound(err), "override needs a default")

	_, err = f.svc.SetMilestoneOverride(ctx, tenantA, orgA, sickness.MilestoneOverride{
		Key: "welfare_check", Label: "Welfare", DayOffset: 0, Active: true,
	}, manager)
	assert.True(t, errors.Is(err, generic.ErrValidation))

	_, err = f.svc.SetMilestoneOverride(ctx, tenantA, orgB, sickness.MilestoneOverride{
		Key: "welfare_check", Label: "Welfare", DayOffset: 10, Active: true,
	}, manager)
	assert.True(t, generic.IsNotFound(err), "cannot override another organisation")
}

func TestMilestoneGuidance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	catalog, err := factory.DefaultCatalog()
	require.NoError(t, err)

	var defaultText string
	for _, g := range catalog.Guidance {
		if g.Key == "welfare_check" {
			defaultText = g.Content
		}
	}
	require.NotEmpty(t, defaultText)

	got, err := f.svc.MilestoneGuidance(ctx, tenantA, orgA, "welfare_check")
	require.NoError(t, err)
	assert.Equal(t, defaultText, got)

	require.NoError(t, f.svc.SetGuidanceOverride(ctx, tenantA, orgA, "welfare_check", "Use our script.", manager))
	got, err = f.svc.MilestoneGuidance(ctx, tenantA, orgA, "welfare_check")
	require.NoError(t, err)
	assert.Equal(t, "Use our script.", got)

	other, err := f.svc.MilestoneGuidance(ctx, tenantB, orgB, "welfare_check")
	require.NoError(t, err)
	assert.Equal(t, defaultText, other)

	require.NoError(t, f.svc.DeleteGuidanceOverride(ctx, tenantA, orgA, "welfare_check", manager))
	got, err = f.svc.MilestoneGuidance(ctx, tenantA, orgA, "welfare_check")
	require.NoError(t, err)
	assert.Equal(t, defaultText, got)

	_, err = f.svc.MilestoneGuidance(ctx, tenantA, orgA, "made_up")
	assert.True(t, generic.IsNotFound(err))
}

func TestSeedDefaults_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	catalog, err := factory.DefaultCatalog()
	require.NoError(t, err)

	require.NoError(t, f.svc.SeedDefaults(ctx, catalog))

	ms, err := f.svc.EffectiveMilestones(ctx, tenantA, orgA)
	require.NoError(t, err)
	assert.Len(t, ms, 7)
}

// =============================================================================
// BRADFORD FACTOR AND TRIGGERS
// =============================================================================

func TestBradfordFactor_RollingWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: one spell just outside the window and two inside
	f.reportClosed(t, tenantA, "emp-1", "2025-03-10", "2025-03-12", 3)
	f.reportClosed(t, tenantA, "emp-1", "2025-06-02", "2025-06-05", 4)
	f.reportClosed(t, tenantA, "emp-1", "2025-11-03", "2025-11-10", 6)
	f.reportClosed(t, tenantA, "emp-2", "2025-11-03", "2025-11-10", 6)

	// WHEN: scoring on 2026-03-10
	r, err := f.svc.BradfordFactor(ctx, tenantA, "emp-1")
	require.NoError(t, err)

	// THEN: 2 spells, 10 days
	assert.Equal(t, "2025-03-11", r.Window.Start.String())
	assert.Equal(t, "2026-03-10", r.Window.End.String())
	assert.Equal(t, 2, r.Spells)
	assert.Equal(t, 10, r.TotalDays)
	assert.Equal(t, 40, r.Score)
	assert.Equal(t, sickness.RiskLow, r.RiskLevel)
	assert.Equal(t, "3.85", r.AbsenceRate.StringFixed(2))

	// AND: another organisation's records are invisible
	other, err := f.svc.BradfordFactor(ctx, tenantB, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Score)
}

func TestBradfordFactor_ScoredWithinOneOrganisation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: organisation A scores over a 4 week window, and emp-1 also exists in B
	settings := sickness.DefaultSettings(orgA)
	settings.BradfordWindowWeeks = 4
	_, err := f.svc.UpdateSettings(ctx, tenantA, settings, manager)
	require.NoError(t, err)
	f.reportClosed(t, tenantA, "emp-1", "2026-01-05", "2026-01-05", 1)
	f.reportClosed(t, tenantA, "emp-1", "2026-03-02", "2026-03-03", 2)
	f.reportClosed(t, tenantB, "emp-1", "2026-03-04", "2026-03-04", 1)

	// WHEN: a platform administrator scores emp-1 within organisation A
	admin := generic.AdminTenant()
	admin.OrganisationID = orgA
	r, err := f.svc.BradfordFactor(ctx, admin, "emp-1")
	require.NoError(t, err)

	// THEN: A's window applies and B's spell is not counted
	assert.Equal(t, "2026-02-10", r.Window.Start.String())
	assert.Equal(t, 1, r.Spells)
	assert.Equal(t, 2, r.TotalDays)

	// AND: an administrator without an organisation is refused
	_, err = f.svc.BradfordFactor(ctx, generic.AdminTenant(), "emp-1")
	var verr *generic.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "organisation_id", verr.Field)
}

func TestBradfordFactor_OngoingAbsence(t *testing.T) {
	f := newFixture(t)
	f.report(t, tenantA, "emp-1", "2026-03-09")

	r, err := f.svc.BradfordFactor(context.Background(), tenantA, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Spells)
	assert.Equal(t, 2, r.TotalDays)
	assert.Equal(t, 2, r.Score)
}

func TestEvaluateTriggers_OpensAlertOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.reportClosed(t, tenantA, "emp-1", "2025-04-01", "2025-04-07", 5)
	f.reportClosed(t, tenantA, "emp-1", "2025-08-11", "2025-08-18", 6)
	f.reportClosed(t, tenantA, "emp-1", "2026-01-05", "2026-01-14", 9)

	_, err := f.svc.SetTriggerConfig(ctx, tenantA, sickness.TriggerConfig{
		ID: "bradford-100", Type: sickness.TriggerBradford, Threshold: 100, Active: true,
	}, manager)
	require.NoError(t, err)
	_, err = f.svc.SetTriggerConfig(ctx, tenantA, sickness.TriggerConfig{
		ID: "frequency-4", Type: sickness.TriggerFrequency, Threshold: 4, Active: true,
	}, manager)
	require.NoError(t, err)
	_, err = f.svc.SetTriggerConfig(ctx, tenantA, sickness.TriggerConfig{
		ID: "duration-10", Type: sickness.TriggerDuration, Threshold: 10, Active: false,
	}, manager)
	require.NoError(t, err)

	// WHEN: evaluated (score 180, 3 spells)
	alerts, err := f.svc.EvaluateTriggers(ctx, tenantA, "emp-1")
	require.NoError(t, err)

	// THEN: only the Bradford trigger fires
	require.Len(t, alerts, 1)
	assert.Equal(t, "bradford-100", alerts[0].TriggerConfigID)
	assert.Equal(t, 180, alerts[0].Observed)
	assert.Equal(t, sickness.AlertOpen, alerts[0].Status)

	// WHEN: evaluated again
	again, err := f.svc.EvaluateTriggers(ctx, tenantA, "emp-1")
	require.NoError(t, err)

	// THEN: the open alert is not duplicated
	require.Len(t, again, 1)
	assert.Equal(t, alerts[0].ID, again[0].ID)

	fired := 0
	for _, a := range f.audit.PublishedActions() {
		if a == generic.AuditTriggerFired {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
}

func TestSetTriggerConfig_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetTriggerConfig(ctx, tenantA, sickness.TriggerConfig{
		ID: "t", Type: "HEADCOUNT", Threshold: 1, Active: true,
	}, manager)
	assert.True(t, errors.Is(err, generic.ErrValidation))

	_, err = f.svc.SetTriggerConfig(ctx, tenantA, sickness.TriggerConfig{
		ID: "t", Type: sickness.TriggerBradford, Threshold: 0, Active: true,
	}, manager)
	assert.True(t, errors.Is(err, generic.ErrValidation))

	_, err = f.svc.SetTriggerConfig(ctx, tenantA, sickness.TriggerConfig{
		ID: "t", OrganisationID: orgB, Type: sickness.TriggerBradford, Threshold: 50, Active: true,
	}, manager)
	assert.True(t, generic.IsNotFound(err))
}
