package sqlite

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	orgA    = generic.OrganisationID("org-a")
	tenantA = generic.ForOrganisation(orgA)
	tenantB = generic.ForOrganisation("org-b")
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testCase(id string) sickness.Case {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return sickness.Case{
		ID:             sickness.CaseID(id),
		OrganisationID: orgA,
		EmployeeID:     "emp-1",
		ReporterID:     "manager-1",
		Status:         sickness.StatusReported,
		AbsenceType:    sickness.AbsenceSickness,
		AbsenceStart:   generic.MustParseDate("2026-03-09"),
		Notes:          "back pain, GP appointment Thursday",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func createCase(t *testing.T, s *Store, c sickness.Case) {
	t.Helper()
	err := s.WithTenant(context.Background(), tenantA, func(ctx context.Context, tx sickness.Tx) error {
		if err := tx.CreateCase(ctx, c); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, sickness.CaseTransition{
			ID:             "tr-" + string(c.ID),
			CaseID:         c.ID,
			OrganisationID: c.OrganisationID,
			ToStatus:       sickness.StatusReported,
			Action:         sickness.ActionReport,
			PerformedBy:    c.ReporterID,
			At:             c.CreatedAt,
		})
	})
	require.NoError(t, err)
}

func getCase(s *Store, tenant generic.Tenant, id sickness.CaseID) (*sickness.Case, error) {
	var c *sickness.Case
	err := s.WithTenant(context.Background(), tenant, func(ctx context.Context, tx sickness.Tx) error {
		var err error
		c, err = tx.GetCase(ctx, id)
		return err
	})
	return c, err
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func TestWithTenant_NestedCallJoinsTransaction(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTenant(context.Background(), tenantA, func(ctx context.Context, outer sickness.Tx) error {
		require.NoError(t, outer.CreateCase(ctx, testCase("case-1")))

		// A nested unit of work for the same tenant sees the uncommitted row
		return s.WithTenant(ctx, tenantA, func(ctx context.Context, inner sickness.Tx) error {
			assert.Same(t, outer, inner)
			c, err := inner.GetCase(ctx, "case-1")
			require.NoError(t, err)
			assert.Equal(t, sickness.StatusReported, c.Status)
			return nil
		})
	})
	require.NoError(t, err)
}

func TestWithTenant_NestedCallForOtherTenantFails(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTenant(context.Background(), tenantA, func(ctx context.Context, _ sickness.Tx) error {
		return s.WithTenant(ctx, tenantB, func(context.Context, sickness.Tx) error {
			t.Fatal("must not run")
			return nil
		})
	})
	assert.True(t, errors.Is(err, generic.ErrTenantMismatch))
}

func TestWithTenant_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.WithTenant(context.Background(), tenantA, func(ctx context.Context, tx sickness.Tx) error {
		require.NoError(t, tx.CreateCase(ctx, testCase("case-1")))
		return boom
	})
	assert.Same(t, boom, err)

	_, err = getCase(s, tenantA, "case-1")
	assert.True(t, generic.IsNotFound(err))
}

func TestWithTenant_RollsBackOnPanic(t *testing.T) {
	s := newTestStore(t)

	assert.Panics(t, func() {
		_ = s.WithTenant(context.Background(), tenantA, func(ctx context.Context, tx sickness.Tx) error {
			require.NoError(t, tx.CreateCase(ctx, testCase("case-1")))
			panic("unexpected")
		})
	})

	// The store is usable again and nothing was committed
	_, err := getCase(s, tenantA, "case-1")
	assert.True(t, generic.IsNotFound(err))
}

func TestWithTenant_RejectsUnscopedTenant(t *testing.T) {
	s := newTestStore(t)
	err := s.WithTenant(context.Background(), generic.Tenant{}, func(context.Context, sickness.Tx) error {
		t.Fatal("must not run")
		return nil
	})
	assert.True(t, errors.Is(err, generic.ErrValidation))
}

// =============================================================================
// TENANT PREDICATE
// =============================================================================

func TestTenantPredicate(t *testing.T) {
	s := newTestStore(t)
	createCase(t, s, testCase("case-1"))

	_, err := getCase(s, tenantB, "case-1")
	assert.True(t, generic.IsNotFound(err))

	c, err := getCase(s, generic.AdminTenant(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, orgA, c.OrganisationID)

	// Writing a row for another organisation is refused
	err = s.WithTenant(context.Background(), tenantB, func(ctx context.Context, tx sickness.Tx) error {
		return tx.CreateCase(ctx, testCase("case-2"))
	})
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// CASE UPDATES
// =============================================================================

func TestUpdateCaseStatus_ConditionalOnPriorStatus(t *testing.T) {
	s := newTestStore(t)
	createCase(t, s, testCase("case-1"))
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	err := s.WithTenant(context.Background(), tenantA, func(ctx context.Context, tx sickness.Tx) error {
		return tx.UpdateCaseStatus(ctx, "case-1", sickness.StatusTracking, sickness.StatusFitNoteReceived, at)
	})
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification))

	err = s.WithTenant(context.Background(), tenantA, func(ctx context.Context, tx sickness.Tx) error {
		return tx.UpdateCaseStatus(ctx, "case-1", sickness.StatusReported, sickness.StatusTracking, at)
	})
	require.NoError(t, err)

	c, err := getCase(s, tenantA, "case-1")
	require.NoError(t, err)
	assert.Equal(t, sickness.StatusTracking, c.Status)
	assert.True(t, c.UpdatedAt.Equal(at))
}

func TestUpdateAbsence_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	createCase(t, s, testCase("case-1"))
	end := generic.MustParseDate("2026-03-13")
	days := 5

	err := s.WithTenant(context.Background(), tenantA, func(ctx context.Context, tx sickness.Tx) error {
		return tx.UpdateAbsence(ctx, "case-1", &end, &days, time.Now())
	})
	require.NoError(t, err)

	c, err := getCase(s, tenantA, "case-1")
	require.NoError(t, err)
	require.NotNil(t, c.AbsenceEnd)
	assert.Equal(t, "2026-03-13", c.AbsenceEnd.String())
	assert.Equal(t, 5, *c.WorkingDaysLost)

	// Working days lost cannot outlive the end date
	err = s.WithTenant(context.Background(), tenantA, func(ctx context.Context, tx sickness.Tx) error {
		return tx.UpdateAbsence(ctx, "case-1", nil, &days, time.Now())
	})
	assert.Error(t, err)
}

// =============================================================================
// APPEND-ONLY TABLES
// =============================================================================

func TestAppendOnlyTables(t *testing.T) {
	s := newTestStore(t)
	createCase(t, s, testCase("case-1"))
	require.NoError(t, s.WithTenant(context.Background(), tenantA, func(ctx context.Context, tx sickness.Tx) error {
		return tx.AppendAudit(ctx, generic.AuditRecord{
			ID: "audit-1", ActorID: "manager-1", OrganisationID: &orgA,
			Action: generic.AuditCaseReported, Entity: "sickness_case", EntityID: "case-1",
			At: time.Now(),
		})
	}))

	statements := []string{
		`UPDATE case_transitions SET to_status = 'CLOSED'`,
		`DELETE FROM case_transitions`,
		`UPDATE audit_log SET action = 'tampered'`,
		`DELETE FROM audit_log`,
		`DELETE FROM sickness_cases`,
	}
	for _, stmt := range statements {
		_, err := s.db.Exec(stmt)
		require.Error(t, err, stmt)
	}

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM case_transitions`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&n))
	assert.Equal(t, 1, n)
}

// =============================================================================
// MILESTONE CATALOG
// =============================================================================

func TestMilestoneCatalog_DefaultsAndOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	welfare := sickness.MilestoneConfig{Key: "welfare_check", Label: "Welfare check", DayOffset: 14, Active: true}
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// Defaults are written by platform administrators only
	err := s.WithTenant(ctx, tenantA, func(ctx context.Context, tx sickness.Tx) error {
		return tx.UpsertDefaultMilestone(ctx, welfare, at)
	})
	assert.ErrorIs(t, err, errDefaultsReadOnly)

	// Upserting a default twice keeps one row
	for _, offset := range []int{14, 15} {
		welfare.DayOffset = offset
		require.NoError(t, s.WithTenant(ctx, generic.AdminTenant(), func(ctx context.Context, tx sickness.Tx) error {
			return tx.UpsertDefaultMilestone(ctx, welfare, at)
		}))
	}

	// Each organisation keeps its own override of the same key
	for _, org := range []generic.OrganisationID{"org-a", "org-b"} {
		o := welfare
		o.OrganisationID = &org
		o.DayOffset = 10
		require.NoError(t, s.WithTenant(ctx, generic.ForOrganisation(org), func(ctx context.Context, tx sickness.Tx) error {
			return tx.UpsertMilestoneOverride(ctx, o, at)
		}))
	}

	err = s.WithTenant(ctx, tenantA, func(ctx context.Context, tx sickness.Tx) error {
		defaults, err := tx.DefaultMilestones(ctx)
		require.NoError(t, err)
		require.Len(t, defaults, 1)
		assert.Equal(t, 15, defaults[0].DayOffset)
		assert.True(t, defaults[0].IsDefault)
		assert.Nil(t, defaults[0].OrganisationID)

		overrides, err := tx.MilestoneOverrides(ctx, orgA)
		require.NoError(t, err)
		require.Len(t, overrides, 1)
		assert.Equal(t, 10, overrides[0].DayOffset)

		// The other organisation's override is invisible
		foreign, err := tx.MilestoneOverrides(ctx, "org-b")
		require.NoError(t, err)
		assert.Empty(t, foreign)

		deleted, err := tx.DeleteMilestoneOverride(ctx, "org-b", "welfare_check")
		require.NoError(t, err)
		assert.False(t, deleted)
		return nil
	})
	require.NoError(t, err)
}

func TestCatalogWrites_StampCallerTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 12, 1, 8, 30, 0, 0, time.UTC)
	org := orgA

	require.NoError(t, s.WithTenant(ctx, generic.AdminTenant(), func(ctx context.Context, tx sickness.Tx) error {
		if err := tx.UpsertDefaultMilestone(ctx, sickness.MilestoneConfig{Key: "first_contact", Label: "First contact", DayOffset: 1, Active: true}, at); err != nil {
			return err
		}
		return tx.UpsertDefaultGuidance(ctx, sickness.Guidance{Key: "first_contact", Content: "Call the employee"}, at)
	}))
	require.NoError(t, s.WithTenant(ctx, tenantA, func(ctx context.Context, tx sickness.Tx) error {
		if err := tx.UpsertGuidanceOverride(ctx, sickness.Guidance{OrganisationID: &org, Key: "first_contact", Content: "Text first"}, at); err != nil {
			return err
		}
		if err := tx.SaveSettings(ctx, sickness.DefaultSettings(orgA), at); err != nil {
			return err
		}
		return tx.SaveTriggerConfig(ctx, sickness.TriggerConfig{ID: "t-1", OrganisationID: orgA, Type: sickness.TriggerFrequency, Threshold: 3, Active: true}, at)
	}))

	for _, table := range []string{"milestone_configs", "milestone_guidance", "organisation_settings", "trigger_configs"} {
		var stamps []string
		rows, err := s.db.Query(`SELECT updated_at FROM ` + table)
		require.NoError(t, err)
		for rows.Next() {
			var v string
			require.NoError(t, rows.Scan(&v))
			stamps = append(stamps, v)
		}
		require.NoError(t, rows.Close())
		require.NotEmpty(t, stamps, table)
		for _, v := range stamps {
			assert.Equal(t, formatTime(at), v, table)
		}
	}
}

// =============================================================================
// ENCRYPTION AT REST
// =============================================================================

func TestCaseNotes_SealedAtRest(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	sealer, err := generic.NewAESSealerFromBase64(key)
	require.NoError(t, err)
	s := newTestStore(t, WithSealer(sealer))

	createCase(t, s, testCase("case-1"))

	var stored string
	require.NoError(t, s.db.QueryRow(`SELECT notes FROM sickness_cases WHERE id = 'case-1'`).Scan(&stored))
	assert.True(t, strings.HasPrefix(stored, "v1:"))
	assert.NotContains(t, stored, "back pain")

	c, err := getCase(s, tenantA, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "back pain, GP appointment Thursday", c.Notes)
}

// =============================================================================
// SETTINGS, TRIGGERS, AUDIT
// =============================================================================

func TestSettings_StoredAsDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTenant(ctx, tenantA, func(ctx context.Context, tx sickness.Tx) error {
		none, err := tx.Settings(ctx, orgA)
		require.NoError(t, err)
		assert.Nil(t, none)

		want := sickness.DefaultSettings(orgA)
		want.LongTermDays = 20
		require.NoError(t, tx.SaveSettings(ctx, want, time.Now()))

		got, err := tx.Settings(ctx, orgA)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, *got)
		return nil
	})
	require.NoError(t, err)
}

func TestTriggerConfig_OwnedByOneOrganisation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := sickness.TriggerConfig{ID: "t-1", OrganisationID: orgA, Type: sickness.TriggerBradford, Threshold: 100, Active: true}

	require.NoError(t, s.WithTenant(ctx, tenantA, func(ctx context.Context, tx sickness.Tx) error {
		return tx.SaveTriggerConfig(ctx, cfg, time.Now())
	}))

	// Another organisation reusing the id does not take it over
	hijack := cfg
	hijack.OrganisationID = "org-b"
	err := s.WithTenant(ctx, tenantB, func(ctx context.Context, tx sickness.Tx) error {
		return tx.SaveTriggerConfig(ctx, hijack, time.Now())
	})
	assert.True(t, generic.IsNotFound(err))

	// Only one open alert per trigger and employee
	require.NoError(t, s.WithTenant(ctx, tenantA, func(ctx context.Context, tx sickness.Tx) error {
		alert := sickness.TriggerAlert{
			TriggerConfigID: "t-1", OrganisationID: orgA, EmployeeID: "emp-1",
			TriggerType: sickness.TriggerBradford, Observed: 180, Threshold: 100,
			Status: sickness.AlertOpen, CreatedAt: time.Now(),
		}
		alert.ID = "alert-1"
		inserted, err := tx.InsertAlert(ctx, alert)
		require.NoError(t, err)
		assert.True(t, inserted)

		alert.ID = "alert-2"
		inserted, err = tx.InsertAlert(ctx, alert)
		require.NoError(t, err)
		assert.False(t, inserted)

		alerts, err := tx.ListAlerts(ctx, "emp-1")
		require.NoError(t, err)
		assert.Len(t, alerts, 1)
		return nil
	}))
}

func TestAuditTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.WithTenant(ctx, tenantA, func(ctx context.Context, tx sickness.Tx) error {
		for i, action := range []generic.AuditAction{generic.AuditCaseReported, generic.AuditCaseTransitioned} {
			if err := tx.AppendAudit(ctx, generic.AuditRecord{
				ID: generic.NewID(), ActorID: "manager-1", OrganisationID: &orgA,
				Action: action, Entity: "sickness_case", EntityID: "case-1",
				Metadata: map[string]any{"step": i},
				At:       base.Add(time.Duration(i) * time.Millisecond),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	trail, err := s.AuditTrail(ctx, tenantA, orgA)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, generic.AuditCaseReported, trail[0].Action)
	assert.Equal(t, generic.AuditCaseTransitioned, trail[1].Action)
	assert.Equal(t, float64(1), trail[1].Metadata["step"])
	assert.True(t, trail[1].At.Equal(base.Add(time.Millisecond)))

	foreign, err := s.AuditTrail(ctx, tenantB, orgA)
	require.NoError(t, err)
	assert.Empty(t, foreign)
}
