package postgres

import "fmt"

// =============================================================================
// SCHEMA
// =============================================================================

// tenantTables carry organisation_id NOT NULL and the plain isolation policy.
var tenantTables = []string{
	"sickness_cases",
	"case_transitions",
	"milestone_actions",
	"organisation_settings",
	"trigger_configs",
	"trigger_alerts",
}

// catalogTables mix shared default rows (organisation_id NULL) with overrides.
var catalogTables = []string{
	"milestone_configs",
	"milestone_guidance",
}

const (
	orgMatch = `organisation_id = current_setting('app.organisation_id', true)`
	isAdmin  = `current_setting('app.platform_admin', true) = 'true'`
)

var tableStatements = []string{
	`CREATE TABLE IF NOT EXISTS sickness_cases (
		id TEXT PRIMARY KEY,
		organisation_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		reporter_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN
			('REPORTED','TRACKING','FIT_NOTE_RECEIVED','RTW_SCHEDULED','RTW_COMPLETED','CLOSED')),
		absence_type TEXT NOT NULL,
		absence_start DATE NOT NULL,
		absence_end DATE,
		working_days_lost INTEGER,
		long_term BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (absence_end IS NULL OR absence_end >= absence_start),
		CHECK (absence_end IS NOT NULL OR working_days_lost IS NULL)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cases_org_employee_start
		ON sickness_cases(organisation_id, employee_id, absence_start)`,
	`CREATE INDEX IF NOT EXISTS idx_cases_org_status
		ON sickness_cases(organisation_id, status)`,

	`CREATE TABLE IF NOT EXISTS case_transitions (
		seq BIGSERIAL UNIQUE,
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL REFERENCES sickness_cases(id),
		organisation_id TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		action TEXT NOT NULL,
		performed_by TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_case_transitions_case
		ON case_transitions(case_id, seq)`,

	`CREATE TABLE IF NOT EXISTS milestone_configs (
		id BIGSERIAL PRIMARY KEY,
		organisation_id TEXT,
		milestone_key TEXT NOT NULL,
		label TEXT NOT NULL,
		day_offset INTEGER NOT NULL CHECK (day_offset >= 1),
		description TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_milestone_default
		ON milestone_configs(milestone_key) WHERE organisation_id IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_milestone_override
		ON milestone_configs(organisation_id, milestone_key) WHERE organisation_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS milestone_guidance (
		id BIGSERIAL PRIMARY KEY,
		organisation_id TEXT,
		milestone_key TEXT NOT NULL,
		content TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_guidance_default
		ON milestone_guidance(milestone_key) WHERE organisation_id IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_guidance_override
		ON milestone_guidance(organisation_id, milestone_key) WHERE organisation_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS milestone_actions (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL REFERENCES sickness_cases(id),
		organisation_id TEXT NOT NULL,
		milestone_key TEXT NOT NULL,
		due_date DATE NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('PENDING','IN_PROGRESS','COMPLETED')),
		completed_at DATE,
		completed_by TEXT,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (case_id, milestone_key)
	)`,

	`CREATE TABLE IF NOT EXISTS organisation_settings (
		organisation_id TEXT PRIMARY KEY,
		settings JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trigger_configs (
		id TEXT PRIMARY KEY,
		organisation_id TEXT NOT NULL,
		trigger_type TEXT NOT NULL CHECK (trigger_type IN ('BRADFORD','FREQUENCY','DURATION')),
		threshold INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trigger_configs_org ON trigger_configs(organisation_id)`,

	`CREATE TABLE IF NOT EXISTS trigger_alerts (
		id TEXT PRIMARY KEY,
		trigger_config_id TEXT NOT NULL REFERENCES trigger_configs(id),
		organisation_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		observed INTEGER NOT NULL,
		threshold INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'OPEN',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_trigger_alert_open
		ON trigger_alerts(trigger_config_id, employee_id) WHERE status = 'OPEN'`,
	`CREATE INDEX IF NOT EXISTS idx_trigger_alerts_employee
		ON trigger_alerts(organisation_id, employee_id)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGSERIAL UNIQUE,
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		organisation_id TEXT,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_org ON audit_log(organisation_id, seq)`,

	`CREATE OR REPLACE FUNCTION absence_reject_change() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION '% rows cannot be %d', TG_TABLE_NAME, lower(TG_OP);
	END;
	$$ LANGUAGE plpgsql`,
}

// appendOnly maps table -> operations rejected by trigger.
var appendOnly = []struct {
	table string
	ops   string
}{
	{"sickness_cases", "DELETE"},
	{"case_transitions", "UPDATE OR DELETE"},
	{"audit_log", "UPDATE OR DELETE"},
}

// schemaStatements returns the full, idempotent migration.
func schemaStatements() []string {
	stmts := append([]string(nil), tableStatements...)

	for _, a := range appendOnly {
		trigger := "trg_" + a.table + "_reject_change"
		stmts = append(stmts,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trigger, a.table),
			fmt.Sprintf(`CREATE TRIGGER %s BEFORE %s ON %s
				FOR EACH ROW EXECUTE FUNCTION absence_reject_change()`, trigger, a.ops, a.table),
		)
	}

	for _, table := range tenantTables {
		stmts = append(stmts, rlsStatements(table,
			fmt.Sprintf("(%s OR %s)", orgMatch, isAdmin),
			fmt.Sprintf("(%s OR %s)", orgMatch, isAdmin))...)
	}
	for _, table := range catalogTables {
		stmts = append(stmts, rlsStatements(table,
			fmt.Sprintf("(organisation_id IS NULL OR %s OR %s)", orgMatch, isAdmin),
			fmt.Sprintf("((organisation_id IS NOT NULL AND %s) OR %s)", orgMatch, isAdmin))...)
	}
	// Platform-wide audit records (no organisation) are written by administrators.
	stmts = append(stmts, rlsStatements("audit_log",
		fmt.Sprintf("(%s OR %s)", orgMatch, isAdmin),
		fmt.Sprintf("(%s OR %s)", orgMatch, isAdmin))...)

	return stmts
}

func rlsStatements(table, using, check string) []string {
	policy := table + "_tenant_isolation"
	return []string{
		fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, table),
		fmt.Sprintf(`ALTER TABLE %s FORCE ROW LEVEL SECURITY`, table),
		fmt.Sprintf(`DROP POLICY IF EXISTS %s ON %s`, policy, table),
		fmt.Sprintf(`CREATE POLICY %s ON %s USING %s WITH CHECK %s`, policy, table, using, check),
	}
}

// migrate applies the schema one statement at a time.
func (s *Store) migrate() error {
	for _, stmt := range schemaStatements() {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration statement failed: %w\n%s", err, stmt)
		}
	}
	return nil
}
