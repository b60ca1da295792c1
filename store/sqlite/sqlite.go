/*
Package sqlite provides a SQLite-backed implementation of sickness.Store.

PURPOSE:
  Embedded storage for the sickness engine: cases, the transition log, the
  milestone catalog and overrides, action records, settings, triggers and
  the audit log. It is the default store and the one the tests run against.

TENANT SCOPE:
  SQLite has no row-level security. The tenant of a unit of work is held by
  the transaction handle (scopedTx) and every tenant-scoped statement carries
  the predicate

      (organisation_id = ? OR ? = 1)   -- org, platform-admin bypass

  The predicate lives and dies with the handle, so it cannot leak between
  units of work.

APPEND-ONLY ENFORCEMENT:
  case_transitions and audit_log have BEFORE UPDATE / BEFORE DELETE triggers
  that abort the statement. sickness_cases has a BEFORE DELETE trigger.

KEY INDEXES:
  - idx_milestone_default:   one default row per key
  - idx_milestone_override:  one override per (organisation, key)
  - milestone_actions UNIQUE(case_id, milestone_key): materialization backstop
  - idx_trigger_alert_open:  one OPEN alert per (trigger config, employee)

CONCURRENCY:
  Units of work are serialized by a sync.Mutex (SQLite has a single writer).
  A nested WithTenant joins the open transaction without taking the mutex.
  Status updates are conditional on the prior status regardless.

WAL MODE:
  File databases are opened with WAL and a busy timeout. ":memory:" uses a
  single connection, since every connection would get its own database.

USAGE:
  store, err := sqlite.New("./data/absence.db", sqlite.WithLogger(log))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - sickness/store.go: the Store / Tx contract
  - store/postgres: the same contract on PostgreSQL row-level security
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// Store implements sickness.Store using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	log    *zap.Logger
	sealer generic.Sealer
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithSealer sets how case notes are encrypted at rest.
func WithSealer(sealer generic.Sealer) Option { return func(s *Store) { s.sealer = sealer } }

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, log: zap.NewNop(), sealer: generic.PlainSealer{}}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
-- Sickness cases (never deleted)
CREATE TABLE IF NOT EXISTS sickness_cases (
	id TEXT PRIMARY KEY,
	organisation_id TEXT NOT NULL,
	employee_id TEXT NOT NULL,
	reporter_id TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN
		('REPORTED','TRACKING','FIT_NOTE_RECEIVED','RTW_SCHEDULED','RTW_COMPLETED','CLOSED')),
	absence_type TEXT NOT NULL,
	absence_start TEXT NOT NULL,
	absence_end TEXT,
	working_days_lost INTEGER,
	long_term INTEGER NOT NULL DEFAULT 0,
	notes TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	CHECK (absence_end IS NULL OR absence_end >= absence_start),
	CHECK (absence_end IS NOT NULL OR working_days_lost IS NULL)
);

CREATE INDEX IF NOT EXISTS idx_cases_org_employee_start
	ON sickness_cases(organisation_id, employee_id, absence_start);
CREATE INDEX IF NOT EXISTS idx_cases_org_status
	ON sickness_cases(organisation_id, status);

CREATE TRIGGER IF NOT EXISTS trg_sickness_cases_no_delete
	BEFORE DELETE ON sickness_cases
	BEGIN SELECT RAISE(ABORT, 'sickness_cases rows are never deleted'); END;

-- Case transitions (append-only)
CREATE TABLE IF NOT EXISTS case_transitions (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES sickness_cases(id),
	organisation_id TEXT NOT NULL,
	from_status TEXT,
	to_status TEXT NOT NULL,
	action TEXT NOT NULL,
	performed_by TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_case_transitions_case
	ON case_transitions(case_id, created_at);

CREATE TRIGGER IF NOT EXISTS trg_case_transitions_no_update
	BEFORE UPDATE ON case_transitions
	BEGIN SELECT RAISE(ABORT, 'case_transitions is append-only'); END;
CREATE TRIGGER IF NOT EXISTS trg_case_transitions_no_delete
	BEFORE DELETE ON case_transitions
	BEGIN SELECT RAISE(ABORT, 'case_transitions is append-only'); END;

-- Milestone catalog: defaults (organisation_id NULL) and overrides
CREATE TABLE IF NOT EXISTS milestone_configs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	organisation_id TEXT,
	milestone_key TEXT NOT NULL,
	label TEXT NOT NULL,
	day_offset INTEGER NOT NULL CHECK (day_offset >= 1),
	description TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	is_default INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_milestone_default
	ON milestone_configs(milestone_key) WHERE organisation_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_milestone_override
	ON milestone_configs(organisation_id, milestone_key) WHERE organisation_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS milestone_guidance (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	organisation_id TEXT,
	milestone_key TEXT NOT NULL,
	content TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_guidance_default
	ON milestone_guidance(milestone_key) WHERE organisation_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_guidance_override
	ON milestone_guidance(organisation_id, milestone_key) WHERE organisation_id IS NOT NULL;

-- Milestone action records
CREATE TABLE IF NOT EXISTS milestone_actions (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES sickness_cases(id),
	organisation_id TEXT NOT NULL,
	milestone_key TEXT NOT NULL,
	due_date TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING','IN_PROGRESS','COMPLETED')),
	completed_at TEXT,
	completed_by TEXT,
	notes TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(case_id, milestone_key)
);

-- Organisation settings (JSON document per organisation)
CREATE TABLE IF NOT EXISTS organisation_settings (
	organisation_id TEXT PRIMARY KEY,
	settings_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

-- Absence triggers
CREATE TABLE IF NOT EXISTS trigger_configs (
	id TEXT PRIMARY KEY,
	organisation_id TEXT NOT NULL,
	trigger_type TEXT NOT NULL CHECK (trigger_type IN ('BRADFORD','FREQUENCY','DURATION')),
	threshold INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trigger_configs_org
	ON trigger_configs(organisation_id);

CREATE TABLE IF NOT EXISTS trigger_alerts (
	id TEXT PRIMARY KEY,
	trigger_config_id TEXT NOT NULL REFERENCES trigger_configs(id),
	organisation_id TEXT NOT NULL,
	employee_id TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	observed INTEGER NOT NULL,
	threshold INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'OPEN',
	created_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_trigger_alert_open
	ON trigger_alerts(trigger_config_id, employee_id) WHERE status = 'OPEN';
CREATE INDEX IF NOT EXISTS idx_trigger_alerts_employee
	ON trigger_alerts(organisation_id, employee_id);

-- Audit log (append-only)
CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	organisation_id TEXT,
	action TEXT NOT NULL,
	entity TEXT NOT NULL,
	entity_id TEXT,
	metadata_json TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_org
	ON audit_log(organisation_id, created_at);

CREATE TRIGGER IF NOT EXISTS trg_audit_log_no_update
	BEFORE UPDATE ON audit_log
	BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;
CREATE TRIGGER IF NOT EXISTS trg_audit_log_no_delete
	BEFORE DELETE ON audit_log
	BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;
`

// =============================================================================
// UNIT OF WORK (sickness.Store interface)
// =============================================================================

// WithTenant runs fn in a transaction confined to tenant. A ctx that already
// carries a unit of work of this store is joined instead.
func (s *Store) WithTenant(ctx context.Context, tenant generic.Tenant, fn func(ctx context.Context, tx sickness.Tx) error) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	handle, joined, err := generic.JoinScope(ctx, tenant)
	if err != nil {
		return err
	}
	if joined {
		st, ok := handle.(*scopedTx)
		if !ok || st.store != s {
			return errors.New("enclosing unit of work belongs to a different store")
		}
		return fn(ctx, st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Error("failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	st := &scopedTx{tx: sqlTx, tenant: tenant, store: s}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(generic.WithScope(ctx, tenant, st), st); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.log.Error("failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		s.log.Error("failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// scopedTx is the sickness.Tx of one unit of work. Every statement goes
// through tx; nothing touches the parent *sql.DB while it is open.
type scopedTx struct {
	tx     *sql.Tx
	tenant generic.Tenant
	store  *Store
}

func (t *scopedTx) Tenant() generic.Tenant { return t.tenant }

// scope returns the tenant predicate for a table alias ("" for none) and its
// arguments.
func (t *scopedTx) scope(alias string) (string, []any) {
	col := "organisation_id"
	if alias != "" {
		col = alias + ".organisation_id"
	}
	return "(" + col + " = ? OR ? = 1)", []any{string(t.tenant.OrganisationID), t.tenant.PlatformAdmin}
}

// allows reports whether rows of org may be written in this unit of work.
func (t *scopedTx) allows(org generic.OrganisationID) bool {
	return t.tenant.Allows(org)
}

var _ sickness.Tx = (*scopedTx)(nil)

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func datePtr(ns sql.NullString) (*generic.TimePoint, error) {
	if !ns.Valid {
		return nil, nil
	}
	tp, err := generic.ParseDate(ns.String)
	if err != nil {
		return nil, fmt.Errorf("corrupt date %q: %w", ns.String, err)
	}
	return &tp, nil
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	n := int(ni.Int64)
	return &n
}

func orgPtr(ns sql.NullString) *generic.OrganisationID {
	if !ns.Valid {
		return nil
	}
	org := generic.OrganisationID(ns.String)
	return &org
}
