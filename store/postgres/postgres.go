/*
Package postgres provides a PostgreSQL implementation of sickness.Store on gorm.

PURPOSE:
  Production storage for multi-tenant deployments. Organisation confinement
  is enforced by the database itself through row-level security, not by
  predicates the application remembers to add.

TENANT SCOPE:
  Every unit of work opens a transaction and sets two transaction-local
  settings before running fn:

      SELECT set_config('app.organisation_id', <org>, true),
             set_config('app.platform_admin', 'true'|'false', true)

  Each tenant-scoped table has ROW LEVEL SECURITY enabled and FORCEd, with a
  policy comparing organisation_id to current_setting('app.organisation_id').
  The settings vanish at COMMIT/ROLLBACK, so a pooled connection never
  carries one tenant's scope into the next unit of work.

  The connecting role must not be a superuser and must not have BYPASSRLS,
  otherwise the policies do not apply.

APPEND-ONLY ENFORCEMENT:
  case_transitions and audit_log reject UPDATE and DELETE with a trigger;
  sickness_cases rejects DELETE.

CONCURRENCY:
  LockCase takes SELECT ... FOR UPDATE. Status updates are conditional on
  the prior status; action materialization and alerts rely on unique
  indexes with ON CONFLICT DO NOTHING.

USAGE:
  store, err := postgres.New(dsn, postgres.WithLogger(log))
  if err != nil {
      log.Fatal("failed to open store", zap.Error(err))
  }
  defer store.Close()

SEE ALSO:
  - sickness/store.go: the Store / Tx contract
  - store/sqlite: the same contract with an application-held predicate
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/sickness"
)

// Store implements sickness.Store using PostgreSQL.
type Store struct {
	db     *gorm.DB
	log    *zap.Logger
	sealer generic.Sealer
	pool   poolConfig
	debug  bool
}

type poolConfig struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithSealer sets how case notes are encrypted at rest.
func WithSealer(sealer generic.Sealer) Option { return func(s *Store) { s.sealer = sealer } }

// WithPool configures the connection pool. Zero values keep the driver default.
func WithPool(maxOpen, maxIdle int, maxLifetime time.Duration) Option {
	return func(s *Store) { s.pool = poolConfig{maxOpen, maxIdle, maxLifetime} }
}

// WithSQLDebug logs every statement gorm issues.
func WithSQLDebug() Option { return func(s *Store) { s.debug = true } }

// New connects to dsn and migrates the schema.
func New(dsn string, opts ...Option) (*Store, error) {
	s := &Store{log: zap.NewNop(), sealer: generic.PlainSealer{}}
	for _, opt := range opts {
		opt(s)
	}

	level := logger.Silent
	if s.debug {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(level),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if s.pool.maxOpen > 0 {
		sqlDB.SetMaxOpenConns(s.pool.maxOpen)
	}
	if s.pool.maxIdle > 0 {
		sqlDB.SetMaxIdleConns(s.pool.maxIdle)
	}
	if s.pool.maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(s.pool.maxLifetime)
	}

	s.db = db
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// =============================================================================
// UNIT OF WORK (sickness.Store interface)
// =============================================================================

// WithTenant runs fn in a transaction confined to tenant by row-level
// security. A ctx that already carries a unit of work of this store is
// joined instead. gorm rolls back and re-raises if fn panics.
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

	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		admin := "false"
		if tenant.PlatformAdmin {
			admin = "true"
		}
		if err := gtx.Exec(
			"SELECT set_config('app.organisation_id', ?, true), set_config('app.platform_admin', ?, true)",
			string(tenant.OrganisationID), admin,
		).Error; err != nil {
			s.log.Error("failed to set tenant scope", zap.Stringer("tenant", tenant), zap.Error(err))
			return fmt.Errorf("failed to set tenant scope: %w", err)
		}
		st := &scopedTx{db: gtx, tenant: tenant, store: s}
		return fn(generic.WithScope(ctx, tenant, st), st)
	})
}

// scopedTx is the sickness.Tx of one unit of work.
type scopedTx struct {
	db     *gorm.DB
	tenant generic.Tenant
	store  *Store
}

func (t *scopedTx) Tenant() generic.Tenant { return t.tenant }

// q starts a statement on the unit of work's transaction.
func (t *scopedTx) q(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx)
}

// allows reports whether rows of org may be written in this unit of work.
// Row-level security would reject the write anyway; checking first turns
// the policy violation into the same not-found answer reads give.
func (t *scopedTx) allows(org generic.OrganisationID) bool {
	return t.tenant.Allows(org)
}

var _ sickness.Tx = (*scopedTx)(nil)
