package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"gitea.jw6.us/james/gamereview/internal/migrations"
)

// MigrationDB is the subset of pgxpool.Pool the migration runner needs.
type MigrationDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// migrationLockKey identifies the advisory lock each migration step holds,
// so servers starting together apply every file exactly once.
const migrationLockKey int64 = 0x67726576 // "grev"

const (
	inspectSchemaSQL = `SELECT to_regclass('public.schema_migrations') IS NOT NULL,
       (SELECT COUNT(*) FROM information_schema.tables
        WHERE table_schema NOT IN ('pg_catalog', 'information_schema'))`
	createTrackingSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version TEXT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	lockMigrationsSQL = `SELECT pg_advisory_xact_lock($1)`
	isAppliedSQL      = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`
	markAppliedSQL    = `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`
)

type migration struct {
	version string
	sql     string
}

// ApplyMigrations brings the schema up to date with the embedded SQL files.
// Progress is logged to the zerolog logger carried by ctx.
func ApplyMigrations(ctx context.Context, db MigrationDB) error {
	return migrate(ctx, db, migrations.Files)
}

func migrate(ctx context.Context, db MigrationDB, fsys fs.FS) error {
	defer observeDB(ctx, "db.migrate")()
	logger := zerolog.Ctx(ctx)

	steps, err := loadMigrations(fsys)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return nil
	}
	if err := ensureTracking(ctx, db, steps[0].version); err != nil {
		return err
	}

	applied := 0
	for _, m := range steps {
		ran, err := m.apply(ctx, db)
		if err != nil {
			return err
		}
		if ran {
			applied++
			logger.Info().Str("migration", m.version).Msg("applied migration")
		}
	}
	logger.Debug().Int("applied", applied).Int("known", len(steps)).Msg("schema up to date")
	return nil
}

// loadMigrations reads the top-level .sql files of fsys in version order.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	steps := make([]migration, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(body)) == "" {
			return nil, fmt.Errorf("migration %s is empty", name)
		}
		steps = append(steps, migration{version: name, sql: string(body)})
	}
	return steps, nil
}

// ensureTracking creates schema_migrations on first run. A database that
// already has tables but no tracking is recorded as being at baseline, so
// the initial schema is not replayed over it.
func ensureTracking(ctx context.Context, db MigrationDB, baseline string) error {
	var tracked bool
	var tables int
	if err := db.QueryRow(ctx, inspectSchemaSQL).Scan(&tracked, &tables); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if tracked {
		return nil
	}

	if _, err := db.Exec(ctx, createTrackingSQL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	if tables == 0 {
		return nil
	}
	zerolog.Ctx(ctx).Warn().Int("tables", tables).Str("baseline", baseline).Msg("untracked schema, recording baseline")
	if _, err := db.Exec(ctx, markAppliedSQL, baseline); err != nil {
		return fmt.Errorf("record baseline %s: %w", baseline, err)
	}
	return nil
}

// apply runs m in its own transaction under the migration lock. It reports
// false when m was already recorded.
func (m migration) apply(ctx context.Context, db MigrationDB) (ran bool, err error) {
	defer observeDB(ctx, "db.migrate.step")()

	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin %s: %w", m.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, lockMigrationsSQL, migrationLockKey); err != nil {
		return false, fmt.Errorf("lock migrations for %s: %w", m.version, err)
	}
	var done bool
	if err = tx.QueryRow(ctx, isAppliedSQL, m.version).Scan(&done); err != nil {
		return false, fmt.Errorf("check %s: %w", m.version, err)
	}
	if done {
		return false, tx.Commit(ctx)
	}

	if _, err = tx.Exec(ctx, m.sql); err != nil {
		return false, fmt.Errorf("apply %s: %w", m.version, err)
	}
	if _, err = tx.Exec(ctx, markAppliedSQL, m.version); err != nil {
		return false, fmt.Errorf("record %s: %w", m.version, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit %s: %w", m.version, err)
	}
	return true, nil
}
