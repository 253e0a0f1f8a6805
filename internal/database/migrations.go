package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name:  "add sessions.last_emitted_ts",
		sql:   `ALTER TABLE sessions ADD COLUMN IF NOT EXISTS last_emitted_ts bigint NOT NULL DEFAULT 0`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'sessions' AND column_name = 'last_emitted_ts')`,
	},
	{
		name:  "add signals session/ts index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_signals_session_ts ON signals (session_id, ts DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_signals_session_ts')`,
	},
	{
		name:  "add techniques.show_in_app",
		sql:   `ALTER TABLE techniques ADD COLUMN IF NOT EXISTS show_in_app boolean NOT NULL DEFAULT true`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'techniques' AND column_name = 'show_in_app')`,
	},
}

// Migrate runs all pending schema migrations. For each migration it
// first checks whether the change is already present; if applying fails
// the error is fatal, since the queries depend on these columns.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails. It includes the
// SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart breath-engine.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
