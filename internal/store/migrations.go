package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema contains the DDL for all kernsim tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		config      TEXT NOT NULL DEFAULT '{}',
		ticks       INTEGER NOT NULL DEFAULT 0,
		started_at  TEXT NOT NULL,
		finished_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq    INTEGER NOT NULL,
		tick   INTEGER NOT NULL,
		kind   TEXT NOT NULL,
		pid    INTEGER NOT NULL DEFAULT 0,
		name   TEXT NOT NULL DEFAULT '',
		state  TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		error  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS processes (
		run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		pid           INTEGER NOT NULL,
		name          TEXT NOT NULL,
		uid           INTEGER NOT NULL DEFAULT 0,
		priority      INTEGER NOT NULL DEFAULT 0,
		state         TEXT NOT NULL,
		entry_point   INTEGER NOT NULL DEFAULT 0,
		cpu_time      INTEGER NOT NULL DEFAULT 0,
		dispatches    INTEGER NOT NULL DEFAULT 0,
		created_tick  INTEGER NOT NULL DEFAULT 0,
		exit_status   INTEGER NOT NULL DEFAULT 0,
		exit_cause    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, pid)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_run_kind ON events(run_id, kind)`,
	`CREATE INDEX IF NOT EXISTS idx_events_run_pid ON events(run_id, pid)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
}

// migrate executes all DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for i, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
