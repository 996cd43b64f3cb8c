package tracestore

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the DDL for the trace tables.
// Each statement uses IF NOT EXISTS so Migrate is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		source     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ticks (
		run_id      TEXT    NOT NULL REFERENCES runs(id),
		seq         INTEGER NOT NULL,
		sim_time    REAL    NOT NULL,
		policy      TEXT    NOT NULL DEFAULT '',
		rule        TEXT    NOT NULL DEFAULT '',
		reason      TEXT    NOT NULL DEFAULT '',
		fallback    INTEGER NOT NULL DEFAULT 0,
		state       TEXT    NOT NULL DEFAULT '',
		transitions TEXT    NOT NULL DEFAULT '[]',
		override    TEXT    NOT NULL DEFAULT '',
		note        TEXT    NOT NULL DEFAULT '',
		plan        TEXT    NOT NULL DEFAULT '',
		rejected    INTEGER NOT NULL DEFAULT 0,
		error       TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_ticks_rule ON ticks(run_id, rule)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
