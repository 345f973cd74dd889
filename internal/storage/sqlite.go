package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a schedule or execution does not exist.
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS schedules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cron_expression TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	agent_url TEXT NOT NULL,
	http_method TEXT NOT NULL DEFAULT 'POST',
	headers TEXT,
	payload TEXT,
	retry_policy TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	schedule_id TEXT NOT NULL,
	fire_time_ms INTEGER NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME,
	completed_at DATETIME,
	error TEXT,
	response TEXT,
	UNIQUE(schedule_id, fire_time_ms)
);
CREATE INDEX IF NOT EXISTS idx_executions_schedule_id ON executions(schedule_id);
CREATE INDEX IF NOT EXISTS idx_executions_fire_time ON executions(fire_time_ms);
`

// Open opens the SQLite database at path. The connection is shared by the
// schedule and execution stores.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// from concurrent execution updates.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate applies the schema. It is idempotent and doubles as the one-shot
// migration entry point's only operation.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
