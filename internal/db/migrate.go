package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// All date and time columns hold civil strings in the application zone, never
// instants. Comparisons on them are lexicographic.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id {{pk}},
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    trophies INTEGER NOT NULL DEFAULT 0,
    credits INTEGER NOT NULL DEFAULT 0,
    profile_picture TEXT,
    created_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS weekly_challenges (
    id {{pk}},
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    completed_days INTEGER NOT NULL DEFAULT 0,
    rest_days_available INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    UNIQUE(user_id, start_date)
)`,
	`CREATE TABLE IF NOT EXISTS daily_uploads (
    id {{pk}},
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    challenge_id INTEGER NOT NULL REFERENCES weekly_challenges(id) ON DELETE CASCADE,
    upload_date TEXT NOT NULL,
    file_ref TEXT NOT NULL,
    photo_fingerprint TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '',
    verification_status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL,
    verified_at TEXT,
    UNIQUE(user_id, upload_date)
)`,
	`CREATE INDEX IF NOT EXISTS daily_uploads_status ON daily_uploads(verification_status)`,
	`CREATE INDEX IF NOT EXISTS daily_uploads_fingerprint ON daily_uploads(user_id, photo_fingerprint)`,
	`CREATE TABLE IF NOT EXISTS rest_days (
    id {{pk}},
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    rest_date TEXT NOT NULL,
    challenge_id INTEGER NOT NULL REFERENCES weekly_challenges(id) ON DELETE CASCADE,
    created_at TEXT NOT NULL,
    UNIQUE(user_id, rest_date)
)`,
	`CREATE TABLE IF NOT EXISTS trophy_transactions (
    id {{pk}},
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    delta INTEGER NOT NULL,
    reason TEXT NOT NULL,
    reverses_id INTEGER,
    reversed_at TEXT,
    created_at TEXT NOT NULL
)`,
	// At most one live entry per cause. Reversed entries and reversal rows
	// carry reversed_at and fall outside the index.
	`CREATE UNIQUE INDEX IF NOT EXISTS trophy_transactions_live_reason
    ON trophy_transactions(user_id, reason) WHERE reversed_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS streaks (
    user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_activity_date TEXT,
    updated_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS app_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`,
}

// RunMigrations creates the schema for the connection's dialect. It is safe to
// run on every start.
func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if DialectOf(db) == Postgres {
		pk = "SERIAL PRIMARY KEY"
	}
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, strings.ReplaceAll(stmt, "{{pk}}", pk)); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
