// Package settings stores runtime switches in the app_settings table.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"gymble/internal/civil"
)

const maintenanceKey = "maintenance_mode"

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStore(db *sqlx.DB) *Store { return &Store{db: db, now: time.Now} }

// Get returns the value for key and whether it was set.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, s.db.Rebind(`SELECT value FROM app_settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, civil.DateTime(s.now()))
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Maintenance reports whether maintenance mode is on.
func (s *Store) Maintenance(ctx context.Context) (bool, error) {
	v, _, err := s.Get(ctx, maintenanceKey)
	return v == "1", err
}

func (s *Store) SetMaintenance(ctx context.Context, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	return s.Set(ctx, maintenanceKey, v)
}
