package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "pgx"
)

func init() {
	// sqlx does not know the modernc driver name.
	sqlx.BindDriver(string(SQLite), sqlx.QUESTION)
}

// DialectOf reports the dialect behind an open handle.
func DialectOf(db *sqlx.DB) Dialect {
	if db.DriverName() == string(Postgres) {
		return Postgres
	}
	return SQLite
}

// Open connects, pings and migrates. SQLite handles are limited to a single
// connection so every transaction is serialized by the database itself.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch Dialect(driver) {
	case SQLite:
		dsn = withSQLitePragmas(dsn)
	case Postgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if Dialect(driver) == SQLite {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxLifetime(2 * time.Hour)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := RunMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// WithTx runs fn inside one transaction. Any error, or a panic, rolls back.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
