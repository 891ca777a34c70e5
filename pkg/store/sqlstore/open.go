// Package sqlstore persists access events and training sessions in SQLite or
// PostgreSQL.
package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and tunes the backing database.
type Config struct {
	Driver       string // "sqlite" or "postgres"
	Path         string // sqlite file
	DSN          string // postgres connection string
	MaxOpenConns int    // postgres only; sqlite always uses one connection
}

// sqliteDSN applies per-connection pragmas for a single-process writer.
func sqliteDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
}

// Open connects to the configured database, pings it and applies pending
// migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch cfg.Driver {
	case DriverSQLite, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
		db, err = sqlx.Open(DriverSQLite, sqliteDSN(cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("sqlx.Open: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		db, err = sqlx.Open(DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlx.Open: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))
		}
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w: %w", events.ErrStoreUnavailable, err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Component("sqlstore").WithField("driver", db.DriverName()).Debug("Event store opened")
	return New(db), nil
}
