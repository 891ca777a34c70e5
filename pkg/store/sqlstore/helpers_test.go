package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
)

// openTestStore returns a store over a private in-memory SQLite database with
// the production pragmas and schema. It is closed when the test finishes.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	// Shared cache keeps the database alive while the pool holds a conn.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)

	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("openTestStore: open: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("openTestStore: ping: %v", err)
	}
	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("openTestStore: migrate: %v", err)
	}

	s := New(db)
	t.Cleanup(func() { s.Close() })
	return s
}
