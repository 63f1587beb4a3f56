// Package sqlite implements the storage layer contracts in
// internal/repository against a pure-Go SQLite driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loomhq/loom/migrations"
)

// DB wraps a *sql.DB opened against modernc.org/sqlite with foreign keys enabled.
type DB struct {
	*sql.DB
}

// New opens a SQLite database at dataSourceName and enables foreign key
// enforcement, which SQLite otherwise leaves off per-connection. The pragma
// rides on the DSN so every pooled connection gets it, not just the first.
func New(dataSourceName string) (*DB, error) {
	sep := "?"
	if strings.Contains(dataSourceName, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dataSourceName+sep+"_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// An in-memory database exists per connection; cap the pool at one so
	// every caller sees the same database.
	if strings.Contains(dataSourceName, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &DB{DB: db}, nil
}

// RunMigrations applies the embedded schema migration. It is idempotent:
// every statement in the migration uses IF NOT EXISTS.
func (d *DB) RunMigrations() error {
	sqlBytes, err := migrations.FS.ReadFile("001_initial_schema.up.sql")
	if err != nil {
		return fmt.Errorf("sqlite: read migration: %w", err)
	}
	if _, err := d.Exec(string(sqlBytes)); err != nil {
		return fmt.Errorf("sqlite: apply migration: %w", err)
	}
	return nil
}
