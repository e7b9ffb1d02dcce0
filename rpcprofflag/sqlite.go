package rpcprofflag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Register the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a source backed by a single table in a SQLite database. Flags that
// aren't in the table read as false.
type SQLite struct {
	db *sql.DB
}

var _ Source = (*SQLite)(nil)

const createFlagsTable = `CREATE TABLE IF NOT EXISTS flags (key TEXT PRIMARY KEY, value INTEGER NOT NULL)`

// OpenSQLite opens, and if necessary creates, the SQLite database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if _, err := db.Exec(createFlagsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create flags table: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Lookup implements Source.
func (s *SQLite) Lookup(ctx context.Context, key string) (bool, error) {
	var value int64
	switch err := s.db.QueryRowContext(ctx, `SELECT value FROM flags WHERE key = ?`, key).Scan(&value); {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("lookup %s: %w", key, err)
	default:
		return value != 0, nil
	}
}

// Set the flag identified by key to value.
func (s *SQLite) Set(ctx context.Context, key string, value bool) error {
	var v int64
	if value {
		v = 1
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO flags (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, v); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Close the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
