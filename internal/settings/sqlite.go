package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const ddlSQLite = `
CREATE TABLE IF NOT EXISTS config (
    key   TEXT PRIMARY KEY,
    value TEXT
)`

// SQLite is a [Backend] stored in a single SQLite file.
type SQLite struct {
	db *sql.DB
}

var _ Backend = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path and ensures the config
// table exists. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite settings: open %q: %w", path, err)
	}
	// One writer keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, ddlSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite settings: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Lookup implements [Backend].
func (s *SQLite) Lookup(ctx context.Context, key string) (string, bool, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite settings: lookup: %w", err)
	}
	return v.String, true, nil
}

// Put implements [Backend].
func (s *SQLite) Put(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("sqlite settings: put: %w", err)
	}
	return nil
}

// All implements [Backend].
func (s *SQLite) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("sqlite settings: list: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sqlite settings: scan: %w", err)
		}
		out[k] = v.String
	}
	return out, rows.Err()
}

// Ping implements [Backend].
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements [Backend].
func (s *SQLite) Close() error { return s.db.Close() }
