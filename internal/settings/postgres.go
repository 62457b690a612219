package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPostgres = `
CREATE TABLE IF NOT EXISTS luna_config (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL DEFAULT ''
)`

// Postgres is a [Backend] backed by a PostgreSQL table, for deployments that
// share one configuration between several assistants.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Backend = (*Postgres)(nil)

// OpenPostgres connects to dsn, verifies the connection and ensures the
// luna_config table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres settings: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres settings: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres settings: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres settings: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Lookup implements [Backend].
func (p *Postgres) Lookup(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.pool.QueryRow(ctx, `SELECT value FROM luna_config WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres settings: lookup: %w", err)
	}
	return v, true, nil
}

// Put implements [Backend].
func (p *Postgres) Put(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO luna_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := p.pool.Exec(ctx, q, key, value); err != nil {
		return fmt.Errorf("postgres settings: put: %w", err)
	}
	return nil
}

// All implements [Backend].
func (p *Postgres) All(ctx context.Context) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT key, value FROM luna_config`)
	if err != nil {
		return nil, fmt.Errorf("postgres settings: list: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("postgres settings: scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Ping implements [Backend].
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close implements [Backend].
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
