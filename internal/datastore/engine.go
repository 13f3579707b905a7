// Package datastore manages per-resource tables in Postgres: schema
// reconciliation, bulk loading, counting, and indexing.
package datastore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Reserved column names present on every resource table.
const (
	ColumnRowID    = "_id"
	ColumnFullText = "_full_text"
)

// Engine is a handle to the tabular store. Callers construct one and pass it
// down; there is no package-level singleton.
type Engine struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func New(ctx context.Context, url string, log *slog.Logger) (*Engine, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing datastore URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to datastore: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging datastore: %w", err)
	}

	e := &Engine{pool: pool, log: log}
	if err := e.initMetaTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) Close() {
	e.pool.Close()
}

// initMetaTable creates the side table that carries curated per-column
// metadata across drop/recreate cycles.
func (e *Engine) initMetaTable(ctx context.Context) error {
	_, err := e.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS _tabload_field_info (
			resource_id text NOT NULL,
			field_id    text NOT NULL,
			info        jsonb NOT NULL,
			PRIMARY KEY (resource_id, field_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("creating field info table: %w", err)
	}
	return nil
}
