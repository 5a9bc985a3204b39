// Package database opens the Postgres pool and bootstraps the tables the
// steward owns.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the steward's bookkeeping tables and the site lookup
// tables in lookupDataset.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, lookupDataset string) error {
	if _, err := pool.Exec(ctx, schemaSQL(lookupDataset)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func schemaSQL(lookupDataset string) string {
	lookup := pgx.Identifier{lookupDataset}.Sanitize()
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS steward;
CREATE TABLE IF NOT EXISTS steward.load_jobs (
	id TEXT PRIMARY KEY,
	dataset TEXT NOT NULL,
	table_name TEXT NOT NULL,
	source_uri TEXT NOT NULL,
	state TEXT NOT NULL,
	error_result JSONB,
	errors JSONB,
	output_rows BIGINT,
	created_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_load_jobs_state ON steward.load_jobs(state);
CREATE TABLE IF NOT EXISTS steward.submission_runs (
	id TEXT PRIMARY KEY,
	hpo_id TEXT NOT NULL,
	folder TEXT,
	status TEXT NOT NULL,
	error_occurred BOOLEAN NOT NULL DEFAULT FALSE,
	message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_submission_runs_hpo ON steward.submission_runs(hpo_id, started_at DESC);
CREATE SCHEMA IF NOT EXISTS %[1]s;
CREATE TABLE IF NOT EXISTS %[1]s.hpo_site (
	hpo_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	bucket TEXT NOT NULL,
	display_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS %[1]s.hpo_contact (
	hpo_id TEXT NOT NULL REFERENCES %[1]s.hpo_site(hpo_id) ON DELETE CASCADE,
	email TEXT NOT NULL,
	PRIMARY KEY (hpo_id, email)
);`, lookup)
}
