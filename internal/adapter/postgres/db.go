package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS crawl_reports (
		job_id      TEXT PRIMARY KEY,
		seed        TEXT NOT NULL,
		stop_reason TEXT NOT NULL,
		summary     JSONB NOT NULL,
		issues      JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS discovered_pages (
		job_id TEXT NOT NULL,
		url    TEXT NOT NULL,
		PRIMARY KEY (job_id, url)
	)`,
	`CREATE TABLE IF NOT EXISTS failed_urls (
		id                     BIGSERIAL PRIMARY KEY,
		job_id                 TEXT NOT NULL,
		url                    TEXT NOT NULL,
		kind                   TEXT NOT NULL,
		failure_reason         TEXT NOT NULL,
		http_status_code       INTEGER NOT NULL DEFAULT 0,
		attempts               INTEGER NOT NULL DEFAULT 1,
		last_attempt_timestamp TIMESTAMPTZ NOT NULL,
		UNIQUE (job_id, url)
	)`,
}

// EnsureSchema creates the report tables when they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
