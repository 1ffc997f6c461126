// Package db opens the PostgreSQL pool shared by the onboarding records,
// the reversal ledger and the audit trail, and creates their tables.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/partnerhub/internal/config"
)

// Connect opens a connection pool to dsn using the pool limits of cfg and
// verifies it with a ping.
func Connect(ctx context.Context, dsn string, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS partner_onboarding (
		partner_id               TEXT PRIMARY KEY,
		current_stage            TEXT NOT NULL,
		overall_progress         DOUBLE PRECISION NOT NULL DEFAULT 0,
		started_at               TIMESTAMPTZ NOT NULL,
		expected_completion_date TIMESTAMPTZ,
		last_activity            TIMESTAMPTZ NOT NULL,
		stages                   JSONB NOT NULL,
		version                  INTEGER NOT NULL DEFAULT 1,
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS partner_stage_reversal_requests (
		id           TEXT PRIMARY KEY,
		partner_id   TEXT NOT NULL,
		from_stage   TEXT NOT NULL,
		to_stage     TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		requested_at TIMESTAMPTZ NOT NULL,
		approved_by  TEXT,
		approved_at  TIMESTAMPTZ,
		status       TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'denied')),
		reason       TEXT NOT NULL,
		comments     TEXT,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reversal_requests_status
		ON partner_stage_reversal_requests (status, requested_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reversal_requests_one_pending
		ON partner_stage_reversal_requests (partner_id) WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS onboarding_events (
		id         TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		event      TEXT NOT NULL,
		actor_id   TEXT NOT NULL,
		from_stage TEXT,
		to_stage   TEXT,
		request_id TEXT,
		data       JSONB,
		comment    TEXT,
		timestamp  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_onboarding_events_partner
		ON onboarding_events (partner_id, timestamp)`,
}

// EnsureSchema creates the tables and indexes used by the PostgreSQL
// stores. It is safe to run on every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
