// Package database provides PostgreSQL connection management and schema initialization
// for the Strategos optimization engine. It uses pgx for high-performance database access.
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool with Strategos-specific functionality.
type DB struct {
	Pool *pgxpool.Pool
}

// NewPool creates a new PostgreSQL connection pool for dsn.
// It configures pool sizing, timeouts, and verifies connectivity with a ping.
func NewPool(ctx context.Context, dsn string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("database: failed to parse connection URL: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database: failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: failed to ping database: %w", err)
	}

	db := &DB{Pool: pool}

	if err := db.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: failed to initialize schema: %w", err)
	}

	log.Println("database: connected and schema initialized")
	return db, nil
}

// Close gracefully shuts down the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("database: connection pool closed")
	}
}

const schema = `
	CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;

	-- Usage ledger (time-series)
	CREATE TABLE IF NOT EXISTS usage_records (
		request_id            TEXT NOT NULL,
		timestamp             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		provider              TEXT NOT NULL,
		task_type             TEXT NOT NULL DEFAULT '',
		complexity            TEXT NOT NULL DEFAULT '',
		input_tokens          BIGINT NOT NULL DEFAULT 0,
		output_tokens         BIGINT NOT NULL DEFAULT 0,
		total_cost_usd        DOUBLE PRECISION NOT NULL DEFAULT 0,
		response_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		quality_rating        DOUBLE PRECISION,
		cost_efficiency       DOUBLE PRECISION NOT NULL DEFAULT 0
	);

	-- Prompt executions
	CREATE TABLE IF NOT EXISTS prompt_executions (
		id                     TEXT PRIMARY KEY,
		template_id            TEXT NOT NULL,
		provider               TEXT NOT NULL,
		rendered_prompt        TEXT NOT NULL DEFAULT '',
		variables              JSONB NOT NULL DEFAULT '{}',
		raw_response           TEXT NOT NULL DEFAULT '',
		execution_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		cost_usd               DOUBLE PRECISION NOT NULL DEFAULT 0,
		scores                 JSONB NOT NULL DEFAULT '{}',
		success                BOOLEAN NOT NULL DEFAULT FALSE,
		error                  TEXT NOT NULL DEFAULT '',
		timestamp              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Template counters and provider variants
	CREATE TABLE IF NOT EXISTS template_stats (
		template_id  TEXT PRIMARY KEY,
		usage_count  BIGINT NOT NULL DEFAULT 0,
		success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		variants     JSONB NOT NULL DEFAULT '{}',
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- A/B tests
	CREATE TABLE IF NOT EXISTS ab_tests (
		id              TEXT PRIMARY KEY,
		variant_a       TEXT NOT NULL,
		variant_b       TEXT NOT NULL,
		start_time      TIMESTAMPTZ NOT NULL,
		end_time        TIMESTAMPTZ NOT NULL,
		target_metrics  TEXT[] NOT NULL DEFAULT '{}',
		min_sample_size INTEGER NOT NULL DEFAULT 30,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records (timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_usage_records_provider ON usage_records (provider, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_prompt_executions_template ON prompt_executions (template_id, timestamp DESC);
	`

// initSchema creates the required tables if they do not already exist.
// An advisory lock prevents concurrent replicas from racing on DDL statements.
func (db *DB) initSchema(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	// "OCO" prefix + 03
	const migrationLockID int64 = 0x4F43_4F03
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	// Log but do not fail; TimescaleDB may not be installed in all environments.
	_, err = conn.Exec(ctx, `SELECT create_hypertable('usage_records', 'timestamp', migrate_data => true, if_not_exists => true)`)
	if err != nil {
		log.Printf("database: warning: could not create hypertable (TimescaleDB may not be installed): %v", err)
	}

	return nil
}
