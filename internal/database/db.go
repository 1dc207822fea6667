// Package database provides the PostgreSQL persistence layer: the task
// store with its conditional-update acquisition primitive, and the
// application / API key repositories used for authentication.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/config"
)

// ErrNotFound marks lookups and guarded updates that matched no row.
var ErrNotFound = errors.New("not found")

// Connect builds a pgx connection pool from configuration and verifies it
// with a short ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.WithField("database", cfg.Name).Info("Connected to PostgreSQL")
	return pool, nil
}

// Migrate executes the schema migrations in order.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *logrus.Logger) error {
	for _, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	logger.Info("Database migrations completed")
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(96) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		activated TIMESTAMP WITH TIME ZONE,
		deactivated TIMESTAMP WITH TIME ZONE,
		deleted TIMESTAMP WITH TIME ZONE,
		created TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		modified TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		app_id BIGINT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		value VARCHAR(40) UNIQUE NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		activated TIMESTAMP WITH TIME ZONE,
		deactivated TIMESTAMP WITH TIME ZONE,
		deleted TIMESTAMP WITH TIME ZONE,
		created TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		modified TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		app_id BIGINT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		url VARCHAR(256) NOT NULL,
		body BYTEA NOT NULL DEFAULT ''::bytea,
		charset VARCHAR(24) NOT NULL DEFAULT 'utf-8',
		enctype VARCHAR(256) NOT NULL DEFAULT 'application/x-www-form-urlencoded',
		headers JSONB NOT NULL DEFAULT '{}',
		timeout INTEGER NOT NULL DEFAULT 30,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		due TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		created TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		modified TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS delivery_attempts (
		id BIGSERIAL PRIMARY KEY,
		task_id BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		retry_count INTEGER NOT NULL DEFAULT 0,
		outcome VARCHAR(16) NOT NULL,
		status_code INTEGER,
		error TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_lookup ON api_keys(is_active, is_deleted, value)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_due ON tasks(status, due)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_app_id ON tasks(app_id)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_task ON delivery_attempts(task_id, created DESC)`,
}
