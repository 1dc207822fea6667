package database

import (
	"fmt"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookqueue/hookqueue/internal/config"
)

// The queue's query mix is short statements on hot rows, so fixed
// conservative lifetimes keep connection churn low without starving
// polling bursts. Only the pool ceiling is operator-tunable.
const (
	maxConnLifetime   = time.Hour
	maxConnIdleTime   = 30 * time.Minute
	healthCheckPeriod = time.Minute
)

// buildPoolConfig translates DatabaseConfig into a tuned pgxpool config.
func buildPoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.PoolSize)
	if poolConfig.MaxConns < 1 {
		poolConfig.MaxConns = 1
	}
	poolConfig.MinConns = minConns(poolConfig.MaxConns)
	poolConfig.MaxConnLifetime = maxConnLifetime
	poolConfig.MaxConnIdleTime = maxConnIdleTime
	poolConfig.HealthCheckPeriod = healthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "hookqueue"

	return poolConfig, nil
}

// minConns keeps a few connections warm so the first poll after an idle
// stretch does not pay the handshake cost, without pinning the whole pool.
func minConns(maxConns int32) int32 {
	n := int32(runtime.NumCPU() / 2)
	if n < 2 {
		n = 2
	}
	if n > maxConns {
		n = maxConns
	}
	return n
}
