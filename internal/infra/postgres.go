package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The pool is the one external shared resource with hard connection limits;
// collectors, the staging processor, the outbox poller and the HTTP API all
// draw from it. Batch writes hold a connection for the whole transaction, so
// sizing follows the orchestrator's task cap rather than a fixed figure.

// NewPostgresPool creates a pgx connection pool sized for the collection
// workload in cfg.
func NewPostgresPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	// One connection per in-flight collection task (raw batch insert), the
	// same again for staging transactions that overlap the next plan, plus
	// headroom for the outbox poller, detectors and API reads.
	maxConns := int32(cfg.MaxConcurrentTasks*2 + 6)
	if maxConns < 10 {
		maxConns = 10
	}
	if maxConns > 32 {
		maxConns = 32
	}

	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = 2
	// Plans run on intervals up to six hours; idle connections between runs
	// are cheap to rebuild, stale ones are not worth keeping.
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 10 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// HealthCheck pings the database and returns an error if unreachable.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return pool.Ping(ctx)
}
