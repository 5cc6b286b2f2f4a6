package pg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retrykit/retrykit/pkg/retry"
)

// WaitOptions controls how patiently WaitForDB keeps probing the database
// on startup.
type WaitOptions struct {
	// MaxAttempts caps connection attempts.
	MaxAttempts int
	// BaseDelay seeds the pause between attempts.
	BaseDelay time.Duration
	// Strategy shapes the pause between attempts.
	Strategy retry.Strategy
	// PingTimeout bounds each individual attempt.
	PingTimeout time.Duration
	// TotalTimeout bounds the whole wait, attempts and pauses included.
	// Zero means only MaxAttempts decides.
	TotalTimeout time.Duration
	// Logger, when set, reports every failed attempt.
	Logger *slog.Logger
}

// DefaultWaitOptions returns wait settings suited for container startup,
// where the database usually appears within a minute.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		MaxAttempts:  10,
		BaseDelay:    time.Second,
		Strategy:     retry.StrategyExponentialJitter,
		PingTimeout:  5 * time.Second,
		TotalTimeout: 2 * time.Minute,
	}
}

// WaitForDB blocks until the database accepts connections, the attempt
// budget runs out, or ctx ends.
func WaitForDB(ctx context.Context, dsn string, opts WaitOptions) error {
	cfg := retry.Config{
		MaxAttempts:  opts.MaxAttempts,
		BaseDelay:    opts.BaseDelay,
		Strategy:     opts.Strategy,
		TotalTimeout: opts.TotalTimeout,
		Logger:       opts.Logger,
	}
	if opts.Logger != nil {
		log := opts.Logger
		cfg.OnRetry = func(e retry.Event) {
			log.Warn("database not ready",
				slog.Int("attempt", e.Attempt),
				slog.Duration("next_try_in", e.Delay),
				slog.Any("error", e.Err))
		}
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return pingDatabase(ctx, dsn, opts.PingTimeout)
	})
	if err != nil {
		return fmt.Errorf("database not available: %w", err)
	}
	return nil
}

// HealthCheck performs a one-shot availability check against the DSN.
func HealthCheck(ctx context.Context, dsn string) error {
	return pingDatabase(ctx, dsn, 5*time.Second)
}

// HealthCheckPool checks the health of an existing connection pool.
func HealthCheckPool(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pool ping failed: %w", err)
	}

	var result int
	err := pool.QueryRow(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("simple query failed: %w", err)
	}

	if result != 1 {
		return fmt.Errorf("unexpected query result: got %d, want 1", result)
	}

	return nil
}

// pingDatabase pings the database over a short-lived pool.
func pingDatabase(ctx context.Context, dsn string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	return nil
}

// DBStats is a point-in-time snapshot of pool statistics, shaped for
// export as gauges and counters.
type DBStats struct {
	MaxConns             int32
	TotalConns           int32
	AcquiredConns        int32
	IdleConns            int32
	ConstructingConns    int32
	AcquireCount         int64
	EmptyAcquireCount    int64
	CanceledAcquireCount int64
	AcquireDuration      time.Duration
}

// GetPoolStats snapshots the pool statistics.
func GetPoolStats(pool *pgxpool.Pool) DBStats {
	if pool == nil {
		return DBStats{}
	}

	stats := pool.Stat()

	return DBStats{
		MaxConns:             stats.MaxConns(),
		TotalConns:           stats.TotalConns(),
		AcquiredConns:        stats.AcquiredConns(),
		IdleConns:            stats.IdleConns(),
		ConstructingConns:    stats.ConstructingConns(),
		AcquireCount:         stats.AcquireCount(),
		EmptyAcquireCount:    stats.EmptyAcquireCount(),
		CanceledAcquireCount: stats.CanceledAcquireCount(),
		AcquireDuration:      stats.AcquireDuration(),
	}
}

// IsHealthy reports whether the pool looks operational based on its
// statistics.
func IsHealthy(stats DBStats) bool {
	if stats.MaxConns == 0 {
		return false // pool not configured
	}

	if stats.TotalConns == 0 {
		return false // no open connections
	}

	// Keep headroom; a pool running at the limit stalls every caller.
	utilizationPercent := float64(stats.AcquiredConns) / float64(stats.MaxConns) * 100
	return utilizationPercent <= 90
}
