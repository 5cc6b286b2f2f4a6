package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retrykit/retrykit/internal/platform/pg"
	"github.com/retrykit/retrykit/internal/shared"
)

// pgStore keeps history in PostgreSQL. Writes go through the
// transaction runner, which retries serialization and deadlock
// failures.
type pgStore struct {
	pool *pgxpool.Pool
	txr  *pg.TxRunner
	log  *slog.Logger
}

func openPostgres(ctx context.Context, dsn string, log *slog.Logger) (*pgStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres history store requires a DSN")
	}
	cfg, err := pg.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if err := pg.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate postgres DSN: %w", err)
	}

	info, err := pg.ApplyMigrationsFromFS(dsn, migrationsFS, "migrations/postgres")
	if err != nil {
		return nil, fmt.Errorf("apply postgres migrations: %w", err)
	}

	pool, err := pg.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	log.Info("history store ready",
		slog.String("driver", DriverPostgres),
		slog.String("dsn", cfg.Redacted()),
		slog.Uint64("schema_version", uint64(info.FinalVersion)),
		slog.Bool("migrations_applied", info.Applied),
	)

	return &pgStore{
		pool: pool,
		txr:  pg.NewTxRunner(pool),
		log:  log,
	}, nil
}

func (s *pgStore) RecordSample(ctx context.Context, sample Sample) (Summary, error) {
	sample = sample.normalized()
	failed := int64(0)
	if !sample.OK {
		failed = 1
	}

	var out Summary
	err := s.txr.WithinTx(ctx, func(ctx context.Context) error {
		q := s.txr.GetQuerier(ctx)

		_, err := q.Exec(ctx, `
			INSERT INTO samples (target, ok, status, attempts, elapsed_ms, error, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sample.Target, sample.OK, sample.Status, sample.Attempts,
			sample.Elapsed.Milliseconds(), sample.Err, sample.At,
		)
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}

		_, err = q.Exec(ctx, `
			INSERT INTO target_stats (target, samples, failures, consecutive_failures,
			                          last_ok, last_status, last_error, last_sample)
			VALUES ($1, 1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (target) DO UPDATE SET
				samples = target_stats.samples + 1,
				failures = target_stats.failures + excluded.failures,
				consecutive_failures = CASE WHEN excluded.last_ok
					THEN 0
					ELSE target_stats.consecutive_failures + 1 END,
				last_ok = excluded.last_ok,
				last_status = excluded.last_status,
				last_error = excluded.last_error,
				last_sample = excluded.last_sample`,
			sample.Target, failed, failed,
			sample.OK, sample.Status, sample.Err, sample.At,
		)
		if err != nil {
			return fmt.Errorf("update target stats: %w", err)
		}

		out, err = scanPGSummary(q.QueryRow(ctx, `
			SELECT target, samples, failures, consecutive_failures,
			       last_ok, last_status, last_error, last_sample
			FROM target_stats WHERE target = $1`,
			sample.Target,
		))
		if err != nil {
			return fmt.Errorf("read back summary: %w", err)
		}
		return nil
	})
	if err != nil {
		return Summary{}, shared.Wrapf(err, "record sample for %q", sample.Target)
	}
	return out, nil
}

func (s *pgStore) RecentSamples(ctx context.Context, target string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	q := s.txr.GetQuerier(ctx)
	rows, err := q.Query(ctx, `
		SELECT id, target, ok, status, attempts, elapsed_ms, error, at
		FROM samples
		WHERE target = $1
		ORDER BY at DESC, id DESC
		LIMIT $2`,
		target, limit,
	)
	if err != nil {
		return nil, shared.Wrapf(err, "query samples for %q", target)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			sm        Sample
			elapsedMS int64
		)
		if err := rows.Scan(&sm.ID, &sm.Target, &sm.OK, &sm.Status,
			&sm.Attempts, &elapsedMS, &sm.Err, &sm.At); err != nil {
			return nil, shared.Wrap(err, "scan sample")
		}
		sm.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrapf(err, "iterate samples for %q", target)
	}
	return samples, nil
}

func (s *pgStore) TargetSummary(ctx context.Context, target string) (Summary, error) {
	q := s.txr.GetQuerier(ctx)
	out, err := scanPGSummary(q.QueryRow(ctx, `
		SELECT target, samples, failures, consecutive_failures,
		       last_ok, last_status, last_error, last_sample
		FROM target_stats WHERE target = $1`,
		target,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, shared.MarkKind(
				shared.Wrapf(err, "summary for %q", target), shared.KindNotFound)
		}
		return Summary{}, shared.Wrapf(err, "summary for %q", target)
	}
	return out, nil
}

func (s *pgStore) Summaries(ctx context.Context) ([]Summary, error) {
	q := s.txr.GetQuerier(ctx)
	rows, err := q.Query(ctx, `
		SELECT target, samples, failures, consecutive_failures,
		       last_ok, last_status, last_error, last_sample
		FROM target_stats
		ORDER BY target`)
	if err != nil {
		return nil, shared.Wrap(err, "query summaries")
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Target, &sum.Samples, &sum.Failures,
			&sum.ConsecutiveFailures, &sum.LastOK, &sum.LastStatus,
			&sum.LastError, &sum.LastSample); err != nil {
			return nil, shared.Wrap(err, "scan summary")
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Wrap(err, "iterate summaries")
	}
	return summaries, nil
}

func (s *pgStore) Ping(ctx context.Context) error {
	return pg.HealthCheckPool(ctx, s.pool)
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

// Stats exposes pool health for metrics collection.
func (s *pgStore) Stats() pg.DBStats {
	return pg.GetPoolStats(s.pool)
}

func scanPGSummary(row pgx.Row) (Summary, error) {
	var sum Summary
	err := row.Scan(&sum.Target, &sum.Samples, &sum.Failures,
		&sum.ConsecutiveFailures, &sum.LastOK, &sum.LastStatus,
		&sum.LastError, &sum.LastSample)
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}
