package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/retrykit/retrykit/internal/platform/sqlite"
	"github.com/retrykit/retrykit/internal/shared"
)

// sqliteStore keeps history in a single SQLite file. Writes go through
// the transaction runner, which retries on SQLITE_BUSY.
type sqliteStore struct {
	db  *sql.DB
	txr *sqlite.TxRunner
	log *slog.Logger
}

func openSQLite(ctx context.Context, path string, log *slog.Logger) (*sqliteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite history store requires a database path")
	}

	if err := sqlite.ApplyMigrationsFS(path, migrationsFS, "migrations/sqlite"); err != nil {
		return nil, fmt.Errorf("apply sqlite migrations: %w", err)
	}
	version, dirty, err := sqlite.GetMigrationVersionFS(path, migrationsFS, "migrations/sqlite")
	if err != nil {
		return nil, fmt.Errorf("read sqlite migration version: %w", err)
	}

	opts := sqlite.DefaultDBOptions()
	db, err := sqlite.NewDBWithOptions(ctx, path, opts)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	log.Info("history store ready",
		slog.String("driver", DriverSQLite),
		slog.String("path", path),
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return &sqliteStore{
		db:  db,
		txr: sqlite.NewTxRunnerWithOptions(db, opts),
		log: log,
	}, nil
}

func (s *sqliteStore) RecordSample(ctx context.Context, sample Sample) (Summary, error) {
	sample = sample.normalized()
	failed := 0
	if !sample.OK {
		failed = 1
	}

	var out Summary
	err := s.txr.WithinTx(ctx, func(ctx context.Context) error {
		q, ok := sqlite.GetTxQuerier(ctx)
		if !ok {
			return errors.New("transaction missing from context")
		}

		_, err := q.ExecContext(ctx, `
			INSERT INTO samples (target, ok, status, attempts, elapsed_ms, error, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sample.Target, sample.OK, sample.Status, sample.Attempts,
			sample.Elapsed.Milliseconds(), sample.Err, sample.At,
		)
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO target_stats (target, samples, failures, consecutive_failures,
			                          last_ok, last_status, last_error, last_sample)
			VALUES (?, 1, ?, ?, ?, ?, ?, ?)
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

		out, err = scanSQLiteSummary(q.QueryRowContext(ctx, `
			SELECT target, samples, failures, consecutive_failures,
			       last_ok, last_status, last_error, last_sample
			FROM target_stats WHERE target = ?`,
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

func (s *sqliteStore) RecentSamples(ctx context.Context, target string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	q := s.txr.GetQuerier(ctx)
	rows, err := q.QueryContext(ctx, `
		SELECT id, target, ok, status, attempts, elapsed_ms, error, at
		FROM samples
		WHERE target = ?
		ORDER BY at DESC, id DESC
		LIMIT ?`,
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

func (s *sqliteStore) TargetSummary(ctx context.Context, target string) (Summary, error) {
	q := s.txr.GetQuerier(ctx)
	out, err := scanSQLiteSummary(q.QueryRowContext(ctx, `
		SELECT target, samples, failures, consecutive_failures,
		       last_ok, last_status, last_error, last_sample
		FROM target_stats WHERE target = ?`,
		target,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Summary{}, shared.MarkKind(
				shared.Wrapf(err, "summary for %q", target), shared.KindNotFound)
		}
		return Summary{}, shared.Wrapf(err, "summary for %q", target)
	}
	return out, nil
}

func (s *sqliteStore) Summaries(ctx context.Context) ([]Summary, error) {
	q := s.txr.GetQuerier(ctx)
	rows, err := q.QueryContext(ctx, `
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

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// scanSQLiteSummary reads one target_stats row. The caller handles
// sql.ErrNoRows.
func scanSQLiteSummary(row *sql.Row) (Summary, error) {
	var sum Summary
	err := row.Scan(&sum.Target, &sum.Samples, &sum.Failures,
		&sum.ConsecutiveFailures, &sum.LastOK, &sum.LastStatus,
		&sum.LastError, &sum.LastSample)
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}
