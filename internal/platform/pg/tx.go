package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retrykit/retrykit/pkg/retry"
)

// txKey carries the active transaction inside context.Context.
type txKey struct{}

// Querier unifies query execution across the pool and a transaction, so
// stores work against one interface either way.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// TxRunner runs callbacks inside transactions with commit-or-rollback
// semantics. Serialization failures and deadlocks are retried through
// pkg/retry.
type TxRunner struct {
	Pool *pgxpool.Pool
	// Retry paces reruns of the whole transaction on transient failures.
	Retry retry.Config
}

// NewTxRunner creates a TxRunner backed by the given pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{
		Pool: pool,
		Retry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			Strategy:    retry.StrategyExponentialJitter,
			ShouldRetry: IsTransientTxError,
		},
	}
}

// WithinTx runs fn inside a transaction with default options. When fn
// returns an error the transaction is rolled back, otherwise it is
// committed. The transaction is reachable inside fn via PgxTx. Transient
// failures rerun the whole transaction per the Retry policy; callers
// always get fn's own error back, not the retry wrapper.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, r.Retry, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.Pool, func(tx pgx.Tx) error {
			ctx = context.WithValue(ctx, txKey{}, tx)
			return fn(ctx)
		})
	})
	var rerr *retry.Error
	if errors.As(err, &rerr) {
		return rerr.Cause
	}
	return err
}

// WithinTxWithOptions runs fn inside a transaction with explicit pgx
// transaction options, for callers that need a stricter isolation level.
func (r *TxRunner) WithinTxWithOptions(ctx context.Context, txOptions pgx.TxOptions, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, r.Retry, func(ctx context.Context) error {
		return pgx.BeginTxFunc(ctx, r.Pool, txOptions, func(tx pgx.Tx) error {
			ctx = context.WithValue(ctx, txKey{}, tx)
			return fn(ctx)
		})
	})
	var rerr *retry.Error
	if errors.As(err, &rerr) {
		return rerr.Cause
	}
	return err
}

// PgxTx extracts the active transaction from the context.
func PgxTx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// GetQuerier returns the active transaction when the context carries one,
// the pool otherwise.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if tx, ok := PgxTx(ctx); ok {
		return tx
	}
	return r.Pool
}

// IsTransientTxError reports whether err is a failure PostgreSQL expects
// the client to rerun: a serialization failure (40001) or a deadlock
// (40P01).
func IsTransientTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
