package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/retrykit/retrykit/pkg/retry"
)

// txKey carries the active transaction inside context.Context.
type txKey struct{}

// Querier unifies query execution across the database handle and a
// transaction, so callers work against one interface either way.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
	_ Querier = (*manualTx)(nil)
)

// TxRunner runs callbacks inside transactions with commit-or-rollback
// semantics. SQLITE_BUSY failures are retried through pkg/retry.
type TxRunner struct {
	DB         *sql.DB
	TxLockMode TxLockMode
	// Retry paces reruns of the whole transaction on SQLITE_BUSY.
	Retry retry.Config
}

// NewTxRunner creates a TxRunner with default options.
func NewTxRunner(db *sql.DB) *TxRunner {
	return NewTxRunnerWithOptions(db, DefaultDBOptions())
}

// NewTxRunnerWithOptions creates a TxRunner with the given options.
func NewTxRunnerWithOptions(db *sql.DB, opts DBOptions) *TxRunner {
	return &TxRunner{
		DB:         db,
		TxLockMode: opts.TxLockMode,
		Retry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			Strategy:    retry.StrategyExponentialJitter,
			ShouldRetry: IsBusy,
		},
	}
}

// WithinTx runs fn inside a transaction. When fn returns an error the
// transaction is rolled back, otherwise it is committed. The transaction
// is reachable inside fn via SqlTx or GetQuerier. SQLITE_BUSY failures
// rerun the whole transaction per the Retry policy; callers always get
// fn's own error back, not the retry wrapper.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, r.Retry, func(ctx context.Context) error {
		return r.executeTx(ctx, fn)
	})
	var rerr *retry.Error
	if errors.As(err, &rerr) {
		return rerr.Cause
	}
	return err
}

// SqlTx extracts the active *sql.Tx from the context. Manual IMMEDIATE and
// EXCLUSIVE transactions have no *sql.Tx, so this reports false for them;
// use GetTxQuerier when any transaction kind will do.
func SqlTx(ctx context.Context) (*sql.Tx, bool) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx, true
	}
	return nil, false
}

// GetTxQuerier extracts any transaction kind from the context as a Querier.
func GetTxQuerier(ctx context.Context) (Querier, bool) {
	if querier, ok := ctx.Value(txKey{}).(Querier); ok {
		return querier, true
	}
	return nil, false
}

// GetQuerier returns the active transaction when the context carries one,
// the plain database handle otherwise.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if querier, ok := GetTxQuerier(ctx); ok {
		return querier
	}
	return r.DB
}

// executeTx runs one transaction attempt.
func (r *TxRunner) executeTx(ctx context.Context, fn func(context.Context) error) error {
	if _, existingTx := GetTxQuerier(ctx); existingTx {
		return fmt.Errorf("nested transactions are not supported by SQLite")
	}

	if r.TxLockMode != TxLockDeferred && r.TxLockMode != "" {
		return r.executeTxWithLockMode(ctx, fn)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, txKey{}, tx)

	if err := fn(ctx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// executeTxWithLockMode runs one transaction attempt with an explicit
// BEGIN IMMEDIATE/EXCLUSIVE. database/sql cannot hand out a *sql.Tx after
// a manual BEGIN, so queries go through a wrapper on the database handle.
// Requires MaxOpenConns = 1 so every statement lands on the connection
// that holds the lock.
func (r *TxRunner) executeTxWithLockMode(ctx context.Context, fn func(context.Context) error) error {
	beginQuery := fmt.Sprintf("BEGIN %s", r.TxLockMode)
	_, err := r.DB.ExecContext(ctx, beginQuery)
	if err != nil {
		return err
	}

	wrapper := &manualTx{db: r.DB}
	ctx = context.WithValue(ctx, txKey{}, wrapper)

	if err := fn(ctx); err != nil {
		_, _ = r.DB.ExecContext(ctx, "ROLLBACK")
		return err
	}

	_, err = r.DB.ExecContext(ctx, "COMMIT")
	return err
}

// manualTx routes queries of a manually started IMMEDIATE/EXCLUSIVE
// transaction through the database handle.
type manualTx struct {
	db *sql.DB
}

func (m *manualTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return m.db.ExecContext(ctx, query, args...)
}

func (m *manualTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return m.db.QueryContext(ctx, query, args...)
}

func (m *manualTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return m.db.QueryRowContext(ctx, query, args...)
}

func (m *manualTx) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return m.db.PrepareContext(ctx, query)
}

// IsBusy reports whether err is a SQLITE_BUSY class failure worth a rerun.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database table is locked")
}
