package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// TxLockMode selects how SQLite transactions take their locks.
type TxLockMode string

const (
	// TxLockDeferred postpones locking until the first read/write (SQLite default).
	TxLockDeferred TxLockMode = "DEFERRED"
	// TxLockImmediate grabs the RESERVED lock up front, avoiding SQLITE_BUSY lock upgrades on write.
	TxLockImmediate TxLockMode = "IMMEDIATE"
	// TxLockExclusive grabs the EXCLUSIVE lock up front.
	TxLockExclusive TxLockMode = "EXCLUSIVE"
)

// AccessMode selects how the database file is opened.
type AccessMode string

const (
	// AccessModeReadWrite opens for reading and writing (default).
	AccessModeReadWrite AccessMode = "rw"
	// AccessModeReadOnly opens for reading only.
	AccessModeReadOnly AccessMode = "ro"
	// AccessModeReadWriteCreate opens for reading and writing, creating the file when missing.
	AccessModeReadWriteCreate AccessMode = "rwc"
)

// DBOptions holds SQLite connection settings.
type DBOptions struct {
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	// PingTimeout bounds the connectivity check on open.
	PingTimeout time.Duration
	WALMode     bool
	ForeignKeys bool
	// BusyTimeout is how long SQLite itself waits on SQLITE_BUSY.
	BusyTimeout time.Duration
	// TxLockMode is the lock mode for transactions started by TxRunner.
	TxLockMode TxLockMode
	AccessMode AccessMode
}

// DefaultDBOptions returns settings tuned for embedded use.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		MaxOpenConns:    4, // SQLite allows a single writer
		MaxIdleConns:    1,
		PingTimeout:     5 * time.Second,
		WALMode:         true,
		ForeignKeys:     true,
		BusyTimeout:     5 * time.Second,
		TxLockMode:      TxLockDeferred,
		AccessMode:      AccessModeReadWrite,
	}
}

// NewDB opens a SQLite database with default options.
func NewDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	return NewDBWithOptions(ctx, dbPath, DefaultDBOptions())
}

// NewDBWithOptions opens a SQLite database with the given options,
// creating the parent directory when needed.
func NewDBWithOptions(ctx context.Context, dbPath string, opts DBOptions) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	dsn := buildDSN(dbPath, opts)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := applyPragmaSettings(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
	}

	return db, nil
}

// buildDSN builds the driver DSN. Most settings are applied via PRAGMA
// after opening; only access mode and busy timeout travel with the DSN.
func buildDSN(dbPath string, opts DBOptions) string {
	params := []string{}

	if opts.AccessMode != "" && opts.AccessMode != AccessModeReadWrite {
		params = append(params, fmt.Sprintf("mode=%s", opts.AccessMode))
	}

	if opts.BusyTimeout > 0 {
		timeoutMs := int(opts.BusyTimeout.Milliseconds())
		params = append(params, fmt.Sprintf("_busy_timeout=%d", timeoutMs))
	}

	if len(params) > 0 {
		return dbPath + "?" + strings.Join(params, "&")
	}

	return dbPath
}

// NewInMemoryDB opens an in-memory SQLite database for tests. The pool is
// capped at one connection so every statement sees the same schema.
func NewInMemoryDB(ctx context.Context) (*sql.DB, error) {
	opts := DefaultDBOptions()
	opts.WALMode = false // WAL is unsupported for in-memory databases
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1

	return NewDBWithOptions(ctx, ":memory:", opts)
}

// NewTestDB opens a throwaway file-backed SQLite database under the
// system temp directory.
func NewTestDB(ctx context.Context) (*sql.DB, string, error) {
	tmpFile, err := os.CreateTemp("", "test_db_*.sqlite")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := NewDB(ctx, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, "", err
	}

	return db, tmpPath, nil
}

// CleanupTestDB closes the test database and removes its file.
func CleanupTestDB(db *sql.DB, dbPath string) error {
	if db != nil {
		_ = db.Close()
	}
	if dbPath != "" && dbPath != ":memory:" {
		return os.Remove(dbPath)
	}
	return nil
}

// applyPragmaSettings applies PRAGMA settings on the open connection.
func applyPragmaSettings(ctx context.Context, db *sql.DB, opts DBOptions) error {
	pragmas := make([]string, 0, 4)

	if opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}

	if opts.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")

	if opts.BusyTimeout > 0 {
		timeoutMs := int(opts.BusyTimeout.Milliseconds())
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", timeoutMs))
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}
