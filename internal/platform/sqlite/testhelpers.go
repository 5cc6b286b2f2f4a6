package sqlite

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"
)

// TestDB bundles a throwaway SQLite database with common test helpers.
type TestDB struct {
	DB       *sql.DB
	Path     string // database file path, ":memory:" for in-memory
	TxRunner *TxRunner
}

// NewTestDBInMemory creates an in-memory SQLite database for tests,
// closed automatically when the test finishes.
func NewTestDBInMemory(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()
	db, err := NewInMemoryDB(ctx)
	if err != nil {
		t.Fatalf("Failed to create in-memory test DB: %v", err)
	}

	testDB := &TestDB{
		DB:       db,
		Path:     ":memory:",
		TxRunner: NewTxRunner(db),
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return testDB
}

// NewTestDBFile creates a file-backed SQLite database for tests, removed
// automatically when the test finishes. Use this over NewTestDBInMemory
// when migrations must run, since golang-migrate opens its own connection.
func NewTestDBFile(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()
	db, path, err := NewTestDB(ctx)
	if err != nil {
		t.Fatalf("Failed to create file test DB: %v", err)
	}

	testDB := &TestDB{
		DB:       db,
		Path:     path,
		TxRunner: NewTxRunner(db),
	}

	t.Cleanup(func() {
		_ = CleanupTestDB(db, path)
	})

	return testDB
}

// ApplyTestMigrations applies migrations from a source path like
// "file://migrations/sqlite".
func (tdb *TestDB) ApplyTestMigrations(t *testing.T, migrationsPath string) {
	t.Helper()

	if err := ApplyMigrations(tdb.Path, migrationsPath); err != nil {
		t.Fatalf("Failed to apply test migrations: %v", err)
	}
}

// ApplyTestMigrationsFS applies migrations from a file system, typically
// the embedded production schema.
func (tdb *TestDB) ApplyTestMigrationsFS(t *testing.T, fsys fs.FS, dirName string) {
	t.Helper()

	if err := ApplyMigrationsFS(tdb.Path, fsys, dirName); err != nil {
		t.Fatalf("Failed to apply test migrations: %v", err)
	}
}

// Exec runs a SQL statement and fails the test on error.
func (tdb *TestDB) Exec(t *testing.T, query string, args ...any) sql.Result {
	t.Helper()

	result, err := tdb.DB.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("Failed to execute query: %v", err)
	}
	return result
}

// Query runs a SQL query and fails the test on error.
func (tdb *TestDB) Query(t *testing.T, query string, args ...any) *sql.Rows {
	t.Helper()

	rows, err := tdb.DB.QueryContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("Failed to execute query: %v", err)
	}
	return rows
}

// QueryRow runs a SQL query returning a single row.
func (tdb *TestDB) QueryRow(t *testing.T, query string, args ...any) *sql.Row {
	t.Helper()
	return tdb.DB.QueryRowContext(context.Background(), query, args...)
}

// WithTx runs fn inside a transaction and fails the test on error.
func (tdb *TestDB) WithTx(t *testing.T, fn func(ctx context.Context) error) {
	t.Helper()

	ctx := context.Background()
	err := tdb.TxRunner.WithinTx(ctx, fn)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
}

// MustSeedData runs the given statements, failing the test on any error.
func (tdb *TestDB) MustSeedData(t *testing.T, queries ...string) {
	t.Helper()

	for _, query := range queries {
		tdb.Exec(t, query)
	}
}

// CountRows returns the number of rows in a table.
func (tdb *TestDB) CountRows(t *testing.T, tableName string) int {
	t.Helper()

	var count int
	row := tdb.QueryRow(t, "SELECT COUNT(*) FROM "+tableName)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to count rows in table %s: %v", tableName, err)
	}
	return count
}

// TableExists reports whether a table is present in the schema.
func (tdb *TestDB) TableExists(t *testing.T, tableName string) bool {
	t.Helper()

	var count int
	row := tdb.QueryRow(t, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tableName)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to check table existence: %v", err)
	}
	return count > 0
}
