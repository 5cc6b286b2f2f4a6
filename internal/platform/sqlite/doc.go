// Package sqlite provides the infrastructure pieces for working with SQLite.
//
// Capabilities:
// - Database bootstrap with tuned PRAGMA settings (WAL, foreign keys, busy timeout)
// - Transaction management with commit-or-rollback callbacks
// - SQLITE_BUSY reruns paced by pkg/retry
// - Migrations from a path or an embedded file system
// - Test helpers for in-memory and file-backed databases
//
// # Quick start
//
// Open a database with default settings:
//
//	ctx := context.Background()
//	db, err := sqlite.NewDB(ctx, "app.db")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
// # Transactions
//
//	runner := sqlite.NewTxRunner(db)
//	err = runner.WithinTx(ctx, func(ctx context.Context) error {
//		querier := runner.GetQuerier(ctx)
//		_, err := querier.ExecContext(ctx, "INSERT INTO samples (target) VALUES (?)", "https://example.com")
//		return err
//	})
//
// A transaction that fails with SQLITE_BUSY is rerun under the runner's
// Retry policy; any other error rolls back and returns as-is.
//
// # Migrations
//
// From a directory:
//
//	err = sqlite.ApplyMigrations("app.db", "file://migrations/sqlite")
//
// From an embedded file system:
//
//	//go:embed migrations
//	var migrationsFS embed.FS
//
//	err = sqlite.ApplyMigrationsFS("app.db", migrationsFS, "migrations/sqlite")
//
// # Testing
//
//	func TestSomething(t *testing.T) {
//		tdb := sqlite.NewTestDBFile(t)
//		tdb.ApplyTestMigrationsFS(t, migrationsFS, "migrations/sqlite")
//		// tdb.DB and tdb.TxRunner ready to use, cleanup is automatic
//	}
package sqlite
