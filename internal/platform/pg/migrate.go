package pg

import (
	"errors"
	"fmt"
	"io/fs"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationInfo describes the outcome of a migration run.
type MigrationInfo struct {
	Applied        bool // whether any new migration ran
	CurrentVersion uint // version before the run
	FinalVersion   uint // version after the run
	Dirty          bool // whether the schema is in a dirty state
}

// ApplyMigrations applies all pending migrations from a source path such
// as "file://migrations". Safe to call repeatedly; an already current
// schema is not an error.
func ApplyMigrations(dsn, migrationsPath string) (MigrationInfo, error) {
	m, err := migrate.New(migrationsPath, dsn)
	if err != nil {
		return MigrationInfo{}, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		_, _ = sourceErr, dbErr
	}()

	return runUp(m)
}

// ApplyMigrationsFromFS applies migrations from a file system, typically
// an embed.FS baked into the binary. dirName is the directory inside fsys
// holding the migration files.
func ApplyMigrationsFromFS(dsn string, fsys fs.FS, dirName string) (MigrationInfo, error) {
	sourceDriver, err := iofs.New(fsys, dirName)
	if err != nil {
		return MigrationInfo{}, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return MigrationInfo{}, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		_, _ = sourceErr, dbErr
	}()

	return runUp(m)
}

// runUp applies pending migrations after refusing to touch a dirty schema.
func runUp(m *migrate.Migrate) (MigrationInfo, error) {
	info := MigrationInfo{}

	currentVersion, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationInfo{}, fmt.Errorf("failed to get current version: %w", err)
	}
	info.CurrentVersion = currentVersion
	info.Dirty = dirty

	if dirty {
		return info, fmt.Errorf("database is in dirty state at version %d", currentVersion)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return info, nil
		}
		return info, fmt.Errorf("failed to apply migrations: %w", err)
	}

	info.Applied = true
	finalVersion, _, err := m.Version()
	if err == nil {
		info.FinalVersion = finalVersion
	}

	return info, nil
}

// GetMigrationVersion returns the currently applied schema version.
func GetMigrationVersion(dsn, migrationsPath string) (uint, bool, error) {
	m, err := migrate.New(migrationsPath, dsn)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		_, _ = sourceErr, dbErr
	}()

	return readVersion(m)
}

// GetMigrationVersionFromFS returns the currently applied schema version
// using migrations from a file system.
func GetMigrationVersionFromFS(dsn string, fsys fs.FS, dirName string) (uint, bool, error) {
	sourceDriver, err := iofs.New(fsys, dirName)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		_, _ = sourceErr, dbErr
	}()

	return readVersion(m)
}

func readVersion(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if err != nil {
		// No migrations applied yet is not an error
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}
