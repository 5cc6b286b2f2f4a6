package sqlite

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// BuildMigrateURL builds a golang-migrate database URL for the given path,
// handling OS specifics. On Windows "C:\..." becomes "sqlite:///C:/...",
// on Unix "/..." becomes "sqlite:///...".
func BuildMigrateURL(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	urlPath := filepath.ToSlash(absPath)

	if runtime.GOOS == "windows" && len(urlPath) >= 2 && urlPath[1] == ':' {
		urlPath = "/" + urlPath
	}

	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}

	return "sqlite://" + urlPath, nil
}

// ApplyMigrations applies all pending migrations from a source path such
// as "file://migrations/sqlite". Safe to call repeatedly; an already
// current schema is not an error.
func ApplyMigrations(dbPath, migrationsPath string) error {
	databaseURL, err := BuildMigrateURL(dbPath)
	if err != nil {
		return fmt.Errorf("failed to build database URL: %w", err)
	}

	m, err := migrate.New(migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// ApplyMigrationsFS applies all pending migrations from a file system,
// typically an embed.FS baked into the binary. dirName is the directory
// inside fsys holding the migration files.
func ApplyMigrationsFS(dbPath string, fsys fs.FS, dirName string) error {
	databaseURL, err := BuildMigrateURL(dbPath)
	if err != nil {
		return fmt.Errorf("failed to build database URL: %w", err)
	}

	sourceDriver, err := iofs.New(fsys, dirName)
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// GetMigrationVersion returns the currently applied schema version.
func GetMigrationVersion(dbPath, migrationsPath string) (uint, bool, error) {
	databaseURL, err := BuildMigrateURL(dbPath)
	if err != nil {
		return 0, false, fmt.Errorf("failed to build database URL: %w", err)
	}

	m, err := migrate.New(migrationsPath, databaseURL)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

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

// GetMigrationVersionFS returns the currently applied schema version using
// migrations from a file system.
func GetMigrationVersionFS(dbPath string, fsys fs.FS, dirName string) (uint, bool, error) {
	databaseURL, err := BuildMigrateURL(dbPath)
	if err != nil {
		return 0, false, fmt.Errorf("failed to build database URL: %w", err)
	}

	sourceDriver, err := iofs.New(fsys, dirName)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, databaseURL)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

// DowngradeToVersion rolls the schema back to the given version. Meant for
// tests and for backing out a bad migration.
func DowngradeToVersion(dbPath, migrationsPath string, version uint) error {
	databaseURL, err := BuildMigrateURL(dbPath)
	if err != nil {
		return fmt.Errorf("failed to build database URL: %w", err)
	}

	m, err := migrate.New(migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to downgrade to version %d: %w", version, err)
	}

	return nil
}
