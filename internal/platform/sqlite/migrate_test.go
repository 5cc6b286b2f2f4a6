package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMigrateURL(t *testing.T) {
	tests := []struct {
		name        string
		inputPath   string
		expectError bool
	}{
		{
			name:        "relative path",
			inputPath:   "test.db",
			expectError: false,
		},
		{
			name:        "absolute unix path",
			inputPath:   "/tmp/test.db",
			expectError: false,
		},
		{
			name:        "memory database",
			inputPath:   ":memory:",
			expectError: false,
		},
	}

	if runtime.GOOS == "windows" {
		tests = append(tests, struct {
			name        string
			inputPath   string
			expectError bool
		}{
			name:        "windows absolute path",
			inputPath:   "C:\\temp\\test.db",
			expectError: false,
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := BuildMigrateURL(tt.inputPath)

			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, "sqlite://"))

			if runtime.GOOS == "windows" && len(tt.inputPath) >= 2 && tt.inputPath[1] == ':' {
				// C:\path must become sqlite:///C:/path
				assert.Contains(t, url, "sqlite:///")
				assert.Contains(t, url, "/"+strings.ToUpper(string(tt.inputPath[0])))
			}
		})
	}
}

func TestBuildMigrateURL_CrossPlatform(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test_migrate_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	url, err := BuildMigrateURL(tmpPath)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(url, "sqlite://"))
	assert.Contains(t, url, filepath.Base(tmpPath))
	assert.False(t, strings.Contains(url, "\\"))
}

func TestApplyMigrations_WithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tmpDir := t.TempDir()

	migration1Up := `
CREATE TABLE targets (
    id INTEGER PRIMARY KEY,
    url TEXT NOT NULL
);
`
	migration1Down := `DROP TABLE targets;`

	migration2Up := `
CREATE TABLE samples (
    id INTEGER PRIMARY KEY,
    target_id INTEGER,
    ok INTEGER NOT NULL,
    FOREIGN KEY(target_id) REFERENCES targets(id)
);
`
	migration2Down := `DROP TABLE samples;`

	err := os.WriteFile(filepath.Join(tmpDir, "001_create_targets.up.sql"), []byte(migration1Up), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "001_create_targets.down.sql"), []byte(migration1Down), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "002_create_samples.up.sql"), []byte(migration2Up), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "002_create_samples.down.sql"), []byte(migration2Down), 0644)
	require.NoError(t, err)

	migrationsPath := "file://" + filepath.ToSlash(tmpDir)

	err = ApplyMigrations(dbPath, migrationsPath)
	require.NoError(t, err)

	ctx := context.Background()
	db, err := NewDB(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('targets', 'samples')").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Applying twice must be a no-op, not an error.
	err = ApplyMigrations(dbPath, migrationsPath)
	assert.NoError(t, err)
}

func TestApplyMigrationsFS(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	fsys := fstest.MapFS{
		"migrations/001_create_targets.up.sql": &fstest.MapFile{
			Data: []byte(`CREATE TABLE targets (id INTEGER PRIMARY KEY, url TEXT NOT NULL);`),
		},
		"migrations/001_create_targets.down.sql": &fstest.MapFile{
			Data: []byte(`DROP TABLE targets;`),
		},
		"migrations/002_create_samples.up.sql": &fstest.MapFile{
			Data: []byte(`CREATE TABLE samples (id INTEGER PRIMARY KEY, target_id INTEGER);`),
		},
		"migrations/002_create_samples.down.sql": &fstest.MapFile{
			Data: []byte(`DROP TABLE samples;`),
		},
	}

	err := ApplyMigrationsFS(dbPath, fsys, "migrations")
	require.NoError(t, err)

	ctx := context.Background()
	db, err := NewDB(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('targets', 'samples')").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	err = ApplyMigrationsFS(dbPath, fsys, "migrations")
	assert.NoError(t, err)

	version, dirty, err := GetMigrationVersionFS(dbPath, fsys, "migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestGetMigrationVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tmpDir := t.TempDir()

	migration1Up := `CREATE TABLE targets (id INTEGER PRIMARY KEY);`
	err := os.WriteFile(filepath.Join(tmpDir, "001_create_targets.up.sql"), []byte(migration1Up), 0644)
	require.NoError(t, err)

	migrationsPath := "file://" + filepath.ToSlash(tmpDir)

	err = ApplyMigrations(dbPath, migrationsPath)
	require.NoError(t, err)

	version, dirty, err := GetMigrationVersion(dbPath, migrationsPath)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestDowngradeToVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tmpDir := t.TempDir()

	migration1Up := `CREATE TABLE test1 (id INTEGER PRIMARY KEY);`
	migration1Down := `DROP TABLE test1;`
	migration2Up := `CREATE TABLE test2 (id INTEGER PRIMARY KEY);`
	migration2Down := `DROP TABLE test2;`

	err := os.WriteFile(filepath.Join(tmpDir, "001_create_test1.up.sql"), []byte(migration1Up), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "001_create_test1.down.sql"), []byte(migration1Down), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "002_create_test2.up.sql"), []byte(migration2Up), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "002_create_test2.down.sql"), []byte(migration2Down), 0644)
	require.NoError(t, err)

	migrationsPath := "file://" + filepath.ToSlash(tmpDir)

	err = ApplyMigrations(dbPath, migrationsPath)
	require.NoError(t, err)

	ctx := context.Background()
	db, err := NewDB(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('test1', 'test2')").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	err = DowngradeToVersion(dbPath, migrationsPath, 1)
	require.NoError(t, err)

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='test1'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='test2'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	version, _, err := GetMigrationVersion(dbPath, migrationsPath)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestMigrations_InvalidPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	invalidPath := "file:///nonexistent/path"

	err := ApplyMigrations(dbPath, invalidPath)
	assert.Error(t, err)

	_, _, err = GetMigrationVersion(dbPath, invalidPath)
	assert.Error(t, err)

	err = DowngradeToVersion(dbPath, invalidPath, 1)
	assert.Error(t, err)
}

func TestApplyMigrationsFS_MissingDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	err := ApplyMigrationsFS(dbPath, fstest.MapFS{}, "migrations")
	assert.Error(t, err)
}
