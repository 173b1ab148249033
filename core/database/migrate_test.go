package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppliedSelection(t *testing.T) {
	files := []string{"000001_create_sessions.up.sql", "000002_index.up.sql", "000003_extra.up.sql"}
	assert.Equal(t, 2, countApplied(files, 1, 3))
	assert.Equal(t, []string{"000002_index.up.sql", "000003_extra.up.sql"}, selectApplied(files, 1, 3))
	assert.Zero(t, countApplied(files, 3, 3))
}

func TestListMigrationFilesSkipsDown(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, listMigrationFiles(dir))
}

func TestResolveMigrationsPath(t *testing.T) {
	abs, err := resolveMigrationsPath("/srv/migrations")
	require.NoError(t, err)
	assert.Equal(t, "/srv/migrations", abs)

	def, err := resolveMigrationsPath("")
	require.NoError(t, err)
	assert.Equal(t, "migrations", filepath.Base(def))
	assert.True(t, filepath.IsAbs(def))
}

func TestConfigURLs(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "bot", Password: "p@ss", Name: "pizza"}
	assert.Equal(t, "user=bot password=p@ss host=db port=5432 dbname=pizza sslmode=disable", cfg.DSN())
	assert.Equal(t, "postgres://bot:p%40ss@db:5432/pizza?sslmode=disable", cfg.URL())
}
