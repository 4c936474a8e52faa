package database

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'nodes'`).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestMigrateUpDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemory(t)

	require.NoError(t, MigrateUp(ctx, db))
	assert.True(t, tableExists(t, db))

	// Applying again is a no-op
	require.NoError(t, MigrateUp(ctx, db))

	require.NoError(t, MigrateDown(ctx, db))
	assert.False(t, tableExists(t, db))

	require.NoError(t, MigrateUp(ctx, db))
	assert.True(t, tableExists(t, db))
}

func TestMigrationFiles(t *testing.T) {
	t.Parallel()

	up, err := migrationFiles(".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/000001_init.up.sql"}, up)

	down, err := migrationFiles(".down.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/000001_init.down.sql"}, down)
}

func TestPostgresMigrations(t *testing.T) {
	t.Parallel()

	pool, cleanup := SetupTestDB(t)
	t.Cleanup(cleanup)

	var exists bool
	err := pool.QueryRow(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'nodes')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)
}
