package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "jobs", "queue_messages"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist after migrations", table)
	}

	version, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, "002", version)
}

func TestMigrate_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, nil), "second run should skip applied migrations")

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	all, err := listMigrations()
	require.NoError(t, err)
	assert.Equal(t, len(all), applied)
}

func TestMigrate_JobsStatusConstraint(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO jobs (key, status, created_at, updated_at) VALUES ('abc123', 'RUNNING', 1, 1)`)
	assert.Error(t, err, "unknown statuses are rejected by the schema")
}

func TestListMigrations_Ordered(t *testing.T) {
	all, err := listMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "000", all[0].version)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].filename, all[i].filename)
	}
}
