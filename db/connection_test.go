package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ytmp3/errors"
)

func TestOpen(t *testing.T) {
	t.Run("opens database successfully", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(dbPath, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var busyTimeout int
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		db, err := Open("/invalid/nonexistent/path/db.sqlite", nil)
		if err == nil {
			defer db.Close()
			assert.Error(t, db.Ping(), "ping should fail for an unwritable path")
		}
	})
}

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.True(t, IsDatabaseClosed(ErrDatabaseClosed))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "save job")))
	assert.True(t, IsDatabaseClosed(errors.New("sql: database is closed")))
	assert.False(t, IsDatabaseClosed(errors.New("disk I/O error")))

	db, err := Open(filepath.Join(t.TempDir(), "closed.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	_, err = db.Exec("SELECT 1")
	assert.True(t, IsDatabaseClosed(err))
}
