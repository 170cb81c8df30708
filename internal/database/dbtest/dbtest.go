// internal/database/dbtest/dbtest.go

// Package dbtest provides migrated throwaway stores for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"scm-graph-fetcher/internal/database"
)

// NewSQLiteStore migrates a fresh SQLite file under t.TempDir and opens it.
// The store is closed when the test ends.
func NewSQLiteStore(t testing.TB) *database.SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "database.db")
	require.NoError(t, database.Migrate("sqlite://"+path))

	store, err := database.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}
