package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/pool"
	"github.com/roach88/docstore/internal/store"
)

// NewStore opens a migrated SQLite store under t.TempDir() and closes it when
// the test ends.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(SQLiteConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// SQLiteConfig returns pool settings for a fresh database file under
// t.TempDir().
func SQLiteConfig(t testing.TB) pool.Config {
	t.Helper()
	return pool.Config{
		Driver: pool.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "docstore.db"),
	}
}
