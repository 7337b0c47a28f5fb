package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/pool"
)

// postgresDSNEnv names the environment variable that enables the Postgres
// variants of the store tests.
const postgresDSNEnv = "DOCSTORE_TEST_POSTGRES_DSN"

// createTestStore creates a new SQLite store under t.TempDir().
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(pool.Config{
		Driver: pool.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachDialect runs fn against a SQLite store and, when
// DOCSTORE_TEST_POSTGRES_DSN is set, a Postgres store. Each run gets a fresh
// collection name so Postgres runs do not observe each other's rows.
func forEachDialect(t *testing.T, fn func(t *testing.T, s *Store, collection string)) {
	t.Run(pool.DriverSQLite, func(t *testing.T) {
		fn(t, createTestStore(t), "docs")
	})
	t.Run(pool.DriverPostgres, func(t *testing.T) {
		dsn := os.Getenv(postgresDSNEnv)
		if dsn == "" {
			t.Skipf("%s not set", postgresDSNEnv)
		}
		s, err := Open(pool.Config{
			Driver:       pool.DriverPostgres,
			DSN:          dsn,
			MaxOpenConns: 8,
		})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s, "docs-"+uuid.NewString())
	})
}

// testOp builds the op payload committed at version v.
func testOp(v int64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"src":"test","seq":%d,"v":%d,"op":[{"p":["x"],"na":1}]}`, v, v-1))
}

// testSnapshot builds a snapshot at version v with data {"x": x}.
func testSnapshot(id string, v int64, x int) Snapshot {
	return Snapshot{
		ID:      id,
		Version: v,
		Type:    "json0",
		Data:    json.RawMessage(fmt.Sprintf(`{"x":%d}`, x)),
	}
}

// commitN commits versions 1..n to a document and fails the test on any
// rejected commit.
func commitN(t *testing.T, s *Store, collection, id string, n int) {
	t.Helper()
	ctx := context.Background()
	for v := int64(1); v <= int64(n); v++ {
		ok, err := s.Commit(ctx, collection, id, testOp(v), testSnapshot(id, v, int(v)))
		require.NoError(t, err)
		require.True(t, ok, "commit v%d rejected", v)
	}
}

func versions(ops []Op) []int64 {
	out := make([]int64, len(ops))
	for i, op := range ops {
		out[i] = op.Version
	}
	return out
}

func ptr(v int64) *int64 { return &v }
