package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/store"
	"github.com/roach88/docstore/internal/testutil"
)

func snapshotAt(id string, v int64) store.Snapshot {
	return store.Snapshot{ID: id, Version: v, Type: "json0", Data: []byte(`{}`)}
}

func TestStress(t *testing.T) {
	stdout, _, code := runCLI(t, "stress", "--dsn", tempDSN(t),
		"--docs", "2", "--writers", "4", "--commits", "5", "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var result StressResult
	decodeData(t, stdout, &result)
	assert.Equal(t, int64(20), result.Committed)
	assert.Equal(t, 2, result.Docs)
	assert.Equal(t, 4, result.Writers)
	assert.Contains(t, result.Collection, "stress-")
	assert.Empty(t, result.Violations)
}

func TestStress_Text(t *testing.T) {
	stdout, _, code := runCLI(t, "stress", "--dsn", tempDSN(t),
		"--collection", "load", "--docs", "1", "--writers", "2", "--commits", "3")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "6 commits to 1 docs in load by 2 writers")
	assert.Contains(t, stdout, "every op log is contiguous")
}

func TestStress_InvalidFlags(t *testing.T) {
	_, _, code := runCLI(t, "stress", "--dsn", tempDSN(t), "--writers", "0")
	assert.Equal(t, ExitCommandError, code)
}

func TestVerifyLogs_DetectsMismatch(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()

	ok, err := s.Commit(ctx, "docs", "a", []byte(`{"create":{}}`), snapshotAt("a", 1))
	require.NoError(t, err)
	require.True(t, ok)

	// An op row the snapshot never caught up with.
	_, err = s.Pool().DB().Exec(`INSERT INTO ops (collection, doc_id, version, operation) VALUES ('docs', 'a', 2, '{}')`)
	require.NoError(t, err)

	violations, total, err := verifyLogs(ctx, s, "docs", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "a: snapshot at version 1 but 2 ops")
}

func TestVerifyLogs_DetectsGap(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()

	_, err := s.Pool().DB().Exec(`
		INSERT INTO snapshots (collection, doc_id, doc_type, version, data) VALUES ('docs', 'a', 'json0', 2, '{}');
		INSERT INTO ops (collection, doc_id, version, operation) VALUES ('docs', 'a', 1, '{}'), ('docs', 'a', 3, '{}');
	`)
	require.NoError(t, err)

	violations, _, err := verifyLogs(ctx, s, "docs", []string{"a"})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "a: op 2 has version 3")
}
