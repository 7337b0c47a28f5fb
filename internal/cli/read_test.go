package cli

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocument(t *testing.T, dsn string, versions int) {
	t.Helper()
	_, _, code := runCLI(t, commitArgs(dsn, "1", "--data", `{"n":1}`)...)
	require.Equal(t, ExitSuccess, code)
	for v := 2; v <= versions; v++ {
		_, _, code := runCLI(t, commitArgs(dsn, strconv.Itoa(v), "--op", `[{"p":["n"],"na":1}]`, "--data", `{"n":`+strconv.Itoa(v)+`}`)...)
		require.Equal(t, ExitSuccess, code)
	}
}

func TestSnapshot_NeverCommitted(t *testing.T) {
	stdout, _, code := runCLI(t, "snapshot", "--dsn", tempDSN(t), "--collection", "docs", "--id", "ghost")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "docs/ghost has no commits (version 0)")
}

func TestSnapshot_Text(t *testing.T) {
	dsn := tempDSN(t)
	seedDocument(t, dsn, 2)

	stdout, _, code := runCLI(t, "snapshot", "--dsn", dsn, "--collection", "docs", "--id", "readme")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "docs/readme version 2 type json0")
	assert.Contains(t, stdout, `data: {"n":2}`)
}

func TestOps_Range(t *testing.T) {
	dsn := tempDSN(t)
	seedDocument(t, dsn, 5)

	stdout, _, code := runCLI(t, "ops", "--dsn", dsn, "--collection", "docs", "--id", "readme",
		"--from", "2", "--to", "4", "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var result OpsResult
	decodeData(t, stdout, &result)
	require.Len(t, result.Ops, 2)
	assert.Equal(t, int64(3), result.Ops[0].Version)
	assert.Equal(t, int64(4), result.Ops[1].Version)
	assert.Equal(t, "readme", result.Ops[0].ID)

	stdout, _, code = runCLI(t, "ops", "--dsn", dsn, "--collection", "docs", "--id", "readme", "--from", "3")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "v4 {")
	assert.Contains(t, stdout, "v5 {")
	assert.NotContains(t, stdout, "v3 {")
}

func TestOps_Empty(t *testing.T) {
	stdout, _, code := runCLI(t, "ops", "--dsn", tempDSN(t), "--collection", "docs", "--id", "ghost")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "No ops in range for docs/ghost")
}

func TestOps_InvalidKey(t *testing.T) {
	_, stderr, code := runCLI(t, "ops", "--dsn", tempDSN(t), "--collection", "docs", "--id", "")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "Error [QUERY]")
}
