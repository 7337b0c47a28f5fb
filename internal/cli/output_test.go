package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/store"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("QUERY", "commit failed", map[string]string{"doc": "a"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "QUERY", resp.Error.Code)
	assert.Equal(t, "commit failed", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccessUsesStringer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(MigrateResult{Driver: "sqlite3", Version: 2}))
	assert.Equal(t, "Schema is at version 2 (sqlite3)\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success("plain"))
	assert.Equal(t, "plain\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error("CONNECTION", "store unreachable", "dial tcp: refused"))
	assert.Contains(t, buf.String(), "Error [CONNECTION]: store unreachable")
	assert.Contains(t, buf.String(), "Details: dial tcp: refused")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: tt.verbose}

			formatter.VerboseLog("running %s", "basic.yaml")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Contains(t, diag.String(), "running basic.yaml")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("outer: %w", NewExitError(ExitFailure, "conflict"))))
}

func TestErrorCode(t *testing.T) {
	storeErr := &store.Error{Code: store.ErrCodeIntegrity, Op: "commit"}

	assert.Equal(t, "INTEGRITY_VIOLATION", ErrorCode(WrapExitError(ExitFailure, "commit failed", storeErr)))
	assert.Equal(t, "FAILURE", ErrorCode(NewExitError(ExitFailure, "version conflict")))
	assert.Equal(t, "COMMAND", ErrorCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, "COMMAND", ErrorCode(errors.New(`unknown flag: --nope`)))
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "version conflict", NewExitError(ExitFailure, "version conflict").Error())

	cause := errors.New("no such file")
	err := WrapExitError(ExitCommandError, "failed to load config", cause)
	assert.Equal(t, "failed to load config: no such file", err.Error())
	assert.ErrorIs(t, err, cause)
}
