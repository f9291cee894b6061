package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ynab-sync/internal/model"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(countResult{Message: "Requeued 2 failed items", Count: 2})
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"message": "Requeued 2 failed items", "count": float64(2)}, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(model.NewRemoteError("fetch transactions", true, errors.New("HTTP 503")))
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "REMOTE", resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Contains(t, resp.Error.Message, "HTTP 503")
}

func TestOutputFormatter_JSONFailureKeepsData(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	run := model.SyncRun{ID: "run-1", Status: model.StatusFailed, ItemsFailed: 1}
	err := formatter.Failure(runResult(run), NewExitError(ExitFailure, "sync run run-1 failed"))
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   model.SyncRun `json:"data"`
		Error  CLIError      `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "run-1", resp.Data.ID)
	assert.Equal(t, "COMMAND", resp.Error.Code)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("plain value")
	require.NoError(t, err)
	assert.Equal(t, "plain value\n", buf.String())
}

func TestOutputFormatter_TextUsesRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(cleanupResult{RunsDeleted: 3, ItemsDeleted: 7}))
	assert.Equal(t, "Deleted 3 runs and 7 items\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Error(model.NewConfigurationError("API token is required"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [CONFIGURATION]")
	assert.Contains(t, buf.String(), "API token is required")
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"exit_error", NewExitError(ExitCommandError, "bad"), ExitCommandError},
		{"wrapped_exit_error", fmt.Errorf("outer: %w", NewExitError(ExitFailure, "bad")), ExitFailure},
		{"remote", model.NewRemoteError("apply", false, errors.New("HTTP 400")), ExitFailure},
		{"storage", model.NewStorageError("open", errors.New("disk full")), ExitCommandError},
		{"validation", model.NewValidationError("start sync", "budget id is required"), ExitCommandError},
		{"configuration", model.NewConfigurationError("no token"), ExitCommandError},
		{"plain", errors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	inner := model.NewStorageError("open", errors.New("locked"))
	err := WrapExitError(ExitCommandError, "failed to open database", inner)

	assert.Equal(t, "failed to open database: "+inner.Error(), err.Error())
	assert.True(t, model.IsStorage(err))
}
