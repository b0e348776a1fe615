package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCmd(t *testing.T, format string, dir string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidSchemas(t *testing.T) {
	out, err := runValidateCmd(t, "text", schemaDir)
	require.NoError(t, err)
	assert.Contains(t, out, "graph workflow: [instance node assignee]")
	assert.Contains(t, out, "✓ All schemas valid")
}

func TestValidateValidSchemasJSON(t *testing.T) {
	out, err := runValidateCmd(t, "json", schemaDir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []GraphSummary{{Name: "workflow", Order: []string{"instance", "node", "assignee"}}}, resp.Data.Graphs)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := runValidateCmd(t, "text", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := runValidateCmd(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	dir := writeSchema(t, mixedGraphs)

	out, err := runValidateCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, `E110: `)
	assert.Contains(t, out, `unknown target collection "missing"`)
	assert.Contains(t, out, "E111: ")
	assert.Contains(t, out, "line 4")
}

func TestValidateReportsEveryProblemJSON(t *testing.T) {
	dir := writeSchema(t, mixedGraphs)

	out, err := runValidateCmd(t, "json", dir)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 2)
	assert.Equal(t, "E110", resp.Error.Code)
	assert.Equal(t, "E111", resp.Data.Errors[1].Code)
}
