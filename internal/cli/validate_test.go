package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidSlices(t *testing.T) {
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), slicesDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All slices valid (3)")
}

func TestValidateValidSlicesJSON(t *testing.T) {
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), slicesDir)
	require.NoError(t, err)

	var result ValidationResult
	assert.Equal(t, "ok", decodeData(t, out, &result))
	assert.True(t, result.Valid)
	require.Len(t, result.Slices, 3)
	assert.Equal(t, "cart", result.Slices[0].Name)
	assert.Equal(t, "cel", result.Slices[0].Engine)
	assert.Equal(t, []string{"add", "clear"}, result.Slices[0].Actions)
}

func TestValidateVerboseListsSlices(t *testing.T) {
	out, errOut, err := execute(NewValidateCommand(&RootOptions{Format: "text", Verbose: true}), slicesDir)
	require.NoError(t, err)
	assert.Contains(t, out, "todos [js]")
	assert.Contains(t, errOut, "Found 3 CUE file(s)")
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, out, "not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E003")
}

func TestValidateReportsAllErrors(t *testing.T) {
	dir := t.TempDir()
	src := `package bad

slice: a: {
	initial: {n: 0}
	action: x: {}
}

slice: b: {
	initial: {n: 0}
	action: y: set: {m: "1"}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(src), 0o644))

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 error(s)")
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E102")
	assert.Contains(t, out, "E104")
	assert.Contains(t, out, "bad.cue:")
}

func TestValidateErrorsJSON(t *testing.T) {
	dir := t.TempDir()
	src := `package bad

slice: a: {
	engine: "lua"
	initial: {n: 0}
	action: x: set: {n: "1"}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(src), 0o644))

	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)

	var result ValidationResult
	assert.Equal(t, "error", decodeData(t, out, &result))
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "E105", result.Errors[0].Code)
}
