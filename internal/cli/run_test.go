package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tinyslice/internal/testutil"
	"github.com/roach88/tinyslice/internal/tracestore"
)

func newTestRunOptions(format string, ids ...string) *RunOptions {
	opts := &RunOptions{RootOptions: &RootOptions{Format: format}}
	if len(ids) > 0 {
		opts.RequestIDs = testutil.NewFixedGenerator(ids...)
	}
	return opts
}

func TestRunDispatchesInOrder(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	out, _, err := execute(cmd, slicesDir,
		"--slice", "counter",
		"--dispatch", "increment=2",
		"--dispatch", "asyncIncrement",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ increment\n")
	assert.Contains(t, out, "✓ asyncIncrement → 3\n")
	assert.Contains(t, out, `Final state: {"count":3,"error":"","loading":false}`)
	assert.NotContains(t, out, "Recorded run")
}

func TestRunFailedDispatchExitsWithFailure(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	out, _, err := execute(cmd, slicesDir,
		"--slice", "counter",
		"--dispatch", "failing",
		"--dispatch", "increment=1",
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 dispatch(es) failed")

	// Later dispatches still run.
	assert.Contains(t, out, "✗ failing: boom")
	assert.Contains(t, out, `Final state: {"count":1,"error":"boom","loading":false}`)
}

func TestRunJSONOutput(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "json"})
	out, _, err := execute(cmd, slicesDir,
		"--slice", "cart",
		"--dispatch", `add={"name":"pen","price":3}`,
		"--dispatch", `add={"name":"ink","price":4}`,
	)
	require.NoError(t, err)

	var result RunResult
	assert.Equal(t, "ok", decodeData(t, out, &result))
	assert.Equal(t, "cart", result.Slice)
	require.Len(t, result.Dispatches, 2)
	assert.Equal(t, "add", result.Dispatches[0].Action)
	assert.Equal(t, []any{"pen", "ink"}, result.FinalState["items"])
	assert.Equal(t, float64(7), result.FinalState["total"])
}

func TestRunLifecycleTypeGoesToReducer(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	out, _, err := execute(cmd, slicesDir,
		"--slice", "counter",
		"--dispatch", "asyncIncrement/pending",
	)
	require.NoError(t, err)
	assert.Contains(t, out, `"loading":true`)
}

func TestRunRecordsIntoDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	opts := newTestRunOptions("json", "req-1")
	opts.Slice = "counter"
	opts.Database = dbPath
	opts.Dispatches = []string{"increment=2", "asyncIncrement"}

	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, runSlice(opts, slicesDir, cmd))

	var result RunResult
	decodeData(t, out.String(), &result)
	require.NotEmpty(t, result.RunID)

	st, err := tracestore.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.ReadRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "counter", run.Slice)
	assert.Equal(t, 3, run.Transitions)
	assert.Equal(t, `{"count":3,"error":"","loading":false}`, run.FinalState)
	assert.NotNil(t, run.FinishedAt)

	records, err := st.ReadRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "asyncIncrement/pending", records[0].Type)
	assert.Equal(t, "asyncIncrement/fulfilled", records[1].Type)
}

func TestRunCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing slice flag", []string{slicesDir}, "required flag"},
		{"unknown slice", []string{slicesDir, "--slice", "ghost"}, "E108"},
		{"missing directory", []string{"/nonexistent/slices", "--slice", "counter"}, "E005"},
		{"bad payload", []string{slicesDir, "--slice", "counter", "--dispatch", "increment={"}, "not valid JSON"},
		{"empty name", []string{slicesDir, "--slice", "counter", "--dispatch", "=1"}, "missing action name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDispatch(t *testing.T) {
	tests := []struct {
		raw         string
		wantName    string
		wantPayload any
		wantErr     bool
	}{
		{raw: "reset", wantName: "reset"},
		{raw: "increment=2", wantName: "increment", wantPayload: int64(2)},
		{raw: "increment=2.5", wantName: "increment", wantPayload: 2.5},
		{raw: `add={"name":"a=b"}`, wantName: "add", wantPayload: map[string]any{"name": "a=b"}},
		{raw: `load=["x"]`, wantName: "load", wantPayload: []any{"x"}},
		{raw: "say=hello", wantErr: true},
		{raw: "n=1 2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			step, err := parseDispatch(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, step.name)
			assert.Equal(t, tt.wantPayload, step.payload)
		})
	}
}
