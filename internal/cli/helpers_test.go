package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

var (
	slicesDir    = filepath.Join("..", "..", "testdata", "slices")
	scenariosDir = filepath.Join("..", "..", "testdata", "scenarios")
)

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// decodeData unmarshals the data field of a CLIResponse into v and returns
// the response status.
func decodeData(t *testing.T, output string, v any) string {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp), "output: %s", output)
	if v != nil {
		require.NoError(t, json.Unmarshal(resp.Data, v))
	}
	return resp.Status
}
