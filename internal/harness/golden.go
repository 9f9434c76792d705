package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tinyslice/internal/canon"
)

// Snapshot renders the scenario's trace and final state as canonical JSON.
// Two runs of one scenario produce identical bytes.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		entry := map[string]any{
			"seq":     event.Seq,
			"type":    event.Type,
			"state":   event.State,
			"changed": event.Changed,
		}
		if event.RequestID != "" {
			entry["request_id"] = event.RequestID
		}
		if event.Payload != nil {
			entry["payload"] = event.Payload
		}
		trace[i] = entry
	}

	return canon.Marshal(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"final_state":   result.State,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// GoldenPath returns the golden file for a scenario file: a "golden"
// directory next to it, named after the file.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// UpdateGolden writes the current snapshot as the golden file.
func UpdateGolden(scenario *Scenario, result *Result, scenarioFile string) error {
	data, err := Snapshot(scenario.Name, result)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	goldenPath := GoldenPath(scenarioFile)
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the snapshot matches the golden file.
// A missing golden file returns os.ErrNotExist (wrapped).
func CompareGolden(scenario *Scenario, result *Result, scenarioFile string) (bool, error) {
	golden, err := os.ReadFile(GoldenPath(scenarioFile))
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}

	current, err := Snapshot(scenario.Name, result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal current trace: %w", err)
	}

	return bytes.Equal(bytes.TrimSpace(golden), current), nil
}
