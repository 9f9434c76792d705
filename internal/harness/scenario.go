package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one scripted run against a declarative slice.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Slices is the directory of CUE slice definitions. Relative paths are
	// resolved against the scenario file's directory.
	Slices string `yaml:"slices"`

	// Slice names the slice to bind a store to.
	Slice string `yaml:"slice"`

	// RequestIDs fixes the request IDs handed to async invocations, in order.
	// When empty, IDs are req-1, req-2, ...
	RequestIDs []string `yaml:"request_ids,omitempty"`

	// Steps are dispatched in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state after all steps.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step dispatches one action and optionally checks its outcome.
type Step struct {
	// Dispatch is an action name, or a full type such as "load/fulfilled"
	// to feed a lifecycle action straight to the reducer.
	Dispatch string `yaml:"dispatch"`

	// Payload is passed to the action creator.
	Payload any `yaml:"payload,omitempty"`

	// ExpectState is a subset match against the snapshot after the step.
	ExpectState map[string]any `yaml:"expect_state,omitempty"`

	// ExpectError is a substring of the expected error. Steps without it
	// must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectResult is compared with the value returned by the invoker.
	ExpectResult any `yaml:"expect_result,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Action is an action type such as "increment" or "load/pending"
	// (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Payload is the expected payload (trace_contains). Maps match as subsets.
	Payload any `yaml:"payload,omitempty"`

	// Actions is the expected order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect is a subset match against the final state (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Slices != "" && !filepath.IsAbs(scenario.Slices) {
		scenario.Slices = filepath.Join(filepath.Dir(path), scenario.Slices)
	}
	if _, err := os.Stat(scenario.Slices); err != nil {
		return nil, fmt.Errorf("invalid scenario: slices directory not found: %s", scenario.Slices)
	}

	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML without touching the
// filesystem; Slices is left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Slices == "" {
		return fmt.Errorf("slices directory is required")
	}
	if s.Slice == "" {
		return fmt.Errorf("slice is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Dispatch == "" {
			return fmt.Errorf("steps[%d]: dispatch is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
