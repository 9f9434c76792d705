package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/tinyslice/internal/canon"
	"github.com/roach88/tinyslice/internal/eval"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Type, canon.String(event.Payload))
		}
	}

	return buf.String()
}

// assertTraceContains checks that the trace holds the action, with a
// matching payload when one is given.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	want := eval.Normalize(assertion.Payload)
	for _, event := range trace {
		if event.Type != assertion.Action {
			continue
		}
		if assertion.Payload == nil || payloadMatches(event.Payload, want) {
			return nil
		}
	}

	expected := "action " + assertion.Action
	if assertion.Payload != nil {
		expected += " with payload " + canon.String(want)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that actions appear in the given order.
// Actions don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Type]; !seen {
			positions[event.Type] = i + 1 // 1-indexed for readability
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s appears %d times", assertion.Action, assertion.Count),
			Actual:   fmt.Sprintf("appears %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the final snapshot against expected fields.
func assertFinalState(state map[string]any, assertion Assertion) error {
	if msg := matchSubset(state, assertion.Expect); msg != "" {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: canon.String(eval.Normalize(assertion.Expect)),
			Actual:   msg,
		}
	}
	return nil
}

// matchSubset reports the first field of expected missing from or differing
// in actual, or "" when all match. Extra keys in actual are ignored.
func matchSubset(actual map[string]any, expected map[string]any) string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actualVal, exists := actual[key]
		if !exists {
			return fmt.Sprintf("missing field %q", key)
		}
		want := eval.Normalize(expected[key])
		if !valuesEqual(actualVal, want) {
			return fmt.Sprintf("field %q = %s, want %s", key, canon.String(actualVal), canon.String(want))
		}
	}
	return ""
}

// payloadMatches compares payloads; maps match as subsets.
func payloadMatches(actual, expected any) bool {
	expectedMap, ok := expected.(map[string]any)
	if !ok {
		return valuesEqual(actual, expected)
	}
	actualMap, ok := actual.(map[string]any)
	if !ok {
		return false
	}
	return matchSubset(actualMap, expectedMap) == ""
}

// valuesEqual compares two normalized values. Nil and empty collections
// are distinct.
func valuesEqual(actual, expected any) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
