// Package harness runs YAML scenarios against declarative slices.
//
// A scenario names a directory of CUE slice definitions and one slice in it,
// dispatches a sequence of actions through a real store, and checks the
// outcome of each step plus assertions over the recorded trace.
//
// # Scenario Format
//
//	name: counter_async
//	description: "asyncIncrement brackets its result with pending/fulfilled"
//	slices: ../slices          # relative to the scenario file
//	slice: counter
//	request_ids: [req-1]       # optional; defaults to req-1, req-2, ...
//	steps:
//	  - dispatch: increment
//	    payload: 2
//	    expect_state: {count: 2}
//	  - dispatch: asyncIncrement
//	    expect_result: 3
//	  - dispatch: failing
//	    expect_error: boom
//	  - dispatch: increment/fulfilled   # raw lifecycle action, bypasses the thunk
//	assertions:
//	  - type: trace_order
//	    actions: [asyncIncrement/pending, asyncIncrement/fulfilled]
//	  - type: trace_count
//	    action: increment
//	    count: 1
//	  - type: final_state
//	    expect: {count: 3, loading: false}
//
// Unknown fields are rejected so typos fail loudly.
//
// # Determinism
//
// Request IDs come from testutil generators and sequence numbers from a
// fresh logical clock, so two runs of one scenario produce byte-identical
// traces. That makes the trace suitable for golden-file comparison; see
// RunWithGolden and CompareGolden.
package harness
