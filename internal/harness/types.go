package harness

import (
	"github.com/roach88/tinyslice"
	"github.com/roach88/tinyslice/internal/eval"
	"github.com/roach88/tinyslice/internal/slicedef"
)

// TraceEvent is one reducer application observed during a run.
type TraceEvent struct {
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Payload   any            `json:"payload,omitempty"`
	State     slicedef.State `json:"state"`
	Changed   bool           `json:"changed"`
}

// traceEventFrom converts a store transition over a declarative slice.
func traceEventFrom(t tinyslice.Transition) TraceEvent {
	ev := TraceEvent{
		Seq:       t.Seq,
		Type:      t.Type.String(),
		RequestID: t.RequestID,
		Payload:   eval.Normalize(t.Payload),
		Changed:   t.Changed,
	}
	if next, ok := t.Next.(*slicedef.State); ok && next != nil {
		ev.State = *next
	}
	return ev
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains every transition in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final snapshot.
	State slicedef.State `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
