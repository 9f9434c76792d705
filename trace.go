package tinyslice

import "context"

// Transition describes one reducer application performed by a Store.
type Transition struct {
	// Seq orders transitions within one store (logical clock).
	Seq int64

	Slice     string
	Type      ActionType
	RequestID string
	Payload   any

	// Prev and Next are the *S snapshots before and after the action.
	Prev any
	Next any

	// Changed is false for identity-preserving dispatches.
	Changed bool
}

// TraceSink receives every transition applied by a Store. It is a
// diagnostic channel: errors are logged by the store and never affect
// dispatch.
type TraceSink interface {
	Record(ctx context.Context, t Transition) error
}

// TraceSinkFunc adapts a function to TraceSink.
type TraceSinkFunc func(ctx context.Context, t Transition) error

// Record implements TraceSink.
func (f TraceSinkFunc) Record(ctx context.Context, t Transition) error {
	if f == nil {
		return nil
	}
	return f(ctx, t)
}
