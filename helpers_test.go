package tinyslice

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tinyslice/internal/testutil"
)

type counterState struct {
	Count   int
	Loading bool
	Error   string
}

// gate lets a test hold an async function until it releases it.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gate) wait(ctx context.Context) error {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errBoom = errors.New("boom")

// newCounterSlice builds the counter used across tests. asyncIncrement
// blocks on g (when non-nil) before returning count+1; failing always fails.
func newCounterSlice(t *testing.T, g *gate, ids ...string) *Slice[counterState] {
	t.Helper()

	loading := AsyncHandlers[counterState]{
		OnPending: func(s *counterState, _ any) {
			s.Loading = true
			s.Error = ""
		},
		OnSuccess: func(s *counterState, result any) {
			s.Count = result.(int)
			s.Loading = false
		},
		OnError: func(s *counterState, err error) {
			s.Loading = false
			s.Error = err.Error()
		},
	}

	var gen RequestIDGenerator = testutil.NewSequenceGenerator("req")
	if len(ids) > 0 {
		gen = testutil.NewFixedGenerator(ids...)
	}

	slice, err := CreateSlice(Options[counterState]{
		Name:         "counter",
		InitialState: counterState{},
		RequestIDs:   gen,
		Actions: map[string]Handler[counterState]{
			"increment": Reducer[counterState](func(s *counterState, p any) {
				if n, ok := p.(int); ok {
					s.Count += n
					return
				}
				s.Count++
			}),
			"reset": Reducer[counterState](func(s *counterState, _ any) {
				s.Count = 0
			}),
			"asyncIncrement": CreateAsyncAction(func(ctx context.Context, _ any, api ThunkAPI[counterState]) (any, error) {
				if g != nil {
					if err := g.wait(ctx); err != nil {
						return nil, err
					}
				}
				return api.GetState().Count + 1, nil
			}, loading),
			"failing": CreateAsyncAction(func(context.Context, any, ThunkAPI[counterState]) (any, error) {
				return nil, errBoom
			}, loading),
			"silent": CreateAsyncAction(func(context.Context, any, ThunkAPI[counterState]) (any, error) {
				return "ignored", nil
			}, AsyncHandlers[counterState]{}),
		},
	})
	require.NoError(t, err)
	return slice
}

// recordingSink collects transitions in order.
type recordingSink struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recordingSink) Record(_ context.Context, tr Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, tr)
	return nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.transitions))
	for i, tr := range r.transitions {
		out[i] = tr.Type.String()
	}
	return out
}

func (r *recordingSink) all() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}
