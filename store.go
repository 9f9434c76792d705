package tinyslice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Invoker dispatches one registered action. For async actions it returns
// the async function's result or error; sync invokers return (nil, nil).
type Invoker func(ctx context.Context, payload any) (any, error)

// Invokers maps action names to their bound invokers.
type Invokers map[string]Invoker

// Listener is called after a dispatch replaced the current snapshot.
type Listener[S any] func(prev, next *S)

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	logger *slog.Logger
	sink   TraceSink
	clock  *Clock
}

// WithLogger sets the store's logger (default slog.Default()).
func WithLogger(logger *slog.Logger) StoreOption {
	return func(cfg *storeConfig) {
		cfg.logger = logger
	}
}

// WithTraceSink records every transition into sink.
func WithTraceSink(sink TraceSink) StoreOption {
	return func(cfg *storeConfig) {
		cfg.sink = sink
	}
}

// WithClock sets the logical clock used to stamp transitions. Use
// NewClockAt to continue numbering from an earlier run.
func WithClock(clock *Clock) StoreOption {
	return func(cfg *storeConfig) {
		cfg.clock = clock
	}
}

// Store binds a Slice to a current snapshot.
//
// Thread-safety model:
//   - reducer applications are serialized by the store mutex
//   - thunks run in the dispatching goroutine, outside the mutex
//   - listeners run outside the mutex and may be called concurrently by
//     concurrent dispatches
//
// Two async invocations that read state via GetState and then dispatch
// based on it are not serialized against each other.
type Store[S any] struct {
	mu    sync.Mutex
	slice *Slice[S]
	state *S

	invokers    Invokers
	invokersFor *Slice[S]

	listeners  []listenerEntry[S]
	listenerID uint64

	logger *slog.Logger
	sink   TraceSink
	clock  *Clock
}

type listenerEntry[S any] struct {
	id uint64
	fn Listener[S]
}

// NewStore creates a store holding slice.InitialState. It panics if slice
// is nil.
func NewStore[S any](slice *Slice[S], opts ...StoreOption) *Store[S] {
	if slice == nil {
		panic("tinyslice: NewStore called with nil slice")
	}
	cfg := storeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.clock == nil {
		cfg.clock = NewClock()
	}

	initial := slice.InitialState
	return &Store[S]{
		slice:  slice,
		state:  &initial,
		logger: cfg.logger,
		sink:   cfg.sink,
		clock:  cfg.clock,
	}
}

// Use creates a store for slice and returns it with its invokers.
func Use[S any](slice *Slice[S], opts ...StoreOption) (*Store[S], Invokers) {
	st := NewStore(slice, opts...)
	return st, st.Actions()
}

// State returns the latest snapshot. Callers must treat it as read-only.
func (st *Store[S]) State() *S {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Slice returns the slice currently bound to the store.
func (st *Store[S]) Slice() *Slice[S] {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.slice
}

// Select reads a value derived from the latest snapshot.
func Select[S, T any](st *Store[S], selector func(*S) T) T {
	return selector(st.State())
}

// Dispatch is the enhanced dispatcher. A thunk-shaped action is executed
// (with Dispatch itself and State as its helpers) and its result returned;
// any other action is reduced immediately and Dispatch returns (nil, nil).
func (st *Store[S]) Dispatch(ctx context.Context, a Action[S]) (any, error) {
	if a.IsThunk() {
		return a.thunk(ctx, st.Dispatch, st.State)
	}
	st.apply(ctx, a)
	return nil, nil
}

func (st *Store[S]) apply(ctx context.Context, a Action[S]) {
	slice, prev, next, seq, listeners := st.reduce(a)

	if st.sink != nil {
		t := Transition{
			Seq:       seq,
			Slice:     slice.Name,
			Type:      a.Type,
			RequestID: a.Meta.RequestID,
			Payload:   a.Payload,
			Prev:      prev,
			Next:      next,
			Changed:   next != prev,
		}
		if err := st.sink.Record(ctx, t); err != nil {
			st.logger.Warn("trace sink rejected transition",
				"slice", slice.Name,
				"action", a.Type.String(),
				"seq", seq,
				"error", err,
			)
		}
	}

	for _, l := range listeners {
		l.fn(prev, next)
	}
}

// reduce runs the reducer under the lock. A panicking handler releases the
// lock and leaves the snapshot and clock untouched.
func (st *Store[S]) reduce(a Action[S]) (slice *Slice[S], prev, next *S, seq int64, listeners []listenerEntry[S]) {
	st.mu.Lock()
	defer st.mu.Unlock()

	slice = st.slice
	prev = st.state
	next = slice.Reduce(prev, a)
	st.state = next
	seq = st.clock.Next()
	if next != prev {
		listeners = append(listeners, st.listeners...)
	}
	return slice, prev, next, seq, listeners
}

// Actions returns one invoker per registered action. The returned map is
// reused until the store's slice changes, so invokers keep their identity
// across calls.
func (st *Store[S]) Actions() Invokers {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.invokers != nil && st.invokersFor == st.slice {
		return st.invokers
	}

	invokers := make(Invokers, len(st.slice.Actions))
	for name, create := range st.slice.Actions {
		invokers[name] = func(ctx context.Context, payload any) (any, error) {
			return st.Dispatch(ctx, create(payload))
		}
	}
	st.invokers = invokers
	st.invokersFor = st.slice
	return invokers
}

// Invoke dispatches the named action with payload.
func (st *Store[S]) Invoke(ctx context.Context, name string, payload any) (any, error) {
	invoke, ok := st.Actions()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return invoke(ctx, payload)
}

// ReplaceSlice swaps the reducer and action set while keeping the current
// snapshot. Invokers obtained earlier keep dispatching through the old
// creators; call Actions again for the new set.
func (st *Store[S]) ReplaceSlice(slice *Slice[S]) {
	if slice == nil {
		panic("tinyslice: ReplaceSlice called with nil slice")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.slice = slice
	st.invokers = nil
	st.invokersFor = nil
	st.logger.Debug("slice replaced", "slice", slice.Name)
}

// Subscribe registers fn to be called after every dispatch that produced a
// new snapshot. The returned function removes the subscription; calling it
// more than once is harmless.
func (st *Store[S]) Subscribe(fn Listener[S]) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	st.mu.Lock()
	st.listenerID++
	id := st.listenerID
	st.listeners = append(st.listeners, listenerEntry[S]{id: id, fn: fn})
	st.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			st.mu.Lock()
			defer st.mu.Unlock()
			for i, entry := range st.listeners {
				if entry.id == id {
					st.listeners = append(st.listeners[:i:i], st.listeners[i+1:]...)
					return
				}
			}
		})
	}
}
