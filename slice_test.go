package tinyslice

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSlice_RejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		actions map[string]Handler[counterState]
		wantMsg string
	}{
		{
			name:    "empty name",
			actions: map[string]Handler[counterState]{"": Reducer[counterState](func(*counterState, any) {})},
			wantMsg: "action name must not be empty",
		},
		{
			name:    "slash in name",
			actions: map[string]Handler[counterState]{"a/b": Reducer[counterState](func(*counterState, any) {})},
			wantMsg: `must not contain "/"`,
		},
		{
			name:    "nil handler",
			actions: map[string]Handler[counterState]{"x": nil},
			wantMsg: "handler is nil",
		},
		{
			name:    "nil reducer",
			actions: map[string]Handler[counterState]{"x": Reducer[counterState](nil)},
			wantMsg: "reducer is nil",
		},
		{
			name:    "async without function",
			actions: map[string]Handler[counterState]{"x": &AsyncAction[counterState]{}},
			wantMsg: "async action has no function",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateSlice(Options[counterState]{Actions: tt.actions})
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestMustCreateSlice_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustCreateSlice(Options[counterState]{
			Actions: map[string]Handler[counterState]{"x": nil},
		})
	})
}

func TestCreateSlice_KeepsReducersMapReference(t *testing.T) {
	actions := map[string]Handler[counterState]{
		"reset": Reducer[counterState](func(s *counterState, _ any) { s.Count = 0 }),
	}
	slice := MustCreateSlice(Options[counterState]{Actions: actions})

	assert.Equal(t, reflect.ValueOf(actions).Pointer(), reflect.ValueOf(slice.Reducers).Pointer())
	assert.Equal(t, []string{"reset"}, slice.Names())
}

func TestActionCreators_ReturnPlainDescriptors(t *testing.T) {
	calls := 0
	slice := MustCreateSlice(Options[counterState]{
		Actions: map[string]Handler[counterState]{
			"add": Reducer[counterState](func(s *counterState, p any) { s.Count += p.(int) }),
			"load": CreateAsyncAction(func(context.Context, any, ThunkAPI[counterState]) (any, error) {
				calls++
				return nil, nil
			}, AsyncHandlers[counterState]{}),
		},
	})

	add := slice.Actions["add"](3)
	assert.Equal(t, ActionType{Name: "add"}, add.Type)
	assert.Equal(t, 3, add.Payload)
	assert.False(t, add.Async)
	assert.False(t, add.IsThunk())

	load := slice.Actions["load"]("arg")
	assert.Equal(t, ActionType{Name: "load"}, load.Type)
	assert.Equal(t, "arg", load.Payload)
	assert.True(t, load.Async)
	assert.True(t, load.IsThunk())

	assert.Zero(t, calls, "creating an async action must not run it")
}

func TestReduce_SyncCopiesAndLeavesInputUntouched(t *testing.T) {
	slice := newCounterSlice(t, nil)
	prev := &counterState{Count: 2}
	snapshot := *prev

	next := slice.Reduce(prev, slice.Actions["increment"](5))

	require.NotSame(t, prev, next)
	assert.Equal(t, 7, next.Count)
	assert.Equal(t, snapshot, *prev, "input state must not be mutated")
}

func TestReduce_IdentityForUnhandledActions(t *testing.T) {
	slice := newCounterSlice(t, nil)
	prev := &counterState{Count: 4}

	tests := []struct {
		name string
		typ  string
	}{
		{"unknown name", "nope"},
		{"unknown phase", "asyncIncrement/bogus"},
		{"async without phase", "asyncIncrement"},
		{"phase on sync handler", "increment/fulfilled"},
		{"unconfigured callback", "silent/fulfilled"},
		{"unconfigured pending", "silent/pending"},
		{"unconfigured rejected", "silent/rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAction[counterState](ParseActionType(tt.typ), 1)
			assert.Same(t, prev, slice.Reduce(prev, a))
			assert.False(t, slice.Match(a))
		})
	}
}

func TestReduce_LifecyclePhases(t *testing.T) {
	slice := newCounterSlice(t, nil)
	start := &counterState{Count: 1}

	pending := slice.Reduce(start, NewAction[counterState](ActionType{Name: "asyncIncrement", Phase: PhasePending}, nil))
	assert.Equal(t, counterState{Count: 1, Loading: true}, *pending)

	fulfilled := slice.Reduce(pending, NewAction[counterState](ActionType{Name: "asyncIncrement", Phase: PhaseFulfilled}, 2))
	assert.Equal(t, counterState{Count: 2}, *fulfilled)

	rejected := slice.Reduce(pending, NewAction[counterState](ActionType{Name: "asyncIncrement", Phase: PhaseRejected}, RejectedPayload{Err: errBoom}))
	assert.Equal(t, counterState{Count: 1, Error: "boom"}, *rejected)

	// A bare error payload is accepted too.
	bare := slice.Reduce(pending, NewAction[counterState](ActionType{Name: "failing", Phase: PhaseRejected}, errBoom))
	assert.Equal(t, "boom", bare.Error)

	assert.Equal(t, counterState{Count: 1}, *start)
}

func TestReduce_NilStateMeansInitial(t *testing.T) {
	slice := MustCreateSlice(Options[counterState]{
		InitialState: counterState{Count: 10},
		Actions: map[string]Handler[counterState]{
			"increment": Reducer[counterState](func(s *counterState, _ any) { s.Count++ }),
		},
	})

	next := slice.Reduce(nil, slice.Actions["increment"](nil))
	assert.Equal(t, 11, next.Count)
	assert.Equal(t, 10, slice.InitialState.Count)
}

func TestReduce_CloneIsolatesMapStates(t *testing.T) {
	type bag map[string]int
	slice := MustCreateSlice(Options[bag]{
		InitialState: bag{"a": 1},
		Clone:        func(b bag) bag { return maps.Clone(b) },
		Actions: map[string]Handler[bag]{
			"bump": Reducer[bag](func(s *bag, p any) { (*s)[p.(string)]++ }),
		},
	})

	prev := &bag{"a": 1}
	next := slice.Reduce(prev, slice.Actions["bump"]("a"))

	assert.Equal(t, 2, (*next)["a"])
	assert.Equal(t, 1, (*prev)["a"])
}

func TestReduce_DebugLogsTransition(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	slice := MustCreateSlice(Options[counterState]{
		Name:   "counter",
		Debug:  true,
		Logger: logger,
		Actions: map[string]Handler[counterState]{
			"increment": Reducer[counterState](func(s *counterState, p any) { s.Count += p.(int) }),
		},
	})

	slice.Reduce(&counterState{Count: 1}, slice.Actions["increment"](2))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "action", record["msg"])

	group, ok := record["increment"].(map[string]any)
	require.True(t, ok, "transition must be grouped by action type")
	assert.Equal(t, "counter", group["slice"])
	assert.Equal(t, "2", group["payload"])
	assert.Equal(t, `{"Count":1,"Error":"","Loading":false}`, group["prev"])
	assert.Equal(t, `{"Count":3,"Error":"","Loading":false}`, group["next"])
	assert.Equal(t, true, group["changed"])
}

func TestReduce_NoDebugOutputByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	slice := MustCreateSlice(Options[counterState]{
		Logger: logger,
		Actions: map[string]Handler[counterState]{
			"reset": Reducer[counterState](func(s *counterState, _ any) { s.Count = 0 }),
		},
	})
	slice.Reduce(&counterState{}, slice.Actions["reset"](nil))

	assert.Empty(t, buf.String())
}
