package slicedef

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/tinyslice"
	"github.com/roach88/tinyslice/internal/eval"
)

// BuildOptions configures Build.
type BuildOptions struct {
	Debug      bool
	Logger     *slog.Logger
	RequestIDs tinyslice.RequestIDGenerator
	Cache      eval.ProgramCache
}

// Check compiles every expression and resolves every then target without
// constructing a slice.
func Check(def *Definition) error {
	_, err := Build(def, BuildOptions{})
	return err
}

// Build turns a Definition into a slice. Sync actions become reducers that
// apply their assignments; async actions become thunks that wait for the
// optional delay, evaluate result (or fail), dispatch their then actions
// and resolve.
func Build(def *Definition, opts BuildOptions) (*tinyslice.Slice[State], error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	evaluator, err := eval.New(def.Engine,
		eval.WithProgramCache(opts.Cache),
		eval.WithVariables(envNames(def)...),
	)
	if err != nil {
		return nil, &CompileError{Code: ErrCodeEngine, Field: "engine", Message: err.Error(), Pos: def.Pos}
	}

	b := &builder{def: def, evaluator: evaluator, logger: logger}
	handlers := make(map[string]tinyslice.Handler[State], len(def.Actions))
	for _, action := range def.Actions {
		h, err := b.handler(action)
		if err != nil {
			return nil, err
		}
		handlers[action.Name] = h
	}

	slice, err := tinyslice.CreateSlice(tinyslice.Options[State]{
		Name:         def.Name,
		InitialState: maps.Clone(def.Initial),
		Actions:      handlers,
		Debug:        opts.Debug,
		Logger:       logger,
		Clone:        func(s State) State { return maps.Clone(s) },
		RequestIDs:   opts.RequestIDs,
	})
	if err != nil {
		return nil, err
	}
	b.slice = slice
	return slice, nil
}

// envNames lists every variable an expression of def can see: the state's
// fields plus the payload, result and error bindings.
func envNames(def *Definition) []string {
	names := slices.Sorted(maps.Keys(def.Initial))
	return append(names, "payload", "result", "error")
}

type builder struct {
	def       *Definition
	evaluator eval.Evaluator
	logger    *slog.Logger
	slice     *tinyslice.Slice[State] // set once Build succeeds; read by thunks
}

type compiledAssignment struct {
	field   string
	program eval.Program
}

func (b *builder) handler(action ActionDef) (tinyslice.Handler[State], error) {
	if action.Async == nil {
		set, err := b.compile(action, action.Set)
		if err != nil {
			return nil, err
		}
		return tinyslice.Reducer[State](func(draft *State, payload any) {
			b.apply(action.Name, draft, set, map[string]any{"payload": payload})
		}), nil
	}
	return b.asyncHandler(action)
}

func (b *builder) asyncHandler(action ActionDef) (tinyslice.Handler[State], error) {
	async := action.Async
	for _, target := range async.Then {
		if _, ok := b.def.Action(target); !ok {
			return nil, &CompileError{
				Code:    ErrCodeThenTarget,
				Field:   "action." + action.Name + ".async.then",
				Message: fmt.Sprintf("unknown action %q", target),
				Pos:     action.Pos,
			}
		}
	}

	var result eval.Program
	if async.Result != "" {
		prog, err := b.evaluator.Compile(async.Result)
		if err != nil {
			return nil, b.expressionError(action, err)
		}
		result = prog
	}
	pending, err := b.compile(action, async.Pending)
	if err != nil {
		return nil, err
	}
	success, err := b.compile(action, async.Success)
	if err != nil {
		return nil, err
	}
	failure, err := b.compile(action, async.Error)
	if err != nil {
		return nil, err
	}

	run := func(ctx context.Context, payload any, api tinyslice.ThunkAPI[State]) (any, error) {
		if async.Delay > 0 {
			timer := time.NewTimer(async.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if async.Fail != "" {
			return nil, errors.New(async.Fail)
		}
		out, err := result.Eval(env(*api.GetState(), map[string]any{"payload": payload}))
		if err != nil {
			return nil, err
		}
		for _, target := range async.Then {
			if _, err := api.Dispatch(ctx, b.slice.Actions[target](out)); err != nil {
				return nil, fmt.Errorf("then %s: %w", target, err)
			}
		}
		return out, nil
	}

	var handlers tinyslice.AsyncHandlers[State]
	if len(pending) > 0 {
		handlers.OnPending = func(draft *State, arg any) {
			b.apply(action.Name, draft, pending, map[string]any{"payload": arg})
		}
	}
	if len(success) > 0 {
		handlers.OnSuccess = func(draft *State, res any) {
			b.apply(action.Name, draft, success, map[string]any{"result": res})
		}
	}
	if len(failure) > 0 {
		handlers.OnError = func(draft *State, err error) {
			b.apply(action.Name, draft, failure, map[string]any{"error": err.Error()})
		}
	}
	return tinyslice.CreateAsyncAction(run, handlers), nil
}

func (b *builder) compile(action ActionDef, assignments []Assignment) ([]compiledAssignment, error) {
	out := make([]compiledAssignment, 0, len(assignments))
	for _, a := range assignments {
		prog, err := b.evaluator.Compile(a.Expr)
		if err != nil {
			return nil, b.expressionError(action, err)
		}
		out = append(out, compiledAssignment{field: a.Field, program: prog})
	}
	return out, nil
}

func (b *builder) expressionError(action ActionDef, err error) error {
	return &CompileError{
		Code:    ErrCodeExpression,
		Field:   "action." + action.Name,
		Message: err.Error(),
		Pos:     action.Pos,
	}
}

// apply evaluates every assignment against the draft as it was on entry,
// then writes the results. A failing expression leaves its field unchanged.
func (b *builder) apply(action string, draft *State, set []compiledAssignment, extra map[string]any) {
	scope := env(*draft, extra)
	values := make(map[string]any, len(set))
	for _, a := range set {
		v, err := a.program.Eval(scope)
		if err != nil {
			b.logger.Error("assignment failed",
				"slice", b.def.Name,
				"action", action,
				"field", a.field,
				"error", err)
			continue
		}
		values[a.field] = v
	}
	maps.Copy(*draft, values)
}

func env(state State, extra map[string]any) map[string]any {
	out := make(map[string]any, len(state)+len(extra))
	maps.Copy(out, state)
	maps.Copy(out, extra)
	return out
}
