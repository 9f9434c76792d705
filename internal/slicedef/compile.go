// Package slicedef compiles declarative slice definitions written in CUE
// into tinyslice slices over a dynamic map state.
//
// A definition looks like:
//
//	slice: counter: {
//		engine:  "expr"
//		initial: {count: 0, loading: false, error: ""}
//		action: increment: set: {count: "count + payload"}
//		action: fetch: async: {
//			result:  "count + 1"
//			pending: {loading: "true"}
//			success: {count: "result", loading: "false"}
//			error:   {loading: "false", error: "error"}
//		}
//	}
//
// Expressions see the state's fields as variables plus payload, and in
// lifecycle callbacks result or error (the error message).
package slicedef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tinyslice/internal/eval"
)

// State is the snapshot type of every declarative slice.
type State = map[string]any

// Definition is a parsed slice definition.
type Definition struct {
	Name    string
	Engine  string
	Initial State
	Actions []ActionDef // sorted by name
	Pos     token.Pos
}

// Action returns the action named name.
func (d *Definition) Action(name string) (ActionDef, bool) {
	for _, a := range d.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionDef{}, false
}

// ActionDef is one entry under "action". Exactly one of Set and Async is set.
type ActionDef struct {
	Name  string
	Set   []Assignment
	Async *AsyncDef
	Pos   token.Pos
}

// AsyncDef describes a simulated async action.
type AsyncDef struct {
	Delay   time.Duration
	Result  string // expression; empty when Fail is set
	Fail    string // error message
	Then    []string
	Pending []Assignment
	Success []Assignment
	Error   []Assignment
}

// Assignment sets Field to the value of Expr. Assignments of one block are
// evaluated against the same state, then applied together.
type Assignment struct {
	Field string
	Expr  string
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileSlice parses a CUE value into a Definition.
//
// The value should be the slice struct itself:
//
//	v := cuecontext.New().CompileString(src)
//	def, err := CompileSlice(v.LookupPath(cue.ParsePath("slice.counter")))
func CompileSlice(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{Pos: v.Pos(), Engine: eval.EngineExpr}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		def.Name = labels[len(labels)-1].String()
	}

	if engineVal := v.LookupPath(cue.ParsePath("engine")); engineVal.Exists() {
		engine, err := engineVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if !validEngine(engine) {
			return nil, &CompileError{
				Code:    ErrCodeEngine,
				Field:   "engine",
				Message: fmt.Sprintf("unknown engine %q", engine),
				Pos:     engineVal.Pos(),
			}
		}
		def.Engine = engine
	}

	initial, err := parseInitial(v)
	if err != nil {
		return nil, err
	}
	def.Initial = initial

	def.Actions, err = parseActions(v, initial)
	if err != nil {
		return nil, err
	}
	if len(def.Actions) == 0 {
		return nil, &CompileError{
			Code:    ErrCodeNoActions,
			Field:   "action",
			Message: "at least one action is required",
			Pos:     v.Pos(),
		}
	}

	return def, nil
}

func validEngine(name string) bool {
	for _, e := range eval.Engines {
		if e == name {
			return true
		}
	}
	return false
}

// parseInitial decodes the initial state through JSON so numbers land in
// the same normalized representation the evaluators produce.
func parseInitial(v cue.Value) (State, error) {
	initialVal := v.LookupPath(cue.ParsePath("initial"))
	if !initialVal.Exists() {
		return State{}, nil
	}
	if err := initialVal.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	if initialVal.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{
			Code:    ErrCodeGeneric,
			Field:   "initial",
			Message: "initial state must be a struct",
			Pos:     initialVal.Pos(),
		}
	}
	raw, err := initialVal.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil {
		return nil, &CompileError{Code: ErrCodeGeneric, Field: "initial", Message: err.Error(), Pos: initialVal.Pos()}
	}
	return eval.Normalize(decoded).(map[string]any), nil
}

func parseActions(v cue.Value, initial State) ([]ActionDef, error) {
	actionsVal := v.LookupPath(cue.ParsePath("action"))
	if !actionsVal.Exists() {
		return nil, nil
	}

	iter, err := actionsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var actions []ActionDef
	for iter.Next() {
		action, err := parseAction(iter.Selector().String(), iter.Value(), initial)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions, nil
}

func parseAction(name string, v cue.Value, initial State) (ActionDef, error) {
	action := ActionDef{Name: name, Pos: v.Pos()}
	field := "action." + name

	setVal := v.LookupPath(cue.ParsePath("set"))
	asyncVal := v.LookupPath(cue.ParsePath("async"))

	switch {
	case setVal.Exists() && asyncVal.Exists():
		return action, &CompileError{Code: ErrCodeActionShape, Field: field, Message: "set and async are mutually exclusive", Pos: v.Pos()}
	case setVal.Exists():
		set, err := parseAssignments(field+".set", setVal, initial)
		if err != nil {
			return action, err
		}
		action.Set = set
	case asyncVal.Exists():
		async, err := parseAsync(field+".async", asyncVal, initial)
		if err != nil {
			return action, err
		}
		action.Async = async
	default:
		return action, &CompileError{Code: ErrCodeActionShape, Field: field, Message: "action needs set or async", Pos: v.Pos()}
	}

	return action, nil
}

func parseAsync(field string, v cue.Value, initial State) (*AsyncDef, error) {
	async := &AsyncDef{}

	if delayVal := v.LookupPath(cue.ParsePath("delay")); delayVal.Exists() {
		s, err := delayVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return nil, &CompileError{Code: ErrCodeAsyncShape, Field: field + ".delay", Message: fmt.Sprintf("invalid duration %q", s), Pos: delayVal.Pos()}
		}
		async.Delay = d
	}

	var err error
	if async.Result, err = optionalString(v, "result"); err != nil {
		return nil, err
	}
	if async.Fail, err = optionalString(v, "fail"); err != nil {
		return nil, err
	}
	if (async.Result == "") == (async.Fail == "") {
		return nil, &CompileError{Code: ErrCodeAsyncShape, Field: field, Message: "async needs exactly one of result or fail", Pos: v.Pos()}
	}

	if thenVal := v.LookupPath(cue.ParsePath("then")); thenVal.Exists() {
		list, err := thenVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			name, err := list.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			async.Then = append(async.Then, name)
		}
	}

	for _, cb := range []struct {
		label string
		dst   *[]Assignment
	}{
		{"pending", &async.Pending},
		{"success", &async.Success},
		{"error", &async.Error},
	} {
		cbVal := v.LookupPath(cue.ParsePath(cb.label))
		if !cbVal.Exists() {
			continue
		}
		assignments, err := parseAssignments(field+"."+cb.label, cbVal, initial)
		if err != nil {
			return nil, err
		}
		*cb.dst = assignments
	}

	return async, nil
}

func parseAssignments(field string, v cue.Value, initial State) ([]Assignment, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []Assignment
	for iter.Next() {
		name := iter.Selector().String()
		if _, ok := initial[name]; !ok {
			return nil, &CompileError{
				Code:    ErrCodeUnknownField,
				Field:   field,
				Message: fmt.Sprintf("unknown state field %q", name),
				Pos:     iter.Value().Pos(),
			}
		}
		expr, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, Assignment{Field: name, Expr: expr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out, nil
}

func optionalString(v cue.Value, label string) (string, error) {
	val := v.LookupPath(cue.ParsePath(label))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Code:    ErrCodeBuildFailed,
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
