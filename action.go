package tinyslice

import (
	"context"
	"fmt"
	"strings"
)

// Phase identifies a point in an async action's lifecycle.
// Synchronous actions carry PhaseNone.
type Phase int

const (
	// PhaseNone marks a plain (synchronous) action.
	PhaseNone Phase = iota
	// PhasePending is dispatched before the async function runs.
	PhasePending
	// PhaseFulfilled is dispatched with the async function's result.
	PhaseFulfilled
	// PhaseRejected is dispatched with the async function's error.
	PhaseRejected

	// phaseInvalid is produced by ParseActionType for unknown suffixes.
	// No handler ever matches it.
	phaseInvalid
)

var phaseNames = map[Phase]string{
	PhaseNone:      "",
	PhasePending:   "pending",
	PhaseFulfilled: "fulfilled",
	PhaseRejected:  "rejected",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "invalid"
}

// Valid reports whether p is one of the declared phases.
func (p Phase) Valid() bool {
	_, ok := phaseNames[p]
	return ok
}

// ParsePhase converts a phase suffix back to a Phase.
// The empty string maps to PhaseNone.
func ParsePhase(s string) (Phase, bool) {
	for phase, name := range phaseNames {
		if name == s {
			return phase, true
		}
	}
	return phaseInvalid, false
}

// ActionType pairs an action name with a lifecycle phase.
type ActionType struct {
	Name  string
	Phase Phase
}

// String renders the conventional "name" or "name/phase" form.
func (t ActionType) String() string {
	if t.Phase == PhaseNone {
		return t.Name
	}
	return t.Name + "/" + t.Phase.String()
}

// ParseActionType splits s on its first "/" into name and phase.
//
//	ParseActionType("fetch")           // {fetch, PhaseNone}
//	ParseActionType("fetch/fulfilled") // {fetch, PhaseFulfilled}
//	ParseActionType("fetch/bogus")     // {fetch, <invalid>} - matches nothing
func ParseActionType(s string) ActionType {
	name, suffix, found := strings.Cut(s, "/")
	if !found {
		return ActionType{Name: name}
	}
	phase, _ := ParsePhase(suffix)
	if phase == PhaseNone {
		// "name/" is not a plain action either.
		phase = phaseInvalid
	}
	return ActionType{Name: name, Phase: phase}
}

// Meta carries correlation data on lifecycle actions.
type Meta struct {
	// RequestID is shared by the pending, fulfilled and rejected actions of
	// one async invocation.
	RequestID string `json:"request_id,omitempty"`

	// Arg is the payload the async action creator was called with.
	Arg any `json:"arg,omitempty"`
}

// Action is the unit handed to a dispatcher.
//
// Actions built by an async ActionCreator have Async set and embed a thunk
// that only a Store's enhanced dispatcher runs. Lifecycle actions synthesized
// by that thunk are plain actions with a non-None phase.
type Action[S any] struct {
	Type    ActionType
	Payload any
	Async   bool
	Meta    Meta

	thunk thunk[S]
}

// NewAction builds a plain action. It is mostly useful for dispatching
// lifecycle types by hand (e.g. replaying a recorded trace).
func NewAction[S any](t ActionType, payload any) Action[S] {
	return Action[S]{Type: t, Payload: payload}
}

// IsThunk reports whether the action must be executed rather than reduced.
func (a Action[S]) IsThunk() bool {
	return a.Async && a.thunk != nil
}

func (a Action[S]) String() string {
	return fmt.Sprintf("%s(%v)", a.Type, a.Payload)
}

// ActionCreator builds an Action from a payload. Calling a creator never
// dispatches.
type ActionCreator[S any] func(payload any) Action[S]

// DispatchFunc is the enhanced dispatcher signature.
type DispatchFunc[S any] func(ctx context.Context, a Action[S]) (any, error)

// ThunkAPI is handed to an async function. GetState always returns the
// latest snapshot; Dispatch routes through the same enhanced dispatcher, so
// async functions may chain further (async) actions.
type ThunkAPI[S any] struct {
	GetState  func() *S
	Dispatch  DispatchFunc[S]
	RequestID string
}

type thunk[S any] func(ctx context.Context, dispatch DispatchFunc[S], getState func() *S) (any, error)
