package tinyslice

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/tinyslice/internal/canon"
)

// Options configures CreateSlice.
type Options[S any] struct {
	// Name labels the slice in logs and traces. Optional.
	Name string

	InitialState S

	// Actions maps action names to handlers. The map is kept by reference
	// as Slice.Reducers.
	Actions map[string]Handler[S]

	// Debug logs every reducer application (type, payload, prev, next) at
	// debug level.
	Debug bool

	// Logger receives debug output. Defaults to slog.Default() at call time.
	Logger *slog.Logger

	// Clone produces the draft a handler mutates. The default is a Go value
	// copy, which is a shallow copy for structs. State types backed by maps
	// or slices that handlers write into need a Clone (e.g. maps.Clone).
	Clone func(S) S

	// RequestIDs stamps async invocations. Defaults to UUIDv7Generator.
	RequestIDs RequestIDGenerator
}

// Slice is the compiled form of Options: a reducer plus one action creator
// per registered name.
type Slice[S any] struct {
	Name         string
	InitialState S
	Reducers     map[string]Handler[S]
	Actions      map[string]ActionCreator[S]

	debug      bool
	logger     *slog.Logger
	clone      func(S) S
	requestIDs RequestIDGenerator
}

// CreateSlice validates opts and builds the reducer and action creators.
func CreateSlice[S any](opts Options[S]) (*Slice[S], error) {
	if err := validateActions(opts.Actions); err != nil {
		return nil, err
	}

	s := &Slice[S]{
		Name:         opts.Name,
		InitialState: opts.InitialState,
		Reducers:     opts.Actions,
		Actions:      make(map[string]ActionCreator[S], len(opts.Actions)),
		debug:        opts.Debug,
		logger:       opts.Logger,
		clone:        opts.Clone,
		requestIDs:   opts.RequestIDs,
	}
	if s.Reducers == nil {
		s.Reducers = map[string]Handler[S]{}
	}
	if s.requestIDs == nil {
		s.requestIDs = UUIDv7Generator{}
	}

	for name, h := range s.Reducers {
		switch h := h.(type) {
		case Reducer[S]:
			s.Actions[name] = syncCreator[S](name)
		case *AsyncAction[S]:
			s.Actions[name] = s.asyncCreator(name, h)
		}
	}
	return s, nil
}

// MustCreateSlice is CreateSlice for package-level declarations. It panics
// on an invalid definition.
func MustCreateSlice[S any](opts Options[S]) *Slice[S] {
	s, err := CreateSlice(opts)
	if err != nil {
		panic(err)
	}
	return s
}

func validateActions[S any](actions map[string]Handler[S]) error {
	for name, h := range actions {
		if name == "" {
			return &ConfigError{Message: "action name must not be empty"}
		}
		if strings.Contains(name, "/") {
			return &ConfigError{Action: name, Message: `action name must not contain "/"`}
		}
		switch h := h.(type) {
		case nil:
			return &ConfigError{Action: name, Message: "handler is nil"}
		case Reducer[S]:
			if h == nil {
				return &ConfigError{Action: name, Message: "reducer is nil"}
			}
		case *AsyncAction[S]:
			if h == nil {
				return &ConfigError{Action: name, Message: "async action is nil"}
			}
			if h.Run == nil {
				return &ConfigError{Action: name, Message: "async action has no function"}
			}
		}
	}
	return nil
}

// Names returns the registered action names in sorted order.
func (s *Slice[S]) Names() []string {
	names := make([]string, 0, len(s.Reducers))
	for name := range s.Reducers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Match reports whether a would be handled by Reduce, i.e. whether it can
// produce a new snapshot.
func (s *Slice[S]) Match(a Action[S]) bool {
	switch h := s.Reducers[a.Type.Name].(type) {
	case Reducer[S]:
		return a.Type.Phase == PhaseNone
	case *AsyncAction[S]:
		switch a.Type.Phase {
		case PhasePending:
			return h.OnPending != nil
		case PhaseFulfilled:
			return h.OnSuccess != nil
		case PhaseRejected:
			return h.OnError != nil
		}
	}
	return false
}

// Reduce applies a to state and returns the resulting snapshot.
//
// state is never modified. When no handler runs (unknown name, phase not
// handled, or callback not configured) Reduce returns state itself. A nil
// state stands for the initial state.
func (s *Slice[S]) Reduce(state *S, a Action[S]) *S {
	if state == nil {
		initial := s.InitialState
		state = &initial
	}
	next := s.reduce(state, a)
	if s.debug {
		s.logTransition(a, state, next)
	}
	return next
}

func (s *Slice[S]) reduce(state *S, a Action[S]) *S {
	switch h := s.Reducers[a.Type.Name].(type) {
	case Reducer[S]:
		if a.Type.Phase != PhaseNone {
			return state
		}
		draft := s.draft(state)
		h(draft, a.Payload)
		return draft

	case *AsyncAction[S]:
		switch a.Type.Phase {
		case PhasePending:
			if h.OnPending == nil {
				return state
			}
			draft := s.draft(state)
			h.OnPending(draft, a.Payload)
			return draft
		case PhaseFulfilled:
			if h.OnSuccess == nil {
				return state
			}
			draft := s.draft(state)
			h.OnSuccess(draft, a.Payload)
			return draft
		case PhaseRejected:
			if h.OnError == nil {
				return state
			}
			draft := s.draft(state)
			h.OnError(draft, rejectionError(a.Payload))
			return draft
		}
	}
	return state
}

func (s *Slice[S]) draft(state *S) *S {
	next := *state
	if s.clone != nil {
		next = s.clone(next)
	}
	return &next
}

func (s *Slice[S]) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// logTransition writes one debug record per reducer application. prev is
// never mutated by Reduce, so rendering it afterwards shows the state as it
// was before the action.
func (s *Slice[S]) logTransition(a Action[S], prev, next *S) {
	s.log().Debug("action",
		slog.Group(a.Type.String(),
			"slice", s.Name,
			"payload", canon.String(a.Payload),
			"prev", canon.String(prev),
			"next", canon.String(next),
			"changed", prev != next,
		),
	)
}

func syncCreator[S any](name string) ActionCreator[S] {
	return func(payload any) Action[S] {
		return Action[S]{
			Type:    ActionType{Name: name},
			Payload: payload,
		}
	}
}

func (s *Slice[S]) asyncCreator(name string, h *AsyncAction[S]) ActionCreator[S] {
	return func(payload any) Action[S] {
		return Action[S]{
			Type:    ActionType{Name: name},
			Payload: payload,
			Async:   true,
			thunk:   s.thunkFor(name, h, payload),
		}
	}
}
