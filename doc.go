// Package tinyslice is a small reducer/action state container.
//
// A Slice is declared once from an initial state and a map of named handlers.
// Each handler is either a synchronous Reducer or an *AsyncAction whose
// function runs outside the reducer and reports its outcome through the
// pending, fulfilled and rejected lifecycle phases.
//
// Data flow:
//
//	Invoker -> ActionCreator -> Store.Dispatch -> (thunk?) -> Slice.Reduce -> new *S
//
// Snapshots are immutable from the caller's point of view. Every transition
// that runs a handler clones the previous snapshot and mutates the clone; a
// dispatch that matches no handler returns the same pointer, and a Store does
// not notify subscribers for it.
//
// Example:
//
//	type counter struct {
//		Count   int
//		Loading bool
//	}
//
//	slice := tinyslice.MustCreateSlice(tinyslice.Options[counter]{
//		Actions: map[string]tinyslice.Handler[counter]{
//			"increment": tinyslice.Reducer[counter](func(s *counter, p any) { s.Count += p.(int) }),
//		},
//	})
//	store, actions := tinyslice.Use(slice)
//	_, _ = actions["increment"](ctx, 5)
//	store.State().Count // 5
package tinyslice
