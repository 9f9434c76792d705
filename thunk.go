package tinyslice

import (
	"context"
	"errors"
	"runtime/debug"
)

// thunkFor builds the procedure embedded in an async action:
//
//  1. dispatch name/pending (only when OnPending is set)
//  2. run the async function
//  3. dispatch name/fulfilled with the result and return it, or
//     dispatch name/rejected (only when OnError is set) and return the error
//
// The error is always returned to the caller, whether or not OnError
// recorded it in state.
func (s *Slice[S]) thunkFor(name string, h *AsyncAction[S], arg any) thunk[S] {
	return func(ctx context.Context, dispatch DispatchFunc[S], getState func() *S) (any, error) {
		requestID := s.requestIDs.Generate()
		lifecycle := func(phase Phase, payload any) Action[S] {
			return Action[S]{
				Type:    ActionType{Name: name, Phase: phase},
				Payload: payload,
				Meta:    Meta{RequestID: requestID, Arg: arg},
			}
		}
		logger := s.log().With("slice", s.Name, "action", name, "request_id", requestID)

		if h.OnPending != nil {
			if _, err := dispatch(ctx, lifecycle(PhasePending, arg)); err != nil {
				return nil, err
			}
		}

		logger.Debug("async action started")
		api := ThunkAPI[S]{
			GetState:  getState,
			Dispatch:  dispatch,
			RequestID: requestID,
		}
		result, err := callAsync(ctx, name, h.Run, arg, api)
		if err != nil {
			logger.Debug("async action rejected", "error", err)
			if h.OnError != nil {
				if _, dispatchErr := dispatch(ctx, lifecycle(PhaseRejected, RejectedPayload{Err: err})); dispatchErr != nil {
					return nil, errors.Join(err, dispatchErr)
				}
			}
			return nil, err
		}

		logger.Debug("async action fulfilled")
		if _, err := dispatch(ctx, lifecycle(PhaseFulfilled, result)); err != nil {
			return result, err
		}
		return result, nil
	}
}

// callAsync runs fn, turning a panic into a *PanicError.
func callAsync[S any](ctx context.Context, name string, fn AsyncFunc[S], arg any, api ThunkAPI[S]) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{Action: name, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, arg, api)
}
