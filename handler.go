package tinyslice

import "context"

// Handler is either a Reducer or an *AsyncAction. The set of
// implementations is closed; the kind is fixed when the slice is created.
type Handler[S any] interface {
	handlerKind() handlerKind
}

type handlerKind int

const (
	kindSync handlerKind = iota + 1
	kindAsync
)

// Reducer mutates a draft copy of the state in place.
type Reducer[S any] func(draft *S, payload any)

func (Reducer[S]) handlerKind() handlerKind { return kindSync }

// AsyncFunc is the primary function of an async action.
type AsyncFunc[S any] func(ctx context.Context, payload any, api ThunkAPI[S]) (any, error)

// AsyncHandlers are the optional state mutators applied for each phase.
type AsyncHandlers[S any] struct {
	OnPending func(draft *S, arg any)
	OnSuccess func(draft *S, result any)
	OnError   func(draft *S, err error)
}

// AsyncAction describes an async action: the function to run plus the
// mutators for its lifecycle phases.
type AsyncAction[S any] struct {
	Run AsyncFunc[S]
	AsyncHandlers[S]
}

func (*AsyncAction[S]) handlerKind() handlerKind { return kindAsync }

// CreateAsyncAction bundles fn with its phase handlers.
func CreateAsyncAction[S any](fn AsyncFunc[S], handlers AsyncHandlers[S]) *AsyncAction[S] {
	return &AsyncAction[S]{
		Run:           fn,
		AsyncHandlers: handlers,
	}
}

// RejectedPayload is the payload of a rejected lifecycle action.
type RejectedPayload struct {
	Err error
}

func (p RejectedPayload) Error() string {
	if p.Err == nil {
		return "<nil>"
	}
	return p.Err.Error()
}

func (p RejectedPayload) Unwrap() error {
	return p.Err
}

// rejectionError extracts the error carried by a rejected action's payload.
func rejectionError(payload any) error {
	switch v := payload.(type) {
	case RejectedPayload:
		return v.Err
	case *RejectedPayload:
		if v == nil {
			return nil
		}
		return v.Err
	case error:
		return v
	default:
		return nil
	}
}
