package tinyslice

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned by Store.Invoke for names the bound slice
// does not register.
var ErrUnknownAction = errors.New("tinyslice: unknown action")

// ConfigError reports an invalid slice definition.
type ConfigError struct {
	// Action is the offending action name, if any.
	Action  string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("tinyslice: action %q: %s", e.Action, e.Message)
	}
	return "tinyslice: " + e.Message
}

// IsConfigError reports whether err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// PanicError is returned when an async function panics. The panic is
// handled as a rejection.
type PanicError struct {
	Action string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tinyslice: async action %q panicked: %v", e.Action, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
