package bus

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFilter  = errors.New("filter must select an event kind")
	ErrNilHandler     = errors.New("handler cannot be nil")
	ErrFilterMismatch = errors.New("filter kind does not match handler")
	ErrNilEvent       = errors.New("event cannot be nil")
	ErrHandlerPanic   = errors.New("handler panicked")
)

// HandlerError wraps an error returned by a handler.
type HandlerError struct {
	SubscriptionID string
	Kind           Kind
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s on %s: %v", e.SubscriptionID, e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	SubscriptionID string
	Kind           Kind
	Value          any
	Stack          string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s on %s panicked: %v", e.SubscriptionID, e.Kind, e.Value)
}

func (e *PanicError) Is(target error) bool { return target == ErrHandlerPanic }
