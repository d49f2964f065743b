// Package errors classifies broadcaster failures so the daemon and the ops
// endpoint can report a problem category instead of a raw system error.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind string

const (
	// KindConfiguration: no usable data source or malformed host/port/interval.
	KindConfiguration Kind = "configuration"
	// KindBind: the listening socket could not be bound.
	KindBind Kind = "bind"
	// KindClientIO: a write or close on a single client failed.
	KindClientIO Kind = "client_io"
	// KindAccept: accept failed for a reason other than a deliberate close.
	KindAccept Kind = "accept"
	// KindState: the request conflicts with the controller state.
	KindState Kind = "state"
)

// Error is a classified error with an operator-facing message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext adds a context field (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ConfigurationError(message string) *Error {
	return newError(KindConfiguration, message, nil)
}

// ConfigurationErrorf is ConfigurationError wrapping a cause.
func ConfigurationErrorf(message string, cause error) *Error {
	return newError(KindConfiguration, message, cause)
}

func BindError(message string, cause error) *Error {
	return newError(KindBind, message, cause)
}

func ClientIOError(message string, cause error) *Error {
	return newError(KindClientIO, message, cause)
}

func AcceptError(message string, cause error) *Error {
	return newError(KindAccept, message, cause)
}

func StateError(message string) *Error {
	return newError(KindState, message, nil)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage renders err for an operator: the classified message without
// the underlying system error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Unexpected error"
	}
	switch e.Kind {
	case KindBind:
		return "Port is in use or failed to start: " + e.Message
	case KindConfiguration, KindState:
		return e.Message
	case KindClientIO:
		return "Client connection error: " + e.Message
	case KindAccept:
		return "Failed to accept connections: " + e.Message
	default:
		return e.Message
	}
}
