// Package errkind defines the error taxonomy surfaced to callers of the
// scoring pipeline.
//
// Two kinds leave the core: ErrInvalidInput (the caller's data is unusable,
// 4xx) and ErrInference (something failed on our side, 5xx). Transient
// upstream failures never reach this layer unless retries are exhausted.
package errkind

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInference    = errors.New("inference failure")
)

// escalation is appended to every Inference message shown to callers.
const escalation = "please contact the ML team if the issue persists"

// Error carries an operation name, a kind and an optional cause.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.Error()
	}
	switch {
	case errors.Is(e.Kind, ErrInference):
		return fmt.Sprintf("%s: %s; %s", e.Op, msg, escalation)
	case errors.Is(e.Kind, ErrInvalidInput):
		return fmt.Sprintf("%s: invalid input: %s", e.Op, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind returns an error of the given kind without a cause.
func NewKind(op string, kind error, msg string) error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// WrapKind wraps err with a kind. A nil err yields nil.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// WrapKindMsg wraps err with a kind and a caller-facing message that
// replaces the cause's text.
func WrapKindMsg(op string, kind error, msg string, err error) error {
	return &Error{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf reports which kind err belongs to, or nil when it is unclassified.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidInput):
		return ErrInvalidInput
	case errors.Is(err, ErrInference):
		return ErrInference
	default:
		return nil
	}
}

// IsInvalidInput reports whether err is of kind ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsInference reports whether err is of kind ErrInference.
func IsInference(err error) bool { return errors.Is(err, ErrInference) }
