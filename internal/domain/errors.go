package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies orchestrator failures.
type ErrorKind string

const (
	KindRoutingMismatch     ErrorKind = "routing_mismatch"
	KindPreconditionFailed  ErrorKind = "precondition_failed"
	KindRemoteCallFailed    ErrorKind = "remote_call_failed"
	KindChannelDisconnected ErrorKind = "channel_disconnected"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindInvalidArgument     ErrorKind = "invalid_argument"
	KindNotFound            ErrorKind = "not_found"
)

// Error is a classified orchestrator error.
type Error struct {
	Kind      ErrorKind
	Op        string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.SessionID != "" {
		msg += " (session " + e.SessionID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test with the
// sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrRoutingMismatch     = &Error{Kind: KindRoutingMismatch}
	ErrPreconditionFailed  = &Error{Kind: KindPreconditionFailed}
	ErrRemoteCallFailed    = &Error{Kind: KindRemoteCallFailed}
	ErrChannelDisconnected = &Error{Kind: KindChannelDisconnected}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

// NewError builds a classified error. format may be empty.
func NewError(kind ErrorKind, op, sessionID, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Op: op, SessionID: sessionID}
	if format != "" {
		e.Err = fmt.Errorf(format, args...)
	}
	return e
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, op, sessionID string, err error) *Error {
	return &Error{Kind: kind, Op: op, SessionID: sessionID, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
