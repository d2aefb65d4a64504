// Package hpgerr defines the error taxonomy shared by every component.
// Errors are classified into a small set of kinds so the CLI can print a
// single categorised summary line and pick an exit code.
package hpgerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for user-facing reporting.
type Kind int

const (
	// Auth is an authentication failure against the remote host.
	Auth Kind = iota
	// Transport is an I/O or encoding failure on the message bus.
	Transport
	// Protocol is an out-of-order or unexpected frame. Fatal to the session.
	Protocol
	// Config covers inventory parse failures, unknown hosts, missing
	// identities, and malformed variables.
	Config
	// Script is a script evaluation failure, surfaced with its traceback.
	Script
	// Task covers unknown task references, cycles, the skipped-task
	// terminal condition, and action errors propagated from callbacks.
	Task
	// Io is a local filesystem error.
	Io
	// Timeout is a bus receive or socket-wait timeout.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Auth:
		return "auth"
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Config:
		return "config"
	case Script:
		return "script"
	case Task:
		return "task"
	case Io:
		return "io"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a kinded error. It wraps an optional cause so errors.Is / As
// continue to work through component boundaries.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Msg, e.Cause)
	} else if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns a kinded error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and context message to a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind of err, or (0, false) if err carries none.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ErrSkippedTask is the terminal condition of a batch in which one or more
// tasks failed or were skipped.
var ErrSkippedTask = &Error{Kind: Task, Msg: "one or more tasks failed or were skipped"}

// ErrTimedOut is returned by bus receives that exceed their deadline.
var ErrTimedOut = &Error{Kind: Timeout, Msg: "timed out"}

// ErrEndOfStream is returned by bus receives after a clean peer close.
var ErrEndOfStream = &Error{Kind: Transport, Msg: "end of stream"}
