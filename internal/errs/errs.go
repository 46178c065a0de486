// Package errs defines the error taxonomy shared by every actor in the
// acquisition core: device sessions, the device manager, and the recording
// manager all return errors that unwrap to *errs.Error via errors.As, so a
// caller can branch on Kind without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from the server's error handling design. It is
// a classification, not a type hierarchy — most callers only care about
// Kind, not which package raised it.
type Kind string

const (
	// Io covers transport read/write/file failures.
	Io Kind = "io"
	// Timeout is raised when no reply arrives within the request window.
	Timeout Kind = "timeout"
	// ProtocolMismatch is raised when a frame decodes but its message id or
	// shape doesn't match what was expected.
	ProtocolMismatch Kind = "protocol_mismatch"
	// NotFound is raised when a DeviceId is absent from a registry.
	NotFound Kind = "not_found"
	// Duplicate is raised when a transport is already bound to a session.
	Duplicate Kind = "duplicate"
	// UnsupportedKind is raised when an operation doesn't apply to a device kind.
	UnsupportedKind Kind = "unsupported_kind"
	// Busy is raised when a recording is already active for a device, or when
	// a device session already has a request in flight.
	Busy Kind = "busy"
	// Upstream is raised when an error is surfaced from a forwarded mailbox call.
	Upstream Kind = "upstream"
)

// Error is the concrete error type every mailbox reply carries on failure.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an *Error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf is New with a formatted detail string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause so
// errors.Is/errors.Unwrap still reach the original.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: cause.Error(), cause: cause}
}

// Is lets errors.Is(err, errs.New(errs.Timeout, "")) match any *Error of the
// same Kind regardless of Detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Detail == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Detail == t.Detail
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to Upstream for anything else — matching the spec's rule that a
// disappeared mailbox reply is reported to the caller as Upstream.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Upstream
}
