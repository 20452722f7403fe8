// Package sqlerr defines the structured error taxonomy shared by every
// component of the engine. Callers dispatch on Kind; the Message always
// carries the server's own text verbatim when a server produced it.
package sqlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindUnknown is the zero Kind; it is never produced by the engine.
	KindUnknown Kind = iota
	// KindConnection — the target server is unreachable.
	KindConnection
	// KindDatabaseNotFoundOrOffline — a requested target database does not
	// exist or is not in the ONLINE state.
	KindDatabaseNotFoundOrOffline
	// KindValidation — an argument failed validation before any network call.
	KindValidation
	// KindQueryExecution — the server rejected the statement. The message
	// preserves the server error text verbatim.
	KindQueryExecution
	// KindObjectNotFound — a named catalog object does not exist.
	KindObjectNotFound
	// KindPermissionDenied — the object exists but its content is not
	// readable (e.g. an encrypted procedure definition).
	KindPermissionDenied
	// KindTimeoutExceeded — the total tool-call budget is exhausted.
	KindTimeoutExceeded
	// KindSessionNotFound — unknown or expunged session id.
	KindSessionNotFound
	// KindSessionNotReady — the session is still running.
	KindSessionNotReady
	// KindCapabilityUnsupported — the feature requires a server version
	// above the detected one.
	KindCapabilityUnsupported
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection_error"
	case KindDatabaseNotFoundOrOffline:
		return "database_not_found_or_offline"
	case KindValidation:
		return "validation_error"
	case KindQueryExecution:
		return "query_execution_error"
	case KindObjectNotFound:
		return "object_not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTimeoutExceeded:
		return "timeout_exceeded"
	case KindSessionNotFound:
		return "session_not_found"
	case KindSessionNotReady:
		return "session_not_ready"
	case KindCapabilityUnsupported:
		return "capability_unsupported"
	default:
		return "unknown"
	}
}

// Error is a kinded engine error. Message is user-visible; Err (optional)
// is the wrapped cause, reachable via errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that carries the cause's message verbatim and keeps
// the cause reachable via errors.Unwrap.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
