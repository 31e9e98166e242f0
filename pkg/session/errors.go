package session

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind enumerates the taxonomy of failures a replication session
// can surface, matching spec.md §4.2/§7. Callers classify failures by
// inspecting Kind rather than matching on error strings.
type ErrorKind int

const (
	// KindNone is never returned; it is the zero value of ErrorKind.
	KindNone ErrorKind = iota
	KindIO
	KindOutOfMemory
	KindConnection
	KindPassword
	KindCommand
	KindQuery
	KindStreamProtocol
	KindReplication
	KindNoSlot
	KindBadPlugin
	KindStatus
	KindParse
	KindHandlerRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindConnection:
		return "connection"
	case KindPassword:
		return "password"
	case KindCommand:
		return "command"
	case KindQuery:
		return "query"
	case KindStreamProtocol:
		return "stream_protocol"
	case KindReplication:
		return "replication"
	case KindNoSlot:
		return "no_slot"
	case KindBadPlugin:
		return "bad_plugin"
	case KindStatus:
		return "status"
	case KindParse:
		return "parse"
	case KindHandlerRejected:
		return "handler_rejected"
	default:
		return "none"
	}
}

// Error is the (kind, detail) pair spec.md §4.2 specifies, realized
// as Go's idiomatic typed-error-with-cause instead of a module-level
// mutable pair.
type Error struct {
	kind  ErrorKind
	msg   string
	cause error
}

// Kind classifies the failure, used by callers to decide whether it
// is retryable (per spec.md §7's propagation policy) or terminal.
func (e *Error) Kind() ErrorKind { return e.kind }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// newError builds a detail-formatted Error with no cause, the
// equivalent of the source's Pghx_format_error.
func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// wrapError attaches kind and a formatted detail to an existing
// error, using pkg/errors so the original call stack survives —
// the same wrapping style LeoPlatform-pg_kinesis uses for every
// libpq failure (errors.Wrapf(err, "unable to ...")).
func wrapError(cause error, kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// IsTerminal reports whether err represents one of the non-recoverable
// kinds named in spec.md §7: Password, BadPlugin, NoSlot, OutOfMemory,
// StreamProtocol, a rejecting handler, and any Command/Query/Replication
// failure from the preparation or initiation phase (slot lookup,
// create/drop slot, START_REPLICATION) — those are never retried, per
// original_source/src/pghx/logicaldecoding.c's
// pghx_ld_reader_init_replication failure path.
func IsTerminal(err error) bool {
	var sessErr *Error
	if !stderrors.As(err, &sessErr) {
		return false
	}
	switch sessErr.kind {
	case KindPassword, KindBadPlugin, KindNoSlot, KindOutOfMemory, KindStreamProtocol, KindHandlerRejected,
		KindCommand, KindQuery, KindReplication:
		return true
	default:
		return false
	}
}

// Kind extracts the ErrorKind from err, or KindNone if err is not (or
// does not wrap) a *Error.
func Kind(err error) ErrorKind {
	var sessErr *Error
	if stderrors.As(err, &sessErr) {
		return sessErr.kind
	}
	return KindNone
}
