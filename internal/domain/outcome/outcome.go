// Package outcome provides the structured results handed to the presentation layer.
package outcome

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19voice/internal/domain/item"
)

// Kind classifies a failed command.
type Kind int

const (
	KindInternal Kind = iota
	KindNoDestination
	KindMissingArgument
	KindResolutionFailed
	KindJoinFailed
	KindStreamStartFailed
	KindNoActiveRoom
	KindNoRoom
	KindRejected
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNoDestination:
		return "no_destination"
	case KindMissingArgument:
		return "missing_argument"
	case KindResolutionFailed:
		return "resolution_failed"
	case KindJoinFailed:
		return "join_failed"
	case KindStreamStartFailed:
		return "stream_start_failed"
	case KindNoActiveRoom:
		return "no_active_room"
	case KindNoRoom:
		return "no_room"
	case KindRejected:
		return "rejected"
	default:
		return "internal"
	}
}

// UserActionable reports whether the kind may be shown to users verbatim.
func (k Kind) UserActionable() bool {
	return k != KindInternal
}

// Error is a classified command failure.
type Error struct {
	Kind   Kind
	Source string // Input that failed to resolve (ResolutionFailed)
	Code   string // Filter or limiter code (Rejected)
	cause  error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Kind.String()
	switch {
	case e.Source != "":
		msg = fmt.Sprintf("%s(%s)", msg, e.Source)
	case e.Code != "":
		msg = fmt.Sprintf("%s(%s)", msg, e.Code)
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error of the given kind.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap classifies err under kind. A nil err still yields a classified error.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, cause: err}
}

// ResolutionFailed reports that source could not be turned into playable items.
func ResolutionFailed(source string, err error) *Error {
	return &Error{Kind: KindResolutionFailed, Source: source, cause: err}
}

// Rejected reports that a request was refused with the given code.
func Rejected(code string) *Error {
	return &Error{Kind: KindRejected, Code: code}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, cause: err}
}

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindInternal
}

// As extracts the classified error from err.
// Unclassified errors are returned wrapped as internal.
func As(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return Internal(err)
}

// Enqueued is the successful result of a play request.
type Enqueued struct {
	Position   int             // 1-based position of the first appended item in the pending queue
	Resolution item.Resolution // What was appended
}
