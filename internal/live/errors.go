package live

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category of a domain error. Clients branch on
// the kind carried in the error envelope instead of parsing message text.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindAuthorization        Kind = "authorization"
	KindVerificationRequired Kind = "verification_required"
	KindInvalidState         Kind = "invalid_state"
	KindContentRejected      Kind = "content_rejected"
	KindValidation           Kind = "validation"
	KindInternal             Kind = "internal"
)

// Error is a tagged domain error. All per-request failures in the core are
// reported with one of these; none is fatal to the session or the process.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Errorf builds a tagged error with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapInternal tags a collaborator failure as internal without exposing detail
// to the client beyond a generic message.
func WrapInternal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// KindOf extracts the Kind from err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
