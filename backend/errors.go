package backend

import (
	"errors"
	"fmt"
)

// Kind classifies an adapter failure so callers can pick the right reaction:
// retry, correct input, or show a specific message.
type Kind int

const (
	// Unexpected covers anything not classified. Never retried, surfaced as
	// a generic notice.
	Unexpected Kind = iota
	// Transient means the backend or network was unavailable; the same call
	// may be retried by the user.
	Transient
	// Validation means malformed input; the user must correct it.
	Validation
	NotFound
	AlreadyExists
	InvalidCredentials
	WeakPassword
	QuotaExceeded
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case InvalidCredentials:
		return "invalid_credentials"
	case WeakPassword:
		return "weak_password"
	case QuotaExceeded:
		return "quota_exceeded"
	default:
		return "unexpected"
	}
}

// Error is a kind-tagged failure. Message is safe to surface to the user
// verbatim; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from any error, Unexpected when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
