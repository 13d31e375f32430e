package authrax

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can choose between degrading and propagating.
type Kind int

// Error kinds.
const (
	Internal Kind = iota
	UpstreamUnavailable
	MalformedResponse
	ConfigMissing
	Unauthenticated
	InvalidArgument
	NotFound
)

func (k Kind) String() string {
	switch k {
	case UpstreamUnavailable:
		return "upstream_unavailable"
	case MalformedResponse:
		return "malformed_response"
	case ConfigMissing:
		return "config_missing"
	case Unauthenticated:
		return "unauthenticated"
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified error.
type Error struct {
	Err  error
	Op   string // Operation that failed, e.g. "googlenews.search"
	Kind Kind
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
