package station

import (
	"errors"
	"fmt"
)

// Kind classifies station errors so callers can map them to a response.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindClient
	KindPhysicalLimit
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindClient:
		return "client"
	case KindPhysicalLimit:
		return "physical_limit"
	default:
		return "internal"
	}
}

// Error is returned by all Station operations.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Errors not produced by this package are
// internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err refers to a missing charger, connector or
// session.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsClient reports whether err was caused by invalid input.
func IsClient(err error) bool { return err != nil && KindOf(err) == KindClient }

func notFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func clientError(format string, args ...any) error {
	return &Error{Kind: KindClient, Msg: fmt.Sprintf(format, args...)}
}
