// Package errs defines the error kinds the simulation core raises and their
// numeric wire codes. Handlers map kinds to HTTP statuses; everything else
// wraps and rethrows.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the wire
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindUnauthenticated
	KindNotFound
	KindConflict
	KindInsufficientFunds
	KindPdtViolation
	KindNotImplemented
	KindUnavailable
	KindCompleted // advancing a session already at sim_end
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindPdtViolation:
		return "pdt_violation"
	case KindNotImplemented:
		return "not_implemented"
	case KindUnavailable:
		return "unavailable"
	case KindCompleted:
		return "completed"
	}
	return "unknown"
}

// Code returns the numeric wire code for the kind.
func (k Kind) Code() int {
	switch k {
	case KindInvalidArgument:
		return 40010001
	case KindInsufficientFunds:
		return 40010002
	case KindPdtViolation:
		return 40010003
	case KindUnauthenticated:
		return 40110000
	case KindNotFound:
		return 40410000
	case KindConflict, KindCompleted:
		return 40910000
	case KindNotImplemented:
		return 50110000
	case KindUnavailable:
		return 50310000
	}
	return 50010000
}

// HTTPStatus returns the HTTP status the kind surfaces as.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidArgument, KindInsufficientFunds, KindPdtViolation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindCompleted:
		return http.StatusConflict
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error carries a kind, a message, and optionally the request field that
// caused it.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an error of the given kind.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Field builds a field-tagged invalid-argument error.
func Field(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var v ValidationErrors
	if errors.As(err, &v) && len(v) > 0 {
		return v[0].Kind
	}
	return KindUnknown
}

// Is lets errors.Is match on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// ValidationErrors aggregates every violation found for one request. The
// first entry's field is the one highlighted on the wire.
type ValidationErrors []*Error

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	if len(v) == 1 {
		return v[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", v[0].Error(), len(v)-1)
}

// First returns the first violation, or nil.
func (v ValidationErrors) First() *Error {
	if len(v) == 0 {
		return nil
	}
	return v[0]
}
