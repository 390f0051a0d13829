// Package apperr defines the error taxonomy shared by the domain services and
// the HTTP delivery layer.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
)

// Kind classifies an error for callers. The zero value is KindInternal.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindInvalidCoupon
	KindInsufficientStock
	KindInvalidTransition
	KindUnauthorized
	KindForbidden
	KindConflict
)

var kindNames = [...]string{
	KindInternal:          "internal",
	KindValidation:        "validation",
	KindNotFound:          "not_found",
	KindInvalidCoupon:     "invalid_coupon",
	KindInsufficientStock: "insufficient_stock",
	KindInvalidTransition: "invalid_transition",
	KindUnauthorized:      "unauthorized",
	KindForbidden:         "forbidden",
	KindConflict:          "conflict",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// HTTPStatus returns the response status code for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInvalidCoupon:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientStock, KindInvalidTransition, KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Kinded is implemented by typed domain errors that know their own kind.
type Kinded interface {
	error
	Kind() Kind
}

// Error is a generic classified error with a caller-facing message.
type Error struct {
	kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Kind implements Kinded.
func (e *Error) Kind() Kind { return e.kind }

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, Message: msg}
}

// Validation returns a KindValidation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return &Error{kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error for the named entity.
func NotFound(entity, id string) *Error {
	return &Error{kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Internal wraps err as an internal failure. Message is safe to show to
// callers; err is only logged.
func Internal(msg string, err error) *Error {
	return &Error{kind: KindInternal, Message: msg, Err: err}
}

// KindOf reports the kind of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns a message suitable for API responses. Internal
// errors never leak their cause.
func PublicMessage(err error) string {
	var k Kinded
	if !errors.As(err, &k) {
		return "internal error"
	}
	if k.Kind() == KindInternal {
		var e *Error
		if errors.As(err, &e) && e.Message != "" {
			return e.Message
		}
		return "internal error"
	}
	var e *Error
	if errors.As(k, &e) {
		return e.Message
	}
	return k.Error()
}
