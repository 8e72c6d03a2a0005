// Package apperr defines the typed failures returned by the services.
// Callers branch on Kind: validation errors are fixable by the user,
// unavailable errors are retryable, lifecycle errors need fresh data.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindInvalidState  Kind = "invalid_state"
	KindConflict      Kind = "conflict"
	KindAlreadySigned Kind = "already_signed"
	KindValidation    Kind = "validation"
	KindForbidden     Kind = "forbidden"
	KindUnavailable   Kind = "unavailable"
)

// Reasons attached to InvalidState errors.
const (
	ReasonExpired         = "expired"
	ReasonAlreadyAccepted = "already_accepted"
	ReasonAlreadyRejected = "already_rejected"
	ReasonClientBound     = "client_bound"
	ReasonProjectClosed   = "project_closed"
)

type Error struct {
	Kind   Kind
	Msg    string
	Reason string
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, apperr.ErrNotFound)
// works for any NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Msg != "" {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrAlreadySigned = &Error{Kind: KindAlreadySigned}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrUnavailable   = &Error{Kind: KindUnavailable}
)

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func InvalidState(reason, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func AlreadySigned(format string, args ...any) *Error {
	return &Error{Kind: KindAlreadySigned, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

// Validation builds a ValidationError carrying one message per field.
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Msg: "validation failed", Fields: fields}
}

// Invalid is a single-field shorthand for Validation.
func Invalid(field, msg string) *Error {
	return Validation(map[string]string{field: msg})
}

func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Msg: op, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf reports the Reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Status maps a Kind to the HTTP status the handlers respond with.
func Status(k Kind) int {
	switch k {
	case KindNotFound:
		return fiber.StatusNotFound
	case KindValidation:
		return fiber.StatusBadRequest
	case KindForbidden:
		return fiber.StatusForbidden
	case KindInvalidState, KindConflict, KindAlreadySigned:
		return fiber.StatusConflict
	case KindUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
