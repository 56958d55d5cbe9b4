// Package apperr defines the error kinds reported at service boundaries.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindGateway    Kind = "gateway"
	KindStorage    Kind = "storage"
	KindInternal   Kind = "internal"
)

// Error carries a Kind plus a human-readable message. Op names the failing
// operation, e.g. "orders.PlaceOrder".
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Detail is the message shown to callers, without the Op prefix.
func (e *Error) Detail() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func newf(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(op, format string, args ...any) error {
	return newf(KindValidation, op, nil, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, nil, format, args...)
}

func Conflict(op string, err error, format string, args ...any) error {
	return newf(KindConflict, op, err, format, args...)
}

func Gateway(op string, err error, format string, args ...any) error {
	return newf(KindGateway, op, err, format, args...)
}

func Storage(op string, err error, format string, args ...any) error {
	return newf(KindStorage, op, err, format, args...)
}

// KindOf reports the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing detail for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail()
	}
	return err.Error()
}

// HTTPStatus maps a Kind to the response status the API uses for it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
