// Package apperr defines the caller-facing error kinds returned by the contract services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindBadRequest Kind = "bad_request"
	KindForbidden  Kind = "forbidden"
)

// Error is a classified, user-visible error.
type Error struct {
	Kind    Kind
	Message string
	// Fields maps an input field to its violation code, for invalid input.
	Fields map[string]string
}

func (e *Error) Error() string { return e.Message }

// NotFound reports an unresolved property, user or contract reference.
func NotFound(msg string) error { return &Error{Kind: KindNotFound, Message: msg} }

// BadRequest reports an invalid state or invalid input.
func BadRequest(msg string) error { return &Error{Kind: KindBadRequest, Message: msg} }

// Invalid reports rejected input fields as a BadRequest.
func Invalid(msg string, fields map[string]string) error {
	return &Error{Kind: KindBadRequest, Message: msg, Fields: fields}
}

// BadRequestf is BadRequest with formatting.
func BadRequestf(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Forbidden reports a failed role or ownership check.
func Forbidden(msg string) error { return &Error{Kind: KindForbidden, Message: msg} }

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldsOf returns the field violations carried by err, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
