// Package apperr classifies the errors the borrowing core returns so that
// handlers can map them to HTTP responses without string matching.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the failure class of an error.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindValidation
	KindPolicyViolation
	KindDeliveryFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindPolicyViolation:
		return "policy_violation"
	case KindDeliveryFailure:
		return "delivery_failure"
	default:
		return "internal"
	}
}

// Error carries a Kind and a message that is safe to show to the user.
type Error struct {
	Kind   Kind
	Msg    string
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func NotFound(msg string) *Error  { return New(KindNotFound, msg) }
func Forbidden(msg string) *Error { return New(KindForbidden, msg) }
func Policy(msg string) *Error    { return New(KindPolicyViolation, msg) }

// Invalid builds a validation error from per-field messages.
func Invalid(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Msg: "invalid input", Fields: fields}
}

// Wrap attaches a kind and user message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the user facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "Something went wrong. Please try again."
}

// FieldErrors returns the per-field messages of a validation error, if any.
func FieldErrors(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) && e.Fields != nil {
		return e.Fields
	}
	return nil
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindPolicyViolation:
		return http.StatusConflict
	case KindDeliveryFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
