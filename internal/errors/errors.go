package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Base error types
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrRenderFailure   = errors.New("render failure")
	ErrInternal        = errors.New("internal error")
)

// Kind is the machine-readable category surfaced to API clients.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindInvalidInput    Kind = "invalid_input"
	KindNotFound        Kind = "not_found"
	KindRateLimited     Kind = "rate_limited"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindRenderFailure   Kind = "render_failure"
	KindInternal        Kind = "internal"
)

// HTTPStatus maps a kind to the status code returned to clients.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited, KindQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnauthenticated:
		return ErrUnauthenticated
	case KindForbidden:
		return ErrForbidden
	case KindInvalidInput:
		return ErrInvalidInput
	case KindNotFound:
		return ErrNotFound
	case KindRateLimited:
		return ErrRateLimited
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindRenderFailure:
		return ErrRenderFailure
	default:
		return ErrInternal
	}
}

// Error is a structured error carrying a client-facing kind and message.
type Error struct {
	Kind    Kind
	Op      string // Operation that failed (e.g., "resolve_credential", "render_item")
	Message string // Human-readable, safe to show to clients
	Err     error  // Underlying error, never shown to clients for KindInternal
	Details map[string]any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if target == e.Kind.sentinel() {
		return true
	}
	return errors.Is(e.Err, target)
}

// New creates an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an Error of the given kind around err.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WithDetail attaches numeric or textual context for clients (limits, usage, reset timing).
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Helper functions

// Unauthenticated reports a missing or invalid credential.
func Unauthenticated(op, message string) *Error {
	return New(KindUnauthenticated, op, message)
}

// Forbidden reports a valid credential whose plan disallows the action.
func Forbidden(op, message string) *Error {
	return New(KindForbidden, op, message)
}

// InvalidInput reports a malformed request.
func InvalidInput(op, message string) *Error {
	return New(KindInvalidInput, op, message)
}

// NotFound reports a missing resource owned by the caller.
func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message)
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return Wrap(KindInternal, op, "internal server error", err)
}

// KindOf extracts the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []Kind{
		KindUnauthenticated, KindForbidden, KindInvalidInput, KindNotFound,
		KindRateLimited, KindQuotaExceeded, KindRenderFailure,
	} {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return KindInternal
}

// As is re-exported so callers that import this package as "errors" keep access.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is re-exported so callers that import this package as "errors" keep access.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
