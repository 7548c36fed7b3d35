// internal/utils/errors.go
package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation  ErrorKind = "VALIDATION_ERROR"
	KindAuth        ErrorKind = "AUTH_ERROR"
	KindForbidden   ErrorKind = "FORBIDDEN"
	KindConflict    ErrorKind = "CONFLICT"
	KindNotFound    ErrorKind = "NOT_FOUND"
	KindRateLimited ErrorKind = "RATE_LIMITED"
	KindUpstream    ErrorKind = "UPSTREAM_ERROR"
	KindInternal    ErrorKind = "INTERNAL_ERROR"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrPoolExhausted = errors.New("no key available")
	ErrAlreadyExists = errors.New("already exists")
)

// AppError carries a taxonomy kind alongside a caller-safe message.
// Details must never hold key values or raw credentials.
type AppError struct {
	Kind    ErrorKind
	Message string
	Details interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy with details attached.
func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newAppError(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *AppError {
	return newAppError(KindValidation, format, args...)
}

func Auth(format string, args ...interface{}) *AppError {
	return newAppError(KindAuth, format, args...)
}

func Forbidden(format string, args ...interface{}) *AppError {
	return newAppError(KindForbidden, format, args...)
}

func Conflict(format string, args ...interface{}) *AppError {
	return newAppError(KindConflict, format, args...)
}

func NotFound(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...), Err: ErrNotFound}
}

func RateLimited(format string, args ...interface{}) *AppError {
	return newAppError(KindRateLimited, format, args...)
}

// Upstream wraps a transport or provider failure. The cause is kept for logs.
func Upstream(err error, format string, args ...interface{}) *AppError {
	e := newAppError(KindUpstream, format, args...)
	e.Err = err
	return e
}

func Internal(err error, format string, args ...interface{}) *AppError {
	e := newAppError(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf classifies any error. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
