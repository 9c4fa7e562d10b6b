package errors

import (
	"errors"
	"net/http"
)

// Error kinds. Every orchestration error wraps exactly one of these so the
// HTTP boundary can map it to a status code without inspecting messages.
var (
	ErrValidation  = errors.New("validation error")
	ErrAuth        = errors.New("auth error")
	ErrState       = errors.New("state error")
	ErrExternal    = errors.New("external error")
	ErrConfig      = errors.New("config error")
	ErrRateLimited = errors.New("rate limited")
	ErrDisabled    = errors.New("disabled")
	ErrNotFound    = errors.New("resource not found")
	ErrDuplicate   = errors.New("duplicate resource")
)

// AppError represents an application error with an HTTP status.
type AppError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
	Kind    error  `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *AppError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is lets errors.Is match both the kind and the wrapped cause.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Kind, target) || (e.Err != nil && errors.Is(e.Err, target))
}

// NewAppError creates a new app error.
func NewAppError(status int, kind error, message string, err error) *AppError {
	return &AppError{Status: status, Kind: kind, Message: message, Err: err}
}

func Validation(message string) *AppError {
	return NewAppError(http.StatusBadRequest, ErrValidation, message, nil)
}

func Unauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, ErrAuth, message, nil)
}

func StateConflict(message string) *AppError {
	return NewAppError(http.StatusBadRequest, ErrState, message, nil)
}

func External(message string, err error) *AppError {
	return NewAppError(http.StatusBadGateway, ErrExternal, message, err)
}

func ConfigMissing(message string) *AppError {
	return NewAppError(http.StatusInternalServerError, ErrConfig, message, nil)
}

func RateLimited(message string) *AppError {
	return NewAppError(http.StatusTooManyRequests, ErrRateLimited, message, nil)
}

func Disabled(message string) *AppError {
	return NewAppError(http.StatusServiceUnavailable, ErrDisabled, message, nil)
}

func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, ErrNotFound, message, nil)
}

func Internal(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, nil, "internal server error", err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err, kind error) bool {
	return errors.Is(err, kind)
}
