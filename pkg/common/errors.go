package common

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Client-side error taxonomy. Remote failures are classified into one of
// these so callers can decide between forcing logout, staying silent, or
// surfacing a dismissable message.
var (
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrBadRequest            = errors.New("bad request")
	ErrConflict              = errors.New("resource conflict")
	ErrValidation            = errors.New("validation error")
	ErrNetwork               = errors.New("network unavailable")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrMalformedResponse     = errors.New("malformed response")
	ErrNoActiveTrip          = errors.New("no active trip")
	ErrCandidateMismatch     = errors.New("candidate is not the one currently shown")
	ErrCandidateBusy         = errors.New("candidate action already in flight")
	ErrStaleTrip             = errors.New("trip changed while request was in flight")
	ErrInvalidStatus         = errors.New("invalid trip status")
	ErrCapabilityUnavailable = errors.New("device capability unavailable")
	ErrNotLoggedIn           = errors.New("not logged in")
)

// AppError represents a typed failure outcome with an HTTP-like status code
// and a human readable message suitable for a toast.
type AppError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewNotFoundError(message string, err error) *AppError {
	return &AppError{Code: http.StatusNotFound, ErrorCode: "not_found", Message: message, Err: err}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, ErrorCode: "unauthorized", Message: message, Err: ErrUnauthorized}
}

func NewBadRequestError(message string, err error) *AppError {
	return &AppError{Code: http.StatusBadRequest, ErrorCode: "bad_request", Message: message, Err: err}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, ErrorCode: "internal", Message: message, Err: err}
}

func NewConflictError(message string, err error) *AppError {
	if err == nil {
		err = ErrConflict
	}
	return &AppError{Code: http.StatusConflict, ErrorCode: "conflict", Message: message, Err: err}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, ErrorCode: "validation", Message: message, Err: ErrValidation}
}

// NewNetworkError wraps a transport failure as a retryable-by-user outcome.
func NewNetworkError(message string, err error) *AppError {
	return &AppError{Code: http.StatusServiceUnavailable, ErrorCode: "network", Message: message, Err: errors.Join(ErrNetwork, err)}
}

// NewPermissionError reports a denied device permission.
func NewPermissionError(message string) *AppError {
	return &AppError{Code: http.StatusForbidden, ErrorCode: "permission_denied", Message: message, Err: ErrPermissionDenied}
}

// NewTimeoutError reports an operation that gave up waiting.
func NewTimeoutError(message string, err error) *AppError {
	return &AppError{Code: http.StatusGatewayTimeout, ErrorCode: "timeout", Message: message, Err: err}
}

// IsPermissionDenied reports whether err is a denied device permission.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsAuthError reports whether err means the session token is no longer valid.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTransient reports whether err is a network-level failure that a later
// poll cycle or a manual retry may get past.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// MessageOf returns the user-facing message carried by err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
