package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// HandleServiceError handles service errors with consistent patterns.
// Returns true if an error was handled (and response was sent), false otherwise.
//
// Usage:
//
//	trip, err := h.orchestrator.AdvanceStatus(ctx, status)
//	if HandleServiceError(c, err, "failed to update trip") {
//	    return
//	}
func HandleServiceError(c *gin.Context, err error, fallbackMessage string) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		AppErrorResponse(c, appErr)
		return true
	}

	if code, ok := statusForSentinel(err); ok {
		ErrorResponse(c, code, err.Error())
		return true
	}

	logger.ErrorContext(c.Request.Context(), fallbackMessage,
		zap.Error(err),
	)

	ErrorResponse(c, http.StatusInternalServerError, fallbackMessage)
	return true
}

func statusForSentinel(err error) (int, bool) {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotLoggedIn):
		return http.StatusUnauthorized, true
	case errors.Is(err, ErrNoActiveTrip), errors.Is(err, ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, ErrCandidateMismatch), errors.Is(err, ErrCandidateBusy), errors.Is(err, ErrStaleTrip):
		return http.StatusConflict, true
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrValidation):
		return http.StatusBadRequest, true
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden, true
	case errors.Is(err, ErrNetwork):
		return http.StatusServiceUnavailable, true
	}
	return 0, false
}

// BindJSON binds JSON request body and sends error response on failure.
// Returns true on success, false on failure (response already sent).
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// BindQuery binds query parameters and sends error response on failure.
func BindQuery(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// ValidateNotEmpty checks if a string value is not empty and sends error response if it is.
func ValidateNotEmpty(c *gin.Context, value, fieldName string) bool {
	if value == "" {
		ErrorResponse(c, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}
