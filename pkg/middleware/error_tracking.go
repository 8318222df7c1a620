package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/errors"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// SentryMiddleware attaches a Sentry hub to each bridge request.
func SentryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// Recovery turns handler panics into a 500 envelope so the shell never sees a
// dropped connection. Register it after SentryMiddleware so the request hub
// is available for reporting.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(c.Request.Context(), "panic in bridge handler",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
				)
				if hub := sentrygin.GetHubFromContext(c); hub != nil {
					hub.Recover(r)
				} else {
					errors.CaptureError(fmt.Errorf("panic: %v", r))
				}
				common.ErrorResponse(c, http.StatusInternalServerError, "internal error")
				c.Abort()
			}
		}()

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			errors.AddBreadcrumbForRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status())
			if hub := sentrygin.GetHubFromContext(c); hub != nil && len(c.Errors) > 0 {
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag(CorrelationIDKey, GetCorrelationID(c))
					hub.CaptureException(c.Errors.Last().Err)
				})
			}
		}
	}
}
