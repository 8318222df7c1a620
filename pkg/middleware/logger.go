package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// RequestLogger logs bridge requests. The SSE stream and the scrape endpoint
// are logged at debug level since they are long-lived or high frequency.
func RequestLogger(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
		}

		reqLogger := logger.WithContext(c.Request.Context())
		switch {
		case len(c.Errors) > 0:
			fields = append(fields, zap.String("errors", c.Errors.String()))
			reqLogger.Error("Request completed with errors", fields...)
		case strings.HasSuffix(path, "/events"), path == "/metrics", path == "/native/location":
			reqLogger.Debug("Request completed", fields...)
		default:
			reqLogger.Info("Request completed", fields...)
		}
	}
}
