package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
)

// SentryConfig holds configuration for Sentry integration
type SentryConfig struct {
	DSN              string
	Environment      string
	Release          string
	SampleRate       float64
	Debug            bool
	ServerName       string
	AttachStacktrace bool
}

// DefaultSentryConfig returns a Sentry configuration read from the environment
func DefaultSentryConfig(serviceName, environment string) *SentryConfig {
	return &SentryConfig{
		DSN:              os.Getenv("SENTRY_DSN"),
		Environment:      environment,
		Release:          os.Getenv("SENTRY_RELEASE"),
		SampleRate:       getSampleRate(),
		Debug:            os.Getenv("SENTRY_DEBUG") == "true",
		ServerName:       serviceName,
		AttachStacktrace: true,
	}
}

// InitSentry initializes the Sentry SDK. An empty DSN leaves reporting disabled
// and is not an error.
func InitSentry(config *SentryConfig) error {
	if config.DSN == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              config.DSN,
		Environment:      config.Environment,
		Release:          config.Release,
		SampleRate:       config.SampleRate,
		Debug:            config.Debug,
		ServerName:       config.ServerName,
		AttachStacktrace: config.AttachStacktrace,
		BeforeBreadcrumb: func(breadcrumb *sentry.Breadcrumb, hint *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			if breadcrumb.Category == "http" && breadcrumb.Data != nil {
				delete(breadcrumb.Data, "Authorization")
				delete(breadcrumb.Data, "Cookie")
			}
			return breadcrumb
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return nil
}

// Flush flushes the Sentry buffer
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// CaptureError captures an error and sends it to Sentry
func CaptureError(err error) *sentry.EventID {
	if err == nil || IsBusinessError(err) {
		return nil
	}
	return sentry.CaptureException(err)
}

// CaptureWarning reports a non-fatal failure, such as a remote cancel that
// failed after the trip was already cleared locally.
func CaptureWarning(ctx context.Context, err error, tags map[string]string) *sentry.EventID {
	if err == nil || IsBusinessError(err) {
		return nil
	}

	hub := sentry.CurrentHub().Clone()
	var id *sentry.EventID
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			scope.SetTag("correlation_id", correlationID)
		}
		id = hub.CaptureException(err)
	})
	return id
}

// AddBreadcrumbForRequest adds a breadcrumb for a bridge request
func AddBreadcrumbForRequest(method, url string, statusCode int) {
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "http",
		Category:  "http.request",
		Level:     sentry.LevelInfo,
		Message:   fmt.Sprintf("%s %s", method, url),
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"method":      method,
			"url":         url,
			"status_code": statusCode,
		},
	})
}

// SetDriver tags every subsequent event with the signed-in driver.
func SetDriver(driverID string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: driverID})
	})
}

// IsBusinessError reports errors that are expected outcomes of driver actions
// and should never be reported.
func IsBusinessError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		common.ErrValidation,
		common.ErrUnauthorized,
		common.ErrCandidateMismatch,
		common.ErrCandidateBusy,
		common.ErrNoActiveTrip,
		common.ErrStaleTrip,
		common.ErrPermissionDenied,
		common.ErrNetwork,
	} {
		if stderrors.Is(err, target) {
			return true
		}
	}
	var appErr *common.AppError
	if stderrors.As(err, &appErr) && appErr.Code >= 400 && appErr.Code < 500 && appErr.Code != 429 {
		return true
	}
	return false
}

func getSampleRate() float64 {
	if rate, err := strconv.ParseFloat(os.Getenv("SENTRY_SAMPLE_RATE"), 64); err == nil && rate >= 0 && rate <= 1 {
		return rate
	}
	return 1.0
}
