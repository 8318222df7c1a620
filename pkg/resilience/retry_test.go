package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	result, err := RetryWithName(context.Background(), fastRetry(3), func(context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, "test")

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := fastRetry(5)
	cfg.RetryableChecker = func(error) bool { return false }

	calls := 0
	_, err := Retry(context.Background(), cfg, func(context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("bad request")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryDoesNotRetryOpenCircuit(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(5), func(context.Context) (interface{}, error) {
		calls++
		return nil, ErrCircuitOpen
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, fastRetry(3), func(context.Context) (interface{}, error) {
		t.Fatal("operation should not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffIsCappedAndNeverZero(t *testing.T) {
	cfg := ReconnectConfig()
	for attempt := 1; attempt < 10; attempt++ {
		d := Backoff(attempt, cfg)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, cfg.MaxBackoff)
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	assert.True(t, IsRetryableHTTPStatus(503))
	assert.True(t, IsRetryableHTTPStatus(429))
	assert.False(t, IsRetryableHTTPStatus(400))
	assert.False(t, IsRetryableHTTPStatus(401))
}
