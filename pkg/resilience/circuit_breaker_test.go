package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richxcame/driver-agent/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAndReturnsOpenError(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{
		Name:             "test-breaker",
		Timeout:          time.Minute,
		Interval:         time.Minute,
		FailureThreshold: 2,
		SuccessThreshold: 1,
	}, nil)

	ctx := context.Background()
	failingOp := func(context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	}

	for i := 0; i < 2; i++ {
		_, err := breaker.Execute(ctx, failingOp)
		require.Error(t, err)
	}

	assert.False(t, breaker.Allow())

	_, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerUsesFallbackWhenOpen(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{Name: "fallback-breaker", Timeout: time.Minute, FailureThreshold: 1}, func(ctx context.Context, err error) (interface{}, error) {
		return "cached", nil
	})

	ctx := context.Background()
	_, _ = breaker.Execute(ctx, func(context.Context) (interface{}, error) { return nil, errors.New("down") })

	result, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) { return "live", nil })
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	clientErr := errors.New("422")
	breaker := NewCircuitBreaker(Settings{
		Name:             "client-errors",
		Timeout:          time.Minute,
		FailureThreshold: 1,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, clientErr)
		},
	}, nil)

	_, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) { return nil, clientErr })
	assert.ErrorIs(t, err, clientErr)
	assert.True(t, breaker.Allow())
}

func TestNilCircuitBreakerPassesThrough(t *testing.T) {
	var breaker *CircuitBreaker
	result, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return "response", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "response", result)
	assert.True(t, breaker.Allow())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 3})
	a := reg.Get("trip-api")
	require.NotNil(t, a)
	assert.Same(t, a, reg.Get("trip-api"))
	assert.Equal(t, "trip-api", a.Name())

	disabled := NewRegistry(config.CircuitBreakerConfig{Enabled: false})
	assert.Nil(t, disabled.Get("trip-api"))
}

func TestBuildSettings(t *testing.T) {
	s := BuildSettings(config.CircuitBreakerConfig{FailureThreshold: 4, TimeoutSeconds: 10, IntervalSeconds: 20}, "routing")
	assert.Equal(t, "routing", s.Name)
	assert.Equal(t, uint32(4), s.FailureThreshold)
	assert.Equal(t, uint32(1), s.SuccessThreshold)
	assert.Equal(t, 10*time.Second, s.Timeout)
	assert.Equal(t, 20*time.Second, s.Interval)
}
