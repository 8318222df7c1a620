package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/middleware"
	"github.com/richxcame/driver-agent/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostSendsBearerTokenAndCorrelationID(t *testing.T) {
	var gotAuth, gotCorrelation, gotContentType string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get(middleware.CorrelationIDHeader)
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, WithTokenSource(func() string { return "tok" }))
	ctx := logger.ContextWithCorrelationID(context.Background(), "corr-1")

	body, err := client.Post(ctx, "/rides/r1/accept", map[string]string{"reason": "x"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(body))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "corr-1", gotCorrelation)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "x", gotBody["reason"])
}

func TestErrorPayloadMessageIsSurfaced(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
		message string
	}{
		{"nested error envelope", http.StatusConflict, `{"success":false,"error":{"code":409,"message":"ride already taken"}}`, "ride already taken"},
		{"flat message", http.StatusBadRequest, `{"message":"invalid status transition"}`, "invalid status transition"},
		{"string error", http.StatusBadRequest, `{"error":"bad pin"}`, "bad pin"},
		{"non json body", http.StatusBadGateway, `<html>gateway</html>`, "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer server.Close()

			client := NewClient(server.URL, time.Second)
			_, err := client.Post(context.Background(), "/x", nil, nil)
			require.Error(t, err)

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.message, httpErr.Message)

			appErr := AsAppError(err, "fallback")
			assert.Equal(t, tt.message, common.MessageOf(appErr))
		})
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).Get(context.Background(), "/driver/stats", nil)
	assert.True(t, errors.Is(err, common.ErrUnauthorized))
	assert.True(t, common.IsAuthError(AsAppError(err, "x")))
}

func TestGetRetriesButPostDoesNot(t *testing.T) {
	var gets, posts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if atomic.AddInt32(&gets, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`[]`))
			return
		}
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, WithRetry(resilience.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1,
	}))

	body, err := client.Get(context.Background(), "/rides/nearby", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&gets))

	_, err = client.Post(context.Background(), "/rides/r1/accept", nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, time.Second).Post(context.Background(), "/x", nil, nil)
	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
}

func TestPostWithIdempotencyKey(t *testing.T) {
	var key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.PostWithIdempotency(context.Background(), "/x", nil, nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	_, err = client.PostWithIdempotency(context.Background(), "/x", nil, nil, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", key)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/rides/:id/accept", routeLabel("/rides/550e8400-e29b-41d4-a716-446655440000/accept"))
	assert.Equal(t, "/driver/trips", routeLabel("/driver/trips?page=2"))
	assert.Equal(t, "/deliveries/:id", routeLabel("/deliveries/42"))
}
