package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/middleware"
	"github.com/richxcame/driver-agent/pkg/resilience"
)

// TokenSource returns the bearer token to attach to a request. An empty
// token sends the request unauthenticated.
type TokenSource func() string

// Client wraps http.Client with JSON helpers, bearer auth and retry for reads.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       TokenSource
	retryConfig *resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	userAgent   string
}

// Option configures the HTTP client
type Option func(*Client)

// WithRetry enables retry logic for GET requests with the given configuration
func WithRetry(config resilience.RetryConfig) Option {
	if config.RetryableChecker == nil {
		config.RetryableChecker = isHTTPRetryable
	}
	return func(c *Client) {
		c.retryConfig = &config
	}
}

// WithDefaultRetry enables default retry configuration for GET requests
func WithDefaultRetry() Option {
	return WithRetry(resilience.DefaultRetryConfig())
}

// WithTokenSource attaches a bearer token to every request.
func WithTokenSource(src TokenSource) Option {
	return func(c *Client) {
		c.token = src
	}
}

// WithBreaker routes every request through the breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithHTTPClient replaces the underlying http.Client (tests, custom transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a new HTTP client
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Get makes a GET request. GETs are the only calls retried automatically.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	if c.retryConfig != nil {
		result, err := resilience.RetryWithName(ctx, *c.retryConfig, func(ctx context.Context) (interface{}, error) {
			return c.do(ctx, http.MethodGet, path, nil, headers)
		}, "GET "+routeLabel(path))
		if err != nil {
			return nil, err
		}
		return result.([]byte), nil
	}
	return c.do(ctx, http.MethodGet, path, nil, headers)
}

// Post makes a POST request with JSON body. It is never retried.
func (c *Client) Post(ctx context.Context, path string, body interface{}, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body, headers)
}

// Put makes a PUT request with JSON body. It is never retried.
func (c *Client) Put(ctx context.Context, path string, body interface{}, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPut, path, body, headers)
}

// PostWithIdempotency makes a POST request with an idempotency key so the
// backend can drop a duplicate if the driver retries by hand.
func (c *Client) PostWithIdempotency(ctx context.Context, path string, body interface{}, headers map[string]string, idempotencyKey string) ([]byte, error) {
	merged := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		merged[k] = v
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}
	merged["Idempotency-Key"] = idempotencyKey
	return c.Post(ctx, path, body, merged)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string) ([]byte, error) {
	if c.breaker == nil {
		return c.send(ctx, method, path, body, headers)
	}
	result, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.send(ctx, method, path, body, headers)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, common.NewNetworkError("service temporarily unavailable", err)
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, headers map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	injectCorrelationID(ctx, req)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, common.NewNetworkError("could not reach server", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewNetworkError("connection interrupted", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Message:    extractMessage(respBody, resp.StatusCode),
		}
	}

	return respBody, nil
}

// HTTPError represents a non-2xx response from the backend
type HTTPError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus exposes the status code to the circuit breaker.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// Is maps status codes onto the shared error taxonomy so callers can use errors.Is.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case common.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case common.ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case common.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case common.ErrConflict:
		return e.StatusCode == http.StatusConflict
	case common.ErrNetwork:
		return e.StatusCode == http.StatusBadGateway || e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusGatewayTimeout
	}
	return false
}

// AsAppError converts err into an AppError carrying the backend's message.
// Errors that already are AppErrors pass through unchanged.
func AsAppError(err error, fallbackMessage string) error {
	if err == nil {
		return nil
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		msg := httpErr.Message
		if msg == "" {
			msg = fallbackMessage
		}
		return &common.AppError{Code: httpErr.StatusCode, ErrorCode: errorCodeFor(httpErr.StatusCode), Message: msg, Err: httpErr}
	}
	return common.NewInternalError(fallbackMessage, err)
}

func errorCodeFor(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status >= 500:
		return "server_error"
	default:
		return "request_failed"
	}
}

// extractMessage pulls a human readable message out of the backend error
// payload. Both {"error":{"message":...}} and {"message":...} are in use.
func extractMessage(body []byte, status int) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var plain string
			if json.Unmarshal(payload.Error, &plain) == nil && plain != "" {
				return plain
			}
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return http.StatusText(status)
}

// isHTTPRetryable determines if an HTTP error is retryable
func isHTTPRetryable(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return resilience.IsRetryableHTTPStatus(httpErr.StatusCode)
	}

	return common.IsTransient(err)
}

// routeLabel strips ids and query strings so metric labels stay bounded.
func routeLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if _, err := uuid.Parse(p); err == nil || isNumeric(p) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func injectCorrelationID(ctx context.Context, req *http.Request) {
	if ctx == nil || req == nil {
		return
	}

	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		req.Header.Set(middleware.CorrelationIDHeader, correlationID)
	}
}
