package tripapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/richxcame/driver-agent/internal/navigation"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/httpclient"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	tracerName  = "tripapi"
	serviceName = "backend"
	apiPrefix   = "/api/v1"
)

// Client talks to the remote trip backend. Reads are retried and go
// through the breaker; state-changing calls are sent once.
type Client struct {
	http *httpclient.Client

	mu             sync.RWMutex
	onUnauthorized func()
}

// NewClient creates a backend client. tokens supplies the bearer token for
// each request.
func NewClient(baseURL string, timeout time.Duration, tokens httpclient.TokenSource, opts ...httpclient.Option) *Client {
	options := append([]httpclient.Option{
		httpclient.WithTokenSource(tokens),
		httpclient.WithDefaultRetry(),
		httpclient.WithUserAgent("driver-agent"),
	}, opts...)
	return &Client{http: httpclient.NewClient(baseURL, timeout, options...)}
}

// OnUnauthorized registers the callback fired whenever the backend rejects
// the session token.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

// ListNearby returns the open requests the backend offers this driver.
func (c *Client) ListNearby(ctx context.Context) ([]*trips.UnifiedRequest, error) {
	var list []*trips.UnifiedRequest
	err := c.trace(ctx, "ListNearby", nil, func(ctx context.Context) error {
		body, err := c.http.Get(ctx, apiPrefix+"/driver/requests/nearby", nil)
		if err != nil {
			return c.fail(err, "Could not load nearby requests")
		}
		data, err := unwrap(body)
		if err != nil {
			return err
		}
		list, err = trips.NormalizeList(data)
		return err
	})
	return list, err
}

// Accept accepts a ride or delivery request.
func (c *Client) Accept(ctx context.Context, ref trips.Ref) (*trips.UnifiedRequest, error) {
	var trip *trips.UnifiedRequest
	err := c.trace(ctx, "Accept", tracing.TripAttributes(ref.ID, string(ref.Kind), ""), func(ctx context.Context) error {
		body, err := c.http.PostWithIdempotency(ctx, tripPath(ref, "accept"), nil, nil, "accept-"+ref.ID)
		if err != nil {
			return c.fail(err, "Could not accept the request")
		}
		trip, err = decodeTrip(body, ref)
		return err
	})
	return trip, err
}

// Decline declines a request.
func (c *Client) Decline(ctx context.Context, ref trips.Ref, reason string) error {
	return c.trace(ctx, "Decline", tracing.TripAttributes(ref.ID, string(ref.Kind), ""), func(ctx context.Context) error {
		payload := map[string]string{}
		if reason != "" {
			payload["reason"] = reason
		}
		if _, err := c.http.Post(ctx, tripPath(ref, "decline"), payload, nil); err != nil {
			return c.fail(err, "Could not decline the request")
		}
		return nil
	})
}

type statusPayload struct {
	Status      string   `json:"status"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Rating      *int     `json:"rating,omitempty"`
	DeliveryPIN string   `json:"delivery_pin,omitempty"`
}

// UpdateStatus moves a trip to a new status and returns the server's record.
func (c *Client) UpdateStatus(ctx context.Context, ref trips.Ref, update trips.StatusUpdate) (*trips.UnifiedRequest, error) {
	var trip *trips.UnifiedRequest
	attrs := tracing.TripAttributes(ref.ID, string(ref.Kind), string(update.Status))
	err := c.trace(ctx, "UpdateStatus", attrs, func(ctx context.Context) error {
		payload := statusPayload{
			Status:      string(update.Status),
			Rating:      update.Rating,
			DeliveryPIN: update.DeliveryPIN,
		}
		if update.Location != nil {
			lat, lng := update.Location.Lat, update.Location.Lng
			payload.Latitude, payload.Longitude = &lat, &lng
		}
		body, err := c.http.Post(ctx, tripPath(ref, "status"), payload, nil)
		if err != nil {
			return c.fail(err, "Could not update the trip status")
		}
		trip, err = decodeTrip(body, ref)
		return err
	})
	return trip, err
}

// Cancel cancels a trip.
func (c *Client) Cancel(ctx context.Context, ref trips.Ref, reason string) error {
	return c.trace(ctx, "Cancel", tracing.TripAttributes(ref.ID, string(ref.Kind), ""), func(ctx context.Context) error {
		payload := map[string]string{}
		if reason != "" {
			payload["reason"] = reason
		}
		if _, err := c.http.Post(ctx, tripPath(ref, "cancel"), payload, nil); err != nil {
			return c.fail(err, "Could not cancel the trip")
		}
		return nil
	})
}

// ListActive returns the driver's trips the backend still considers open.
func (c *Client) ListActive(ctx context.Context) ([]*trips.UnifiedRequest, error) {
	var list []*trips.UnifiedRequest
	err := c.trace(ctx, "ListActive", nil, func(ctx context.Context) error {
		body, err := c.http.Get(ctx, apiPrefix+"/driver/trips/active", nil)
		if err != nil {
			return c.fail(err, "Could not load active trips")
		}
		data, err := unwrap(body)
		if err != nil {
			return err
		}
		list, err = trips.NormalizeList(data)
		return err
	})
	return list, err
}

// DriverStats returns the dashboard summary.
func (c *Client) DriverStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := c.trace(ctx, "DriverStats", nil, func(ctx context.Context) error {
		return c.getJSON(ctx, apiPrefix+"/driver/stats", &stats, "Could not load stats")
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Earnings returns the earnings summary for period.
func (c *Client) Earnings(ctx context.Context, period string) (*Earnings, error) {
	if !ValidPeriod(period) {
		return nil, common.NewValidationError(fmt.Sprintf("unknown earnings period %q", period))
	}
	var earnings Earnings
	err := c.trace(ctx, "Earnings", []attribute.KeyValue{attribute.String("period", period)}, func(ctx context.Context) error {
		path := apiPrefix + "/driver/earnings?" + url.Values{"period": {period}}.Encode()
		return c.getJSON(ctx, path, &earnings, "Could not load earnings")
	})
	if err != nil {
		return nil, err
	}
	if earnings.Period == "" {
		earnings.Period = period
	}
	return &earnings, nil
}

// TripHistory returns one page of past trips.
func (c *Client) TripHistory(ctx context.Context, page, perPage int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	result := &HistoryPage{Page: page, PerPage: perPage}
	err := c.trace(ctx, "TripHistory", nil, func(ctx context.Context) error {
		params := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(perPage)}}
		body, err := c.http.Get(ctx, apiPrefix+"/driver/trips/history?"+params.Encode(), nil)
		if err != nil {
			return c.fail(err, "Could not load trip history")
		}
		var env struct {
			Data json.RawMessage `json:"data"`
			Meta *common.Meta    `json:"meta"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return malformed(err)
		}
		if result.Trips, err = trips.NormalizeList(env.Data); err != nil {
			return err
		}
		if env.Meta != nil {
			result.Total = env.Meta.Total
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetAvailability tells the backend whether the driver takes new requests.
func (c *Client) SetAvailability(ctx context.Context, available bool) error {
	return c.trace(ctx, "SetAvailability", nil, func(ctx context.Context) error {
		payload := map[string]bool{"is_available": available}
		if _, err := c.http.Put(ctx, apiPrefix+"/driver/availability", payload, nil); err != nil {
			return c.fail(err, "Could not update availability")
		}
		return nil
	})
}

type locationPayload struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Timestamp string   `json:"timestamp"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	TripID    string   `json:"trip_id,omitempty"`
	H3Cell    string   `json:"h3_cell,omitempty"`
}

// ReportLocation sends a throttled location report.
func (c *Client) ReportLocation(ctx context.Context, report navigation.Report) error {
	return c.trace(ctx, "UpdateLocation", tracing.LocationAttributes(report.Lat, report.Lng), func(ctx context.Context) error {
		payload := locationPayload{
			Latitude:  report.Lat,
			Longitude: report.Lng,
			Timestamp: report.Timestamp.UTC().Format(time.RFC3339Nano),
			Accuracy:  report.Accuracy,
			Speed:     report.Speed,
			Heading:   report.Heading,
			TripID:    report.TripID,
			H3Cell:    report.Cell,
		}
		if _, err := c.http.Post(ctx, apiPrefix+"/driver/location", payload, nil); err != nil {
			return c.fail(err, "Could not send location")
		}
		return nil
	})
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	err := c.trace(ctx, "Login", nil, func(ctx context.Context) error {
		payload := map[string]string{"email": email, "password": password}
		body, err := c.http.Post(ctx, apiPrefix+"/auth/login", payload, nil)
		if err != nil {
			return httpclient.AsAppError(err, "Login failed")
		}
		data, err := unwrap(body)
		if err != nil {
			return err
		}
		var raw struct {
			Token       string `json:"token"`
			AccessToken string `json:"access_token"`
			User        struct {
				ID        string `json:"id"`
				FirstName string `json:"first_name"`
				LastName  string `json:"last_name"`
			} `json:"user"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return malformed(err)
		}
		session.Token = raw.Token
		if session.Token == "" {
			session.Token = raw.AccessToken
		}
		if session.Token == "" {
			return malformed(fmt.Errorf("login response has no token"))
		}
		session.DriverID = raw.User.ID
		session.Name = joinName(raw.User.FirstName, raw.User.LastName)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Logout invalidates the session on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.trace(ctx, "Logout", nil, func(ctx context.Context) error {
		if _, err := c.http.Post(ctx, apiPrefix+"/auth/logout", nil, nil); err != nil {
			return httpclient.AsAppError(err, "Logout failed")
		}
		return nil
	})
}

// RegisterPushToken stores the device push token for this driver.
func (c *Client) RegisterPushToken(ctx context.Context, token, platform string) error {
	return c.trace(ctx, "RegisterPushToken", nil, func(ctx context.Context) error {
		payload := map[string]string{"token": token, "platform": platform}
		if _, err := c.http.Post(ctx, apiPrefix+"/driver/push-token", payload, nil); err != nil {
			return c.fail(err, "Could not register for notifications")
		}
		return nil
	})
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}, failMsg string) error {
	body, err := c.http.Get(ctx, path, nil)
	if err != nil {
		return c.fail(err, failMsg)
	}
	data, err := unwrap(body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return malformed(err)
	}
	return nil
}

func (c *Client) trace(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	return tracing.TraceExternalAPI(ctx, tracerName, serviceName, op, attrs, fn)
}

// fail converts a transport error into an AppError and fires the
// unauthorized callback when the token was rejected.
func (c *Client) fail(err error, msg string) error {
	if common.IsAuthError(err) {
		c.mu.RLock()
		fn := c.onUnauthorized
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	}
	return httpclient.AsAppError(err, msg)
}

func tripPath(ref trips.Ref, action string) string {
	collection := "rides"
	if ref.Kind == trips.KindDelivery {
		collection = "deliveries"
	}
	return fmt.Sprintf("%s/driver/%s/%s/%s", apiPrefix, collection, url.PathEscape(ref.ID), action)
}

// unwrap returns the data member of a {success,data,error} envelope, or
// the body itself when the endpoint does not use one.
func unwrap(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return trimmed, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, malformed(err)
	}
	if data, ok := env["data"]; ok {
		return data, nil
	}
	return trimmed, nil
}

// decodeTrip normalizes a single-trip response. An empty body yields nil so
// the caller keeps what it already knows. The endpoint decides the kind.
func decodeTrip(body []byte, ref trips.Ref) (*trips.UnifiedRequest, error) {
	data, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	trip, err := trips.Normalize(data)
	if err != nil {
		logger.Debug("unexpected trip payload", zap.String("trip_id", ref.ID), zap.Error(err))
		return nil, err
	}
	if ref.Kind != "" {
		trip.Kind = ref.Kind
	}
	return trip, nil
}

func malformed(err error) error {
	return common.NewAppError(http.StatusBadGateway, "Unexpected response from server", fmt.Errorf("%w: %v", common.ErrMalformedResponse, err))
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
