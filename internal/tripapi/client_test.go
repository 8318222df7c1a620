package tripapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richxcame/driver-agent/internal/navigation"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ trips.RemoteAPI       = (*Client)(nil)
	_ trips.CandidateSource = (*Client)(nil)
	_ navigation.Reporter   = (*Client)(nil)
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	idem   string
	body   map[string]interface{}
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			idem:   r.Header.Get("Idempotency-Key"),
		}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		calls = append(calls, rec)
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL, 2*time.Second, func() string { return "tok" }), &calls
}

func TestListNearbyUnwrapsEnvelope(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[
			{"id":"r1","status":"pending","pickup_latitude":1,"pickup_longitude":2},
			{"id":"d1","type":"delivery","pickup_location":{"coordinates":{"lat":3,"lng":4}}},
			{"status":"pending"}
		]}`))
	})

	list, err := client.ListNearby(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, trips.KindRide, list[0].Kind)
	assert.Equal(t, trips.KindDelivery, list[1].Kind)
	assert.Equal(t, "/api/v1/driver/requests/nearby", (*calls)[0].path)
	assert.Equal(t, "Bearer tok", (*calls)[0].auth)
}

func TestListActiveAcceptsBareArray(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"r9","status":"started"}]`))
	})

	list, err := client.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, trips.StatusStarted, list[0].Status)
}

func TestAcceptRoutesByKind(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"d1","status":"accepted"}}`))
	})

	trip, err := client.Accept(context.Background(), trips.Ref{ID: "d1", Kind: trips.KindDelivery})
	require.NoError(t, err)
	assert.Equal(t, trips.KindDelivery, trip.Kind)
	assert.Equal(t, trips.StatusAccepted, trip.Status)

	call := (*calls)[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/api/v1/driver/deliveries/d1/accept", call.path)
	assert.Equal(t, "accept-d1", call.idem)
}

func TestAcceptEmptyBodyReturnsNil(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	trip, err := client.Accept(context.Background(), trips.Ref{ID: "r1", Kind: trips.KindRide})
	require.NoError(t, err)
	assert.Nil(t, trip)
}

func TestAcceptConflictSurfacesMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":409,"message":"ride already taken"}}`))
	})

	_, err := client.Accept(context.Background(), trips.Ref{ID: "r1", Kind: trips.KindRide})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, "ride already taken", common.MessageOf(err))
}

func TestUpdateStatusPayload(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"d1","status":"delivered"}}`))
	})

	rating := 5
	trip, err := client.UpdateStatus(context.Background(), trips.Ref{ID: "d1", Kind: trips.KindDelivery}, trips.StatusUpdate{
		Status:      trips.StatusDelivered,
		Location:    &geo.Point{Lat: 1.5, Lng: 2.5},
		Rating:      &rating,
		DeliveryPIN: "1234",
	})
	require.NoError(t, err)
	assert.Equal(t, trips.StatusDelivered, trip.Status)

	call := (*calls)[0]
	assert.Equal(t, "/api/v1/driver/deliveries/d1/status", call.path)
	assert.Equal(t, "delivered", call.body["status"])
	assert.Equal(t, 1.5, call.body["latitude"])
	assert.Equal(t, 2.5, call.body["longitude"])
	assert.Equal(t, float64(5), call.body["rating"])
	assert.Equal(t, "1234", call.body["delivery_pin"])
}

func TestUpdateStatusOmitsAbsentFields(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"r1","status":"arrived"}`))
	})

	_, err := client.UpdateStatus(context.Background(), trips.Ref{ID: "r1", Kind: trips.KindRide}, trips.StatusUpdate{Status: trips.StatusArrived})
	require.NoError(t, err)

	body := (*calls)[0].body
	assert.Equal(t, "arrived", body["status"])
	assert.NotContains(t, body, "latitude")
	assert.NotContains(t, body, "rating")
	assert.NotContains(t, body, "delivery_pin")
}

func TestWritesAreNotRetried(t *testing.T) {
	var hits int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := client.Cancel(context.Background(), trips.Ref{ID: "r1", Kind: trips.KindRide}, "rider no-show")
	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestUnauthorizedFiresCallback(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
	})
	var fired int32
	client.OnUnauthorized(func() { atomic.AddInt32(&fired, 1) })

	err := client.Decline(context.Background(), trips.Ref{ID: "r1", Kind: trips.KindRide}, "")
	require.Error(t, err)
	assert.True(t, common.IsAuthError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestDeclineSendsReason(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	require.NoError(t, client.Decline(context.Background(), trips.Ref{ID: "r1", Kind: trips.KindRide}, "too far"))
	assert.Equal(t, "/api/v1/driver/rides/r1/decline", (*calls)[0].path)
	assert.Equal(t, "too far", (*calls)[0].body["reason"])
}

func TestReportLocation(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	speed := 8.0
	err := client.ReportLocation(context.Background(), navigation.Report{
		TripID:    "r1",
		Lat:       -26.1,
		Lng:       28.05,
		Speed:     &speed,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Cell:      "89bc1ab0003ffff",
	})
	require.NoError(t, err)

	body := (*calls)[0].body
	assert.Equal(t, "/api/v1/driver/location", (*calls)[0].path)
	assert.Equal(t, -26.1, body["latitude"])
	assert.Equal(t, 8.0, body["speed"])
	assert.Equal(t, "r1", body["trip_id"])
	assert.Equal(t, "89bc1ab0003ffff", body["h3_cell"])
	assert.Equal(t, "2024-05-01T12:00:00Z", body["timestamp"])
	assert.NotContains(t, body, "heading")
}

func TestDriverStatsAndEarnings(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/driver/stats":
			_, _ = w.Write([]byte(`{"success":true,"data":{"total_trips":120,"rating":4.8,"today_earnings":350}}`))
		case "/api/v1/driver/earnings":
			_, _ = w.Write([]byte(`{"success":true,"data":{"total":1200,"trips":14,"breakdown":[{"date":"2024-05-01","amount":300,"trips":4}]}}`))
		}
	})

	stats, err := client.DriverStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, stats.TotalTrips)
	assert.Equal(t, 4.8, stats.Rating)

	earnings, err := client.Earnings(context.Background(), PeriodWeek)
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, earnings.Period)
	assert.Equal(t, 1200.0, earnings.Total)
	require.Len(t, earnings.Breakdown, 1)
	assert.Equal(t, "period=week", (*calls)[1].query)

	_, err = client.Earnings(context.Background(), "decade")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Len(t, *calls, 2)
}

func TestTripHistoryPagination(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":"r1","status":"completed"}],"meta":{"page":2,"per_page":20,"total":41}}`))
	})

	page, err := client.TripHistory(context.Background(), 2, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 20, page.PerPage)
	assert.Equal(t, int64(41), page.Total)
	require.Len(t, page.Trips, 1)
	assert.Equal(t, "page=2&per_page=20", (*calls)[0].query)
}

func TestSetAvailability(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	require.NoError(t, client.SetAvailability(context.Background(), false))
	assert.Equal(t, http.MethodPut, (*calls)[0].method)
	assert.Equal(t, false, (*calls)[0].body["is_available"])
}

func TestLogin(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"access_token":"jwt","user":{"id":"u1","first_name":"Sipho","last_name":"N"}}}`))
	})

	session, err := client.Login(context.Background(), "d@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt", session.Token)
	assert.Equal(t, "u1", session.DriverID)
	assert.Equal(t, "Sipho N", session.Name)
	assert.Equal(t, "d@example.com", (*calls)[0].body["email"])
}

func TestLoginWithoutTokenIsMalformed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"user":{"id":"u1"}}}`))
	})

	_, err := client.Login(context.Background(), "d@example.com", "secret")
	assert.ErrorIs(t, err, common.ErrMalformedResponse)
}
