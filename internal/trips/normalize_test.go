package trips

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRideShape(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "r1",
		"status": "accepted",
		"pickup_latitude": -26.10, "pickup_longitude": 28.05, "pickup_address": "Rosebank",
		"dropoff_latitude": "-26.20", "dropoff_longitude": "28.02", "dropoff_address": "Braamfontein",
		"rider": {"first_name": "Thandi", "last_name": "M", "phone_number": "+27110000000", "rating": 4.9},
		"estimated_fare": 85.5, "estimated_distance": 12.4, "estimated_duration": 22, "currency": "ZAR"
	}`)

	req, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "r1", req.ID)
	assert.Equal(t, KindRide, req.Kind)
	assert.Equal(t, StatusAccepted, req.Status)
	assert.Equal(t, &geo.Point{Lat: -26.10, Lng: 28.05}, req.Pickup.Coordinates)
	assert.Equal(t, &geo.Point{Lat: -26.20, Lng: 28.02}, req.Dropoff.Coordinates)
	assert.Equal(t, "Braamfontein", req.Dropoff.Address)
	assert.Equal(t, &Counterparty{Name: "Thandi M", Phone: "+27110000000", Rating: 4.9}, req.Counterparty)
	assert.Equal(t, Pricing{EstimatedFare: 85.5, Currency: "ZAR", DistanceKm: 12.4, DurationMin: 22}, req.Pricing)
	assert.Empty(t, req.DeliveryPIN)
}

func TestNormalizeDeliveryShape(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 42,
		"status": "pickup_confirmed",
		"pickup_location": {"address": "Shop 4", "coordinates": {"lat": -26.1, "lng": 28.0}},
		"dropoff_location": {"address": "12 Oak Ave"},
		"customer": {"name": "", "phone": "082"},
		"delivery_fee": 35,
		"delivery_pin": 1234
	}`)

	req, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "42", req.ID)
	assert.Equal(t, KindDelivery, req.Kind)
	assert.Equal(t, StatusPickupConfirmed, req.Status)
	assert.Equal(t, &geo.Point{Lat: -26.1, Lng: 28.0}, req.Pickup.Coordinates)
	assert.Nil(t, req.Dropoff.Coordinates)
	assert.Equal(t, "12 Oak Ave", req.Dropoff.Address)
	assert.Equal(t, "Customer", req.Counterparty.Name)
	assert.Equal(t, 35.0, req.Pricing.EstimatedFare)
	assert.Equal(t, "1234", req.DeliveryPIN)
}

func TestNormalizeToleratesMissingFields(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		kind     Kind
		status   Status
		party    string
		noPickup bool
	}{
		{"bare ride", `{"id":"a"}`, KindRide, "", "Rider", true},
		{"unknown status", `{"id":"a","status":"teleporting"}`, KindRide, "", "Rider", true},
		{"half coordinates", `{"id":"a","pickup_latitude":1.5}`, KindRide, "", "Rider", true},
		{"zero coordinates", `{"id":"a","pickup_latitude":0,"pickup_longitude":0}`, KindRide, "", "Rider", true},
		{"out of range", `{"id":"a","pickup_latitude":91,"pickup_longitude":0}`, KindRide, "", "Rider", true},
		{"null rider", `{"id":"a","rider":null,"status":"STARTED"}`, KindRide, StatusStarted, "Rider", true},
		{"explicit delivery", `{"id":"a","type":"delivery"}`, KindDelivery, "", "Customer", true},
		{"delivery by shape", `{"id":"a","customer":{"name":"Sipho"}}`, KindDelivery, "", "Sipho", true},
		{"garbage number", `{"id":"a","estimated_fare":"n/a"}`, KindRide, "", "Rider", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Normalize(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, req.Kind)
			assert.Equal(t, tt.status, req.Status)
			require.NotNil(t, req.Counterparty)
			assert.Equal(t, tt.party, req.Counterparty.Name)
			if tt.noPickup {
				assert.Nil(t, req.Pickup.Coordinates)
			}
		})
	}
}

func TestNormalizeToleratesBadTimestamps(t *testing.T) {
	req, err := Normalize(json.RawMessage(`{"id":"a","status":"pending","expires_at":"soon","updated_at":{"nested":true}}`))
	require.NoError(t, err)
	assert.Nil(t, req.ExpiresAt)
	assert.True(t, req.UpdatedAt.IsZero())
	assert.Equal(t, StatusPending, req.Status)

	req, err = Normalize(json.RawMessage(`{"id":"a","expires_at":"2026-03-01T10:00:30Z","updated_at":1772359200000}`))
	require.NoError(t, err)
	require.NotNil(t, req.ExpiresAt)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC), req.ExpiresAt.UTC())
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), req.UpdatedAt)

	req, err = Normalize(json.RawMessage(`{"id":"a","expires_at":null,"updated_at":1772359200}`))
	require.NoError(t, err)
	assert.Nil(t, req.ExpiresAt)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), req.UpdatedAt)
}

func TestNormalizeErrors(t *testing.T) {
	for _, raw := range []string{`{}`, `{"id":""}`, `{"id":null}`, `not json`, `[]`} {
		_, err := Normalize(json.RawMessage(raw))
		assert.ErrorIs(t, err, common.ErrMalformedResponse, raw)
	}
}

func TestNormalizeList(t *testing.T) {
	list, err := NormalizeList(json.RawMessage(`[{"id":"a"},{"status":"pending"},{"id":"b","delivery_pin":"0001"}]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, KindDelivery, list[1].Kind)

	list, err = NormalizeList(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = NormalizeList(json.RawMessage(`{"id":"a"}`))
	assert.ErrorIs(t, err, common.ErrMalformedResponse)
}
