package trips

import (
	"testing"

	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/stretchr/testify/assert"
)

func TestStatusPhase(t *testing.T) {
	tests := []struct {
		status Status
		phase  Phase
	}{
		{StatusPending, PhaseNone},
		{StatusAccepted, PhaseToPickup},
		{StatusArrived, PhaseToPickup},
		{StatusStarted, PhaseToDestination},
		{StatusInProgress, PhaseToDestination},
		{StatusPickupConfirmed, PhaseToDestination},
		{StatusArrivedAtDestination, PhaseNone},
		{StatusCompleted, PhaseNone},
		{StatusDelivered, PhaseNone},
		{StatusCancelled, PhaseNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.phase, tt.status.Phase(), string(tt.status))
	}
}

func TestStatusRankAndTerminal(t *testing.T) {
	assert.Less(t, StatusAccepted.Rank(), StatusArrived.Rank())
	assert.Less(t, StatusArrived.Rank(), StatusStarted.Rank())
	assert.Less(t, StatusInProgress.Rank(), StatusArrivedAtDestination.Rank())
	assert.Less(t, StatusArrivedAtDestination.Rank(), StatusCompleted.Rank())
	assert.Equal(t, -1, Status("bogus").Rank())

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusDelivered.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusArrivedAtDestination.IsTerminal())

	assert.Equal(t, StatusCompleted, CompletionStatus(KindRide))
	assert.Equal(t, StatusDelivered, CompletionStatus(KindDelivery))
	assert.Equal(t, StatusStarted, PickupStatus(KindRide))
	assert.Equal(t, StatusPickupConfirmed, PickupStatus(KindDelivery))
}

func TestTarget(t *testing.T) {
	pickup := &geo.Point{Lat: 1, Lng: 1}
	dropoff := &geo.Point{Lat: 2, Lng: 2}
	req := &UnifiedRequest{ID: "r1", Pickup: Place{Coordinates: pickup}, Dropoff: Place{Coordinates: dropoff}}

	req.Status = StatusAccepted
	assert.Equal(t, pickup, req.Target())
	req.Status = StatusStarted
	assert.Equal(t, dropoff, req.Target())
	req.Status = StatusArrivedAtDestination
	assert.Nil(t, req.Target())

	req.Status = StatusAccepted
	req.Pickup.Coordinates = nil
	assert.Nil(t, req.Target(), "address-only pickup has no target")

	var none *UnifiedRequest
	assert.Nil(t, none.Target())
}

func TestCloneIsDeep(t *testing.T) {
	orig := &UnifiedRequest{
		ID:           "r1",
		Pickup:       Place{Coordinates: &geo.Point{Lat: 1, Lng: 1}},
		Counterparty: &Counterparty{Name: "A"},
	}
	c := orig.Clone()
	c.Pickup.Coordinates.Lat = 9
	c.Counterparty.Name = "B"

	assert.Equal(t, 1.0, orig.Pickup.Coordinates.Lat)
	assert.Equal(t, "A", orig.Counterparty.Name)
}
