package navigation

import (
	"context"
	"time"

	"github.com/richxcame/driver-agent/internal/location"
	"github.com/richxcame/driver-agent/internal/routing"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/config"
	"github.com/richxcame/driver-agent/pkg/geo"
)

// Config holds the reconciler thresholds
type Config struct {
	ArrivalThresholdMeters float64
	UIMinDistanceMeters    float64
	UIMinInterval          time.Duration
	RemoteMinInterval      time.Duration
	ArrivalCheckInterval   time.Duration
	ArrivalGraceDelay      time.Duration
	RouteRecalcMeters      float64
	RouteRecalcInterval    time.Duration
	ArrivedEscalation      time.Duration
	DestinationEscalation  time.Duration
}

// DefaultConfig returns the thresholds the agent ships with.
func DefaultConfig() Config {
	return Config{
		ArrivalThresholdMeters: 30,
		UIMinDistanceMeters:    5,
		UIMinInterval:          2 * time.Second,
		RemoteMinInterval:      10 * time.Second,
		ArrivalCheckInterval:   5 * time.Second,
		ArrivalGraceDelay:      3 * time.Second,
		RouteRecalcMeters:      50,
		RouteRecalcInterval:    30 * time.Second,
		ArrivedEscalation:      30 * time.Second,
		DestinationEscalation:  45 * time.Second,
	}
}

// ConfigFrom maps the loaded configuration onto reconciler thresholds.
func ConfigFrom(nav config.NavigationConfig, trip config.TripConfig) Config {
	return Config{
		ArrivalThresholdMeters: nav.ArrivalThresholdMeters,
		UIMinDistanceMeters:    nav.UIMinDistanceMeters,
		UIMinInterval:          nav.UIMinInterval,
		RemoteMinInterval:      nav.RemoteMinInterval,
		ArrivalCheckInterval:   nav.ArrivalCheckInterval,
		ArrivalGraceDelay:      trip.ArrivalGraceDelay,
		RouteRecalcMeters:      nav.RouteRecalcMeters,
		RouteRecalcInterval:    nav.RouteRecalcInterval,
		ArrivedEscalation:      trip.ArrivedEscalation,
		DestinationEscalation:  trip.DestinationEscalation,
	}
}

// UpdateKind identifies what a navigation update carries
type UpdateKind string

const (
	UpdateLocation  UpdateKind = "location"
	UpdateArrival   UpdateKind = "arrival"
	UpdateProximity UpdateKind = "proximity"
	UpdateRoute     UpdateKind = "route"
)

// Proximity bands, emitted once per band and phase for a trip
const (
	BandNear     = "near"
	BandArriving = "arriving"

	nearMeters     = 500.0
	arrivingMeters = 100.0
)

// Update is published to subscribers for the shell
type Update struct {
	Kind           UpdateKind       `json:"kind"`
	TripID         string           `json:"trip_id,omitempty"`
	Phase          string           `json:"phase,omitempty"`
	Location       *location.Sample `json:"location,omitempty"`
	Target         *geo.Point       `json:"target,omitempty"`
	DistanceMeters *float64         `json:"distance_meters,omitempty"`
	ETAMinutes     *int             `json:"eta_minutes,omitempty"`
	Band           string           `json:"band,omitempty"`
	Route          *routing.Route   `json:"route,omitempty"`
}

// View is the current navigation state
type View struct {
	TripID               string           `json:"trip_id,omitempty"`
	Phase                string           `json:"phase"`
	Location             *location.Sample `json:"location,omitempty"`
	Target               *geo.Point       `json:"target,omitempty"`
	DistanceMeters       *float64         `json:"distance_meters,omitempty"`
	ETAMinutes           *int             `json:"eta_minutes,omitempty"`
	ArrivedAtPickup      bool             `json:"arrived_at_pickup"`
	ArrivedAtDestination bool             `json:"arrived_at_destination"`
	Route                *routing.Route   `json:"route,omitempty"`
}

// Report is an outbound location update
type Report struct {
	TripID    string    `json:"trip_id,omitempty"`
	Lat       float64   `json:"latitude"`
	Lng       float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Cell      string    `json:"h3_cell,omitempty"`
}

// Advancer moves the active trip forward; the trip orchestrator implements it.
type Advancer interface {
	AdvanceStatus(ctx context.Context, status trips.Status, opts ...trips.AdvanceOption) (*trips.UnifiedRequest, error)
}

// SpeedSource smooths the driver's speed over recent samples for ETAs. The
// location tracker's history implements it.
type SpeedSource interface {
	AverageSpeed() float64
}

// Reporter delivers throttled location reports to the backend.
type Reporter interface {
	ReportLocation(ctx context.Context, report Report) error
}

// Router computes directions to the current target.
type Router interface {
	Directions(ctx context.Context, origin, destination geo.Point) (*routing.Route, error)
}
