package routing

import (
	"context"
	"time"

	"github.com/richxcame/driver-agent/pkg/geo"
)

// Step is one maneuver of a route leg
type Step struct {
	Instruction     string    `json:"instruction"`
	Maneuver        string    `json:"maneuver,omitempty"`
	DistanceMeters  int       `json:"distance_meters"`
	DurationSeconds int       `json:"duration_seconds"`
	Start           geo.Point `json:"start"`
	End             geo.Point `json:"end"`
}

// Leg is the part of a route between two waypoints
type Leg struct {
	DistanceMeters  int    `json:"distance_meters"`
	DurationSeconds int    `json:"duration_seconds"`
	Steps           []Step `json:"steps"`
}

// Route is an ordered sequence of legs from origin to destination
type Route struct {
	Origin          geo.Point `json:"origin"`
	Destination     geo.Point `json:"destination"`
	Legs            []Leg     `json:"legs"`
	DistanceMeters  int       `json:"distance_meters"`
	DurationSeconds int       `json:"duration_seconds"`
	Polyline        string    `json:"polyline,omitempty"`
	Provider        string    `json:"provider"`
	CacheHit        bool      `json:"cache_hit"`
	RequestedAt     time.Time `json:"requested_at"`
}

// Steps flattens every leg's steps in order.
func (r *Route) Steps() []Step {
	var steps []Step
	for _, leg := range r.Legs {
		steps = append(steps, leg.Steps...)
	}
	return steps
}

// Provider is a directions backend
type Provider interface {
	Directions(ctx context.Context, origin, destination geo.Point) (*Route, error)
	Name() string
}
