package location

import (
	"context"
	"time"

	"github.com/richxcame/driver-agent/pkg/geo"
)

// Sample is one position fix
type Sample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the sample's coordinates.
func (s Sample) Point() geo.Point {
	return geo.Point{Lat: s.Lat, Lng: s.Lng}
}

// SpeedMps returns the reported speed or zero.
func (s Sample) SpeedMps() float64 {
	if s.Speed == nil || *s.Speed < 0 {
		return 0
	}
	return *s.Speed
}

// WatchID identifies a position watch
type WatchID int

// WatchFunc receives either a sample or an error such as a permission denial.
type WatchFunc func(Sample, error)

// Provider is the device geolocation capability
type Provider interface {
	// CurrentPosition returns a single fix. It fails on denied permission
	// or when ctx expires first.
	CurrentPosition(ctx context.Context) (Sample, error)
	Watch(fn WatchFunc) (WatchID, error)
	ClearWatch(id WatchID)
}
