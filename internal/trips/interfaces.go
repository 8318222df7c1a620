package trips

import (
	"context"

	"github.com/richxcame/driver-agent/pkg/geo"
)

// Ref identifies a trip on the backend. Rides and deliveries live under
// different endpoints, so the kind travels with the id.
type Ref struct {
	ID   string
	Kind Kind
}

// StatusUpdate is the body of a remote status change
type StatusUpdate struct {
	Status      Status
	Location    *geo.Point
	Rating      *int
	DeliveryPIN string
}

// RemoteAPI is the subset of the backend the orchestrator drives
type RemoteAPI interface {
	Accept(ctx context.Context, ref Ref) (*UnifiedRequest, error)
	Decline(ctx context.Context, ref Ref, reason string) error
	UpdateStatus(ctx context.Context, ref Ref, update StatusUpdate) (*UnifiedRequest, error)
	Cancel(ctx context.Context, ref Ref, reason string) error
	ListActive(ctx context.Context) ([]*UnifiedRequest, error)
}

// CandidateSource lists requests near the driver
type CandidateSource interface {
	ListNearby(ctx context.Context) ([]*UnifiedRequest, error)
}
