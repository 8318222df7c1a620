package trips

import (
	"time"

	"github.com/richxcame/driver-agent/pkg/geo"
)

// Kind distinguishes passenger rides from deliveries
type Kind string

const (
	KindRide     Kind = "ride"
	KindDelivery Kind = "delivery"
)

// Status represents the lifecycle status of a ride or delivery
type Status string

const (
	StatusPending              Status = "pending"
	StatusAccepted             Status = "accepted"
	StatusArrived              Status = "arrived"
	StatusPickupConfirmed      Status = "pickup_confirmed"
	StatusStarted              Status = "started"
	StatusInProgress           Status = "in_progress"
	StatusArrivedAtDestination Status = "arrived_at_destination"
	StatusCompleted            Status = "completed"
	StatusDelivered            Status = "delivered"
	StatusCancelled            Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusPending:              0,
	StatusAccepted:             1,
	StatusArrived:              2,
	StatusPickupConfirmed:      3,
	StatusStarted:              3,
	StatusInProgress:           4,
	StatusArrivedAtDestination: 5,
	StatusCompleted:            6,
	StatusDelivered:            6,
	StatusCancelled:            7,
}

// ParseStatus maps a raw backend status onto a known Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := statusRank[s]
	return s, ok
}

// Rank orders statuses by progress. Unknown statuses rank below pending.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether the trip is over once it reaches s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDelivered || s == StatusCancelled
}

// Phase groups statuses by the navigation target they imply
type Phase int

const (
	PhaseNone Phase = iota
	PhaseToPickup
	PhaseToDestination
)

func (p Phase) String() string {
	switch p {
	case PhaseToPickup:
		return "to_pickup"
	case PhaseToDestination:
		return "to_destination"
	default:
		return "none"
	}
}

// Phase returns the navigation phase for s. A delivery that has confirmed
// pickup is heading to the dropoff just like a started ride.
func (s Status) Phase() Phase {
	switch s {
	case StatusAccepted, StatusArrived:
		return PhaseToPickup
	case StatusStarted, StatusInProgress, StatusPickupConfirmed:
		return PhaseToDestination
	default:
		return PhaseNone
	}
}

// PickupStatus is the status a trip of kind k moves to once the driver has
// collected the passenger or parcel.
func PickupStatus(k Kind) Status {
	if k == KindDelivery {
		return StatusPickupConfirmed
	}
	return StatusStarted
}

// CompletionStatus is the status that finishes a trip of kind k.
func CompletionStatus(k Kind) Status {
	if k == KindDelivery {
		return StatusDelivered
	}
	return StatusCompleted
}

// Place is a pickup or dropoff point. Coordinates are nil when the backend
// response carried only an address.
type Place struct {
	Address     string     `json:"address"`
	Coordinates *geo.Point `json:"coordinates"`
}

// Counterparty is the rider or delivery customer
type Counterparty struct {
	Name   string  `json:"name"`
	Phone  string  `json:"phone,omitempty"`
	Rating float64 `json:"rating,omitempty"`
}

// Pricing is advisory and only formatted for display
type Pricing struct {
	EstimatedFare float64 `json:"estimated_fare"`
	Currency      string  `json:"currency,omitempty"`
	DistanceKm    float64 `json:"distance_km,omitempty"`
	DurationMin   float64 `json:"duration_min,omitempty"`
}

// UnifiedRequest is the canonical ride or delivery record
type UnifiedRequest struct {
	ID           string        `json:"id"`
	Kind         Kind          `json:"kind"`
	Status       Status        `json:"status"`
	Pickup       Place         `json:"pickup"`
	Dropoff      Place         `json:"dropoff"`
	Counterparty *Counterparty `json:"counterparty,omitempty"`
	Pricing      Pricing       `json:"pricing"`
	DeliveryPIN  string        `json:"delivery_pin,omitempty"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so callers can never mutate orchestrator state.
func (r *UnifiedRequest) Clone() *UnifiedRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Pickup.Coordinates = clonePoint(r.Pickup.Coordinates)
	c.Dropoff.Coordinates = clonePoint(r.Dropoff.Coordinates)
	if r.Counterparty != nil {
		cp := *r.Counterparty
		c.Counterparty = &cp
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// Target returns the coordinates the driver is heading to, or nil when the
// status has no navigation target or the target has no coordinates.
func (r *UnifiedRequest) Target() *geo.Point {
	if r == nil {
		return nil
	}
	switch r.Status.Phase() {
	case PhaseToPickup:
		return clonePoint(r.Pickup.Coordinates)
	case PhaseToDestination:
		return clonePoint(r.Dropoff.Coordinates)
	}
	return nil
}

// mergeFrom fills optional fields the server omitted in a partial response.
// A response without a recognisable status keeps the previous one.
func (r *UnifiedRequest) mergeFrom(prev *UnifiedRequest) {
	if prev == nil {
		return
	}
	if r.Status == "" {
		r.Status = prev.Status
	}
	if r.Kind == "" {
		r.Kind = prev.Kind
	}
	if r.Pickup.Coordinates == nil {
		r.Pickup.Coordinates = clonePoint(prev.Pickup.Coordinates)
	}
	if r.Pickup.Address == "" {
		r.Pickup.Address = prev.Pickup.Address
	}
	if r.Dropoff.Coordinates == nil {
		r.Dropoff.Coordinates = clonePoint(prev.Dropoff.Coordinates)
	}
	if r.Dropoff.Address == "" {
		r.Dropoff.Address = prev.Dropoff.Address
	}
	if r.Counterparty == nil || isPlaceholder(r.Counterparty.Name) {
		if prev.Counterparty != nil {
			cp := *prev.Counterparty
			r.Counterparty = &cp
		}
	}
	if r.Pricing == (Pricing{}) {
		r.Pricing = prev.Pricing
	}
	if r.DeliveryPIN == "" {
		r.DeliveryPIN = prev.DeliveryPIN
	}
}

func clonePoint(p *geo.Point) *geo.Point {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
