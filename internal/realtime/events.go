package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/common"
)

// Kind names an inbound event type on the wire.
type Kind string

// Inbound event kinds.
const (
	KindNearbyRequestCreated Kind = "request.nearby"
	KindRequestCancelled     Kind = "request.cancelled"
	KindTripStatusUpdated    Kind = "trip.status_updated"
	KindDeliveryAssigned     Kind = "delivery.assigned"
	KindDriverStatusChanged  Kind = "driver.status_changed"
	KindNotification         Kind = "notification"
)

// Outbound message types. On NATS they double as subjects.
const (
	TypeJoinDriverRoom      = "drivers.join"
	TypeLocationUpdated     = "drivers.location.updated"
	TypeAvailabilityUpdated = "drivers.availability.updated"
	TypeStatusUpdated       = "drivers.status.updated"
	TypeMessage             = "drivers.messages"
)

// ErrUnknownEvent is returned by Decode for a type this agent does not handle.
var ErrUnknownEvent = errors.New("unknown realtime event")

// Event is one decoded inbound event.
type Event interface {
	Kind() Kind
}

// NearbyRequestCreated offers a new request to the driver.
type NearbyRequestCreated struct {
	Request *trips.UnifiedRequest
}

// RequestCancelled withdraws a request or cancels an assigned trip.
type RequestCancelled struct {
	RequestID string
	Reason    string
}

// TripStatusUpdated carries the server's view of a trip after a status change.
type TripStatusUpdated struct {
	Trip *trips.UnifiedRequest
}

// DeliveryAssigned is a delivery the backend assigned without an offer.
type DeliveryAssigned struct {
	Delivery *trips.UnifiedRequest
}

// DriverStatusChanged reports a server-side change to the driver's presence.
// Nil fields were not part of the push.
type DriverStatusChanged struct {
	Online    *bool
	Available *bool
}

// Notification is a generic message for the driver's feed.
type Notification struct {
	ID        string
	Title     string
	Body      string
	Type      string
	CreatedAt time.Time
}

func (NearbyRequestCreated) Kind() Kind { return KindNearbyRequestCreated }
func (RequestCancelled) Kind() Kind { return KindRequestCancelled }
func (TripStatusUpdated) Kind() Kind { return KindTripStatusUpdated }
func (DeliveryAssigned) Kind() Kind { return KindDeliveryAssigned }
func (DriverStatusChanged) Kind() Kind { return KindDriverStatusChanged }
func (Notification) Kind() Kind { return KindNotification }

// Envelope is the wire frame for both directions.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	DriverID  string          `json:"driver_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope creates an envelope with a unique ID and current timestamp.
func NewEnvelope(typ, driverID string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      typ,
		DriverID:  driverID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

type cancelledPayload struct {
	RequestID string `json:"request_id"`
	RideID    string `json:"ride_id"`
	ID        string `json:"id"`
	Reason    string `json:"reason"`
}

type driverStatusPayload struct {
	IsOnline    *bool `json:"is_online"`
	IsAvailable *bool `json:"is_available"`
}

type notificationPayload struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	CreatedAt *time.Time `json:"created_at"`
}

// Decode turns an inbound envelope into a typed event. Trip payloads pass
// through trips.Normalize so both backend shapes are accepted.
func Decode(env Envelope) (Event, error) {
	switch Kind(env.Type) {
	case KindNearbyRequestCreated:
		req, err := trips.Normalize(env.Data)
		if err != nil {
			return nil, err
		}
		return NearbyRequestCreated{Request: req}, nil

	case KindRequestCancelled:
		var p cancelledPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, malformed(env.Type, err)
		}
		id := firstNonEmpty(p.RequestID, p.RideID, p.ID)
		if id == "" {
			return nil, malformed(env.Type, errors.New("missing request id"))
		}
		return RequestCancelled{RequestID: id, Reason: p.Reason}, nil

	case KindTripStatusUpdated:
		trip, err := trips.Normalize(env.Data)
		if err != nil {
			return nil, err
		}
		return TripStatusUpdated{Trip: trip}, nil

	case KindDeliveryAssigned:
		delivery, err := trips.Normalize(env.Data)
		if err != nil {
			return nil, err
		}
		delivery.Kind = trips.KindDelivery
		return DeliveryAssigned{Delivery: delivery}, nil

	case KindDriverStatusChanged:
		var p driverStatusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, malformed(env.Type, err)
		}
		return DriverStatusChanged{Online: p.IsOnline, Available: p.IsAvailable}, nil

	case KindNotification:
		var p notificationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, malformed(env.Type, err)
		}
		n := Notification{
			ID:        firstNonEmpty(p.ID, env.ID),
			Title:     p.Title,
			Body:      firstNonEmpty(p.Body, p.Message),
			Type:      p.Type,
			CreatedAt: env.Timestamp,
		}
		if p.CreatedAt != nil {
			n.CreatedAt = *p.CreatedAt
		}
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

func malformed(typ string, err error) error {
	return fmt.Errorf("%w: %s: %v", common.ErrMalformedResponse, typ, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
