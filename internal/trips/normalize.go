package trips

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	placeholderRider    = "Rider"
	placeholderCustomer = "Customer"
)

// rawRequest is the union of both backend shapes. Ride endpoints return flat
// pickup_latitude/pickup_longitude columns with a rider object; delivery
// endpoints return nested pickup_location/dropoff_location with a customer.
type rawRequest struct {
	ID     flexString `json:"id"`
	Type   string     `json:"type"`
	Kind   string     `json:"kind"`
	Status string     `json:"status"`

	PickupLatitude   *flexFloat `json:"pickup_latitude"`
	PickupLongitude  *flexFloat `json:"pickup_longitude"`
	PickupAddress    string     `json:"pickup_address"`
	DropoffLatitude  *flexFloat `json:"dropoff_latitude"`
	DropoffLongitude *flexFloat `json:"dropoff_longitude"`
	DropoffAddress   string     `json:"dropoff_address"`
	Rider            *rawRider  `json:"rider"`

	PickupLocation  *rawLocation `json:"pickup_location"`
	DropoffLocation *rawLocation `json:"dropoff_location"`
	Customer        *rawCustomer `json:"customer"`
	DeliveryFee     *flexFloat   `json:"delivery_fee"`
	DeliveryPIN     flexString   `json:"delivery_pin"`

	EstimatedFare     *flexFloat `json:"estimated_fare"`
	EstimatedDistance flexFloat  `json:"estimated_distance"`
	EstimatedDuration flexFloat  `json:"estimated_duration"`
	Currency          string     `json:"currency"`
	ExpiresAt         flexTime   `json:"expires_at"`
	UpdatedAt         flexTime   `json:"updated_at"`
}

type rawRider struct {
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	Rating      flexFloat `json:"rating"`
}

type rawCustomer struct {
	Name   string    `json:"name"`
	Phone  string    `json:"phone"`
	Rating flexFloat `json:"rating"`
}

type rawLocation struct {
	Address     string `json:"address"`
	Coordinates *struct {
		Lat *flexFloat `json:"lat"`
		Lng *flexFloat `json:"lng"`
	} `json:"coordinates"`
}

// Normalize maps one backend trip payload, in either known shape, onto a
// UnifiedRequest. Missing optional fields get safe defaults; only a missing
// id is an error.
func Normalize(raw json.RawMessage) (*UnifiedRequest, error) {
	var r rawRequest
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: trip without id", common.ErrMalformedResponse)
	}

	req := &UnifiedRequest{
		ID:          string(r.ID),
		Kind:        r.kind(),
		Status:      normalizeStatus(r.Status),
		DeliveryPIN: string(r.DeliveryPIN),
		ExpiresAt:   r.ExpiresAt.ptr(),
		UpdatedAt:   time.Time(r.UpdatedAt),
		Pricing: Pricing{
			Currency:    r.Currency,
			DistanceKm:  float64(r.EstimatedDistance),
			DurationMin: float64(r.EstimatedDuration),
		},
	}
	switch req.Kind {
	case KindDelivery:
		req.Pickup = r.PickupLocation.place()
		req.Dropoff = r.DropoffLocation.place()
		if req.Pickup == (Place{}) {
			req.Pickup = flatPlace(r.PickupLatitude, r.PickupLongitude, r.PickupAddress)
		}
		if req.Dropoff == (Place{}) {
			req.Dropoff = flatPlace(r.DropoffLatitude, r.DropoffLongitude, r.DropoffAddress)
		}
		req.Counterparty = r.Customer.counterparty()
		if r.DeliveryFee != nil {
			req.Pricing.EstimatedFare = float64(*r.DeliveryFee)
		} else if r.EstimatedFare != nil {
			req.Pricing.EstimatedFare = float64(*r.EstimatedFare)
		}
	default:
		req.Pickup = flatPlace(r.PickupLatitude, r.PickupLongitude, r.PickupAddress)
		req.Dropoff = flatPlace(r.DropoffLatitude, r.DropoffLongitude, r.DropoffAddress)
		req.Counterparty = r.Rider.counterparty()
		if r.EstimatedFare != nil {
			req.Pricing.EstimatedFare = float64(*r.EstimatedFare)
		}
	}

	return req, nil
}

// NormalizeList normalizes an array payload, skipping entries that cannot be
// normalized instead of failing the whole list.
func NormalizeList(raw json.RawMessage) ([]*UnifiedRequest, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}
	out := make([]*UnifiedRequest, 0, len(items))
	for _, item := range items {
		req, err := Normalize(item)
		if err != nil {
			logger.Debug("skipping malformed trip entry", zap.Error(err))
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *rawRequest) kind() Kind {
	for _, k := range []string{r.Kind, r.Type} {
		switch strings.ToLower(k) {
		case string(KindDelivery):
			return KindDelivery
		case string(KindRide):
			return KindRide
		}
	}
	if r.PickupLocation != nil || r.DropoffLocation != nil || r.Customer != nil || r.DeliveryFee != nil || r.DeliveryPIN != "" {
		return KindDelivery
	}
	return KindRide
}

// normalizeStatus leaves an absent or unrecognised status empty so it never
// overwrites a status the agent already holds.
func normalizeStatus(raw string) Status {
	if s, ok := ParseStatus(strings.ToLower(strings.TrimSpace(raw))); ok {
		return s
	}
	return ""
}

func flatPlace(lat, lng *flexFloat, address string) Place {
	return Place{Address: address, Coordinates: point(lat, lng)}
}

func (l *rawLocation) place() Place {
	if l == nil {
		return Place{}
	}
	p := Place{Address: l.Address}
	if l.Coordinates != nil {
		p.Coordinates = point(l.Coordinates.Lat, l.Coordinates.Lng)
	}
	return p
}

// point returns nil unless both components are present and in range. A
// (0,0) pair is how unset database columns come back and is treated as absent.
func point(lat, lng *flexFloat) *geo.Point {
	if lat == nil || lng == nil {
		return nil
	}
	la, ln := float64(*lat), float64(*lng)
	if la == 0 && ln == 0 {
		return nil
	}
	if la < -90 || la > 90 || ln < -180 || ln > 180 {
		return nil
	}
	return &geo.Point{Lat: la, Lng: ln}
}

func (r *rawRider) counterparty() *Counterparty {
	if r == nil {
		return &Counterparty{Name: placeholderRider}
	}
	name := strings.TrimSpace(r.FirstName + " " + r.LastName)
	if name == "" {
		name = strings.TrimSpace(r.Name)
	}
	if name == "" {
		name = placeholderRider
	}
	return &Counterparty{Name: name, Phone: r.PhoneNumber, Rating: float64(r.Rating)}
}

func (c *rawCustomer) counterparty() *Counterparty {
	if c == nil {
		return &Counterparty{Name: placeholderCustomer}
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = placeholderCustomer
	}
	return &Counterparty{Name: name, Phone: c.Phone, Rating: float64(c.Rating)}
}

func isPlaceholder(name string) bool {
	return name == "" || name == placeholderRider || name == placeholderCustomer
}

// flexFloat accepts a JSON number or a numeric string. Anything else
// decodes as zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseFloat(strings.Trim(string(data), `"`), 64)
	if err != nil {
		v = 0
	}
	*f = flexFloat(v)
	return nil
}

// flexTime accepts an RFC 3339 string or a unix timestamp in seconds or
// milliseconds. Anything else decodes as the zero time.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(data []byte) error {
	*t = flexTime{}
	text := strings.Trim(string(data), `"`)
	if text == "" || text == "null" {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, text); err == nil {
		*t = flexTime(parsed)
		return nil
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			*t = flexTime(time.UnixMilli(n).UTC())
		} else {
			*t = flexTime(time.Unix(n, 0).UTC())
		}
	}
	return nil
}

func (t flexTime) ptr() *time.Time {
	v := time.Time(t)
	if v.IsZero() {
		return nil
	}
	return &v
}

// flexString accepts a JSON string or number, e.g. numeric ids and PINs.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}
