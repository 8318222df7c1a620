package validation

// Request bodies accepted by the local bridge API.

// LocationSampleRequest is a native GPS fix posted by the shell
type LocationSampleRequest struct {
	Latitude  float64  `json:"latitude" validate:"latitude"`
	Longitude float64  `json:"longitude" validate:"longitude"`
	Accuracy  *float64 `json:"accuracy" validate:"omitempty,gte=0"`
	Speed     *float64 `json:"speed" validate:"omitempty,gte=0"`
	Heading   *float64 `json:"heading" validate:"omitempty,gte=0,lt=360"`
	Timestamp int64    `json:"timestamp" validate:"gte=0"`
}

// AdvanceStatusRequest moves the active trip forward
type AdvanceStatusRequest struct {
	Status      string                 `json:"status" validate:"required,trip_status"`
	TripID      string                 `json:"trip_id"`
	Rating      *int                   `json:"rating" validate:"omitempty,min=1,max=5"`
	DeliveryPIN string                 `json:"delivery_pin" validate:"omitempty,len=4,numeric"`
	Location    *LocationSampleRequest `json:"location" validate:"omitempty"`
}

// DeclineRequest carries an optional decline reason
type DeclineRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

// CancelRequest carries an optional cancellation reason
type CancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

// PresenceRequest toggles online/availability
type PresenceRequest struct {
	Online    *bool `json:"online"`
	Available *bool `json:"available"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// PushTokenRequest registers a device push token
type PushTokenRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}

// LocationErrorRequest reports a native geolocation failure
type LocationErrorRequest struct {
	Code    string `json:"code" validate:"required,oneof=permission_denied timeout unavailable"`
	Message string `json:"message"`
}
