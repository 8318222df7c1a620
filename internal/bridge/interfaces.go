package bridge

import (
	"context"

	"github.com/richxcame/driver-agent/internal/location"
	"github.com/richxcame/driver-agent/internal/navigation"
	"github.com/richxcame/driver-agent/internal/notifications"
	"github.com/richxcame/driver-agent/internal/presence"
	"github.com/richxcame/driver-agent/internal/proof"
	"github.com/richxcame/driver-agent/internal/tripapi"
	"github.com/richxcame/driver-agent/internal/trips"
)

// Trips is the trip surface of a session
type Trips interface {
	Snapshot() trips.Snapshot
	Accept(ctx context.Context, candidateID string) (*trips.UnifiedRequest, error)
	Decline(ctx context.Context, candidateID, reason string) error
	AdvanceStatus(ctx context.Context, status trips.Status, opts ...trips.AdvanceOption) (*trips.UnifiedRequest, error)
	CancelActiveTrip(ctx context.Context, reason string) (trips.CancelResult, error)
}

// Navigation exposes the reconciler's current view
type Navigation interface {
	View() navigation.View
}

// Presence toggles online and availability
type Presence interface {
	State() presence.State
	SetOnline(ctx context.Context, online bool) error
	SetAvailable(ctx context.Context, available bool) error
}

// Earnings serves the dashboard reads
type Earnings interface {
	Stats(ctx context.Context) (*tripapi.Stats, error)
	Earnings(ctx context.Context, period string) (*tripapi.Earnings, error)
	History(ctx context.Context, page, perPage int) (*tripapi.HistoryPage, error)
}

// Notifications is the in-app notification feed
type Notifications interface {
	List(ctx context.Context) ([]notifications.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	UnreadCount(ctx context.Context) (int, error)
}

// Services are the components of the signed-in session.
type Services struct {
	Trips         Trips
	Navigation    Navigation
	Presence      Presence
	Earnings      Earnings
	Notifications Notifications
}

// Agent is the long-lived owner of the session.
type Agent interface {
	Login(ctx context.Context, email, password string) (*tripapi.Session, error)
	Logout(ctx context.Context) error
	Services() (*Services, bool)
	RegisterPushToken(ctx context.Context, token, platform string) error
	UploadProof(ctx context.Context, tripID string, photo []byte, contentType string) (*proof.Upload, error)
}

// LocationSink receives native geolocation output from the shell.
type LocationSink interface {
	Push(s location.Sample) error
	ReportError(err error)
}
