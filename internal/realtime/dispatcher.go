package realtime

import (
	"context"
	"time"

	"github.com/richxcame/driver-agent/internal/notifications"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// TripSink is the part of the orchestrator realtime events feed into.
type TripSink interface {
	SubmitCandidate(req *trips.UnifiedRequest) trips.Disposition
	OnRequestCancelled(id string) bool
	OnExternalTripEvent(trip *trips.UnifiedRequest) bool
	Adopt(trip *trips.UnifiedRequest) bool
}

// PresenceSink receives server-side presence changes.
type PresenceSink interface {
	Available() bool
	ApplyRemote(online, available *bool)
}

// NotificationSink stores feed items.
type NotificationSink interface {
	Add(ctx context.Context, n notifications.Notification) error
}

// Dispatcher routes channel events into the session's components.
type Dispatcher struct {
	ch       *Channel
	trips    TripSink
	presence PresenceSink
	feed     NotificationSink
	unsubs   []func()
}

// NewDispatcher creates a dispatcher. presence and feed may be nil.
func NewDispatcher(ch *Channel, tripSink TripSink, presence PresenceSink, feed NotificationSink) *Dispatcher {
	return &Dispatcher{ch: ch, trips: tripSink, presence: presence, feed: feed}
}

// Start subscribes to every event kind.
func (d *Dispatcher) Start() {
	d.unsubs = append(d.unsubs,
		Subscribe(d.ch, d.onNearbyRequest),
		Subscribe(d.ch, d.onRequestCancelled),
		Subscribe(d.ch, d.onTripStatus),
		Subscribe(d.ch, d.onDeliveryAssigned),
		Subscribe(d.ch, d.onDriverStatus),
		Subscribe(d.ch, d.onNotification),
	)
}

// Stop removes the subscriptions.
func (d *Dispatcher) Stop() {
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
}

func (d *Dispatcher) onNearbyRequest(e NearbyRequestCreated) {
	if d.presence != nil && !d.presence.Available() {
		eventsDroppedTotal.WithLabelValues("unavailable").Inc()
		logger.Debug("nearby request ignored while unavailable", zap.String("request_id", e.Request.ID))
		return
	}
	disposition := d.trips.SubmitCandidate(e.Request)
	logger.Debug("nearby request submitted",
		zap.String("request_id", e.Request.ID),
		zap.String("disposition", disposition.String()),
	)
}

func (d *Dispatcher) onRequestCancelled(e RequestCancelled) {
	if !d.trips.OnRequestCancelled(e.RequestID) {
		logger.Debug("cancellation for unknown request", zap.String("request_id", e.RequestID))
	}
}

func (d *Dispatcher) onTripStatus(e TripStatusUpdated) {
	if !d.trips.OnExternalTripEvent(e.Trip) {
		logger.Debug("trip update ignored", logger.TripFields(e.Trip.ID, string(e.Trip.Status))...)
	}
}

func (d *Dispatcher) onDeliveryAssigned(e DeliveryAssigned) {
	if !d.trips.Adopt(e.Delivery) {
		logger.Warn("delivery assignment ignored", logger.TripFields(e.Delivery.ID, string(e.Delivery.Status))...)
	}
}

func (d *Dispatcher) onDriverStatus(e DriverStatusChanged) {
	if d.presence != nil {
		d.presence.ApplyRemote(e.Online, e.Available)
	}
}

func (d *Dispatcher) onNotification(e Notification) {
	if d.feed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.feed.Add(ctx, notifications.Notification{
		ID:        e.ID,
		Title:     e.Title,
		Body:      e.Body,
		Type:      e.Type,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		logger.Warn("failed to store notification", zap.String("notification_id", e.ID), zap.Error(err))
	}
}
