package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/driver-agent/internal/device"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/storage"
	"go.uber.org/zap"
)

// MaxItems bounds the stored feed.
const MaxItems = 100

const storageKey = "notifications:feed"

var receivedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "notifications",
		Name:      "received_total",
		Help:      "Notifications added to the feed by type",
	},
	[]string{"type"},
)

// Notification is one feed item
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Feed is the driver's notification list, newest first, persisted in a
// Store so it survives restarts.
type Feed struct {
	store storage.Store
	caps  *device.Capabilities
	now   func() time.Time

	mu        sync.Mutex
	items     []Notification
	loaded    bool
	listeners []func(Notification)
}

// NewFeed creates a feed. caps may be nil.
func NewFeed(store storage.Store, caps *device.Capabilities) *Feed {
	return &Feed{store: store, caps: caps, now: time.Now}
}

// OnAdded registers fn to run for every new notification.
func (f *Feed) OnAdded(fn func(Notification)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Add stores n at the head of the feed and raises a local notification.
// An id already in the feed is ignored.
func (f *Feed) Add(ctx context.Context, n Notification) error {
	if n.ID == "" {
		return common.NewValidationError("notification id is required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.now()
	}
	n.Read = false

	f.mu.Lock()
	if err := f.loadLocked(ctx); err != nil {
		f.mu.Unlock()
		return err
	}
	for _, existing := range f.items {
		if existing.ID == n.ID {
			f.mu.Unlock()
			return nil
		}
	}
	f.items = append([]Notification{n}, f.items...)
	if len(f.items) > MaxItems {
		f.items = f.items[:MaxItems]
	}
	err := f.saveLocked(ctx)
	listeners := append([]func(Notification){}, f.listeners...)
	f.mu.Unlock()

	receivedTotal.WithLabelValues(typeLabel(n.Type)).Inc()
	f.caps.Notify(ctx, n.Title, n.Body, map[string]string{"notification_id": n.ID})
	f.caps.Vibrate(ctx, device.PatternLight)
	for _, fn := range listeners {
		fn(n)
	}
	return err
}

// List returns a copy of the feed, newest first.
func (f *Feed) List(ctx context.Context) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(ctx); err != nil {
		return nil, err
	}
	return append([]Notification{}, f.items...), nil
}

// MarkRead marks one notification as read.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(ctx); err != nil {
		return err
	}
	for i := range f.items {
		if f.items[i].ID == id {
			if f.items[i].Read {
				return nil
			}
			f.items[i].Read = true
			return f.saveLocked(ctx)
		}
	}
	return common.NewNotFoundError("notification not found", common.ErrNotFound)
}

// MarkAllRead marks every notification as read.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(ctx); err != nil {
		return err
	}
	for i := range f.items {
		f.items[i].Read = true
	}
	return f.saveLocked(ctx)
}

// UnreadCount returns the number of unread notifications.
func (f *Feed) UnreadCount(ctx context.Context) (int, error) {
	items, err := f.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range items {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (f *Feed) loadLocked(ctx context.Context) error {
	if f.loaded {
		return nil
	}
	var items []Notification
	err := storage.GetJSON(ctx, f.store, storageKey, &items)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
	default:
		logger.Warn("failed to load notification feed, starting empty", zap.Error(err))
	}
	f.items = items
	f.loaded = true
	return nil
}

func (f *Feed) saveLocked(ctx context.Context) error {
	if err := storage.SetJSON(ctx, f.store, storageKey, f.items, 0); err != nil {
		logger.Warn("failed to persist notification feed", zap.Error(err))
		return err
	}
	return nil
}

func typeLabel(t string) string {
	if t == "" {
		return "general"
	}
	return t
}
