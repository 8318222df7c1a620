package realtime

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/richxcame/driver-agent/internal/navigation"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send while the transport is down. Outbound
// messages are not buffered across reconnects.
var ErrNotConnected = errors.New("realtime channel not connected")

// Transport moves envelopes to and from the backend.
type Transport interface {
	// Run connects and keeps the connection alive until ctx is done,
	// handing every inbound envelope to deliver.
	Run(ctx context.Context, deliver func(Envelope)) error
	// Join subscribes to the driver's room. The room is re-joined after
	// every reconnect.
	Join(ctx context.Context, driverID string) error
	Send(ctx context.Context, env Envelope) error
	Connected() bool
	Close() error
}

// DriverStatus is the presence state broadcast to the backend.
type DriverStatus string

const (
	DriverOnline  DriverStatus = "online"
	DriverOffline DriverStatus = "offline"
	DriverBusy    DriverStatus = "busy"
)

type listener struct {
	id int
	fn func(Event)
}

// Channel is the session's realtime connection with typed subscriptions.
type Channel struct {
	transport Transport

	mu        sync.RWMutex
	listeners map[Kind][]listener
	nextID    int
	driverID  string
}

// NewChannel wraps transport. A nil transport selects NopTransport.
func NewChannel(transport Transport) *Channel {
	if transport == nil {
		transport = NopTransport{}
	}
	return &Channel{
		transport: transport,
		listeners: make(map[Kind][]listener),
	}
}

// Subscribe registers fn for every event of type E and returns a function
// that removes it. Multiple listeners per kind are delivered in
// registration order.
func Subscribe[E Event](ch *Channel, fn func(E)) func() {
	var zero E
	kind := zero.Kind()

	ch.mu.Lock()
	ch.nextID++
	id := ch.nextID
	ch.listeners[kind] = append(ch.listeners[kind], listener{id: id, fn: func(e Event) {
		if typed, ok := e.(E); ok {
			fn(typed)
		}
	}})
	ch.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ch.mu.Lock()
			defer ch.mu.Unlock()
			list := ch.listeners[kind]
			for i, l := range list {
				if l.id == id {
					ch.listeners[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to its listeners synchronously. A panicking listener
// does not stop the others.
func (ch *Channel) Publish(e Event) {
	ch.mu.RLock()
	list := append([]listener(nil), ch.listeners[e.Kind()]...)
	ch.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	for _, l := range list {
		deliver(e, l.fn)
	}
}

// Run drives the transport until ctx is done.
func (ch *Channel) Run(ctx context.Context) error {
	return ch.transport.Run(ctx, ch.receive)
}

func (ch *Channel) receive(env Envelope) {
	event, err := Decode(env)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownEvent) {
			reason = "unknown"
		}
		eventsDroppedTotal.WithLabelValues(reason).Inc()
		logger.Debug("realtime frame dropped", zap.String("type", env.Type), zap.Error(err))
		return
	}
	eventsReceivedTotal.WithLabelValues(string(event.Kind())).Inc()
	ch.Publish(event)
}

// Connected reports whether the transport is currently up.
func (ch *Channel) Connected() bool {
	return ch.transport.Connected()
}

// JoinDriverRoom subscribes to events addressed to driverID.
func (ch *Channel) JoinDriverRoom(ctx context.Context, driverID string) error {
	ch.mu.Lock()
	ch.driverID = driverID
	ch.mu.Unlock()
	if err := ch.transport.Join(ctx, driverID); err != nil {
		messagesSentTotal.WithLabelValues(TypeJoinDriverRoom, "error").Inc()
		return err
	}
	messagesSentTotal.WithLabelValues(TypeJoinDriverRoom, "ok").Inc()
	return nil
}

type locationMessage struct {
	TripID    string    `json:"trip_id,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	H3Cell    string    `json:"h3_cell,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastLocation pushes a location report to the driver's watchers.
func (ch *Channel) BroadcastLocation(ctx context.Context, report navigation.Report) error {
	return ch.send(ctx, TypeLocationUpdated, locationMessage{
		TripID:    report.TripID,
		Latitude:  report.Lat,
		Longitude: report.Lng,
		Heading:   report.Heading,
		Speed:     report.Speed,
		H3Cell:    report.Cell,
		Timestamp: report.Timestamp.UTC(),
	})
}

// ReportLocation lets the channel serve as a navigation.Reporter.
func (ch *Channel) ReportLocation(ctx context.Context, report navigation.Report) error {
	return ch.BroadcastLocation(ctx, report)
}

// BroadcastAvailability announces whether the driver takes new requests.
func (ch *Channel) BroadcastAvailability(ctx context.Context, available bool) error {
	return ch.send(ctx, TypeAvailabilityUpdated, map[string]bool{"is_available": available})
}

// BroadcastStatus announces the driver's presence state.
func (ch *Channel) BroadcastStatus(ctx context.Context, status DriverStatus) error {
	return ch.send(ctx, TypeStatusUpdated, map[string]string{"status": string(status)})
}

// SendMessage sends a chat message to the counterparty of tripID.
func (ch *Channel) SendMessage(ctx context.Context, tripID, text string) error {
	return ch.send(ctx, TypeMessage, map[string]string{"trip_id": tripID, "text": text})
}

// Close shuts the transport down and drops every listener.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	ch.listeners = make(map[Kind][]listener)
	ch.mu.Unlock()
	return ch.transport.Close()
}

func (ch *Channel) send(ctx context.Context, typ string, payload interface{}) error {
	ch.mu.RLock()
	driverID := ch.driverID
	ch.mu.RUnlock()

	env, err := NewEnvelope(typ, driverID, payload)
	if err != nil {
		return err
	}
	if err := ch.transport.Send(ctx, env); err != nil {
		messagesSentTotal.WithLabelValues(typ, "error").Inc()
		return err
	}
	messagesSentTotal.WithLabelValues(typ, "ok").Inc()
	return nil
}

func deliver(e Event, fn func(Event)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("realtime listener panicked",
				zap.String("kind", string(e.Kind())),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn(e)
}

// NopTransport is used when realtime is disabled. Outbound messages are
// dropped and nothing is ever received.
type NopTransport struct{}

func (NopTransport) Run(ctx context.Context, _ func(Envelope)) error {
	<-ctx.Done()
	return nil
}

func (NopTransport) Join(context.Context, string) error { return nil }
func (NopTransport) Send(context.Context, Envelope) error { return nil }
func (NopTransport) Connected() bool { return false }
func (NopTransport) Close() error { return nil }
