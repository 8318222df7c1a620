package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL  string
	Name string // client connection name
}

// NATSTransport exchanges envelopes over a fleet gateway's NATS server.
// Inbound events arrive on the driver's inbox subject; outbound messages
// are published on the subject named by their type.
type NATSTransport struct {
	conn *nats.Conn

	mu       sync.Mutex
	deliver  func(Envelope)
	driverID string
	sub      *nats.Subscription
}

// InboxSubject is the subject events for driverID are published on.
func InboxSubject(driverID string) string {
	return fmt.Sprintf("drivers.%s.events", driverID)
}

// NewNATSTransport connects to NATS. tokens is asked for a fresh token on
// every (re)connect.
func NewNATSTransport(cfg NATSConfig, tokens func() string) (*NATSTransport, error) {
	if cfg.Name == "" {
		cfg.Name = "driver-agent"
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			connected.WithLabelValues("nats").Set(0)
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			connected.WithLabelValues("nats").Set(1)
			connectionsTotal.WithLabelValues("nats", "ok").Inc()
			logger.Info("NATS reconnected")
		}),
	}
	if tokens != nil {
		opts = append(opts, nats.TokenHandler(tokens))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		connectionsTotal.WithLabelValues("nats", "error").Inc()
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if nc.IsConnected() {
		connected.WithLabelValues("nats").Set(1)
		connectionsTotal.WithLabelValues("nats", "ok").Inc()
	}

	logger.Info("NATS realtime transport connected", zap.String("url", cfg.URL))
	return &NATSTransport{conn: nc}, nil
}

// Run subscribes to the joined room and blocks until ctx is done. The
// client library resubscribes after reconnects.
func (t *NATSTransport) Run(ctx context.Context, deliver func(Envelope)) error {
	t.mu.Lock()
	t.deliver = deliver
	err := t.subscribeLocked()
	t.mu.Unlock()
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Join switches the inbox subscription to driverID.
func (t *NATSTransport) Join(_ context.Context, driverID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.driverID == driverID && t.sub != nil {
		return nil
	}
	t.driverID = driverID
	return t.subscribeLocked()
}

func (t *NATSTransport) subscribeLocked() error {
	if t.deliver == nil || t.driverID == "" {
		return nil
	}
	if t.sub != nil {
		_ = t.sub.Unsubscribe()
		t.sub = nil
	}
	deliver := t.deliver
	sub, err := t.conn.Subscribe(InboxSubject(t.driverID), func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			eventsDroppedTotal.WithLabelValues("malformed").Inc()
			logger.Warn("failed to unmarshal realtime event", zap.Error(err))
			return
		}
		deliver(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", InboxSubject(t.driverID), err)
	}
	t.sub = sub
	logger.Info("subscribed to driver events", zap.String("subject", sub.Subject))
	return nil
}

// Send publishes env on the subject named by its type.
func (t *NATSTransport) Send(_ context.Context, env Envelope) error {
	if !t.conn.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := t.conn.Publish(env.Type, data); err != nil {
		return fmt.Errorf("publish to %s: %w", env.Type, err)
	}
	return nil
}

// Connected returns true if the NATS connection is active.
func (t *NATSTransport) Connected() bool {
	return t.conn != nil && t.conn.IsConnected()
}

// Close drains the subscription and closes the NATS connection.
func (t *NATSTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	connected.WithLabelValues("nats").Set(0)
	return t.conn.Drain()
}
