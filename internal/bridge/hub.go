package bridge

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	clientBuffer      = 64
	heartbeatInterval = 15 * time.Second
)

var (
	sseClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "driver_agent",
		Subsystem: "bridge",
		Name:      "sse_clients",
		Help:      "Connected event stream clients",
	})

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driver_agent",
			Subsystem: "bridge",
			Name:      "sse_events_total",
			Help:      "Events pushed to the shell by result",
		},
		[]string{"event", "result"},
	)
)

// Event is one server-sent event
type Event struct {
	Name string
	Data interface{}
}

type streamClient struct {
	send chan Event
}

// Hub fans agent events out to every connected shell stream. It
// implements device.Emitter.
type Hub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*streamClient]struct{})}
}

// Emit queues an event for every client and returns how many accepted it.
// A client with a full buffer misses the event.
func (h *Hub) Emit(event string, payload interface{}) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- Event{Name: event, Data: payload}:
			delivered++
		default:
			sseEventsTotal.WithLabelValues(event, "dropped").Inc()
		}
	}
	if delivered > 0 {
		sseEventsTotal.WithLabelValues(event, "sent").Inc()
	}
	return delivered
}

// Clients returns the number of connected streams.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close ends every stream. Later subscribers are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	sseClients.Set(0)
}

func (h *Hub) register() (*streamClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &streamClient{send: make(chan Event, clientBuffer)}
	h.clients[c] = struct{}{}
	sseClients.Set(float64(len(h.clients)))
	return c, true
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		sseClients.Set(float64(len(h.clients)))
	}
}

// ServeEvents streams events to the shell until it disconnects.
// GET /api/v1/events
func (h *Hub) ServeEvents(c *gin.Context) {
	client, ok := h.register()
	if !ok {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	defer h.unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	logger.DebugContext(ctx, "event stream opened", zap.Int("clients", h.Clients()))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.SSEvent("ready", gin.H{"time": time.Now().UTC()})
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-client.send:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		case <-ctx.Done():
			return false
		}
	})

	logger.DebugContext(ctx, "event stream closed")
}
