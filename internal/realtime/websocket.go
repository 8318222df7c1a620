package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/resilience"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024

	sendBuffer = 64
)

// WebSocketConfig configures the websocket transport
type WebSocketConfig struct {
	URL        string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
}

// WebSocketTransport keeps one authenticated websocket to the backend and
// reconnects with exponential backoff when it drops.
type WebSocketTransport struct {
	cfg            WebSocketConfig
	tokens         func() string
	onUnauthorized func()

	mu       sync.Mutex
	driverID string
	send     chan Envelope
	up       atomic.Bool
	closed   chan struct{}
	once     sync.Once
}

// NewWebSocketTransport creates a transport. tokens is called before every
// dial so a refreshed session token is picked up on reconnect.
func NewWebSocketTransport(cfg WebSocketConfig, tokens func() string) *WebSocketTransport {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	}
	return &WebSocketTransport{
		cfg:    cfg,
		tokens: tokens,
		closed: make(chan struct{}),
	}
}

// OnUnauthorized registers a callback for handshakes rejected with 401.
func (t *WebSocketTransport) OnUnauthorized(fn func()) {
	t.mu.Lock()
	t.onUnauthorized = fn
	t.mu.Unlock()
}

// Run dials, pumps messages, and redials until ctx is done or Close is called.
func (t *WebSocketTransport) Run(ctx context.Context, deliver func(Envelope)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := resilience.ReconnectConfig()
	policy.InitialBackoff = t.cfg.MinBackoff
	policy.MaxBackoff = t.cfg.MaxBackoff

	failures := 0
	for {
		conn, err := t.dial(ctx)
		if err == nil {
			failures = 0
			t.serve(ctx, conn, deliver)
		} else {
			failures++
		}

		delay := resilience.Backoff(max(failures, 1), policy)
		if err != nil && ctx.Err() == nil {
			logger.Warn("realtime dial failed", zap.Error(err), zap.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (t *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if t.tokens != nil {
		if token := t.tokens(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	conn, resp, err := t.cfg.Dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		connectionsTotal.WithLabelValues("websocket", "error").Inc()
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			t.mu.Lock()
			fn := t.onUnauthorized
			t.mu.Unlock()
			if fn != nil {
				fn()
			}
			return nil, fmt.Errorf("realtime handshake rejected: %s", resp.Status)
		}
		return nil, err
	}
	connectionsTotal.WithLabelValues("websocket", "ok").Inc()
	return conn, nil
}

// serve owns conn until it fails. The room is re-joined before any queued
// message is written.
func (t *WebSocketTransport) serve(ctx context.Context, conn *websocket.Conn, deliver func(Envelope)) {
	defer conn.Close()

	t.mu.Lock()
	driverID := t.driverID
	send := make(chan Envelope, sendBuffer)
	t.send = send
	t.mu.Unlock()

	if driverID != "" {
		join, err := joinEnvelope(driverID)
		if err == nil {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = conn.WriteJSON(join)
		}
		if err != nil {
			logger.Warn("realtime room join failed", zap.String("driver_id", driverID), zap.Error(err))
			t.detach(send)
			return
		}
	}

	t.up.Store(true)
	connected.WithLabelValues("websocket").Set(1)
	logger.Info("realtime connected", zap.String("url", t.cfg.URL))

	done := make(chan struct{})
	go t.writePump(conn, send, done)
	t.readPump(ctx, conn, deliver)
	close(done)

	t.up.Store(false)
	connected.WithLabelValues("websocket").Set(0)
	t.detach(send)
	logger.Info("realtime disconnected")
}

func (t *WebSocketTransport) detach(send chan Envelope) {
	t.mu.Lock()
	if t.send == send {
		t.send = nil
	}
	t.mu.Unlock()
}

func (t *WebSocketTransport) readPump(ctx context.Context, conn *websocket.Conn, deliver func(Envelope)) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Warn("realtime read failed", zap.Error(err))
			}
			return
		}
		deliver(env)
	}
}

func (t *WebSocketTransport) writePump(conn *websocket.Conn, send <-chan Envelope, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case env := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// Join remembers the room and joins it now when connected.
func (t *WebSocketTransport) Join(ctx context.Context, driverID string) error {
	t.mu.Lock()
	t.driverID = driverID
	t.mu.Unlock()
	if !t.Connected() {
		return nil
	}
	join, err := joinEnvelope(driverID)
	if err != nil {
		return err
	}
	return t.Send(ctx, join)
}

// Send queues env on the live connection. A full queue drops the message.
func (t *WebSocketTransport) Send(ctx context.Context, env Envelope) error {
	t.mu.Lock()
	send := t.send
	t.mu.Unlock()
	if send == nil || !t.up.Load() {
		return ErrNotConnected
	}
	select {
	case send <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("realtime send queue full, dropped %s", env.Type)
	}
}

// Connected reports whether a connection is established.
func (t *WebSocketTransport) Connected() bool {
	return t.up.Load()
}

// Close stops Run and closes the connection.
func (t *WebSocketTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func joinEnvelope(driverID string) (Envelope, error) {
	return NewEnvelope(TypeJoinDriverRoom, driverID, map[string]string{"driver_id": driverID})
}
