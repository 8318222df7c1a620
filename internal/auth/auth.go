package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/driver-agent/internal/tripapi"
	"github.com/richxcame/driver-agent/pkg/async"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/storage"
	"github.com/richxcame/driver-agent/pkg/validation"
	"go.uber.org/zap"
)

const (
	storageKey = "auth:session"
	roleDriver = "driver"
)

// Logout reasons passed to listeners
const (
	ReasonLogout       = "logout"
	ReasonExpired      = "expired"
	ReasonUnauthorized = "unauthorized"
)

var logoutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "auth",
		Name:      "logouts_total",
		Help:      "Session ends by reason",
	},
	[]string{"reason"},
)

// Claims are the JWT claims the agent reads from the session token. The
// signature is checked by the backend, never here.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// LoginRequest is the credential pair submitted by the driver
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// Backend is the remote side of authentication.
type Backend interface {
	Login(ctx context.Context, email, password string) (*tripapi.Session, error)
	Logout(ctx context.Context) error
}

// Manager owns the session token for one installation.
type Manager struct {
	backend Backend
	store   storage.Store
	now     func() time.Time

	mu        sync.RWMutex
	session   *tripapi.Session
	listeners []func(reason string)
}

// NewManager creates a logged-out manager.
func NewManager(backend Backend, store storage.Store) *Manager {
	return &Manager{backend: backend, store: store, now: time.Now}
}

// OnLogout registers fn for every session end. fn runs on its own goroutine
// for forced logouts.
func (m *Manager) OnLogout(fn func(reason string)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Login authenticates and stores the session.
func (m *Manager) Login(ctx context.Context, req LoginRequest) (*tripapi.Session, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, common.NewBadRequestError("Enter a valid email and password", err)
	}

	session, err := m.backend.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	claims, err := parseClaims(session.Token)
	if err != nil {
		return nil, common.NewAppError(http.StatusBadGateway, "Unexpected response from server", err)
	}
	if claims.Role != "" && claims.Role != roleDriver {
		return nil, common.NewPermissionError("This account is not a driver account")
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
		if !session.ExpiresAt.After(m.now()) {
			return nil, common.NewUnauthorizedError("Session already expired")
		}
	}
	if session.DriverID == "" {
		session.DriverID = firstNonEmpty(claims.UserID, claims.Subject)
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	if err := storage.SetJSON(ctx, m.store, storageKey, session, m.ttl(session)); err != nil {
		logger.WarnContext(ctx, "failed to persist session", zap.Error(err))
	}
	logger.InfoContext(ctx, "driver logged in", zap.String("driver_id", session.DriverID))
	return session, nil
}

// Restore loads a stored session. An expired or unreadable token is
// discarded and reported as ErrNotLoggedIn.
func (m *Manager) Restore(ctx context.Context) (*tripapi.Session, error) {
	var session tripapi.Session
	err := storage.GetJSON(ctx, m.store, storageKey, &session)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, common.ErrNotLoggedIn
	}
	if err != nil {
		return nil, err
	}
	if _, err := parseClaims(session.Token); err != nil || m.expired(&session) {
		_ = m.store.Delete(ctx, storageKey)
		return nil, common.ErrNotLoggedIn
	}

	m.mu.Lock()
	m.session = &session
	m.mu.Unlock()
	return &session, nil
}

// Session returns the current session.
func (m *Manager) Session() (*tripapi.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, false
	}
	s := *m.session
	return &s, true
}

// LoggedIn reports whether a session is held.
func (m *Manager) LoggedIn() bool {
	_, ok := m.Session()
	return ok
}

// Token returns the bearer token for outgoing requests. An expired token
// ends the session and yields "".
func (m *Manager) Token() string {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()
	if session == nil {
		return ""
	}
	if m.expired(session) {
		m.ForceLogout(ReasonExpired)
		return ""
	}
	return session.Token
}

// Logout ends the session. The backend call is best effort.
func (m *Manager) Logout(ctx context.Context) error {
	if !m.LoggedIn() {
		return nil
	}
	if err := m.backend.Logout(ctx); err != nil {
		logger.WarnContext(ctx, "backend logout failed", zap.Error(err))
	}
	if m.clear(ctx) {
		m.notify(ReasonLogout, false)
	}
	return nil
}

// ForceLogout ends the session without calling the backend, e.g. after a
// 401. Listeners run in the background and only once per session.
func (m *Manager) ForceLogout(reason string) {
	if m.clear(context.Background()) {
		logger.Warn("session ended", zap.String("reason", reason))
		m.notify(reason, true)
	}
}

// clear drops the session and reports whether there was one.
func (m *Manager) clear(ctx context.Context) bool {
	m.mu.Lock()
	had := m.session != nil
	m.session = nil
	m.mu.Unlock()
	if !had {
		return false
	}
	if err := m.store.Delete(ctx, storageKey); err != nil {
		logger.Warn("failed to delete stored session", zap.Error(err))
	}
	return true
}

func (m *Manager) notify(reason string, background bool) {
	logoutsTotal.WithLabelValues(reason).Inc()
	m.mu.RLock()
	listeners := append([]func(string){}, m.listeners...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn := fn
		if background {
			async.Go(context.Background(), "auth-logout-listener", func(context.Context) { fn(reason) })
			continue
		}
		fn(reason)
	}
}

func (m *Manager) expired(s *tripapi.Session) bool {
	return !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(m.now())
}

func (m *Manager) ttl(s *tripapi.Session) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	return s.ExpiresAt.Sub(m.now())
}

func parseClaims(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", common.ErrMalformedResponse)
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}
	return claims, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
