package app

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/richxcame/driver-agent/internal/auth"
	"github.com/richxcame/driver-agent/internal/bridge"
	"github.com/richxcame/driver-agent/internal/device"
	"github.com/richxcame/driver-agent/internal/location"
	"github.com/richxcame/driver-agent/internal/proof"
	"github.com/richxcame/driver-agent/internal/routing"
	"github.com/richxcame/driver-agent/internal/tripapi"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/config"
	apperrors "github.com/richxcame/driver-agent/pkg/errors"
	"github.com/richxcame/driver-agent/pkg/httpclient"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/resilience"
	"github.com/richxcame/driver-agent/pkg/storage"
	"go.uber.org/zap"
)

// Events pushed to the shell besides the device commands
const (
	EventSessionStarted    = "session.started"
	EventSessionEnded      = "session.ended"
	EventTripChanged       = "trip.changed"
	EventNavigationUpdate  = "navigation.update"
	EventPresenceChanged   = "presence.changed"
	EventNotificationAdded = "notification.added"
)

// ProofUploader stores delivery proof photos.
type ProofUploader interface {
	Upload(ctx context.Context, tripID string, photo []byte, contentType string) (*proof.Upload, error)
}

// Options are the installation-wide dependencies of the agent.
type Options struct {
	Config   *config.Config
	Store    storage.Store
	Emitter  device.Emitter
	Location *location.BridgeProvider
	Uploader ProofUploader // nil disables proof upload
	Router   *routing.Service
	Clock    clock.Clock

	// HTTPClient overrides the backend transport, e.g. in tests.
	HTTPClient *http.Client
}

var _ bridge.Agent = (*Agent)(nil)

// Agent owns authentication and at most one running Session. It outlives
// sessions: logging out tears the session down, logging in builds a new one.
type Agent struct {
	cfg      *config.Config
	store    storage.Store
	emitter  device.Emitter
	device   *device.BridgeDevice
	caps     *device.Capabilities
	location *location.BridgeProvider
	uploader ProofUploader
	router   *routing.Service
	clock    clock.Clock

	api  *tripapi.Client
	auth *auth.Manager

	mu      sync.Mutex
	session *Session
}

// New creates a logged-out agent.
func New(opts Options) (*Agent, error) {
	if opts.Config == nil || opts.Store == nil || opts.Location == nil {
		return nil, errors.New("app: config, store and location are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	a := &Agent{
		cfg:      opts.Config,
		store:    opts.Store,
		emitter:  opts.Emitter,
		location: opts.Location,
		uploader: opts.Uploader,
		router:   opts.Router,
		clock:    opts.Clock,
	}
	if a.emitter == nil {
		a.emitter = nopEmitter{}
	}
	if a.router == nil {
		router, err := routing.NewService(opts.Config.Routing, resilience.NewRegistry(opts.Config.Resilience.CircuitBreaker), opts.Store)
		if err != nil {
			return nil, err
		}
		a.router = router
	}

	a.device = device.NewBridgeDevice(a.emitter)
	a.caps = a.device.Capabilities()

	clientOpts := []httpclient.Option{}
	if opts.Config.Resilience.CircuitBreaker.Enabled {
		breakers := resilience.NewRegistry(opts.Config.Resilience.CircuitBreaker)
		clientOpts = append(clientOpts, httpclient.WithBreaker(breakers.Get("trip-api")))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, httpclient.WithHTTPClient(opts.HTTPClient))
	}

	// The token source reads the manager lazily; it is set right below.
	a.api = tripapi.NewClient(opts.Config.Backend.APIBaseURL, opts.Config.Backend.HTTPTimeout, a.token, clientOpts...)
	a.auth = auth.NewManager(a.api, opts.Store)

	a.api.OnUnauthorized(func() { a.auth.ForceLogout(auth.ReasonUnauthorized) })
	a.auth.OnLogout(a.onLogout)
	return a, nil
}

// Start restores a stored session, if any.
func (a *Agent) Start(ctx context.Context) error {
	session, err := a.auth.Restore(ctx)
	if errors.Is(err, common.ErrNotLoggedIn) {
		logger.InfoContext(ctx, "no stored session")
		return nil
	}
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "restored session", zap.String("driver_id", session.DriverID))
	a.startSession(ctx, session)
	return nil
}

// Login authenticates the driver and starts a fresh session.
func (a *Agent) Login(ctx context.Context, email, password string) (*tripapi.Session, error) {
	session, err := a.auth.Login(ctx, auth.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	a.startSession(ctx, session)
	return session, nil
}

// Logout ends the session. Teardown runs through the logout listener.
func (a *Agent) Logout(ctx context.Context) error {
	return a.auth.Logout(ctx)
}

// Services exposes the running session to the bridge.
func (a *Agent) Services() (*bridge.Services, bool) {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()
	if s == nil {
		return nil, false
	}
	return s.services(), true
}

// Session returns the running session.
func (a *Agent) Session() (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session, a.session != nil
}

// RegisterPushToken hands the device push token to the backend.
func (a *Agent) RegisterPushToken(ctx context.Context, token, platform string) error {
	if !a.auth.LoggedIn() {
		return common.ErrNotLoggedIn
	}
	return a.api.RegisterPushToken(ctx, token, platform)
}

// UploadProof stores a delivery proof photo for the active trip.
func (a *Agent) UploadProof(ctx context.Context, tripID string, photo []byte, contentType string) (*proof.Upload, error) {
	if a.uploader == nil {
		return nil, common.NewAppError(http.StatusServiceUnavailable, "Photo upload is not available", common.ErrCapabilityUnavailable)
	}
	s, ok := a.Session()
	if !ok {
		return nil, common.ErrNotLoggedIn
	}
	if active := s.orchestrator.Snapshot().Active; active == nil || active.ID != tripID {
		return nil, common.ErrStaleTrip
	}
	return a.uploader.Upload(ctx, tripID, photo, contentType)
}

// Capabilities returns the device capability set shared by sessions.
func (a *Agent) Capabilities() *device.Capabilities {
	return a.caps
}

// Close ends the running session without logging out, so the next start
// restores it.
func (a *Agent) Close() {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (a *Agent) token() string {
	if a.auth == nil {
		return ""
	}
	return a.auth.Token()
}

func (a *Agent) startSession(ctx context.Context, session *tripapi.Session) {
	s := newSession(ctx, a, session)

	a.mu.Lock()
	previous := a.session
	a.session = s
	a.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	apperrors.SetDriver(session.DriverID)
	s.start(ctx)
	a.emitter.Emit(EventSessionStarted, map[string]string{
		"driver_id": session.DriverID,
		"name":      session.Name,
	})
}

func (a *Agent) onLogout(reason string) {
	// A forced logout may land after a new login already replaced the session.
	if reason != auth.ReasonLogout && a.auth.LoggedIn() {
		return
	}

	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()

	if s != nil {
		s.Close()
	}
	a.caps.Reset()
	apperrors.SetDriver("")
	a.emitter.Emit(EventSessionEnded, map[string]string{"reason": reason})
	logger.Info("session torn down", zap.String("reason", reason))
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, interface{}) int { return 0 }
