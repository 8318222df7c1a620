package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/richxcame/driver-agent/internal/auth"
	"github.com/richxcame/driver-agent/internal/location"
	"github.com/richxcame/driver-agent/internal/navigation"
	"github.com/richxcame/driver-agent/internal/proof"
	"github.com/richxcame/driver-agent/internal/realtime"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/config"
	"github.com/richxcame/driver-agent/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) Emit(event string, _ interface{}) int {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return 1
}

func (r *recordingEmitter) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

// fakeBackend serves the REST endpoints a session touches on startup.
type fakeBackend struct {
	t           *testing.T
	statsStatus atomic.Int32
	logouts     atomic.Int32
}

func (b *fakeBackend) token() string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: "drv-1",
		Role:   "driver",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(b.t, err)
	return token
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respond := func(status int, data interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(common.Response{Success: status < 300, Data: data})
	}

	switch r.URL.Path {
	case "/api/v1/auth/login":
		respond(http.StatusOK, map[string]interface{}{
			"token": b.token(),
			"user":  map[string]string{"id": "drv-1", "first_name": "Thandi", "last_name": "M"},
		})
	case "/api/v1/auth/logout":
		b.logouts.Add(1)
		respond(http.StatusOK, nil)
	case "/api/v1/driver/trips/active", "/api/v1/driver/requests/nearby":
		respond(http.StatusOK, []interface{}{})
	case "/api/v1/driver/stats":
		if status := int(b.statsStatus.Load()); status != 0 {
			respond(status, nil)
			return
		}
		respond(http.StatusOK, map[string]interface{}{"total_trips": 3})
	case "/api/v1/driver/earnings":
		respond(http.StatusOK, map[string]interface{}{"period": "today"})
	default:
		respond(http.StatusNotFound, nil)
	}
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{
			APIBaseURL:        baseURL,
			RealtimeTransport: "none",
			HTTPTimeout:       2 * time.Second,
		},
		Trip: config.TripConfig{
			CandidateExpiry:       20 * time.Second,
			PollInterval:          time.Hour,
			ArrivalGraceDelay:     3 * time.Second,
			ArrivedEscalation:     30 * time.Second,
			DestinationEscalation: 45 * time.Second,
		},
		Navigation: config.NavigationConfig{
			ArrivalThresholdMeters: 30,
			UIMinDistanceMeters:    5,
			UIMinInterval:          2 * time.Second,
			RemoteMinInterval:      10 * time.Second,
			ArrivalCheckInterval:   5 * time.Second,
			RouteRecalcMeters:      50,
			RouteRecalcInterval:    30 * time.Second,
			HistoryLength:          5,
		},
		Routing: config.RoutingConfig{Provider: "osrm", OSRMURL: baseURL},
	}
}

type testAgent struct {
	agent   *Agent
	backend *fakeBackend
	emitter *recordingEmitter
	store   storage.Store
}

func newTestAgent(t *testing.T, store storage.Store, uploader ProofUploader) *testAgent {
	t.Helper()
	backend := &fakeBackend{t: t}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	if store == nil {
		store = storage.NewMemoryStore()
	}
	emitter := &recordingEmitter{}
	agent, err := New(Options{
		Config:   testConfig(srv.URL),
		Store:    store,
		Emitter:  emitter,
		Location: location.NewBridgeProvider(nil),
		Uploader: uploader,
		Clock:    clock.NewMock(),
	})
	require.NoError(t, err)
	t.Cleanup(agent.Close)
	return &testAgent{agent: agent, backend: backend, emitter: emitter, store: store}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestLoginStartsAndLogoutEndsSession(t *testing.T) {
	ta := newTestAgent(t, nil, nil)
	ctx := context.Background()

	_, ok := ta.agent.Services()
	require.False(t, ok)

	session, err := ta.agent.Login(ctx, "driver@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "drv-1", session.DriverID)

	services, ok := ta.agent.Services()
	require.True(t, ok)
	assert.Nil(t, services.Trips.Snapshot().Active)
	assert.True(t, ta.emitter.has(EventSessionStarted))

	require.NoError(t, ta.agent.Logout(ctx))
	_, ok = ta.agent.Services()
	assert.False(t, ok)
	assert.True(t, ta.emitter.has(EventSessionEnded))
	assert.Equal(t, int32(1), ta.backend.logouts.Load())
}

func TestUnauthorizedResponseForcesLogout(t *testing.T) {
	ta := newTestAgent(t, nil, nil)
	ta.backend.statsStatus.Store(http.StatusUnauthorized)

	_, err := ta.agent.Login(context.Background(), "driver@example.com", "secret123")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := ta.agent.Services()
		return !ok
	}, 3*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return ta.emitter.has(EventSessionEnded) }, time.Second, 10*time.Millisecond)
}

func TestStartRestoresStoredSession(t *testing.T) {
	store := storage.NewMemoryStore()
	first := newTestAgent(t, store, nil)
	_, err := first.agent.Login(context.Background(), "driver@example.com", "secret123")
	require.NoError(t, err)
	first.agent.Close()

	second := newTestAgent(t, store, nil)
	require.NoError(t, second.agent.Start(context.Background()))

	session, ok := second.agent.Session()
	require.True(t, ok)
	assert.Equal(t, "drv-1", session.driverID)
}

func TestStartWithoutStoredSession(t *testing.T) {
	ta := newTestAgent(t, nil, nil)
	require.NoError(t, ta.agent.Start(context.Background()))
	_, ok := ta.agent.Services()
	assert.False(t, ok)
}

type fakeUploader struct {
	calls atomic.Int32
}

func (f *fakeUploader) Upload(_ context.Context, tripID string, photo []byte, contentType string) (*proof.Upload, error) {
	f.calls.Add(1)
	return &proof.Upload{Key: "p/" + tripID, TripID: tripID, Size: len(photo), ContentType: contentType}, nil
}

func TestUploadProofRules(t *testing.T) {
	ctx := context.Background()

	disabled := newTestAgent(t, nil, nil)
	_, err := disabled.agent.UploadProof(ctx, "d1", []byte{1}, "image/jpeg")
	assert.ErrorIs(t, err, common.ErrCapabilityUnavailable)

	uploader := &fakeUploader{}
	ta := newTestAgent(t, nil, uploader)

	_, err = ta.agent.UploadProof(ctx, "d1", []byte{1}, "image/jpeg")
	assert.ErrorIs(t, err, common.ErrNotLoggedIn)

	_, err = ta.agent.Login(ctx, "driver@example.com", "secret123")
	require.NoError(t, err)

	_, err = ta.agent.UploadProof(ctx, "d1", []byte{1}, "image/jpeg")
	assert.ErrorIs(t, err, common.ErrStaleTrip)
	assert.Equal(t, int32(0), uploader.calls.Load())
}

func TestRegisterPushTokenNeedsSession(t *testing.T) {
	ta := newTestAgent(t, nil, nil)
	err := ta.agent.RegisterPushToken(context.Background(), "tok", "ios")
	assert.ErrorIs(t, err, common.ErrNotLoggedIn)
}

type fakeLocationAPI struct {
	reports int
	err     error
}

func (f *fakeLocationAPI) ReportLocation(context.Context, navigation.Report) error {
	f.reports++
	return f.err
}

type fakeBroadcaster struct {
	sent int
	err  error
}

func (f *fakeBroadcaster) BroadcastLocation(context.Context, navigation.Report) error {
	f.sent++
	return f.err
}

func TestFanoutReporter(t *testing.T) {
	ctx := context.Background()
	report := navigation.Report{TripID: "r1", Lat: -26.2, Lng: 28.04, Timestamp: time.Now()}

	api := &fakeLocationAPI{}
	channel := &fakeBroadcaster{err: realtime.ErrNotConnected}
	r := &fanoutReporter{api: api, channel: channel}

	require.NoError(t, r.ReportLocation(ctx, report))
	assert.Equal(t, 1, api.reports)
	assert.Equal(t, 1, channel.sent)

	api.err = errors.New("backend down")
	assert.EqualError(t, r.ReportLocation(ctx, report), "backend down")
	assert.Equal(t, 2, channel.sent)
}

func TestNewTransport(t *testing.T) {
	tokens := func() string { return "t" }

	transport, err := newTransport(config.BackendConfig{RealtimeTransport: "none"}, tokens, nil)
	require.NoError(t, err)
	assert.Nil(t, transport)

	transport, err = newTransport(config.BackendConfig{RealtimeTransport: "websocket", WebSocketURL: "ws://localhost/ws"}, tokens, func() {})
	require.NoError(t, err)
	assert.IsType(t, &realtime.WebSocketTransport{}, transport)

	_, err = newTransport(config.BackendConfig{RealtimeTransport: "carrier-pigeon"}, tokens, nil)
	assert.Error(t, err)
}
