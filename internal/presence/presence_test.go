package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/richxcame/driver-agent/internal/realtime"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (f *fakeAPI) SetAvailability(_ context.Context, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, available)
	return nil
}

func (f *fakeAPI) history() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool{}, f.calls...)
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	statuses []realtime.DriverStatus
}

func (f *fakeBroadcaster) BroadcastAvailability(context.Context, bool) error { return nil }

func (f *fakeBroadcaster) BroadcastStatus(_ context.Context, s realtime.DriverStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
	return nil
}

func (f *fakeBroadcaster) history() []realtime.DriverStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.DriverStatus{}, f.statuses...)
}

type fakeTracking struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (f *fakeTracking) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		f.starts++
	}
	f.running = true
	return nil
}

func (f *fakeTracking) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeTracking) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func newManager(keep bool) (*Manager, *fakeAPI, *fakeBroadcaster, *fakeTracking) {
	api := &fakeAPI{}
	b := &fakeBroadcaster{}
	tr := &fakeTracking{}
	m := NewManager(Config{API: api, Broadcaster: b, Tracking: tr, Store: storage.NewMemoryStore(), KeepAvailableDuringTrip: keep})
	return m, api, b, tr
}

func tripChange(active bool) trips.Change {
	var snap trips.Snapshot
	if active {
		snap.Active = &trips.UnifiedRequest{ID: "r1", Status: trips.StatusAccepted}
	}
	return trips.Change{Kind: trips.ChangeActive, Snapshot: snap}
}

func TestOnlineMakesAvailableAndStartsTracking(t *testing.T) {
	m, api, b, tr := newManager(false)

	require.NoError(t, m.SetOnline(context.Background(), true))

	assert.Equal(t, State{Online: true, Available: true, Tracking: true}, m.State())
	assert.Equal(t, []bool{true}, api.history())
	assert.Equal(t, []realtime.DriverStatus{realtime.DriverOnline}, b.history())
	assert.True(t, tr.Running())
}

func TestOfflineForcesUnavailable(t *testing.T) {
	m, api, b, tr := newManager(false)
	ctx := context.Background()
	require.NoError(t, m.SetOnline(ctx, true))

	require.NoError(t, m.SetOnline(ctx, false))

	assert.Equal(t, State{}, m.State())
	assert.Equal(t, []bool{true, false}, api.history())
	assert.Equal(t, realtime.DriverOffline, b.history()[1])
	assert.False(t, tr.Running())

	err := m.SetAvailable(ctx, true)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRemoteFailureKeepsPreviousState(t *testing.T) {
	m, api, _, tr := newManager(false)
	api.err = common.NewNetworkError("could not reach server", errors.New("dial"))

	err := m.SetOnline(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, State{}, m.State())
	assert.False(t, tr.Running())
}

func TestTripSuspendsAndRestoresAvailability(t *testing.T) {
	m, api, b, tr := newManager(false)
	require.NoError(t, m.SetOnline(context.Background(), true))

	m.OnTripChange(tripChange(true))
	assert.Equal(t, State{Online: true, Available: false, OnTrip: true, Tracking: true}, m.State())
	require.Eventually(t, func() bool { return len(api.history()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, api.history())
	require.Eventually(t, func() bool { return len(b.history()) == 2 }, time.Second, 5*time.Millisecond)

	m.OnTripChange(tripChange(false))
	assert.True(t, m.Available())
	require.Eventually(t, func() bool { return len(api.history()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false, true}, api.history())
	require.Eventually(t, func() bool { return len(b.history()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []realtime.DriverStatus{realtime.DriverOnline, realtime.DriverBusy, realtime.DriverOnline}, b.history())
	assert.True(t, tr.Running())
	m.Close()
}

func TestTripRestoresLastExplicitChoice(t *testing.T) {
	m, api, _, _ := newManager(false)
	ctx := context.Background()
	require.NoError(t, m.SetOnline(ctx, true))
	m.OnTripChange(tripChange(true))

	require.NoError(t, m.SetAvailable(ctx, false))
	m.OnTripChange(tripChange(false))
	m.Close()

	assert.False(t, m.Available())
	history := api.history()
	assert.False(t, history[len(history)-1])
}

func TestKeepAvailableDuringTrip(t *testing.T) {
	m, api, _, _ := newManager(true)
	require.NoError(t, m.SetOnline(context.Background(), true))

	m.OnTripChange(tripChange(true))
	m.Close()

	assert.True(t, m.Available())
	assert.Equal(t, []bool{true}, api.history())
}

func TestTrackingRunsForTripWhileOffline(t *testing.T) {
	m, api, _, tr := newManager(false)

	m.OnTripChange(tripChange(true))
	assert.True(t, tr.Running())
	assert.False(t, m.Available())

	m.OnTripChange(tripChange(false))
	assert.False(t, tr.Running())
	m.Close()
	assert.Empty(t, api.history())
}

func TestApplyRemote(t *testing.T) {
	m, api, _, _ := newManager(false)
	require.NoError(t, m.SetOnline(context.Background(), true))
	var seen []State
	m.Subscribe(func(s State) { seen = append(seen, s) })

	no := false
	m.ApplyRemote(nil, &no)
	assert.Equal(t, State{Online: true, Tracking: true}, m.State())

	m.ApplyRemote(&no, nil)
	assert.Equal(t, State{}, m.State())

	assert.Len(t, seen, 2)
	assert.Equal(t, []bool{true}, api.history())
}

func TestRestore(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	first := NewManager(Config{API: &fakeAPI{}, Store: store})
	require.NoError(t, first.SetOnline(ctx, true))
	require.NoError(t, first.SetAvailable(ctx, false))

	api := &fakeAPI{}
	second := NewManager(Config{API: api, Store: store})
	state, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, state.Online)
	assert.False(t, state.Available)
	assert.Equal(t, []bool{true, false}, api.history())
}

func TestRestoreWithoutSavedState(t *testing.T) {
	m := NewManager(Config{API: &fakeAPI{}, Store: storage.NewMemoryStore()})
	state, err := m.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, State{}, state)
}
