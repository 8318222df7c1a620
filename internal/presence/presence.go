package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/driver-agent/internal/realtime"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/async"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/storage"
	"go.uber.org/zap"
)

const (
	storageKey  = "presence:state"
	syncTimeout = 10 * time.Second
)

var stateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "driver_agent",
		Subsystem: "presence",
		Name:      "state",
		Help:      "Current presence flags (online, available, on_trip, tracking)",
	},
	[]string{"flag"},
)

// State is the driver's presence as shown in the UI
type State struct {
	Online    bool `json:"online"`
	Available bool `json:"available"`
	OnTrip    bool `json:"on_trip"`
	Tracking  bool `json:"tracking"`
}

// AvailabilityAPI is the backend call that stores availability.
type AvailabilityAPI interface {
	SetAvailability(ctx context.Context, available bool) error
}

// Broadcaster announces presence on the realtime channel.
type Broadcaster interface {
	BroadcastAvailability(ctx context.Context, available bool) error
	BroadcastStatus(ctx context.Context, status realtime.DriverStatus) error
}

// Tracking starts and stops location tracking.
type Tracking interface {
	Start() error
	Stop()
	Running() bool
}

type persisted struct {
	Online bool `json:"online"`
	Chosen bool `json:"chosen"`
}

// Manager owns the online/available flags and the tracking policy:
// tracking runs while the driver is online or has an active trip.
type Manager struct {
	api           AvailabilityAPI
	broadcaster   Broadcaster
	tracking      Tracking
	store         storage.Store
	keepAvailable bool

	mu        sync.Mutex
	online    bool
	chosen    bool // the driver's last explicit availability choice
	onTrip    bool
	listeners []func(State)
	workers   async.Group
	syncMu    sync.Mutex
}

// Config wires a Manager. Broadcaster, Tracking and Store are optional.
type Config struct {
	API         AvailabilityAPI
	Broadcaster Broadcaster
	Tracking    Tracking
	Store       storage.Store
	// KeepAvailableDuringTrip leaves availability untouched when a trip starts.
	KeepAvailableDuringTrip bool
}

// NewManager creates an offline manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		api:           cfg.API,
		broadcaster:   cfg.Broadcaster,
		tracking:      cfg.Tracking,
		store:         cfg.Store,
		keepAvailable: cfg.KeepAvailableDuringTrip,
	}
}

// State returns the current presence.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Available reports whether new requests should be offered to the driver.
func (m *Manager) Available() bool {
	return m.State().Available
}

// Subscribe registers fn for every presence change.
func (m *Manager) Subscribe(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// SetOnline switches the driver on or off shift. Going online makes the
// driver available; going offline forces unavailable. The backend is
// updated first and local state only changes when it accepts.
func (m *Manager) SetOnline(ctx context.Context, online bool) error {
	m.mu.Lock()
	prevOnline, prevChosen := m.online, m.chosen
	m.online = online
	m.chosen = online
	available := m.effectiveLocked()
	onTrip := m.onTrip
	m.mu.Unlock()

	if err := m.api.SetAvailability(ctx, available); err != nil {
		m.mu.Lock()
		m.online, m.chosen = prevOnline, prevChosen
		m.mu.Unlock()
		logger.WarnContext(ctx, "failed to change online state", zap.Bool("online", online), zap.Error(err))
		return err
	}

	m.broadcast(ctx, available, statusFor(online, onTrip))
	m.persist(ctx)
	m.changed()
	logger.InfoContext(ctx, "driver presence changed", zap.Bool("online", online), zap.Bool("available", available))
	return nil
}

// SetAvailable records the driver's availability choice. It requires the
// driver to be online. During a trip the choice is stored and applied
// when the trip ends.
func (m *Manager) SetAvailable(ctx context.Context, available bool) error {
	m.mu.Lock()
	if available && !m.online {
		m.mu.Unlock()
		return common.NewValidationError("go online before accepting requests")
	}
	prevChosen := m.chosen
	m.chosen = available
	effective := m.effectiveLocked()
	m.mu.Unlock()

	if err := m.api.SetAvailability(ctx, effective); err != nil {
		m.mu.Lock()
		m.chosen = prevChosen
		m.mu.Unlock()
		logger.WarnContext(ctx, "failed to change availability", zap.Bool("available", available), zap.Error(err))
		return err
	}

	m.broadcastAvailability(ctx, effective)
	m.persist(ctx)
	m.changed()
	return nil
}

// ApplyRemote applies a presence change pushed by the backend without
// echoing it back.
func (m *Manager) ApplyRemote(online, available *bool) {
	if online == nil && available == nil {
		return
	}
	m.mu.Lock()
	if online != nil {
		m.online = *online
		if !m.online {
			m.chosen = false
		}
	}
	if available != nil {
		m.chosen = *available && m.online
	}
	m.mu.Unlock()

	m.persist(context.Background())
	m.changed()
}

// OnTripChange keeps availability and tracking in step with the
// orchestrator's active trip. It is an orchestrator listener, so backend
// updates run in the background.
func (m *Manager) OnTripChange(change trips.Change) {
	onTrip := change.Snapshot.Active != nil

	m.mu.Lock()
	if onTrip == m.onTrip {
		m.mu.Unlock()
		return
	}
	m.onTrip = onTrip
	online := m.online
	m.mu.Unlock()

	m.changed()
	if !online {
		return
	}
	m.workers.Go(context.Background(), "presence-trip-sync", func(context.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		m.syncTrip(ctx)
	})
}

// syncTrip pushes the current state, not the one captured when the trip
// changed, so overlapping syncs converge on the latest.
func (m *Manager) syncTrip(ctx context.Context) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	m.mu.Lock()
	online, onTrip := m.online, m.onTrip
	available := m.effectiveLocked()
	m.mu.Unlock()
	if !online {
		return
	}
	if !m.keepAvailable {
		if err := m.api.SetAvailability(ctx, available); err != nil {
			logger.Warn("failed to sync availability with trip", zap.Bool("on_trip", onTrip), zap.Error(err))
		}
	}
	m.broadcast(ctx, available, statusFor(online, onTrip))
}

// Restore loads the last persisted presence and re-applies it.
func (m *Manager) Restore(ctx context.Context) (State, error) {
	if m.store == nil {
		return m.State(), nil
	}
	var p persisted
	err := storage.GetJSON(ctx, m.store, storageKey, &p)
	if errors.Is(err, storage.ErrNotFound) {
		return m.State(), nil
	}
	if err != nil {
		return m.State(), err
	}
	if !p.Online {
		return m.State(), nil
	}
	if err := m.SetOnline(ctx, true); err != nil {
		return m.State(), err
	}
	if !p.Chosen {
		if err := m.SetAvailable(ctx, false); err != nil {
			return m.State(), err
		}
	}
	return m.State(), nil
}

// Close stops tracking and waits for background syncs.
func (m *Manager) Close() {
	m.workers.Wait(syncTimeout)
	if m.tracking != nil {
		m.tracking.Stop()
	}
}

func (m *Manager) effectiveLocked() bool {
	if !m.online || !m.chosen {
		return false
	}
	return !m.onTrip || m.keepAvailable
}

func (m *Manager) stateLocked() State {
	return State{
		Online:    m.online,
		Available: m.effectiveLocked(),
		OnTrip:    m.onTrip,
		Tracking:  m.tracking != nil && m.tracking.Running(),
	}
}

// changed applies the tracking policy and notifies listeners.
func (m *Manager) changed() {
	m.mu.Lock()
	wantTracking := m.online || m.onTrip
	m.mu.Unlock()

	if m.tracking != nil {
		if wantTracking && !m.tracking.Running() {
			if err := m.tracking.Start(); err != nil {
				logger.Warn("failed to start location tracking", zap.Error(err))
			}
		} else if !wantTracking && m.tracking.Running() {
			m.tracking.Stop()
		}
	}

	m.mu.Lock()
	state := m.stateLocked()
	listeners := append([]func(State){}, m.listeners...)
	m.mu.Unlock()

	stateGauge.WithLabelValues("online").Set(boolGauge(state.Online))
	stateGauge.WithLabelValues("available").Set(boolGauge(state.Available))
	stateGauge.WithLabelValues("on_trip").Set(boolGauge(state.OnTrip))
	stateGauge.WithLabelValues("tracking").Set(boolGauge(state.Tracking))
	for _, fn := range listeners {
		fn(state)
	}
}

func (m *Manager) broadcast(ctx context.Context, available bool, status realtime.DriverStatus) {
	if m.broadcaster == nil {
		return
	}
	m.broadcastAvailability(ctx, available)
	if err := m.broadcaster.BroadcastStatus(ctx, status); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
		logger.Debug("status broadcast failed", zap.Error(err))
	}
}

func (m *Manager) broadcastAvailability(ctx context.Context, available bool) {
	if m.broadcaster == nil {
		return
	}
	if err := m.broadcaster.BroadcastAvailability(ctx, available); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
		logger.Debug("availability broadcast failed", zap.Error(err))
	}
}

func (m *Manager) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	p := persisted{Online: m.online, Chosen: m.chosen}
	m.mu.Unlock()
	if err := storage.SetJSON(ctx, m.store, storageKey, p, 0); err != nil {
		logger.Warn("failed to persist presence", zap.Error(err))
	}
}

func statusFor(online, onTrip bool) realtime.DriverStatus {
	switch {
	case !online:
		return realtime.DriverOffline
	case onTrip:
		return realtime.DriverBusy
	default:
		return realtime.DriverOnline
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
