package app

import (
	"context"
	"sync"
	"time"

	"github.com/richxcame/driver-agent/internal/auth"
	"github.com/richxcame/driver-agent/internal/bridge"
	"github.com/richxcame/driver-agent/internal/device"
	"github.com/richxcame/driver-agent/internal/earnings"
	"github.com/richxcame/driver-agent/internal/location"
	"github.com/richxcame/driver-agent/internal/navigation"
	"github.com/richxcame/driver-agent/internal/notifications"
	"github.com/richxcame/driver-agent/internal/presence"
	"github.com/richxcame/driver-agent/internal/realtime"
	"github.com/richxcame/driver-agent/internal/tripapi"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/async"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 5 * time.Second
	statsCacheTTL   = 24 * time.Hour
	restoreTimeout  = 10 * time.Second
)

// Session holds every component of one signed-in driver. Nothing in it is
// shared with the next session.
type Session struct {
	driverID string

	orchestrator *trips.Orchestrator
	poller       *trips.Poller
	tracker      *location.Tracker
	reconciler   *navigation.Reconciler
	presence     *presence.Manager
	earnings     *earnings.Service
	feed         *notifications.Feed
	channel      *realtime.Channel
	dispatcher   *realtime.Dispatcher
	caps         *device.Capabilities
	emitter      device.Emitter

	cancel  context.CancelFunc
	workers async.Group
	unsubs  []func()

	mu               sync.Mutex
	captureRequested string
	closeOnce        sync.Once
}

func newSession(ctx context.Context, a *Agent, info *tripapi.Session) *Session {
	cfg := a.cfg
	s := &Session{
		driverID: info.DriverID,
		caps:     a.caps,
		emitter:  a.emitter,
	}

	transport, err := newTransport(cfg.Backend, a.token, func() { a.auth.ForceLogout(auth.ReasonUnauthorized) })
	if err != nil {
		logger.WarnContext(ctx, "realtime transport unavailable, polling only", zap.Error(err))
	}
	s.channel = realtime.NewChannel(transport)

	s.orchestrator = trips.NewOrchestrator(a.api, trips.Config{CandidateExpiry: cfg.Trip.CandidateExpiry}, a.clock)

	s.tracker = location.NewTracker(a.location, cfg.Navigation.HistoryLength)
	s.tracker.OnError(func(err error) {
		if common.IsPermissionDenied(err) {
			a.caps.ReportDenied(device.CapabilityLocation)
		}
	})

	s.reconciler = navigation.NewReconciler(
		navigation.ConfigFrom(cfg.Navigation, cfg.Trip),
		s.orchestrator,
		&fanoutReporter{api: a.api, channel: s.channel},
		a.router,
		a.clock,
	)
	s.reconciler.UseSpeedSource(s.tracker.History())

	s.presence = presence.NewManager(presence.Config{
		API:                     a.api,
		Broadcaster:             s.channel,
		Tracking:                s.tracker,
		Store:                   a.store,
		KeepAvailableDuringTrip: cfg.Trip.KeepAvailableDuringTrip,
	})
	s.earnings = earnings.NewService(a.api, a.store, statsCacheTTL)
	s.feed = notifications.NewFeed(a.store, a.caps)
	s.dispatcher = realtime.NewDispatcher(s.channel, s.orchestrator, s.presence, s.feed)
	s.poller = trips.NewPoller(a.api, s.orchestrator, cfg.Trip.PollInterval, s.presence.Available, a.clock)

	s.unsubs = append(s.unsubs,
		s.orchestrator.Subscribe(s.onTripChange),
		s.reconciler.Subscribe(func(u navigation.Update) { s.emitter.Emit(EventNavigationUpdate, u) }),
	)
	s.presence.Subscribe(func(st presence.State) { s.emitter.Emit(EventPresenceChanged, st) })
	s.feed.OnAdded(func(n notifications.Notification) { s.emitter.Emit(EventNotificationAdded, n) })
	return s
}

// start joins the driver's room, launches the workers and restores the
// active trip and presence from the backend and storage.
func (s *Session) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.dispatcher.Start()
	if err := s.channel.JoinDriverRoom(ctx, s.driverID); err != nil {
		logger.WarnContext(ctx, "failed to join driver room", zap.Error(err))
	}

	s.workers.Go(runCtx, "realtime", func(ctx context.Context) {
		if err := s.channel.Run(ctx); err != nil {
			logger.Warn("realtime channel stopped", zap.Error(err))
		}
	})
	s.workers.Go(runCtx, "navigation", func(ctx context.Context) {
		s.reconciler.Run(ctx, s.tracker.Mailbox())
	})
	s.workers.Go(runCtx, "candidate-poller", s.poller.Run)
	s.workers.Go(runCtx, "session-restore", s.restore)
}

func (s *Session) restore(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	if trip, err := s.orchestrator.RestoreActiveTrip(ctx); err != nil {
		logger.WarnContext(ctx, "failed to restore active trip", zap.Error(err))
	} else if trip != nil {
		logger.InfoContext(ctx, "restored active trip", logger.TripFields(trip.ID, string(trip.Status))...)
	}
	if _, err := s.presence.Restore(ctx); err != nil {
		logger.WarnContext(ctx, "failed to restore presence", zap.Error(err))
	}
	if err := s.earnings.Refresh(ctx); err != nil {
		logger.DebugContext(ctx, "initial stats refresh failed", zap.Error(err))
	}
}

// onTripChange runs on the orchestrator's flush goroutine; everything it
// calls hands slow work off.
func (s *Session) onTripChange(change trips.Change) {
	active := change.Snapshot.Active
	s.reconciler.OnTripChanged(active)
	s.presence.OnTripChange(change)
	s.earnings.OnTripChange(change)
	s.emitter.Emit(EventTripChanged, change.Snapshot)

	switch change.Kind {
	case trips.ChangeCandidate:
		if change.Snapshot.Candidate != nil {
			s.caps.Vibrate(context.Background(), device.PatternHeavy)
		}
	case trips.ChangeTripEnded:
		s.caps.Vibrate(context.Background(), device.PatternSuccess)
	}

	if active != nil && active.Kind == trips.KindDelivery && active.Status == trips.StatusArrivedAtDestination {
		s.requestProof(active.ID)
	}
}

// requestProof asks the shell for a proof photo once per delivery.
func (s *Session) requestProof(tripID string) {
	s.mu.Lock()
	if s.captureRequested == tripID {
		s.mu.Unlock()
		return
	}
	s.captureRequested = tripID
	s.mu.Unlock()

	if err := s.caps.RequestCapture(context.Background(), tripID); err != nil {
		logger.Debug("proof capture unavailable", zap.String("trip_id", tripID), zap.Error(err))
	}
}

func (s *Session) services() *bridge.Services {
	return &bridge.Services{
		Trips:         s.orchestrator,
		Navigation:    s.reconciler,
		Presence:      s.presence,
		Earnings:      s.earnings,
		Notifications: s.feed,
	}
}

// Orchestrator returns the session's trip orchestrator.
func (s *Session) Orchestrator() *trips.Orchestrator { return s.orchestrator }

// Presence returns the session's presence manager.
func (s *Session) Presence() *presence.Manager { return s.presence }

// Close stops the workers and releases every timer, watch and connection.
// It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, unsub := range s.unsubs {
			unsub()
		}
		s.dispatcher.Stop()
		if s.cancel != nil {
			s.cancel()
		}

		s.orchestrator.Close()
		s.reconciler.Close()
		s.presence.Close()
		s.tracker.Stop()
		s.earnings.Close()
		if err := s.channel.Close(); err != nil {
			logger.Warn("failed to close realtime channel", zap.Error(err))
		}

		if !s.workers.Wait(shutdownTimeout) {
			logger.Warn("session workers did not stop in time")
		}
		logger.Info("session closed", zap.String("driver_id", s.driverID))
	})
}
