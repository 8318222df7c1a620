package navigation

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/richxcame/driver-agent/internal/location"
	"github.com/richxcame/driver-agent/internal/routing"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/async"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	reportTimeout      = 10 * time.Second
	routeTimeout       = 15 * time.Second
	autoAdvanceTimeout = 15 * time.Second
	closeWait          = 2 * time.Second
)

// Reconciler turns location samples and the active trip into throttled
// location reports, arrival and proximity signals, route recalculations and
// safety-net status advances. It never mutates trip state itself; it asks
// the Advancer.
type Reconciler struct {
	cfg      Config
	clock    clock.Clock
	advancer Advancer
	reporter Reporter
	router   Router
	speeds   SpeedSource

	// procMu keeps sample processing strictly sequential.
	procMu sync.Mutex

	mu               sync.Mutex
	trip             *trips.UnifiedRequest
	atPickup         bool
	atDestination    bool
	bands            map[string]bool
	current          *location.Sample
	lastUIAt         time.Time
	lastUIPoint      *geo.Point
	lastRemoteAt     time.Time
	lastArrivalCheck time.Time
	grace            *clock.Timer
	escalation       *clock.Timer
	escalationKey    string
	targetGen        uint64
	routeInFlight    bool
	routeCancel      context.CancelFunc
	routeMoved       float64
	lastRouteAt      time.Time
	route            *routing.Route
	closed           bool

	listenersMu  sync.RWMutex
	listeners    map[int]func(Update)
	nextListener int

	workers async.Group
	reports logger.FirstWarn
}

// NewReconciler creates a reconciler. reporter and router may be nil. A nil
// clock uses wall time.
func NewReconciler(cfg Config, advancer Advancer, reporter Reporter, router Router, clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconciler{
		cfg:       cfg,
		clock:     clk,
		advancer:  advancer,
		reporter:  reporter,
		router:    router,
		bands:     make(map[string]bool),
		listeners: make(map[int]func(Update)),
	}
}

// UseSpeedSource makes ETAs use the smoothed speed of src instead of the
// speed of the latest sample alone.
func (r *Reconciler) UseSpeedSource(src SpeedSource) {
	r.mu.Lock()
	r.speeds = src
	r.mu.Unlock()
}

// Subscribe registers fn for every update. The returned func unsubscribes.
func (r *Reconciler) Subscribe(fn func(Update)) func() {
	r.listenersMu.Lock()
	r.nextListener++
	id := r.nextListener
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

// Run processes samples from mailbox one at a time until ctx is done.
func (r *Reconciler) Run(ctx context.Context, mailbox *location.Mailbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-mailbox.Ready():
			if s, ok := mailbox.Take(); ok {
				r.OnLocationSample(ctx, s)
			}
		}
	}
}

// OnTripChanged gives the reconciler the orchestrator's current active trip
// (nil when there is none). Arrival flags, proximity bands and timers reset
// when the trip identity changes; a target change cancels the in-flight
// route request.
func (r *Reconciler) OnTripChanged(trip *trips.UnifiedRequest) {
	if trip != nil {
		trip = trip.Clone()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	prevID, prevPhase := "", trips.PhaseNone
	var prevTarget *geo.Point
	if r.trip != nil {
		prevID, prevPhase, prevTarget = r.trip.ID, r.trip.Status.Phase(), r.trip.Target()
	}
	newID := ""
	if trip != nil {
		newID = trip.ID
	}

	if newID != prevID {
		r.resetTripLocked()
	}
	r.trip = trip

	var newTarget *geo.Point
	newPhase := trips.PhaseNone
	if trip != nil {
		newTarget, newPhase = trip.Target(), trip.Status.Phase()
	}
	if newPhase != prevPhase || !samePoint(prevTarget, newTarget) {
		r.retargetLocked()
	}
	r.armEscalationLocked()
}

// OnLocationSample processes one sample. Calls are serialized.
func (r *Reconciler) OnLocationSample(ctx context.Context, s location.Sample) {
	r.procMu.Lock()
	defer r.procMu.Unlock()

	if s.Timestamp.IsZero() {
		s.Timestamp = r.clock.Now()
	}
	now := r.clock.Now()
	p := s.Point()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	prev := r.current
	r.current = &s

	tripID, phase, target := r.targetLocked()
	var dist *float64
	var eta *int
	if target != nil {
		d := geo.Between(p, *target)
		m := geo.EstimateMinutes(d, r.speedLocked(s))
		dist, eta = &d, &m
	}

	var updates []Update
	if r.shouldPushUILocked(now, p) {
		r.lastUIAt = now
		r.lastUIPoint = &p
		sample := s
		updates = append(updates, Update{
			Kind:           UpdateLocation,
			TripID:         tripID,
			Phase:          phase.String(),
			Location:       &sample,
			Target:         target,
			DistanceMeters: dist,
			ETAMinutes:     eta,
		})
		locationPushesTotal.WithLabelValues("ui", "pushed").Inc()
	} else {
		locationPushesTotal.WithLabelValues("ui", "throttled").Inc()
	}

	var report *Report
	if r.reporter != nil {
		if r.lastRemoteAt.IsZero() || now.Sub(r.lastRemoteAt) >= r.cfg.RemoteMinInterval {
			r.lastRemoteAt = now
			report = &Report{
				TripID:    tripID,
				Lat:       s.Lat,
				Lng:       s.Lng,
				Accuracy:  s.Accuracy,
				Speed:     s.Speed,
				Heading:   s.Heading,
				Timestamp: s.Timestamp,
				Cell:      geo.Cell(p),
			}
		} else {
			locationPushesTotal.WithLabelValues("remote", "throttled").Inc()
		}
	}

	var job *routeJob
	if target != nil {
		if u := r.checkArrivalLocked(now, tripID, phase, *dist); u != nil {
			updates = append(updates, *u)
		}
		updates = append(updates, r.proximityLocked(tripID, phase, *dist)...)
		if prev != nil {
			r.routeMoved += geo.Between(prev.Point(), p)
		}
		job = r.maybeRecalculateRouteLocked(now, p, *target)
	}
	r.mu.Unlock()

	r.publish(updates)

	if job != nil {
		r.workers.Go(job.ctx, "route-recalculation", func(ctx context.Context) {
			r.recalculate(ctx, job)
		})
	}
	if report != nil {
		r.sendReport(ctx, *report)
	}
}

// View returns the current navigation state.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	tripID, phase, target := r.targetLocked()
	v := View{
		TripID:               tripID,
		Phase:                phase.String(),
		Target:               target,
		ArrivedAtPickup:      r.atPickup,
		ArrivedAtDestination: r.atDestination,
		Route:                r.route,
	}
	if r.current != nil {
		s := *r.current
		v.Location = &s
		if target != nil {
			d := geo.Between(s.Point(), *target)
			m := geo.EstimateMinutes(d, r.speedLocked(s))
			v.DistanceMeters, v.ETAMinutes = &d, &m
		}
	}
	return v
}

// Close stops every timer and in-flight route request.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.resetTripLocked()
	r.trip = nil
	r.mu.Unlock()

	if !r.workers.Wait(closeWait) {
		logger.Warn("navigation workers still running after close")
	}
}

func (r *Reconciler) targetLocked() (string, trips.Phase, *geo.Point) {
	if r.trip == nil {
		return "", trips.PhaseNone, nil
	}
	return r.trip.ID, r.trip.Status.Phase(), r.trip.Target()
}

// shouldPushUILocked applies the dual UI throttle: moved far enough or
// waited long enough, whichever comes first.
func (r *Reconciler) speedLocked(s location.Sample) float64 {
	if r.speeds != nil {
		if v := r.speeds.AverageSpeed(); v > 0 {
			return v
		}
	}
	return s.SpeedMps()
}

func (r *Reconciler) shouldPushUILocked(now time.Time, p geo.Point) bool {
	if r.lastUIPoint == nil {
		return true
	}
	if now.Sub(r.lastUIAt) >= r.cfg.UIMinInterval {
		return true
	}
	return geo.Between(*r.lastUIPoint, p) >= r.cfg.UIMinDistanceMeters
}

func (r *Reconciler) checkArrivalLocked(now time.Time, tripID string, phase trips.Phase, dist float64) *Update {
	if !r.lastArrivalCheck.IsZero() && now.Sub(r.lastArrivalCheck) < r.cfg.ArrivalCheckInterval {
		return nil
	}
	r.lastArrivalCheck = now
	if dist > r.cfg.ArrivalThresholdMeters {
		return nil
	}

	var next trips.Status
	var from []trips.Status
	switch phase {
	case trips.PhaseToPickup:
		if r.atPickup {
			return nil
		}
		r.atPickup = true
		next, from = trips.StatusArrived, []trips.Status{trips.StatusAccepted}
	case trips.PhaseToDestination:
		if r.atDestination {
			return nil
		}
		r.atDestination = true
		next = trips.StatusArrivedAtDestination
		from = []trips.Status{trips.StatusStarted, trips.StatusInProgress, trips.StatusPickupConfirmed}
	default:
		return nil
	}

	arrivalSignalsTotal.WithLabelValues(phase.String()).Inc()
	logger.Info("arrival detected",
		append(logger.TripFields(tripID, string(r.trip.Status)),
			zap.String("phase", phase.String()),
			zap.Float64("distance_meters", dist))...)

	if containsStatus(from, r.trip.Status) {
		r.stopTimer(&r.grace)
		r.grace = r.clock.AfterFunc(r.cfg.ArrivalGraceDelay, func() {
			r.autoAdvance(tripID, next, "arrival", from)
		})
	}

	d := dist
	target := r.trip.Target()
	return &Update{
		Kind:           UpdateArrival,
		TripID:         tripID,
		Phase:          phase.String(),
		Target:         target,
		DistanceMeters: &d,
	}
}

func (r *Reconciler) proximityLocked(tripID string, phase trips.Phase, dist float64) []Update {
	var updates []Update
	for _, band := range []struct {
		name   string
		meters float64
	}{{BandNear, nearMeters}, {BandArriving, arrivingMeters}} {
		key := phase.String() + ":" + band.name
		if dist > band.meters || r.bands[key] {
			continue
		}
		r.bands[key] = true
		d := dist
		updates = append(updates, Update{
			Kind:           UpdateProximity,
			TripID:         tripID,
			Phase:          phase.String(),
			Band:           band.name,
			DistanceMeters: &d,
		})
	}
	return updates
}

type routeJob struct {
	ctx    context.Context
	gen    uint64
	origin geo.Point
	target geo.Point
}

// maybeRecalculateRouteLocked starts a route request for a new target, or
// when the driver moved far enough and long enough since the last one. One
// request is in flight at a time.
func (r *Reconciler) maybeRecalculateRouteLocked(now time.Time, p, target geo.Point) *routeJob {
	if r.router == nil {
		return nil
	}
	if !r.lastRouteAt.IsZero() &&
		(r.routeMoved < r.cfg.RouteRecalcMeters || now.Sub(r.lastRouteAt) < r.cfg.RouteRecalcInterval) {
		return nil
	}
	if r.routeInFlight {
		routeRecalculationsTotal.WithLabelValues("suppressed").Inc()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
	r.routeInFlight = true
	r.routeCancel = cancel
	r.lastRouteAt = now
	r.routeMoved = 0
	return &routeJob{ctx: ctx, gen: r.targetGen, origin: p, target: target}
}

func (r *Reconciler) recalculate(ctx context.Context, job *routeJob) {
	route, err := r.router.Directions(ctx, job.origin, job.target)

	r.mu.Lock()
	current := job.gen == r.targetGen && !r.closed
	if job.gen == r.targetGen && r.routeInFlight {
		r.routeInFlight = false
		if r.routeCancel != nil {
			r.routeCancel()
			r.routeCancel = nil
		}
	}
	if err != nil || !current {
		r.mu.Unlock()
		switch {
		case !current || errors.Is(err, context.Canceled) || errors.Is(err, routing.ErrSuperseded):
			routeRecalculationsTotal.WithLabelValues("discarded").Inc()
		default:
			routeRecalculationsTotal.WithLabelValues("failed").Inc()
			logger.Warn("route recalculation failed", zap.Error(err))
		}
		return
	}
	r.route = route
	tripID, phase, _ := r.targetLocked()
	r.mu.Unlock()

	routeRecalculationsTotal.WithLabelValues("success").Inc()
	r.publish([]Update{{Kind: UpdateRoute, TripID: tripID, Phase: phase.String(), Target: &job.target, Route: route}})
}

// armEscalationLocked keeps one safety-net timer for the waiting statuses:
// arrived moves on to the pickup status of the trip kind, arrived_at_destination
// to completion.
func (r *Reconciler) armEscalationLocked() {
	var next trips.Status
	var wait time.Duration
	key := ""
	if r.trip != nil {
		switch r.trip.Status {
		case trips.StatusArrived:
			next, wait = trips.PickupStatus(r.trip.Kind), r.cfg.ArrivedEscalation
		case trips.StatusArrivedAtDestination:
			next, wait = trips.CompletionStatus(r.trip.Kind), r.cfg.DestinationEscalation
		}
		if next != "" {
			key = r.trip.ID + ":" + string(r.trip.Status)
		}
	}
	if key == r.escalationKey {
		return
	}

	r.stopTimer(&r.escalation)
	r.escalationKey = key
	if key == "" {
		return
	}

	tripID, from := r.trip.ID, r.trip.Status
	r.escalation = r.clock.AfterFunc(wait, func() {
		r.autoAdvance(tripID, next, "escalation", []trips.Status{from})
	})
	logger.Debug("escalation armed",
		append(logger.TripFields(tripID, string(from)), zap.Duration("after", wait))...)
}

// autoAdvance asks the orchestrator to move tripID on, but only if it is
// still the active trip and still in one of the from statuses.
func (r *Reconciler) autoAdvance(tripID string, status trips.Status, trigger string, from []trips.Status) {
	r.mu.Lock()
	if r.closed || r.trip == nil || r.trip.ID != tripID {
		r.mu.Unlock()
		return
	}
	opts := []trips.AdvanceOption{trips.ForTrip(tripID), trips.FromStatus(from...)}
	if r.current != nil {
		opts = append(opts, trips.WithLocation(r.current.Point()))
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), autoAdvanceTimeout)
	defer cancel()

	_, err := r.advancer.AdvanceStatus(ctx, status, opts...)
	switch {
	case err == nil:
		autoAdvancesTotal.WithLabelValues(trigger, string(status), "advanced").Inc()
		logger.Info("trip auto-advanced", append(logger.TripFields(tripID, string(status)), zap.String("trigger", trigger))...)
	case errors.Is(err, common.ErrStaleTrip):
		autoAdvancesTotal.WithLabelValues(trigger, string(status), "stale").Inc()
	default:
		autoAdvancesTotal.WithLabelValues(trigger, string(status), "failed").Inc()
		logger.Warn("trip auto-advance failed",
			append(logger.TripFields(tripID, string(status)), zap.String("trigger", trigger), zap.Error(err))...)
	}
}

func (r *Reconciler) sendReport(ctx context.Context, report Report) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	if err := r.reporter.ReportLocation(ctx, report); err != nil {
		locationPushesTotal.WithLabelValues("remote", "failed").Inc()
		if !common.IsAuthError(err) {
			r.reports.Log(ctx, "location report failed", zap.Error(err))
		}
		return
	}
	locationPushesTotal.WithLabelValues("remote", "pushed").Inc()
}

// resetTripLocked retires everything keyed by the current trip id.
func (r *Reconciler) resetTripLocked() {
	r.atPickup = false
	r.atDestination = false
	r.bands = make(map[string]bool)
	r.stopTimer(&r.escalation)
	r.escalationKey = ""
	r.retargetLocked()
	r.route = nil
}

// retargetLocked drops state tied to the previous target.
func (r *Reconciler) retargetLocked() {
	r.targetGen++
	r.stopTimer(&r.grace)
	if r.routeCancel != nil {
		r.routeCancel()
		r.routeCancel = nil
	}
	r.routeInFlight = false
	r.routeMoved = 0
	r.lastRouteAt = time.Time{}
	r.lastArrivalCheck = time.Time{}
}

func (r *Reconciler) stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (r *Reconciler) publish(updates []Update) {
	if len(updates) == 0 {
		return
	}
	r.listenersMu.RLock()
	fns := make([]func(Update), 0, len(r.listeners))
	for id := 1; id <= r.nextListener; id++ {
		if fn, ok := r.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	r.listenersMu.RUnlock()

	for _, u := range updates {
		for _, fn := range fns {
			deliver(fn, u)
		}
	}
}

func deliver(fn func(Update), u Update) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("navigation listener panicked",
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	fn(u)
}

func samePoint(a, b *geo.Point) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func containsStatus(list []trips.Status, s trips.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
