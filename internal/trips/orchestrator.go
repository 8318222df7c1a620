package trips

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/richxcame/driver-agent/pkg/async"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/errors"
	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	declineTimeout = 10 * time.Second

	// dismissedTTL keeps a declined or expired request from being shown
	// again by the next poll while the backend still lists it.
	dismissedTTL = 10 * time.Minute
)

// Config tunes the orchestrator
type Config struct {
	CandidateExpiry time.Duration
}

// Disposition is the outcome of SubmitCandidate
type Disposition int

const (
	Ignored Disposition = iota
	Shown
	Queued
)

func (d Disposition) String() string {
	switch d {
	case Shown:
		return "shown"
	case Queued:
		return "queued"
	default:
		return "ignored"
	}
}

// ChangeKind says which part of the state changed
type ChangeKind int

const (
	ChangeCandidate ChangeKind = iota + 1
	ChangeActive
	ChangeTripEnded
)

// Change is delivered to listeners after every state transition, in order.
type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot
	// Ended is the final record of the trip for ChangeTripEnded.
	Ended *UnifiedRequest
}

// Snapshot is a read-only copy of the orchestrator state
type Snapshot struct {
	Candidate *UnifiedRequest `json:"candidate"`
	Queued    int             `json:"queued"`
	Active    *UnifiedRequest `json:"active"`
	Version   uint64          `json:"version"`
}

// Listener observes state changes. Listeners run synchronously on the
// goroutine that flushed the change and must hand slow work off.
type Listener func(Change)

type listenerEntry struct {
	id int
	fn Listener
}

// CancelResult reports a cancellation. The trip is always cleared locally;
// Warning carries a remote failure that should be shown but not block.
type CancelResult struct {
	Trip    *UnifiedRequest
	Warning error
}

// Orchestrator owns the incoming candidate and the active trip. Every
// operation reads state under the lock at entry and re-checks the trip or
// candidate id after each remote call, dropping stale results.
type Orchestrator struct {
	api   RemoteAPI
	clock clock.Clock

	mu                  sync.Mutex
	candidate           *UnifiedRequest
	queue               []*UnifiedRequest
	active              *UnifiedRequest
	expiry              *expiryTimer
	accepting           string
	expiredDuringAccept bool
	dismissed           map[string]time.Time
	closed              bool
	version             uint64
	listeners           []listenerEntry
	nextListener        int
	pending             []Change

	notifyMu sync.Mutex
	advances singleflight.Group
}

// NewOrchestrator creates an orchestrator. A nil clock uses wall time.
func NewOrchestrator(api RemoteAPI, cfg Config, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.CandidateExpiry <= 0 {
		cfg.CandidateExpiry = 20 * time.Second
	}
	return &Orchestrator{
		api:       api,
		clock:     clk,
		expiry:    newExpiryTimer(clk, cfg.CandidateExpiry),
		dismissed: make(map[string]time.Time),
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe registers a listener and returns a function that removes it.
func (o *Orchestrator) Subscribe(l Listener) func() {
	o.mu.Lock()
	o.nextListener++
	id := o.nextListener
	o.listeners = append(o.listeners, listenerEntry{id: id, fn: l})
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, e := range o.listeners {
			if e.id == id {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// SubmitCandidate shows req if nothing is shown, queues it otherwise, and
// ignores it while a trip is active or when the id is already known.
func (o *Orchestrator) SubmitCandidate(req *UnifiedRequest) Disposition {
	if req == nil || req.ID == "" {
		return Ignored
	}

	o.mu.Lock()
	d := o.submitLocked(req.Clone())
	o.mu.Unlock()
	o.flush()

	if d != Ignored {
		candidateOutcomesTotal.WithLabelValues(d.String()).Inc()
	}
	return d
}

func (o *Orchestrator) submitLocked(req *UnifiedRequest) Disposition {
	if req.Status == "" {
		req.Status = StatusPending
	}
	switch {
	case o.closed, o.active != nil:
		return Ignored
	case req.Status.IsTerminal():
		return Ignored
	case o.candidate != nil && o.candidate.ID == req.ID:
		return Ignored
	case o.queueIndexLocked(req.ID) >= 0:
		return Ignored
	case o.wasDismissedLocked(req.ID):
		return Ignored
	}

	if o.candidate == nil {
		o.showLocked(req)
		return Shown
	}
	o.queue = append(o.queue, req)
	o.emitLocked(ChangeCandidate, nil)
	return Queued
}

// Accept accepts the shown candidate. On failure the candidate stays shown
// and the error is returned for the driver to retry or let it expire.
func (o *Orchestrator) Accept(ctx context.Context, candidateID string) (*UnifiedRequest, error) {
	o.mu.Lock()
	if err := o.checkCandidateLocked(candidateID); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	ref := Ref{ID: o.candidate.ID, Kind: o.candidate.Kind}
	shown := o.candidate.Clone()
	o.accepting = candidateID
	o.mu.Unlock()

	trip, err := o.api.Accept(ctx, ref)

	o.mu.Lock()
	o.accepting = ""
	expired := o.expiredDuringAccept
	o.expiredDuringAccept = false

	if err != nil {
		expireNow := expired && o.candidate != nil && o.candidate.ID == candidateID
		if expireNow {
			o.dismissLocked(candidateID)
			o.promoteLocked()
		}
		o.mu.Unlock()
		o.flush()

		candidateOutcomesTotal.WithLabelValues("accept_failed").Inc()
		logger.WarnContext(ctx, "accept failed", append(logger.TripFields(candidateID, ""), zap.Error(err))...)
		if expireNow {
			candidateOutcomesTotal.WithLabelValues("expired").Inc()
			o.declineRemote(ctx, ref, "")
		}
		return nil, err
	}

	if o.active != nil && o.active.ID != candidateID {
		activeID := o.active.ID
		o.mu.Unlock()
		logger.WarnContext(ctx, "accept resolved after another trip became active",
			zap.String("candidate_id", candidateID), zap.String("active_id", activeID))
		return nil, errStaleTrip()
	}

	if trip == nil {
		trip = shown
	} else {
		trip = trip.Clone()
	}
	if trip.ID == "" {
		trip.ID = candidateID
	}
	if trip.Status == "" || trip.Status == StatusPending {
		trip.Status = StatusAccepted
	}
	if o.active != nil {
		trip.mergeFrom(o.active)
	} else {
		trip.mergeFrom(shown)
	}
	trip.ExpiresAt = nil

	o.active = trip
	o.queue = nil
	o.expiry.stop()
	o.candidate = nil
	o.emitLocked(ChangeActive, nil)
	result := trip.Clone()
	o.mu.Unlock()
	o.flush()

	candidateOutcomesTotal.WithLabelValues("accepted").Inc()
	statusTransitionsTotal.WithLabelValues(string(result.Status), "accept").Inc()
	logger.InfoContext(ctx, "trip accepted", logger.TripFields(result.ID, string(result.Status))...)
	return result, nil
}

// Decline clears the shown candidate at once and declines it remotely in
// the background. Remote failures are only logged.
func (o *Orchestrator) Decline(ctx context.Context, candidateID, reason string) error {
	o.mu.Lock()
	if err := o.checkCandidateLocked(candidateID); err != nil {
		o.mu.Unlock()
		return err
	}
	ref := Ref{ID: o.candidate.ID, Kind: o.candidate.Kind}
	o.dismissLocked(candidateID)
	o.promoteLocked()
	o.mu.Unlock()
	o.flush()

	candidateOutcomesTotal.WithLabelValues("declined").Inc()
	logger.InfoContext(ctx, "candidate declined", zap.String("candidate_id", candidateID), zap.String("reason", reason))
	o.declineRemote(ctx, ref, reason)
	return nil
}

// Expire is the implicit decline fired by the candidate countdown. It
// reports whether the candidate was still shown. An expiry that lands while
// an accept is in flight is deferred until the accept fails.
func (o *Orchestrator) Expire(candidateID string) bool {
	o.mu.Lock()
	if o.closed || o.candidate == nil || o.candidate.ID != candidateID {
		o.mu.Unlock()
		return false
	}
	if o.accepting == candidateID {
		o.expiredDuringAccept = true
		o.mu.Unlock()
		return false
	}
	ref := Ref{ID: o.candidate.ID, Kind: o.candidate.Kind}
	o.dismissLocked(candidateID)
	o.promoteLocked()
	o.mu.Unlock()
	o.flush()

	candidateOutcomesTotal.WithLabelValues("expired").Inc()
	logger.Info("candidate expired", zap.String("candidate_id", candidateID))
	o.declineRemote(context.Background(), ref, "")
	return true
}

// AdvanceOption customizes AdvanceStatus
type AdvanceOption func(*advanceOptions)

type advanceOptions struct {
	rating   *int
	location *geo.Point
	tripID   string
	pin      string
	from     []Status
}

// WithRating attaches the driver's rating of the counterparty.
func WithRating(rating int) AdvanceOption {
	return func(o *advanceOptions) { o.rating = &rating }
}

// WithLocation attaches the driver's position to the update.
func WithLocation(p geo.Point) AdvanceOption {
	return func(o *advanceOptions) { o.location = &p }
}

// WithPIN supplies the delivery PIN required to complete a delivery.
func WithPIN(pin string) AdvanceOption {
	return func(o *advanceOptions) { o.pin = pin }
}

// ForTrip rejects the advance with ErrStaleTrip unless id is still active.
func ForTrip(id string) AdvanceOption {
	return func(o *advanceOptions) { o.tripID = id }
}

// FromStatus rejects the advance with ErrStaleTrip unless the active trip is
// in one of the given statuses. Safety nets use it so they never act on a
// trip the driver already moved along.
func FromStatus(statuses ...Status) AdvanceOption {
	return func(o *advanceOptions) { o.from = statuses }
}

// AdvanceStatus moves the active trip to status. The server response
// replaces the local trip; a terminal status clears it. Concurrent identical
// advances share one remote call, and advancing to the current status is a
// no-op.
func (o *Orchestrator) AdvanceStatus(ctx context.Context, status Status, opts ...AdvanceOption) (*UnifiedRequest, error) {
	var options advanceOptions
	for _, opt := range opts {
		opt(&options)
	}

	if _, ok := ParseStatus(string(status)); !ok || status == StatusPending || status == StatusCancelled {
		return nil, common.NewBadRequestError(fmt.Sprintf("cannot advance trip to %q", status), common.ErrInvalidStatus)
	}

	o.mu.Lock()
	active := o.active
	switch {
	case active == nil:
		o.mu.Unlock()
		return nil, errNoActiveTrip()
	case options.tripID != "" && options.tripID != active.ID:
		o.mu.Unlock()
		return nil, errStaleTrip()
	case len(options.from) > 0 && !containsStatus(options.from, active.Status):
		o.mu.Unlock()
		return nil, errStaleTrip()
	case active.Status == status:
		current := active.Clone()
		o.mu.Unlock()
		return current, nil
	}
	ref := Ref{ID: active.ID, Kind: active.Kind}
	update := StatusUpdate{
		Status:      status,
		Location:    options.location,
		Rating:      options.rating,
		DeliveryPIN: options.pin,
	}
	if status == StatusDelivered && update.DeliveryPIN == "" {
		update.DeliveryPIN = active.DeliveryPIN
	}
	o.mu.Unlock()

	if status == StatusDelivered && update.DeliveryPIN == "" {
		return nil, common.NewValidationError("delivery PIN is required to complete a delivery")
	}

	v, err, shared := o.advances.Do(ref.ID+":"+string(status), func() (interface{}, error) {
		return o.api.UpdateStatus(ctx, ref, update)
	})
	if err != nil {
		logger.WarnContext(ctx, "status update failed",
			append(logger.TripFields(ref.ID, string(status)), zap.Error(err))...)
		return nil, err
	}
	if shared {
		logger.DebugContext(ctx, "status update shared with concurrent caller", logger.TripFields(ref.ID, string(status))...)
	}

	trip, _ := v.(*UnifiedRequest)
	if trip == nil {
		trip = &UnifiedRequest{ID: ref.ID, Kind: ref.Kind, Status: status}
	}
	trip = trip.Clone()
	if trip.Status == "" {
		trip.Status = status
	}
	return o.reconcile(trip, ref.ID, "advance")
}

// OnExternalTripEvent applies a realtime status push for the active trip
// through the same path as an advance response. Pushes for any other id are
// ignored.
func (o *Orchestrator) OnExternalTripEvent(trip *UnifiedRequest) bool {
	if trip == nil || trip.ID == "" {
		return false
	}
	_, err := o.reconcile(trip.Clone(), trip.ID, "realtime")
	return err == nil
}

// reconcile applies a server-authoritative trip if tripID is still active.
func (o *Orchestrator) reconcile(trip *UnifiedRequest, tripID, source string) (*UnifiedRequest, error) {
	o.mu.Lock()
	if o.active == nil || o.active.ID != tripID || (trip.ID != "" && trip.ID != tripID) {
		o.mu.Unlock()
		logger.Debug("dropping stale trip update", zap.String("trip_id", tripID), zap.String("source", source))
		return nil, errStaleTrip()
	}
	trip.ID = tripID
	trip.mergeFrom(o.active)

	if trip.Status.IsTerminal() {
		o.active = nil
		o.emitLocked(ChangeTripEnded, trip.Clone())
	} else {
		o.active = trip
		o.emitLocked(ChangeActive, nil)
	}
	result := trip.Clone()
	o.mu.Unlock()
	o.flush()

	statusTransitionsTotal.WithLabelValues(string(result.Status), source).Inc()
	logger.Info("trip status applied", append(logger.TripFields(result.ID, string(result.Status)), zap.String("source", source))...)
	return result, nil
}

// CancelActiveTrip clears the active trip locally and cancels it remotely.
// A remote failure does not undo the local clear; it is returned as
// CancelResult.Warning.
func (o *Orchestrator) CancelActiveTrip(ctx context.Context, reason string) (CancelResult, error) {
	o.mu.Lock()
	active := o.active
	if active == nil {
		o.mu.Unlock()
		return CancelResult{}, errNoActiveTrip()
	}
	ref := Ref{ID: active.ID, Kind: active.Kind}
	ended := active.Clone()
	ended.Status = StatusCancelled
	o.active = nil
	o.emitLocked(ChangeTripEnded, ended.Clone())
	o.mu.Unlock()
	o.flush()

	statusTransitionsTotal.WithLabelValues(string(StatusCancelled), "cancel").Inc()
	logger.InfoContext(ctx, "trip cancelled by driver", append(logger.TripFields(ref.ID, ""), zap.String("reason", reason))...)

	if err := o.api.Cancel(ctx, ref, reason); err != nil {
		logger.WarnContext(ctx, "remote cancel failed, trip cleared locally",
			append(logger.TripFields(ref.ID, ""), zap.Error(err))...)
		errors.CaptureWarning(ctx, err, map[string]string{"operation": "cancel_trip", "trip_id": ref.ID})
		return CancelResult{Trip: ended, Warning: err}, nil
	}
	return CancelResult{Trip: ended}, nil
}

// OnRequestCancelled withdraws a request the backend cancelled: a shown
// candidate is replaced by the next queued one, a queued one is dropped and
// a matching active trip is cleared.
func (o *Orchestrator) OnRequestCancelled(id string) bool {
	if id == "" {
		return false
	}
	o.mu.Lock()
	changed := false
	if o.candidate != nil && o.candidate.ID == id {
		o.dismissLocked(id)
		o.promoteLocked()
		changed = true
	} else if i := o.queueIndexLocked(id); i >= 0 {
		o.queue = append(o.queue[:i:i], o.queue[i+1:]...)
		o.emitLocked(ChangeCandidate, nil)
		changed = true
	}
	if o.active != nil && o.active.ID == id {
		ended := o.active.Clone()
		ended.Status = StatusCancelled
		o.active = nil
		o.emitLocked(ChangeTripEnded, ended)
		changed = true
	}
	o.mu.Unlock()
	o.flush()

	if changed {
		candidateOutcomesTotal.WithLabelValues("withdrawn").Inc()
		logger.Info("request cancelled by backend", zap.String("request_id", id))
	}
	return changed
}

// Adopt makes trip the active trip when none is active, e.g. a delivery the
// backend assigned directly or a trip recovered after a restart. Any shown
// or queued candidate is dropped.
func (o *Orchestrator) Adopt(trip *UnifiedRequest) bool {
	if trip == nil || trip.ID == "" || trip.Status.IsTerminal() {
		return false
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if o.active != nil {
		sameTrip := o.active.ID == trip.ID
		o.mu.Unlock()
		if !sameTrip {
			return false
		}
		_, err := o.reconcile(trip.Clone(), trip.ID, "adopt")
		return err == nil
	}

	adopted := trip.Clone()
	if adopted.Status == "" || adopted.Status == StatusPending {
		adopted.Status = StatusAccepted
	}
	adopted.ExpiresAt = nil
	o.expiry.stop()
	o.candidate = nil
	o.queue = nil
	o.active = adopted
	o.emitLocked(ChangeActive, nil)
	o.mu.Unlock()
	o.flush()

	statusTransitionsTotal.WithLabelValues(string(adopted.Status), "adopt").Inc()
	logger.Info("trip adopted", logger.TripFields(adopted.ID, string(adopted.Status))...)
	return true
}

// RestoreActiveTrip adopts the first non-terminal trip the backend still
// lists for this driver.
func (o *Orchestrator) RestoreActiveTrip(ctx context.Context) (*UnifiedRequest, error) {
	list, err := o.api.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, trip := range list {
		if o.Adopt(trip) {
			return o.Snapshot().Active, nil
		}
	}
	return nil, nil
}

// Close stops the expiry timer and drops listeners. Later operations are
// ignored or fail.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.expiry.stop()
	o.candidate = nil
	o.queue = nil
	o.listeners = nil
	o.pending = nil
}

func (o *Orchestrator) checkCandidateLocked(candidateID string) error {
	if o.candidate == nil || o.candidate.ID != candidateID {
		return common.NewConflictError("this request is no longer available", common.ErrCandidateMismatch)
	}
	if o.accepting == candidateID {
		return common.NewConflictError("this request is already being accepted", common.ErrCandidateBusy)
	}
	return nil
}

func (o *Orchestrator) showLocked(req *UnifiedRequest) {
	deadline := o.expiry.start(req.ID, func(id string) { o.Expire(id) })
	req.ExpiresAt = &deadline
	o.candidate = req
	o.emitLocked(ChangeCandidate, nil)
}

// promoteLocked retires the shown candidate and shows the next queued one.
func (o *Orchestrator) promoteLocked() {
	o.expiry.stop()
	o.candidate = nil
	o.expiredDuringAccept = false
	if o.active == nil && len(o.queue) > 0 {
		next := o.queue[0]
		o.queue = o.queue[1:]
		o.showLocked(next)
		return
	}
	o.emitLocked(ChangeCandidate, nil)
}

func (o *Orchestrator) queueIndexLocked(id string) int {
	for i, q := range o.queue {
		if q.ID == id {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) dismissLocked(id string) {
	now := o.clock.Now()
	for k, at := range o.dismissed {
		if now.Sub(at) >= dismissedTTL {
			delete(o.dismissed, k)
		}
	}
	o.dismissed[id] = now
}

func (o *Orchestrator) wasDismissedLocked(id string) bool {
	at, ok := o.dismissed[id]
	return ok && o.clock.Now().Sub(at) < dismissedTTL
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		Candidate: o.candidate.Clone(),
		Queued:    len(o.queue),
		Active:    o.active.Clone(),
		Version:   o.version,
	}
}

func (o *Orchestrator) emitLocked(kind ChangeKind, ended *UnifiedRequest) {
	o.version++
	if o.closed {
		return
	}
	o.pending = append(o.pending, Change{Kind: kind, Snapshot: o.snapshotLocked(), Ended: ended})
}

// flush delivers pending changes in order. Whoever holds notifyMu drains
// the queue, so a listener that calls back into the orchestrator never
// deadlocks and never sees changes out of order.
func (o *Orchestrator) flush() {
	for {
		if !o.notifyMu.TryLock() {
			return
		}
		for {
			o.mu.Lock()
			if len(o.pending) == 0 {
				o.mu.Unlock()
				break
			}
			change := o.pending[0]
			o.pending = o.pending[1:]
			listeners := append([]listenerEntry(nil), o.listeners...)
			o.mu.Unlock()

			for _, l := range listeners {
				deliver(l.fn, change)
			}
		}
		o.notifyMu.Unlock()

		o.mu.Lock()
		more := len(o.pending) > 0
		o.mu.Unlock()
		if !more {
			return
		}
	}
}

func deliver(fn Listener, change Change) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("trip listener panicked", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
		}
	}()
	fn(change)
}

func (o *Orchestrator) declineRemote(ctx context.Context, ref Ref, reason string) {
	async.GoWithTimeout(ctx, "decline-candidate", declineTimeout, func(ctx context.Context) {
		if err := o.api.Decline(ctx, ref, reason); err != nil {
			logger.WarnContext(ctx, "best-effort decline failed", zap.String("candidate_id", ref.ID), zap.Error(err))
			errors.CaptureWarning(ctx, err, map[string]string{"operation": "decline_candidate"})
		}
	})
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func errNoActiveTrip() error {
	return common.NewConflictError("there is no active trip", common.ErrNoActiveTrip)
}

func errStaleTrip() error {
	return common.NewConflictError("the trip changed while the request was in flight", common.ErrStaleTrip)
}
