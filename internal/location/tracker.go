package location

import (
	"sync"

	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// Tracker owns the one position watch of a session. Samples go into a
// bounded history and a latest-wins mailbox for the navigation worker.
type Tracker struct {
	provider Provider
	history  *History
	mailbox  *Mailbox

	mu       sync.Mutex
	watchID  WatchID
	running  bool
	onError  func(error)
	prompted bool
}

// NewTracker creates a stopped tracker.
func NewTracker(provider Provider, historySize int) *Tracker {
	return &Tracker{
		provider: provider,
		history:  NewHistory(historySize),
		mailbox:  NewMailbox(),
	}
}

// OnError registers the callback for watch errors. A permission denial is
// passed on once per session so the shell prompts a single time.
func (t *Tracker) OnError(fn func(error)) {
	t.mu.Lock()
	t.onError = fn
	t.mu.Unlock()
}

// Start begins watching. Starting a running tracker is a no-op.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	id, err := t.provider.Watch(t.handle)
	if err != nil {
		return err
	}
	t.watchID = id
	t.running = true
	trackingActive.Set(1)
	logger.Info("location tracking started")
	return nil
}

// Stop clears the watch. Stopping a stopped tracker is a no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.provider.ClearWatch(t.watchID)
	t.running = false
	trackingActive.Set(0)
	logger.Info("location tracking stopped")
}

// Running reports whether the watch is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Mailbox is the hand-off consumed by the navigation worker.
func (t *Tracker) Mailbox() *Mailbox {
	return t.mailbox
}

// History returns the recent samples.
func (t *Tracker) History() *History {
	return t.history
}

func (t *Tracker) handle(s Sample, err error) {
	if err != nil {
		t.handleError(err)
		return
	}
	t.history.Add(s)
	t.mailbox.Put(s)
}

func (t *Tracker) handleError(err error) {
	t.mu.Lock()
	fn := t.onError
	if common.IsPermissionDenied(err) {
		if t.prompted {
			t.mu.Unlock()
			return
		}
		t.prompted = true
	}
	t.mu.Unlock()

	logger.Warn("location watch error", zap.Error(err))
	if fn != nil {
		fn(err)
	}
}
