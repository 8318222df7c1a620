package trips

import (
	"time"

	"github.com/benbjohnson/clock"
)

// expiryTimer is the countdown attached to the shown candidate. It is only
// touched with the orchestrator lock held.
type expiryTimer struct {
	clock    clock.Clock
	duration time.Duration
	timer    *clock.Timer
}

func newExpiryTimer(clk clock.Clock, d time.Duration) *expiryTimer {
	return &expiryTimer{clock: clk, duration: d}
}

// start replaces any running countdown with one for id and returns the
// deadline. fire receives the id it was armed for.
func (e *expiryTimer) start(id string, fire func(id string)) time.Time {
	e.stop()
	e.timer = e.clock.AfterFunc(e.duration, func() { fire(id) })
	return e.clock.Now().Add(e.duration)
}

func (e *expiryTimer) stop() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
