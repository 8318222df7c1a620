package location

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/validation"
)

const defaultMaxAge = 30 * time.Second

// BridgeProvider is a Provider fed by the shell over the local bridge. The
// shell owns the native geolocation plugin and posts every fix it gets.
type BridgeProvider struct {
	clock  clock.Clock
	maxAge time.Duration

	mu       sync.Mutex
	last     *Sample
	denied   bool
	watchers map[WatchID]WatchFunc
	nextID   WatchID
	waiters  []chan Sample
}

// NewBridgeProvider creates a provider. A nil clock uses wall time.
func NewBridgeProvider(clk clock.Clock) *BridgeProvider {
	if clk == nil {
		clk = clock.New()
	}
	return &BridgeProvider{
		clock:    clk,
		maxAge:   defaultMaxAge,
		watchers: make(map[WatchID]WatchFunc),
	}
}

// Push delivers a fix from the shell. A fix also lifts an earlier denial.
func (p *BridgeProvider) Push(s Sample) error {
	if err := validation.ValidateCoordinates(s.Lat, s.Lng); err != nil {
		return common.NewBadRequestError("invalid location sample", err)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = p.clock.Now()
	}
	samplesReceivedTotal.Inc()

	p.mu.Lock()
	p.last = &s
	p.denied = false
	waiters := p.waiters
	p.waiters = nil
	watchers := p.watchersLocked()
	p.mu.Unlock()

	for _, w := range waiters {
		w <- s
	}
	for _, fn := range watchers {
		fn(s, nil)
	}
	return nil
}

// ReportError delivers a geolocation failure from the shell. A permission
// denial reaches watchers once until a fix arrives again.
func (p *BridgeProvider) ReportError(err error) {
	p.mu.Lock()
	if common.IsPermissionDenied(err) {
		if p.denied {
			p.mu.Unlock()
			return
		}
		p.denied = true
	}
	watchers := p.watchersLocked()
	p.mu.Unlock()

	for _, fn := range watchers {
		fn(Sample{}, err)
	}
}

// CurrentPosition returns the last fix if it is fresh, otherwise it waits
// for the next one.
func (p *BridgeProvider) CurrentPosition(ctx context.Context) (Sample, error) {
	p.mu.Lock()
	if p.denied {
		p.mu.Unlock()
		return Sample{}, common.NewPermissionError("location permission denied")
	}
	if p.last != nil && p.clock.Now().Sub(p.last.Timestamp) <= p.maxAge {
		s := *p.last
		p.mu.Unlock()
		return s, nil
	}
	ch := make(chan Sample, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		p.dropWaiter(ch)
		return Sample{}, common.NewTimeoutError("timed out waiting for a location fix", ctx.Err())
	}
}

// Watch registers fn for every future fix and error.
func (p *BridgeProvider) Watch(fn WatchFunc) (WatchID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.watchers[p.nextID] = fn
	return p.nextID, nil
}

// ClearWatch removes a watch. Unknown ids are ignored.
func (p *BridgeProvider) ClearWatch(id WatchID) {
	p.mu.Lock()
	delete(p.watchers, id)
	p.mu.Unlock()
}

// Last returns the most recent fix.
func (p *BridgeProvider) Last() (Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Sample{}, false
	}
	return *p.last, true
}

func (p *BridgeProvider) watchersLocked() []WatchFunc {
	out := make([]WatchFunc, 0, len(p.watchers))
	for id := WatchID(1); id <= p.nextID; id++ {
		if fn, ok := p.watchers[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (p *BridgeProvider) dropWaiter(ch chan Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
