package trips

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	list  []*UnifiedRequest
	err   error
	calls int32
}

func (s *fakeSource) ListNearby(context.Context) ([]*UnifiedRequest, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list, s.err
}

func (s *fakeSource) count() int {
	return int(atomic.LoadInt32(&s.calls))
}

func TestPollSubmitsCandidates(t *testing.T) {
	o, clk := newTestOrchestrator(&fakeAPI{})
	defer o.Close()
	src := &fakeSource{list: []*UnifiedRequest{ride("r1"), ride("r2"), ride("r1")}}
	p := NewPoller(src, o, 15*time.Second, nil, clk)

	assert.Equal(t, 2, p.Poll(context.Background()))
	assert.Equal(t, "r1", o.Snapshot().Candidate.ID)
	assert.Equal(t, 1, o.Snapshot().Queued)

	assert.Zero(t, p.Poll(context.Background()), "already known requests are not resubmitted")
}

func TestPollSkipsWithActiveTrip(t *testing.T) {
	o, clk := newTestOrchestrator(&fakeAPI{})
	defer o.Close()
	activate(t, o, "trip")

	src := &fakeSource{list: []*UnifiedRequest{ride("r1")}}
	p := NewPoller(src, o, 15*time.Second, nil, clk)

	assert.Zero(t, p.Poll(context.Background()))
	assert.Zero(t, src.count(), "no fetch while a trip is active")
}

func TestPollSkipsWhenUnavailable(t *testing.T) {
	o, clk := newTestOrchestrator(&fakeAPI{})
	defer o.Close()

	var available atomic.Bool
	src := &fakeSource{list: []*UnifiedRequest{ride("r1")}}
	p := NewPoller(src, o, 15*time.Second, available.Load, clk)

	assert.Zero(t, p.Poll(context.Background()))
	assert.Zero(t, src.count())

	available.Store(true)
	assert.Equal(t, 1, p.Poll(context.Background()))
}

func TestPollFailureIsSwallowed(t *testing.T) {
	o, clk := newTestOrchestrator(&fakeAPI{})
	defer o.Close()

	src := &fakeSource{err: common.NewNetworkError("could not reach server", errors.New("refused"))}
	p := NewPoller(src, o, 15*time.Second, nil, clk)

	assert.Zero(t, p.Poll(context.Background()))
	assert.Zero(t, p.Poll(context.Background()))
	assert.Equal(t, 2, src.count())
	assert.Nil(t, o.Snapshot().Candidate)
}

func TestRunTicksOnInterval(t *testing.T) {
	clk := clock.NewMock()
	o := NewOrchestrator(&fakeAPI{}, Config{CandidateExpiry: time.Hour}, clk)
	defer o.Close()
	src := &fakeSource{}
	p := NewPoller(src, o, 15*time.Second, nil, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)
	clk.Add(15 * time.Second)
	require.Eventually(t, func() bool { return src.count() == 2 }, time.Second, time.Millisecond)
	clk.Add(15 * time.Second)
	require.Eventually(t, func() bool { return src.count() == 3 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
