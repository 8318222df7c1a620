package trips

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// Poller periodically lists nearby requests and submits them as candidates.
// It never polls while a trip is active or while the driver is unavailable.
type Poller struct {
	source    CandidateSource
	orch      *Orchestrator
	clock     clock.Clock
	interval  time.Duration
	available func() bool
	failures  logger.FirstWarn
}

// NewPoller creates a poller. available reports whether the driver wants
// new work; nil means always.
func NewPoller(source CandidateSource, orch *Orchestrator, interval time.Duration, available func() bool, clk clock.Clock) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	if available == nil {
		available = func() bool { return true }
	}
	return &Poller{
		source:    source,
		orch:      orch,
		clock:     clk,
		interval:  interval,
		available: available,
	}
}

// Run polls once immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs a single cycle and returns how many requests were shown or
// queued.
func (p *Poller) Poll(ctx context.Context) int {
	if !p.shouldPoll() {
		pollCyclesTotal.WithLabelValues("skipped").Inc()
		return 0
	}

	requests, err := p.source.ListNearby(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		pollCyclesTotal.WithLabelValues("failed").Inc()
		if !common.IsAuthError(err) {
			p.failures.Log(ctx, "candidate poll failed", zap.Error(err))
		}
		return 0
	}
	pollCyclesTotal.WithLabelValues("fetched").Inc()

	submitted := 0
	for _, req := range requests {
		// the guard is re-checked per request; an accept can land mid-loop
		if !p.shouldPoll() {
			break
		}
		if p.orch.SubmitCandidate(req) != Ignored {
			submitted++
		}
	}
	return submitted
}

func (p *Poller) shouldPoll() bool {
	return p.orch.Snapshot().Active == nil && p.available()
}
