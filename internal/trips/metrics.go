package trips

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	candidateOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "trips",
		Name:      "candidate_outcomes_total",
		Help:      "Incoming requests by outcome (shown, queued, accepted, accept_failed, declined, expired, withdrawn)",
	}, []string{"outcome"})

	statusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "trips",
		Name:      "status_transitions_total",
		Help:      "Active trip status changes applied locally, by resulting status and source",
	}, []string{"status", "source"})

	pollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "trips",
		Name:      "poll_cycles_total",
		Help:      "Candidate poll ticks by result (fetched, skipped, failed)",
	}, []string{"result"})
)
