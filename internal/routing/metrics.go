package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "routing",
		Name:      "requests_total",
		Help:      "Directions requests by provider and result",
	}, []string{"provider", "result"})

	routeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "driver_agent",
		Subsystem: "routing",
		Name:      "request_duration_seconds",
		Help:      "Directions request latency by provider",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})
)
