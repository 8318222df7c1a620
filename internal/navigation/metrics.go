package navigation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	locationPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "navigation",
		Name:      "location_pushes_total",
		Help:      "Location samples pushed or throttled per destination",
	}, []string{"destination", "result"})

	arrivalSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "navigation",
		Name:      "arrival_signals_total",
		Help:      "Arrival signals emitted by phase",
	}, []string{"phase"})

	autoAdvancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "navigation",
		Name:      "auto_advances_total",
		Help:      "Safety-net status advances by trigger and result",
	}, []string{"trigger", "status", "result"})

	routeRecalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "navigation",
		Name:      "route_recalculations_total",
		Help:      "Route recalculations by result",
	}, []string{"result"})
)
