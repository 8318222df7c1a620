package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driver_agent",
			Subsystem: "realtime",
			Name:      "events_received_total",
			Help:      "Inbound realtime events by kind",
		},
		[]string{"kind"},
	)

	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driver_agent",
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Inbound frames that could not be decoded or were ignored",
		},
		[]string{"reason"},
	)

	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driver_agent",
			Subsystem: "realtime",
			Name:      "messages_sent_total",
			Help:      "Outbound realtime messages by type and result",
		},
		[]string{"type", "result"},
	)

	connectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driver_agent",
			Subsystem: "realtime",
			Name:      "connections_total",
			Help:      "Connection attempts by transport and result",
		},
		[]string{"transport", "result"},
	)

	connected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "driver_agent",
			Subsystem: "realtime",
			Name:      "connected",
			Help:      "Whether the realtime transport is connected",
		},
		[]string{"transport"},
	)
)
