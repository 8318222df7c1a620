package location

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "location",
		Name:      "samples_received_total",
		Help:      "Position samples received from the device",
	})

	samplesSupersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "location",
		Name:      "samples_superseded_total",
		Help:      "Samples replaced by a newer one before they were processed",
	})

	trackingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "driver_agent",
		Subsystem: "location",
		Name:      "tracking_active",
		Help:      "1 while the location tracker is running",
	})
)
