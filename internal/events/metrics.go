package events

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetd",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published on the bus by name",
		},
		[]string{"name"},
	)

	droppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assetd",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Event deliveries skipped because a subscriber was full",
		},
	)

	subscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "assetd",
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Current event stream subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(publishedTotal, droppedTotal, subscribersGauge)
}
