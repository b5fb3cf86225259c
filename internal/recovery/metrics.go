package recovery

import "github.com/prometheus/client_golang/prometheus"

var (
	contextLossesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assetd",
			Subsystem: "recovery",
			Name:      "context_losses_total",
			Help:      "Rendering context losses reported by surfaces",
		},
	)

	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetd",
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Context reacquisition attempts by result (ok, failed)",
		},
		[]string{"result"},
	)

	degradedSurfaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "assetd",
			Subsystem: "recovery",
			Name:      "degraded_surfaces",
			Help:      "Surfaces currently in the degraded state",
		},
	)
)

func init() {
	prometheus.MustRegister(contextLossesTotal, attemptsTotal, degradedSurfaces)
}
