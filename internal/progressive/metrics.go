package progressive

import "github.com/prometheus/client_golang/prometheus"

var (
	tiersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetd",
			Subsystem: "progressive",
			Name:      "tiers_total",
			Help:      "Progressive tiers by outcome (loaded, substituted, failed)",
		},
		[]string{"result"},
	)

	substitutionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assetd",
			Subsystem: "progressive",
			Name:      "substitutions_total",
			Help:      "Fallback candidates tried after a tier failed",
		},
	)
)

func init() {
	prometheus.MustRegister(tiersTotal, substitutionsTotal)
}
