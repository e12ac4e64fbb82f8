package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentledger"

var (
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatches_total",
			Help:      "Total channel dispatch attempts by outcome",
		},
		[]string{"channel", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent on a single channel dispatch",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)
)

func recordDispatch(channel, outcome string, duration time.Duration) {
	dispatchesTotal.WithLabelValues(channel, outcome).Inc()
	dispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())
}
