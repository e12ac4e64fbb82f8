package lifecycle

import (
	"github.com/opsgrove/incident-ledger/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentledger"

var (
	incidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "incidents_created_total",
			Help:      "Total incidents created by severity",
		},
		[]string{"severity"},
	)

	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "status_transitions_total",
			Help:      "Total accepted status transitions by edge",
		},
		[]string{"from", "to"},
	)
)

func recordIncidentCreated(severity domain.Severity) {
	incidentsCreated.WithLabelValues(string(severity)).Inc()
}

func recordTransition(from, to domain.Status) {
	statusTransitions.WithLabelValues(string(from), string(to)).Inc()
}
