package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	FormsRegistered  prometheus.Counter
	InstancesCreated prometheus.Counter
	CardsSuperseded  prometheus.Counter
	CardsIssued      prometheus.Counter
	Verifications    *prometheus.CounterVec
	VerifyDuration   prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		FormsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cardgate_forms_registered_total",
			Help: "Total number of card forms registered",
		}),
		InstancesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cardgate_instances_created_total",
			Help: "Total number of card instances created",
		}),
		CardsSuperseded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cardgate_cards_superseded_total",
			Help: "Total number of card instances superseded",
		}),
		CardsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cardgate_cards_issued_total",
			Help: "Total number of card issuances created",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cardgate_verifications_total",
			Help: "Total number of verification queries by resulting entity status",
		}, []string{"entity_status"}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardgate_verify_duration_seconds",
			Help:    "Verification query latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
