// Package metrics holds the Prometheus collectors of the service. They are
// registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollbook",
		Name:      "store_writes_total",
		Help:      "Writes submitted to the store, by result (ok, conflict, error).",
	}, []string{"result"})

	CascadeDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollbook",
		Name:      "cascade_deletes_total",
		Help:      "Cascade deletes committed, by parent kind.",
	}, []string{"kind"})

	TermCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollbook",
		Name:      "term_closes_total",
		Help:      "Term close attempts, by result (closed, reclosed, failed).",
	}, []string{"result"})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollbook",
		Name:      "active_subscriptions",
		Help:      "Live store subscriptions.",
	})
)
