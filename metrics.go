package bitgrind

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the session's Prometheus collectors.
type Metrics struct {
	HashesTried    prometheus.Counter
	BlocksAccepted prometheus.Counter
	BlocksRejected prometheus.Counter
	SubmitErrors   prometheus.Counter
	StaleEvents    prometheus.Counter
	WorkerFailures prometheus.Counter
	HashRate       prometheus.Gauge
	Epoch          prometheus.Gauge
}

// NewMetrics registers the session collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HashesTried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitgrind",
			Name:      "hashes_tried_total",
			Help:      "Candidates scored across all workers.",
		}),
		BlocksAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitgrind",
			Name:      "blocks_accepted_total",
			Help:      "Proposals the ledger service accepted.",
		}),
		BlocksRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitgrind",
			Name:      "blocks_rejected_total",
			Help:      "Proposals the ledger service declined.",
		}),
		SubmitErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitgrind",
			Name:      "submit_errors_total",
			Help:      "Submissions that failed in transport.",
		}),
		StaleEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitgrind",
			Name:      "stale_events_total",
			Help:      "Worker results discarded because their epoch had advanced.",
		}),
		WorkerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitgrind",
			Name:      "worker_failures_total",
			Help:      "Workers excluded from the pool after a fatal error.",
		}),
		HashRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitgrind",
			Name:      "hash_rate",
			Help:      "Pool hash rate over the last accounting window, in hashes per second.",
		}),
		Epoch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitgrind",
			Name:      "epoch",
			Help:      "Current search epoch.",
		}),
	}
}
