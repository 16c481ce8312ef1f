package mempool

import "github.com/prometheus/client_golang/prometheus"

// metrics are the mempool's operational counters/gauges, registered against
// whatever prometheus.Registerer the embedding node uses — this package
// never registers against the global default registry itself, so tests and
// multiple Mempool instances in one process never collide.
type metrics struct {
	size     prometheus.Gauge
	accepted prometheus.Counter
	rejected *prometheus.CounterVec
	evicted  *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "albatross",
			Subsystem: "mempool",
			Name:      "transactions",
			Help:      "Number of transactions currently held in the mempool.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "albatross",
			Subsystem: "mempool",
			Name:      "accepted_total",
			Help:      "Total number of transactions accepted into the mempool.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "albatross",
			Subsystem: "mempool",
			Name:      "rejected_total",
			Help:      "Total number of transactions rejected, by reason.",
		}, []string{"reason"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "albatross",
			Subsystem: "mempool",
			Name:      "evicted_total",
			Help:      "Total number of transactions evicted from the mempool, by cause.",
		}, []string{"cause"}),
	}
}

// Collectors returns every metric so the embedder can register them with its
// own prometheus.Registerer (e.g. registry.MustRegister(mp.Collectors()...)).
func (m *Mempool) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.metrics.size, m.metrics.accepted, m.metrics.rejected, m.metrics.evicted}
}
