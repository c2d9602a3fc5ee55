// Package metrics exposes the Prometheus collectors the cluster coordinator
// updates as it runs. Registration is opt-in: callers that want the
// /metrics route wire Registry into their own promhttp handler (see
// internal/debugserver), so importing this package has no side effects on
// the default Prometheus registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is a private collector registry owned by the client core.
var Registry = prometheus.NewRegistry()

var (
	// Redirects counts MOVED/ASK responses observed, by kind. Transient
	// replies (TRYAGAIN, CLUSTERDOWN, MASTERDOWN, LOADING) are not counted.
	Redirects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valkeygo",
		Subsystem: "cluster",
		Name:      "redirects_total",
		Help:      "Redirection responses observed, partitioned by kind (moved, ask).",
	}, []string{"kind"})

	// CircuitBreakerTrips counts transitions into Unavailable via the circuit breaker timer.
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "valkeygo",
		Subsystem: "cluster",
		Name:      "circuit_breaker_trips_total",
		Help:      "Number of times the circuit breaker tripped the cluster into Unavailable.",
	})

	// ElectionDuration observes the wall-clock time from discovery fan-out start to a winning candidate.
	ElectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "valkeygo",
		Subsystem: "cluster",
		Name:      "election_duration_seconds",
		Help:      "Time from discovery fan-out start until a topology candidate wins quorum.",
		Buckets:   prometheus.DefBuckets,
	})

	// SlotMapGeneration counts how many times the slot map has been rebuilt
	// by a winning discovery round or patched by a MOVED/ASK redirect.
	SlotMapGeneration = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "valkeygo",
		Subsystem: "cluster",
		Name:      "slot_map_generation_total",
		Help:      "Number of times the slot map was replaced (discovery) or patched (MOVED/ASK).",
	})

	// NodeClients reports the current number of running node clients.
	NodeClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "valkeygo",
		Subsystem: "cluster",
		Name:      "node_clients",
		Help:      "Number of node clients currently running.",
	})
)

func init() {
	Registry.MustRegister(Redirects, CircuitBreakerTrips, ElectionDuration, SlotMapGeneration, NodeClients)
}
