// Package metrics exposes the embedder-scraped Prometheus surface named in
// SPEC_FULL.md's observability section: circuit-breaker state, in-flight
// semaphore usage, and retry counts. This is distinct from the external,
// UI-facing event taxonomy in internal/eventbus — it is a separate,
// internal surface meant for an operator's own dashboards, not the
// desktop UI. Grounded on SPEC_FULL.md's DOMAIN STACK table entry for
// github.com/prometheus/client_golang; the teacher repo has no existing
// metrics package to adapt, since its own observability surface
// (internal/observability) is structured logging, not a scrape endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deskpilot/orchestrator/internal/circuit"
	"github.com/deskpilot/orchestrator/internal/concurrency"
)

// circuitStateValue maps a circuit.State to the gauge value Grafana/Promql
// dashboards expect: 0 closed, 1 half-open, 2 open.
func circuitStateValue(s circuit.State) float64 {
	switch s {
	case circuit.Open:
		return 2
	case circuit.HalfOpen:
		return 1
	default:
		return 0
	}
}

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "circuit",
		Name:      "breaker_state",
		Help:      "Circuit breaker state: 0=closed, 1=half-open, 2=open.",
	}, []string{"breaker"})

	semaphoreInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "concurrency",
		Name:      "semaphore_in_use",
		Help:      "Permits currently held by a bounded-concurrency semaphore.",
	}, []string{"pool"})

	semaphoreAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "concurrency",
		Name:      "semaphore_available",
		Help:      "Permits currently free on a bounded-concurrency semaphore.",
	}, []string{"pool"})

	semaphoreWaiters = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "concurrency",
		Name:      "semaphore_waiters",
		Help:      "Goroutines currently blocked waiting to acquire a semaphore permit.",
	}, []string{"pool"})

	retryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "execution",
		Name:      "retry_total",
		Help:      "Retries attempted across DAG chunks and Office assistant tasks.",
	}, []string{"component"})
)

// CircuitStateChangeHandler returns a circuit.Config.OnStateChange callback
// that records name's transitions on the breaker_state gauge. Wire it into
// every circuit.Registry a driver constructs:
//
//	breakers := circuit.NewRegistry(circuit.Config{
//	    OnStateChange: func(from, to circuit.State) {
//	        metrics.CircuitStateChangeHandler("team-tools")(from, to)
//	    },
//	})
func CircuitStateChangeHandler(name string) func(from, to circuit.State) {
	return func(_, to circuit.State) {
		circuitBreakerState.WithLabelValues(name).Set(circuitStateValue(to))
	}
}

// ObserveSemaphore records pool's current Stats() on the semaphore gauges.
// Callers poll this periodically (e.g. from a ticker in cmd/orchestratorctl)
// since Semaphore has no state-change hook to push from.
func ObserveSemaphore(pool string, stats concurrency.SemaphoreStats) {
	semaphoreInUse.WithLabelValues(pool).Set(float64(stats.InUse))
	semaphoreAvailable.WithLabelValues(pool).Set(float64(stats.Available))
	semaphoreWaiters.WithLabelValues(pool).Set(float64(stats.Waiters))
}

// IncRetry increments component's retry counter by one. Called alongside
// every WorkerRetrying event the DAG scheduler and Office manager already
// emit over the event bus.
func IncRetry(component string) {
	retryTotal.WithLabelValues(component).Inc()
}

// Handler returns the promhttp handler for the default registerer, which
// cmd/orchestratorctl mounts at /metrics when a metrics listen address is
// configured.
func Handler() http.Handler {
	return promhttp.Handler()
}
