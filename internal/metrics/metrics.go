// Package metrics exposes Prometheus counters for the payment engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts state-machine transitions by machine and edge.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "State machine transitions by machine, from and to status.",
	}, []string{"machine", "from", "to"})

	// ReviewFlags counts transactions moved into needs_review.
	ReviewFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_review_flags_total",
		Help: "Transactions flagged for human review.",
	}, []string{"machine"})

	// PollerRuns counts background poller ticks.
	PollerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_poller_runs_total",
		Help: "Background poller runs by job.",
	}, []string{"job"})

	// PollerErrors counts failed poller ticks.
	PollerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_poller_errors_total",
		Help: "Background poller runs that returned an error, by job.",
	}, []string{"job"})
)
