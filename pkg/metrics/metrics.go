// Package metrics exposes the per-category counters the engine's error
// model requires (spec section on error handling: "a counter incremented
// internally by category"). Grounded on the teacher corpus's
// prometheus/client_golang usage pattern (the dependency was already present
// in the teacher's go.sum, unused; this promotes it to a real, direct use).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AbortsTotal counts transaction aborts by xerrors.Kind string value.
	AbortsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stm",
		Name:      "txn_aborts_total",
		Help:      "Transaction aborts, labeled by abort kind.",
	}, []string{"kind", "protocol"})

	// CommitsTotal counts successful commits by protocol (occ, twopl, paroc).
	CommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stm",
		Name:      "txn_commits_total",
		Help:      "Committed transactions, labeled by protocol.",
	}, []string{"protocol"})

	// RetriesTotal counts caller-driven retries after a FailedLocking abort.
	RetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stm",
		Name:      "txn_retries_total",
		Help:      "Transaction retries issued after a retryable abort.",
	})

	// WaitSpinsTripped counts how many times a busy-wait loop (2PL lock
	// wait, ParOCC dependency wait) exceeded its spin budget. The loop keeps
	// waiting after the count; it is not escalated to a fatal error.
	WaitSpinsTripped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stm",
		Name:      "paroc_wait_spins_tripped_total",
		Help:      "Bounded spin loops that exceeded their budget, labeled by site.",
	}, []string{"site"})
)

func init() {
	prometheus.MustRegister(AbortsTotal, CommitsTotal, RetriesTotal, WaitSpinsTripped)
}
