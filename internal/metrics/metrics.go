// Package metrics exposes prometheus collectors for the estimation workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeNoData      = "no_data"
	OutcomeError       = "error"
)

var (
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "estimateur",
		Name:      "workflow_runs_total",
		Help:      "Workflow runs by outcome.",
	}, []string{"outcome"})

	Estimates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "estimateur",
		Name:      "estimates_total",
		Help:      "Estimates produced, by standing.",
	}, []string{"standing"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "estimateur",
		Name:      "fetch_duration_seconds",
		Help:      "Time spent fetching transactions for a commune.",
		Buckets:   prometheus.DefBuckets,
	})

	ArchivedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "estimateur",
		Name:      "archived_transactions_total",
		Help:      "Transactions written to the archive.",
	})

	DroppedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "estimateur",
		Name:      "archive_dropped_batches_total",
		Help:      "Batches rejected by the archive queue.",
	})
)
