package fdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transactionResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fdb_transaction_results_total",
		Help: "terminal results of the transaction retry loop",
	},
	[]string{"engine", "result"})

var transactionRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fdb_transaction_retries_total",
		Help: "retried transaction attempts",
	},
	[]string{"engine"})

var commitDurations = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "fdb_commit_duration_seconds",
		Help:    "commit durations as observed by the client",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"engine"})
