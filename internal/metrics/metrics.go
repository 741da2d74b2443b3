// Package metrics provides Prometheus instrumentation for the execution
// engine and lifecycle manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsbot_orders_total",
			Help: "Limit orders placed, by instrument, side and kind (passive|aggressive)",
		},
		[]string{"instrument", "side", "kind"},
	)

	OrderCancelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsbot_order_cancels_total",
			Help: "Order cancels issued, by outcome (ok|already_resolved|error)",
		},
		[]string{"outcome"},
	)

	OrderFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsbot_order_failures_total",
			Help: "Order placements rejected or failed, by instrument",
		},
		[]string{"instrument"},
	)

	RepricesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsbot_reprices_total",
			Help: "Cancel-and-replace reprices, by instrument",
		},
		[]string{"instrument"},
	)

	AggressiveAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "optionsbot_aggressive_attempts_total",
			Help: "Aggressive fallback attempts across all runs",
		},
	)

	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "optionsbot_fallbacks_total",
			Help: "Chunks that required the aggressive fallback",
		},
	)

	ChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "optionsbot_chunk_duration_seconds",
			Help:    "Wall-clock duration of chunk execution",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
	)

	OrderLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "optionsbot_order_latency_seconds",
			Help:    "Latency of order placement calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "optionsbot_runs_active",
			Help: "Execution runs currently in flight",
		},
	)

	LegsQuoting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "optionsbot_legs_quoting",
			Help: "Legs currently being quoted",
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsbot_runs_total",
			Help: "Completed execution runs, by outcome (filled|partial|aborted)",
		},
		[]string{"outcome"},
	)

	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsbot_trades_total",
			Help: "Lifecycle trades, by terminal state (closed|failed)",
		},
		[]string{"state"},
	)
)
