// Package metrics expone los collectors Prometheus del servicio.
// Se registran en el registry por defecto y se sirven en /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Cierres
	// ============================================
	ClosureAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourneyd_closure_attempts_total",
			Help: "Closure attempts by trigger and outcome reason (closed, already_closed, not_eligible, ...)",
		},
		[]string{"trigger", "outcome"},
	)

	ClosureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourneyd_closure_duration_seconds",
			Help:    "Duration of a closure attempt, from load to ledger",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	PayoutsAllocated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourneyd_payouts_allocated_total",
			Help: "Payout rows produced by closures",
		},
		[]string{"token"},
	)

	OrphansRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tourneyd_orphans_recovered_total",
		Help: "Open records deleted because a closed record already existed",
	})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tourneyd_timed_scan_duration_seconds",
		Help:    "Duration of one timed closure scan",
		Buckets: prometheus.DefBuckets,
	})

	// ============================================
	// Envíos
	// ============================================
	ResultsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourneyd_results_submitted_total",
			Help: "Result submissions by outcome (accepted or the rejection reason)",
		},
		[]string{"outcome"},
	)

	// ============================================
	// Depósitos
	// ============================================
	DepositChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourneyd_deposit_checks_total",
			Help: "Deposit reconciliations by outcome (credited, unchanged, rate_limited, transient, error)",
		},
		[]string{"network", "outcome"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourneyd_chain_rpc_duration_seconds",
			Help:    "Balance RPC latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"network"},
	)

	// ============================================
	// NATS
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tourneyd_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourneyd_events_published_total",
			Help: "Events published by subject kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)
