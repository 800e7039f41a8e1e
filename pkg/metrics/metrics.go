package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lease lifecycle metrics
var (
	AcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_acquires_total",
			Help: "Total number of acquire calls",
		},
		[]string{"result"}, // "ok", "exhausted"
	)

	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_selections_total",
			Help: "Total number of endpoint selections by routing method",
		},
		[]string{"method"}, // "sticky", "weighted", "degraded_fallback", "cold_start"
	)

	ReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_releases_total",
			Help: "Total number of release calls",
		},
		[]string{"result"}, // "released", "duplicate"
	)

	ReclaimedLeasesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ferry_reclaimed_leases_total",
			Help: "Total number of leases expired by the background reclaimer",
		},
	)

	LeasesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferry_leases_active",
			Help: "Current number of active leases per endpoint",
		},
		[]string{"endpoint"},
	)

	LeaseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ferry_lease_duration_seconds",
			Help:    "Time between lease acquisition and release",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0},
		},
	)
)

// Endpoint health metrics
var (
	EndpointState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferry_endpoint_state",
			Help: "Endpoint state (0=ejected, 1=degraded, 2=warming_up, 3=healthy)",
		},
		[]string{"endpoint"},
	)

	EndpointSuccessEWMA = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferry_endpoint_success_ewma",
			Help: "Exponentially weighted moving average of endpoint success rate",
		},
		[]string{"endpoint"},
	)

	EndpointLatencyEWMA = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferry_endpoint_latency_ewma_ms",
			Help: "Exponentially weighted moving average of endpoint latency in milliseconds",
		},
		[]string{"endpoint"},
	)

	EjectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_ejections_total",
			Help: "Total number of endpoint ejections",
		},
		[]string{"endpoint"},
	)

	ReadmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_readmissions_total",
			Help: "Total number of endpoint re-admissions after ejection",
		},
		[]string{"endpoint", "trigger"}, // "timer", "manual"
	)
)

// Stickiness metrics
var (
	StickinessLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_stickiness_lookups_total",
			Help: "Total number of stickiness table lookups",
		},
		[]string{"result"}, // "hit", "miss", "expired"
	)

	StickinessEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ferry_stickiness_entries",
			Help: "Current number of live stickiness table entries",
		},
	)
)
