package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersSent      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "smartline", Name: "offers_sent_total", Help: "Trip offers fanned out to drivers"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "smartline", Name: "accept_conflicts_total", Help: "Acceptance attempts that lost the optimistic update"})
	TripsCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "smartline", Name: "trips_completed_total", Help: "Trips settled exactly once"})
	LockContention  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "smartline", Name: "lock_contended_total", Help: "Critical sections entered without the lease after contention retries"})
	DriversOnline   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "smartline", Name: "drivers_online", Help: "Online drivers in the last snapshot"})
	WSConnections   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "smartline", Name: "ws_connections", Help: "Live WebSocket handles in the registry"})

	FlushBatches  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "smartline", Name: "route_flush_batches_total", Help: "Route buffer flushes committed"})
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "smartline", Name: "route_flush_failures_total", Help: "Route buffer flushes that failed and were retained"})
	PointsFlushed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "smartline", Name: "route_points_flushed_total", Help: "Route points written durably"})

	SnapshotBuilds = promauto.NewCounter(prometheus.CounterOpts{Namespace: "smartline", Name: "snapshot_builds_total", Help: "Driver snapshot materializations"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "smartline", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smartline",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
