// Package metrics provides Prometheus instrumentation for the keeper.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Order book collectors.
var (
	BookRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_book_refreshes_total",
		Help: "Order book refresh cycles by outcome (success, failure).",
	}, []string{"outcome"})

	BookRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keeper_book_refresh_duration_seconds",
		Help:    "Duration of order book refresh cycles.",
		Buckets: prometheus.DefBuckets,
	})

	BookAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_book_available",
		Help: "1 when at least one order book poll has succeeded, 0 before.",
	})

	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_open_orders",
		Help: "Open orders in the last successful poll.",
	})

	PendingPlacements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_pending_placements",
		Help: "Order placements currently in flight.",
	})

	PendingCancellations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_pending_cancellations",
		Help: "Order cancellations currently in flight.",
	})
)

// Operation collectors.
var (
	OrderPlacementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_order_placements_total",
		Help: "Order placement tasks by outcome (placed, skipped, error).",
	}, []string{"outcome"})

	OrderCancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_order_cancellations_total",
		Help: "Order cancellation tasks by outcome (cancelled, failed, error).",
	}, []string{"outcome"})
)

// Process collectors.
var (
	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_heartbeat_timestamp_seconds",
		Help: "Unix timestamp of the last keeper heartbeat.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_errors_total",
		Help: "Errors by type.",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keeper_build_info",
		Help: "Build information; always 1.",
	}, []string{"version", "commit", "build_time"})
)

// SetBuildInfo records build information.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
