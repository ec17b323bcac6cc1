// Package telemetry provides application-level observability for Connector Hub.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<CONNECTOR_HUB_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Token refresh outcomes and latency
//   - Failure classifier verdicts and resulting disconnects
//   - Composed tool catalog sizes
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// No metric is labelled by organisation, instance or user id. Provider labels
// are bounded by the static registry.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "connector_hub"

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(connector_hub_http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(connector_hub_http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latencies, by method and route template.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Token refresh metrics, recorded by the token lifecycle manager.
//
// TokenRefreshesTotal has labels {provider, outcome} where outcome is one of
// success, no_refresh_token, provider_rejected, network_error, persist_error.
//
// Example PromQL queries:
//   - Rejected refreshes by provider:  sum by (provider) (rate(connector_hub_token_refreshes_total{outcome="provider_rejected"}[1h]))
var (
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Total number of OAuth token refresh attempts, by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	TokenRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_refresh_duration_seconds",
			Help:      "Latency of calls to provider token endpoints.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)
)

// Classification and disconnect metrics.
//
// ClassifierVerdictsTotal has labels {provider, verdict} with verdict
// credential_failure or transient. DisconnectsTotal counts instances moved to
// DISCONNECTED.
//
// Example PromQL queries:
//   - Disconnect rate:  sum by (provider) (increase(connector_hub_disconnects_total[1d]))
var (
	ClassifierVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_verdicts_total",
			Help:      "Total number of classified provider failures, by provider and verdict.",
		},
		[]string{"provider", "verdict"},
	)

	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total number of credential instances marked DISCONNECTED, by provider.",
		},
		[]string{"provider"},
	)
)

// ComposedToolsCount observes the size of each composed tool catalog.
var ComposedToolsCount = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "composed_tools",
		Help:      "Number of tools in each composed catalog.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_open_connections",
		Help:      "Current number of open database connections in the pool.",
	},
)

// RecordClassifierVerdict counts one classifier decision.
func RecordClassifierVerdict(provider string, credentialFailure bool) {
	verdict := "transient"
	if credentialFailure {
		verdict = "credential_failure"
	}
	ClassifierVerdictsTotal.WithLabelValues(provider, verdict).Inc()
}

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when the database becomes unreachable, which happens when
// the application shuts down and closes the pool.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
