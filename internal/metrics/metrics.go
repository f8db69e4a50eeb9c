// Package metrics provides Prometheus instrumentation for the Textsmith gateway.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textsmith",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "textsmith",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// GateDecisionsTotal counts gate outcomes by terminal state and reject reason.
	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textsmith",
			Name:      "gate_decisions_total",
			Help:      "Gate terminal states by outcome and reject reason.",
		},
		[]string{"outcome", "reason"},
	)

	// RateRejectionsTotal counts rate-limit rejections by plan.
	RateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textsmith",
			Name:      "rate_rejections_total",
			Help:      "Requests rejected by the hourly rate gate, by plan.",
		},
		[]string{"plan"},
	)

	// QuotaRejectionsTotal counts quota rejections by plan.
	QuotaRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textsmith",
			Name:      "quota_rejections_total",
			Help:      "Requests rejected by the monthly quota gate, by plan.",
		},
		[]string{"plan"},
	)

	// CharactersProcessedTotal accumulates committed character usage by plan.
	CharactersProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textsmith",
			Name:      "characters_processed_total",
			Help:      "Characters committed to the usage ledger, by plan.",
		},
		[]string{"plan"},
	)

	// AuditWriteFailuresTotal counts swallowed audit log write failures.
	AuditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textsmith",
			Name:      "audit_write_failures_total",
			Help:      "Audit log writes that failed and were swallowed.",
		},
	)

	// SessionsFlaggedTotal counts sessions flagged for exceeding the concurrent cap.
	SessionsFlaggedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textsmith",
			Name:      "sessions_flagged_total",
			Help:      "Sessions flagged suspicious by the session guard.",
		},
	)

	// TenantsAutoLockedTotal counts automatic temp-locks applied by the guard.
	TenantsAutoLockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textsmith",
			Name:      "tenants_auto_locked_total",
			Help:      "Tenants temp-locked automatically after repeated warnings.",
		},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textsmith",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "textsmith",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "textsmith", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "textsmith", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "textsmith", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "textsmith", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "textsmith", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "textsmith", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		GateDecisionsTotal,
		RateRejectionsTotal,
		QuotaRejectionsTotal,
		CharactersProcessedTotal,
		AuditWriteFailuresTotal,
		SessionsFlaggedTotal,
		TenantsAutoLockedTotal,
		WebhookDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
