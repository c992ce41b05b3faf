// Package metrics provides Prometheus instrumentation for all Flicknest
// services.
//
// Each service registers its own metrics then calls metrics.Handler() to
// expose them at GET /metrics (Prometheus scrape endpoint).
//
// Standard metrics exposed automatically by prometheus/client_golang:
//   - go_goroutines, go_gc_duration_seconds, etc. (Go runtime)
//   - process_cpu_seconds_total, process_open_fds, etc. (process)
//
// Flicknest-specific metrics registered here:
//
//	flicknest_playback_sessions_active     gauge: open player sessions
//	flicknest_overlay_enforcements_total   counter: enforcer pause/rewind actions
//	flicknest_credit_events_total          counter: gate/consume outcomes
//	flicknest_blob_objects_active          gauge: live streamed objects
//	flicknest_http_requests_total          counter: HTTP requests by service/method/path/status
//	flicknest_http_request_duration_secs   histogram: HTTP latency
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ActiveSessions is the number of currently open playback sessions.
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "flicknest_playback_sessions_active",
	Help: "Number of open playback sessions.",
})

// ActiveBlobObjects is the number of live in-memory streamed objects.
var ActiveBlobObjects = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "flicknest_blob_objects_active",
	Help: "In-memory streamed media objects not yet released.",
})

// OverlayEnforcements counts enforcer actions by transport and action.
var OverlayEnforcements = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flicknest_overlay_enforcements_total",
	Help: "Overlay enforcer actions (pause, rewind, assert).",
}, []string{"transport", "action"})

// CreditEvents counts credit gate and consumption outcomes.
// event: check|consume; result: allowed|denied|insufficient|fail_open|success.
var CreditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flicknest_credit_events_total",
	Help: "Credit gate and consumption outcomes.",
}, []string{"event", "result"})

// WalletEvents counts wallet lifecycle events (purchase, grant, webhook).
var WalletEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flicknest_wallet_events_total",
	Help: "Wallet lifecycle events.",
}, []string{"event"})

// AuthEvents counts auth events (login, register, failed, etc.).
var AuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flicknest_auth_events_total",
	Help: "Auth events by type.",
}, []string{"event", "result"})

// HTTPRequests counts HTTP requests by service, method, path, and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flicknest_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"service", "method", "path", "status"})

// HTTPDuration tracks HTTP request latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "flicknest_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"service", "method", "path"})

// Handler returns the Prometheus HTTP handler for /metrics endpoints.
// Mount this at GET /metrics in each service.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware wraps an HTTP handler to record request counts and latency.
// service is the service name (e.g. "playback", "wallet").
func Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		dur := time.Since(start).Seconds()
		path := sanitizePath(r.URL.Path)
		status := strconv.Itoa(rw.status)
		HTTPRequests.WithLabelValues(service, r.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(service, r.Method, path).Observe(dur)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// sanitizePath truncates long label values to keep cardinality sane.
// Session and object IDs in paths are capped rather than templated;
// dashboards group on prefix.
func sanitizePath(path string) string {
	if len(path) > 64 {
		return path[:64] + "..."
	}
	return path
}
