package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Custody-core metrics. Decisions are labelled by effect (ALLOW/DENY) and
// basis (owner/grant/override) so role-override access stands out on a
// dashboard without reading the ledger.
var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by effect and basis.",
		},
		[]string{"effect", "basis"},
	)

	auditAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_appends_total",
			Help: "Audit ledger appends by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	integrityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_integrity_checks_total",
			Help: "Ledger verification runs by result.",
		},
		[]string{"result"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authzDecisions, auditAppends, integrityChecks,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts one authorization decision.
func ObserveDecision(effect, basis string) {
	if basis == "" {
		basis = "none"
	}
	authzDecisions.WithLabelValues(effect, basis).Inc()
}

// ObserveAppend counts one ledger append.
func ObserveAppend(action, outcome string) {
	auditAppends.WithLabelValues(action, outcome).Inc()
}

// ObserveVerification counts one integrity check run.
func ObserveVerification(valid bool) {
	result := "valid"
	if !valid {
		result = "broken"
	}
	integrityChecks.WithLabelValues(result).Inc()
}

// CanonicalPath collapses per-file URL segments so metric labels stay at a
// fixed cardinality regardless of how many evidence files exist.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, "/v1/files/"); ok && rest != "" {
		switch {
		case !strings.Contains(rest, "/"):
			return "/v1/files/:id"
		case strings.HasSuffix(rest, "/content") && strings.Count(rest, "/") == 1:
			return "/v1/files/:id/content"
		case strings.HasSuffix(rest, "/grants") && strings.Count(rest, "/") == 1:
			return "/v1/files/:id/grants"
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code for the metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
