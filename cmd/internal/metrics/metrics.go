// Package metrics exposes questguard's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "questguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "questguard_sessions_active",
			Help: "Number of sessions currently held by the registry",
		},
	)

	sessionInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questguard_session_invalidations_total",
			Help: "Total session invalidations by reason",
		},
		[]string{"reason"},
	)

	sessionRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "questguard_session_id_rotations_total",
			Help: "Total in-place session ID rotations",
		},
	)

	rateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questguard_ratelimit_decisions_total",
			Help: "Rate limiter decisions by traffic class and outcome",
		},
		[]string{"class", "outcome"},
	)
)

// SetActiveSessions records the current registry occupancy.
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}

// CountInvalidation increments the invalidation counter for reason.
func CountInvalidation(reason string) {
	sessionInvalidations.WithLabelValues(reason).Inc()
}

// CountRotation increments the session ID rotation counter.
func CountRotation() {
	sessionRotations.Inc()
}

// CountRateLimit records one limiter decision.
// Outcome is "allowed" or "blocked".
func CountRateLimit(class string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "blocked"
	}
	rateLimitDecisions.WithLabelValues(class, outcome).Inc()
}

// ObserveRequest records one served HTTP request.
func ObserveRequest(method, path string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
