// Package metrics contains the prometheus collectors for the API and the
// scheduling engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinic",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"route"},
	)

	// AppointmentOps counts lifecycle operations by operation and outcome
	// (ok, validation, conflict, not_found, error).
	AppointmentOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "appointment_operations_total",
			Help:      "Appointment lifecycle operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// Notifications counts per-recipient dispatch results.
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "notifications_total",
			Help:      "Notifications by type and result (sent, failed, skipped).",
		},
		[]string{"type", "result"},
	)

	// LockWait observes time spent acquiring practitioner locks.
	LockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clinic",
			Name:      "practitioner_lock_wait_seconds",
			Help:      "Time spent waiting for a practitioner schedule lock.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, AppointmentOps, Notifications, LockWait)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments requests using the matched chi route pattern, so
// path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
