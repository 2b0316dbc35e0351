// Package metrics registers the bridge's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stages and outcomes used as label values.
const (
	StageFetch     = "fetch"
	StageTransform = "transform"
	StageUpload    = "upload"

	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_bridge_items_total",
			Help: "Items processed per pipeline stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dspace_bridge_pages_total",
		Help: "Filtered-items pages fetched",
	})

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_bridge_runs_total",
			Help: "Harvest runs by final state",
		},
		[]string{"state"},
	)

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dspace_bridge_run_duration_seconds",
		Help:    "Wall time of a harvest run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	})

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_bridge_http_requests_total",
			Help: "Ops API requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dspace_bridge_http_request_duration_seconds",
			Help:    "Ops API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func Item(stage, outcome string) { itemsTotal.WithLabelValues(stage, outcome).Inc() }

func Page() { pagesTotal.Inc() }

func Run(state string, d time.Duration) {
	runsTotal.WithLabelValues(state).Inc()
	runDuration.Observe(d.Seconds())
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
