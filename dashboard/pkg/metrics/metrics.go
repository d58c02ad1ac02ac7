package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "truckair_build_info",
			Help: "Build information of the truckair dashboard",
		},
		[]string{"version", "commit", "date"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "truckair_store_query_duration_seconds",
			Help:    "Duration of time-series store round trips by query intent",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"intent"},
	)

	StoreQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truckair_store_queries_total",
			Help: "Total number of time-series store queries by intent and status",
		},
		[]string{"intent", "status"},
	)

	StoreRowsReturned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truckair_store_rows_total",
			Help: "Rows kept after normalization by query intent",
		},
		[]string{"intent"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "truckair_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "truckair_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordStoreQuery records the duration and outcome of one store round trip.
func RecordStoreQuery(intent string, duration time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(intent).Observe(duration.Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	StoreQueryTotal.WithLabelValues(intent, status).Inc()
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
