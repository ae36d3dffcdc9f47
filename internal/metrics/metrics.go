// Package metrics provides Prometheus instrumentation for the arena engine.
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
	// OrdersSubmitted counts accepted order submissions by type and side.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_orders_submitted_total",
		Help: "Accepted order submissions",
	}, []string{"type", "side"})

	// OrderRejections counts submissions rejected by validation.
	OrderRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_order_rejections_total",
		Help: "Order submissions rejected by validation",
	})

	// OrdersCancelled counts successful cancellations of resting orders.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_orders_cancelled_total",
		Help: "Resting orders cancelled before filling",
	})

	// FillsTotal counts executed fills by reason.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_fills_total",
		Help: "Executed fills",
	}, []string{"reason"})

	// TicksProcessed counts quote ticks evaluated per instrument.
	TicksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_ticks_processed_total",
		Help: "Quote ticks evaluated against entry books",
	}, []string{"instrument"})

	// EntriesOpened counts competition entries opened.
	EntriesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_entries_opened_total",
		Help: "Competition entries opened",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
