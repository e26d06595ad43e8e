// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesApplied counts trades applied to the ledger, partitioned by side.
	TradesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trades_applied_total",
		Help: "Total number of trades applied to the ledger",
	}, []string{"side"})

	// ApplyLatency tracks hot-path trade application latency.
	ApplyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_apply_latency_seconds",
		Help:    "Trade application latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// InsufficientInventory counts sells rejected for exceeding lot inventory.
	InsufficientInventory = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_insufficient_inventory_total",
		Help: "Sells rejected because lot inventory was short",
	})

	// RebuildAnomalies counts trades skipped during rebuilds.
	RebuildAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_rebuild_anomalies_total",
		Help: "Historical trades skipped as anomalies during rebuilds",
	})

	// RebuildsCompleted counts finished rebuild runs.
	RebuildsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_rebuilds_completed_total",
		Help: "Completed rebuild runs",
	})

	// PnLSubscribers tracks active live-PnL subscriptions.
	PnLSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_subscribers",
		Help: "Number of active live PnL subscriptions",
	})

	// TicksDropped counts PnL updates dropped for slow subscribers
	// (latest-value-wins).
	TicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_ticks_dropped_total",
		Help: "PnL updates replaced before a slow subscriber consumed them",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
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

		// Label with the route pattern, not the raw path: URLs carry user
		// ids and mint addresses, which would make the label space unbounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
