// Package metrics provides Prometheus instrumentation for the wallet engine.
package metrics

import (
	"bufio"
	"errors"
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
	// PositionsComputed counts ledger replays, partitioned by outcome.
	PositionsComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_positions_computed_total",
		Help: "Total number of position computations",
	}, []string{"outcome"})

	// ComputeLatency tracks the synchronous part of a position computation.
	ComputeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_compute_latency_seconds",
		Help:    "Position computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SnapshotRows counts persisted weekly snapshot rows.
	SnapshotRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_snapshot_rows_total",
		Help: "Position snapshot rows persisted",
	})

	// SnapshotFailures counts background snapshot runs that persisted nothing.
	SnapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_snapshot_failures_total",
		Help: "Background snapshot runs that failed",
	})

	// BarsInserted counts daily bars appended to the historical store.
	BarsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_historical_bars_inserted_total",
		Help: "Daily bars appended per symbol",
	}, []string{"symbol"})

	// RefreshFailures counts failed per-symbol historical refreshes.
	RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_historical_refresh_failures_total",
		Help: "Historical refreshes that failed",
	})

	// LockWait tracks how long callers waited for a named lock.
	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_lock_wait_seconds",
		Help:    "Time spent waiting for a named lock",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"namespace"})

	// LiveTicks counts streamed trade prices received.
	LiveTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_live_ticks_total",
		Help: "Live trade prices received from the stream",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
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

		// Route pattern keeps symbol ids out of the label set.
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
