// Package metrics provides Prometheus instrumentation for the flip engine.
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
	// BetsTotal counts bets placed, partitioned by direction.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flip_bets_total",
		Help: "Total number of bets placed",
	}, []string{"direction"})

	// SettlementsTotal counts settled bets by terminal status.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flip_settlements_total",
		Help: "Total number of settled bets",
	}, []string{"outcome"})

	// SettlementLatency tracks time from bet start to settlement.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flip_settlement_latency_seconds",
		Help:    "Time from bet placement to settlement in seconds",
		Buckets: []float64{55, 58, 60, 62, 65, 70, 90, 120},
	})

	// ActiveBets tracks the number of unsettled bets.
	ActiveBets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flip_active_bets",
		Help: "Number of currently pending bets",
	})

	// BankrollBalance tracks the house reserve balance.
	BankrollBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flip_bankroll_balance",
		Help: "Current house bankroll balance",
	})

	// OracleRequestsTotal counts price feed fetches by outcome
	// (hit, fetched, error, feed_down).
	OracleRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flip_oracle_requests_total",
		Help: "Total price oracle lookups",
	}, []string{"outcome"})

	// OracleFeedDown is 1 while the circuit breaker is open.
	OracleFeedDown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flip_oracle_feed_down",
		Help: "Whether the price feed circuit breaker is open (1) or closed (0)",
	})

	// RateLimitRejections counts bets rejected by the per-wallet limiter.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flip_rate_limit_rejections_total",
		Help: "Bets rejected by the per-wallet rate limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flip_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flip_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flip_http_request_duration_seconds",
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
