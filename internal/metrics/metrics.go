// Package metrics provides Prometheus instrumentation for the ledger engine.
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
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeRejections counts trades rejected before commit, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trade_rejections_total",
		Help: "Trades rejected by validation, funds, holdings or quote checks",
	}, []string{"side", "reason"})

	// TradeLatency tracks end-to-end execution time, oracle call included.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// MarketVolume tracks cumulative traded volume per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_market_volume_total",
		Help: "Cumulative traded volume in base units",
	}, []string{"market", "side"})

	// FeesCollected tracks cumulative fees charged, in base currency units.
	FeesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_fees_collected_total",
		Help: "Cumulative trading fees charged",
	})

	// OracleRequests counts quote requests by outcome.
	OracleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_oracle_requests_total",
		Help: "Price oracle requests by outcome",
	}, []string{"outcome"})

	// OracleLatency tracks quote request latency.
	OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_oracle_latency_seconds",
		Help:    "Price oracle request latency in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	// LeaderboardBuild tracks leaderboard computation time (cache misses only).
	LeaderboardBuild = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_leaderboard_build_seconds",
		Help:    "Leaderboard build duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// RegisteredAccounts counts successful registrations.
	RegisteredAccounts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_registered_accounts_total",
		Help: "Accounts registered since process start",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
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

		// Route pattern keeps path-parameter cardinality bounded.
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
