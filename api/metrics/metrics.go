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
			Name: "treasury_api_build_info",
			Help: "Build information of the Treasury API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treasury_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treasury_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treasury_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Ledger metrics
	DepositsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treasury_api_deposits_total",
			Help: "Total number of successful deposits",
		},
	)

	WithdrawalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treasury_api_withdrawals_total",
			Help: "Total number of successful withdrawals",
		},
	)

	PoolBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "treasury_api_pool_balance",
			Help: "Current pool balance in base-asset units",
		},
		[]string{"pool"},
	)

	PoolShareSupply = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "treasury_api_pool_share_supply",
			Help: "Current outstanding share supply",
		},
		[]string{"pool"},
	)

	// Governance metrics
	ProposalsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treasury_api_proposals_created_total",
			Help: "Total number of withdrawal proposals created",
		},
	)

	VotesCastTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treasury_api_votes_cast_total",
			Help: "Total number of votes cast",
		},
	)

	ProposalsExecutedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treasury_api_proposals_executed_total",
			Help: "Total number of proposals executed",
		},
	)

	// Audit metrics
	AuditWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treasury_api_audit_write_errors_total",
			Help: "Total number of failed audit event writes",
		},
	)

	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treasury_api_auth_failures_total",
			Help: "Total number of rejected request signatures",
		},
		[]string{"reason"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordPool updates the per-pool ledger gauges after a mutation.
func RecordPool(poolID string, balance, shareSupply uint64) {
	PoolBalance.WithLabelValues(poolID).Set(float64(balance))
	PoolShareSupply.WithLabelValues(poolID).Set(float64(shareSupply))
}
