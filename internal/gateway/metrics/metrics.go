// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LLMBuckets covers upstream latencies from 100ms to 2 minutes.
var LLMBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts API requests by endpoint and status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total API requests",
		},
		[]string{"endpoint", "status"},
	)

	// RequestDuration records end-to-end request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"endpoint"},
	)

	// AuthFailuresTotal counts rejected credentials by reason.
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Authentication failures",
		},
		[]string{"reason"},
	)

	// BudgetRejectionsTotal counts requests blocked by the monthly budget.
	BudgetRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_budget_rejections_total",
			Help: "Budget rejections",
		},
		[]string{"dimension"},
	)

	// RateLimitRejectedTotal counts requests rejected by the per-minute limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)

	// UpstreamLatency records provider call latency in seconds.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_seconds",
			Help:    "Upstream latency",
			Buckets: LLMBuckets,
		},
		[]string{"model", "mode"},
	)

	// UpstreamErrorsTotal counts failed provider calls by status.
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_errors_total",
			Help: "Upstream errors",
		},
		[]string{"status"},
	)

	// TokensTotal counts tokens by model and direction (input/output).
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Token count",
		},
		[]string{"model", "direction"},
	)

	// CostUSDTotal accumulates estimated spend.
	CostUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cost_usd_total",
			Help: "Estimated cost in USD",
		},
		[]string{"model"},
	)

	// DegradedResponsesTotal counts empty provider results served as fallbacks.
	DegradedResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_degraded_responses_total",
			Help: "Degraded provider responses",
		},
		[]string{"dialect"},
	)

	// StreamingConnections tracks open SSE responses.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// UsageWriteFailuresTotal counts dropped accounting writes by table.
	UsageWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_usage_write_failures_total",
			Help: "Failed usage ledger writes",
		},
		[]string{"table"},
	)

	// TouchFailuresTotal counts failed last-used updates.
	TouchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_last_used_touch_failures_total",
			Help: "Failed last_used_at updates",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AuthFailuresTotal,
		BudgetRejectionsTotal,
		RateLimitRejectedTotal,
		UpstreamLatency,
		UpstreamErrorsTotal,
		TokensTotal,
		CostUSDTotal,
		DegradedResponsesTotal,
		StreamingConnections,
		UsageWriteFailuresTotal,
		TouchFailuresTotal,
	)
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
