package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	earningsMetricsOnce sync.Once
	earningsRegistry    *EarningsMetrics
)

// API returns the lazily-initialised registry used to record escrowd HTTP
// handler activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "earnescrow",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "earnescrow",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "earnescrow",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "earnescrow",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// EarningsMetrics wraps collectors tracking escrow engine health.
type EarningsMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	distributed   *prometheus.CounterVec
	escrowBalance *prometheus.GaugeVec
	roleChanges   *prometheus.CounterVec
}

// Earnings exposes the metrics registry for the escrow engine.
func Earnings() *EarningsMetrics {
	earningsMetricsOnce.Do(func() {
		earningsRegistry = &EarningsMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "earnescrow",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and result code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "earnescrow",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			distributed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "earnescrow",
				Subsystem: "engine",
				Name:      "distributed_units_total",
				Help:      "Cumulative quantity released to wallets in the asset's smallest unit.",
			}, []string{"asset"}),
			escrowBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "earnescrow",
				Subsystem: "engine",
				Name:      "escrow_balance_units",
				Help:      "Observed escrow balance after the last settled operation.",
			}, []string{"asset"}),
			roleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "earnescrow",
				Subsystem: "engine",
				Name:      "role_changes_total",
				Help:      "Count of role slot changes segmented by role kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			earningsRegistry.operations,
			earningsRegistry.latency,
			earningsRegistry.distributed,
			earningsRegistry.escrowBalance,
			earningsRegistry.roleChanges,
		)
	})
	return earningsRegistry
}

// ObserveOperation records the duration and result code of an engine
// operation. Successful operations should report the code "ok".
func (m *EarningsMetrics) ObserveOperation(operation, code string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	code = strings.TrimSpace(code)
	if code == "" {
		code = "unknown"
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDistributed adds the released quantity to the per-asset counter.
func (m *EarningsMetrics) RecordDistributed(asset string, quantity *uint256.Int) {
	if m == nil || quantity == nil {
		return
	}
	m.distributed.WithLabelValues(normaliseAsset(asset)).Add(quantity.Float64())
}

// SetEscrowBalance records the observed escrow balance for the asset.
func (m *EarningsMetrics) SetEscrowBalance(asset string, balance *uint256.Int) {
	if m == nil || balance == nil {
		return
	}
	m.escrowBalance.WithLabelValues(normaliseAsset(asset)).Set(balance.Float64())
}

// RecordRoleChange increments the role change counter.
func (m *EarningsMetrics) RecordRoleChange(kind string) {
	if m == nil {
		return
	}
	normalized := strings.ToLower(strings.TrimSpace(kind))
	if normalized == "" {
		normalized = "unknown"
	}
	m.roleChanges.WithLabelValues(normalized).Inc()
}

func normaliseAsset(asset string) string {
	normalized := strings.ToLower(strings.TrimSpace(asset))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
