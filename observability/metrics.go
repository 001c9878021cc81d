package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditline",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditline",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "creditline",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditline",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics exposes gauges describing per-market pool health.
type LedgerMetrics struct {
	supplyAssets *prometheus.GaugeVec
	borrowAssets *prometheus.GaugeVec
	markdown     *prometheus.GaugeVec
	utilisation  *prometheus.GaugeVec
	protocolFees *prometheus.GaugeVec
	defaults     *prometheus.CounterVec
}

// Ledger returns the singleton metrics registry for ledger pool state.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			supplyAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "creditline",
				Subsystem: "ledger",
				Name:      "supply_assets",
				Help:      "Total supplied assets per market in wei, net of markdown.",
			}, []string{"market"}),
			borrowAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "creditline",
				Subsystem: "ledger",
				Name:      "borrow_assets",
				Help:      "Total outstanding debt per market in wei.",
			}, []string{"market"}),
			markdown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "creditline",
				Subsystem: "ledger",
				Name:      "markdown_total",
				Help:      "Aggregate stored markdown per market in wei.",
			}, []string{"market"}),
			utilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "creditline",
				Subsystem: "ledger",
				Name:      "utilisation",
				Help:      "Pool utilisation ratio (0-1) per market.",
			}, []string{"market"}),
			protocolFees: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "creditline",
				Subsystem: "ledger",
				Name:      "protocol_fees",
				Help:      "Accrued protocol fees per market in wei.",
			}, []string{"market"}),
			defaults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditline",
				Subsystem: "ledger",
				Name:      "defaults_total",
				Help:      "Count of borrower default transitions per market.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.supplyAssets,
			ledgerRegistry.borrowAssets,
			ledgerRegistry.markdown,
			ledgerRegistry.utilisation,
			ledgerRegistry.protocolFees,
			ledgerRegistry.defaults,
		)
	})
	return ledgerRegistry
}

func labelMarket(market string) string {
	trimmed := strings.TrimSpace(market)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// RecordPool updates the per-market pool gauges.
func (m *LedgerMetrics) RecordPool(market string, supplyAssets, borrowAssets, markdown, fees *big.Int) {
	if m == nil {
		return
	}
	label := labelMarket(market)
	supply := bigToFloat(supplyAssets)
	borrow := bigToFloat(borrowAssets)
	m.supplyAssets.WithLabelValues(label).Set(supply)
	m.borrowAssets.WithLabelValues(label).Set(borrow)
	m.markdown.WithLabelValues(label).Set(bigToFloat(markdown))
	m.protocolFees.WithLabelValues(label).Set(bigToFloat(fees))
	utilisation := 0.0
	if supply > 0 {
		utilisation = borrow / supply
		if utilisation > 1 {
			utilisation = 1
		}
	}
	m.utilisation.WithLabelValues(label).Set(utilisation)
}

// RecordDefault counts a borrower entering default.
func (m *LedgerMetrics) RecordDefault(market string) {
	if m == nil {
		return
	}
	m.defaults.WithLabelValues(labelMarket(market)).Inc()
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
