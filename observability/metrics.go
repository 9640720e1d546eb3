package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "perq"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	storeMetricsOnce sync.Once
	storeRegistry    *StoreMetrics

	simulatorMetricsOnce sync.Once
	simulatorRegistry    *SimulatorMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	alertMetricsOnce sync.Once
	alertRegistry    *AlertMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// dashboard API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total dashboard API requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total dashboard API errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for dashboard API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of dashboard API requests rejected by the rate limiter.",
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

// Observe records the outcome of an API request. The status code should be
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
// reason.
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

// StoreMetrics tracks durable writes and the warnings raised when the backing
// store misbehaves.
type StoreMetrics struct {
	writes   *prometheus.CounterVec
	warnings *prometheus.CounterVec
	changes  *prometheus.CounterVec
}

// Store returns the singleton metrics registry for the local store.
func Store() *StoreMetrics {
	storeMetricsOnce.Do(func() {
		storeRegistry = &StoreMetrics{
			writes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "writes_total",
				Help:      "Count of store writes segmented by key.",
			}, []string{"key"}),
			warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "persistence_warnings_total",
				Help:      "Count of recovered read or write failures segmented by key and operation.",
			}, []string{"key", "op"}),
			changes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "changes_total",
				Help:      "Count of change notifications dispatched segmented by origin.",
			}, []string{"origin"}),
		}
		prometheus.MustRegister(
			storeRegistry.writes,
			storeRegistry.warnings,
			storeRegistry.changes,
		)
	})
	return storeRegistry
}

// RecordWrite counts a durable write attempt for key.
func (m *StoreMetrics) RecordWrite(key string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(labelKey(key)).Inc()
}

// RecordWarning counts a recovered persistence failure.
func (m *StoreMetrics) RecordWarning(key, op string) {
	if m == nil {
		return
	}
	if op = strings.TrimSpace(op); op == "" {
		op = "unknown"
	}
	m.warnings.WithLabelValues(labelKey(key), op).Inc()
}

// RecordChange counts a dispatched change notification.
func (m *StoreMetrics) RecordChange(origin string) {
	if m == nil {
		return
	}
	if origin == "" {
		origin = "unknown"
	}
	m.changes.WithLabelValues(origin).Inc()
}

// SimulatorMetrics captures transaction outcomes and commit latency.
type SimulatorMetrics struct {
	transactions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// Simulator returns the singleton metrics registry for the transaction simulator.
func Simulator() *SimulatorMetrics {
	simulatorMetricsOnce.Do(func() {
		simulatorRegistry = &SimulatorMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "transactions_total",
				Help:      "Count of settled transactions segmented by kind and terminal state.",
			}, []string{"kind", "state", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "settle_duration_seconds",
				Help:      "Time from submission to terminal state.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "in_flight",
				Help:      "Number of transactions currently pending.",
			}),
		}
		prometheus.MustRegister(
			simulatorRegistry.transactions,
			simulatorRegistry.latency,
			simulatorRegistry.inFlight,
		)
	})
	return simulatorRegistry
}

// Observe records a settled transaction.
func (m *SimulatorMetrics) Observe(kind, state, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	if kind = strings.TrimSpace(kind); kind == "" {
		kind = "unknown"
	}
	m.transactions.WithLabelValues(kind, state, reason).Inc()
	m.latency.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetInFlight reports the number of pending transactions.
func (m *SimulatorMetrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

// LedgerMetrics exposes the current point buckets of the ledger.
type LedgerMetrics struct {
	points *prometheus.GaugeVec
}

// Ledger returns the singleton ledger gauges.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			points: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "points",
				Help:      "Ledger point totals segmented by bucket (total, staked, reserved, available).",
			}, []string{"bucket"}),
		}
		prometheus.MustRegister(ledgerRegistry.points)
	})
	return ledgerRegistry
}

// RecordTotals updates every bucket gauge.
func (m *LedgerMetrics) RecordTotals(total, staked, reserved, available int64) {
	if m == nil {
		return
	}
	m.points.WithLabelValues("total").Set(float64(total))
	m.points.WithLabelValues("staked").Set(float64(staked))
	m.points.WithLabelValues("reserved").Set(float64(reserved))
	m.points.WithLabelValues("available").Set(float64(available))
}

// AlertMetrics tracks the output of the expiry scanner.
type AlertMetrics struct {
	scans    prometheus.Counter
	urgent   prometheus.Gauge
	expiring prometheus.Gauge
	matured  prometheus.Gauge
}

// Alerts returns the singleton scanner metrics.
func Alerts() *AlertMetrics {
	alertMetricsOnce.Do(func() {
		alertRegistry = &AlertMetrics{
			scans: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "scans_total",
				Help:      "Count of completed expiry scans.",
			}),
			urgent: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "urgent",
				Help:      "Number of urgent expiry alerts in the latest scan.",
			}),
			expiring: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "points_expiring",
				Help:      "Points expiring within the urgent window in the latest scan.",
			}),
			matured: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "stakes_matured",
				Help:      "Number of active stakes that have reached maturity.",
			}),
		}
		prometheus.MustRegister(
			alertRegistry.scans,
			alertRegistry.urgent,
			alertRegistry.expiring,
			alertRegistry.matured,
		)
	})
	return alertRegistry
}

// RecordScan stores the headline numbers of a scan.
func (m *AlertMetrics) RecordScan(urgent int, expiring int64, matured int) {
	if m == nil {
		return
	}
	m.scans.Inc()
	m.urgent.Set(float64(urgent))
	m.expiring.Set(float64(expiring))
	m.matured.Set(float64(matured))
}

func labelKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
