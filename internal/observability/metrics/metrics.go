package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "spikealerts_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	pollRequests *prometheus.CounterVec
	pollLatency  *prometheus.HistogramVec

	cycleTotal   *prometheus.CounterVec
	cycleLatency *prometheus.HistogramVec

	alertEventsTotal    *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec

	reportsTotal       *prometheus.CounterVec
	reportExportTotal  *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec

	statusCacheErrors prometheus.Counter
)

// Init registers engine metrics and DB-backed gauges. Safe to call more than once.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		pollRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "provider_poll_total",
				Help: "Total provider poll requests by monitor type and result",
			},
			[]string{"monitor_type", "result"},
		)
		pollLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "provider_poll_latency_seconds",
				Help:    "Provider poll latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"monitor_type"},
		)

		cycleTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycle_total",
				Help: "Total processing cycles by monitor type and result",
			},
			[]string{"monitor_type", "result"},
		)
		cycleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cycle_latency_seconds",
				Help:    "Processing cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"monitor_type"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type and tier",
			},
			[]string{"event", "tier"},
		)
		invariantViolations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invariant_violations_total",
				Help: "Total detected ledger invariant violations by kind",
			},
			[]string{"kind"},
		)

		reportsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reports_total",
				Help: "Total generated exposure reports by tier",
			},
			[]string{"tier"},
		)
		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report export operations by format and result",
			},
			[]string{"format", "result"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total subscriber notifications by event and result",
			},
			[]string{"event", "result"},
		)

		statusCacheErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_cache_errors_total",
				Help: "Total status cache write failures",
			},
		)

		prometheus.MustRegister(
			pollRequests,
			pollLatency,
			cycleTotal,
			cycleLatency,
			alertEventsTotal,
			invariantViolations,
			reportsTotal,
			reportExportTotal,
			notificationsTotal,
			statusCacheErrors,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// TierLabel maps the sensitive flag onto metric label values.
func TierLabel(sensitive bool) string {
	if sensitive {
		return "sensitive"
	}
	return "general"
}

// ObservePoll records one provider poll by result.
func ObservePoll(monitorType, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if pollRequests != nil {
		pollRequests.WithLabelValues(monitorType, result).Inc()
	}
	if pollLatency != nil {
		pollLatency.WithLabelValues(monitorType).Observe(duration.Seconds())
	}
}

// ObserveCycle records one monitor type's processing cycle.
func ObserveCycle(monitorType, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if cycleTotal != nil {
		cycleTotal.WithLabelValues(monitorType, result).Inc()
	}
	if cycleLatency != nil {
		cycleLatency.WithLabelValues(monitorType).Observe(duration.Seconds())
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string, sensitive bool) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event, TierLabel(sensitive)).Inc()
	}
}

// IncInvariantViolation counts a detected invariant violation.
func IncInvariantViolation(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if invariantViolations != nil {
		invariantViolations.WithLabelValues(kind).Inc()
	}
}

// IncReport counts a generated report.
func IncReport(sensitive bool) {
	if reportsTotal != nil {
		reportsTotal.WithLabelValues(TierLabel(sensitive)).Inc()
	}
}

// ObserveReportExport records an export operation by format and result.
func ObserveReportExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
}

// IncNotification counts a notification attempt by outcome.
func IncNotification(event, result string) {
	if result == "" {
		result = resultSuccess
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(event, result).Inc()
	}
}

// IncStatusCacheError counts a failed snapshot write.
func IncStatusCacheError() {
	if statusCacheErrors != nil {
		statusCacheErrors.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	AlertEventOpened   = "opened"
	AlertEventExtended = "extended"
	AlertEventClosed   = "closed"
)
