package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics holds the engine's collectors. A nil *PrometheusMetrics
// is valid and records nothing.
type PrometheusMetrics struct {
	// Line metrics
	LinesTotal     *prometheus.CounterVec
	LinesByLevel   *prometheus.CounterVec
	LinesDropped   *prometheus.CounterVec
	ParseFailures  *prometheus.CounterVec
	ProcessingTime *prometheus.HistogramVec

	// Detection metrics
	AnomaliesTotal *prometheus.CounterVec
	ModelActive    prometheus.Gauge

	// Response metrics
	RuleActions      *prometheus.CounterVec
	BlocklistEntries prometheus.Gauge
	AlertCounter     *prometheus.CounterVec

	// Error metrics
	IterationErrors   *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
	IntelErrors       *prometheus.CounterVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		LinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_lines_total",
				Help: "Total number of log lines ingested",
			},
			[]string{"mode"},
		),

		LinesByLevel: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_lines_by_level_total",
				Help: "Total number of accepted lines by final severity level",
			},
			[]string{"level"},
		),

		LinesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_lines_dropped_total",
				Help: "Total number of lines dropped before processing",
			},
			[]string{"reason"},
		),

		ParseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_parse_failures_total",
				Help: "Total number of lines that could not be parsed",
			},
			[]string{"reason"},
		),

		ProcessingTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "log_guard_line_processing_duration_seconds",
				Help:    "Time spent processing one line",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		AnomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_anomalies_total",
				Help: "Total number of anomalous lines by category",
			},
			[]string{"category"},
		),

		ModelActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "log_guard_model_active",
				Help: "1 when an anomaly model is bound, 0 otherwise",
			},
		),

		RuleActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_rule_actions_total",
				Help: "Total number of rule actions dispatched",
			},
			[]string{"action"},
		),

		BlocklistEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "log_guard_blocklist_entries",
				Help: "Number of addresses currently on the blocklist",
			},
		),

		AlertCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_alerts_total",
				Help: "Total alerts raised",
			},
			[]string{"severity", "category"},
		),

		IterationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_iteration_errors_total",
				Help: "Total number of failed monitor loop iterations",
			},
			[]string{"mode"},
		),

		PersistenceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_persistence_errors_total",
				Help: "Total number of failed record writes",
			},
			[]string{"table"},
		),

		IntelErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_guard_intel_errors_total",
				Help: "Total number of failed threat-intel refreshes",
			},
			[]string{"source"},
		),
	}
}

// Collectors returns every collector for registration.
func (m *PrometheusMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.LinesTotal,
		m.LinesByLevel,
		m.LinesDropped,
		m.ParseFailures,
		m.ProcessingTime,
		m.AnomaliesTotal,
		m.ModelActive,
		m.RuleActions,
		m.BlocklistEntries,
		m.AlertCounter,
		m.IterationErrors,
		m.PersistenceErrors,
		m.IntelErrors,
	}
}

func (m *PrometheusMetrics) RecordLine(mode, level string) {
	if m == nil {
		return
	}
	m.LinesTotal.WithLabelValues(mode).Inc()
	if level != "" {
		m.LinesByLevel.WithLabelValues(level).Inc()
	}
}

func (m *PrometheusMetrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.LinesDropped.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordParseFailure(reason string) {
	if m == nil {
		return
	}
	m.ParseFailures.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordProcessingTime(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.ProcessingTime.WithLabelValues(mode).Observe(seconds)
}

func (m *PrometheusMetrics) RecordAnomaly(category string) {
	if m == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	m.AnomaliesTotal.WithLabelValues(category).Inc()
}

func (m *PrometheusMetrics) SetModelActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.ModelActive.Set(1)
	} else {
		m.ModelActive.Set(0)
	}
}

func (m *PrometheusMetrics) RecordRuleAction(action string) {
	if m == nil {
		return
	}
	m.RuleActions.WithLabelValues(action).Inc()
}

func (m *PrometheusMetrics) SetBlocklistEntries(n int) {
	if m == nil {
		return
	}
	m.BlocklistEntries.Set(float64(n))
}

func (m *PrometheusMetrics) RecordAlert(severity, category string) {
	if m == nil {
		return
	}
	if severity == "" {
		severity = "unknown"
	}
	if category == "" {
		category = "unknown"
	}
	m.AlertCounter.WithLabelValues(severity, category).Inc()
}

func (m *PrometheusMetrics) RecordIterationError(mode string) {
	if m == nil {
		return
	}
	m.IterationErrors.WithLabelValues(mode).Inc()
}

func (m *PrometheusMetrics) RecordPersistenceError(table string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(table).Inc()
}

func (m *PrometheusMetrics) RecordIntelError(source string) {
	if m == nil {
		return
	}
	m.IntelErrors.WithLabelValues(source).Inc()
}
