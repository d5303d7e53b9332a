package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains the Prometheus metrics exported by the risk monitor
type PrometheusMetrics struct {
	// Alert metrics
	AlertsGenerated    *prometheus.CounterVec
	AlertsAcknowledged *prometheus.CounterVec
	AlertsDropped      prometheus.Counter
	ActiveAlerts       prometheus.Gauge

	// Vault evaluation metrics
	VaultChecks         *prometheus.CounterVec
	CheckDuration       *prometheus.HistogramVec
	VaultRiskScore      *prometheus.HistogramVec
	ProtectionTriggered *prometheus.CounterVec

	// Market data metrics
	MarketDataUpdates *prometheus.CounterVec
	ChainVolatility   *prometheus.GaugeVec

	// Monitor health
	MonitorRunning     prometheus.Gauge
	HousekeepingErrors prometheus.Counter
}

// NewPrometheusMetrics creates the monitor metrics on reg. A nil reg uses the
// default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		AlertsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "alerts_generated_total",
				Help:      "Total number of risk alerts generated",
			},
			[]string{"type", "severity", "category"},
		),

		AlertsAcknowledged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "alerts_acknowledged_total",
				Help:      "Total number of risk alerts acknowledged",
			},
			[]string{"severity"},
		),

		AlertsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "alerts_dropped_total",
				Help:      "Alert deliveries dropped because a channel queue was full",
			},
		),

		ActiveAlerts: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "active_alerts",
				Help:      "Number of unacknowledged risk alerts",
			},
		),

		VaultChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "vault_checks_total",
				Help:      "Total number of vault risk evaluations",
			},
			[]string{"chain", "status"},
		),

		CheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "check_duration_seconds",
				Help:      "Time taken to evaluate a vault or run housekeeping",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		VaultRiskScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "vault_risk_score",
				Help:      "Distribution of computed vault risk scores",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"chain", "risk_level"},
		),

		ProtectionTriggered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "protection_triggered_total",
				Help:      "Total number of liquidation protection triggers",
			},
			[]string{"chain"},
		),

		MarketDataUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vaultrisk",
				Subsystem: "market",
				Name:      "updates_total",
				Help:      "Total number of market data updates applied",
			},
			[]string{"chain"},
		),

		ChainVolatility: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vaultrisk",
				Subsystem: "market",
				Name:      "volatility_index",
				Help:      "Latest volatility index per chain",
			},
			[]string{"chain"},
		),

		MonitorRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "running",
				Help:      "1 while the monitor housekeeping loop is running",
			},
		),

		HousekeepingErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vaultrisk",
				Subsystem: "monitor",
				Name:      "housekeeping_errors_total",
				Help:      "Total number of recovered housekeeping failures",
			},
		),
	}
}
