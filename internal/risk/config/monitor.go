package config

import (
	"time"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// MonitorConfig configures the enhanced risk monitor.
type MonitorConfig struct {
	CheckInterval   time.Duration        `mapstructure:"check_interval" yaml:"check_interval" json:"check_interval" validate:"gt=0"`
	AlertThresholds AlertThresholds      `mapstructure:"alert_thresholds" yaml:"alert_thresholds" json:"alert_thresholds"`
	AutoProtection  AutoProtectionConfig `mapstructure:"auto_protection" yaml:"auto_protection" json:"auto_protection"`
	Performance     PerformanceConfig    `mapstructure:"performance" yaml:"performance" json:"performance"`
	Analytics       AnalyticsConfig      `mapstructure:"analytics" yaml:"analytics" json:"analytics"`
}

// AlertThresholds are the tiered alert levels. LTV tiers are percentages and
// rise from warning to critical; health factor tiers fall.
type AlertThresholds struct {
	LTVWarning           float64 `mapstructure:"ltv_warning" yaml:"ltv_warning" json:"ltv_warning" validate:"gt=0,lte=100"`
	LTVAlert             float64 `mapstructure:"ltv_alert" yaml:"ltv_alert" json:"ltv_alert" validate:"gt=0,lte=100"`
	LTVCritical          float64 `mapstructure:"ltv_critical" yaml:"ltv_critical" json:"ltv_critical" validate:"gt=0,lte=100"`
	HealthFactorWarning  float64 `mapstructure:"health_factor_warning" yaml:"health_factor_warning" json:"health_factor_warning" validate:"gt=0"`
	HealthFactorAlert    float64 `mapstructure:"health_factor_alert" yaml:"health_factor_alert" json:"health_factor_alert" validate:"gt=0"`
	HealthFactorCritical float64 `mapstructure:"health_factor_critical" yaml:"health_factor_critical" json:"health_factor_critical" validate:"gt=0"`
}

// AutoProtectionConfig limits how often the monitor stamps protection triggers.
type AutoProtectionConfig struct {
	Enabled               bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxProtectionTriggers int           `mapstructure:"max_protection_triggers" yaml:"max_protection_triggers" json:"max_protection_triggers" validate:"min=0"`
	ProtectionCooldown    time.Duration `mapstructure:"protection_cooldown" yaml:"protection_cooldown" json:"protection_cooldown" validate:"min=0"`
}

// PerformanceConfig bounds batch evaluation. TimeoutMs is enforced by the API
// layer, not the monitor.
type PerformanceConfig struct {
	MaxConcurrentVaults int `mapstructure:"max_concurrent_vaults" yaml:"max_concurrent_vaults" json:"max_concurrent_vaults" validate:"min=1"`
	BatchSize           int `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size" validate:"min=1"`
	TimeoutMs           int `mapstructure:"timeout_ms" yaml:"timeout_ms" json:"timeout_ms" validate:"min=0"`
	RetryAttempts       int `mapstructure:"retry_attempts" yaml:"retry_attempts" json:"retry_attempts" validate:"min=0"`
}

// Timeout returns TimeoutMs as a duration; zero means no timeout.
func (p PerformanceConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// AnalyticsConfig toggles optional monitor work.
type AnalyticsConfig struct {
	EnableRealTimeMetrics     bool `mapstructure:"enable_real_time_metrics" yaml:"enable_real_time_metrics" json:"enable_real_time_metrics"`
	EnablePredictiveAnalysis  bool `mapstructure:"enable_predictive_analysis" yaml:"enable_predictive_analysis" json:"enable_predictive_analysis"`
	EnableCorrelationAnalysis bool `mapstructure:"enable_correlation_analysis" yaml:"enable_correlation_analysis" json:"enable_correlation_analysis"`
	DataRetentionDays         int  `mapstructure:"data_retention_days" yaml:"data_retention_days" json:"data_retention_days" validate:"min=1"`
}

// DefaultMonitorConfig returns the stock monitor settings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval: 30 * time.Second,
		AlertThresholds: AlertThresholds{
			LTVWarning:           60,
			LTVAlert:             75,
			LTVCritical:          85,
			HealthFactorWarning:  1.5,
			HealthFactorAlert:    1.2,
			HealthFactorCritical: 1.1,
		},
		AutoProtection: AutoProtectionConfig{
			Enabled:               true,
			MaxProtectionTriggers: 3,
			ProtectionCooldown:    time.Hour,
		},
		Performance: PerformanceConfig{
			MaxConcurrentVaults: 100,
			BatchSize:           10,
			TimeoutMs:           5000,
			RetryAttempts:       3,
		},
		Analytics: AnalyticsConfig{
			EnableRealTimeMetrics:     true,
			EnablePredictiveAnalysis:  true,
			EnableCorrelationAnalysis: true,
			DataRetentionDays:         30,
		},
	}
}

// Validate checks the monitor section on its own.
func (c MonitorConfig) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	return c.checkThresholdOrder()
}

func (c MonitorConfig) checkThresholdOrder() error {
	t := c.AlertThresholds
	if !(t.LTVWarning <= t.LTVAlert && t.LTVAlert <= t.LTVCritical) {
		return risk.ErrValidation.Explain("ltv thresholds must satisfy warning <= alert <= critical (%.2f, %.2f, %.2f)",
			t.LTVWarning, t.LTVAlert, t.LTVCritical)
	}
	if !(t.HealthFactorWarning >= t.HealthFactorAlert && t.HealthFactorAlert >= t.HealthFactorCritical) {
		return risk.ErrValidation.Explain("health factor thresholds must satisfy warning >= alert >= critical (%.2f, %.2f, %.2f)",
			t.HealthFactorWarning, t.HealthFactorAlert, t.HealthFactorCritical)
	}
	return nil
}

func (c MonitorConfig) defaults() map[string]interface{} {
	return map[string]interface{}{
		"check_interval":                          c.CheckInterval,
		"alert_thresholds.ltv_warning":            c.AlertThresholds.LTVWarning,
		"alert_thresholds.ltv_alert":              c.AlertThresholds.LTVAlert,
		"alert_thresholds.ltv_critical":           c.AlertThresholds.LTVCritical,
		"alert_thresholds.health_factor_warning":  c.AlertThresholds.HealthFactorWarning,
		"alert_thresholds.health_factor_alert":    c.AlertThresholds.HealthFactorAlert,
		"alert_thresholds.health_factor_critical": c.AlertThresholds.HealthFactorCritical,
		"auto_protection.enabled":                 c.AutoProtection.Enabled,
		"auto_protection.max_protection_triggers": c.AutoProtection.MaxProtectionTriggers,
		"auto_protection.protection_cooldown":     c.AutoProtection.ProtectionCooldown,
		"performance.max_concurrent_vaults":       c.Performance.MaxConcurrentVaults,
		"performance.batch_size":                  c.Performance.BatchSize,
		"performance.timeout_ms":                  c.Performance.TimeoutMs,
		"performance.retry_attempts":              c.Performance.RetryAttempts,
		"analytics.enable_real_time_metrics":      c.Analytics.EnableRealTimeMetrics,
		"analytics.enable_predictive_analysis":    c.Analytics.EnablePredictiveAnalysis,
		"analytics.enable_correlation_analysis":   c.Analytics.EnableCorrelationAnalysis,
		"analytics.data_retention_days":           c.Analytics.DataRetentionDays,
	}
}
