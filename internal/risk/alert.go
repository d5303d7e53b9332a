package risk

import "time"

// AlertType is the escalation tier that produced an alert.
type AlertType string

const (
	AlertTypeWarning  AlertType = "warning"
	AlertTypeAlert    AlertType = "alert"
	AlertTypeCritical AlertType = "critical"
)

// AlertSeverity ranks alerts for triage.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertCategory is the risk dimension an alert is about.
type AlertCategory string

const (
	CategoryLTV          AlertCategory = "ltv"
	CategoryHealthFactor AlertCategory = "health_factor"
	CategoryMarketRisk   AlertCategory = "market_risk"
	CategoryLiquidation  AlertCategory = "liquidation"
	CategoryPerformance  AlertCategory = "performance"
	CategorySystem       AlertCategory = "system"
)

// Severities lists all severities from lowest to highest.
func Severities() []AlertSeverity {
	return []AlertSeverity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Categories lists all alert categories.
func Categories() []AlertCategory {
	return []AlertCategory{CategoryLTV, CategoryHealthFactor, CategoryMarketRisk, CategoryLiquidation, CategoryPerformance, CategorySystem}
}

// Rank orders severities from 1 (low) to 4 (critical); unknown is 0.
func (s AlertSeverity) Rank() int {
	for i, known := range Severities() {
		if s == known {
			return i + 1
		}
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s AlertSeverity) Valid() bool {
	for _, known := range Severities() {
		if s == known {
			return true
		}
	}
	return false
}

// Valid reports whether c is a known category.
func (c AlertCategory) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// RiskAlert is raised by the monitor on a threshold breach. The only allowed
// mutation is Unacknowledged -> Acknowledged.
type RiskAlert struct {
	ID              string        `json:"id"`
	VaultID         string        `json:"vault_id"`
	Type            AlertType     `json:"type"`
	Severity        AlertSeverity `json:"severity"`
	Category        AlertCategory `json:"category"`
	Message         string        `json:"message"`
	Value           float64       `json:"value"`
	Threshold       float64       `json:"threshold"`
	Timestamp       time.Time     `json:"timestamp"`
	Acknowledged    bool          `json:"acknowledged"`
	AcknowledgedBy  string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty"`
	EscalationLevel int           `json:"escalation_level"`
	AutoEscalation  bool          `json:"auto_escalation"`
	RelatedAlerts   []string      `json:"related_alerts"`
}

// Clone returns a copy that shares no slices or pointers with a.
func (a RiskAlert) Clone() RiskAlert {
	a.RelatedAlerts = append([]string(nil), a.RelatedAlerts...)
	if a.AcknowledgedAt != nil {
		at := *a.AcknowledgedAt
		a.AcknowledgedAt = &at
	}
	return a
}
