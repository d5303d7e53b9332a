// Package risk implements the vault risk engine: dynamic LTV, health and risk
// metrics, liquidation protection, vault lifecycle and short-horizon projection.
package risk

import (
	"strings"
)

// RiskLevel represents different risk levels
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
	RiskLevelCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	case RiskLevelCritical:
		return "critical"
	}
	return "unknown"
}

// MarshalText encodes the level by name.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a level name.
func (r *RiskLevel) UnmarshalText(b []byte) error {
	level, err := ParseRiskLevel(string(b))
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// ParseRiskLevel parses a case-insensitive level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLevelLow, nil
	case "medium":
		return RiskLevelMedium, nil
	case "high":
		return RiskLevelHigh, nil
	case "critical":
		return RiskLevelCritical, nil
	}
	return RiskLevelLow, ErrValidation.Explain("unknown risk level %q", s)
}

// Risk level thresholds. Health factor is the primary signal and is compared
// strictly; LTV is secondary and compared inclusively.
const (
	criticalHealthFactor = 1.1
	highHealthFactor     = 1.2
	mediumHealthFactor   = 1.5

	criticalLTV = 90.0
	highLTV     = 75.0
	mediumLTV   = 60.0
)

// ClassifyRisk returns exactly one risk level for any (ltv, healthFactor) pair.
// The high and medium health factor bands include their bound. The critical
// band does not: a health factor of exactly 1.1 classifies as High.
func ClassifyRisk(ltv, healthFactor float64) RiskLevel {
	switch {
	case healthFactor < criticalHealthFactor || ltv >= criticalLTV:
		return RiskLevelCritical
	case healthFactor <= highHealthFactor || ltv >= highLTV:
		return RiskLevelHigh
	case healthFactor <= mediumHealthFactor || ltv >= mediumLTV:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}
