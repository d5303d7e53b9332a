package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

const (
	utilizationWeight  = 0.6
	healthFactorWeight = 0.4
	nearMaxLTVRatio    = 0.9
)

// CurrentLTV computes debt / collateral x 100 from the vault's USD values.
// A vault without collateral reports 0.
func CurrentLTV(vault *CreditVault) float64 {
	if !vault.Collateral.ValueUSD.IsPositive() {
		return 0
	}
	return vault.Debt.ValueUSD.Div(vault.Collateral.ValueUSD).Mul(hundred).InexactFloat64()
}

// CalculateHealthFactor returns maxLTV / currentLTV, so a vault sitting exactly
// at its max LTV has a health factor of 1.0. It is +Inf iff the vault has no
// debt, and 0 when debt exists without collateral.
func CalculateHealthFactor(vault *CreditVault, agent *Agent, volatility float64) (float64, error) {
	if vault == nil {
		return 0, ErrValidation.Explain("vault is required")
	}
	maxLTV, err := CalculateDynamicLTV(agent, vault.ChainID, vault.Collateral.ValueUSD, volatility)
	if err != nil {
		return 0, err
	}
	if !vault.Debt.ValueUSD.IsPositive() {
		return math.Inf(1), nil
	}
	ltv := CurrentLTV(vault)
	if ltv <= 0 {
		return 0, nil
	}
	return maxLTV / ltv, nil
}

// RiskScore combines LTV utilization and inverse health factor into 0-100.
func RiskScore(ltv float64, healthFactor HealthFactor, maxLTV float64) float64 {
	utilization := 1.0
	if maxLTV > 0 {
		utilization = clamp(ltv/maxLTV, 0, 1)
	}

	inverse := 0.0
	switch {
	case healthFactor.IsInfinite():
	case healthFactor <= 0:
		inverse = 1
	default:
		inverse = clamp(1/float64(healthFactor), 0, 1)
	}

	score := (utilizationWeight*utilization + healthFactorWeight*inverse) * 100
	return math.Round(clamp(score, 0, 100)*100) / 100
}

// CalculateVaultRiskMetrics builds the risk view of a vault from its last
// recalculated state. Historical samples are embedded verbatim.
func CalculateVaultRiskMetrics(vault *CreditVault, agent *Agent, history []HistoricalSample) (*VaultRiskMetrics, error) {
	if vault == nil {
		return nil, ErrValidation.Explain("vault is required")
	}
	chain, err := GetChainConfig(vault.ChainID)
	if err != nil {
		return nil, err
	}

	maxLTV := vault.MaxLTV
	if maxLTV <= 0 {
		if maxLTV, err = CalculateDynamicLTV(agent, vault.ChainID, vault.Collateral.ValueUSD, 1.0); err != nil {
			return nil, err
		}
	}

	ltv := vault.LTV
	hf := vault.HealthFactor

	metrics := &VaultRiskMetrics{
		VaultID:             vault.ID,
		CurrentLTV:          ltv,
		CurrentHealthFactor: hf,
		MaxLTV:              maxLTV,
		RiskScore:           RiskScore(ltv, hf, maxLTV),
		RiskLevel:           ClassifyRisk(ltv, float64(hf)),
		Warnings:            []string{},
		Recommendations:     []string{},
		LTVHistory:          make([]TimePoint, 0, len(history)),
		HealthFactorHistory: make([]HealthFactorPoint, 0, len(history)),
	}

	warn := func(warning, recommendation string) {
		metrics.Warnings = append(metrics.Warnings, warning)
		metrics.Recommendations = append(metrics.Recommendations, recommendation)
	}

	switch {
	case ltv > maxLTV:
		warn(fmt.Sprintf("LTV exceeds maximum allowed (%.2f%% > %.2f%%)", ltv, maxLTV),
			"Repay debt immediately to bring LTV under the maximum")
	case ltv > 0 && ltv >= maxLTV*nearMaxLTVRatio:
		warn(fmt.Sprintf("LTV nearing maximum (%.2f%% of %.2f%%)", ltv, maxLTV),
			"Consider adding collateral")
	}

	if !hf.IsInfinite() {
		if float64(hf) < mediumHealthFactor {
			warn(fmt.Sprintf("Health factor low (%s)", hf), "Consider repaying debt")
		}
		if float64(hf) < chain.MinHealthFactor {
			warn(fmt.Sprintf("Health factor below %s minimum of %.2f", chain.Name, chain.MinHealthFactor),
				"Add collateral or repay debt to restore the chain minimum health factor")
		}
	}

	for _, s := range history {
		metrics.LTVHistory = append(metrics.LTVHistory, TimePoint{Timestamp: s.Timestamp, Value: s.LTV})
		metrics.HealthFactorHistory = append(metrics.HealthFactorHistory, HealthFactorPoint{Timestamp: s.Timestamp, Value: s.HealthFactor})
	}

	return metrics, nil
}
