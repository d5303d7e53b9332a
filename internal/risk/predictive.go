package risk

import (
	"fmt"
	"math"
)

const (
	minPredictiveSamples   = 3
	fullConfidenceSamples  = 10.0
	lowConfidence          = 0.1
	predictionHorizonHours = 24
	minPredictedHealth     = 0.1
)

// PredictRisk projects a vault's LTV and health factor over the next 24 hours
// using the chain volatility index. With fewer than three samples it returns
// the current values at low confidence.
func PredictRisk(vault *CreditVault, market MarketData, history []HistoricalSample) *PredictiveRiskMetrics {
	if len(history) < minPredictiveSamples {
		return &PredictiveRiskMetrics{
			PredictedLTV:          vault.LTV,
			PredictedHealthFactor: vault.HealthFactor,
			RiskProbability:       liquidationProbability(vault.LTV, vault.MaxLTV),
			TimeHorizonHours:      predictionHorizonHours,
			Confidence:            lowConfidence,
			Factors:               []string{"Insufficient historical data"},
		}
	}

	multiplier := volatilityFactor(market.VolatilityIndex)
	predictedLTV := clamp(vault.LTV*multiplier, 0, 100)

	predictedHF := vault.HealthFactor
	if !predictedHF.IsInfinite() {
		predictedHF = HealthFactor(math.Max(float64(predictedHF)/multiplier, minPredictedHealth))
	}

	return &PredictiveRiskMetrics{
		PredictedLTV:          predictedLTV,
		PredictedHealthFactor: predictedHF,
		RiskProbability:       liquidationProbability(predictedLTV, vault.MaxLTV),
		TimeHorizonHours:      predictionHorizonHours,
		Confidence:            math.Min(1, float64(len(history))/fullConfidenceSamples),
		Factors:               riskFactors(vault, market, history, multiplier, predictedLTV),
	}
}

// liquidationProbability maps how far a projected LTV sits past maxLTV onto 0-1.
func liquidationProbability(ltv, maxLTV float64) float64 {
	if maxLTV >= 100 {
		if ltv >= 100 {
			return 1
		}
		return 0
	}
	return clamp((ltv-maxLTV)/(100-maxLTV), 0, 1)
}

func riskFactors(vault *CreditVault, market MarketData, history []HistoricalSample, multiplier, predictedLTV float64) []string {
	factors := []string{}
	if multiplier > 1 {
		factors = append(factors, fmt.Sprintf("Elevated volatility index (%.2f)", market.VolatilityIndex))
	}
	if market.MarketSentiment == SentimentBearish {
		factors = append(factors, "Bearish market sentiment")
	}
	first, last := history[0], history[len(history)-1]
	if last.Timestamp.Before(first.Timestamp) {
		first, last = last, first
	}
	if last.LTV > first.LTV {
		factors = append(factors, "Rising LTV trend")
	}
	if vault.MaxLTV > 0 && predictedLTV >= vault.MaxLTV {
		factors = append(factors, "Projected LTV exceeds maximum")
	}
	if len(factors) == 0 {
		factors = append(factors, "Stable market conditions")
	}
	return factors
}
