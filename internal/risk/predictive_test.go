package risk_test

import (
	"testing"
	"time"

	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/stretchr/testify/assert"
)

func samples(n int, ltvs ...float64) []risk.HistoricalSample {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]risk.HistoricalSample, n)
	for i := range out {
		ltv := 40.0
		if i < len(ltvs) {
			ltv = ltvs[i]
		}
		out[i] = risk.HistoricalSample{Timestamp: start.Add(time.Duration(i) * time.Hour), LTV: ltv, HealthFactor: 1.75}
	}
	return out
}

func projectedVault() *risk.CreditVault {
	return &risk.CreditVault{ID: "v1", ChainID: "ethereum", LTV: 40, HealthFactor: 1.75, MaxLTV: 70}
}

func TestPredictRisk_InsufficientHistory(t *testing.T) {
	market := risk.NeutralMarketData("ethereum", time.Now())
	p := risk.PredictRisk(projectedVault(), market, samples(2))

	assert.Equal(t, 0.1, p.Confidence)
	assert.Equal(t, 40.0, p.PredictedLTV)
	assert.Equal(t, risk.HealthFactor(1.75), p.PredictedHealthFactor)
	assert.Equal(t, []string{"Insufficient historical data"}, p.Factors)
	assert.Equal(t, 24, p.TimeHorizonHours)
}

func TestPredictRisk_Projection(t *testing.T) {
	market := risk.NeutralMarketData("ethereum", time.Now())

	t.Run("ModerateVolatility", func(t *testing.T) {
		market.VolatilityIndex = 1.5
		p := risk.PredictRisk(projectedVault(), market, samples(5))
		assert.InDelta(t, 60.0, p.PredictedLTV, 1e-9)
		assert.InDelta(t, 1.75/1.5, p.PredictedHealthFactor.Float64(), 1e-9)
		assert.Equal(t, 0.0, p.RiskProbability)
		assert.InDelta(t, 0.5, p.Confidence, 1e-9)
		assert.Contains(t, p.Factors, "Elevated volatility index (1.50)")
	})

	t.Run("ClampedVolatility", func(t *testing.T) {
		market.VolatilityIndex = 3
		market.MarketSentiment = risk.SentimentBearish
		p := risk.PredictRisk(projectedVault(), market, samples(12, 30, 35))
		assert.InDelta(t, 80.0, p.PredictedLTV, 1e-9)
		assert.InDelta(t, 0.875, p.PredictedHealthFactor.Float64(), 1e-9)
		assert.InDelta(t, 1.0/3.0, p.RiskProbability, 1e-9)
		assert.Equal(t, 1.0, p.Confidence)
		assert.Contains(t, p.Factors, "Bearish market sentiment")
		assert.Contains(t, p.Factors, "Rising LTV trend")
		assert.Contains(t, p.Factors, "Projected LTV exceeds maximum")
	})

	t.Run("Bounds", func(t *testing.T) {
		market.VolatilityIndex = 2
		vault := projectedVault()
		vault.LTV = 70
		vault.HealthFactor = 0.15
		p := risk.PredictRisk(vault, market, samples(3))
		assert.Equal(t, 100.0, p.PredictedLTV)
		assert.Equal(t, 0.1, p.PredictedHealthFactor.Float64())
		assert.Equal(t, 1.0, p.RiskProbability)
	})

	t.Run("DebtFreeStaysInfinite", func(t *testing.T) {
		market.VolatilityIndex = 1.2
		vault := projectedVault()
		vault.LTV = 0
		vault.HealthFactor = risk.InfiniteHealthFactor
		p := risk.PredictRisk(vault, market, samples(4))
		assert.True(t, p.PredictedHealthFactor.IsInfinite())
		assert.Equal(t, 0.0, p.RiskProbability)
	})
}
