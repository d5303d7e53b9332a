package risk_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newVault returns an ethereum vault with the given USD collateral and debt.
// With a bronze agent scored 50 its max LTV is 70 at neutral volatility.
func newVault(t *testing.T, collateral, debt int64) *risk.CreditVault {
	t.Helper()
	vault, err := risk.CreateCreditVault("agent-1", "ethereum", "ETH", decimal.NewFromInt(1), decimal.NewFromInt(collateral), 70)
	require.NoError(t, err)
	require.NoError(t, risk.UpdateVaultDebt(vault, decimal.NewFromInt(debt), decimal.NewFromInt(debt)))
	return vault
}

func TestCalculateHealthFactor(t *testing.T) {
	agent := agentWith(50, risk.TierBronze)

	t.Run("NoDebtIsInfinite", func(t *testing.T) {
		hf, err := risk.CalculateHealthFactor(newVault(t, 1000, 0), agent, 1)
		require.NoError(t, err)
		assert.True(t, math.IsInf(hf, 1))
	})

	t.Run("AtMaxLTVIsOne", func(t *testing.T) {
		hf, err := risk.CalculateHealthFactor(newVault(t, 1000, 700), agent, 1)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, hf, 1e-9)
	})

	t.Run("OverMaxLTVBelowOne", func(t *testing.T) {
		hf, err := risk.CalculateHealthFactor(newVault(t, 1000, 875), agent, 1)
		require.NoError(t, err)
		assert.InDelta(t, 0.8, hf, 1e-9)
	})

	t.Run("DebtWithoutCollateralIsFinite", func(t *testing.T) {
		hf, err := risk.CalculateHealthFactor(newVault(t, 0, 10), agent, 1)
		require.NoError(t, err)
		assert.False(t, math.IsInf(hf, 1))
		assert.Equal(t, 0.0, hf)
	})

	t.Run("UnsupportedChain", func(t *testing.T) {
		vault := newVault(t, 1000, 100)
		vault.ChainID = "dogechain"
		_, err := risk.CalculateHealthFactor(vault, agent, 1)
		assert.ErrorIs(t, err, risk.ErrUnsupportedChain)
	})
}

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		name string
		ltv  float64
		hf   float64
		want risk.RiskLevel
	}{
		{"Comfortable", 30, 2.5, risk.RiskLevelLow},
		{"NoDebt", 0, math.Inf(1), risk.RiskLevelLow},
		{"HighLTVModestHealth", 80, 1.1, risk.RiskLevelHigh},
		{"Insolvent", 95, 1.0, risk.RiskLevelCritical},
		{"MediumByLTV", 60, 3, risk.RiskLevelMedium},
		{"MediumByHealth", 10, 1.4, risk.RiskLevelMedium},
		{"HighByLTV", 75, 3, risk.RiskLevelHigh},
		{"CriticalByLTV", 90, math.Inf(1), risk.RiskLevelCritical},
		{"CriticalByHealth", 10, 1.05, risk.RiskLevelCritical},
		{"HealthAtCriticalBound", 10, 1.1, risk.RiskLevelHigh},
		{"HealthAtHighBound", 10, 1.2, risk.RiskLevelHigh},
		{"HealthJustAboveHighBound", 10, 1.21, risk.RiskLevelMedium},
		{"HealthAtMediumBound", 10, 1.5, risk.RiskLevelMedium},
		{"HealthJustAboveMediumBound", 10, 1.51, risk.RiskLevelLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, risk.ClassifyRisk(tc.ltv, tc.hf))
		})
	}
}

func TestClassifyRisk_Total(t *testing.T) {
	valid := map[risk.RiskLevel]bool{
		risk.RiskLevelLow: true, risk.RiskLevelMedium: true, risk.RiskLevelHigh: true, risk.RiskLevelCritical: true,
	}
	for ltv := 0.0; ltv <= 120; ltv += 2.5 {
		for _, hf := range []float64{0, 0.5, 1, 1.1, 1.2, 1.5, 2, 10, math.Inf(1)} {
			assert.True(t, valid[risk.ClassifyRisk(ltv, hf)])
		}
	}
}

func TestRiskScore(t *testing.T) {
	assert.Equal(t, 0.0, risk.RiskScore(0, risk.InfiniteHealthFactor, 70))
	assert.Equal(t, 100.0, risk.RiskScore(90, 0.5, 70))
	// 0.6 * 35/70 + 0.4 * 1/2
	assert.InDelta(t, 50.0, risk.RiskScore(35, 2, 70), 1e-9)
}

func TestCalculateVaultRiskMetrics(t *testing.T) {
	agent := agentWith(50, risk.TierBronze)
	now := time.Now().UTC()
	history := []risk.HistoricalSample{
		{Timestamp: now.Add(-2 * time.Hour), LTV: 40, HealthFactor: 1.75},
		{Timestamp: now.Add(-time.Hour), LTV: 55, HealthFactor: 1.27},
		{Timestamp: now, LTV: 65, HealthFactor: risk.InfiniteHealthFactor},
	}

	t.Run("NearMaxWithLowHealth", func(t *testing.T) {
		vault := newVault(t, 1000, 650)
		require.NoError(t, risk.RecalculateVaultMetrics(vault, agent, 1))

		metrics, err := risk.CalculateVaultRiskMetrics(vault, agent, history)
		require.NoError(t, err)
		assert.Equal(t, vault.ID, metrics.VaultID)
		assert.InDelta(t, 65.0, metrics.CurrentLTV, 1e-9)
		assert.InDelta(t, 70.0/65.0, metrics.CurrentHealthFactor.Float64(), 1e-9)
		assert.Equal(t, risk.RiskLevelCritical, metrics.RiskLevel)
		assert.Len(t, metrics.Warnings, 3)
		assert.Len(t, metrics.Recommendations, len(metrics.Warnings))
		assert.Contains(t, metrics.Warnings[0], "LTV nearing maximum")
		assert.Equal(t, "Consider adding collateral", metrics.Recommendations[0])
		assert.Equal(t, "Consider repaying debt", metrics.Recommendations[1])

		require.Len(t, metrics.LTVHistory, 3)
		require.Len(t, metrics.HealthFactorHistory, 3)
		assert.Equal(t, 55.0, metrics.LTVHistory[1].Value)
		assert.True(t, metrics.HealthFactorHistory[2].Value.IsInfinite())
	})

	t.Run("HealthyVault", func(t *testing.T) {
		vault := newVault(t, 1000, 300)
		require.NoError(t, risk.RecalculateVaultMetrics(vault, agent, 1))

		metrics, err := risk.CalculateVaultRiskMetrics(vault, agent, nil)
		require.NoError(t, err)
		assert.Equal(t, risk.RiskLevelLow, metrics.RiskLevel)
		assert.Empty(t, metrics.Warnings)
		assert.Empty(t, metrics.Recommendations)
		assert.Empty(t, metrics.LTVHistory)
	})

	t.Run("OverMax", func(t *testing.T) {
		vault := newVault(t, 1000, 800)
		require.NoError(t, risk.RecalculateVaultMetrics(vault, agent, 1))

		metrics, err := risk.CalculateVaultRiskMetrics(vault, agent, nil)
		require.NoError(t, err)
		assert.Contains(t, metrics.Warnings[0], "LTV exceeds maximum")
		assert.Len(t, metrics.Recommendations, len(metrics.Warnings))
	})

	t.Run("EncodesInfiniteHealth", func(t *testing.T) {
		vault := newVault(t, 1000, 0)
		require.NoError(t, risk.RecalculateVaultMetrics(vault, agent, 1))

		metrics, err := risk.CalculateVaultRiskMetrics(vault, agent, history)
		require.NoError(t, err)
		b, err := json.Marshal(metrics)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"current_health_factor":"Infinity"`)
		assert.Contains(t, string(b), `"risk_level":"low"`)
	})
}
