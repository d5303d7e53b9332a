package risk_test

import (
	"errors"
	"math"
	"testing"

	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agentWith(score float64, tier risk.CredibilityTier) *risk.Agent {
	return &risk.Agent{ID: "agent-1", Name: "test", CredibilityTier: tier, Score: risk.AgentScore{Overall: score}}
}

var tiers = []risk.CredibilityTier{risk.TierBronze, risk.TierSilver, risk.TierGold, risk.TierPlatinum, risk.TierDiamond}

func TestCalculateDynamicLTV_GoldAgentOnEthereum(t *testing.T) {
	ltv, err := risk.CalculateDynamicLTV(agentWith(82, risk.TierGold), "ethereum", decimal.NewFromInt(10000), 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 75.2, ltv, 1e-9)
	assert.GreaterOrEqual(t, ltv, 70.0)
	assert.LessOrEqual(t, ltv, 78.0)
}

func TestCalculateDynamicLTV_Bounds(t *testing.T) {
	volatilities := []float64{0, 0.1, 0.5, 1, 1.7, 2, 5, math.Inf(1), math.NaN()}
	for _, chain := range risk.SupportedChains() {
		for _, tier := range tiers {
			for score := 0.0; score <= 100; score += 5 {
				for _, vol := range volatilities {
					ltv, err := risk.CalculateDynamicLTV(agentWith(score, tier), chain, decimal.NewFromInt(1000), vol)
					require.NoError(t, err)
					assert.GreaterOrEqual(t, ltv, risk.MinAllowedLTV)
					assert.LessOrEqual(t, ltv, risk.MaxAllowedLTV)
				}
			}
		}
	}
}

func TestCalculateDynamicLTV_Monotonic(t *testing.T) {
	collateral := decimal.NewFromInt(5000)

	t.Run("Score", func(t *testing.T) {
		prev := -1.0
		for score := 0.0; score <= 100; score++ {
			ltv, err := risk.CalculateDynamicLTV(agentWith(score, risk.TierSilver), "polygon", collateral, 1.2)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, ltv, prev)
			prev = ltv
		}
	})

	t.Run("Tier", func(t *testing.T) {
		prev := -1.0
		for _, tier := range tiers {
			ltv, err := risk.CalculateDynamicLTV(agentWith(60, tier), "arbitrum", collateral, 1.0)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, ltv, prev)
			prev = ltv
		}
	})

	t.Run("Volatility", func(t *testing.T) {
		prev := math.Inf(1)
		for vol := 0.1; vol <= 3; vol += 0.1 {
			ltv, err := risk.CalculateDynamicLTV(agentWith(70, risk.TierGold), "ethereum", collateral, vol)
			require.NoError(t, err)
			assert.LessOrEqual(t, ltv, prev)
			prev = ltv
		}
	})
}

func TestCalculateDynamicLTV_Errors(t *testing.T) {
	_, err := risk.CalculateDynamicLTV(agentWith(50, risk.TierBronze), "solana", decimal.NewFromInt(1), 1)
	assert.True(t, errors.Is(err, risk.ErrUnsupportedChain))

	_, err = risk.CalculateDynamicLTV(nil, "ethereum", decimal.NewFromInt(1), 1)
	assert.True(t, errors.Is(err, risk.ErrValidation))

	_, err = risk.CalculateDynamicLTV(agentWith(50, risk.TierBronze), "ethereum", decimal.NewFromInt(-1), 1)
	assert.True(t, errors.Is(err, risk.ErrValidation))
}

func TestGetChainConfig(t *testing.T) {
	cfg, err := risk.GetChainConfig("near")
	require.NoError(t, err)
	assert.Equal(t, "NEAR", cfg.NativeToken)
	assert.Equal(t, 0.85, cfg.LTVBaseMultiplier)

	_, err = risk.GetChainConfig("")
	assert.True(t, errors.Is(err, risk.ErrUnsupportedChain))

	assert.Equal(t, []string{"arbitrum", "avalanche", "base", "ethereum", "near", "optimism", "polygon"}, risk.SupportedChains())
}

func TestCredibilityTier_Text(t *testing.T) {
	tier, err := risk.ParseCredibilityTier(" Platinum ")
	require.NoError(t, err)
	assert.Equal(t, risk.TierPlatinum, tier)

	b, err := risk.TierDiamond.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "diamond", string(b))

	_, err = risk.ParseCredibilityTier("mythril")
	assert.True(t, errors.Is(err, risk.ErrValidation))
}
