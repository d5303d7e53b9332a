package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// referenceBaseLTV is the base percentage scaled by the chain multiplier.
	referenceBaseLTV = 70.0
	scoreMidpoint    = 50.0
	scoreWeight      = 0.1

	minVolatilityFactor = 0.5
	maxVolatilityFactor = 2.0

	MinAllowedLTV = 20.0
	MaxAllowedLTV = 85.0
)

// TierBonus is the LTV bonus, in percentage points, granted per tier.
func TierBonus(tier CredibilityTier) float64 {
	switch tier {
	case TierSilver:
		return 1
	case TierGold:
		return 2
	case TierPlatinum:
		return 3
	case TierDiamond:
		return 4
	default:
		return 0
	}
}

// CalculateDynamicLTV returns the maximum LTV (percent, within [20, 85]) an
// agent may draw on a chain at the given volatility.
func CalculateDynamicLTV(agent *Agent, chainID string, collateralValueUSD decimal.Decimal, volatility float64) (float64, error) {
	chain, err := GetChainConfig(chainID)
	if err != nil {
		return 0, err
	}
	if agent == nil {
		return 0, ErrValidation.Explain("agent is required")
	}
	if collateralValueUSD.IsNegative() {
		return 0, ErrValidation.Explain("collateral value cannot be negative")
	}

	ltv := chain.LTVBaseMultiplier * referenceBaseLTV
	ltv += (agent.Score.Overall - scoreMidpoint) * scoreWeight
	ltv += TierBonus(agent.CredibilityTier)
	ltv /= volatilityFactor(volatility)

	return clamp(ltv, MinAllowedLTV, MaxAllowedLTV), nil
}

// volatilityFactor bounds the dampening divisor. NaN is treated as neutral.
func volatilityFactor(volatility float64) float64 {
	if math.IsNaN(volatility) {
		return 1.0
	}
	return clamp(volatility, minVolatilityFactor, maxVolatilityFactor)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
