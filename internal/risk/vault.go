package risk

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultDebtToken is the token debt is denominated in.
	DefaultDebtToken = "USDC"
	// DefaultProtectionCooldownSeconds is the cooldown given to new vaults.
	DefaultProtectionCooldownSeconds = 3600

	protectionThresholdRatio = 0.85
)

// CreateCreditVault opens an active vault with no debt. Protection is enabled
// with a threshold of 85% of maxLTV.
func CreateCreditVault(agentID, chainID, token string, amount, valueUSD decimal.Decimal, maxLTV float64) (*CreditVault, error) {
	if _, err := GetChainConfig(chainID); err != nil {
		return nil, err
	}
	if agentID == "" {
		return nil, ErrValidation.Explain("agent id is required")
	}
	if token == "" {
		return nil, ErrValidation.Explain("collateral token is required")
	}
	if amount.IsNegative() || valueUSD.IsNegative() {
		return nil, ErrValidation.Explain("collateral cannot be negative")
	}
	if maxLTV <= 0 || maxLTV > 100 {
		return nil, ErrValidation.Explain("max ltv %.2f out of range", maxLTV)
	}

	now := time.Now().UTC()
	return &CreditVault{
		ID:      uuid.New().String(),
		AgentID: agentID,
		ChainID: chainID,
		Status:  VaultStatusActive,
		Collateral: AssetPosition{
			Token:       token,
			Amount:      amount,
			ValueUSD:    valueUSD,
			LastUpdated: now,
		},
		Debt: AssetPosition{
			Token:       DefaultDebtToken,
			Amount:      decimal.Zero,
			ValueUSD:    decimal.Zero,
			LastUpdated: now,
		},
		LTV:          0,
		HealthFactor: InfiniteHealthFactor,
		MaxLTV:       maxLTV,
		LiquidationProtection: LiquidationProtection{
			Enabled:         true,
			Threshold:       maxLTV * protectionThresholdRatio,
			CooldownSeconds: DefaultProtectionCooldownSeconds,
		},
		CreatedAt:       now,
		UpdatedAt:       now,
		LastRiskCheckAt: now,
	}, nil
}

// UpdateVaultCollateral replaces the collateral amount and value. LTV and
// health factor are left stale until RecalculateVaultMetrics runs.
func UpdateVaultCollateral(vault *CreditVault, amount, valueUSD decimal.Decimal) error {
	if err := checkPosition(vault, amount, valueUSD); err != nil {
		return err
	}
	now := time.Now().UTC()
	vault.Collateral.Amount = amount
	vault.Collateral.ValueUSD = valueUSD
	vault.Collateral.LastUpdated = now
	vault.UpdatedAt = now
	return nil
}

// UpdateVaultDebt replaces the debt amount and value. Like
// UpdateVaultCollateral it does not recompute derived fields.
func UpdateVaultDebt(vault *CreditVault, amount, valueUSD decimal.Decimal) error {
	if err := checkPosition(vault, amount, valueUSD); err != nil {
		return err
	}
	now := time.Now().UTC()
	vault.Debt.Amount = amount
	vault.Debt.ValueUSD = valueUSD
	vault.Debt.LastUpdated = now
	vault.UpdatedAt = now
	return nil
}

func checkPosition(vault *CreditVault, amount, valueUSD decimal.Decimal) error {
	if vault == nil {
		return ErrValidation.Explain("vault is required")
	}
	if amount.IsNegative() || valueUSD.IsNegative() {
		return ErrValidation.Explain("position cannot be negative")
	}
	return nil
}

// RecalculateVaultMetrics recomputes ltv, maxLTV and health factor. It is the
// only function that moves the derived fields.
func RecalculateVaultMetrics(vault *CreditVault, agent *Agent, volatility float64) error {
	if vault == nil {
		return ErrValidation.Explain("vault is required")
	}
	maxLTV, err := CalculateDynamicLTV(agent, vault.ChainID, vault.Collateral.ValueUSD, volatility)
	if err != nil {
		return err
	}
	hf, err := CalculateHealthFactor(vault, agent, volatility)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	vault.LTV = CurrentLTV(vault)
	vault.MaxLTV = maxLTV
	vault.HealthFactor = HealthFactor(hf)
	vault.LastRiskCheckAt = now
	vault.UpdatedAt = now
	return nil
}

// MarkProtectionTriggered stamps the protection cooldown start.
func MarkProtectionTriggered(vault *CreditVault, at time.Time) {
	t := at.UTC()
	vault.LiquidationProtection.LastTriggeredAt = &t
	if t.After(vault.UpdatedAt) {
		vault.UpdatedAt = t
	}
}

var statusTransitions = map[VaultStatus][]VaultStatus{
	VaultStatusActive:      {VaultStatusUnderReview, VaultStatusLiquidated, VaultStatusClosed},
	VaultStatusUnderReview: {VaultStatusActive, VaultStatusLiquidated, VaultStatusClosed},
}

// TransitionVaultStatus moves a vault through its lifecycle. Liquidated and
// Closed are terminal.
func TransitionVaultStatus(vault *CreditVault, to VaultStatus) error {
	if vault == nil {
		return ErrValidation.Explain("vault is required")
	}
	if vault.Status == to {
		return nil
	}
	for _, allowed := range statusTransitions[vault.Status] {
		if allowed == to {
			vault.Status = to
			vault.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrValidation.Explain("cannot move vault from %s to %s", vault.Status, to)
}
