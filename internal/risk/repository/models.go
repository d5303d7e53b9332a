package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// VaultModel is the persisted form of a credit vault. A NULL health factor
// is an infinite one.
type VaultModel struct {
	ID      string `gorm:"type:varchar(36);primaryKey"`
	AgentID string `gorm:"type:varchar(64);index;not null"`
	ChainID string `gorm:"type:varchar(32);index;not null"`
	Status  string `gorm:"type:varchar(20);index;not null"`

	CollateralToken     string          `gorm:"type:varchar(20);not null"`
	CollateralAmount    decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	CollateralValueUSD  decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	CollateralUpdatedAt time.Time
	DebtToken           string          `gorm:"type:varchar(20);not null"`
	DebtAmount          decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	DebtValueUSD        decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	DebtUpdatedAt       time.Time

	LTV          float64
	HealthFactor risk.HealthFactor
	MaxLTV       float64

	ProtectionEnabled         bool
	ProtectionThreshold       float64
	ProtectionCooldownSeconds int64
	ProtectionLastTriggeredAt *time.Time

	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastRiskCheckAt time.Time
}

func (VaultModel) TableName() string { return "credit_vaults" }

func vaultModel(v *risk.CreditVault) *VaultModel {
	return &VaultModel{
		ID:                        v.ID,
		AgentID:                   v.AgentID,
		ChainID:                   v.ChainID,
		Status:                    string(v.Status),
		CollateralToken:           v.Collateral.Token,
		CollateralAmount:          v.Collateral.Amount,
		CollateralValueUSD:        v.Collateral.ValueUSD,
		CollateralUpdatedAt:       v.Collateral.LastUpdated,
		DebtToken:                 v.Debt.Token,
		DebtAmount:                v.Debt.Amount,
		DebtValueUSD:              v.Debt.ValueUSD,
		DebtUpdatedAt:             v.Debt.LastUpdated,
		LTV:                       v.LTV,
		HealthFactor:              v.HealthFactor,
		MaxLTV:                    v.MaxLTV,
		ProtectionEnabled:         v.LiquidationProtection.Enabled,
		ProtectionThreshold:       v.LiquidationProtection.Threshold,
		ProtectionCooldownSeconds: v.LiquidationProtection.CooldownSeconds,
		ProtectionLastTriggeredAt: v.LiquidationProtection.LastTriggeredAt,
		CreatedAt:                 v.CreatedAt,
		UpdatedAt:                 v.UpdatedAt,
		LastRiskCheckAt:           v.LastRiskCheckAt,
	}
}

func (m *VaultModel) toDomain() *risk.CreditVault {
	return &risk.CreditVault{
		ID:      m.ID,
		AgentID: m.AgentID,
		ChainID: m.ChainID,
		Status:  risk.VaultStatus(m.Status),
		Collateral: risk.AssetPosition{
			Token:       m.CollateralToken,
			Amount:      m.CollateralAmount,
			ValueUSD:    m.CollateralValueUSD,
			LastUpdated: m.CollateralUpdatedAt,
		},
		Debt: risk.AssetPosition{
			Token:       m.DebtToken,
			Amount:      m.DebtAmount,
			ValueUSD:    m.DebtValueUSD,
			LastUpdated: m.DebtUpdatedAt,
		},
		LTV:          m.LTV,
		HealthFactor: m.HealthFactor,
		MaxLTV:       m.MaxLTV,
		LiquidationProtection: risk.LiquidationProtection{
			Enabled:         m.ProtectionEnabled,
			Threshold:       m.ProtectionThreshold,
			CooldownSeconds: m.ProtectionCooldownSeconds,
			LastTriggeredAt: m.ProtectionLastTriggeredAt,
		},
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		LastRiskCheckAt: m.LastRiskCheckAt,
	}
}

// AgentModel mirrors the external agent registry.
type AgentModel struct {
	ID               string `gorm:"type:varchar(64);primaryKey"`
	Name             string `gorm:"type:varchar(255)"`
	CredibilityTier  string `gorm:"type:varchar(20);not null"`
	ScoreOverall     float64
	ScorePerformance float64
	ScoreConfidence  float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (AgentModel) TableName() string { return "agents" }

func agentModel(a *risk.Agent) *AgentModel {
	return &AgentModel{
		ID:               a.ID,
		Name:             a.Name,
		CredibilityTier:  a.CredibilityTier.String(),
		ScoreOverall:     a.Score.Overall,
		ScorePerformance: a.Score.Performance,
		ScoreConfidence:  a.Score.Confidence,
	}
}

func (m *AgentModel) toDomain() (*risk.Agent, error) {
	tier, err := risk.ParseCredibilityTier(m.CredibilityTier)
	if err != nil {
		return nil, err
	}
	return &risk.Agent{
		ID:              m.ID,
		Name:            m.Name,
		CredibilityTier: tier,
		Score: risk.AgentScore{
			Overall:     m.ScoreOverall,
			Performance: m.ScorePerformance,
			Confidence:  m.ScoreConfidence,
		},
	}, nil
}

// RuleModel stores a protection rule; conditions and actions are JSON columns.
type RuleModel struct {
	ID              string                  `gorm:"type:varchar(36);primaryKey"`
	VaultID         string                  `gorm:"type:varchar(36);index;not null"`
	Conditions      risk.RuleConditions     `gorm:"type:text;serializer:json"`
	Actions         []risk.ProtectionAction `gorm:"type:text;serializer:json"`
	Enabled         bool
	Priority        int `gorm:"index"`
	CooldownSeconds int64
	LastExecutedAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (RuleModel) TableName() string { return "protection_rules" }

func ruleModel(r *risk.ProtectionRule) *RuleModel {
	return &RuleModel{
		ID:              r.ID,
		VaultID:         r.VaultID,
		Conditions:      r.Conditions,
		Actions:         r.Actions,
		Enabled:         r.Enabled,
		Priority:        r.Priority,
		CooldownSeconds: r.CooldownSeconds,
		LastExecutedAt:  r.LastExecutedAt,
	}
}

func (m *RuleModel) toDomain() *risk.ProtectionRule {
	actions := m.Actions
	if actions == nil {
		actions = []risk.ProtectionAction{}
	}
	return &risk.ProtectionRule{
		ID:              m.ID,
		VaultID:         m.VaultID,
		Conditions:      m.Conditions,
		Actions:         actions,
		Enabled:         m.Enabled,
		Priority:        m.Priority,
		CooldownSeconds: m.CooldownSeconds,
		LastExecutedAt:  m.LastExecutedAt,
	}
}

// RiskSampleModel is one recorded (timestamp, ltv, health factor) point.
type RiskSampleModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	VaultID      string `gorm:"type:varchar(36);index:idx_risk_samples_vault_time,priority:1;not null"`
	LTV          float64
	HealthFactor risk.HealthFactor
	RecordedAt   time.Time `gorm:"index:idx_risk_samples_vault_time,priority:2;not null"`
}

func (RiskSampleModel) TableName() string { return "vault_risk_samples" }
