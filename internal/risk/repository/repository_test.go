package repository_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/Aidin1998/vaultrisk/internal/risk/config"
	"github.com/Aidin1998/vaultrisk/internal/risk/repository"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repository.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		AutoMigrate:  true,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := repository.Open(config.DatabaseConfig{Driver: "mysql", DSN: "x"}, nil)
	assert.Error(t, err)
}

func TestVaultRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewVaultRepository(setupDB(t), zap.NewNop())

	vault, err := risk.CreateCreditVault("agent-1", "polygon", "MATIC", decimal.RequireFromString("1500.25"), decimal.NewFromInt(1000), 60)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, vault))

	got, err := repo.Get(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.AgentID, got.AgentID)
	assert.Equal(t, risk.VaultStatusActive, got.Status)
	assert.True(t, got.Collateral.Amount.Equal(decimal.RequireFromString("1500.25")))
	assert.True(t, got.HealthFactor.IsInfinite(), "debt-free vault keeps an infinite health factor")
	assert.InDelta(t, 51.0, got.LiquidationProtection.Threshold, 1e-9)
	assert.Nil(t, got.LiquidationProtection.LastTriggeredAt)

	require.NoError(t, risk.UpdateVaultDebt(got, decimal.NewFromInt(500), decimal.NewFromInt(500)))
	agent := &risk.Agent{ID: "agent-1", CredibilityTier: risk.TierSilver, Score: risk.AgentScore{Overall: 70}}
	require.NoError(t, risk.RecalculateVaultMetrics(got, agent, 1.0))
	risk.MarkProtectionTriggered(got, time.Now())
	require.NoError(t, repo.Save(ctx, got))

	saved, err := repo.Get(ctx, vault.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, saved.LTV, 1e-9)
	assert.InDelta(t, got.HealthFactor.Float64(), saved.HealthFactor.Float64(), 1e-9)
	assert.True(t, saved.Debt.ValueUSD.Equal(decimal.NewFromInt(500)))
	require.NotNil(t, saved.LiquidationProtection.LastTriggeredAt)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, risk.ErrNotFound)
}

func TestVaultRepository_Listing(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewVaultRepository(setupDB(t), nil)

	var ids []string
	for i, agentID := range []string{"a", "a", "b"} {
		vault, err := risk.CreateCreditVault(agentID, "ethereum", "ETH", decimal.NewFromInt(1), decimal.NewFromInt(100), 70)
		require.NoError(t, err)
		vault.LastRiskCheckAt = vault.LastRiskCheckAt.Add(time.Duration(i) * time.Minute)
		vault.CreatedAt = vault.LastRiskCheckAt
		require.NoError(t, repo.Create(ctx, vault))
		ids = append(ids, vault.ID)
	}

	byAgent, err := repo.ListByAgent(ctx, "a")
	require.NoError(t, err)
	require.Len(t, byAgent, 2)
	assert.Equal(t, ids[0], byAgent[0].ID)
	assert.Equal(t, ids[1], byAgent[1].ID)

	closed, err := repo.UpdateStatus(ctx, ids[1], risk.VaultStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, risk.VaultStatusClosed, closed.Status)

	_, err = repo.UpdateStatus(ctx, ids[1], risk.VaultStatusActive)
	assert.ErrorIs(t, err, risk.ErrValidation)
	_, err = repo.UpdateStatus(ctx, "missing", risk.VaultStatusClosed)
	assert.ErrorIs(t, err, risk.ErrNotFound)

	active, err := repo.ListByStatus(ctx, risk.VaultStatusActive, 0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ids[0], active[0].ID)
	assert.Equal(t, ids[2], active[1].ID)

	limited, err := repo.ListByStatus(ctx, risk.VaultStatusActive, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAgentRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAgentRepository(setupDB(t))

	agent := &risk.Agent{ID: "agent-7", Name: "Atlas", CredibilityTier: risk.TierPlatinum, Score: risk.AgentScore{Overall: 91, Performance: 88, Confidence: 0.9}}
	require.NoError(t, repo.Upsert(ctx, agent))

	agent.Score.Overall = 93
	require.NoError(t, repo.Upsert(ctx, agent))

	got, err := repo.Get(ctx, "agent-7")
	require.NoError(t, err)
	assert.Equal(t, risk.TierPlatinum, got.CredibilityTier)
	assert.Equal(t, 93.0, got.Score.Overall)
	assert.Equal(t, "Atlas", got.Name)

	_, err = repo.Get(ctx, "ghost")
	assert.ErrorIs(t, err, risk.ErrNotFound)
	assert.ErrorIs(t, repo.Upsert(ctx, &risk.Agent{}), risk.ErrValidation)
}

func TestAgentRepository_UpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := repository.NewAgentRepository(db)

	agent := &risk.Agent{ID: "agent-9", Name: "Borealis", CredibilityTier: risk.TierGold, Score: risk.AgentScore{Overall: 80}}
	require.NoError(t, repo.Upsert(ctx, agent))

	registered := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	require.NoError(t, db.Model(&repository.AgentModel{ID: "agent-9"}).UpdateColumn("created_at", registered).Error)

	agent.CredibilityTier = risk.TierPlatinum
	agent.Score.Overall = 90
	require.NoError(t, repo.Upsert(ctx, agent))

	var row repository.AgentModel
	require.NoError(t, db.Where("id = ?", "agent-9").First(&row).Error)
	assert.False(t, row.CreatedAt.IsZero())
	assert.WithinDuration(t, registered, row.CreatedAt, time.Second)
	assert.True(t, row.UpdatedAt.After(registered))
	assert.Equal(t, "platinum", row.CredibilityTier)
	assert.Equal(t, 90.0, row.ScoreOverall)

	var count int64
	require.NoError(t, db.Model(&repository.AgentModel{}).Where("id = ?", "agent-9").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRuleRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewRuleRepository(setupDB(t))

	ltv := 70.0
	level := risk.RiskLevelHigh
	rules := []*risk.ProtectionRule{
		{ID: "b", VaultID: "v1", Priority: 5, Enabled: true},
		{ID: "a", VaultID: "v1", Priority: 5, Enabled: true},
		{
			ID: "top", VaultID: "v1", Priority: 10, Enabled: true, CooldownSeconds: 60,
			Conditions: risk.RuleConditions{LTVThreshold: &ltv, MinRiskLevel: &level},
			Actions:    []risk.ProtectionAction{{Type: risk.ActionNotify, Parameters: map[string]string{"channel": "ops"}}},
		},
		{ID: uuid.NewString(), VaultID: "v2", Priority: 1},
	}
	for _, rule := range rules {
		require.NoError(t, repo.Create(ctx, rule))
	}

	got, err := repo.ListByVault(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"top", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})

	top := got[0]
	require.NotNil(t, top.Conditions.LTVThreshold)
	assert.Equal(t, 70.0, *top.Conditions.LTVThreshold)
	require.NotNil(t, top.Conditions.MinRiskLevel)
	assert.Equal(t, risk.RiskLevelHigh, *top.Conditions.MinRiskLevel)
	assert.Nil(t, top.Conditions.HealthFactorThreshold)
	require.Len(t, top.Actions, 1)
	assert.Equal(t, "ops", top.Actions[0].Parameters["channel"])
	assert.Empty(t, got[1].Actions)

	executed := time.Now().UTC().Truncate(time.Second)
	top.LastExecutedAt = &executed
	require.NoError(t, repo.SaveExecutions(ctx, got))

	got, err = repo.ListByVault(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, got[0].LastExecutedAt)
	assert.True(t, executed.Equal(*got[0].LastExecutedAt))
	assert.Nil(t, got[1].LastExecutedAt)

	require.NoError(t, repo.Delete(ctx, "a"))
	assert.ErrorIs(t, repo.Delete(ctx, "a"), risk.ErrNotFound)
}

func TestHistoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewHistoryRepository(setupDB(t))

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		hf := risk.HealthFactor(2.0 - float64(i)*0.1)
		if i == 0 {
			hf = risk.InfiniteHealthFactor
		}
		require.NoError(t, repo.Record(ctx, "v1", risk.HistoricalSample{
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
			LTV:          float64(40 + i),
			HealthFactor: hf,
		}))
	}
	require.NoError(t, repo.Record(ctx, "v2", risk.HistoricalSample{Timestamp: base, LTV: 10, HealthFactor: 3}))

	recent, err := repo.Recent(ctx, "v1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []float64{42, 43, 44}, []float64{recent[0].LTV, recent[1].LTV, recent[2].LTV})
	assert.True(t, recent[0].Timestamp.Before(recent[2].Timestamp))

	all, err := repo.Recent(ctx, "v1", 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.True(t, all[0].HealthFactor.IsInfinite())

	removed, err := repo.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	left, err := repo.Recent(ctx, "v1", 10)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}
