package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// VaultRepository persists credit vaults.
type VaultRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewVaultRepository creates a new vault repository
func NewVaultRepository(db *gorm.DB, logger *zap.Logger) *VaultRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VaultRepository{db: db, logger: logger}
}

// Create inserts a new vault.
func (r *VaultRepository) Create(ctx context.Context, vault *risk.CreditVault) error {
	return r.db.WithContext(ctx).Create(vaultModel(vault)).Error
}

// Save writes every field of the vault, inserting it when missing.
func (r *VaultRepository) Save(ctx context.Context, vault *risk.CreditVault) error {
	return r.db.WithContext(ctx).Save(vaultModel(vault)).Error
}

// Get loads a vault by id. A miss is risk.ErrNotFound.
func (r *VaultRepository) Get(ctx context.Context, id string) (*risk.CreditVault, error) {
	var m VaultModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, risk.ErrNotFound.Explain("vault %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

// ListByAgent returns an agent's vaults, oldest first.
func (r *VaultRepository) ListByAgent(ctx context.Context, agentID string) ([]*risk.CreditVault, error) {
	var models []VaultModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toVaults(models), nil
}

// ListByStatus returns up to limit vaults in the given status, oldest risk
// check first. A non-positive limit returns all of them.
func (r *VaultRepository) ListByStatus(ctx context.Context, status risk.VaultStatus, limit int) ([]*risk.CreditVault, error) {
	q := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("last_risk_check_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []VaultModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return toVaults(models), nil
}

// UpdateStatus moves a stored vault through its lifecycle.
func (r *VaultRepository) UpdateStatus(ctx context.Context, id string, status risk.VaultStatus) (*risk.CreditVault, error) {
	var out *risk.CreditVault
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m VaultModel
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return risk.ErrNotFound.Explain("vault %q not found", id)
			}
			return err
		}
		vault := m.toDomain()
		if err := risk.TransitionVaultStatus(vault, status); err != nil {
			return err
		}
		vault.UpdatedAt = time.Now().UTC()
		if err := tx.Save(vaultModel(vault)).Error; err != nil {
			return err
		}
		out = vault
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("Vault status updated", zap.String("vault_id", id), zap.String("status", string(status)))
	return out, nil
}

func toVaults(models []VaultModel) []*risk.CreditVault {
	out := make([]*risk.CreditVault, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out
}
