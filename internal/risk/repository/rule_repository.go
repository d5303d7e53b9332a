package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// RuleRepository persists per-vault protection rules.
type RuleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create inserts a rule.
func (r *RuleRepository) Create(ctx context.Context, rule *risk.ProtectionRule) error {
	return r.db.WithContext(ctx).Create(ruleModel(rule)).Error
}

// ListByVault returns a vault's rules by descending priority, ties by id.
func (r *RuleRepository) ListByVault(ctx context.Context, vaultID string) ([]*risk.ProtectionRule, error) {
	var models []RuleModel
	err := r.db.WithContext(ctx).
		Where("vault_id = ?", vaultID).
		Order("priority DESC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*risk.ProtectionRule, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

// SaveExecutions persists the LastExecutedAt stamps of rules.
func (r *RuleRepository) SaveExecutions(ctx context.Context, rules []*risk.ProtectionRule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rule := range rules {
			if rule == nil || rule.LastExecutedAt == nil {
				continue
			}
			err := tx.Model(&RuleModel{}).
				Where("id = ?", rule.ID).
				Update("last_executed_at", rule.LastExecutedAt).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a rule. A miss is risk.ErrNotFound.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&RuleModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return risk.ErrNotFound.Explain("rule %q not found", id)
	}
	return nil
}
