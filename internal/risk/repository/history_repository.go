package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// HistoryRepository records evaluated vault risk so later evaluations have
// historical samples for trends and projection.
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Record appends a sample for a vault.
func (r *HistoryRepository) Record(ctx context.Context, vaultID string, sample risk.HistoricalSample) error {
	return r.db.WithContext(ctx).Create(&RiskSampleModel{
		VaultID:      vaultID,
		LTV:          sample.LTV,
		HealthFactor: sample.HealthFactor,
		RecordedAt:   sample.Timestamp,
	}).Error
}

// Recent returns the latest limit samples of a vault in chronological order.
func (r *HistoryRepository) Recent(ctx context.Context, vaultID string, limit int) ([]risk.HistoricalSample, error) {
	var models []RiskSampleModel
	err := r.db.WithContext(ctx).
		Where("vault_id = ?", vaultID).
		Order("recorded_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]risk.HistoricalSample, len(models))
	for i, m := range models {
		out[len(models)-1-i] = risk.HistoricalSample{
			Timestamp:    m.RecordedAt,
			LTV:          m.LTV,
			HealthFactor: m.HealthFactor,
		}
	}
	return out, nil
}

// Prune deletes samples recorded before cutoff and returns how many went.
func (r *HistoryRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("recorded_at < ?", cutoff).Delete(&RiskSampleModel{})
	return res.RowsAffected, res.Error
}
