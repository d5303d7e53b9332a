package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// AgentRepository is the local view of the agent registry.
type AgentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Upsert stores an agent or updates its profile in place. The original
// created_at survives updates.
func (r *AgentRepository) Upsert(ctx context.Context, agent *risk.Agent) error {
	if agent == nil || agent.ID == "" {
		return risk.ErrValidation.Explain("agent id is required")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "credibility_tier", "score_overall", "score_performance", "score_confidence", "updated_at",
		}),
	}).Create(agentModel(agent)).Error
}

// Get loads an agent. A miss is risk.ErrNotFound.
func (r *AgentRepository) Get(ctx context.Context, id string) (*risk.Agent, error) {
	var m AgentModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, risk.ErrNotFound.Explain("agent %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain()
}
