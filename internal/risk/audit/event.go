// Package audit records every state-changing call made against the risk API.
package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EventOutcome is the result of an audited call.
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
)

// Event is one audited API call.
type Event struct {
	ID         string                 `gorm:"primaryKey;size:36" json:"id"`
	Action     string                 `gorm:"size:64;index" json:"action"`
	Method     string                 `gorm:"size:8" json:"method"`
	Path       string                 `gorm:"size:255" json:"path"`
	VaultID    string                 `gorm:"size:64;index" json:"vault_id,omitempty"`
	TargetID   string                 `gorm:"size:64" json:"target_id,omitempty"`
	Actor      string                 `gorm:"size:128" json:"actor,omitempty"`
	ClientIP   string                 `gorm:"size:64" json:"client_ip"`
	UserAgent  string                 `gorm:"size:255" json:"user_agent,omitempty"`
	StatusCode int                    `json:"status_code"`
	Outcome    EventOutcome           `gorm:"size:16" json:"outcome"`
	DurationMs int64                  `json:"duration_ms"`
	Request    map[string]interface{} `gorm:"type:text;serializer:json" json:"request,omitempty"`
	Timestamp  time.Time              `gorm:"index" json:"timestamp"`
}

// TableName overrides the gorm default.
func (Event) TableName() string { return "risk_audit_events" }

// Filter narrows List results. Limit defaults to 100.
type Filter struct {
	VaultID string
	Action  string
	Since   time.Time
	Limit   int
}

// Store persists audit events.
type Store struct {
	db *gorm.DB
}

// NewStore creates a gorm-backed audit store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the audit table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return fmt.Errorf("failed to migrate audit table: %w", err)
	}
	return nil
}

// Record stores one event.
func (s *Store) Record(ctx context.Context, event *Event) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// List returns matching events, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q := s.db.WithContext(ctx).Order("timestamp DESC").Limit(f.Limit)
	if f.VaultID != "" {
		q = q.Where("vault_id = ?", f.VaultID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since)
	}
	var events []Event
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// Prune deletes events older than cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&Event{})
	return res.RowsAffected, res.Error
}
