package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ActionType names a protection action.
type ActionType string

const (
	ActionNotify        ActionType = "NOTIFY"
	ActionAddCollateral ActionType = "ADD_COLLATERAL"
	ActionRepayDebt     ActionType = "REPAY_DEBT"
	ActionPauseVault    ActionType = "PAUSE_VAULT"
	ActionEscalate      ActionType = "ESCALATE"
)

// ActionTypes lists every action type known to the default registry.
func ActionTypes() []ActionType {
	return []ActionType{ActionNotify, ActionAddCollateral, ActionRepayDebt, ActionPauseVault, ActionEscalate}
}

// ProtectionAction is one typed step of a protection rule.
type ProtectionAction struct {
	Type       ActionType        `json:"type" validate:"required"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// RuleConditions are AND-ed. A nil field is vacuously satisfied.
type RuleConditions struct {
	// LTVThreshold matches when ltv >= threshold.
	LTVThreshold *float64 `json:"ltv_threshold,omitempty"`
	// HealthFactorThreshold matches when health factor <= threshold.
	HealthFactorThreshold *float64 `json:"health_factor_threshold,omitempty"`
	// MinRiskLevel matches when the classified level is at least this level.
	MinRiskLevel *RiskLevel `json:"min_risk_level,omitempty"`
	// VolatilityAbove matches when volatility > threshold.
	VolatilityAbove *float64 `json:"volatility_above,omitempty"`
}

// RuleSnapshot is the vault state rule conditions are evaluated against.
type RuleSnapshot struct {
	LTV          float64
	HealthFactor HealthFactor
	RiskLevel    RiskLevel
	Volatility   float64
}

// Matches reports whether every set condition holds for s.
func (c RuleConditions) Matches(s RuleSnapshot) bool {
	if c.LTVThreshold != nil && s.LTV < *c.LTVThreshold {
		return false
	}
	if c.HealthFactorThreshold != nil && float64(s.HealthFactor) > *c.HealthFactorThreshold {
		return false
	}
	if c.MinRiskLevel != nil && s.RiskLevel < *c.MinRiskLevel {
		return false
	}
	if c.VolatilityAbove != nil && !(s.Volatility > *c.VolatilityAbove) {
		return false
	}
	return true
}

// ProtectionRule is an externally supplied, per-vault protection rule. The
// engine only evaluates it and stamps LastExecutedAt.
type ProtectionRule struct {
	ID              string             `json:"id"`
	VaultID         string             `json:"vault_id"`
	Conditions      RuleConditions     `json:"conditions"`
	Actions         []ProtectionAction `json:"actions"`
	Enabled         bool               `json:"enabled"`
	Priority        int                `json:"priority"`
	CooldownSeconds int64              `json:"cooldown_seconds"`
	LastExecutedAt  *time.Time         `json:"last_executed_at,omitempty"`
}

func (r *ProtectionRule) inCooldown(now time.Time) bool {
	if r.LastExecutedAt == nil {
		return false
	}
	return now.Sub(*r.LastExecutedAt) < time.Duration(r.CooldownSeconds)*time.Second
}

// RuleExecutionResult is the outcome of one eligible rule.
type RuleExecutionResult struct {
	RuleID     string       `json:"rule_id"`
	Priority   int          `json:"priority"`
	Executed   bool         `json:"executed"`
	Message    string       `json:"message"`
	Actions    []ActionType `json:"actions"`
	ExecutedAt *time.Time   `json:"executed_at,omitempty"`
}

const (
	msgRuleExecuted = "Rule executed successfully"
	msgRuleCooldown = "Rule in cooldown period"
)

// ActionHandler performs one protection action against a vault.
type ActionHandler interface {
	Handle(ctx context.Context, vault *CreditVault, action ProtectionAction) error
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, vault *CreditVault, action ProtectionAction) error

// Handle calls f.
func (f ActionHandlerFunc) Handle(ctx context.Context, vault *CreditVault, action ProtectionAction) error {
	return f(ctx, vault, action)
}

// ActionRegistry maps action types to handlers. It is safe for concurrent use.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[ActionType]ActionHandler
}

// NewActionRegistry returns a registry where every known action type only
// logs. Hosts override the types they can actually perform.
func NewActionRegistry(logger *zap.Logger) *ActionRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ActionRegistry{handlers: make(map[ActionType]ActionHandler)}
	for _, t := range ActionTypes() {
		r.handlers[t] = loggingAction(logger)
	}
	return r
}

func loggingAction(logger *zap.Logger) ActionHandler {
	return ActionHandlerFunc(func(_ context.Context, vault *CreditVault, action ProtectionAction) error {
		logger.Info("Protection action requested",
			zap.String("vault_id", vault.ID),
			zap.String("action", string(action.Type)),
			zap.Any("parameters", action.Parameters))
		return nil
	})
}

// Register installs or replaces the handler for t.
func (r *ActionRegistry) Register(t ActionType, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Handle dispatches action to its handler.
func (r *ActionRegistry) Handle(ctx context.Context, vault *CreditVault, action ProtectionAction) error {
	r.mu.RLock()
	h, ok := r.handlers[action.Type]
	r.mu.RUnlock()
	if !ok {
		return ErrValidation.Explain("unknown protection action %q", action.Type)
	}
	return h.Handle(ctx, vault, action)
}

// ProtectionEvaluator decides when liquidation protection fires and runs
// protection rules.
type ProtectionEvaluator struct {
	actions *ActionRegistry
	logger  *zap.Logger
	now     func() time.Time
}

// NewProtectionEvaluator creates an evaluator. A nil registry gets the logging defaults.
func NewProtectionEvaluator(actions *ActionRegistry, logger *zap.Logger) *ProtectionEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if actions == nil {
		actions = NewActionRegistry(logger)
	}
	return &ProtectionEvaluator{actions: actions, logger: logger, now: time.Now}
}

// WithClock replaces the wall clock, mostly for tests.
func (e *ProtectionEvaluator) WithClock(now func() time.Time) *ProtectionEvaluator {
	e.now = now
	return e
}

// Actions returns the registry used to run rule actions.
func (e *ProtectionEvaluator) Actions() *ActionRegistry {
	return e.actions
}

// ShouldTriggerLiquidationProtection is false when protection is disabled or
// still cooling down, regardless of LTV and health factor. Otherwise it fires
// when the stored LTV reached the threshold or the health factor is <= 1.0.
func (e *ProtectionEvaluator) ShouldTriggerLiquidationProtection(vault *CreditVault, agent *Agent, volatility float64) (bool, error) {
	if vault == nil {
		return false, ErrValidation.Explain("vault is required")
	}
	p := vault.LiquidationProtection
	if !p.Enabled {
		return false, nil
	}
	if p.LastTriggeredAt != nil && e.now().Sub(*p.LastTriggeredAt) < p.Cooldown() {
		return false, nil
	}
	if vault.LTV >= p.Threshold {
		return true, nil
	}
	hf, err := CalculateHealthFactor(vault, agent, volatility)
	if err != nil {
		return false, err
	}
	return hf <= 1.0, nil
}

// ExecuteProtectionRules evaluates all rules against one snapshot of the vault
// taken before any action runs, then executes the matching enabled rules by
// descending priority (ties by id). Rules still in cooldown are reported but
// not executed.
func (e *ProtectionEvaluator) ExecuteProtectionRules(ctx context.Context, vault *CreditVault, rules []*ProtectionRule, agent *Agent, volatility float64) ([]RuleExecutionResult, error) {
	if vault == nil {
		return nil, ErrValidation.Explain("vault is required")
	}
	hf, err := CalculateHealthFactor(vault, agent, volatility)
	if err != nil {
		return nil, err
	}
	snapshot := RuleSnapshot{
		LTV:          vault.LTV,
		HealthFactor: HealthFactor(hf),
		RiskLevel:    ClassifyRisk(vault.LTV, hf),
		Volatility:   volatility,
	}

	eligible := make([]*ProtectionRule, 0, len(rules))
	for _, rule := range rules {
		if rule == nil || !rule.Enabled {
			continue
		}
		if rule.VaultID != "" && rule.VaultID != vault.ID {
			continue
		}
		if rule.Conditions.Matches(snapshot) {
			eligible = append(eligible, rule)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].ID < eligible[j].ID
	})

	now := e.now()
	results := make([]RuleExecutionResult, 0, len(eligible))
	for _, rule := range eligible {
		result := RuleExecutionResult{RuleID: rule.ID, Priority: rule.Priority, Actions: []ActionType{}}
		if rule.inCooldown(now) {
			result.Message = msgRuleCooldown
			results = append(results, result)
			continue
		}

		if err := e.runActions(ctx, vault, rule, &result); err != nil {
			e.logger.Warn("Protection rule failed",
				zap.String("vault_id", vault.ID),
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			result.Message = fmt.Sprintf("Rule failed: %v", err)
			results = append(results, result)
			continue
		}

		executedAt := now
		rule.LastExecutedAt = &executedAt
		result.Executed = true
		result.Message = msgRuleExecuted
		result.ExecutedAt = &executedAt
		results = append(results, result)

		e.logger.Info("Protection rule executed",
			zap.String("vault_id", vault.ID),
			zap.String("rule_id", rule.ID),
			zap.Int("priority", rule.Priority),
			zap.Int("actions", len(rule.Actions)))
	}
	return results, nil
}

func (e *ProtectionEvaluator) runActions(ctx context.Context, vault *CreditVault, rule *ProtectionRule, result *RuleExecutionResult) error {
	for _, action := range rule.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.actions.Handle(ctx, vault, action); err != nil {
			return fmt.Errorf("action %s: %w", action.Type, err)
		}
		result.Actions = append(result.Actions, action.Type)
	}
	return nil
}
