// Package service orchestrates the vault risk engine over its stores: vault
// lifecycle writes, monitoring with history, protection rules and market data.
package service

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/Aidin1998/vaultrisk/internal/risk/monitoring"
)

const lockShards = 64

// VaultStore persists credit vaults.
type VaultStore interface {
	Create(ctx context.Context, vault *risk.CreditVault) error
	Save(ctx context.Context, vault *risk.CreditVault) error
	Get(ctx context.Context, id string) (*risk.CreditVault, error)
	ListByAgent(ctx context.Context, agentID string) ([]*risk.CreditVault, error)
	ListByStatus(ctx context.Context, status risk.VaultStatus, limit int) ([]*risk.CreditVault, error)
	UpdateStatus(ctx context.Context, id string, status risk.VaultStatus) (*risk.CreditVault, error)
}

// AgentStore persists agents.
type AgentStore interface {
	Upsert(ctx context.Context, agent *risk.Agent) error
	Get(ctx context.Context, id string) (*risk.Agent, error)
}

// RuleStore persists protection rules.
type RuleStore interface {
	Create(ctx context.Context, rule *risk.ProtectionRule) error
	ListByVault(ctx context.Context, vaultID string) ([]*risk.ProtectionRule, error)
	SaveExecutions(ctx context.Context, rules []*risk.ProtectionRule) error
	Delete(ctx context.Context, id string) error
}

// HistoryStore keeps evaluated vault risk samples.
type HistoryStore interface {
	Record(ctx context.Context, vaultID string, sample risk.HistoricalSample) error
	Recent(ctx context.Context, vaultID string, limit int) ([]risk.HistoricalSample, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// MarketUpdater applies pushed market data. The Redis feed implements it so
// updates reach the cache as well as the monitor.
type MarketUpdater interface {
	Apply(ctx context.Context, chainID string, update risk.MarketDataUpdate) (risk.MarketData, error)
}

// Options holds optional service collaborators.
type Options struct {
	Logger *zap.Logger
	// Market defaults to applying updates on the monitor only.
	Market MarketUpdater
	// HistoryLimit is how many samples feed one evaluation.
	HistoryLimit int
	Clock        func() time.Time
}

// VaultService is the entry point for every vault operation. Writes to one
// vault are serialized; different vaults proceed in parallel.
type VaultService struct {
	vaults  VaultStore
	agents  AgentStore
	rules   RuleStore
	history HistoryStore
	monitor *monitoring.EnhancedRiskMonitor
	market  MarketUpdater
	logger  *zap.Logger
	now     func() time.Time

	historyLimit int
	locks        [lockShards]sync.Mutex
}

// NewVaultService wires the service and installs the PAUSE_VAULT action on
// the monitor's protection evaluator.
func NewVaultService(vaults VaultStore, agents AgentStore, rules RuleStore, history HistoryStore, monitor *monitoring.EnhancedRiskMonitor, opts Options) *VaultService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Market == nil {
		opts.Market = monitorUpdater{monitor}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &VaultService{
		vaults:       vaults,
		agents:       agents,
		rules:        rules,
		history:      history,
		monitor:      monitor,
		market:       opts.Market,
		logger:       opts.Logger.Named("vault_service"),
		now:          opts.Clock,
		historyLimit: opts.HistoryLimit,
	}
	monitor.Protection().Actions().Register(risk.ActionPauseVault, risk.ActionHandlerFunc(s.pauseVault))
	return s
}

type monitorUpdater struct {
	monitor *monitoring.EnhancedRiskMonitor
}

func (u monitorUpdater) Apply(_ context.Context, chainID string, update risk.MarketDataUpdate) (risk.MarketData, error) {
	return u.monitor.UpdateMarketData(chainID, update)
}

// Monitor exposes the underlying risk monitor for read-only queries.
func (s *VaultService) Monitor() *monitoring.EnhancedRiskMonitor {
	return s.monitor
}

func (s *VaultService) shard(vaultID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vaultID))
	return int(h.Sum32() % lockShards)
}

func (s *VaultService) lock(vaultID string) func() {
	mu := &s.locks[s.shard(vaultID)]
	mu.Lock()
	return mu.Unlock
}

// lockAll takes the shards of every id in ascending shard order.
func (s *VaultService) lockAll(ids []string) func() {
	seen := make(map[int]bool, len(ids))
	shards := make([]int, 0, len(ids))
	for _, id := range ids {
		if i := s.shard(id); !seen[i] {
			seen[i] = true
			shards = append(shards, i)
		}
	}
	sort.Ints(shards)
	for _, i := range shards {
		s.locks[i].Lock()
	}
	return func() {
		for j := len(shards) - 1; j >= 0; j-- {
			s.locks[shards[j]].Unlock()
		}
	}
}

// volatility returns the chain's latest volatility, neutral when none was pushed.
func (s *VaultService) volatility(chainID string) float64 {
	if md, ok := s.monitor.GetMarketData(chainID); ok {
		return md.Volatility
	}
	return risk.NeutralMarketData(chainID, s.now()).Volatility
}

func checkWritable(vault *risk.CreditVault) error {
	switch vault.Status {
	case risk.VaultStatusLiquidated, risk.VaultStatusClosed:
		return risk.ErrValidation.Explain("vault %s is %s", vault.ID, vault.Status)
	}
	return nil
}

// Agent operations

// UpsertAgent stores or replaces an agent's credibility profile.
func (s *VaultService) UpsertAgent(ctx context.Context, agent *risk.Agent) error {
	if agent == nil || agent.ID == "" {
		return risk.ErrValidation.Explain("agent id is required")
	}
	if agent.Score.Overall < 0 || agent.Score.Overall > 100 {
		return risk.ErrValidation.Explain("agent score %.2f out of range", agent.Score.Overall)
	}
	return s.agents.Upsert(ctx, agent)
}

// GetAgent loads an agent.
func (s *VaultService) GetAgent(ctx context.Context, id string) (*risk.Agent, error) {
	return s.agents.Get(ctx, id)
}

// Vault operations

// CreateVaultParams describes a new vault.
type CreateVaultParams struct {
	AgentID  string
	ChainID  string
	Token    string
	Amount   decimal.Decimal
	ValueUSD decimal.Decimal
}

// CreateVault opens a debt-free vault whose max LTV is the agent's dynamic
// LTV on the chain at current volatility.
func (s *VaultService) CreateVault(ctx context.Context, p CreateVaultParams) (*risk.CreditVault, error) {
	agent, err := s.agents.Get(ctx, p.AgentID)
	if err != nil {
		return nil, err
	}
	maxLTV, err := risk.CalculateDynamicLTV(agent, p.ChainID, p.ValueUSD, s.volatility(p.ChainID))
	if err != nil {
		return nil, err
	}
	vault, err := risk.CreateCreditVault(agent.ID, p.ChainID, p.Token, p.Amount, p.ValueUSD, maxLTV)
	if err != nil {
		return nil, err
	}
	if err := s.vaults.Create(ctx, vault); err != nil {
		return nil, err
	}
	s.logger.Info("Vault created",
		zap.String("vault_id", vault.ID),
		zap.String("agent_id", agent.ID),
		zap.String("chain_id", vault.ChainID),
		zap.Float64("max_ltv", maxLTV))
	return vault, nil
}

// GetVault loads a vault.
func (s *VaultService) GetVault(ctx context.Context, id string) (*risk.CreditVault, error) {
	return s.vaults.Get(ctx, id)
}

// ListAgentVaults returns an agent's vaults, oldest first.
func (s *VaultService) ListAgentVaults(ctx context.Context, agentID string) ([]*risk.CreditVault, error) {
	return s.vaults.ListByAgent(ctx, agentID)
}

// UpdateCollateral replaces the collateral position and recalculates the vault.
func (s *VaultService) UpdateCollateral(ctx context.Context, id string, amount, valueUSD decimal.Decimal) (*risk.CreditVault, error) {
	return s.updatePosition(ctx, id, func(v *risk.CreditVault) error {
		return risk.UpdateVaultCollateral(v, amount, valueUSD)
	})
}

// UpdateDebt replaces the debt position and recalculates the vault.
func (s *VaultService) UpdateDebt(ctx context.Context, id string, amount, valueUSD decimal.Decimal) (*risk.CreditVault, error) {
	return s.updatePosition(ctx, id, func(v *risk.CreditVault) error {
		return risk.UpdateVaultDebt(v, amount, valueUSD)
	})
}

func (s *VaultService) updatePosition(ctx context.Context, id string, apply func(*risk.CreditVault) error) (*risk.CreditVault, error) {
	defer s.lock(id)()

	vault, err := s.vaults.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkWritable(vault); err != nil {
		return nil, err
	}
	agent, err := s.agents.Get(ctx, vault.AgentID)
	if err != nil {
		return nil, err
	}
	if err := apply(vault); err != nil {
		return nil, err
	}
	if err := risk.RecalculateVaultMetrics(vault, agent, s.volatility(vault.ChainID)); err != nil {
		return nil, err
	}
	if err := s.vaults.Save(ctx, vault); err != nil {
		return nil, err
	}
	return vault, nil
}

// UpdateStatus moves a vault through its lifecycle.
func (s *VaultService) UpdateStatus(ctx context.Context, id string, status risk.VaultStatus) (*risk.CreditVault, error) {
	defer s.lock(id)()
	return s.vaults.UpdateStatus(ctx, id, status)
}

// MonitorOutcome is a MonitorResult with the persisted vault and any
// protection rules run because protection fired.
type MonitorOutcome struct {
	Vault *risk.CreditVault `json:"vault"`
	*monitoring.MonitorResult
	RuleResults []risk.RuleExecutionResult `json:"rule_results,omitempty"`
}

// MonitorVault evaluates a stored vault with its recent history, persists the
// recalculated vault and records a history sample. When liquidation
// protection fires and auto protection is on, the vault's rules run too.
func (s *VaultService) MonitorVault(ctx context.Context, id string) (*MonitorOutcome, error) {
	defer s.lock(id)()

	vault, err := s.vaults.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkWritable(vault); err != nil {
		return nil, err
	}
	agent, err := s.agents.Get(ctx, vault.AgentID)
	if err != nil {
		return nil, err
	}
	history, err := s.history.Recent(ctx, vault.ID, s.historyLimit)
	if err != nil {
		return nil, err
	}

	result, err := s.monitor.MonitorVault(ctx, vault, agent, history)
	if err != nil {
		return nil, err
	}
	out := &MonitorOutcome{Vault: vault, MonitorResult: result}

	if result.AutoProtected {
		out.RuleResults, err = s.executeRules(ctx, vault, agent)
		if err != nil {
			return nil, err
		}
	}
	if err := s.persistEvaluation(ctx, vault); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *VaultService) persistEvaluation(ctx context.Context, vault *risk.CreditVault) error {
	if err := s.vaults.Save(ctx, vault); err != nil {
		return err
	}
	sample := risk.HistoricalSample{
		Timestamp:    vault.LastRiskCheckAt,
		LTV:          vault.LTV,
		HealthFactor: vault.HealthFactor,
	}
	if err := s.history.Record(ctx, vault.ID, sample); err != nil {
		s.logger.Warn("Failed to record risk sample", zap.String("vault_id", vault.ID), zap.Error(err))
	}
	return nil
}

// MonitorActive evaluates up to limit active vaults, least recently checked
// first, in batches of the monitor's batch size. Vaults are reloaded under
// their locks before each batch.
func (s *VaultService) MonitorActive(ctx context.Context, limit int) ([]monitoring.BatchResult, error) {
	listed, err := s.vaults.ListByStatus(ctx, risk.VaultStatusActive, limit)
	if err != nil {
		return nil, err
	}
	batch := s.monitor.Config().Performance.BatchSize
	results := make([]monitoring.BatchResult, 0, len(listed))
	agents := make(map[string]*risk.Agent)

	for start := 0; start < len(listed); start += batch {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		end := start + batch
		if end > len(listed) {
			end = len(listed)
		}
		ids := make([]string, 0, end-start)
		for _, v := range listed[start:end] {
			ids = append(ids, v.ID)
		}
		results = append(results, s.monitorBatch(ctx, ids, agents)...)
	}
	return results, nil
}

func (s *VaultService) monitorBatch(ctx context.Context, ids []string, agents map[string]*risk.Agent) []monitoring.BatchResult {
	defer s.lockAll(ids)()

	var (
		checks  []monitoring.VaultCheck
		results []monitoring.BatchResult
	)
	for _, id := range ids {
		check, err := s.loadCheck(ctx, id, agents)
		if err != nil {
			results = append(results, monitoring.BatchResult{VaultID: id, Error: err.Error()})
			continue
		}
		if check == nil {
			continue
		}
		checks = append(checks, *check)
	}

	for i, res := range s.monitor.MonitorVaults(ctx, checks) {
		if res.Error == "" {
			if err := s.persistEvaluation(ctx, checks[i].Vault); err != nil {
				res.Error = err.Error()
				res.Result = nil
			}
		}
		results = append(results, res)
	}
	return results
}

// loadCheck returns nil when the vault left the active set since listing.
func (s *VaultService) loadCheck(ctx context.Context, id string, agents map[string]*risk.Agent) (*monitoring.VaultCheck, error) {
	vault, err := s.vaults.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if vault.Status != risk.VaultStatusActive {
		return nil, nil
	}
	agent, ok := agents[vault.AgentID]
	if !ok {
		if agent, err = s.agents.Get(ctx, vault.AgentID); err != nil {
			return nil, err
		}
		agents[vault.AgentID] = agent
	}
	history, err := s.history.Recent(ctx, vault.ID, s.historyLimit)
	if err != nil {
		return nil, err
	}
	return &monitoring.VaultCheck{Vault: vault, Agent: agent, History: history}, nil
}

// Protection rules

// AddRule attaches a protection rule to a vault. A missing id is generated.
func (s *VaultService) AddRule(ctx context.Context, vaultID string, rule *risk.ProtectionRule) (*risk.ProtectionRule, error) {
	if rule == nil {
		return nil, risk.ErrValidation.Explain("rule is required")
	}
	if len(rule.Actions) == 0 {
		return nil, risk.ErrValidation.Explain("rule needs at least one action")
	}
	for _, action := range rule.Actions {
		if !knownAction(action.Type) {
			return nil, risk.ErrValidation.Explain("unknown protection action %q", action.Type)
		}
	}
	if rule.CooldownSeconds < 0 {
		return nil, risk.ErrValidation.Explain("cooldown cannot be negative")
	}
	if _, err := s.vaults.Get(ctx, vaultID); err != nil {
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.VaultID = vaultID
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func knownAction(t risk.ActionType) bool {
	for _, known := range risk.ActionTypes() {
		if known == t {
			return true
		}
	}
	return false
}

// ListRules returns a vault's rules by descending priority.
func (s *VaultService) ListRules(ctx context.Context, vaultID string) ([]*risk.ProtectionRule, error) {
	if _, err := s.vaults.Get(ctx, vaultID); err != nil {
		return nil, err
	}
	return s.rules.ListByVault(ctx, vaultID)
}

// DeleteRule removes a rule.
func (s *VaultService) DeleteRule(ctx context.Context, ruleID string) error {
	return s.rules.Delete(ctx, ruleID)
}

// ExecuteRules runs a vault's protection rules now and persists rule
// execution times and any status change made by an action.
func (s *VaultService) ExecuteRules(ctx context.Context, vaultID string) ([]risk.RuleExecutionResult, error) {
	defer s.lock(vaultID)()

	vault, err := s.vaults.Get(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	agent, err := s.agents.Get(ctx, vault.AgentID)
	if err != nil {
		return nil, err
	}
	results, err := s.executeRules(ctx, vault, agent)
	if err != nil {
		return nil, err
	}
	if err := s.vaults.Save(ctx, vault); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *VaultService) executeRules(ctx context.Context, vault *risk.CreditVault, agent *risk.Agent) ([]risk.RuleExecutionResult, error) {
	rules, err := s.rules.ListByVault(ctx, vault.ID)
	if err != nil {
		return nil, err
	}
	results, err := s.monitor.Protection().ExecuteProtectionRules(ctx, vault, rules, agent, s.volatility(vault.ChainID))
	if err != nil {
		return nil, err
	}

	executed := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Executed {
			executed[r.RuleID] = true
		}
	}
	var changed []*risk.ProtectionRule
	for _, rule := range rules {
		if executed[rule.ID] {
			changed = append(changed, rule)
		}
	}
	if len(changed) > 0 {
		if err := s.rules.SaveExecutions(ctx, changed); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// pauseVault puts the vault under review. The caller persists the vault.
func (s *VaultService) pauseVault(_ context.Context, vault *risk.CreditVault, action risk.ProtectionAction) error {
	if vault.Status == risk.VaultStatusUnderReview {
		return nil
	}
	if err := risk.TransitionVaultStatus(vault, risk.VaultStatusUnderReview); err != nil {
		return err
	}
	s.logger.Warn("Vault paused by protection rule",
		zap.String("vault_id", vault.ID),
		zap.Any("parameters", action.Parameters))
	return nil
}

// Market data and LTV quotes

// LTVQuote is the dynamic max LTV an agent would get on a chain now.
type LTVQuote struct {
	AgentID            string          `json:"agent_id"`
	ChainID            string          `json:"chain_id"`
	CollateralValueUSD decimal.Decimal `json:"collateral_value_usd"`
	Volatility         float64         `json:"volatility"`
	MaxLTV             float64         `json:"max_ltv"`
	MaxDebtUSD         decimal.Decimal `json:"max_debt_usd"`
}

// QuoteLTV prices the agent's dynamic LTV at current chain volatility.
func (s *VaultService) QuoteLTV(ctx context.Context, agentID, chainID string, collateralUSD decimal.Decimal) (*LTVQuote, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	vol := s.volatility(chainID)
	maxLTV, err := risk.CalculateDynamicLTV(agent, chainID, collateralUSD, vol)
	if err != nil {
		return nil, err
	}
	return &LTVQuote{
		AgentID:            agentID,
		ChainID:            chainID,
		CollateralValueUSD: collateralUSD,
		Volatility:         vol,
		MaxLTV:             maxLTV,
		MaxDebtUSD:         collateralUSD.Mul(decimal.NewFromFloat(maxLTV)).Div(decimal.NewFromInt(100)).Round(2),
	}, nil
}

// UpdateMarketData applies a partial market data update for a chain.
func (s *VaultService) UpdateMarketData(ctx context.Context, chainID string, update risk.MarketDataUpdate) (risk.MarketData, error) {
	return s.market.Apply(ctx, chainID, update)
}

// PruneHistory drops samples older than the monitor's retention window.
func (s *VaultService) PruneHistory(ctx context.Context) (int64, error) {
	days := s.monitor.Config().Analytics.DataRetentionDays
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.history.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Pruned risk history", zap.Int64("samples", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
