// Package monitoring runs the enhanced vault risk monitor: per-call vault
// evaluation, market data and alert state, and the housekeeping loop.
package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/Aidin1998/vaultrisk/internal/risk/config"
)

// Options holds optional monitor collaborators.
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Protection *risk.ProtectionEvaluator
	Alerting   *AlertingManager
	Clock      func() time.Time
}

// MonitorResult is the outcome of one MonitorVault call.
type MonitorResult struct {
	RiskMetrics         *risk.VaultRiskMetrics      `json:"risk_metrics"`
	Alerts              []risk.RiskAlert            `json:"alerts"`
	ProtectionTriggered bool                        `json:"protection_triggered"`
	AutoProtected       bool                        `json:"auto_protected"`
	PredictiveMetrics   *risk.PredictiveRiskMetrics `json:"predictive_metrics,omitempty"`
	PerformanceMetrics  PerformanceMetrics          `json:"performance_metrics"`
}

// VaultRiskSnapshot is the latest evaluated risk of a vault.
type VaultRiskSnapshot struct {
	VaultID      string            `json:"vault_id"`
	ChainID      string            `json:"chain_id"`
	LTV          float64           `json:"ltv"`
	HealthFactor risk.HealthFactor `json:"health_factor"`
	RiskScore    float64           `json:"risk_score"`
	RiskLevel    risk.RiskLevel    `json:"risk_level"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// EnhancedRiskMonitor evaluates vaults on demand and owns the alert and
// market data sets. All exported methods are safe for concurrent use, but a
// single vault value must not be evaluated concurrently since MonitorVault
// recalculates it in place.
type EnhancedRiskMonitor struct {
	cfg        config.MonitorConfig
	logger     *zap.Logger
	metrics    *PrometheusMetrics
	perf       *PerformanceMonitor
	alerts     *AlertBook
	alerting   *AlertingManager
	protection *risk.ProtectionEvaluator
	now        func() time.Time

	marketMu sync.RWMutex
	market   map[string]risk.MarketData

	vaultMu            sync.Mutex
	vaultRisk          map[string]VaultRiskSnapshot
	protectionCounts   map[string]int
	lastAutoProtection map[string]time.Time
	protectionTriggers int64

	runMu     sync.Mutex
	running   bool
	startedAt time.Time
	stopCh    chan struct{}
	done      chan struct{}

	// housekeepingChecks run on every tick; failures and panics are counted.
	housekeepingChecks []func() error
}

// NewEnhancedRiskMonitor validates cfg and builds a stopped monitor.
func NewEnhancedRiskMonitor(cfg config.MonitorConfig, opts Options) (*EnhancedRiskMonitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Alerting == nil {
		opts.Alerting = NewAlertingManager(logger, DefaultAlertQueueSize)
	}
	if opts.Protection == nil {
		opts.Protection = risk.NewProtectionEvaluator(nil, logger).WithClock(opts.Clock)
	}

	m := &EnhancedRiskMonitor{
		cfg:              cfg,
		logger:           logger.Named("risk_monitor"),
		metrics:          NewPrometheusMetrics(opts.Registerer),
		perf:             NewPerformanceMonitor(logger),
		alerts:           NewAlertBook(),
		alerting:         opts.Alerting,
		protection:       opts.Protection,
		now:              opts.Clock,
		market:           make(map[string]risk.MarketData),
		vaultRisk:        make(map[string]VaultRiskSnapshot),
		protectionCounts: make(map[string]int),

		lastAutoProtection: make(map[string]time.Time),
	}
	m.housekeepingChecks = []func() error{m.refreshGauges}
	return m, nil
}

// Config returns the monitor configuration.
func (m *EnhancedRiskMonitor) Config() config.MonitorConfig {
	return m.cfg
}

// Protection returns the evaluator used for protection decisions and rules.
func (m *EnhancedRiskMonitor) Protection() *risk.ProtectionEvaluator {
	return m.protection
}

// AddAlertChannel registers an additional alert sink.
func (m *EnhancedRiskMonitor) AddAlertChannel(ch AlertChannel) {
	m.alerting.AddChannel(ch)
}

// Start launches the housekeeping loop. Calling Start on a running monitor
// does nothing.
func (m *EnhancedRiskMonitor) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.startedAt = m.now()
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.metrics.MonitorRunning.Set(1)

	go m.loop(m.stopCh, m.done)
	m.logger.Info("Risk monitor started", zap.Duration("check_interval", m.cfg.CheckInterval))
}

// Stop halts the housekeeping loop and waits for it to exit. In-flight
// MonitorVault calls are not affected. Stopping a stopped monitor does nothing.
func (m *EnhancedRiskMonitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.done
	m.runMu.Unlock()

	<-done
	m.metrics.MonitorRunning.Set(0)
	m.logger.Info("Risk monitor stopped")
}

// DrainAlerts stops alert delivery after flushing the channel queues. Alerts
// raised afterwards are stored but not delivered.
func (m *EnhancedRiskMonitor) DrainAlerts(ctx context.Context) error {
	return m.alerting.Close(ctx)
}

// AlertDeliveryStats returns per-channel delivery counters.
func (m *EnhancedRiskMonitor) AlertDeliveryStats() map[string]ChannelStats {
	return m.alerting.ChannelStats()
}

// IsRunning reports whether the housekeeping loop is active.
func (m *EnhancedRiskMonitor) IsRunning() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

func (m *EnhancedRiskMonitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.housekeeping()
		}
	}
}

// housekeeping updates the performance counters and gauges. It never
// evaluates vaults, and a failing check only increments the error count.
func (m *EnhancedRiskMonitor) housekeeping() {
	op := m.perf.StartOperation(OperationHousekeeping)
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("housekeeping panic: %v", r)
		}
		if err != nil {
			m.metrics.HousekeepingErrors.Inc()
			m.logger.Error("Housekeeping check failed", zap.Error(err))
		}
		d := m.perf.EndOperation(op, err)
		m.metrics.CheckDuration.WithLabelValues(OperationHousekeeping).Observe(d.Seconds())
	}()

	for _, check := range m.housekeepingChecks {
		if err = check(); err != nil {
			return
		}
	}
}

func (m *EnhancedRiskMonitor) refreshGauges() error {
	active := m.alerts.Filter(func(a *risk.RiskAlert) bool { return !a.Acknowledged })
	m.metrics.ActiveAlerts.Set(float64(len(active)))

	m.marketMu.RLock()
	defer m.marketMu.RUnlock()
	for chainID, data := range m.market {
		m.metrics.ChainVolatility.WithLabelValues(chainID).Set(data.VolatilityIndex)
	}
	return nil
}

// MonitorVault evaluates one vault: it recalculates the vault against the
// chain's latest market data, builds risk metrics, raises alerts, decides on
// liquidation protection and projects risk. The vault is updated in place.
func (m *EnhancedRiskMonitor) MonitorVault(ctx context.Context, vault *risk.CreditVault, agent *risk.Agent, history []risk.HistoricalSample) (*MonitorResult, error) {
	if vault == nil {
		return nil, risk.ErrValidation.Explain("vault is required")
	}
	op := m.perf.StartOperation(OperationMonitorVault)

	result, err := m.evaluate(ctx, vault, agent, history)

	d := m.perf.EndOperation(op, err)
	if m.cfg.Analytics.EnableRealTimeMetrics {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.metrics.VaultChecks.WithLabelValues(vault.ChainID, status).Inc()
		m.metrics.CheckDuration.WithLabelValues(OperationMonitorVault).Observe(d.Seconds())
	}
	if err != nil {
		m.logger.Warn("Vault evaluation failed", zap.String("vault_id", vault.ID), zap.String("chain_id", vault.ChainID), zap.Error(err))
		return nil, err
	}

	result.PerformanceMetrics = m.perf.GetMetrics()
	return result, nil
}

func (m *EnhancedRiskMonitor) evaluate(ctx context.Context, vault *risk.CreditVault, agent *risk.Agent, history []risk.HistoricalSample) (*MonitorResult, error) {
	market := m.marketDataOrNeutral(vault.ChainID)

	if err := risk.RecalculateVaultMetrics(vault, agent, market.Volatility); err != nil {
		return nil, err
	}
	metrics, err := risk.CalculateVaultRiskMetrics(vault, agent, history)
	if err != nil {
		return nil, err
	}

	now := m.now()
	alerts := m.generateAlerts(vault, now)

	triggered, err := m.protection.ShouldTriggerLiquidationProtection(vault, agent, market.Volatility)
	if err != nil {
		return nil, err
	}
	autoProtected := false
	if triggered {
		alerts = append(alerts, m.protectionAlert(vault, now))
		autoProtected = m.recordProtection(vault, now)
	}
	if m.cfg.Analytics.EnableCorrelationAnalysis {
		correlate(alerts)
	}
	for _, alert := range alerts {
		m.raise(alert)
	}

	var predictive *risk.PredictiveRiskMetrics
	if m.cfg.Analytics.EnablePredictiveAnalysis {
		predictive = risk.PredictRisk(vault, market, history)
	}

	m.vaultMu.Lock()
	m.vaultRisk[vault.ID] = VaultRiskSnapshot{
		VaultID:      vault.ID,
		ChainID:      vault.ChainID,
		LTV:          vault.LTV,
		HealthFactor: vault.HealthFactor,
		RiskScore:    metrics.RiskScore,
		RiskLevel:    metrics.RiskLevel,
		CheckedAt:    now,
	}
	m.vaultMu.Unlock()

	if m.cfg.Analytics.EnableRealTimeMetrics {
		m.metrics.VaultRiskScore.WithLabelValues(vault.ChainID, metrics.RiskLevel.String()).Observe(metrics.RiskScore)
	}

	return &MonitorResult{
		RiskMetrics:         metrics,
		Alerts:              alerts,
		ProtectionTriggered: triggered,
		AutoProtected:       autoProtected,
		PredictiveMetrics:   predictive,
	}, nil
}

// recordProtection stamps the vault's protection trigger, which starts the
// vault's own cooldown, and reports whether auto protection may act on it.
// Auto protection is capped at MaxProtectionTriggers per vault and spaced by
// ProtectionCooldown.
func (m *EnhancedRiskMonitor) recordProtection(vault *risk.CreditVault, now time.Time) bool {
	ap := m.cfg.AutoProtection
	risk.MarkProtectionTriggered(vault, now)

	m.vaultMu.Lock()
	defer m.vaultMu.Unlock()
	m.protectionTriggers++
	if m.cfg.Analytics.EnableRealTimeMetrics {
		m.metrics.ProtectionTriggered.WithLabelValues(vault.ChainID).Inc()
	}

	if !ap.Enabled || m.protectionCounts[vault.ID] >= ap.MaxProtectionTriggers {
		m.logger.Info("Liquidation protection triggered, auto protection skipped",
			zap.String("vault_id", vault.ID),
			zap.Int("trigger_count", m.protectionCounts[vault.ID]))
		return false
	}
	if last, ok := m.lastAutoProtection[vault.ID]; ok && now.Sub(last) < ap.ProtectionCooldown {
		return false
	}
	m.protectionCounts[vault.ID]++
	m.lastAutoProtection[vault.ID] = now
	m.logger.Info("Liquidation protection triggered",
		zap.String("vault_id", vault.ID),
		zap.Float64("ltv", vault.LTV),
		zap.Stringer("health_factor", vault.HealthFactor),
		zap.Int("trigger_count", m.protectionCounts[vault.ID]))
	return true
}

type alertTier struct {
	alertType  risk.AlertType
	severity   risk.AlertSeverity
	escalation int
	label      string
}

var (
	tierWarning  = alertTier{risk.AlertTypeWarning, risk.SeverityMedium, 1, "warning"}
	tierAlert    = alertTier{risk.AlertTypeAlert, risk.SeverityHigh, 2, "alert"}
	tierCritical = alertTier{risk.AlertTypeCritical, risk.SeverityCritical, 3, "critical"}
)

// generateAlerts raises at most one alert per dimension, for the highest tier
// breached. LTV always comes before health factor.
func (m *EnhancedRiskMonitor) generateAlerts(vault *risk.CreditVault, now time.Time) []risk.RiskAlert {
	th := m.cfg.AlertThresholds
	alerts := []risk.RiskAlert{}

	ltv := vault.LTV
	var ltvTier *alertTier
	var ltvThreshold float64
	switch {
	case ltv >= th.LTVCritical:
		ltvTier, ltvThreshold = &tierCritical, th.LTVCritical
	case ltv >= th.LTVAlert:
		ltvTier, ltvThreshold = &tierAlert, th.LTVAlert
	case ltv >= th.LTVWarning:
		ltvTier, ltvThreshold = &tierWarning, th.LTVWarning
	}
	if ltvTier != nil {
		alerts = append(alerts, m.newAlert(vault, now, *ltvTier, risk.CategoryLTV, ltv, ltvThreshold,
			fmt.Sprintf("LTV %.2f%% reached %s threshold %.2f%%", ltv, ltvTier.label, ltvThreshold)))
	}

	if hf := vault.HealthFactor; !hf.IsInfinite() {
		value := hf.Float64()
		var hfTier *alertTier
		var hfThreshold float64
		switch {
		case value <= th.HealthFactorCritical:
			hfTier, hfThreshold = &tierCritical, th.HealthFactorCritical
		case value <= th.HealthFactorAlert:
			hfTier, hfThreshold = &tierAlert, th.HealthFactorAlert
		case value <= th.HealthFactorWarning:
			hfTier, hfThreshold = &tierWarning, th.HealthFactorWarning
		}
		if hfTier != nil {
			alerts = append(alerts, m.newAlert(vault, now, *hfTier, risk.CategoryHealthFactor, value, hfThreshold,
				fmt.Sprintf("Health factor %s at or below %s threshold %.2f", hf, hfTier.label, hfThreshold)))
		}
	}
	return alerts
}

func (m *EnhancedRiskMonitor) protectionAlert(vault *risk.CreditVault, now time.Time) risk.RiskAlert {
	p := vault.LiquidationProtection
	return m.newAlert(vault, now, tierAlert, risk.CategoryLiquidation, vault.LTV, p.Threshold,
		fmt.Sprintf("Liquidation protection triggered at LTV %.2f%% (threshold %.2f%%)", vault.LTV, p.Threshold))
}

func (m *EnhancedRiskMonitor) newAlert(vault *risk.CreditVault, now time.Time, tier alertTier, category risk.AlertCategory, value, threshold float64, message string) risk.RiskAlert {
	return risk.RiskAlert{
		ID:              uuid.New().String(),
		VaultID:         vault.ID,
		Type:            tier.alertType,
		Severity:        tier.severity,
		Category:        category,
		Message:         message,
		Value:           value,
		Threshold:       threshold,
		Timestamp:       now,
		EscalationLevel: tier.escalation,
		AutoEscalation:  tier.alertType != risk.AlertTypeCritical,
		RelatedAlerts:   []string{},
	}
}

// correlate links every alert raised in one evaluation to the others.
func correlate(alerts []risk.RiskAlert) {
	for i := range alerts {
		for j := range alerts {
			if i != j {
				alerts[i].RelatedAlerts = append(alerts[i].RelatedAlerts, alerts[j].ID)
			}
		}
	}
}

// raise stores an alert and queues it for the alert channels. Delivery happens
// off the caller's goroutine.
func (m *EnhancedRiskMonitor) raise(alert risk.RiskAlert) {
	m.alerts.Add(alert)
	m.metrics.AlertsGenerated.WithLabelValues(string(alert.Type), string(alert.Severity), string(alert.Category)).Inc()
	m.logger.Info("Risk alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("vault_id", alert.VaultID),
		zap.String("category", string(alert.Category)),
		zap.String("severity", string(alert.Severity)))

	if dropped := m.alerting.Publish(alert); dropped > 0 {
		m.metrics.AlertsDropped.Add(float64(dropped))
	}
}

// VaultCheck is one entry of a MonitorVaults batch.
type VaultCheck struct {
	Vault   *risk.CreditVault
	Agent   *risk.Agent
	History []risk.HistoricalSample
}

// BatchResult pairs a vault id with its evaluation outcome.
type BatchResult struct {
	VaultID string         `json:"vault_id"`
	Result  *MonitorResult `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// MonitorVaults evaluates checks in batches of Performance.BatchSize with at
// most Performance.MaxConcurrentVaults evaluations in flight. Results keep the
// input order; a failing vault does not stop the batch.
func (m *EnhancedRiskMonitor) MonitorVaults(ctx context.Context, checks []VaultCheck) []BatchResult {
	results := make([]BatchResult, len(checks))
	batch := m.cfg.Performance.BatchSize

	for start := 0; start < len(checks); start += batch {
		end := start + batch
		if end > len(checks) {
			end = len(checks)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.cfg.Performance.MaxConcurrentVaults)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				check := checks[i]
				if check.Vault != nil {
					results[i].VaultID = check.Vault.ID
				}
				res, err := m.MonitorVault(gctx, check.Vault, check.Agent, check.History)
				if err != nil {
					results[i].Error = err.Error()
					return nil
				}
				results[i].Result = res
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			for i := end; i < len(checks); i++ {
				if checks[i].Vault != nil {
					results[i].VaultID = checks[i].Vault.ID
				}
				results[i].Error = ctx.Err().Error()
			}
			break
		}
	}
	return results
}

// UpdateMarketData merges a partial update onto the chain's latest market
// data, starting from neutral data when none was pushed yet.
func (m *EnhancedRiskMonitor) UpdateMarketData(chainID string, update risk.MarketDataUpdate) (risk.MarketData, error) {
	if _, err := risk.GetChainConfig(chainID); err != nil {
		return risk.MarketData{}, err
	}
	if err := update.Validate(); err != nil {
		return risk.MarketData{}, err
	}
	now := m.now()

	m.marketMu.Lock()
	base, ok := m.market[chainID]
	if !ok {
		base = risk.NeutralMarketData(chainID, now)
	}
	next := update.Apply(base, now)
	next.ChainID = chainID
	m.market[chainID] = next
	m.marketMu.Unlock()

	m.observeMarketData(next)
	return next.Clone(), nil
}

// ReplaceMarketData stores a full snapshot, as restored from a cache.
func (m *EnhancedRiskMonitor) ReplaceMarketData(data risk.MarketData) error {
	if _, err := risk.GetChainConfig(data.ChainID); err != nil {
		return err
	}
	if err := data.Validate(); err != nil {
		return err
	}
	stored := data.Clone()
	if stored.Timestamp.IsZero() {
		stored.Timestamp = m.now()
	}

	m.marketMu.Lock()
	m.market[data.ChainID] = stored
	m.marketMu.Unlock()

	m.observeMarketData(stored)
	return nil
}

func (m *EnhancedRiskMonitor) observeMarketData(data risk.MarketData) {
	m.metrics.MarketDataUpdates.WithLabelValues(data.ChainID).Inc()
	if m.cfg.Analytics.EnableRealTimeMetrics {
		m.metrics.ChainVolatility.WithLabelValues(data.ChainID).Set(data.VolatilityIndex)
	}
	m.logger.Debug("Market data updated",
		zap.String("chain_id", data.ChainID),
		zap.Float64("volatility", data.Volatility),
		zap.Float64("volatility_index", data.VolatilityIndex))
}

// GetMarketData returns the latest market data for a chain, if any was pushed.
func (m *EnhancedRiskMonitor) GetMarketData(chainID string) (risk.MarketData, bool) {
	m.marketMu.RLock()
	defer m.marketMu.RUnlock()
	data, ok := m.market[chainID]
	if !ok {
		return risk.MarketData{}, false
	}
	return data.Clone(), true
}

// MarketDataSnapshot returns the market data of every tracked chain ordered by chain id.
func (m *EnhancedRiskMonitor) MarketDataSnapshot() []risk.MarketData {
	m.marketMu.RLock()
	out := make([]risk.MarketData, 0, len(m.market))
	for _, data := range m.market {
		out = append(out, data.Clone())
	}
	m.marketMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

func (m *EnhancedRiskMonitor) marketDataOrNeutral(chainID string) risk.MarketData {
	if data, ok := m.GetMarketData(chainID); ok {
		return data
	}
	return risk.NeutralMarketData(chainID, m.now())
}

// GetActiveAlerts returns unacknowledged alerts of every vault.
func (m *EnhancedRiskMonitor) GetActiveAlerts() []risk.RiskAlert {
	return m.alerts.Filter(func(a *risk.RiskAlert) bool { return !a.Acknowledged })
}

// GetVaultAlerts returns all alerts of a vault.
func (m *EnhancedRiskMonitor) GetVaultAlerts(vaultID string) []risk.RiskAlert {
	return m.alerts.Filter(func(a *risk.RiskAlert) bool { return a.VaultID == vaultID })
}

// GetAlertsByCategory returns all alerts of a category.
func (m *EnhancedRiskMonitor) GetAlertsByCategory(category risk.AlertCategory) []risk.RiskAlert {
	return m.alerts.Filter(func(a *risk.RiskAlert) bool { return a.Category == category })
}

// GetAlertsBySeverity returns all alerts of a severity.
func (m *EnhancedRiskMonitor) GetAlertsBySeverity(severity risk.AlertSeverity) []risk.RiskAlert {
	return m.alerts.Filter(func(a *risk.RiskAlert) bool { return a.Severity == severity })
}

// GetAlert looks up a single alert.
func (m *EnhancedRiskMonitor) GetAlert(id string) (risk.RiskAlert, bool) {
	return m.alerts.Get(id)
}

// AcknowledgeAlert acknowledges an alert. It returns false for an unknown id,
// an empty acknowledger or an alert that was already acknowledged.
func (m *EnhancedRiskMonitor) AcknowledgeAlert(id, by string) bool {
	if !m.alerts.Acknowledge(id, by, m.now()) {
		return false
	}
	if alert, ok := m.alerts.Get(id); ok {
		m.metrics.AlertsAcknowledged.WithLabelValues(string(alert.Severity)).Inc()
	}
	m.logger.Info("Risk alert acknowledged", zap.String("alert_id", id), zap.String("acknowledged_by", by))
	return true
}

// MonitorStatus describes the monitor's state.
type MonitorStatus struct {
	IsRunning       bool                    `json:"is_running"`
	StartedAt       *time.Time              `json:"started_at,omitempty"`
	Uptime          time.Duration           `json:"uptime"`
	CheckInterval   time.Duration           `json:"check_interval"`
	MonitoredVaults int                     `json:"monitored_vaults"`
	TrackedChains   []string                `json:"tracked_chains"`
	TotalAlerts     int                     `json:"total_alerts"`
	ActiveAlerts    int                     `json:"active_alerts"`
	AlertChannels   []string                `json:"alert_channels"`
	ChannelStats    map[string]ChannelStats `json:"channel_stats"`
	Performance     PerformanceMetrics      `json:"performance"`
	Config          config.MonitorConfig    `json:"config"`
}

// GetEnhancedStatus returns the monitor status.
func (m *EnhancedRiskMonitor) GetEnhancedStatus() MonitorStatus {
	status := MonitorStatus{
		CheckInterval: m.cfg.CheckInterval,
		TotalAlerts:   m.alerts.Len(),
		ActiveAlerts:  len(m.GetActiveAlerts()),
		AlertChannels: m.alerting.GetEnabledChannels(),
		ChannelStats:  m.alerting.ChannelStats(),
		Performance:   m.perf.GetMetrics(),
		Config:        m.cfg,
		TrackedChains: []string{},
	}

	m.runMu.Lock()
	status.IsRunning = m.running
	if m.running {
		started := m.startedAt
		status.StartedAt = &started
		status.Uptime = m.now().Sub(started)
	}
	m.runMu.Unlock()

	m.vaultMu.Lock()
	status.MonitoredVaults = len(m.vaultRisk)
	m.vaultMu.Unlock()

	for _, data := range m.MarketDataSnapshot() {
		status.TrackedChains = append(status.TrackedChains, data.ChainID)
	}
	return status
}

// RiskSummary aggregates alert and vault risk state.
type RiskSummary struct {
	TotalAlerts        int                 `json:"total_alerts"`
	ActiveAlerts       int                 `json:"active_alerts"`
	CriticalAlerts     int                 `json:"critical_alerts"`
	AlertsBySeverity   map[string]int      `json:"alerts_by_severity"`
	AlertsByCategory   map[string]int      `json:"alerts_by_category"`
	RiskLevelCounts    map[string]int      `json:"risk_level_counts"`
	Vaults             []VaultRiskSnapshot `json:"vaults"`
	ProtectionTriggers int64               `json:"protection_triggers"`
	AverageVolatility  float64             `json:"average_volatility"`
	MarketData         []risk.MarketData   `json:"market_data"`
	Performance        PerformanceMetrics  `json:"performance"`
	GeneratedAt        time.Time           `json:"generated_at"`
}

// GetEnhancedRiskSummary aggregates the current alert set, the latest vault
// evaluations and market data.
func (m *EnhancedRiskMonitor) GetEnhancedRiskSummary() RiskSummary {
	summary := RiskSummary{
		AlertsBySeverity: make(map[string]int),
		AlertsByCategory: make(map[string]int),
		RiskLevelCounts:  make(map[string]int),
		Vaults:           []VaultRiskSnapshot{},
		Performance:      m.perf.GetMetrics(),
		GeneratedAt:      m.now(),
	}
	for _, s := range risk.Severities() {
		summary.AlertsBySeverity[string(s)] = 0
	}
	for _, c := range risk.Categories() {
		summary.AlertsByCategory[string(c)] = 0
	}

	for _, alert := range m.alerts.Filter(nil) {
		summary.TotalAlerts++
		summary.AlertsBySeverity[string(alert.Severity)]++
		summary.AlertsByCategory[string(alert.Category)]++
		if !alert.Acknowledged {
			summary.ActiveAlerts++
			if alert.Severity == risk.SeverityCritical {
				summary.CriticalAlerts++
			}
		}
	}

	m.vaultMu.Lock()
	for _, snap := range m.vaultRisk {
		summary.Vaults = append(summary.Vaults, snap)
		summary.RiskLevelCounts[snap.RiskLevel.String()]++
	}
	summary.ProtectionTriggers = m.protectionTriggers
	m.vaultMu.Unlock()
	sort.Slice(summary.Vaults, func(i, j int) bool { return summary.Vaults[i].VaultID < summary.Vaults[j].VaultID })

	summary.MarketData = m.MarketDataSnapshot()
	if n := len(summary.MarketData); n > 0 {
		total := 0.0
		for _, data := range summary.MarketData {
			total += data.Volatility
		}
		summary.AverageVolatility = total / float64(n)
	}
	return summary
}

// GetPerformanceMetrics returns the rolling performance counters.
func (m *EnhancedRiskMonitor) GetPerformanceMetrics() PerformanceMetrics {
	return m.perf.GetMetrics()
}

const (
	bearishVolatility = 1.5
	bullishVolatility = 0.8
)

// SimulateMarketVolatility sets a chain's volatility and volatility index and
// derives the sentiment from it. Test and demo use only.
func (m *EnhancedRiskMonitor) SimulateMarketVolatility(chainID string, volatility float64) (risk.MarketData, error) {
	if volatility <= 0 {
		return risk.MarketData{}, risk.ErrValidation.Explain("volatility must be positive")
	}
	sentiment := risk.SentimentNeutral
	switch {
	case volatility > bearishVolatility:
		sentiment = risk.SentimentBearish
	case volatility < bullishVolatility:
		sentiment = risk.SentimentBullish
	}
	m.logger.Info("Simulating market volatility", zap.String("chain_id", chainID), zap.Float64("volatility", volatility))
	return m.UpdateMarketData(chainID, risk.MarketDataUpdate{
		Volatility:      &volatility,
		VolatilityIndex: &volatility,
		MarketSentiment: &sentiment,
	})
}

// SimulatePriceUpdate sets one token price feed and the 24h change relative to
// the previous price. Test and demo use only.
func (m *EnhancedRiskMonitor) SimulatePriceUpdate(chainID, token string, price float64) (risk.MarketData, error) {
	if token == "" || price <= 0 {
		return risk.MarketData{}, risk.ErrValidation.Explain("token and a positive price are required")
	}
	update := risk.MarketDataUpdate{PriceFeeds: map[string]float64{token: price}}
	if prev, ok := m.GetMarketData(chainID); ok {
		if old, ok := prev.PriceFeeds[token]; ok && old > 0 {
			change := (price - old) / old * 100
			update.PriceChange24h = &change
		}
	}
	m.logger.Info("Simulating price update", zap.String("chain_id", chainID), zap.String("token", token), zap.Float64("price", price))
	return m.UpdateMarketData(chainID, update)
}
