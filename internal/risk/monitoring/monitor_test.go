package monitoring

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/Aidin1998/vaultrisk/internal/risk/config"
)

type recordingChannel struct {
	mu     sync.Mutex
	alerts []risk.RiskAlert
	err    error
}

func (c *recordingChannel) SendAlert(_ context.Context, alert risk.RiskAlert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return c.err
}

func (c *recordingChannel) GetChannelType() string { return "recording" }
func (c *recordingChannel) IsEnabled() bool        { return true }

func (c *recordingChannel) received() []risk.RiskAlert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]risk.RiskAlert(nil), c.alerts...)
}

// blockingChannel holds every delivery until release is closed.
type blockingChannel struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func newBlockingChannel() *blockingChannel {
	return &blockingChannel{release: make(chan struct{}), started: make(chan struct{})}
}

func (c *blockingChannel) SendAlert(ctx context.Context, _ risk.RiskAlert) error {
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *blockingChannel) GetChannelType() string { return "blocking" }
func (c *blockingChannel) IsEnabled() bool        { return true }

func flushAlerts(t *testing.T, m *EnhancedRiskMonitor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.alerting.Flush(ctx))
}

func newTestMonitor(t *testing.T, mutate ...func(*config.MonitorConfig)) *EnhancedRiskMonitor {
	t.Helper()
	cfg := config.DefaultMonitorConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := NewEnhancedRiskMonitor(cfg, Options{
		Logger:     zaptest.NewLogger(t),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.DrainAlerts(ctx)
	})
	return m
}

// testVault opens an ethereum vault; a bronze agent scored 50 gets max LTV 70.
func testVault(t *testing.T, chainID string, collateral, debt int64) *risk.CreditVault {
	t.Helper()
	vault, err := risk.CreateCreditVault("agent-1", "ethereum", "ETH", decimal.NewFromInt(1), decimal.NewFromInt(collateral), 70)
	require.NoError(t, err)
	require.NoError(t, risk.UpdateVaultDebt(vault, decimal.NewFromInt(debt), decimal.NewFromInt(debt)))
	vault.ChainID = chainID
	return vault
}

var testAgent = &risk.Agent{ID: "agent-1", CredibilityTier: risk.TierBronze, Score: risk.AgentScore{Overall: 50}}

func history(n int) []risk.HistoricalSample {
	out := make([]risk.HistoricalSample, n)
	for i := range out {
		out[i] = risk.HistoricalSample{Timestamp: time.Now().Add(time.Duration(i-n) * time.Hour), LTV: 40, HealthFactor: 1.75}
	}
	return out
}

func TestNewEnhancedRiskMonitor_InvalidConfig(t *testing.T) {
	cfg := config.DefaultMonitorConfig()
	cfg.AlertThresholds.LTVWarning = 99
	_, err := NewEnhancedRiskMonitor(cfg, Options{Registerer: prometheus.NewRegistry()})
	assert.ErrorIs(t, err, risk.ErrValidation)
}

func TestStartStopIdempotent(t *testing.T) {
	m := newTestMonitor(t)
	assert.False(t, m.IsRunning())

	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())

	require.Eventually(t, func() bool {
		return m.GetPerformanceMetrics().OperationMetrics[OperationHousekeeping] != nil
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())

	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestMonitorVault_RaisesTieredAlerts(t *testing.T) {
	m := newTestMonitor(t)
	ch := &recordingChannel{}
	m.AddAlertChannel(ch)

	vault := testVault(t, "ethereum", 1000, 800)
	res, err := m.MonitorVault(context.Background(), vault, testAgent, history(5))
	require.NoError(t, err)

	assert.InDelta(t, 80.0, vault.LTV, 1e-9)
	assert.InDelta(t, 0.875, vault.HealthFactor.Float64(), 1e-9)
	assert.Equal(t, risk.RiskLevelCritical, res.RiskMetrics.RiskLevel)
	assert.True(t, res.ProtectionTriggered)
	assert.True(t, res.AutoProtected)
	require.NotNil(t, vault.LiquidationProtection.LastTriggeredAt)

	require.Len(t, res.Alerts, 3)
	ltv, hf, liq := res.Alerts[0], res.Alerts[1], res.Alerts[2]

	assert.Equal(t, risk.CategoryLTV, ltv.Category)
	assert.Equal(t, risk.AlertTypeAlert, ltv.Type)
	assert.Equal(t, risk.SeverityHigh, ltv.Severity)
	assert.Equal(t, 2, ltv.EscalationLevel)
	assert.True(t, ltv.AutoEscalation)
	assert.Equal(t, 75.0, ltv.Threshold)

	assert.Equal(t, risk.CategoryHealthFactor, hf.Category)
	assert.Equal(t, risk.AlertTypeCritical, hf.Type)
	assert.Equal(t, risk.SeverityCritical, hf.Severity)
	assert.Equal(t, 3, hf.EscalationLevel)
	assert.False(t, hf.AutoEscalation)

	assert.Equal(t, risk.CategoryLiquidation, liq.Category)
	assert.ElementsMatch(t, []string{hf.ID, liq.ID}, ltv.RelatedAlerts)

	require.NotNil(t, res.PredictiveMetrics)
	assert.InDelta(t, 0.5, res.PredictiveMetrics.Confidence, 1e-9)
	assert.Equal(t, int64(1), res.PerformanceMetrics.TotalChecks)
	flushAlerts(t, m)
	assert.Len(t, ch.received(), 3)

	// Sustained breach: alerts are raised again, protection is cooling down.
	res, err = m.MonitorVault(context.Background(), vault, testAgent, nil)
	require.NoError(t, err)
	assert.False(t, res.ProtectionTriggered)
	assert.Len(t, res.Alerts, 2)
	assert.Len(t, m.GetVaultAlerts(vault.ID), 5)
	assert.Equal(t, 0.1, res.PredictiveMetrics.Confidence)
}

func TestMonitorVault_AlertOrderIsStable(t *testing.T) {
	m := newTestMonitor(t, func(c *config.MonitorConfig) { c.AutoProtection.Enabled = false })
	for i := 0; i < 3; i++ {
		vault := testVault(t, "ethereum", 1000, 900)
		vault.LiquidationProtection.Enabled = false
		res, err := m.MonitorVault(context.Background(), vault, testAgent, nil)
		require.NoError(t, err)
		require.Len(t, res.Alerts, 2)
		assert.Equal(t, risk.CategoryLTV, res.Alerts[0].Category)
		assert.Equal(t, risk.AlertTypeCritical, res.Alerts[0].Type)
		assert.Equal(t, risk.CategoryHealthFactor, res.Alerts[1].Category)
	}
}

func TestMonitorVault_HealthyVault(t *testing.T) {
	m := newTestMonitor(t)
	vault := testVault(t, "ethereum", 1000, 300)

	res, err := m.MonitorVault(context.Background(), vault, testAgent, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.False(t, res.ProtectionTriggered)
	assert.Equal(t, risk.RiskLevelLow, res.RiskMetrics.RiskLevel)
}

func TestMonitorVault_UsesChainMarketData(t *testing.T) {
	m := newTestMonitor(t)
	vol := 2.0
	_, err := m.UpdateMarketData("ethereum", risk.MarketDataUpdate{Volatility: &vol})
	require.NoError(t, err)

	vault := testVault(t, "ethereum", 1000, 300)
	res, err := m.MonitorVault(context.Background(), vault, testAgent, nil)
	require.NoError(t, err)

	assert.InDelta(t, 35.0, vault.MaxLTV, 1e-9)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, risk.CategoryHealthFactor, res.Alerts[0].Category)
	assert.Equal(t, risk.AlertTypeAlert, res.Alerts[0].Type)
	assert.Empty(t, res.Alerts[0].RelatedAlerts)
}

func TestMonitorVault_UnsupportedChain(t *testing.T) {
	m := newTestMonitor(t)
	vault := testVault(t, "solana", 1000, 300)

	_, err := m.MonitorVault(context.Background(), vault, testAgent, nil)
	assert.ErrorIs(t, err, risk.ErrUnsupportedChain)

	perf := m.GetPerformanceMetrics()
	assert.Equal(t, int64(1), perf.TotalChecks)
	assert.Equal(t, int64(1), perf.ErrorCount)
	assert.Equal(t, 0.0, perf.SuccessRate)
}

func TestMonitorVault_ChannelFailureIsIgnored(t *testing.T) {
	m := newTestMonitor(t)
	ch := &recordingChannel{err: errors.New("broker down")}
	m.AddAlertChannel(ch)

	res, err := m.MonitorVault(context.Background(), testVault(t, "ethereum", 1000, 650), testAgent, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Alerts)
	assert.Len(t, m.GetActiveAlerts(), len(res.Alerts))
}

func TestMonitorVault_SlowChannelDoesNotBlock(t *testing.T) {
	m := newTestMonitor(t)
	slow := newBlockingChannel()
	ch := &recordingChannel{}
	m.AddAlertChannel(slow)
	m.AddAlertChannel(ch)

	start := time.Now()
	for i := 0; i < 5; i++ {
		res, err := m.MonitorVault(context.Background(), testVault(t, "ethereum", 1000, 800), testAgent, nil)
		require.NoError(t, err)
		require.NotEmpty(t, res.Alerts)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Less(t, m.GetPerformanceMetrics().AverageResponseTime, 200*time.Millisecond)

	select {
	case <-slow.started:
	case <-time.After(time.Second):
		t.Fatal("slow channel never received an alert")
	}
	require.Eventually(t, func() bool { return len(ch.received()) == 15 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 14, m.AlertDeliveryStats()["blocking"].Queued)

	close(slow.release)
	flushAlerts(t, m)
	assert.EqualValues(t, 15, m.AlertDeliveryStats()["blocking"].Sent)
}

func TestMonitorVault_ProtectionCapKeepsCooldown(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultMonitorConfig()
	cfg.AutoProtection.MaxProtectionTriggers = 1
	m, err := NewEnhancedRiskMonitor(cfg, Options{
		Logger:     zaptest.NewLogger(t),
		Registerer: prometheus.NewRegistry(),
		Clock:      func() time.Time { return now },
	})
	require.NoError(t, err)

	vault := testVault(t, "ethereum", 1000, 650)
	check := func() *MonitorResult {
		res, err := m.MonitorVault(context.Background(), vault, testAgent, nil)
		require.NoError(t, err)
		return res
	}
	hasLiquidationAlert := func(res *MonitorResult) bool {
		for _, a := range res.Alerts {
			if a.Category == risk.CategoryLiquidation {
				return true
			}
		}
		return false
	}

	res := check()
	assert.True(t, res.ProtectionTriggered)
	assert.True(t, res.AutoProtected)
	assert.True(t, hasLiquidationAlert(res))

	now = now.Add(10 * time.Minute)
	res = check()
	assert.False(t, res.ProtectionTriggered)
	assert.False(t, hasLiquidationAlert(res))

	// The cap is reached, yet the trigger is still stamped and cools down.
	now = now.Add(time.Hour)
	res = check()
	assert.True(t, res.ProtectionTriggered)
	assert.False(t, res.AutoProtected)
	require.NotNil(t, vault.LiquidationProtection.LastTriggeredAt)
	assert.True(t, vault.LiquidationProtection.LastTriggeredAt.Equal(now))

	for i := 0; i < 3; i++ {
		now = now.Add(5 * time.Minute)
		res = check()
		assert.False(t, res.ProtectionTriggered)
		assert.False(t, res.AutoProtected)
		assert.False(t, hasLiquidationAlert(res))
	}
	assert.EqualValues(t, 2, m.GetEnhancedRiskSummary().ProtectionTriggers)
}

func TestAlertQueriesAndAcknowledge(t *testing.T) {
	m := newTestMonitor(t)
	a := testVault(t, "ethereum", 1000, 800)
	b := testVault(t, "ethereum", 1000, 620)

	_, err := m.MonitorVault(context.Background(), a, testAgent, nil)
	require.NoError(t, err)
	_, err = m.MonitorVault(context.Background(), b, testAgent, nil)
	require.NoError(t, err)

	assert.False(t, m.AcknowledgeAlert("unknown-id", "user"))

	vaultAlerts := m.GetVaultAlerts(b.ID)
	require.NotEmpty(t, vaultAlerts)
	for _, alert := range vaultAlerts {
		assert.Equal(t, b.ID, alert.VaultID)
	}

	critical := m.GetAlertsBySeverity(risk.SeverityCritical)
	require.NotEmpty(t, critical)
	for _, alert := range critical {
		assert.Equal(t, risk.SeverityCritical, alert.Severity)
	}
	for _, alert := range m.GetAlertsByCategory(risk.CategoryLTV) {
		assert.Equal(t, risk.CategoryLTV, alert.Category)
	}

	active := len(m.GetActiveAlerts())
	target := critical[0].ID
	assert.False(t, m.AcknowledgeAlert(target, ""))
	assert.True(t, m.AcknowledgeAlert(target, "ops@vaultrisk"))
	assert.False(t, m.AcknowledgeAlert(target, "someone-else"))

	acked, ok := m.GetAlert(target)
	require.True(t, ok)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "ops@vaultrisk", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.Len(t, m.GetActiveAlerts(), active-1)
}

func TestHousekeepingRecoversFromPanic(t *testing.T) {
	m := newTestMonitor(t)
	m.housekeepingChecks = append(m.housekeepingChecks, func() error { panic("boom") })

	m.housekeeping()
	m.housekeepingChecks = m.housekeepingChecks[:1]
	m.housekeeping()

	perf := m.GetPerformanceMetrics()
	assert.Equal(t, int64(2), perf.TotalChecks)
	assert.Equal(t, int64(1), perf.ErrorCount)
	assert.Equal(t, 0.5, perf.SuccessRate)
}

func TestMarketData(t *testing.T) {
	m := newTestMonitor(t)

	_, ok := m.GetMarketData("polygon")
	assert.False(t, ok)

	_, err := m.UpdateMarketData("cosmos", risk.MarketDataUpdate{})
	assert.ErrorIs(t, err, risk.ErrUnsupportedChain)

	gas := 42.0
	data, err := m.UpdateMarketData("polygon", risk.MarketDataUpdate{GasPrice: &gas, PriceFeeds: map[string]float64{"MATIC": 0.7}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, data.Volatility)
	assert.Equal(t, risk.SentimentNeutral, data.MarketSentiment)

	data, err = m.SimulateMarketVolatility("polygon", 1.8)
	require.NoError(t, err)
	assert.Equal(t, 1.8, data.VolatilityIndex)
	assert.Equal(t, risk.SentimentBearish, data.MarketSentiment)
	assert.Equal(t, 42.0, data.GasPrice)

	data, err = m.SimulatePriceUpdate("polygon", "MATIC", 0.77)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, data.PriceChange24h, 1e-9)

	stored, ok := m.GetMarketData("polygon")
	require.True(t, ok)
	assert.Equal(t, 0.77, stored.PriceFeeds["MATIC"])

	_, err = m.SimulateMarketVolatility("polygon", 0)
	assert.ErrorIs(t, err, risk.ErrValidation)
}

func TestMarketData_RejectsInvalidVolatility(t *testing.T) {
	m := newTestMonitor(t)
	good := 1.2
	_, err := m.UpdateMarketData("ethereum", risk.MarketDataUpdate{Volatility: &good})
	require.NoError(t, err)

	for _, v := range []float64{-3, 0, math.NaN(), math.Inf(1)} {
		v := v
		_, err := m.UpdateMarketData("ethereum", risk.MarketDataUpdate{Volatility: &v})
		assert.ErrorIs(t, err, risk.ErrValidation, "volatility %v", v)
		_, err = m.UpdateMarketData("ethereum", risk.MarketDataUpdate{VolatilityIndex: &v})
		assert.ErrorIs(t, err, risk.ErrValidation, "volatility index %v", v)
	}

	stored, ok := m.GetMarketData("ethereum")
	require.True(t, ok)
	assert.Equal(t, 1.2, stored.Volatility)
	assert.Equal(t, 1.0, stored.VolatilityIndex)

	// A negative volatility would otherwise raise the max LTV above the base.
	vault := testVault(t, "ethereum", 1000, 300)
	_, err = m.MonitorVault(context.Background(), vault, testAgent, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, vault.MaxLTV, 70.0)

	snapshot := risk.NeutralMarketData("polygon", time.Now())
	snapshot.Volatility = -1
	assert.ErrorIs(t, m.ReplaceMarketData(snapshot), risk.ErrValidation)
	snapshot.Volatility = 1
	snapshot.VolatilityIndex = math.NaN()
	assert.ErrorIs(t, m.ReplaceMarketData(snapshot), risk.ErrValidation)
	_, ok = m.GetMarketData("polygon")
	assert.False(t, ok)

	snapshot.VolatilityIndex = 1.1
	require.NoError(t, m.ReplaceMarketData(snapshot))
	_, ok = m.GetMarketData("polygon")
	assert.True(t, ok)
}

func TestMonitorVaults_Batches(t *testing.T) {
	m := newTestMonitor(t, func(c *config.MonitorConfig) {
		c.Performance.BatchSize = 4
		c.Performance.MaxConcurrentVaults = 2
	})

	checks := make([]VaultCheck, 0, 10)
	for i := 0; i < 10; i++ {
		chain := "ethereum"
		if i == 6 {
			chain = "unknown"
		}
		checks = append(checks, VaultCheck{Vault: testVault(t, chain, 1000, 300), Agent: testAgent})
	}

	results := m.MonitorVaults(context.Background(), checks)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, checks[i].Vault.ID, r.VaultID)
		if i == 6 {
			assert.NotEmpty(t, r.Error)
			assert.Nil(t, r.Result)
			continue
		}
		assert.Empty(t, r.Error)
		assert.NotNil(t, r.Result)
	}
	assert.Equal(t, int64(10), m.GetPerformanceMetrics().TotalChecks)
}

func TestStatusAndSummary(t *testing.T) {
	m := newTestMonitor(t)
	_, err := m.SimulateMarketVolatility("ethereum", 1.2)
	require.NoError(t, err)
	_, err = m.SimulateMarketVolatility("base", 0.8)
	require.NoError(t, err)

	vault := testVault(t, "ethereum", 1000, 800)
	_, err = m.MonitorVault(context.Background(), vault, testAgent, nil)
	require.NoError(t, err)

	summary := m.GetEnhancedRiskSummary()
	assert.Equal(t, summary.TotalAlerts, summary.ActiveAlerts)
	assert.Equal(t, 1, summary.AlertsByCategory[string(risk.CategoryLiquidation)])
	assert.Equal(t, 0, summary.AlertsBySeverity[string(risk.SeverityLow)])
	assert.GreaterOrEqual(t, summary.CriticalAlerts, 1)
	assert.Equal(t, int64(1), summary.ProtectionTriggers)
	require.Len(t, summary.Vaults, 1)
	assert.Equal(t, vault.ID, summary.Vaults[0].VaultID)
	assert.Equal(t, 1, summary.RiskLevelCounts["critical"])
	assert.InDelta(t, 1.0, summary.AverageVolatility, 1e-9)

	status := m.GetEnhancedStatus()
	assert.False(t, status.IsRunning)
	assert.Nil(t, status.StartedAt)
	assert.Equal(t, 1, status.MonitoredVaults)
	assert.Equal(t, []string{"base", "ethereum"}, status.TrackedChains)
	assert.Equal(t, summary.TotalAlerts, status.TotalAlerts)

	m.Start()
	defer m.Stop()
	status = m.GetEnhancedStatus()
	assert.True(t, status.IsRunning)
	assert.NotNil(t, status.StartedAt)
}
