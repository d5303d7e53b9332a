package module_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/Aidin1998/vaultrisk/internal/risk/config"
	"github.com/Aidin1998/vaultrisk/internal/risk/module"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.DSN = "file:module_test?mode=memory&cache=shared"
	cfg.Database.MaxOpenConns = 1
	cfg.Monitor.CheckInterval = 20 * time.Millisecond
	cfg.Workers.SweepInterval = 20 * time.Millisecond
	return cfg
}

func TestNewModule_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.AlertThresholds.LTVWarning = 99
	_, err := module.NewModule(module.ModuleOptions{Config: cfg, Registerer: prometheus.NewRegistry()})
	assert.ErrorIs(t, err, risk.ErrValidation)
}

func TestModuleLifecycle(t *testing.T) {
	m, err := module.NewModule(module.ModuleOptions{
		Config:     testConfig(),
		Logger:     zap.NewNop(),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.True(t, m.GetMonitor().IsRunning())
	require.NoError(t, m.HealthCheck(ctx))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	m.GetRESTHandler().RegisterRoutes(r.Group("/api/v1"))
	m.GetAuditHandler().RegisterRoutes(r.Group("/api/v1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/risk/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/risk/simulate/volatility", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "simulation is off by default")

	req := httptest.NewRequest(http.MethodPut, "/api/v1/risk/agents/agent-1",
		strings.NewReader(`{"credibility_tier":"bronze","score":50}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/risk/audit?action=agent.upsert", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"target_id":"agent-1"`)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx))
	assert.False(t, m.GetMonitor().IsRunning())
	assert.Error(t, m.HealthCheck(ctx), "database is closed after stop")
}
