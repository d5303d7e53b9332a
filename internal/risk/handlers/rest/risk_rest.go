// Package rest provides REST API handlers for the vault risk service
package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/api/responses"
	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/Aidin1998/vaultrisk/internal/risk/service"
	"github.com/Aidin1998/vaultrisk/internal/ws"
	pkgerrors "github.com/Aidin1998/vaultrisk/pkg/errors"
)

// AlertStream upgrades a request to a live alert subscription.
type AlertStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, clientID string, topics ...string)
}

// Options configures the risk handler.
type Options struct {
	// Stream serves /alerts/stream; the route is not registered when nil.
	Stream AlertStream
	// Timeout bounds each request; zero disables it.
	Timeout          time.Duration
	EnableSimulation bool
	Logger           *zap.Logger
	// Middleware runs ahead of every /risk route, e.g. the audit trail.
	Middleware []gin.HandlerFunc
}

// RiskHandler handles REST API requests for vault risk operations
type RiskHandler struct {
	svc    *service.VaultService
	opts   Options
	logger *zap.Logger
}

// NewRiskHandler creates a new risk REST handler
func NewRiskHandler(svc *service.VaultService, opts Options) *RiskHandler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &RiskHandler{svc: svc, opts: opts, logger: opts.Logger.Named("risk_rest")}
}

// RegisterRoutes registers risk routes with the Gin router
func (h *RiskHandler) RegisterRoutes(r *gin.RouterGroup) {
	root := r.Group("/risk", h.opts.Middleware...)
	if h.opts.Stream != nil {
		root.GET("/alerts/stream", h.StreamAlerts)
	}

	api := root.Group("", h.withTimeout())
	{
		// Agents
		api.PUT("/agents/:id", h.UpsertAgent)
		api.GET("/agents/:id", h.GetAgent)
		api.GET("/agents/:id/vaults", h.ListAgentVaults)

		// Vault lifecycle
		api.POST("/vaults", h.CreateVault)
		api.GET("/vaults/:id", h.GetVault)
		api.PUT("/vaults/:id/collateral", h.UpdateCollateral)
		api.PUT("/vaults/:id/debt", h.UpdateDebt)
		api.PUT("/vaults/:id/status", h.UpdateStatus)
		api.POST("/vaults/:id/monitor", h.MonitorVault)
		api.GET("/vaults/:id/alerts", h.GetVaultAlerts)

		// Protection rules
		api.GET("/vaults/:id/rules", h.ListRules)
		api.POST("/vaults/:id/rules", h.AddRule)
		api.DELETE("/vaults/:id/rules/:ruleId", h.DeleteRule)
		api.POST("/vaults/:id/rules/execute", h.ExecuteRules)

		api.POST("/monitor/sweep", h.SweepActive)

		// LTV and chains
		api.GET("/ltv/quote", h.QuoteLTV)
		api.GET("/chains", h.ListChains)

		// Market data
		api.GET("/market", h.ListMarketData)
		api.GET("/market/:chain", h.GetMarketData)
		api.PUT("/market/:chain", h.UpdateMarketData)

		// Alerts
		api.GET("/alerts", h.ListAlerts)
		api.GET("/alerts/:id", h.GetAlert)
		api.POST("/alerts/:id/ack", h.AcknowledgeAlert)

		// Monitor state
		api.GET("/status", h.GetStatus)
		api.GET("/summary", h.GetSummary)
		api.GET("/performance", h.GetPerformance)

		if h.opts.EnableSimulation {
			api.POST("/simulate/volatility", h.SimulateVolatility)
			api.POST("/simulate/price", h.SimulatePrice)
		}
	}
}

// withTimeout attaches the request deadline.
func (h *RiskHandler) withTimeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.opts.Timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.Timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Agents

// UpsertAgentRequest represents an agent credibility profile
type UpsertAgentRequest struct {
	Name            string  `json:"name"`
	CredibilityTier string  `json:"credibility_tier" binding:"required"`
	Score           float64 `json:"score" binding:"gte=0,lte=100"`
	Performance     float64 `json:"performance"`
	Confidence      float64 `json:"confidence"`
}

// UpsertAgent stores an agent profile
func (h *RiskHandler) UpsertAgent(c *gin.Context) {
	var req UpsertAgentRequest
	if !h.bind(c, &req) {
		return
	}
	tier, err := risk.ParseCredibilityTier(req.CredibilityTier)
	if err != nil {
		h.handleError(c, err)
		return
	}
	agent := &risk.Agent{
		ID:              c.Param("id"),
		Name:            req.Name,
		CredibilityTier: tier,
		Score: risk.AgentScore{
			Overall:     req.Score,
			Performance: req.Performance,
			Confidence:  req.Confidence,
		},
	}
	if err := h.svc.UpsertAgent(c.Request.Context(), agent); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// GetAgent returns an agent profile
func (h *RiskHandler) GetAgent(c *gin.Context) {
	agent, err := h.svc.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// ListAgentVaults returns an agent's vaults
func (h *RiskHandler) ListAgentVaults(c *gin.Context) {
	vaults, err := h.svc.ListAgentVaults(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vaults": vaults, "count": len(vaults)})
}

// Vaults

// CreateVaultRequest represents a new credit vault
type CreateVaultRequest struct {
	AgentID  string          `json:"agent_id" binding:"required"`
	ChainID  string          `json:"chain_id" binding:"required"`
	Token    string          `json:"token" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// CreateVault opens a credit vault
func (h *RiskHandler) CreateVault(c *gin.Context) {
	var req CreateVaultRequest
	if !h.bind(c, &req) {
		return
	}
	vault, err := h.svc.CreateVault(c.Request.Context(), service.CreateVaultParams{
		AgentID:  req.AgentID,
		ChainID:  req.ChainID,
		Token:    req.Token,
		Amount:   req.Amount,
		ValueUSD: req.ValueUSD,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, vault)
}

// GetVault returns a vault
func (h *RiskHandler) GetVault(c *gin.Context) {
	vault, err := h.svc.GetVault(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, vault)
}

// PositionRequest replaces a collateral or debt position
type PositionRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// UpdateCollateral replaces a vault's collateral
func (h *RiskHandler) UpdateCollateral(c *gin.Context) {
	var req PositionRequest
	if !h.bind(c, &req) {
		return
	}
	vault, err := h.svc.UpdateCollateral(c.Request.Context(), c.Param("id"), req.Amount, req.ValueUSD)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, vault)
}

// UpdateDebt replaces a vault's debt
func (h *RiskHandler) UpdateDebt(c *gin.Context) {
	var req PositionRequest
	if !h.bind(c, &req) {
		return
	}
	vault, err := h.svc.UpdateDebt(c.Request.Context(), c.Param("id"), req.Amount, req.ValueUSD)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, vault)
}

// StatusRequest moves a vault to a new status
type StatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active liquidated closed under_review"`
}

// UpdateStatus transitions a vault
func (h *RiskHandler) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if !h.bind(c, &req) {
		return
	}
	vault, err := h.svc.UpdateStatus(c.Request.Context(), c.Param("id"), risk.VaultStatus(req.Status))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, vault)
}

// MonitorVault evaluates a vault now
func (h *RiskHandler) MonitorVault(c *gin.Context) {
	out, err := h.svc.MonitorVault(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// SweepActive evaluates the least recently checked active vaults
func (h *RiskHandler) SweepActive(c *gin.Context) {
	limit, ok := h.queryInt(c, "limit", 100)
	if !ok {
		return
	}
	results, err := h.svc.MonitorActive(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results), "failed": failed})
}

// Rules

// RuleRequest represents a protection rule
type RuleRequest struct {
	Conditions      risk.RuleConditions     `json:"conditions"`
	Actions         []risk.ProtectionAction `json:"actions" binding:"required,min=1,dive"`
	Enabled         *bool                   `json:"enabled"`
	Priority        int                     `json:"priority"`
	CooldownSeconds int64                   `json:"cooldown_seconds" binding:"gte=0"`
}

// AddRule attaches a protection rule to a vault
func (h *RiskHandler) AddRule(c *gin.Context) {
	var req RuleRequest
	if !h.bind(c, &req) {
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule, err := h.svc.AddRule(c.Request.Context(), c.Param("id"), &risk.ProtectionRule{
		Conditions:      req.Conditions,
		Actions:         req.Actions,
		Enabled:         enabled,
		Priority:        req.Priority,
		CooldownSeconds: req.CooldownSeconds,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// ListRules returns a vault's protection rules
func (h *RiskHandler) ListRules(c *gin.Context) {
	rules, err := h.svc.ListRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

// DeleteRule removes a protection rule
func (h *RiskHandler) DeleteRule(c *gin.Context) {
	if err := h.svc.DeleteRule(c.Request.Context(), c.Param("ruleId")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExecuteRules runs a vault's protection rules
func (h *RiskHandler) ExecuteRules(c *gin.Context) {
	results, err := h.svc.ExecuteRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// LTV and chains

// QuoteLTV returns the dynamic max LTV for an agent on a chain
func (h *RiskHandler) QuoteLTV(c *gin.Context) {
	agentID, chainID := c.Query("agent_id"), c.Query("chain_id")
	if agentID == "" || chainID == "" {
		h.handleError(c, risk.ErrValidation.Explain("agent_id and chain_id are required"))
		return
	}
	collateral := decimal.Zero
	if raw := c.Query("collateral_usd"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			h.handleError(c, risk.ErrValidation.Explain("invalid collateral_usd %q", raw))
			return
		}
		collateral = v
	}
	quote, err := h.svc.QuoteLTV(c.Request.Context(), agentID, chainID, collateral)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// ListChains returns the supported chain table
func (h *RiskHandler) ListChains(c *gin.Context) {
	ids := risk.SupportedChains()
	chains := make([]risk.ChainConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := risk.GetChainConfig(id)
		if err != nil {
			h.handleError(c, err)
			return
		}
		chains = append(chains, cfg)
	}
	c.JSON(http.StatusOK, gin.H{"chains": chains})
}

// Market data

// ListMarketData returns every pushed market snapshot
func (h *RiskHandler) ListMarketData(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"market_data": h.svc.Monitor().MarketDataSnapshot()})
}

// GetMarketData returns a chain's latest market data
func (h *RiskHandler) GetMarketData(c *gin.Context) {
	chainID := c.Param("chain")
	if _, err := risk.GetChainConfig(chainID); err != nil {
		h.handleError(c, err)
		return
	}
	md, ok := h.svc.Monitor().GetMarketData(chainID)
	if !ok {
		h.handleError(c, risk.ErrNotFound.Explain("no market data for chain %q", chainID))
		return
	}
	c.JSON(http.StatusOK, md)
}

// UpdateMarketData merges a market data update for a chain
func (h *RiskHandler) UpdateMarketData(c *gin.Context) {
	var req risk.MarketDataUpdate
	if !h.bind(c, &req) {
		return
	}
	md, err := h.svc.UpdateMarketData(c.Request.Context(), c.Param("chain"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, md)
}

// Alerts

// ListAlerts returns alerts filtered by vault_id, category, severity and active
func (h *RiskHandler) ListAlerts(c *gin.Context) {
	m := h.svc.Monitor()
	category := risk.AlertCategory(c.Query("category"))
	severity := risk.AlertSeverity(c.Query("severity"))
	if category != "" && !category.Valid() {
		h.handleError(c, risk.ErrValidation.Explain("unknown alert category %q", category))
		return
	}
	if severity != "" && !severity.Valid() {
		h.handleError(c, risk.ErrValidation.Explain("unknown alert severity %q", severity))
		return
	}
	activeOnly := true
	if raw := c.Query("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.handleError(c, risk.ErrValidation.Explain("invalid active flag %q", raw))
			return
		}
		activeOnly = v
	}

	var alerts []risk.RiskAlert
	switch vaultID := c.Query("vault_id"); {
	case vaultID != "":
		alerts = m.GetVaultAlerts(vaultID)
	case category != "":
		alerts = m.GetAlertsByCategory(category)
	case severity != "":
		alerts = m.GetAlertsBySeverity(severity)
	default:
		alerts = m.GetActiveAlerts()
	}

	out := make([]risk.RiskAlert, 0, len(alerts))
	for _, a := range alerts {
		if category != "" && a.Category != category {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		if activeOnly && a.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out, "count": len(out)})
}

// GetVaultAlerts returns every alert of a vault
func (h *RiskHandler) GetVaultAlerts(c *gin.Context) {
	alerts := h.svc.Monitor().GetVaultAlerts(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// GetAlert returns one alert
func (h *RiskHandler) GetAlert(c *gin.Context) {
	alert, ok := h.svc.Monitor().GetAlert(c.Param("id"))
	if !ok {
		h.handleError(c, risk.ErrNotFound.Explain("alert %q not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, alert)
}

// AcknowledgeRequest names who acknowledges an alert
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" binding:"required"`
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging twice reports
// acknowledged=false with the original acknowledgement.
func (h *RiskHandler) AcknowledgeAlert(c *gin.Context) {
	var req AcknowledgeRequest
	if !h.bind(c, &req) {
		return
	}
	id := c.Param("id")
	m := h.svc.Monitor()
	ok := m.AcknowledgeAlert(id, req.AcknowledgedBy)
	alert, found := m.GetAlert(id)
	if !found {
		h.handleError(c, risk.ErrNotFound.Explain("alert %q not found", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": ok, "alert": alert})
}

// StreamAlerts upgrades to a websocket alert stream. The topics query takes
// a comma separated list; the default is every alert.
func (h *RiskHandler) StreamAlerts(c *gin.Context) {
	topics := []string{ws.TopicAlerts}
	if raw := c.Query("topics"); raw != "" {
		topics = strings.Split(raw, ",")
	} else if vaultID := c.Query("vault_id"); vaultID != "" {
		topics = []string{ws.VaultTopic(vaultID)}
	}
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}
	h.opts.Stream.ServeWS(c.Writer, c.Request, clientID, topics...)
}

// Monitor state

// GetStatus returns the monitor status
func (h *RiskHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Monitor().GetEnhancedStatus())
}

// GetSummary returns the risk summary
func (h *RiskHandler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Monitor().GetEnhancedRiskSummary())
}

// GetPerformance returns monitor performance metrics
func (h *RiskHandler) GetPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Monitor().GetPerformanceMetrics())
}

// Simulation

// VolatilityRequest sets a chain's volatility
type VolatilityRequest struct {
	ChainID    string  `json:"chain_id" binding:"required"`
	Volatility float64 `json:"volatility" binding:"gt=0"`
}

// SimulateVolatility overrides a chain's volatility
func (h *RiskHandler) SimulateVolatility(c *gin.Context) {
	var req VolatilityRequest
	if !h.bind(c, &req) {
		return
	}
	md, err := h.svc.Monitor().SimulateMarketVolatility(req.ChainID, req.Volatility)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, md)
}

// PriceRequest sets a token price on a chain
type PriceRequest struct {
	ChainID string  `json:"chain_id" binding:"required"`
	Token   string  `json:"token" binding:"required"`
	Price   float64 `json:"price" binding:"gt=0"`
}

// SimulatePrice overrides a token price feed
func (h *RiskHandler) SimulatePrice(c *gin.Context) {
	var req PriceRequest
	if !h.bind(c, &req) {
		return
	}
	md, err := h.svc.Monitor().SimulatePriceUpdate(req.ChainID, req.Token, req.Price)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, md)
}

// helpers

func (h *RiskHandler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.handleError(c, risk.ErrValidation.Explain("invalid request body").Wrap(err))
		return false
	}
	return true
}

func (h *RiskHandler) queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		h.handleError(c, risk.ErrValidation.Explain("invalid %s %q", key, raw))
		return 0, false
	}
	return v, true
}

// handleError converts internal errors to RFC 7807 responses
func (h *RiskHandler) handleError(c *gin.Context, err error) {
	problem := pkgerrors.NewProblem(err, c.Request.URL.Path)
	if problem.Status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	responses.Error(c, problem)
}
