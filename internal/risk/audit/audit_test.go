package audit_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Aidin1998/vaultrisk/internal/risk/audit"
)

func newStore(t *testing.T) *audit.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:audit_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, audit.Migrate(db))
	return audit.NewStore(db)
}

func newRouter(store *audit.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/v1/risk", audit.Middleware(store, zap.NewNop()))
	g.PUT("/vaults/:id/collateral", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.Data(http.StatusOK, "application/json", body)
	})
	g.POST("/vaults", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad"})
	})
	g.GET("/vaults/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	g.DELETE("/vaults/:id/rules/:ruleId", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	audit.NewHandler(store).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_RecordsMutations(t *testing.T) {
	store := newStore(t)
	r := newRouter(store)

	w := do(r, http.MethodPut, "/api/v1/risk/vaults/v-1/collateral", `{"amount":"2","value_usd":"2000"}`,
		map[string]string{audit.ActorHeader: "ops@desk"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"amount":"2","value_usd":"2000"}`, w.Body.String(), "body is restored for the handler")

	do(r, http.MethodGet, "/api/v1/risk/vaults/v-1", "", nil)
	do(r, http.MethodPost, "/api/v1/risk/vaults", `{"agent_id":"a"}`, nil)
	do(r, http.MethodDelete, "/api/v1/risk/vaults/v-1/rules/r-9", "", nil)

	events, err := store.List(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 3, "reads are not audited")

	byAction := map[string]audit.Event{}
	for _, e := range events {
		byAction[e.Action] = e
	}

	update := byAction["vault.collateral.update"]
	assert.Equal(t, "v-1", update.VaultID)
	assert.Equal(t, "ops@desk", update.Actor)
	assert.Equal(t, audit.OutcomeSuccess, update.Outcome)
	assert.Equal(t, "2000", update.Request["value_usd"])

	create := byAction["vault.create"]
	assert.Equal(t, audit.OutcomeFailure, create.Outcome)
	assert.Equal(t, http.StatusBadRequest, create.StatusCode)

	del := byAction["rule.delete"]
	assert.Equal(t, "v-1", del.VaultID)
	assert.Equal(t, "r-9", del.TargetID)
}

func TestStore_FilterAndPrune(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, e := range []audit.Event{
		{ID: "1", Action: "vault.create", VaultID: "v-1", Timestamp: now.Add(-48 * time.Hour)},
		{ID: "2", Action: "vault.debt.update", VaultID: "v-1", Timestamp: now.Add(-time.Hour)},
		{ID: "3", Action: "vault.debt.update", VaultID: "v-2", Timestamp: now},
	} {
		e := e
		require.NoError(t, store.Record(ctx, &e), "event %d", i)
	}

	events, err := store.List(ctx, audit.Filter{VaultID: "v-1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].ID, "newest first")

	events, err = store.List(ctx, audit.Filter{Action: "vault.debt.update", Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "3", events[0].ID)

	n, err := store.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHandler_ListEvents(t *testing.T) {
	store := newStore(t)
	r := newRouter(store)
	do(r, http.MethodPut, "/api/v1/risk/vaults/v-7/collateral", `{"amount":"1","value_usd":"10"}`, nil)

	w := do(r, http.MethodGet, "/api/v1/risk/audit?vault_id=v-7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Events []audit.Event `json:"events"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "vault.collateral.update", resp.Events[0].Action)

	w = do(r, http.MethodGet, "/api/v1/risk/audit?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodGet, "/api/v1/risk/audit?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
