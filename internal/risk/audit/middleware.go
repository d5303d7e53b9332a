package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActorHeader names the operator on whose behalf a call is made.
const ActorHeader = "X-Actor"

const maxCapturedBody = 4096

// Recorder is the sink the middleware writes to.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// Middleware audits every mutating request passing through the group it is
// attached to. Reads are not recorded.
func Middleware(recorder Recorder, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		startTime := time.Now()
		body := captureRequestBody(c)

		c.Next()

		event := createAuditEvent(c, body, startTime)
		// the request context may already be cancelled by a timeout
		ctx := context.WithoutCancel(c.Request.Context())
		if err := recorder.Record(ctx, event); err != nil {
			logger.Error("Failed to log audit event",
				zap.String("event_id", event.ID),
				zap.String("action", event.Action),
				zap.Error(err))
		}
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// captureRequestBody reads and restores the JSON body.
func captureRequestBody(c *gin.Context) map[string]interface{} {
	if c.Request.Body == nil {
		return nil
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCapturedBody+1))
	if err != nil {
		return nil
	}
	rest, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(bodyBytes), bytes.NewReader(rest)))

	if len(bodyBytes) == 0 || len(bodyBytes) > maxCapturedBody {
		return nil
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return nil
	}
	return parsed
}

func createAuditEvent(c *gin.Context, body map[string]interface{}, startTime time.Time) *Event {
	status := c.Writer.Status()
	outcome := OutcomeSuccess
	if status >= http.StatusBadRequest {
		outcome = OutcomeFailure
	}

	event := &Event{
		ID:         uuid.NewString(),
		Action:     determineAction(c.Request.Method, c.FullPath()),
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		Actor:      c.GetHeader(ActorHeader),
		ClientIP:   c.ClientIP(),
		UserAgent:  c.GetHeader("User-Agent"),
		StatusCode: status,
		Outcome:    outcome,
		DurationMs: time.Since(startTime).Milliseconds(),
		Request:    body,
		Timestamp:  startTime.UTC(),
	}
	addTargetInformation(event, c, body)
	return event
}

// determineAction names the call from its route template.
func determineAction(method, route string) string {
	switch {
	case route == "":
		return "unmatched"
	case strings.HasSuffix(route, "/vaults") && method == http.MethodPost:
		return "vault.create"
	case strings.HasSuffix(route, "/vaults/:id/collateral"):
		return "vault.collateral.update"
	case strings.HasSuffix(route, "/vaults/:id/debt"):
		return "vault.debt.update"
	case strings.HasSuffix(route, "/vaults/:id/status"):
		return "vault.status.update"
	case strings.HasSuffix(route, "/vaults/:id/monitor"):
		return "vault.monitor"
	case strings.HasSuffix(route, "/vaults/:id/rules/execute"):
		return "rule.execute"
	case strings.HasSuffix(route, "/vaults/:id/rules/:ruleId"):
		return "rule.delete"
	case strings.HasSuffix(route, "/vaults/:id/rules"):
		return "rule.create"
	case strings.HasSuffix(route, "/agents/:id"):
		return "agent.upsert"
	case strings.HasSuffix(route, "/alerts/:id/ack"):
		return "alert.acknowledge"
	case strings.HasSuffix(route, "/market/:chain"):
		return "market.update"
	case strings.HasSuffix(route, "/monitor/sweep"):
		return "monitor.sweep"
	case strings.Contains(route, "/simulate/"):
		return "simulate." + route[strings.LastIndex(route, "/")+1:]
	}
	return strings.ToLower(method) + " " + route
}

func addTargetInformation(event *Event, c *gin.Context, body map[string]interface{}) {
	route := c.FullPath()
	switch {
	case strings.Contains(route, "/vaults/:id"):
		event.VaultID = c.Param("id")
		event.TargetID = c.Param("ruleId")
	case strings.Contains(route, "/agents/:id"), strings.Contains(route, "/alerts/:id"):
		event.TargetID = c.Param("id")
	case strings.Contains(route, "/market/:chain"):
		event.TargetID = c.Param("chain")
	}
	if event.VaultID == "" && body != nil {
		if id, ok := body["vault_id"].(string); ok {
			event.VaultID = id
		}
	}
}
