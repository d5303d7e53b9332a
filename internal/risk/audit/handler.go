package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/vaultrisk/api/responses"
)

// Handler exposes the audit trail over REST.
type Handler struct {
	store *Store
}

// NewHandler creates an audit REST handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts GET /risk/audit.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/risk/audit", h.ListEvents)
}

// ListEvents handles GET /risk/audit?vault_id&action&since&limit
func (h *Handler) ListEvents(c *gin.Context) {
	filter := Filter{
		VaultID: c.Query("vault_id"),
		Action:  c.Query("action"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			responses.BadRequest(c, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			responses.BadRequest(c, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}

	events, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		responses.InternalServerError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
