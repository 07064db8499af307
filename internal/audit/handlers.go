package audit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/isoko-rw/isoko/internal/pagination"
)

// Handler exposes the audit trail to operators.
type Handler struct {
	logger Logger
}

// NewHandler creates a new audit handler.
func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// RegisterRoutes sets up audit query routes. These are admin-only.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit", h.Search)
	r.GET("/audit/:entityType/:entityId", h.EntityTrail)
}

// Search handles GET /v1/admin/audit with optional filters.
func (h *Handler) Search(c *gin.Context) {
	q := Query{
		EntityType: c.Query("entityType"),
		EntityID:   c.Query("entityId"),
		ActorID:    c.Query("actorId"),
		Action:     c.Query("action"),
		Limit:      pagination.ClampLimit(c.Query("limit")),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "from must be RFC3339"})
			return
		}
		q.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "to must be RFC3339"})
			return
		}
		q.To = t
	}

	entries, err := h.logger.Search(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// EntityTrail handles GET /v1/admin/audit/:entityType/:entityId and
// returns the full history of a single entity.
func (h *Handler) EntityTrail(c *gin.Context) {
	q := Query{
		EntityType: c.Param("entityType"),
		EntityID:   c.Param("entityId"),
		Limit:      pagination.ClampLimit(c.Query("limit")),
	}

	entries, err := h.logger.Search(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
