package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/isoko-rw/isoko/internal/escrow"
	"github.com/isoko-rw/isoko/internal/pagination"
)

// Handler provides HTTP endpoints for dispute cases.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dispute routes open to participants.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.Raise)
	r.GET("/disputes/:id", h.Get)
	r.GET("/escrows/:id/dispute", h.GetByEscrow)
	r.GET("/users/:id/disputes", h.ListByUser)
}

// RegisterAdminRoutes sets up arbitration routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListByStatus)
	r.POST("/disputes/:id/review", h.Review)
	r.POST("/disputes/:id/resolve", h.Resolve)
	r.POST("/disputes/:id/close", h.Close)
}

// Raise handles POST /v1/disputes
func (h *Handler) Raise(c *gin.Context) {
	var req RaiseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	dc, err := h.service.Raise(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "raise_failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": dc})
}

type reviewRequest struct {
	ReviewerID string `json:"reviewerId" binding:"required"`
}

// Review handles POST /v1/admin/disputes/:id/review
func (h *Handler) Review(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	dc, err := h.service.Review(c.Request.Context(), c.Param("id"), req.ReviewerID)
	if err != nil {
		h.writeError(c, err, "review_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dc})
}

// Resolve handles POST /v1/admin/disputes/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	dc, err := h.service.Resolve(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.writeError(c, err, "resolve_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dc})
}

// Close handles POST /v1/admin/disputes/:id/close
func (h *Handler) Close(c *gin.Context) {
	dc, err := h.service.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "close_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dc})
}

// Get handles GET /v1/disputes/:id
func (h *Handler) Get(c *gin.Context) {
	dc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dc})
}

// GetByEscrow handles GET /v1/escrows/:id/dispute
func (h *Handler) GetByEscrow(c *gin.Context) {
	dc, err := h.service.GetByEscrow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": dc})
}

// ListByStatus handles GET /v1/admin/disputes?status=OPEN
func (h *Handler) ListByStatus(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusOpen)))
	limit := pagination.ClampLimit(c.Query("limit"))

	cases, err := h.service.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"disputes": cases, "count": len(cases)})
}

// ListByUser handles GET /v1/users/:id/disputes
func (h *Handler) ListByUser(c *gin.Context) {
	limit := pagination.ClampLimit(c.Query("limit"))

	cases, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"disputes": cases, "count": len(cases)})
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	code := fallback
	switch {
	case errors.Is(err, ErrCaseNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidCaseState):
		status = http.StatusConflict
		code = "invalid_state_transition"
	case errors.Is(err, ErrDuplicateCase):
		status = http.StatusConflict
		code = "duplicate_dispute"
	case errors.Is(err, ErrInvalidResolution):
		status = http.StatusBadRequest
		code = "invalid_resolution"
	case errors.Is(err, escrow.ErrEscrowNotFound):
		status = http.StatusNotFound
		code = "escrow_not_found"
	case errors.Is(err, escrow.ErrInvalidEscrowState):
		status = http.StatusConflict
		code = "invalid_state_transition"
	case errors.Is(err, escrow.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, escrow.ErrInvalidRole):
		status = http.StatusBadRequest
		code = "invalid_role"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
