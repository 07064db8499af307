package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/isoko-rw/isoko/internal/pagination"
)

// Handler provides HTTP endpoints for the transaction lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up transaction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.Initiate)
	r.POST("/transactions/:id/process", h.Process)
	r.POST("/transactions/:id/confirm", h.Confirm)
	r.POST("/transactions/:id/cancel", h.Cancel)
	r.POST("/transactions/:id/transit", h.MarkInTransit)
	r.POST("/transactions/:id/delivered", h.MarkDelivered)
	r.GET("/transactions/:id", h.Get)
	r.GET("/transactions", h.GetByReference)
	r.GET("/users/:id/transactions", h.ListByUser)
	r.POST("/payments/callback", h.ProviderCallback)
}

// Initiate handles POST /v1/transactions
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	tx, err := h.service.Initiate(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "initiate_failed"
		switch {
		case errors.Is(err, ErrValidation):
			status = http.StatusBadRequest
			code = "validation_error"
		case errors.Is(err, ErrDuplicateReference):
			status = http.StatusConflict
			code = "duplicate_reference"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

type processRequest struct {
	PayerHandle string `json:"payerHandle" binding:"required"`
}

// Process handles POST /v1/transactions/:id/process
func (h *Handler) Process(c *gin.Context) {
	id := c.Param("id")

	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	tx, err := h.service.Process(c.Request.Context(), id, req.PayerHandle)
	if err != nil {
		h.writeError(c, err, "process_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// Confirm handles POST /v1/transactions/:id/confirm
func (h *Handler) Confirm(c *gin.Context) {
	id := c.Param("id")

	tx, err := h.service.Confirm(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "confirm_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /v1/transactions/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	id := c.Param("id")

	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	tx, err := h.service.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.writeError(c, err, "cancel_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// MarkInTransit handles POST /v1/transactions/:id/transit
func (h *Handler) MarkInTransit(c *gin.Context) {
	tx, err := h.service.MarkInTransit(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "transit_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// MarkDelivered handles POST /v1/transactions/:id/delivered
func (h *Handler) MarkDelivered(c *gin.Context) {
	tx, err := h.service.MarkDelivered(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "delivered_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// Get handles GET /v1/transactions/:id
func (h *Handler) Get(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// GetByReference handles GET /v1/transactions?reference=PAY-...
func (h *Handler) GetByReference(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reference query parameter is required",
		})
		return
	}

	tx, err := h.service.GetByReference(c.Request.Context(), reference)
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ListByUser handles GET /v1/users/:id/transactions
func (h *Handler) ListByUser(c *gin.Context) {
	limit := pagination.ClampLimit(c.Query("limit"))

	txs, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

type callbackRequest struct {
	Reference string `json:"reference" binding:"required"`
}

// ProviderCallback handles POST /v1/payments/callback. Mobile money
// providers post here when a collection settles; the reference is the
// payment reference we issued at initiation.
func (h *Handler) ProviderCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	tx, err := h.service.ConfirmByReference(c.Request.Context(), req.Reference)
	if err != nil {
		h.writeError(c, err, "callback_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	code := fallback
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidStateForCancel):
		status = http.StatusConflict
		code = "invalid_state_for_cancel"
	case errors.Is(err, ErrInvalidTransition):
		status = http.StatusConflict
		code = "invalid_state_transition"
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrProvider):
		status = http.StatusBadGateway
		code = "provider_error"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
