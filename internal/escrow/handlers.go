package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/isoko-rw/isoko/internal/pagination"
	"github.com/isoko-rw/isoko/internal/wallet"
)

// Handler provides HTTP endpoints for escrow holds.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.Create)
	r.POST("/escrows/:id/release", h.Release)
	r.POST("/escrows/:id/refund", h.Refund)
	r.GET("/escrows/:id", h.Get)
	r.GET("/transactions/:id/escrow", h.GetByTransaction)
	r.GET("/users/:id/escrows", h.ListByUser)
}

// RegisterAdminRoutes sets up back-office escrow queries.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/escrows", h.ListByStatus)
}

type createRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
}

// Create handles POST /v1/escrows. Funds move from the farmer's wallet
// into the hold; the transaction must be PAYMENT_CONFIRMED.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	e, err := h.service.Create(c.Request.Context(), req.TransactionID)
	if err != nil {
		h.writeError(c, err, "create_failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": e})
}

type settleRequest struct {
	Reason string `json:"reason"`
}

// Release handles POST /v1/escrows/:id/release
func (h *Handler) Release(c *gin.Context) {
	var req settleRequest
	_ = c.ShouldBindJSON(&req)

	e, err := h.service.Release(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err, "release_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// Refund handles POST /v1/escrows/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	var req settleRequest
	_ = c.ShouldBindJSON(&req)

	e, err := h.service.Refund(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err, "refund_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// Get handles GET /v1/escrows/:id
func (h *Handler) Get(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// GetByTransaction handles GET /v1/transactions/:id/escrow
func (h *Handler) GetByTransaction(c *gin.Context) {
	e, err := h.service.GetByTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// ListByUser handles GET /v1/users/:id/escrows
func (h *Handler) ListByUser(c *gin.Context) {
	limit := pagination.ClampLimit(c.Query("limit"))

	escrows, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrows": escrows, "count": len(escrows)})
}

// ListByStatus handles GET /v1/admin/escrows
func (h *Handler) ListByStatus(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusHeld)))
	limit := pagination.ClampLimit(c.Query("limit"))

	escrows, err := h.service.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrows": escrows, "count": len(escrows)})
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	code := fallback
	switch {
	case errors.Is(err, ErrEscrowNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidEscrowState):
		status = http.StatusConflict
		code = "invalid_state_transition"
	case errors.Is(err, ErrDuplicateEscrow):
		status = http.StatusConflict
		code = "duplicate_escrow"
	case errors.Is(err, ErrTransactionNotConfirmed):
		status = http.StatusConflict
		code = "transaction_not_confirmed"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, wallet.ErrInsufficientBalance):
		status = http.StatusConflict
		code = "insufficient_balance"
	case errors.Is(err, wallet.ErrWalletFrozen):
		status = http.StatusConflict
		code = "wallet_frozen"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
