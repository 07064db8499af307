package receipt

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/isoko-rw/isoko/internal/pagination"
)

// Handler provides HTTP endpoints for settlement receipts.
type Handler struct {
	service *Service
}

// NewHandler creates a new receipt handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up receipt routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/receipts", h.Create)
	r.POST("/receipts/:id/issue", h.Issue)
	r.POST("/receipts/:id/paid", h.MarkPaid)
	r.GET("/receipts/:id", h.Get)
	r.GET("/receipts/:id/verify", h.Verify)
	r.GET("/transactions/:id/receipt", h.GetByTransaction)
	r.GET("/users/:id/receipts", h.ListByUser)
}

type createRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	EscrowID      string `json:"escrowId"`
	FarmerID      string `json:"farmerId" binding:"required"`
	TransporterID string `json:"transporterId" binding:"required"`
	Total         string `json:"total" binding:"required"`
	Currency      string `json:"currency"`
}

// Create handles POST /v1/receipts
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	r, err := h.service.Create(c.Request.Context(), CreateRequest{
		TransactionID: req.TransactionID,
		EscrowID:      req.EscrowID,
		FarmerID:      req.FarmerID,
		TransporterID: req.TransporterID,
		Total:         req.Total,
		Currency:      req.Currency,
	})
	if err != nil {
		h.writeError(c, err, "create_failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"receipt": r})
}

// Issue handles POST /v1/receipts/:id/issue
func (h *Handler) Issue(c *gin.Context) {
	r, err := h.service.Issue(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "issue_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": r})
}

// MarkPaid handles POST /v1/receipts/:id/paid
func (h *Handler) MarkPaid(c *gin.Context) {
	r, err := h.service.MarkPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "paid_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": r})
}

// Get handles GET /v1/receipts/:id
func (h *Handler) Get(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": r})
}

// Verify handles GET /v1/receipts/:id/verify
func (h *Handler) Verify(c *gin.Context) {
	resp, err := h.service.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "verify_failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetByTransaction handles GET /v1/transactions/:id/receipt
func (h *Handler) GetByTransaction(c *gin.Context) {
	r, err := h.service.GetByTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": r})
}

// ListByUser handles GET /v1/users/:id/receipts
func (h *Handler) ListByUser(c *gin.Context) {
	limit := pagination.ClampLimit(c.Query("limit"))

	receipts, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipts": receipts, "count": len(receipts)})
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	code := fallback
	switch {
	case errors.Is(err, ErrReceiptNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidState):
		status = http.StatusConflict
		code = "invalid_state_transition"
	case errors.Is(err, ErrDuplicateReceipt):
		status = http.StatusConflict
		code = "duplicate_receipt"
	case errors.Is(err, ErrSigningDisabled):
		status = http.StatusConflict
		code = "signing_disabled"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
