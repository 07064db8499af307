package wallet

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/isoko-rw/isoko/internal/pagination"
)

// Handler provides HTTP endpoints for wallet balances and payouts.
type Handler struct {
	service *Service
}

// NewHandler creates a new wallet handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:userId", h.Get)
	r.GET("/wallets/:userId/statement", h.Statement)
	r.POST("/wallets/:userId/topup", h.TopUp)
	r.POST("/wallets/:userId/withdraw", h.Withdraw)
	r.PUT("/wallets/:userId/payout-details", h.UpdatePayoutDetails)
}

// RegisterAdminRoutes sets up admin-only wallet routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/wallets/:userId/freeze", h.Freeze)
	r.POST("/wallets/:userId/unfreeze", h.Unfreeze)
	r.POST("/wallets/:userId/kyc", h.VerifyKYC)
}

// Get handles GET /v1/wallets/:userId. The wallet is created lazily on
// first access.
func (h *Handler) Get(c *gin.Context) {
	w, err := h.service.GetOrCreate(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// Statement handles GET /v1/wallets/:userId/statement
func (h *Handler) Statement(c *gin.Context) {
	limit := pagination.ClampLimit(c.Query("limit"))

	st, err := h.service.Statement(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		h.writeError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, st)
}

type topUpRequest struct {
	Amount    string `json:"amount" binding:"required"`
	Reference string `json:"reference" binding:"required"`
}

// TopUp handles POST /v1/wallets/:userId/topup
func (h *Handler) TopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	if err := h.service.TopUp(c.Request.Context(), c.Param("userId"), req.Amount, req.Reference); err != nil {
		h.writeError(c, err, "topup_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "credited"})
}

type withdrawRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Withdraw handles POST /v1/wallets/:userId/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	ref, err := h.service.Withdraw(c.Request.Context(), c.Param("userId"), req.Amount)
	if err != nil {
		h.writeError(c, err, "withdraw_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "paid_out", "payoutReference": ref})
}

type payoutDetailsRequest struct {
	MoMoNumber   string `json:"momoNumber"`
	AirtelNumber string `json:"airtelNumber"`
	BankAccount  string `json:"bankAccount"`
}

// UpdatePayoutDetails handles PUT /v1/wallets/:userId/payout-details
func (h *Handler) UpdatePayoutDetails(c *gin.Context) {
	var req payoutDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	err := h.service.UpdatePayoutDetails(c.Request.Context(), c.Param("userId"),
		req.MoMoNumber, req.AirtelNumber, req.BankAccount)
	if err != nil {
		h.writeError(c, err, "update_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type freezeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Freeze handles POST /v1/admin/wallets/:userId/freeze
func (h *Handler) Freeze(c *gin.Context) {
	var req freezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	if err := h.service.Freeze(c.Request.Context(), c.Param("userId"), req.Reason); err != nil {
		h.writeError(c, err, "freeze_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "frozen"})
}

// Unfreeze handles POST /v1/admin/wallets/:userId/unfreeze
func (h *Handler) Unfreeze(c *gin.Context) {
	if err := h.service.Unfreeze(c.Request.Context(), c.Param("userId")); err != nil {
		h.writeError(c, err, "unfreeze_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// VerifyKYC handles POST /v1/admin/wallets/:userId/kyc
func (h *Handler) VerifyKYC(c *gin.Context) {
	if err := h.service.VerifyKYC(c.Request.Context(), c.Param("userId")); err != nil {
		h.writeError(c, err, "kyc_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	code := fallback
	switch {
	case errors.Is(err, ErrWalletNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInsufficientBalance):
		status = http.StatusConflict
		code = "insufficient_balance"
	case errors.Is(err, ErrWalletFrozen):
		status = http.StatusConflict
		code = "wallet_frozen"
	case errors.Is(err, ErrWalletClosed):
		status = http.StatusConflict
		code = "wallet_closed"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, ErrNoPayoutMethod):
		status = http.StatusConflict
		code = "no_payout_method"
	case errors.Is(err, ErrPayoutFailed):
		status = http.StatusBadGateway
		code = "payout_failed"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
