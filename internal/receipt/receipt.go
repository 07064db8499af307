// Package receipt issues signed settlement receipts for completed
// transactions.
//
// A receipt breaks the order amount into the transporter subtotal, the
// platform fee, and VAT, and carries an HMAC signature so either party
// can later prove the platform issued it.
package receipt

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound  = errors.New("receipt not found")
	ErrInvalidState     = errors.New("invalid receipt state for this operation")
	ErrDuplicateReceipt = errors.New("transaction already has a receipt")
	ErrSigningDisabled  = errors.New("receipt signing disabled (no HMAC secret configured)")
)

// Status represents the receipt lifecycle.
type Status string

const (
	StatusDraft  Status = "DRAFT"  // computed, not yet delivered to the parties
	StatusIssued Status = "ISSUED" // signed and visible to both parties
	StatusPaid   Status = "PAID"   // settlement confirmed against the wallet ledger
)

// Receipt is an itemized, signed record of a settled transaction.
type Receipt struct {
	ID            string `json:"id"`
	Number        string `json:"number"` // human-facing, e.g. RCP-20260831-4F2A9C01
	TransactionID string `json:"transactionId"`
	EscrowID      string `json:"escrowId,omitempty"`
	FarmerID      string `json:"farmerId"`
	TransporterID string `json:"transporterId"`

	Subtotal    string `json:"subtotal"`    // transporter's share before fees
	PlatformFee string `json:"platformFee"` // marketplace commission
	Tax         string `json:"tax"`         // VAT on the platform fee
	Total       string `json:"total"`       // what the farmer paid
	Currency    string `json:"currency"`

	Status      Status     `json:"status"`
	PayloadHash string     `json:"payloadHash,omitempty"`
	Signature   string     `json:"signature,omitempty"`
	IssuedAt    *time.Time `json:"issuedAt,omitempty"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Store persists receipts.
type Store interface {
	Create(ctx context.Context, r *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	GetByTransaction(ctx context.Context, transactionID string) (*Receipt, error)
	Update(ctx context.Context, r *Receipt) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Receipt, error)
}

// VerifyResponse is the result of signature verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Error     string `json:"error,omitempty"`
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Currency      string `json:"currency"`
	FarmerID      string `json:"farmerId"`
	Number        string `json:"number"`
	PlatformFee   string `json:"platformFee"`
	Subtotal      string `json:"subtotal"`
	Tax           string `json:"tax"`
	Total         string `json:"total"`
	TransactionID string `json:"transactionId"`
	TransporterID string `json:"transporterId"`
}
