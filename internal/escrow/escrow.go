// Package escrow holds farmer payments until delivery is settled.
//
// Flow:
//  1. Payment confirmed → farmer's wallet debited, hold created
//  2. Delivery confirmed (or hold period expires) → transporter paid
//  3. Farmer disputes → hold frozen until an admin resolves it
//  4. Resolution → full release, full refund, or a partial refund split
package escrow

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEscrowNotFound          = errors.New("escrow not found")
	ErrInvalidEscrowState      = errors.New("invalid escrow state for this operation")
	ErrDuplicateEscrow         = errors.New("transaction already has an escrow hold")
	ErrTransactionNotConfirmed = errors.New("transaction payment is not confirmed")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidRole             = errors.New("invalid dispute role")
)

// Roles that can raise a dispute against a hold.
const (
	RoleFarmer      = "farmer"
	RoleTransporter = "transporter"
)

// ValidRole reports whether role can dispute an escrow.
func ValidRole(role string) bool {
	return role == RoleFarmer || role == RoleTransporter
}

// Status represents the state of an escrow hold.
type Status string

const (
	StatusHeld     Status = "HELD"     // funds debited from the farmer, waiting on delivery
	StatusReleased Status = "RELEASED" // transporter paid
	StatusRefunded Status = "REFUNDED" // farmer repaid (fully or partially)
	StatusDisputed Status = "DISPUTED" // frozen pending resolution
)

// DefaultHoldPeriod is how long a hold waits after creation before the
// sweeper releases it to the transporter.
const DefaultHoldPeriod = 24 * time.Hour

// Escrow is a hold on a transaction's funds.
type Escrow struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	OrderID       string     `json:"orderId"`
	FarmerID      string     `json:"farmerId"`
	TransporterID string     `json:"transporterId"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Status        Status     `json:"status"`
	HeldUntil     time.Time  `json:"heldUntil"`
	DisputedAt    *time.Time `json:"disputedAt,omitempty"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
	DisputeReason string     `json:"disputeReason,omitempty"`
	DisputedBy    string     `json:"disputedBy,omitempty"` // farmer or transporter
	Resolution    string     `json:"resolution,omitempty"`

	// Set when a dispute resolves with a split: the refund goes back to
	// the farmer and the remainder is released to the transporter.
	PartialReleaseAmount string `json:"partialReleaseAmount,omitempty"`
	PartialRefundAmount  string `json:"partialRefundAmount,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal returns true if the hold has been settled.
func (e *Escrow) IsTerminal() bool {
	switch e.Status {
	case StatusReleased, StatusRefunded:
		return true
	}
	return false
}

// Store persists escrow data.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	GetByTransaction(ctx context.Context, transactionID string) (*Escrow, error)
	// UpdateStatusFrom writes e's mutable fields only if the stored status
	// is one of from. A guard miss on an existing row returns
	// ErrInvalidEscrowState.
	UpdateStatusFrom(ctx context.Context, e *Escrow, from []Status) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Escrow, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error)
	// ListExpired returns HELD escrows whose hold period lapsed before the
	// given time.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
}

// Ledger abstracts wallet movements so escrow doesn't import wallet.
type Ledger interface {
	// Hold debits the farmer's wallet for the escrow amount.
	Hold(ctx context.Context, farmerID, amount, reference string) error
	// ReverseHold undoes a hold when a later step fails.
	ReverseHold(ctx context.Context, farmerID, amount, reference string) error
	// Release credits the transporter's earnings.
	Release(ctx context.Context, transporterID, amount, reference string) error
	// Refund credits the held amount back to the farmer.
	Refund(ctx context.Context, farmerID, amount, reference string) error
}

// TxnInfo is the slice of a transaction the escrow service needs.
type TxnInfo struct {
	ID            string
	OrderID       string
	FarmerID      string
	TransporterID string
	Amount        string
	Currency      string
	Status        string
	Confirmed     bool // payment confirmed, no hold yet
	Held          bool // already in or past ESCROW_HELD
}

// Transactions abstracts the transaction lifecycle so escrow doesn't
// import payment. MarkEscrowHeld is a conditional transition and acts as
// the linearization point for hold creation.
type Transactions interface {
	Info(ctx context.Context, id string) (*TxnInfo, error)
	MarkEscrowHeld(ctx context.Context, id string) error
	RevertToConfirmed(ctx context.Context, id string) error
	Complete(ctx context.Context, id, reason string) error
	MarkDisputed(ctx context.Context, id, reason string) error
	MarkRefunded(ctx context.Context, id, reason string) error
	AttachEscrow(ctx context.Context, id, escrowID string) error
}
