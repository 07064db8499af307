// Package dispute manages dispute cases over escrowed transactions.
//
// A case tracks the review workflow; the money itself stays in escrow
// and moves only when the case is resolved.
package dispute

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCaseNotFound      = errors.New("dispute case not found")
	ErrInvalidCaseState  = errors.New("invalid dispute case state for this operation")
	ErrDuplicateCase     = errors.New("escrow already has a dispute case")
	ErrInvalidResolution = errors.New("invalid dispute resolution")
)

// Status represents the state of a dispute case.
type Status string

const (
	StatusOpen        Status = "OPEN"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusResolved    Status = "RESOLVED"
	StatusClosed      Status = "CLOSED"
)

// Resolution is the settlement outcome of a resolved case.
type Resolution string

const (
	ResolutionReleased      Resolution = "RELEASED"       // transporter paid in full
	ResolutionRefunded      Resolution = "REFUNDED"       // farmer repaid in full
	ResolutionPartialRefund Resolution = "PARTIAL_REFUND" // split between the two
)

// Case is a dispute raised against an escrowed transaction.
type Case struct {
	ID             string     `json:"id"`
	EscrowID       string     `json:"escrowId"`
	TransactionID  string     `json:"transactionId"`
	OrderID        string     `json:"orderId"`
	RaisedBy       string     `json:"raisedBy"`
	RaisedByRole   string     `json:"raisedByRole"` // farmer or transporter
	Reason         string     `json:"reason"`
	Evidence       []string   `json:"evidence,omitempty"`
	Status         Status     `json:"status"`
	ReviewedBy     string     `json:"reviewedBy,omitempty"`
	Resolution     Resolution `json:"resolution,omitempty"`
	ResolutionNote string     `json:"resolutionNote,omitempty"`
	RefundAmount   string     `json:"refundAmount,omitempty"` // set for partial refunds
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Store persists dispute cases.
type Store interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, id string) (*Case, error)
	GetByEscrow(ctx context.Context, escrowID string) (*Case, error)
	// UpdateStatusFrom writes c's mutable fields only if the stored status
	// is one of from. A guard miss on an existing row returns
	// ErrInvalidCaseState.
	UpdateStatusFrom(ctx context.Context, c *Case, from []Status) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Case, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Case, error)
}
