// Package payment manages the delivery transaction lifecycle.
//
// A transaction moves through a fixed settlement pipeline:
//
//	INITIATED → PAYMENT_PROCESSING → PAYMENT_CONFIRMED → ESCROW_HELD
//	  → IN_TRANSIT → DELIVERED → COMPLETED
//
// with FAILED, CANCELLED, DISPUTED and REFUNDED as exit states. Status
// changes are conditional updates: a writer names the states it expects
// to move from, and loses cleanly if another writer got there first.
package payment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrDuplicateReference  = errors.New("payment reference already exists")
	ErrValidation          = errors.New("validation failed")

	// ErrInvalidStateForCancel rejects a cancel once the payment is
	// confirmed and the escrow path has taken over.
	ErrInvalidStateForCancel = errors.New("transaction can no longer be cancelled")

	// ErrProvider wraps payment provider failures. Provider errors leave
	// the transaction in its current state so the caller can retry.
	ErrProvider = errors.New("payment provider error")
)

// Status is a transaction lifecycle state.
type Status string

const (
	StatusInitiated         Status = "INITIATED"
	StatusPaymentProcessing Status = "PAYMENT_PROCESSING"
	StatusPaymentConfirmed  Status = "PAYMENT_CONFIRMED"
	StatusEscrowHeld        Status = "ESCROW_HELD"
	StatusInTransit         Status = "IN_TRANSIT"
	StatusDelivered         Status = "DELIVERED"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusDisputed          Status = "DISPUTED"
	StatusRefunded          Status = "REFUNDED"
)

// transitions is the legal next-state set for each state. Terminal
// states have no entry.
var transitions = map[Status][]Status{
	StatusInitiated:         {StatusPaymentProcessing, StatusCancelled},
	StatusPaymentProcessing: {StatusPaymentConfirmed, StatusFailed, StatusCancelled},
	StatusPaymentConfirmed:  {StatusEscrowHeld},
	StatusEscrowHeld:        {StatusInTransit, StatusDelivered, StatusCompleted, StatusDisputed, StatusRefunded},
	StatusInTransit:         {StatusDelivered, StatusCompleted, StatusDisputed, StatusRefunded},
	StatusDelivered:         {StatusCompleted, StatusDisputed, StatusRefunded},
	StatusDisputed:          {StatusCompleted, StatusRefunded},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Method is how the farmer pays.
type Method string

const (
	MethodMoMo   Method = "momo"
	MethodAirtel Method = "airtel"
	MethodCard   Method = "card"
	MethodBank   Method = "bank"
)

// ValidMethod reports whether m is a supported payment method.
func ValidMethod(m Method) bool {
	switch m {
	case MethodMoMo, MethodAirtel, MethodCard, MethodBank:
		return true
	}
	return false
}

// Transaction is one paid delivery from farmer to transporter.
type Transaction struct {
	ID            string `json:"id"`
	FarmerID      string `json:"farmerId"`
	TransporterID string `json:"transporterId"`
	OrderID       string `json:"orderId"`
	CropID        string `json:"cropId,omitempty"`

	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Method   Method `json:"paymentMethod"`

	CargoDescription  string     `json:"cargoDescription,omitempty"`
	PickupLocation    string     `json:"pickupLocation,omitempty"`
	DropoffLocation   string     `json:"dropoffLocation,omitempty"`
	PickupTime        *time.Time `json:"pickupTime,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDeliveryTime,omitempty"`
	ActualDelivery    *time.Time `json:"actualDeliveryTime,omitempty"`

	Status       Status `json:"status"`
	StatusReason string `json:"statusReason,omitempty"`

	PaymentReference string `json:"paymentReference"`
	TrackingNumber   string `json:"trackingNumber"`
	ProviderRef      string `json:"providerRef,omitempty"`
	EscrowID         string `json:"escrowId,omitempty"`
	ReceiptID        string `json:"receiptId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists transactions.
//
// SetStatusFrom is the concurrency primitive: it atomically moves the
// transaction to `to` only if its current status is one of `from`,
// recording `reason` when given. On a guard miss it returns the current
// row together with ErrInvalidTransition.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	SetStatusFrom(ctx context.Context, id string, from []Status, to Status, reason string) (*Transaction, error)
	SetDelivered(ctx context.Context, id string, at time.Time) (*Transaction, error)
	AttachEscrow(ctx context.Context, id, escrowID string) error
	AttachReceipt(ctx context.Context, id, receiptID string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Transaction, error)
}

// ProviderStatus is the normalized state of an external payment.
type ProviderStatus string

const (
	ProviderPending   ProviderStatus = "PENDING"
	ProviderSucceeded ProviderStatus = "SUCCESSFUL"
	ProviderFailed    ProviderStatus = "FAILED"
)

// CollectionProvider charges the farmer (request-to-pay).
type CollectionProvider interface {
	// InitiateCollection starts a charge against payerHandle (MSISDN or
	// card payment method ID) and returns the provider's reference.
	InitiateCollection(ctx context.Context, amount, currency, payerHandle, reference string) (providerRef string, status ProviderStatus, err error)
	// CollectionStatus polls the charge state.
	CollectionStatus(ctx context.Context, providerRef string) (ProviderStatus, error)
}
