// Package wallet tracks marketplace participant balances.
//
// Flow:
//  1. Farmer pays for a delivery, wallet is debited into escrow
//  2. Escrow release credits the transporter's wallet
//  3. Refunds credit the farmer's wallet back
//  4. Transporters withdraw earnings to mobile money
//
// Balances satisfy: balance = total_earned - total_spent + total_refunded.
// Every mutation goes through Credit/Debit/Reverse so the lifetime totals
// and the balance move together.
package wallet

import (
	"context"
	"errors"
	"time"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWalletFrozen        = errors.New("wallet is frozen")
	ErrWalletClosed        = errors.New("wallet is closed")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidKind         = errors.New("invalid entry kind")
	ErrNoPayoutMethod      = errors.New("no payout method on file")
	ErrPayoutFailed        = errors.New("payout failed")
)

// Status is the wallet account status.
type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
	StatusClosed Status = "closed"
)

// Kind classifies which lifetime total a movement belongs to.
type Kind string

const (
	KindEarned   Kind = "earned"   // credits from escrow releases
	KindSpent    Kind = "spent"    // debits into escrow and withdrawals
	KindRefunded Kind = "refunded" // credits from escrow refunds
)

// Wallet is a participant's balance account.
type Wallet struct {
	UserID        string     `json:"userId"`
	Balance       string     `json:"balance"`
	Currency      string     `json:"currency"`
	TotalEarned   string     `json:"totalEarned"`
	TotalSpent    string     `json:"totalSpent"`
	TotalRefunded string     `json:"totalRefunded"`
	Status        Status     `json:"status"`
	MoMoNumber    string     `json:"momoNumber,omitempty"`
	AirtelNumber  string     `json:"airtelNumber,omitempty"`
	BankAccount   string     `json:"bankAccount,omitempty"`
	KYCVerified   bool       `json:"kycVerified"`
	KYCVerifiedAt *time.Time `json:"kycVerifiedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Entry is a single wallet movement.
type Entry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Direction   string    `json:"direction"` // "credit", "debit", "reversal"
	Kind        Kind      `json:"kind"`
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference,omitempty"` // escrow ID, payout reference, etc.
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists wallet data.
//
// Credit, Debit and Reverse must be atomic: the balance, the lifetime
// total for the kind, and the movement entry change together or not at
// all. Debit additionally enforces active status and sufficient balance
// as part of the same atomic step.
type Store interface {
	Get(ctx context.Context, userID string) (*Wallet, error)
	Create(ctx context.Context, w *Wallet) error
	Credit(ctx context.Context, userID, amount string, kind Kind, reference, description string) error
	Debit(ctx context.Context, userID, amount string, kind Kind, reference, description string) error
	Reverse(ctx context.Context, userID, amount string, kind Kind, reference, description string) error
	SetStatus(ctx context.Context, userID string, status Status) error
	SetPayoutDetails(ctx context.Context, userID, momo, airtel, bank string) error
	SetKYCVerified(ctx context.Context, userID string, at time.Time) error
	History(ctx context.Context, userID string, limit int) ([]*Entry, error)
}
