package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/isoko-rw/isoko/internal/audit"
	"github.com/isoko-rw/isoko/internal/idgen"
	"github.com/isoko-rw/isoko/internal/money"
)

// PayoutProvider disburses wallet funds to an external account
// (mobile money number, bank account). Returns a provider reference.
type PayoutProvider interface {
	InitiatePayout(ctx context.Context, amount, currency, payeeHandle, reference string) (string, error)
}

// Service wraps a Store with validation, auto-creation, auditing and payouts.
type Service struct {
	store    Store
	currency string
	recorder *audit.Recorder
	payouts  PayoutProvider
	logger   *slog.Logger
}

// NewService creates a wallet service.
func NewService(store Store, currency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, currency: currency, logger: logger}
}

// WithRecorder attaches an audit recorder.
func (s *Service) WithRecorder(r *audit.Recorder) *Service {
	s.recorder = r
	return s
}

// WithPayoutProvider attaches a disbursement provider for withdrawals.
func (s *Service) WithPayoutProvider(p PayoutProvider) *Service {
	s.payouts = p
	return s
}

// GetOrCreate returns the user's wallet, creating an empty active wallet
// on first touch. Marketplace users get wallets lazily, not at signup.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*Wallet, error) {
	w, err := s.store.Get(ctx, userID)
	if err == nil {
		return w, nil
	}
	if err != ErrWalletNotFound {
		return nil, err
	}

	fresh := &Wallet{
		UserID:        userID,
		Balance:       "0.00",
		Currency:      s.currency,
		TotalEarned:   "0.00",
		TotalSpent:    "0.00",
		TotalRefunded: "0.00",
		Status:        StatusActive,
	}
	if err := s.store.Create(ctx, fresh); err != nil {
		// Lost a creation race; the other writer's wallet wins.
		if w, getErr := s.store.Get(ctx, userID); getErr == nil {
			return w, nil
		}
		return nil, err
	}
	return fresh, nil
}

// Get returns a wallet without creating one.
func (s *Service) Get(ctx context.Context, userID string) (*Wallet, error) {
	return s.store.Get(ctx, userID)
}

// Credit adds funds to a wallet, creating it if needed.
func (s *Service) Credit(ctx context.Context, userID, amount string, kind Kind, reference, description string) error {
	if _, ok := money.ParsePositive(amount); !ok {
		return ErrInvalidAmount
	}
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Credit(ctx, userID, amount, kind, reference, description); err != nil {
		return err
	}
	s.record(ctx, userID, "wallet.credited", amount, reference, true, "")
	return nil
}

// Debit removes funds from a wallet. The wallet must exist, be active,
// and hold at least the amount; failed attempts are audited too.
func (s *Service) Debit(ctx context.Context, userID, amount string, kind Kind, reference, description string) error {
	if _, ok := money.ParsePositive(amount); !ok {
		return ErrInvalidAmount
	}
	if err := s.store.Debit(ctx, userID, amount, kind, reference, description); err != nil {
		s.record(ctx, userID, "wallet.debit_failed", amount, reference, false, err.Error())
		return err
	}
	s.record(ctx, userID, "wallet.debited", amount, reference, true, "")
	return nil
}

// Reverse undoes an earlier movement, shrinking the matching lifetime total.
func (s *Service) Reverse(ctx context.Context, userID, amount string, kind Kind, reference, description string) error {
	if err := s.store.Reverse(ctx, userID, amount, kind, reference, description); err != nil {
		return err
	}
	s.record(ctx, userID, "wallet.reversed", amount, reference, true, "")
	return nil
}

// TopUp credits externally deposited funds (mobile money collection).
func (s *Service) TopUp(ctx context.Context, userID, amount, reference string) error {
	if reference == "" {
		reference = idgen.Reference("TOP")
	}
	return s.Credit(ctx, userID, amount, KindEarned, reference, "wallet top-up")
}

// Withdraw debits the wallet and disburses to the user's mobile money
// number. The debit is reversed if the disbursement cannot be initiated.
func (s *Service) Withdraw(ctx context.Context, userID, amount string) (string, error) {
	w, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}

	payee := w.MoMoNumber
	if payee == "" {
		payee = w.AirtelNumber
	}
	if payee == "" {
		return "", ErrNoPayoutMethod
	}
	if s.payouts == nil {
		return "", fmt.Errorf("%w: no payout provider configured", ErrPayoutFailed)
	}

	reference := idgen.Reference("WDR")
	if err := s.Debit(ctx, userID, amount, KindSpent, reference, "withdrawal to "+MaskHandle(payee)); err != nil {
		return "", err
	}

	providerRef, err := s.payouts.InitiatePayout(ctx, amount, w.Currency, payee, reference)
	if err != nil {
		// Money never left the platform; put it back.
		if revErr := s.Reverse(ctx, userID, amount, KindSpent, reference, "withdrawal reversal"); revErr != nil {
			s.logger.Error("CRITICAL: failed to reverse debit after payout failure, manual resolution required",
				"user_id", userID, "amount", amount, "reference", reference, "error", revErr)
		}
		s.record(ctx, userID, "wallet.withdrawal_failed", amount, reference, false, err.Error())
		return "", fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}

	s.record(ctx, userID, "wallet.withdrawal", amount, reference, true, "")
	return providerRef, nil
}

// Freeze blocks debits from a wallet.
func (s *Service) Freeze(ctx context.Context, userID, reason string) error {
	if err := s.store.SetStatus(ctx, userID, StatusFrozen); err != nil {
		return err
	}
	s.record(ctx, userID, "wallet.frozen", "", reason, true, "")
	return nil
}

// Unfreeze restores an account to active.
func (s *Service) Unfreeze(ctx context.Context, userID string) error {
	if err := s.store.SetStatus(ctx, userID, StatusActive); err != nil {
		return err
	}
	s.record(ctx, userID, "wallet.unfrozen", "", "", true, "")
	return nil
}

// UpdatePayoutDetails records the user's linked mobile money / bank handles.
func (s *Service) UpdatePayoutDetails(ctx context.Context, userID, momo, airtel, bank string) error {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	if err := s.store.SetPayoutDetails(ctx, userID, momo, airtel, bank); err != nil {
		return err
	}
	s.record(ctx, userID, "wallet.payout_details_updated", "", "", true, "")
	return nil
}

// VerifyKYC marks a wallet as KYC-verified.
func (s *Service) VerifyKYC(ctx context.Context, userID string) error {
	if err := s.store.SetKYCVerified(ctx, userID, time.Now()); err != nil {
		return err
	}
	s.record(ctx, userID, "wallet.kyc_verified", "", "", true, "")
	return nil
}

// Statement is a wallet summary plus recent movements, with linked
// account handles masked for display.
type Statement struct {
	Wallet       *Wallet  `json:"wallet"`
	MaskedMoMo   string   `json:"maskedMomo,omitempty"`
	MaskedAirtel string   `json:"maskedAirtel,omitempty"`
	MaskedBank   string   `json:"maskedBank,omitempty"`
	Entries      []*Entry `json:"entries"`
}

// Statement returns the wallet with recent history. The full handles are
// stripped from the embedded wallet; only masked forms are exposed.
func (s *Service) Statement(ctx context.Context, userID string, limit int) (*Statement, error) {
	w, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.History(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	st := &Statement{
		Wallet:       w,
		MaskedMoMo:   MaskHandle(w.MoMoNumber),
		MaskedAirtel: MaskHandle(w.AirtelNumber),
		MaskedBank:   MaskHandle(w.BankAccount),
		Entries:      entries,
	}
	w.MoMoNumber = ""
	w.AirtelNumber = ""
	w.BankAccount = ""
	return st, nil
}

// MaskHandle hides all but the last 3 characters of an account handle.
func MaskHandle(handle string) string {
	if handle == "" {
		return ""
	}
	if len(handle) <= 3 {
		return strings.Repeat("*", len(handle))
	}
	return strings.Repeat("*", len(handle)-3) + handle[len(handle)-3:]
}

func (s *Service) record(ctx context.Context, userID, action, amount, reference string, success bool, errMsg string) {
	s.recorder.Record(ctx, &audit.Entry{
		EntityType:   "wallet",
		EntityID:     userID,
		Action:       action,
		Amount:       amount,
		Reference:    reference,
		Success:      success,
		ErrorMessage: errMsg,
	})
}
