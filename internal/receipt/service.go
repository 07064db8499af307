package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/isoko-rw/isoko/internal/audit"
	"github.com/isoko-rw/isoko/internal/idgen"
	"github.com/isoko-rw/isoko/internal/money"
)

// Transactions lets the service attach the receipt to its transaction.
type Transactions interface {
	AttachReceipt(ctx context.Context, transactionID, receiptID string) error
}

// Service issues and verifies receipts.
type Service struct {
	store      Store
	signer     *Signer
	txns       Transactions
	recorder   *audit.Recorder
	logger     *slog.Logger
	feePercent int64
	taxPercent int64
}

// NewService creates a receipt service. feePercent is the marketplace
// commission on the order total; taxPercent is VAT applied to that fee.
func NewService(store Store, signer *Signer, txns Transactions, feePercent, taxPercent int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		signer:     signer,
		txns:       txns,
		logger:     logger,
		feePercent: feePercent,
		taxPercent: taxPercent,
	}
}

// WithRecorder attaches an audit recorder.
func (s *Service) WithRecorder(r *audit.Recorder) *Service {
	s.recorder = r
	return s
}

// CreateRequest is the input for drafting a receipt.
type CreateRequest struct {
	TransactionID string
	EscrowID      string
	FarmerID      string
	TransporterID string
	Total         string // the amount the farmer paid
	Currency      string
}

// Create drafts a receipt with the fee breakdown and attaches it to the
// transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Receipt, error) {
	breakdown, err := s.breakdown(req.Total)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r := &Receipt{
		ID:            idgen.WithPrefix("rcp_"),
		Number:        idgen.Reference("RCP"),
		TransactionID: req.TransactionID,
		EscrowID:      req.EscrowID,
		FarmerID:      req.FarmerID,
		TransporterID: req.TransporterID,
		Subtotal:      breakdown.subtotal,
		PlatformFee:   breakdown.fee,
		Tax:           breakdown.tax,
		Total:         breakdown.total,
		Currency:      req.Currency,
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	if s.txns != nil {
		if err := s.txns.AttachReceipt(ctx, req.TransactionID, r.ID); err != nil {
			s.logger.Warn("failed to attach receipt to transaction",
				"receipt_id", r.ID, "transaction_id", req.TransactionID, "error", err)
		}
	}

	s.record(ctx, r, "receipt.created")
	return r, nil
}

// Issue signs a draft receipt and makes it visible to both parties.
func (s *Service) Issue(ctx context.Context, id string) (*Receipt, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusDraft {
		return nil, ErrInvalidState
	}

	payload := payloadFor(r)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt payload: %w", err)
	}
	hash := sha256.Sum256(data)

	sig, err := s.signer.Sign(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r.Status = StatusIssued
	r.PayloadHash = fmt.Sprintf("%x", hash)
	r.Signature = sig
	r.IssuedAt = &now
	r.UpdatedAt = now

	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}

	s.record(ctx, r, "receipt.issued")
	s.logger.Info("receipt issued", "receipt_id", r.ID, "number", r.Number)
	return r, nil
}

// MarkPaid records that the settlement behind the receipt landed in the
// transporter's wallet.
func (s *Service) MarkPaid(ctx context.Context, id string) (*Receipt, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusIssued {
		return nil, ErrInvalidState
	}

	now := time.Now()
	r.Status = StatusPaid
	r.PaidAt = &now
	r.UpdatedAt = now

	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}

	s.record(ctx, r, "receipt.paid")
	return r, nil
}

// Verify re-computes the signature over the stored receipt fields.
func (s *Service) Verify(ctx context.Context, id string) (*VerifyResponse, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Signature == "" {
		return &VerifyResponse{Valid: false, ReceiptID: id, Error: "receipt was never issued"}, nil
	}
	if s.signer == nil {
		return &VerifyResponse{Valid: false, ReceiptID: id, Error: ErrSigningDisabled.Error()}, nil
	}

	valid := s.signer.Verify(payloadFor(r), r.Signature)
	resp := &VerifyResponse{Valid: valid, ReceiptID: id}
	if !valid {
		resp.Error = "signature mismatch"
	}
	return resp, nil
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// GetByTransaction returns the receipt for a transaction.
func (s *Service) GetByTransaction(ctx context.Context, transactionID string) (*Receipt, error) {
	return s.store.GetByTransaction(ctx, transactionID)
}

// ListByUser returns receipts where the user is farmer or transporter.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

type feeBreakdown struct {
	total    string
	fee      string
	tax      string
	subtotal string
}

// breakdown splits the order total: the platform takes feePercent of the
// total, VAT applies to that fee, and the transporter gets the rest.
func (s *Service) breakdown(total string) (*feeBreakdown, error) {
	units, ok := money.ParsePositive(total)
	if !ok {
		return nil, fmt.Errorf("invalid receipt total %q", total)
	}

	hundred := big.NewInt(100)
	fee := new(big.Int).Div(new(big.Int).Mul(units, big.NewInt(s.feePercent)), hundred)
	tax := new(big.Int).Div(new(big.Int).Mul(fee, big.NewInt(s.taxPercent)), hundred)
	subtotal := new(big.Int).Sub(units, new(big.Int).Add(fee, tax))
	if subtotal.Sign() <= 0 {
		return nil, fmt.Errorf("fees exceed receipt total %q", total)
	}

	return &feeBreakdown{
		total:    money.Format(units),
		fee:      money.Format(fee),
		tax:      money.Format(tax),
		subtotal: money.Format(subtotal),
	}, nil
}

func payloadFor(r *Receipt) receiptPayload {
	return receiptPayload{
		Currency:      r.Currency,
		FarmerID:      r.FarmerID,
		Number:        r.Number,
		PlatformFee:   r.PlatformFee,
		Subtotal:      r.Subtotal,
		Tax:           r.Tax,
		Total:         r.Total,
		TransactionID: r.TransactionID,
		TransporterID: r.TransporterID,
	}
}

func (s *Service) record(ctx context.Context, r *Receipt, action string) {
	s.recorder.Record(ctx, &audit.Entry{
		EntityType: "receipt",
		EntityID:   r.ID,
		Action:     action,
		Amount:     r.Total,
		Reference:  r.Number,
		AfterState: audit.Snapshot(map[string]string{"status": string(r.Status)}),
		Success:    true,
	})
}
