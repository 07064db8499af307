package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/isoko-rw/isoko/internal/audit"
	"github.com/isoko-rw/isoko/internal/idgen"
	"github.com/isoko-rw/isoko/internal/money"
	"github.com/isoko-rw/isoko/internal/retry"
)

// Service implements escrow business logic.
type Service struct {
	store      Store
	ledger     Ledger
	txns       Transactions
	recorder   *audit.Recorder
	logger     *slog.Logger
	holdPeriod time.Duration
	locks      sync.Map // per-escrow ID locks, settlement and sweeper may race
}

// NewService creates an escrow service.
func NewService(store Store, ledger Ledger, txns Transactions, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		ledger:     ledger,
		txns:       txns,
		logger:     logger,
		holdPeriod: DefaultHoldPeriod,
	}
}

// WithHoldPeriod overrides the default auto-release hold period.
func (s *Service) WithHoldPeriod(d time.Duration) *Service {
	if d > 0 {
		s.holdPeriod = d
	}
	return s
}

// WithRecorder attaches an audit recorder.
func (s *Service) WithRecorder(r *audit.Recorder) *Service {
	s.recorder = r
	return s
}

// escrowLock returns a mutex for the given escrow ID.
func (s *Service) escrowLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create places a confirmed transaction's funds in escrow. The conditional
// transition to ESCROW_HELD decides the winner when two creators race;
// everything after it is compensated on failure.
func (s *Service) Create(ctx context.Context, transactionID string) (*Escrow, error) {
	info, err := s.txns.Info(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if err := s.txns.MarkEscrowHeld(ctx, transactionID); err != nil {
		if cur, ierr := s.txns.Info(ctx, transactionID); ierr == nil {
			if cur.Held {
				return nil, ErrDuplicateEscrow
			}
			if !cur.Confirmed {
				return nil, ErrTransactionNotConfirmed
			}
		}
		return nil, err
	}

	now := time.Now()
	e := &Escrow{
		ID:            idgen.WithPrefix("esc_"),
		TransactionID: transactionID,
		OrderID:       info.OrderID,
		FarmerID:      info.FarmerID,
		TransporterID: info.TransporterID,
		Amount:        info.Amount,
		Currency:      info.Currency,
		Status:        StatusHeld,
		HeldUntil:     now.Add(s.holdPeriod),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.ledger.Hold(ctx, e.FarmerID, e.Amount, e.ID); err != nil {
		_ = s.txns.RevertToConfirmed(ctx, transactionID)
		return nil, fmt.Errorf("failed to hold escrow funds: %w", err)
	}

	if err := s.store.Create(ctx, e); err != nil {
		// Best-effort compensation: give the farmer their money back and
		// put the transaction back where it was.
		_ = s.ledger.ReverseHold(ctx, e.FarmerID, e.Amount, e.ID)
		_ = s.txns.RevertToConfirmed(ctx, transactionID)
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	_ = s.txns.AttachEscrow(ctx, transactionID, e.ID)

	s.record(ctx, e, "escrow.created", "")
	s.logger.Info("escrow hold created",
		"escrow_id", e.ID, "transaction_id", transactionID,
		"amount", e.Amount, "held_until", e.HeldUntil)
	return e, nil
}

// Release pays the held amount out to the transporter. Allowed from HELD
// (delivery confirmed or hold expired) and from DISPUTED (resolved in the
// transporter's favour).
func (s *Service) Release(ctx context.Context, id, reason string) (*Escrow, error) {
	return s.release(ctx, id, reason, "released")
}

func (s *Service) release(ctx context.Context, id, reason, resolution string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.IsTerminal() {
		return nil, ErrInvalidEscrowState
	}
	from := []Status{StatusHeld, StatusDisputed}
	if resolution == "auto_released" {
		// The sweeper must never settle a disputed hold.
		from = []Status{StatusHeld}
		if e.Status != StatusHeld {
			return nil, ErrInvalidEscrowState
		}
	}

	if err := s.ledger.Release(ctx, e.TransporterID, e.Amount, e.ID); err != nil {
		return nil, fmt.Errorf("failed to release escrow funds: %w", err)
	}

	now := time.Now()
	e.Status = StatusReleased
	e.Resolution = resolution
	e.ResolvedAt = &now
	e.UpdatedAt = now

	if err := s.persistSettled(ctx, e, from); err != nil {
		return nil, err
	}

	s.completeTransaction(ctx, e, reason)
	s.record(ctx, e, "escrow.released", "")
	s.logger.Info("escrow released",
		"escrow_id", e.ID, "transporter_id", e.TransporterID, "amount", e.Amount, "resolution", resolution)
	return e, nil
}

// Refund returns the held amount to the farmer. Allowed from HELD and
// from DISPUTED (resolved in the farmer's favour).
func (s *Service) Refund(ctx context.Context, id, reason string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.IsTerminal() {
		return nil, ErrInvalidEscrowState
	}

	if err := s.ledger.Refund(ctx, e.FarmerID, e.Amount, e.ID); err != nil {
		return nil, fmt.Errorf("failed to refund escrow: %w", err)
	}

	now := time.Now()
	e.Status = StatusRefunded
	e.Resolution = "refunded"
	e.ResolvedAt = &now
	e.UpdatedAt = now

	if err := s.persistSettled(ctx, e, []Status{StatusHeld, StatusDisputed}); err != nil {
		return nil, err
	}

	s.markTransaction(ctx, e, "refund", reason)
	s.record(ctx, e, "escrow.refunded", "")
	s.logger.Info("escrow refunded",
		"escrow_id", e.ID, "farmer_id", e.FarmerID, "amount", e.Amount)
	return e, nil
}

// Dispute freezes a HELD escrow pending resolution. No money moves.
// raisedByRole records which side of the delivery froze the hold.
func (s *Service) Dispute(ctx context.Context, id, reason, raisedByRole string) (*Escrow, error) {
	if !ValidRole(raisedByRole) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, raisedByRole)
	}

	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusHeld {
		return nil, ErrInvalidEscrowState
	}

	now := time.Now()
	e.Status = StatusDisputed
	e.DisputeReason = reason
	e.DisputedBy = raisedByRole
	e.DisputedAt = &now
	e.UpdatedAt = now

	if err := s.store.UpdateStatusFrom(ctx, e, []Status{StatusHeld}); err != nil {
		return nil, err
	}

	s.markTransaction(ctx, e, "dispute", reason)
	s.record(ctx, e, "escrow.disputed", reason)
	s.logger.Info("escrow disputed", "escrow_id", e.ID, "raised_by_role", raisedByRole, "reason", reason)
	return e, nil
}

// ResolvePartial settles a DISPUTED escrow with a split: refundAmount goes
// back to the farmer, the remainder is released to the transporter.
func (s *Service) ResolvePartial(ctx context.Context, id, refundAmount, reason string) (*Escrow, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusDisputed {
		return nil, ErrInvalidEscrowState
	}

	refundAmount = money.Normalize(refundAmount)
	releaseAmount, ok := money.Sub(e.Amount, refundAmount)
	if !ok {
		return nil, fmt.Errorf("%w: refund %s exceeds held amount %s", ErrInvalidAmount, refundAmount, e.Amount)
	}
	if cmp, ok := money.Cmp(refundAmount, "0"); !ok || cmp <= 0 {
		return nil, fmt.Errorf("%w: partial refund must be positive", ErrInvalidAmount)
	}
	if cmp, _ := money.Cmp(releaseAmount, "0"); cmp <= 0 {
		return nil, fmt.Errorf("%w: partial refund must be below the held amount", ErrInvalidAmount)
	}

	if err := s.ledger.Refund(ctx, e.FarmerID, refundAmount, e.ID); err != nil {
		return nil, fmt.Errorf("failed to refund farmer share: %w", err)
	}
	err = retry.Do(ctx, 2, 100*time.Millisecond, func() error {
		return s.ledger.Release(ctx, e.TransporterID, releaseAmount, e.ID)
	})
	if err != nil {
		// The farmer's share already moved. Leave the hold DISPUTED and
		// flag it; reversing the refund here could lose money twice.
		s.logger.Error("CRITICAL: partial refund paid but transporter share failed, manual resolution required",
			"escrow_id", e.ID, "refunded", refundAmount, "unpaid_release", releaseAmount, "error", err)
		return nil, fmt.Errorf("failed to release transporter share (requires manual resolution): %w", err)
	}

	now := time.Now()
	e.Status = StatusRefunded
	e.Resolution = "partial_refund"
	e.PartialRefundAmount = refundAmount
	e.PartialReleaseAmount = releaseAmount
	e.ResolvedAt = &now
	e.UpdatedAt = now

	if err := s.persistSettled(ctx, e, []Status{StatusDisputed}); err != nil {
		return nil, err
	}

	s.markTransaction(ctx, e, "refund", reason)
	s.record(ctx, e, "escrow.partial_refund", reason)
	s.logger.Info("escrow partially refunded",
		"escrow_id", e.ID, "refunded", e.PartialRefundAmount, "released", e.PartialReleaseAmount)
	return e, nil
}

// SweepResult reports the outcome of one auto-release attempt.
type SweepResult struct {
	EscrowID string
	Released bool
	Err      error
}

// AutoReleaseExpired releases HELD escrows whose hold period has lapsed.
// Disputed holds are never swept.
func (s *Service) AutoReleaseExpired(ctx context.Context, now time.Time, batch int) []SweepResult {
	if batch <= 0 {
		batch = 100
	}
	expired, err := s.store.ListExpired(ctx, now, batch)
	if err != nil {
		s.logger.Warn("failed to list expired escrows", "error", err)
		return nil
	}

	results := make([]SweepResult, 0, len(expired))
	for _, e := range expired {
		_, err := s.release(ctx, e.ID, "auto-released after hold period expired", "auto_released")
		results = append(results, SweepResult{EscrowID: e.ID, Released: err == nil, Err: err})
	}
	return results
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// GetByTransaction returns the escrow holding a transaction's funds.
func (s *Service) GetByTransaction(ctx context.Context, transactionID string) (*Escrow, error) {
	return s.store.GetByTransaction(ctx, transactionID)
}

// ListByUser returns escrows involving a user as farmer or transporter.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ListByStatus returns escrows in a given state, newest first.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}

// persistSettled writes a settled escrow. The money has already moved, so
// on failure it retries once and then logs for manual resolution rather
// than guessing at a compensation.
func (s *Service) persistSettled(ctx context.Context, e *Escrow, from []Status) error {
	if err := s.store.UpdateStatusFrom(ctx, e, from); err != nil {
		if retryErr := s.store.UpdateStatusFrom(ctx, e, from); retryErr != nil {
			s.logger.Error("CRITICAL: escrow funds moved but status update failed, manual resolution required",
				"escrow_id", e.ID, "status", e.Status, "error", retryErr)
			return fmt.Errorf("failed to update escrow after settlement (requires manual resolution): %w", err)
		}
	}
	return nil
}

// completeTransaction moves the underlying transaction to COMPLETED after
// a release. Best effort with one retry; the escrow record is already
// settled, so a stale transaction status is logged, not reversed.
func (s *Service) completeTransaction(ctx context.Context, e *Escrow, reason string) {
	err := retry.Do(ctx, 2, 100*time.Millisecond, func() error {
		return s.txns.Complete(ctx, e.TransactionID, reason)
	})
	if err != nil {
		s.logger.Error("CRITICAL: escrow settled but transaction completion failed",
			"escrow_id", e.ID, "transaction_id", e.TransactionID, "error", err)
	}
}

func (s *Service) markTransaction(ctx context.Context, e *Escrow, kind, reason string) {
	var err error
	switch kind {
	case "refund":
		err = s.txns.MarkRefunded(ctx, e.TransactionID, reason)
	case "dispute":
		err = s.txns.MarkDisputed(ctx, e.TransactionID, reason)
	}
	if err != nil {
		s.logger.Warn("failed to update transaction status after escrow change",
			"escrow_id", e.ID, "transaction_id", e.TransactionID, "kind", kind, "error", err)
	}
}

func (s *Service) record(ctx context.Context, e *Escrow, action, errMsg string) {
	s.recorder.Record(ctx, &audit.Entry{
		EntityType: "escrow",
		EntityID:   e.ID,
		Action:     action,
		Amount:     e.Amount,
		Reference:  e.TransactionID,
		AfterState: audit.Snapshot(map[string]string{
			"status":     string(e.Status),
			"resolution": e.Resolution,
		}),
		Success:      true,
		ErrorMessage: errMsg,
	})
}
