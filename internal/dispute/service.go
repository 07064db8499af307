package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/isoko-rw/isoko/internal/audit"
	"github.com/isoko-rw/isoko/internal/escrow"
	"github.com/isoko-rw/isoko/internal/idgen"
	"github.com/isoko-rw/isoko/internal/retry"
)

// Settler abstracts the escrow operations a dispute drives.
type Settler interface {
	Get(ctx context.Context, id string) (*escrow.Escrow, error)
	Dispute(ctx context.Context, id, reason, raisedByRole string) (*escrow.Escrow, error)
	Release(ctx context.Context, id, reason string) (*escrow.Escrow, error)
	Refund(ctx context.Context, id, reason string) (*escrow.Escrow, error)
	ResolvePartial(ctx context.Context, id, refundAmount, reason string) (*escrow.Escrow, error)
}

// Service implements the dispute review workflow.
type Service struct {
	store    Store
	escrows  Settler
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewService creates a dispute service.
func NewService(store Store, escrows Settler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, escrows: escrows, logger: logger}
}

// WithRecorder attaches an audit recorder.
func (s *Service) WithRecorder(r *audit.Recorder) *Service {
	s.recorder = r
	return s
}

// RaiseRequest is the input for opening a dispute case.
type RaiseRequest struct {
	EscrowID     string   `json:"escrowId" binding:"required"`
	RaisedBy     string   `json:"raisedBy" binding:"required"`
	RaisedByRole string   `json:"raisedByRole" binding:"required"`
	Reason       string   `json:"reason" binding:"required"`
	Evidence     []string `json:"evidence"`
}

// Raise freezes the escrow and opens a case. The escrow transition is the
// guard: a hold that is already settled or disputed rejects the freeze.
func (s *Service) Raise(ctx context.Context, req RaiseRequest) (*Case, error) {
	if existing, err := s.store.GetByEscrow(ctx, req.EscrowID); err == nil && existing != nil {
		return nil, ErrDuplicateCase
	}

	e, err := s.escrows.Dispute(ctx, req.EscrowID, req.Reason, req.RaisedByRole)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c := &Case{
		ID:            idgen.WithPrefix("dsp_"),
		EscrowID:      e.ID,
		TransactionID: e.TransactionID,
		OrderID:       e.OrderID,
		RaisedBy:      req.RaisedBy,
		RaisedByRole:  req.RaisedByRole,
		Reason:        req.Reason,
		Evidence:      req.Evidence,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, c); err != nil {
		// The escrow is already frozen; a missing case record blocks
		// resolution, so this needs eyes on it.
		s.logger.Error("CRITICAL: escrow frozen but dispute case creation failed",
			"escrow_id", e.ID, "error", err)
		return nil, fmt.Errorf("failed to create dispute case: %w", err)
	}

	s.record(ctx, c, "dispute.raised", c.Reason)
	s.logger.Info("dispute raised",
		"case_id", c.ID, "escrow_id", c.EscrowID, "raised_by", c.RaisedBy, "role", c.RaisedByRole)
	return c, nil
}

// Review claims an open case for review.
func (s *Service) Review(ctx context.Context, id, reviewerID string) (*Case, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusOpen {
		return nil, ErrInvalidCaseState
	}

	c.Status = StatusUnderReview
	c.ReviewedBy = reviewerID
	c.UpdatedAt = time.Now()

	if err := s.store.UpdateStatusFrom(ctx, c, []Status{StatusOpen}); err != nil {
		return nil, err
	}

	s.record(ctx, c, "dispute.under_review", "")
	return c, nil
}

// ResolveRequest is the input for settling a case.
type ResolveRequest struct {
	Resolution   Resolution `json:"resolution" binding:"required"`
	RefundAmount string     `json:"refundAmount"` // required for PARTIAL_REFUND
	Note         string     `json:"note"`
	ResolvedBy   string     `json:"resolvedBy" binding:"required"`
}

// Resolve settles the escrow per the decision and marks the case
// RESOLVED. The money moves first; if the case update then fails the
// funds are already correct and the stale case is logged, not reversed.
func (s *Service) Resolve(ctx context.Context, id string, req ResolveRequest) (*Case, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusOpen && c.Status != StatusUnderReview {
		return nil, ErrInvalidCaseState
	}

	reason := req.Note
	if reason == "" {
		reason = "dispute resolved: " + string(req.Resolution)
	}

	switch req.Resolution {
	case ResolutionReleased:
		_, err = s.escrows.Release(ctx, c.EscrowID, reason)
	case ResolutionRefunded:
		_, err = s.escrows.Refund(ctx, c.EscrowID, reason)
	case ResolutionPartialRefund:
		if req.RefundAmount == "" {
			return nil, fmt.Errorf("%w: partial refund requires a refund amount", ErrInvalidResolution)
		}
		_, err = s.escrows.ResolvePartial(ctx, c.EscrowID, req.RefundAmount, reason)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, req.Resolution)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c.Status = StatusResolved
	c.Resolution = req.Resolution
	c.ResolutionNote = req.Note
	c.RefundAmount = req.RefundAmount
	c.ResolvedBy = req.ResolvedBy
	c.ResolvedAt = &now
	c.UpdatedAt = now

	from := []Status{StatusOpen, StatusUnderReview}
	err = retry.Do(ctx, 2, 100*time.Millisecond, func() error {
		return s.store.UpdateStatusFrom(ctx, c, from)
	})
	if err != nil {
		s.logger.Error("CRITICAL: escrow settled but dispute case update failed",
			"case_id", c.ID, "escrow_id", c.EscrowID, "resolution", req.Resolution, "error", err)
		return nil, fmt.Errorf("failed to update dispute case after settlement (requires manual resolution): %w", err)
	}

	s.record(ctx, c, "dispute.resolved", "")
	s.logger.Info("dispute resolved",
		"case_id", c.ID, "escrow_id", c.EscrowID, "resolution", req.Resolution, "resolved_by", req.ResolvedBy)
	return c, nil
}

// Close archives a resolved case.
func (s *Service) Close(ctx context.Context, id string) (*Case, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusResolved {
		return nil, ErrInvalidCaseState
	}

	now := time.Now()
	c.Status = StatusClosed
	c.ClosedAt = &now
	c.UpdatedAt = now

	if err := s.store.UpdateStatusFrom(ctx, c, []Status{StatusResolved}); err != nil {
		return nil, err
	}

	s.record(ctx, c, "dispute.closed", "")
	return c, nil
}

// Get returns a case by ID.
func (s *Service) Get(ctx context.Context, id string) (*Case, error) {
	return s.store.Get(ctx, id)
}

// GetByEscrow returns the case attached to an escrow.
func (s *Service) GetByEscrow(ctx context.Context, escrowID string) (*Case, error) {
	return s.store.GetByEscrow(ctx, escrowID)
}

// ListByStatus returns cases in a given state, newest first.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}

// ListByUser returns the cases a user raised.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

func (s *Service) record(ctx context.Context, c *Case, action, errMsg string) {
	s.recorder.Record(ctx, &audit.Entry{
		EntityType: "dispute",
		EntityID:   c.ID,
		Action:     action,
		Reference:  c.EscrowID,
		AfterState: audit.Snapshot(map[string]string{
			"status":     string(c.Status),
			"resolution": string(c.Resolution),
		}),
		Success:      true,
		ErrorMessage: errMsg,
	})
}
