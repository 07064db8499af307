package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/isoko-rw/isoko/internal/audit"
	"github.com/isoko-rw/isoko/internal/circuitbreaker"
	"github.com/isoko-rw/isoko/internal/idgen"
	"github.com/isoko-rw/isoko/internal/money"
	"github.com/isoko-rw/isoko/internal/validation"
)

// Service drives transactions through the settlement pipeline.
type Service struct {
	store     Store
	providers map[Method]CollectionProvider
	breaker   *circuitbreaker.Breaker
	recorder  *audit.Recorder
	currency  string
	logger    *slog.Logger
}

// NewService creates a payment service.
func NewService(store Store, currency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		providers: make(map[Method]CollectionProvider),
		currency:  currency,
		logger:    logger,
	}
}

// WithProvider registers a collection provider for a payment method.
func (s *Service) WithProvider(m Method, p CollectionProvider) *Service {
	s.providers[m] = p
	return s
}

// WithRecorder attaches an audit recorder.
func (s *Service) WithRecorder(r *audit.Recorder) *Service {
	s.recorder = r
	return s
}

// WithBreaker attaches a circuit breaker guarding provider calls.
func (s *Service) WithBreaker(b *circuitbreaker.Breaker) *Service {
	s.breaker = b
	return s
}

// InitiateRequest is the input for starting a transaction.
type InitiateRequest struct {
	FarmerID         string     `json:"farmerId" binding:"required"`
	TransporterID    string     `json:"transporterId" binding:"required"`
	OrderID          string     `json:"orderId" binding:"required"`
	CropID           string     `json:"cropId"`
	Amount           string     `json:"amount" binding:"required"`
	Method           Method     `json:"paymentMethod" binding:"required"`
	CargoDescription string     `json:"cargoDescription"`
	PickupLocation   string     `json:"pickupLocation"`
	DropoffLocation  string     `json:"dropoffLocation"`
	PickupTime       *time.Time `json:"pickupTime"`
	EstimatedDelivery *time.Time `json:"estimatedDeliveryTime"`
}

// Initiate creates a transaction in INITIATED with fresh payment and
// tracking references.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*Transaction, error) {
	if errs := validation.Validate(
		validation.Required("farmerId", req.FarmerID),
		validation.ValidUserID("farmerId", req.FarmerID),
		validation.Required("transporterId", req.TransporterID),
		validation.ValidUserID("transporterId", req.TransporterID),
		validation.Required("orderId", req.OrderID),
		validation.Required("amount", req.Amount),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidation, errs.Error())
	}
	if !ValidMethod(req.Method) {
		return nil, fmt.Errorf("%w: paymentMethod: unsupported method %q", ErrValidation, req.Method)
	}
	if req.FarmerID == req.TransporterID {
		return nil, fmt.Errorf("%w: transporterId: must differ from farmerId", ErrValidation)
	}

	t := &Transaction{
		ID:                idgen.WithPrefix("txn_"),
		FarmerID:          req.FarmerID,
		TransporterID:     req.TransporterID,
		OrderID:           req.OrderID,
		CropID:            req.CropID,
		Amount:            money.Normalize(req.Amount),
		Currency:          s.currency,
		Method:            req.Method,
		CargoDescription:  req.CargoDescription,
		PickupLocation:    req.PickupLocation,
		DropoffLocation:   req.DropoffLocation,
		PickupTime:        req.PickupTime,
		EstimatedDelivery: req.EstimatedDelivery,
		Status:            StatusInitiated,
		PaymentReference:  idgen.Reference("PAY"),
		TrackingNumber:    idgen.Reference("TRK"),
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	s.record(ctx, t, "transaction.initiated", true, "")
	s.logger.Info("transaction initiated",
		"transaction_id", t.ID, "order_id", t.OrderID, "amount", t.Amount, "method", t.Method)
	return t, nil
}

// Process moves the transaction into PAYMENT_PROCESSING and asks the
// provider to charge the farmer. Provider failures leave the transaction
// in PAYMENT_PROCESSING so Process can be retried.
func (s *Service) Process(ctx context.Context, id, payerHandle string) (*Transaction, error) {
	t, err := s.store.SetStatusFrom(ctx, id,
		[]Status{StatusInitiated, StatusPaymentProcessing}, StatusPaymentProcessing, "")
	if err != nil {
		return t, err
	}

	// A collection may already be in flight from an earlier attempt.
	// Poll its status rather than prompting the payer a second time.
	if t.ProviderRef != "" {
		return s.Confirm(ctx, t.ID)
	}

	provider, ok := s.providers[t.Method]
	if !ok {
		return t, fmt.Errorf("%w: no provider configured for method %q", ErrProvider, t.Method)
	}

	key := string(t.Method)
	if s.breaker != nil && !s.breaker.Allow(key) {
		return t, fmt.Errorf("%w: %s temporarily unavailable", ErrProvider, key)
	}

	providerRef, status, err := provider.InitiateCollection(ctx, t.Amount, t.Currency, payerHandle, t.PaymentReference)
	if err != nil {
		if s.breaker != nil {
			s.breaker.RecordFailure(key)
		}
		s.record(ctx, t, "payment.provider_failed", false, err.Error())
		return t, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if s.breaker != nil {
		s.breaker.RecordSuccess(key)
	}

	t.ProviderRef = providerRef
	if err := s.store.Update(ctx, t); err != nil {
		return t, err
	}

	s.record(ctx, t, "payment.processing", true, "")

	switch status {
	case ProviderSucceeded:
		return s.confirmProcessing(ctx, t)
	case ProviderFailed:
		return s.failProcessing(ctx, t, "provider rejected payment")
	}
	return t, nil
}

// Confirm settles the outcome of a processing payment. It polls the
// provider when the charge is still pending and is idempotent once the
// payment has been confirmed.
func (s *Service) Confirm(ctx context.Context, id string) (*Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case StatusPaymentConfirmed, StatusEscrowHeld, StatusInTransit, StatusDelivered, StatusCompleted:
		// Already confirmed (or further along); nothing to do.
		return t, nil
	case StatusPaymentProcessing:
		// fall through to provider poll
	default:
		return t, ErrInvalidTransition
	}

	provider, ok := s.providers[t.Method]
	if !ok || t.ProviderRef == "" {
		return t, fmt.Errorf("%w: payment was never submitted to a provider", ErrProvider)
	}

	status, err := provider.CollectionStatus(ctx, t.ProviderRef)
	if err != nil {
		return t, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	switch status {
	case ProviderSucceeded:
		return s.confirmProcessing(ctx, t)
	case ProviderFailed:
		return s.failProcessing(ctx, t, "provider reported failure")
	}
	return t, nil // still pending
}

// ConfirmByReference resolves provider callbacks that carry only a reference.
func (s *Service) ConfirmByReference(ctx context.Context, reference string) (*Transaction, error) {
	t, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.Confirm(ctx, t.ID)
}

func (s *Service) confirmProcessing(ctx context.Context, t *Transaction) (*Transaction, error) {
	updated, err := s.store.SetStatusFrom(ctx, t.ID,
		[]Status{StatusPaymentProcessing}, StatusPaymentConfirmed, "")
	if err == ErrInvalidTransition && updated != nil && updated.Status == StatusPaymentConfirmed {
		return updated, nil // lost a benign race with another confirmer
	}
	if err != nil {
		return updated, err
	}
	s.record(ctx, updated, "payment.confirmed", true, "")
	s.logger.Info("payment confirmed", "transaction_id", updated.ID, "provider_ref", updated.ProviderRef)
	return updated, nil
}

func (s *Service) failProcessing(ctx context.Context, t *Transaction, reason string) (*Transaction, error) {
	updated, err := s.store.SetStatusFrom(ctx, t.ID,
		[]Status{StatusPaymentProcessing}, StatusFailed, reason)
	if err != nil {
		return updated, err
	}
	s.record(ctx, updated, "payment.failed", false, reason)
	s.logger.Warn("payment failed", "transaction_id", updated.ID, "reason", reason)
	return updated, nil
}

// Cancel aborts a transaction before money has moved. Only INITIATED and
// PAYMENT_PROCESSING transactions can be cancelled; once the payment is
// confirmed the money is in flight and the escrow path takes over.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*Transaction, error) {
	t, err := s.store.SetStatusFrom(ctx, id,
		[]Status{StatusInitiated, StatusPaymentProcessing}, StatusCancelled, reason)
	if errors.Is(err, ErrInvalidTransition) && t != nil {
		return t, fmt.Errorf("%w: transaction is %s", ErrInvalidStateForCancel, t.Status)
	}
	if err != nil {
		return t, err
	}
	s.record(ctx, t, "transaction.cancelled", true, "")
	return t, nil
}

// MarkInTransit records that the transporter picked up the cargo.
func (s *Service) MarkInTransit(ctx context.Context, id string) (*Transaction, error) {
	t, err := s.store.SetStatusFrom(ctx, id, []Status{StatusEscrowHeld}, StatusInTransit, "")
	if err != nil {
		return t, err
	}
	s.record(ctx, t, "transaction.in_transit", true, "")
	return t, nil
}

// MarkDelivered records delivery with the actual delivery timestamp.
func (s *Service) MarkDelivered(ctx context.Context, id string) (*Transaction, error) {
	t, err := s.store.SetDelivered(ctx, id, time.Now())
	if err != nil {
		return t, err
	}
	s.record(ctx, t, "transaction.delivered", true, "")
	return t, nil
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// GetByReference returns a transaction by payment reference, provider
// reference, or tracking number.
func (s *Service) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	return s.store.GetByReference(ctx, reference)
}

// ListByUser returns transactions where the user is farmer or transporter.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

// ListByStatus returns transactions in a given state.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Transaction, error) {
	return s.store.ListByStatus(ctx, status, limit)
}

func (s *Service) record(ctx context.Context, t *Transaction, action string, success bool, errMsg string) {
	s.recorder.Record(ctx, &audit.Entry{
		EntityType:   "transaction",
		EntityID:     t.ID,
		Action:       action,
		Amount:       t.Amount,
		Reference:    t.PaymentReference,
		AfterState:   audit.Snapshot(map[string]string{"status": string(t.Status)}),
		Success:      success,
		ErrorMessage: errMsg,
	})
}
