package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ---------- mocks ----------

type mockProvider struct {
	initStatus ProviderStatus
	initErr    error
	pollStatus ProviderStatus
	pollErr    error
	initCalls  int
	pollCalls  int
	lastPayer  string
	lastRef    string
}

func (m *mockProvider) InitiateCollection(_ context.Context, _, _, payerHandle, reference string) (string, ProviderStatus, error) {
	m.initCalls++
	m.lastPayer = payerHandle
	m.lastRef = reference
	if m.initErr != nil {
		return "", "", m.initErr
	}
	return "prov_" + reference, m.initStatus, nil
}

func (m *mockProvider) CollectionStatus(_ context.Context, _ string) (ProviderStatus, error) {
	m.pollCalls++
	if m.pollErr != nil {
		return "", m.pollErr
	}
	return m.pollStatus, nil
}

func newTestService(p *mockProvider) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	svc := NewService(store, "RWF", nil)
	if p != nil {
		svc.WithProvider(MethodMoMo, p)
	}
	return svc, store
}

func initiate(t *testing.T, svc *Service) *Transaction {
	t.Helper()
	txn, err := svc.Initiate(context.Background(), InitiateRequest{
		FarmerID:        "farmer-001",
		TransporterID:   "trans-001",
		OrderID:         "order-001",
		Amount:          "15000",
		Method:          MethodMoMo,
		PickupLocation:  "Musanze",
		DropoffLocation: "Kigali",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	return txn
}

func advance(t *testing.T, store *MemoryStore, id string, path ...Status) {
	t.Helper()
	for i := 1; i < len(path); i++ {
		if _, err := store.SetStatusFrom(context.Background(), id, []Status{path[i-1]}, path[i], ""); err != nil {
			t.Fatalf("advance %s -> %s: %v", path[i-1], path[i], err)
		}
	}
}

// ---------- initiate ----------

func TestInitiate(t *testing.T) {
	svc, _ := newTestService(nil)
	txn := initiate(t, svc)

	if txn.Status != StatusInitiated {
		t.Errorf("status = %s, want %s", txn.Status, StatusInitiated)
	}
	if txn.Amount != "15000.00" {
		t.Errorf("amount = %s, want normalized 15000.00", txn.Amount)
	}
	if txn.Currency != "RWF" {
		t.Errorf("currency = %s, want RWF", txn.Currency)
	}
	if txn.PaymentReference == "" || txn.TrackingNumber == "" {
		t.Error("expected payment reference and tracking number to be assigned")
	}
}

func TestInitiate_Validation(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  InitiateRequest
	}{
		{"missing farmer", InitiateRequest{TransporterID: "trans-001", OrderID: "o1", Amount: "500", Method: MethodMoMo}},
		{"zero amount", InitiateRequest{FarmerID: "farmer-001", TransporterID: "trans-001", OrderID: "o1", Amount: "0", Method: MethodMoMo}},
		{"negative amount", InitiateRequest{FarmerID: "farmer-001", TransporterID: "trans-001", OrderID: "o1", Amount: "-100", Method: MethodMoMo}},
		{"bad method", InitiateRequest{FarmerID: "farmer-001", TransporterID: "trans-001", OrderID: "o1", Amount: "500", Method: "cash"}},
		{"same parties", InitiateRequest{FarmerID: "farmer-001", TransporterID: "farmer-001", OrderID: "o1", Amount: "500", Method: MethodMoMo}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Initiate(ctx, tc.req); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestStore_DuplicateReference(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := &Transaction{ID: "txn_a", PaymentReference: "PAY-X", Status: StatusInitiated}
	b := &Transaction{ID: "txn_b", PaymentReference: "PAY-X", Status: StatusInitiated}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := store.Create(ctx, b); !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("err = %v, want ErrDuplicateReference", err)
	}
}

// ---------- process ----------

func TestProcess_ImmediateSuccess(t *testing.T) {
	p := &mockProvider{initStatus: ProviderSucceeded}
	svc, _ := newTestService(p)
	txn := initiate(t, svc)

	got, err := svc.Process(context.Background(), txn.ID, "+250788123456")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.Status != StatusPaymentConfirmed {
		t.Errorf("status = %s, want %s", got.Status, StatusPaymentConfirmed)
	}
	if got.ProviderRef == "" {
		t.Error("expected provider ref to be stored")
	}
	if p.lastPayer != "+250788123456" {
		t.Errorf("payer handle = %s", p.lastPayer)
	}
}

func TestProcess_Pending(t *testing.T) {
	p := &mockProvider{initStatus: ProviderPending}
	svc, store := newTestService(p)
	txn := initiate(t, svc)

	got, err := svc.Process(context.Background(), txn.ID, "0788123456")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.Status != StatusPaymentProcessing {
		t.Errorf("status = %s, want %s", got.Status, StatusPaymentProcessing)
	}
	cur, _ := store.Get(context.Background(), txn.ID)
	if cur.ProviderRef == "" {
		t.Error("expected provider ref persisted while pending")
	}
}

func TestProcess_RetryPollsPendingCollection(t *testing.T) {
	p := &mockProvider{initStatus: ProviderPending, pollStatus: ProviderPending}
	svc, _ := newTestService(p)
	txn := initiate(t, svc)
	ctx := context.Background()

	if _, err := svc.Process(ctx, txn.ID, "0788123456"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// A second Process while the charge is pending must not prompt the
	// payer again.
	got, err := svc.Process(ctx, txn.ID, "0788123456")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if p.initCalls != 1 {
		t.Errorf("initiate calls = %d, want exactly 1", p.initCalls)
	}
	if p.pollCalls == 0 {
		t.Error("expected the retry to poll the provider")
	}
	if got.Status != StatusPaymentProcessing {
		t.Errorf("status = %s, want still %s", got.Status, StatusPaymentProcessing)
	}

	// Once the provider reports success the retry settles the payment.
	p.pollStatus = ProviderSucceeded
	got, err = svc.Process(ctx, txn.ID, "0788123456")
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	if got.Status != StatusPaymentConfirmed {
		t.Errorf("status = %s, want %s", got.Status, StatusPaymentConfirmed)
	}
	if p.initCalls != 1 {
		t.Errorf("initiate calls = %d, the retry must only poll", p.initCalls)
	}
}

func TestProcess_ImmediateFailure(t *testing.T) {
	p := &mockProvider{initStatus: ProviderFailed}
	svc, _ := newTestService(p)
	txn := initiate(t, svc)

	got, err := svc.Process(context.Background(), txn.ID, "0788123456")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want %s", got.Status, StatusFailed)
	}
	if got.StatusReason == "" {
		t.Error("expected a failure reason")
	}
}

func TestProcess_ProviderErrorIsRetryable(t *testing.T) {
	p := &mockProvider{initErr: errors.New("gateway timeout")}
	svc, store := newTestService(p)
	txn := initiate(t, svc)
	ctx := context.Background()

	if _, err := svc.Process(ctx, txn.ID, "0788123456"); !errors.Is(err, ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	cur, _ := store.Get(ctx, txn.ID)
	if cur.Status != StatusPaymentProcessing {
		t.Fatalf("status after provider error = %s, want %s", cur.Status, StatusPaymentProcessing)
	}

	// Retry succeeds once the provider recovers.
	p.initErr = nil
	p.initStatus = ProviderSucceeded
	got, err := svc.Process(ctx, txn.ID, "0788123456")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != StatusPaymentConfirmed {
		t.Errorf("status = %s, want %s", got.Status, StatusPaymentConfirmed)
	}
}

func TestProcess_NoProvider(t *testing.T) {
	svc, _ := newTestService(nil)
	txn := initiate(t, svc)

	if _, err := svc.Process(context.Background(), txn.ID, "0788123456"); !errors.Is(err, ErrProvider) {
		t.Errorf("err = %v, want ErrProvider", err)
	}
}

func TestProcess_WrongState(t *testing.T) {
	svc, store := newTestService(&mockProvider{initStatus: ProviderSucceeded})
	txn := initiate(t, svc)
	advance(t, store, txn.ID, StatusInitiated, StatusCancelled)

	if _, err := svc.Process(context.Background(), txn.ID, "0788123456"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

// ---------- confirm ----------

func TestConfirm_PollSuccess(t *testing.T) {
	p := &mockProvider{initStatus: ProviderPending, pollStatus: ProviderSucceeded}
	svc, _ := newTestService(p)
	txn := initiate(t, svc)
	ctx := context.Background()

	if _, err := svc.Process(ctx, txn.ID, "0788123456"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, err := svc.Confirm(ctx, txn.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got.Status != StatusPaymentConfirmed {
		t.Errorf("status = %s, want %s", got.Status, StatusPaymentConfirmed)
	}
	if p.pollCalls != 1 {
		t.Errorf("poll calls = %d, want 1", p.pollCalls)
	}
}

func TestConfirm_Idempotent(t *testing.T) {
	p := &mockProvider{initStatus: ProviderSucceeded}
	svc, _ := newTestService(p)
	txn := initiate(t, svc)
	ctx := context.Background()

	if _, err := svc.Process(ctx, txn.ID, "0788123456"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := svc.Confirm(ctx, txn.ID)
		if err != nil {
			t.Fatalf("Confirm #%d: %v", i+1, err)
		}
		if got.Status != StatusPaymentConfirmed {
			t.Errorf("Confirm #%d status = %s", i+1, got.Status)
		}
	}
	if p.pollCalls != 0 {
		t.Errorf("poll calls = %d, want 0 for already-confirmed payment", p.pollCalls)
	}
}

func TestConfirm_PollFailure(t *testing.T) {
	p := &mockProvider{initStatus: ProviderPending, pollStatus: ProviderFailed}
	svc, _ := newTestService(p)
	txn := initiate(t, svc)
	ctx := context.Background()

	if _, err := svc.Process(ctx, txn.ID, "0788123456"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, err := svc.Confirm(ctx, txn.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want %s", got.Status, StatusFailed)
	}
}

func TestConfirm_BeforeProcessing(t *testing.T) {
	svc, _ := newTestService(nil)
	txn := initiate(t, svc)

	if _, err := svc.Confirm(context.Background(), txn.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestConfirmByReference(t *testing.T) {
	p := &mockProvider{initStatus: ProviderPending, pollStatus: ProviderSucceeded}
	svc, _ := newTestService(p)
	txn := initiate(t, svc)
	ctx := context.Background()

	if _, err := svc.Process(ctx, txn.ID, "0788123456"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, err := svc.ConfirmByReference(ctx, txn.PaymentReference)
	if err != nil {
		t.Fatalf("ConfirmByReference: %v", err)
	}
	if got.Status != StatusPaymentConfirmed {
		t.Errorf("status = %s, want %s", got.Status, StatusPaymentConfirmed)
	}

	if _, err := svc.ConfirmByReference(ctx, "PAY-NOPE"); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("err = %v, want ErrTransactionNotFound", err)
	}
}

// ---------- cancel and delivery ----------

func TestCancel(t *testing.T) {
	svc, _ := newTestService(nil)
	txn := initiate(t, svc)

	got, err := svc.Cancel(context.Background(), txn.ID, "buyer changed mind")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", got.Status, StatusCancelled)
	}
	if got.StatusReason != "buyer changed mind" {
		t.Errorf("reason = %q", got.StatusReason)
	}
}

func TestCancel_AfterConfirmation(t *testing.T) {
	p := &mockProvider{initStatus: ProviderSucceeded}
	svc, _ := newTestService(p)
	txn := initiate(t, svc)
	ctx := context.Background()

	if _, err := svc.Process(ctx, txn.ID, "0788123456"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := svc.Cancel(ctx, txn.ID, "too late"); !errors.Is(err, ErrInvalidStateForCancel) {
		t.Errorf("err = %v, want ErrInvalidStateForCancel", err)
	}
}

func TestDeliveryFlow(t *testing.T) {
	svc, store := newTestService(nil)
	txn := initiate(t, svc)
	ctx := context.Background()
	advance(t, store, txn.ID,
		StatusInitiated, StatusPaymentProcessing, StatusPaymentConfirmed, StatusEscrowHeld)

	inTransit, err := svc.MarkInTransit(ctx, txn.ID)
	if err != nil {
		t.Fatalf("MarkInTransit: %v", err)
	}
	if inTransit.Status != StatusInTransit {
		t.Errorf("status = %s, want %s", inTransit.Status, StatusInTransit)
	}

	delivered, err := svc.MarkDelivered(ctx, txn.ID)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if delivered.Status != StatusDelivered {
		t.Errorf("status = %s, want %s", delivered.Status, StatusDelivered)
	}
	if delivered.ActualDelivery == nil || time.Since(*delivered.ActualDelivery) > time.Minute {
		t.Error("expected actual delivery time to be set to now")
	}
}

func TestMarkDelivered_WrongState(t *testing.T) {
	svc, _ := newTestService(nil)
	txn := initiate(t, svc)

	if _, err := svc.MarkDelivered(context.Background(), txn.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

// ---------- lookups ----------

func TestListByUser(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	a := initiate(t, svc)
	b := initiate(t, svc)

	farmer, err := svc.ListByUser(ctx, "farmer-001", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(farmer) != 2 {
		t.Fatalf("len = %d, want 2", len(farmer))
	}
	if farmer[0].ID != b.ID || farmer[1].ID != a.ID {
		t.Error("expected newest-first ordering")
	}

	none, err := svc.ListByUser(ctx, "stranger", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("len = %d, want 0", len(none))
	}
}

func TestGetByTrackingNumber(t *testing.T) {
	svc, _ := newTestService(nil)
	txn := initiate(t, svc)

	got, err := svc.GetByReference(context.Background(), txn.TrackingNumber)
	if err != nil {
		t.Fatalf("GetByReference: %v", err)
	}
	if got.ID != txn.ID {
		t.Errorf("got %s, want %s", got.ID, txn.ID)
	}
}

// ---------- state machine ----------

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusInitiated, StatusPaymentProcessing},
		{StatusPaymentProcessing, StatusFailed},
		{StatusPaymentConfirmed, StatusEscrowHeld},
		{StatusEscrowHeld, StatusInTransit},
		{StatusInTransit, StatusDelivered},
		{StatusDelivered, StatusDisputed},
		{StatusDisputed, StatusRefunded},
		{StatusDisputed, StatusCompleted},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusInitiated, StatusCompleted},
		{StatusPaymentConfirmed, StatusCancelled},
		{StatusCompleted, StatusRefunded},
		{StatusRefunded, StatusEscrowHeld},
		{StatusCancelled, StatusInitiated},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded} {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusInitiated, StatusEscrowHeld, StatusDisputed} {
		if IsTerminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}
