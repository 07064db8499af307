package server

import (
	"context"
	"testing"

	"github.com/isoko-rw/isoko/internal/dispute"
	"github.com/isoko-rw/isoko/internal/escrow"
	"github.com/isoko-rw/isoko/internal/payment"
	"github.com/isoko-rw/isoko/internal/wallet"
)

// instantCollector approves every charge immediately.
type instantCollector struct {
	initCalls int
}

func (c *instantCollector) InitiateCollection(_ context.Context, _, _, _, reference string) (string, payment.ProviderStatus, error) {
	c.initCalls++
	return "prov_" + reference, payment.ProviderSucceeded, nil
}

func (c *instantCollector) CollectionStatus(_ context.Context, _ string) (payment.ProviderStatus, error) {
	return payment.ProviderSucceeded, nil
}

// settlementStack wires the real services through the server's adapters,
// backed by in-memory stores.
type settlementStack struct {
	wallets  *wallet.Service
	payments *payment.Service
	escrows  *escrow.Service
	disputes *dispute.Service
	payStore payment.Store
}

func newSettlementStack() *settlementStack {
	walletSvc := wallet.NewService(wallet.NewMemoryStore(), "RWF", nil)
	payStore := payment.NewMemoryStore()
	paymentSvc := payment.NewService(payStore, "RWF", nil).
		WithProvider(payment.MethodMoMo, &instantCollector{})
	escrowSvc := escrow.NewService(escrow.NewMemoryStore(),
		&walletLedgerAdapter{wallets: walletSvc},
		&transactionAdapter{store: payStore}, nil)
	disputeSvc := dispute.NewService(dispute.NewMemoryStore(), escrowSvc, nil)
	return &settlementStack{
		wallets:  walletSvc,
		payments: paymentSvc,
		escrows:  escrowSvc,
		disputes: disputeSvc,
		payStore: payStore,
	}
}

// confirmedTransaction drives a payment to PAYMENT_CONFIRMED with the
// farmer's wallet funded for the full amount.
func confirmedTransaction(t *testing.T, stack *settlementStack, farmerID, transporterID, amount string) *payment.Transaction {
	t.Helper()
	ctx := context.Background()

	if err := stack.wallets.TopUp(ctx, farmerID, amount, ""); err != nil {
		t.Fatalf("TopUp: %v", err)
	}

	txn, err := stack.payments.Initiate(ctx, payment.InitiateRequest{
		FarmerID:      farmerID,
		TransporterID: transporterID,
		OrderID:       "order-555",
		Amount:        amount,
		Method:        payment.MethodMoMo,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	txn, err = stack.payments.Process(ctx, txn.ID, "0788123456")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if txn.Status != payment.StatusPaymentConfirmed {
		t.Fatalf("status = %s, want %s", txn.Status, payment.StatusPaymentConfirmed)
	}
	return txn
}

func balance(t *testing.T, stack *settlementStack, userID string) string {
	t.Helper()
	w, err := stack.wallets.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet %s: %v", userID, err)
	}
	return w.Balance
}

func TestSettlementFlow_ReleasePaysTransporter(t *testing.T) {
	stack := newSettlementStack()
	ctx := context.Background()

	txn := confirmedTransaction(t, stack, "farmer-1", "trans-1", "5000")

	e, err := stack.escrows.Create(ctx, txn.ID)
	if err != nil {
		t.Fatalf("escrow Create: %v", err)
	}
	if got := balance(t, stack, "farmer-1"); got != "0.00" {
		t.Errorf("farmer balance after hold = %s, want 0.00", got)
	}
	cur, _ := stack.payStore.Get(ctx, txn.ID)
	if cur.Status != payment.StatusEscrowHeld {
		t.Fatalf("transaction status = %s, want %s", cur.Status, payment.StatusEscrowHeld)
	}

	if _, err := stack.escrows.Release(ctx, e.ID, "delivery confirmed"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if got := balance(t, stack, "trans-1"); got != "5000.00" {
		t.Errorf("transporter balance = %s, want exactly 5000.00", got)
	}
	if got := balance(t, stack, "farmer-1"); got != "0.00" {
		t.Errorf("farmer balance = %s, want 0.00", got)
	}
	cur, _ = stack.payStore.Get(ctx, txn.ID)
	if cur.Status != payment.StatusCompleted {
		t.Errorf("transaction status = %s, want %s", cur.Status, payment.StatusCompleted)
	}
}

func TestSettlementFlow_DisputeRefundsFarmer(t *testing.T) {
	stack := newSettlementStack()
	ctx := context.Background()

	txn := confirmedTransaction(t, stack, "farmer-2", "trans-2", "8000")

	e, err := stack.escrows.Create(ctx, txn.ID)
	if err != nil {
		t.Fatalf("escrow Create: %v", err)
	}

	c, err := stack.disputes.Raise(ctx, dispute.RaiseRequest{
		EscrowID:     e.ID,
		RaisedBy:     "farmer-2",
		RaisedByRole: escrow.RoleFarmer,
		Reason:       "cargo never arrived",
	})
	if err != nil {
		t.Fatalf("Raise: %v", err)
	}
	cur, _ := stack.payStore.Get(ctx, txn.ID)
	if cur.Status != payment.StatusDisputed {
		t.Fatalf("transaction status = %s, want %s", cur.Status, payment.StatusDisputed)
	}
	if got := balance(t, stack, "farmer-2"); got != "0.00" {
		t.Errorf("farmer balance during dispute = %s, no money should move", got)
	}

	if _, err := stack.disputes.Resolve(ctx, c.ID, dispute.ResolveRequest{
		Resolution: dispute.ResolutionRefunded,
		ResolvedBy: "admin-1",
	}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got := balance(t, stack, "farmer-2"); got != "8000.00" {
		t.Errorf("farmer balance after refund = %s, want exactly 8000.00", got)
	}
	if got := balance(t, stack, "trans-2"); got != "0.00" {
		t.Errorf("transporter balance = %s, want 0.00", got)
	}
	cur, _ = stack.payStore.Get(ctx, txn.ID)
	if cur.Status != payment.StatusRefunded {
		t.Errorf("transaction status = %s, want %s", cur.Status, payment.StatusRefunded)
	}
	got, _ := stack.escrows.Get(ctx, e.ID)
	if got.Status != escrow.StatusRefunded || got.DisputedBy != escrow.RoleFarmer {
		t.Errorf("escrow = %s disputedBy %q, want REFUNDED by farmer", got.Status, got.DisputedBy)
	}
}

func TestSettlementFlow_HoldFailsWithoutFunds(t *testing.T) {
	stack := newSettlementStack()
	ctx := context.Background()

	if err := stack.wallets.TopUp(ctx, "farmer-3", "100", ""); err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	txn, err := stack.payments.Initiate(ctx, payment.InitiateRequest{
		FarmerID:      "farmer-3",
		TransporterID: "trans-3",
		OrderID:       "order-556",
		Amount:        "5000",
		Method:        payment.MethodMoMo,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := stack.payments.Process(ctx, txn.ID, "0788123456"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, err := stack.escrows.Create(ctx, txn.ID); err == nil {
		t.Fatal("expected the hold to fail on an underfunded wallet")
	}

	// The compensation path must put the transaction back.
	cur, _ := stack.payStore.Get(ctx, txn.ID)
	if cur.Status != payment.StatusPaymentConfirmed {
		t.Errorf("transaction status = %s, want back at %s", cur.Status, payment.StatusPaymentConfirmed)
	}
	if got := balance(t, stack, "farmer-3"); got != "100.00" {
		t.Errorf("farmer balance = %s, want untouched 100.00", got)
	}
}
