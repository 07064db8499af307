//go:build integration

package payment

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func setupTestDB(t *testing.T) (*PostgresStore, *sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	store := NewPostgresStore(db)
	ctx := context.Background()

	// Ensure table exists (mirrors migrations/00001_create_transactions.sql)
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id                      TEXT PRIMARY KEY,
			farmer_id               TEXT NOT NULL,
			transporter_id          TEXT NOT NULL,
			order_id                TEXT NOT NULL,
			crop_id                 TEXT,
			amount                  NUMERIC(20,2) NOT NULL,
			currency                TEXT NOT NULL,
			payment_method          TEXT NOT NULL,
			cargo_description       TEXT,
			pickup_location         TEXT,
			dropoff_location        TEXT,
			pickup_time             TIMESTAMPTZ,
			estimated_delivery_time TIMESTAMPTZ,
			actual_delivery_time    TIMESTAMPTZ,
			status                  TEXT NOT NULL,
			status_reason           TEXT,
			payment_reference       TEXT NOT NULL UNIQUE,
			tracking_number         TEXT NOT NULL,
			provider_ref            TEXT,
			escrow_id               TEXT,
			receipt_id              TEXT,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		t.Fatalf("Failed to create transactions table: %v", err)
	}

	cleanup := func() {
		db.ExecContext(ctx, "DELETE FROM transactions")
		db.Close()
	}

	return store, db, cleanup
}

func testTransaction(id, reference string) *Transaction {
	return &Transaction{
		ID:               id,
		FarmerID:         "farmer-1",
		TransporterID:    "trans-1",
		OrderID:          "order-1",
		Amount:           "15000.00",
		Currency:         "RWF",
		Method:           MethodMoMo,
		Status:           StatusInitiated,
		PaymentReference: reference,
		TrackingNumber:   "TRK-" + id,
	}
}

func TestPostgresTransaction_CreateAndGet(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.Create(ctx, testTransaction("txn_it001", "PAY-IT-001")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "txn_it001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Amount != "15000.00" {
		t.Errorf("Amount: got %s, want 15000.00", got.Amount)
	}
	if got.Status != StatusInitiated {
		t.Errorf("Status: got %s, want %s", got.Status, StatusInitiated)
	}

	byRef, err := store.GetByReference(ctx, "PAY-IT-001")
	if err != nil {
		t.Fatalf("GetByReference failed: %v", err)
	}
	if byRef.ID != "txn_it001" {
		t.Errorf("GetByReference: got %s, want txn_it001", byRef.ID)
	}
}

func TestPostgresTransaction_DuplicateReference(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.Create(ctx, testTransaction("txn_it002", "PAY-IT-002")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := store.Create(ctx, testTransaction("txn_it002b", "PAY-IT-002"))
	if err != ErrDuplicateReference {
		t.Errorf("Expected ErrDuplicateReference, got %v", err)
	}
}

func TestPostgresTransaction_SetStatusFrom(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.Create(ctx, testTransaction("txn_it003", "PAY-IT-003")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.SetStatusFrom(ctx, "txn_it003",
		[]Status{StatusInitiated}, StatusPaymentProcessing, "")
	if err != nil {
		t.Fatalf("SetStatusFrom failed: %v", err)
	}
	if got.Status != StatusPaymentProcessing {
		t.Errorf("Status: got %s, want %s", got.Status, StatusPaymentProcessing)
	}

	// Guard miss: transaction is no longer INITIATED
	_, err = store.SetStatusFrom(ctx, "txn_it003",
		[]Status{StatusInitiated}, StatusCancelled, "late cancel")
	if err != ErrInvalidTransition {
		t.Errorf("Expected ErrInvalidTransition on guard miss, got %v", err)
	}
}

func TestPostgresTransaction_ConcurrentTransitions(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.Create(ctx, testTransaction("txn_it004", "PAY-IT-004")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Race PROCESS against CANCEL from INITIATED: exactly one wins.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, to := range []Status{StatusPaymentProcessing, StatusCancelled} {
		wg.Add(1)
		go func(to Status) {
			defer wg.Done()
			if _, err := store.SetStatusFrom(ctx, "txn_it004",
				[]Status{StatusInitiated}, to, ""); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly 1 winning transition, got %d", wins)
	}
}

func TestPostgresTransaction_SetDelivered(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	txn := testTransaction("txn_it005", "PAY-IT-005")
	txn.Status = StatusInTransit
	if err := store.Create(ctx, txn); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	at := time.Now().Truncate(time.Microsecond)
	got, err := store.SetDelivered(ctx, "txn_it005", at)
	if err != nil {
		t.Fatalf("SetDelivered failed: %v", err)
	}
	if got.Status != StatusDelivered {
		t.Errorf("Status: got %s, want %s", got.Status, StatusDelivered)
	}
	if got.ActualDelivery == nil {
		t.Error("ActualDelivery should be set")
	}
}

func TestPostgresTransaction_ListByUser(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	a := testTransaction("txn_it006", "PAY-IT-006")
	b := testTransaction("txn_it007", "PAY-IT-007")
	b.FarmerID = "farmer-other"
	b.TransporterID = "farmer-1" // farmer-1 as transporter
	for _, txn := range []*Transaction{a, b} {
		if err := store.Create(ctx, txn); err != nil {
			t.Fatalf("Create %s failed: %v", txn.ID, err)
		}
	}

	results, err := store.ListByUser(ctx, "farmer-1", 10)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 transactions, got %d", len(results))
	}
}
