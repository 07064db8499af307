//go:build integration

package wallet

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

	// Ensure tables exist (mirrors migrations/00002_create_wallets.sql)
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallets (
			user_id         TEXT PRIMARY KEY,
			balance         NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			currency        TEXT NOT NULL,
			total_earned    NUMERIC(20,2) NOT NULL DEFAULT 0,
			total_spent     NUMERIC(20,2) NOT NULL DEFAULT 0,
			total_refunded  NUMERIC(20,2) NOT NULL DEFAULT 0,
			status          TEXT NOT NULL DEFAULT 'active',
			momo_number     TEXT,
			airtel_number   TEXT,
			bank_account    TEXT,
			kyc_verified    BOOLEAN NOT NULL DEFAULT FALSE,
			kyc_verified_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		t.Fatalf("Failed to create wallets table: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallet_entries (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES wallets (user_id),
			direction   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			amount      NUMERIC(20,2) NOT NULL,
			reference   TEXT,
			description TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		t.Fatalf("Failed to create wallet_entries table: %v", err)
	}

	cleanup := func() {
		db.ExecContext(ctx, "DELETE FROM wallet_entries")
		db.ExecContext(ctx, "DELETE FROM wallets")
		db.Close()
	}

	return store, db, cleanup
}

func createTestWallet(t *testing.T, store *PostgresStore, userID string) {
	t.Helper()
	now := time.Now().Truncate(time.Microsecond)
	err := store.Create(context.Background(), &Wallet{
		UserID:        userID,
		Balance:       "0.00",
		Currency:      "RWF",
		TotalEarned:   "0.00",
		TotalSpent:    "0.00",
		TotalRefunded: "0.00",
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("Create wallet failed: %v", err)
	}
}

func TestPostgresWallet_CreditDebit(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	createTestWallet(t, store, "it-user-1")

	if err := store.Credit(ctx, "it-user-1", "5000.00", KindEarned, "ref-1", "escrow release"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := store.Debit(ctx, "it-user-1", "1500.00", KindSpent, "ref-2", "escrow hold"); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	w, err := store.Get(ctx, "it-user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if w.Balance != "3500.00" {
		t.Errorf("Balance: got %s, want 3500.00", w.Balance)
	}
	if w.TotalEarned != "5000.00" {
		t.Errorf("TotalEarned: got %s, want 5000.00", w.TotalEarned)
	}
	if w.TotalSpent != "1500.00" {
		t.Errorf("TotalSpent: got %s, want 1500.00", w.TotalSpent)
	}

	entries, err := store.History(ctx, "it-user-1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(entries))
	}
}

func TestPostgresWallet_DebitInsufficient(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	createTestWallet(t, store, "it-user-2")

	if err := store.Credit(ctx, "it-user-2", "100.00", KindEarned, "ref-1", ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	err := store.Debit(ctx, "it-user-2", "200.00", KindSpent, "ref-2", "")
	if err != ErrInsufficientBalance {
		t.Errorf("Expected ErrInsufficientBalance, got %v", err)
	}

	w, _ := store.Get(ctx, "it-user-2")
	if w.Balance != "100.00" {
		t.Errorf("Balance should be unchanged, got %s", w.Balance)
	}
}

func TestPostgresWallet_FrozenRejectsDebit(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	createTestWallet(t, store, "it-user-3")

	if err := store.Credit(ctx, "it-user-3", "1000.00", KindEarned, "ref-1", ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := store.SetStatus(ctx, "it-user-3", StatusFrozen); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	err := store.Debit(ctx, "it-user-3", "100.00", KindSpent, "ref-2", "")
	if err != ErrWalletFrozen {
		t.Errorf("Expected ErrWalletFrozen, got %v", err)
	}
}

func TestPostgresWallet_ConcurrentDebits(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	createTestWallet(t, store, "it-user-4")

	if err := store.Credit(ctx, "it-user-4", "1000.00", KindEarned, "ref-seed", ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	// 20 concurrent debits of 100 against a balance of 1000: exactly
	// 10 must succeed, the rest hit the balance guard.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Debit(ctx, "it-user-4", "100.00", KindSpent, "", ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("Expected exactly 10 successful debits, got %d", succeeded)
	}

	w, err := store.Get(ctx, "it-user-4")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if w.Balance != "0.00" {
		t.Errorf("Balance: got %s, want 0.00", w.Balance)
	}
}

func TestPostgresWallet_ReverseSpent(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	createTestWallet(t, store, "it-user-5")

	if err := store.Credit(ctx, "it-user-5", "500.00", KindEarned, "ref-1", ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := store.Debit(ctx, "it-user-5", "300.00", KindSpent, "ref-2", ""); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if err := store.Reverse(ctx, "it-user-5", "300.00", KindSpent, "ref-2", "hold rollback"); err != nil {
		t.Fatalf("Reverse failed: %v", err)
	}

	w, _ := store.Get(ctx, "it-user-5")
	if w.Balance != "500.00" {
		t.Errorf("Balance: got %s, want 500.00", w.Balance)
	}
	if w.TotalSpent != "0.00" {
		t.Errorf("TotalSpent: got %s, want 0.00", w.TotalSpent)
	}
}
