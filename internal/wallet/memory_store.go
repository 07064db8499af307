package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/isoko-rw/isoko/internal/idgen"
	"github.com/isoko-rw/isoko/internal/money"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	wallets map[string]*Wallet
	entries []*Entry
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		entries: make([]*Entry, 0),
	}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) Create(_ context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[w.UserID]; ok {
		return errors.New("wallet already exists")
	}
	cp := *w
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.wallets[w.UserID] = &cp
	return nil
}

func (m *MemoryStore) Credit(_ context.Context, userID, amount string, kind Kind, reference, description string) error {
	if kind != KindEarned && kind != KindRefunded {
		return ErrInvalidKind
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Status == StatusClosed {
		return ErrWalletClosed
	}

	add, ok2 := money.ParsePositive(amount)
	if !ok2 {
		return ErrInvalidAmount
	}

	bal, _ := money.Parse(w.Balance)
	w.Balance = money.Format(bal.Add(bal, add))

	switch kind {
	case KindEarned:
		total, _ := money.Parse(w.TotalEarned)
		w.TotalEarned = money.Format(total.Add(total, add))
	case KindRefunded:
		total, _ := money.Parse(w.TotalRefunded)
		w.TotalRefunded = money.Format(total.Add(total, add))
	}
	w.UpdatedAt = time.Now()

	m.appendEntry(userID, "credit", kind, amount, reference, description)
	return nil
}

func (m *MemoryStore) Debit(_ context.Context, userID, amount string, kind Kind, reference, description string) error {
	if kind != KindSpent {
		return ErrInvalidKind
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	switch w.Status {
	case StatusFrozen:
		return ErrWalletFrozen
	case StatusClosed:
		return ErrWalletClosed
	}

	sub, ok2 := money.ParsePositive(amount)
	if !ok2 {
		return ErrInvalidAmount
	}

	bal, _ := money.Parse(w.Balance)
	if bal.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}
	w.Balance = money.Format(bal.Sub(bal, sub))

	total, _ := money.Parse(w.TotalSpent)
	w.TotalSpent = money.Format(total.Add(total, sub))
	w.UpdatedAt = time.Now()

	m.appendEntry(userID, "debit", kind, amount, reference, description)
	return nil
}

func (m *MemoryStore) Reverse(_ context.Context, userID, amount string, kind Kind, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}

	amt, ok2 := money.ParsePositive(amount)
	if !ok2 {
		return ErrInvalidAmount
	}

	bal, _ := money.Parse(w.Balance)

	switch kind {
	case KindSpent:
		// Undo a debit: money comes back, lifetime spend shrinks.
		total, _ := money.Parse(w.TotalSpent)
		if total.Cmp(amt) < 0 {
			return ErrInvalidAmount
		}
		w.Balance = money.Format(bal.Add(bal, amt))
		w.TotalSpent = money.Format(total.Sub(total, amt))
	case KindEarned, KindRefunded:
		// Undo a credit: money goes back out, lifetime total shrinks.
		if bal.Cmp(amt) < 0 {
			return ErrInsufficientBalance
		}
		var total *big.Int
		if kind == KindEarned {
			total, _ = money.Parse(w.TotalEarned)
		} else {
			total, _ = money.Parse(w.TotalRefunded)
		}
		if total.Cmp(amt) < 0 {
			return ErrInvalidAmount
		}
		w.Balance = money.Format(bal.Sub(bal, amt))
		if kind == KindEarned {
			w.TotalEarned = money.Format(total.Sub(total, amt))
		} else {
			w.TotalRefunded = money.Format(total.Sub(total, amt))
		}
	default:
		return ErrInvalidKind
	}
	w.UpdatedAt = time.Now()

	m.appendEntry(userID, "reversal", kind, amount, reference, description)
	return nil
}

func (m *MemoryStore) SetStatus(_ context.Context, userID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Status = status
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetPayoutDetails(_ context.Context, userID, momo, airtel, bank string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if momo != "" {
		w.MoMoNumber = momo
	}
	if airtel != "" {
		w.AirtelNumber = airtel
	}
	if bank != "" {
		w.BankAccount = bank
	}
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetKYCVerified(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	w.KYCVerified = true
	w.KYCVerifiedAt = &at
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) History(_ context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].UserID != userID {
			continue
		}
		cp := *m.entries[i]
		result = append(result, &cp)
	}
	return result, nil
}

// appendEntry records a movement. Caller must hold m.mu.
func (m *MemoryStore) appendEntry(userID, direction string, kind Kind, amount, reference, description string) {
	m.entries = append(m.entries, &Entry{
		ID:          idgen.WithPrefix("went_"),
		UserID:      userID,
		Direction:   direction,
		Kind:        kind,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})
}

var _ Store = (*MemoryStore)(nil)
