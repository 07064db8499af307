package payment

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
type MemoryStore struct {
	byID        map[string]*Transaction
	byReference map[string]string // payment reference -> id
	order       []string          // insertion order for stable listings
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]*Transaction),
		byReference: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byReference[t.PaymentReference]; ok {
		return ErrDuplicateReference
	}

	cp := *t
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.byID[cp.ID] = &cp
	m.byReference[cp.PaymentReference] = cp.ID
	m.order = append(m.order, cp.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *MemoryStore) getLocked(id string) (*Transaction, error) {
	t, ok := m.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetByReference(_ context.Context, reference string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byReference[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return m.getLocked(id)
}

func (m *MemoryStore) Update(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byID[t.ID]
	if !ok {
		return ErrTransactionNotFound
	}
	cp := *t
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	m.byID[t.ID] = &cp
	return nil
}

func (m *MemoryStore) SetStatusFrom(_ context.Context, id string, from []Status, to Status, reason string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}

	matched := false
	for _, s := range from {
		if t.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		cp := *t
		return &cp, ErrInvalidTransition
	}

	t.Status = to
	if reason != "" {
		t.StatusReason = reason
	}
	t.UpdatedAt = time.Now()
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) SetDelivered(_ context.Context, id string, at time.Time) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if t.Status != StatusInTransit {
		cp := *t
		return &cp, ErrInvalidTransition
	}

	t.Status = StatusDelivered
	t.ActualDelivery = &at
	t.UpdatedAt = time.Now()
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) AttachEscrow(_ context.Context, id, escrowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	t.EscrowID = escrowID
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AttachReceipt(_ context.Context, id, receiptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	t.ReceiptID = receiptID
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*Transaction
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		t := m.byID[m.order[i]]
		if t.FarmerID != userID && t.TransporterID != userID {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*Transaction
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		t := m.byID[m.order[i]]
		if t.Status != status {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
