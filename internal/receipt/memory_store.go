package receipt

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory receipt store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Receipt
	byTxn   map[string]string
	ordered []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Receipt),
		byTxn: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byTxn[r.TransactionID]; exists {
		return ErrDuplicateReceipt
	}
	cp := *r
	m.byID[r.ID] = &cp
	m.byTxn[r.TransactionID] = r.ID
	m.ordered = append(m.ordered, r.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetByTransaction(_ context.Context, transactionID string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTxn[transactionID]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[r.ID]; !ok {
		return ErrReceiptNotFound
	}
	cp := *r
	m.byID[r.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Receipt
	for i := len(m.ordered) - 1; i >= 0 && len(result) < limit; i-- {
		r := m.byID[m.ordered[i]]
		if r.FarmerID == userID || r.TransporterID == userID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}
