package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory escrow store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Escrow
	byTxn   map[string]string
	ordered []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Escrow),
		byTxn: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byTxn[e.TransactionID]; exists {
		return ErrDuplicateEscrow
	}
	cp := *e
	m.byID[e.ID] = &cp
	m.byTxn[e.TransactionID] = e.ID
	m.ordered = append(m.ordered, e.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetByTransaction(_ context.Context, transactionID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTxn[transactionID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) UpdateStatusFrom(_ context.Context, e *Escrow, from []Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[e.ID]
	if !ok {
		return ErrEscrowNotFound
	}
	allowed := false
	for _, f := range from {
		if cur.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidEscrowState
	}
	cp := *e
	m.byID[e.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Escrow
	for i := len(m.ordered) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.byID[m.ordered[i]]
		if e.FarmerID == userID || e.TransporterID == userID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Escrow
	for i := len(m.ordered) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.byID[m.ordered[i]]
		if e.Status == status {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListExpired(_ context.Context, before time.Time, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Escrow
	for _, id := range m.ordered {
		if len(result) >= limit {
			break
		}
		e := m.byID[id]
		if e.Status == StatusHeld && e.HeldUntil.Before(before) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}
