package dispute

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory case store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Case
	byEscrow map[string]string
	ordered  []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Case),
		byEscrow: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEscrow[c.EscrowID]; exists {
		return ErrDuplicateCase
	}
	cp := cloneCase(c)
	m.byID[c.ID] = cp
	m.byEscrow[c.EscrowID] = c.ID
	m.ordered = append(m.ordered, c.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	return cloneCase(c), nil
}

func (m *MemoryStore) GetByEscrow(_ context.Context, escrowID string) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEscrow[escrowID]
	if !ok {
		return nil, ErrCaseNotFound
	}
	return cloneCase(m.byID[id]), nil
}

func (m *MemoryStore) UpdateStatusFrom(_ context.Context, c *Case, from []Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[c.ID]
	if !ok {
		return ErrCaseNotFound
	}
	allowed := false
	for _, f := range from {
		if cur.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidCaseState
	}
	m.byID[c.ID] = cloneCase(c)
	return nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Case
	for i := len(m.ordered) - 1; i >= 0 && len(result) < limit; i-- {
		c := m.byID[m.ordered[i]]
		if c.Status == status {
			result = append(result, cloneCase(c))
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Case
	for i := len(m.ordered) - 1; i >= 0 && len(result) < limit; i-- {
		c := m.byID[m.ordered[i]]
		if c.RaisedBy == userID {
			result = append(result, cloneCase(c))
		}
	}
	return result, nil
}

func cloneCase(c *Case) *Case {
	cp := *c
	if c.Evidence != nil {
		cp.Evidence = append([]string(nil), c.Evidence...)
	}
	return &cp
}
