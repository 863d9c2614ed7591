package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory profile store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	profiles  map[int64]*Profile
	byAddress map[string]int64
	byHandle  map[string]int64
	delegates map[int64]map[int64]bool
}

// NewMemoryStore creates a new in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		profiles:  make(map[int64]*Profile),
		byAddress: make(map[string]int64),
		byHandle:  make(map[string]int64),
		delegates: make(map[int64]map[int64]bool),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHandle[p.Handle]; ok {
		return ErrHandleTaken
	}
	if _, ok := m.byAddress[p.Address]; ok {
		return ErrAddressTaken
	}

	p.ID = m.nextID
	m.nextID++

	cp := *p
	m.profiles[p.ID] = &cp
	m.byAddress[p.Address] = p.ID
	m.byHandle[p.Handle] = p.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetByAddress(ctx context.Context, address string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byAddress[address]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *m.profiles[id]
	return &cp, nil
}

func (m *MemoryStore) GetByHandle(ctx context.Context, handle string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHandle[handle]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *m.profiles[id]
	return &cp, nil
}

func (m *MemoryStore) AddDelegate(ctx context.Context, profileID, delegateID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.delegates[profileID] == nil {
		m.delegates[profileID] = make(map[int64]bool)
	}
	m.delegates[profileID][delegateID] = true
	return nil
}

func (m *MemoryStore) RemoveDelegate(ctx context.Context, profileID, delegateID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.delegates[profileID], delegateID)
	return nil
}

func (m *MemoryStore) IsDelegate(ctx context.Context, profileID, delegateID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.delegates[profileID][delegateID], nil
}
