package platform

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory platform store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	platforms map[int64]*Platform
}

// NewMemoryStore creates a new in-memory platform store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		platforms: make(map[int64]*Platform),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = m.nextID
	m.nextID++

	cp := *p
	m.platforms[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Platform, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.platforms[id]
	if !ok {
		return nil, ErrPlatformNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.platforms[p.ID]; !ok {
		return ErrPlatformNotFound
	}
	cp := *p
	m.platforms[p.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Platform, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Platform, 0, len(m.platforms))
	for _, p := range m.platforms {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
