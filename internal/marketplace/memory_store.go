package marketplace

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory service/proposal store for demo/development mode.
type MemoryStore struct {
	mu             sync.RWMutex
	nextServiceID  int64
	nextProposalID int64
	services       map[int64]*Service
	proposals      map[int64]*Proposal
}

// NewMemoryStore creates a new in-memory marketplace store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextServiceID:  1,
		nextProposalID: 1,
		services:       make(map[int64]*Service),
		proposals:      make(map[int64]*Proposal),
	}
}

func (m *MemoryStore) CreateService(ctx context.Context, s *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.ID = m.nextServiceID
	m.nextServiceID++

	cp := *s
	m.services[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetService(ctx context.Context, id int64) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateService(ctx context.Context, s *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[s.ID]; !ok {
		return ErrServiceNotFound
	}
	cp := *s
	m.services[s.ID] = &cp
	return nil
}

func (m *MemoryStore) ListServices(ctx context.Context, platformID int64) ([]*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Service, 0, len(m.services))
	for _, s := range m.services {
		if platformID != 0 && s.PlatformID != platformID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateProposal(ctx context.Context, p *Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = m.nextProposalID
	m.nextProposalID++

	cp := *p
	m.proposals[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProposal(ctx context.Context, id int64) (*Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListProposals(ctx context.Context, serviceID int64) ([]*Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Proposal
	for _, p := range m.proposals {
		if p.ServiceID != serviceID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
