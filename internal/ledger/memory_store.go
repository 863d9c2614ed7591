package ledger

import (
	"context"
	"sort"
	"sync"
)

type balanceKey struct {
	accountID int64
	token     string
}

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[balanceKey]*Balance
	entries  []*Entry
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[balanceKey]*Balance),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, accountID int64, tok string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[balanceKey{accountID, tok}]
	if !ok {
		return &Balance{AccountID: accountID, Token: tok, Available: "0", Escrowed: "0"}, nil
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) Apply(ctx context.Context, balances []*Balance, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range balances {
		cp := *b
		m.balances[balanceKey{b.AccountID, b.Token}] = &cp
	}
	for _, e := range entries {
		cp := *e
		m.entries = append(m.entries, &cp)
	}
	return nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, accountID int64, tok string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if e.AccountID != accountID || e.Token != tok {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	// Oldest first; replay depends on insertion order.
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) ListBalances(ctx context.Context, accountID int64) ([]*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Balance
	for _, b := range m.balances {
		if b.AccountID != accountID {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}
