package escrow

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/openwork-labs/escrowd/internal/token"
)

type feeKey struct {
	beneficiaryID int64
	token         string
}

// MemoryStore is an in-memory transaction store for demo/development mode.
type MemoryStore struct {
	mu           sync.RWMutex
	nextID       int64
	transactions map[int64]*Transaction
	byDispute    map[int64]int64
	feeBalances  map[feeKey]*big.Int
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:       1,
		transactions: make(map[int64]*Transaction),
		byDispute:    make(map[int64]int64),
		feeBalances:  make(map[feeKey]*big.Int),
	}
}

func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx.ID = m.nextID
	m.nextID++

	cp := *tx
	m.transactions[tx.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) GetByDisputeID(ctx context.Context, disputeID int64) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDispute[disputeID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *m.transactions[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[tx.ID]; !ok {
		return ErrTransactionNotFound
	}
	cp := *tx
	m.transactions[tx.ID] = &cp
	if tx.DisputeID != 0 {
		m.byDispute[tx.DisputeID] = tx.ID
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context, profileID int64, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, tx := range m.transactions {
		if profileID != 0 && tx.SenderID != profileID && tx.ReceiverID != profileID {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListExpiredWaiting(ctx context.Context, now time.Time) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, tx := range m.transactions {
		if tx.Status != StatusWaitingSender && tx.Status != StatusWaitingReceiver {
			continue
		}
		if now.Before(tx.LastInteraction.Add(tx.ArbitrationFeeTimeout)) {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreditFee(ctx context.Context, beneficiaryID int64, tok, amount string) error {
	v, err := token.ParseAmount(amount)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := feeKey{beneficiaryID, tok}
	if m.feeBalances[key] == nil {
		m.feeBalances[key] = big.NewInt(0)
	}
	m.feeBalances[key].Add(m.feeBalances[key], v)
	return nil
}

func (m *MemoryStore) FeeBalance(ctx context.Context, beneficiaryID int64, tok string) (*FeeBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	amount := "0"
	if v := m.feeBalances[feeKey{beneficiaryID, tok}]; v != nil {
		amount = v.String()
	}
	return &FeeBalance{BeneficiaryID: beneficiaryID, Token: tok, Amount: amount}, nil
}

func (m *MemoryStore) ClaimFee(ctx context.Context, beneficiaryID int64, tok string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := feeKey{beneficiaryID, tok}
	v := m.feeBalances[key]
	if v == nil || v.Sign() == 0 {
		return "0", nil
	}
	amount := v.String()
	m.feeBalances[key] = big.NewInt(0)
	return amount, nil
}
