package escrow

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a domain event consumed by off-chain indexers.
type EventType string

const (
	EventTransactionCreated EventType = "transaction_created"
	EventPayment            EventType = "payment"
	EventPaymentCompleted   EventType = "payment_completed"
	EventMetaEvidence       EventType = "meta_evidence"
	EventEvidence           EventType = "evidence"
	EventDispute            EventType = "dispute"
	EventRuling             EventType = "ruling"
	EventFeeClaimed         EventType = "fee_claimed"
)

// PaymentType distinguishes the two directions of a Payment event.
type PaymentType string

const (
	PaymentRelease   PaymentType = "release"
	PaymentReimburse PaymentType = "reimburse"
)

// Event is one append-only domain event.
type Event struct {
	ID            string      `json:"id"`
	Type          EventType   `json:"type"`
	TransactionID int64       `json:"transactionId,omitempty"`
	ServiceID     int64       `json:"serviceId,omitempty"`
	DisputeID     int64       `json:"disputeId,omitempty"`
	ActorID       int64       `json:"actorId,omitempty"`
	PaymentType   PaymentType `json:"paymentType,omitempty"`
	Amount        string      `json:"amount,omitempty"`
	Token         string      `json:"token,omitempty"`
	Ruling        int         `json:"ruling,omitempty"`
	URI           string      `json:"uri,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// EventStore appends and lists domain events.
type EventStore interface {
	Append(ctx context.Context, e *Event) error
	ListByTransaction(ctx context.Context, transactionID int64) ([]*Event, error)
}

// MemoryEventStore is an in-memory event log for demo/development mode.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryEventStore creates a new in-memory event log.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (m *MemoryEventStore) Append(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryEventStore) ListByTransaction(ctx context.Context, transactionID int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for _, e := range m.events {
		if e.TransactionID == transactionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
