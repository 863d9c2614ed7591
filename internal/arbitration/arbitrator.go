// Package arbitration provides the pluggable arbitrator behind disputed
// transactions.
//
// An Arbitrator quotes a cost, opens disputes, and eventually produces a
// ruling that is forwarded to the dispute coordinator's callback. The
// default implementation routes rulings to the owner of the platform the
// disputed service originated on; other implementations (an oracle-backed
// arbitrator, a jury pool) can satisfy the same interface.
package arbitration

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/openwork-labs/escrowd/internal/platform"
	"github.com/openwork-labs/escrowd/internal/token"
)

var (
	ErrDisputeNotFound  = errors.New("dispute not found")
	ErrNotPlatformOwner = errors.New("caller does not own the ruling platform")
	ErrInsufficientFee  = errors.New("fee does not cover arbitration cost")
	ErrAlreadyRuled     = errors.New("dispute already ruled")
	ErrInvalidRuling    = errors.New("invalid ruling code")
	ErrNoHandler        = errors.New("no ruling handler registered")
)

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeWaiting    DisputeStatus = "waiting"
	DisputeAppealable DisputeStatus = "appealable"
	DisputeSolved     DisputeStatus = "solved"
)

// Dispute is one open or resolved arbitration case.
type Dispute struct {
	ID            int64         `json:"id"`
	TransactionID int64         `json:"transactionId"`
	PlatformID    int64         `json:"platformId"`
	Fee           string        `json:"fee"`
	Status        DisputeStatus `json:"status"`
	Ruling        int           `json:"ruling"`
	CreatedAt     time.Time     `json:"createdAt"`
	ResolvedAt    *time.Time    `json:"resolvedAt,omitempty"`
}

// Store persists disputes.
type Store interface {
	Create(ctx context.Context, d *Dispute) error // assigns sequential ID
	Get(ctx context.Context, id int64) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	List(ctx context.Context, platformID int64) ([]*Dispute, error)
}

// Arbitrator is the capability the dispute coordinator depends on.
type Arbitrator interface {
	// ArbitrationCost quotes the current fee each side must deposit.
	ArbitrationCost(ctx context.Context, platformID int64) (string, error)
	// CreateDispute opens a case once both deposits are in; fee is the
	// combined deposit and must cover twice the arbitration cost at quote
	// time of the second payer.
	CreateDispute(ctx context.Context, platformID, transactionID int64, fee string) (int64, error)
}

// RulingHandler receives a final ruling for application to the escrow
// ledger. Implemented by the dispute coordinator.
type RulingHandler interface {
	Rule(ctx context.Context, disputeID, transactionID int64, ruling int) error
}

// PlatformRegistry is the platform surface the arbitrator consumes.
type PlatformRegistry interface {
	Get(ctx context.Context, id int64) (*platform.Platform, error)
	OwnerOf(ctx context.Context, id int64) (int64, error)
}

// PlatformArbitrator lets each platform's owner rule disputes on deals
// originated through that platform.
type PlatformArbitrator struct {
	store     Store
	platforms PlatformRegistry
	handler   RulingHandler
	logger    *slog.Logger
}

// NewPlatformArbitrator creates the default arbitrator. The ruling handler
// is attached afterwards with SetRulingHandler to break the construction
// cycle with the dispute coordinator.
func NewPlatformArbitrator(store Store, platforms PlatformRegistry, logger *slog.Logger) *PlatformArbitrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlatformArbitrator{store: store, platforms: platforms, logger: logger}
}

// SetRulingHandler registers the callback rulings are forwarded to.
func (a *PlatformArbitrator) SetRulingHandler(h RulingHandler) {
	a.handler = h
}

// ArbitrationCost returns the platform's current per-side arbitration fee.
func (a *PlatformArbitrator) ArbitrationCost(ctx context.Context, platformID int64) (string, error) {
	p, err := a.platforms.Get(ctx, platformID)
	if err != nil {
		return "", err
	}
	return p.ArbitrationPrice, nil
}

// CreateDispute opens a new case in Waiting status.
func (a *PlatformArbitrator) CreateDispute(ctx context.Context, platformID, transactionID int64, fee string) (int64, error) {
	cost, err := a.ArbitrationCost(ctx, platformID)
	if err != nil {
		return 0, err
	}
	costV, err := token.ParseAmount(cost)
	if err != nil {
		return 0, err
	}
	feeV, err := token.ParseAmount(fee)
	if err != nil {
		return 0, err
	}
	required := new(big.Int).Lsh(costV, 1) // both sides' deposits
	if feeV.Cmp(required) < 0 {
		return 0, ErrInsufficientFee
	}

	d := &Dispute{
		TransactionID: transactionID,
		PlatformID:    platformID,
		Fee:           fee,
		Status:        DisputeWaiting,
		CreatedAt:     time.Now(),
	}
	if err := a.store.Create(ctx, d); err != nil {
		return 0, err
	}
	a.logger.Info("dispute created",
		"dispute_id", d.ID, "transaction_id", transactionID, "platform_id", platformID, "fee", fee)
	return d.ID, nil
}

// GiveRuling resolves a dispute. Only the owner of the dispute's platform
// may rule, and a dispute may be ruled exactly once.
func (a *PlatformArbitrator) GiveRuling(ctx context.Context, callerID, disputeID int64, ruling int) (*Dispute, error) {
	if ruling < 0 || ruling > 2 {
		return nil, ErrInvalidRuling
	}
	if a.handler == nil {
		return nil, ErrNoHandler
	}

	d, err := a.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == DisputeSolved {
		return nil, ErrAlreadyRuled
	}

	ownerID, err := a.platforms.OwnerOf(ctx, d.PlatformID)
	if err != nil {
		return nil, err
	}
	if ownerID != callerID {
		return nil, ErrNotPlatformOwner
	}

	// The handler performs the full settlement; only then is the dispute
	// marked solved. A rerun after a handler failure hits the escrow
	// state guards, never a double transfer.
	if err := a.handler.Rule(ctx, d.ID, d.TransactionID, ruling); err != nil {
		return nil, err
	}

	now := time.Now()
	d.Status = DisputeSolved
	d.Ruling = ruling
	d.ResolvedAt = &now
	if err := a.store.Update(ctx, d); err != nil {
		return nil, err
	}
	a.logger.Info("dispute ruled", "dispute_id", d.ID, "ruling", ruling, "ruler_id", callerID)
	return d, nil
}

// Get returns a dispute by id.
func (a *PlatformArbitrator) Get(ctx context.Context, id int64) (*Dispute, error) {
	return a.store.Get(ctx, id)
}

// List returns disputes, optionally filtered by platform (0 = all).
func (a *PlatformArbitrator) List(ctx context.Context, platformID int64) ([]*Dispute, error) {
	return a.store.List(ctx, platformID)
}
