// Package platform manages marketplace platform records: the origin fee
// rates charged on transactions created through a platform, and the
// arbitration terms (price, fee timeout) its arbitrator applies.
package platform

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openwork-labs/escrowd/internal/token"
)

var (
	ErrPlatformNotFound = errors.New("platform not found")
	ErrNotOwner         = errors.New("caller is not the platform owner")
	ErrInvalidName      = errors.New("invalid platform name")
	ErrInvalidRate      = errors.New("fee rate out of range")
	ErrInvalidTimeout   = errors.New("arbitration fee timeout must be positive")
)

// Platform is a marketplace operator registered with the protocol.
// Fee rates are in basis points of token.RateDenominator.
type Platform struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	OwnerID int64  `json:"ownerId"`

	// Origin fees taken when a transaction is created through this platform.
	OriginServiceFeeRate  int64 `json:"originServiceFeeRate"`
	OriginProposalFeeRate int64 `json:"originProposalFeeRate"`

	// Arbitration terms applied to disputes on this platform.
	ArbitrationPrice      string        `json:"arbitrationPrice"`
	ArbitrationFeeTimeout time.Duration `json:"arbitrationFeeTimeout"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists platforms.
type Store interface {
	Create(ctx context.Context, p *Platform) error // assigns sequential ID
	Get(ctx context.Context, id int64) (*Platform, error)
	Update(ctx context.Context, p *Platform) error
	List(ctx context.Context) ([]*Platform, error)
}

// Service implements platform registration and owner-gated updates.
type Service struct {
	store Store

	defaultFeeTimeout time.Duration
}

// NewService creates a new platform service. defaultFeeTimeout is used when
// a platform registers without an explicit arbitration fee timeout.
func NewService(store Store, defaultFeeTimeout time.Duration) *Service {
	return &Service{store: store, defaultFeeTimeout: defaultFeeTimeout}
}

// CreateParams are the registration inputs for a new platform.
type CreateParams struct {
	Name                  string
	OwnerID               int64
	OriginServiceFeeRate  int64
	OriginProposalFeeRate int64
	ArbitrationPrice      string
	ArbitrationFeeTimeout time.Duration
}

// Create registers a new platform owned by params.OwnerID.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Platform, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" || len(name) > 100 {
		return nil, ErrInvalidName
	}
	if !token.ValidRate(params.OriginServiceFeeRate) || !token.ValidRate(params.OriginProposalFeeRate) {
		return nil, ErrInvalidRate
	}
	price := params.ArbitrationPrice
	if price == "" {
		price = "0"
	}
	if _, err := token.ParseAmount(price); err != nil {
		return nil, err
	}
	timeout := params.ArbitrationFeeTimeout
	if timeout == 0 {
		timeout = s.defaultFeeTimeout
	}
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	now := time.Now()
	p := &Platform{
		Name:                  name,
		OwnerID:               params.OwnerID,
		OriginServiceFeeRate:  params.OriginServiceFeeRate,
		OriginProposalFeeRate: params.OriginProposalFeeRate,
		ArbitrationPrice:      price,
		ArbitrationFeeTimeout: timeout,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a platform by id.
func (s *Service) Get(ctx context.Context, id int64) (*Platform, error) {
	return s.store.Get(ctx, id)
}

// List returns all registered platforms.
func (s *Service) List(ctx context.Context) ([]*Platform, error) {
	return s.store.List(ctx)
}

// OwnerOf returns the owning profile id of a platform.
func (s *Service) OwnerOf(ctx context.Context, id int64) (int64, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.OwnerID, nil
}

// UpdateFeeRates changes the origin fee rates. Owner only. Transactions
// already created keep the rates frozen at their creation time.
func (s *Service) UpdateFeeRates(ctx context.Context, callerID, platformID, serviceRate, proposalRate int64) (*Platform, error) {
	p, err := s.ownedPlatform(ctx, callerID, platformID)
	if err != nil {
		return nil, err
	}
	if !token.ValidRate(serviceRate) || !token.ValidRate(proposalRate) {
		return nil, ErrInvalidRate
	}
	p.OriginServiceFeeRate = serviceRate
	p.OriginProposalFeeRate = proposalRate
	p.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateArbitrationTerms changes the arbitration price and fee timeout.
// Owner only. The fee handshake re-reads the current price on every
// deposit, so a pending side must match the new price exactly.
func (s *Service) UpdateArbitrationTerms(ctx context.Context, callerID, platformID int64, price string, timeout time.Duration) (*Platform, error) {
	p, err := s.ownedPlatform(ctx, callerID, platformID)
	if err != nil {
		return nil, err
	}
	if _, err := token.ParseAmount(price); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	p.ArbitrationPrice = price
	p.ArbitrationFeeTimeout = timeout
	p.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ownedPlatform(ctx context.Context, callerID, platformID int64) (*Platform, error) {
	p, err := s.store.Get(ctx, platformID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	return p, nil
}
