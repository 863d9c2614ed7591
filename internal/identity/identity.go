// Package identity resolves numeric profile ids to wallet addresses and back.
//
// Every actor in the marketplace (buyer, seller, platform owner, protocol
// operator) is a profile. The escrow engine only ever sees profile ids;
// addresses exist so off-chain callers can prove who they are, and delegates
// let a profile authorize helpers to act for it (evidence submission).
package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrHandleTaken     = errors.New("handle already taken")
	ErrAddressTaken    = errors.New("address already has a profile")
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrNotOwner        = errors.New("caller does not own this profile")
)

// handleRe bounds handles to lowercase alphanumerics, dash, underscore.
var handleRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,30}$`)

// Profile is a registered marketplace identity.
type Profile struct {
	ID        int64     `json:"id"`
	Handle    string    `json:"handle"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists profiles and their delegates.
type Store interface {
	Create(ctx context.Context, p *Profile) error // assigns sequential ID
	Get(ctx context.Context, id int64) (*Profile, error)
	GetByAddress(ctx context.Context, address string) (*Profile, error)
	GetByHandle(ctx context.Context, handle string) (*Profile, error)
	AddDelegate(ctx context.Context, profileID, delegateID int64) error
	RemoveDelegate(ctx context.Context, profileID, delegateID int64) error
	IsDelegate(ctx context.Context, profileID, delegateID int64) (bool, error)
}

// Service implements profile registration and resolution.
type Service struct {
	store Store
}

// NewService creates a new identity service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register mints a new profile for a handle and wallet address.
func (s *Service) Register(ctx context.Context, handle, address string) (*Profile, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if !handleRe.MatchString(handle) {
		return nil, ErrInvalidHandle
	}
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	address = common.HexToAddress(address).Hex()

	if _, err := s.store.GetByHandle(ctx, handle); err == nil {
		return nil, ErrHandleTaken
	}
	if _, err := s.store.GetByAddress(ctx, address); err == nil {
		return nil, ErrAddressTaken
	}

	now := time.Now()
	p := &Profile{
		Handle:    handle,
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a profile by id.
func (s *Service) Get(ctx context.Context, id int64) (*Profile, error) {
	return s.store.Get(ctx, id)
}

// ResolveOwner returns the wallet address behind a profile id.
func (s *Service) ResolveOwner(ctx context.Context, id int64) (string, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return p.Address, nil
}

// ResolveID returns the profile id registered for a wallet address.
func (s *Service) ResolveID(ctx context.Context, address string) (int64, error) {
	if !common.IsHexAddress(address) {
		return 0, ErrInvalidAddress
	}
	p, err := s.store.GetByAddress(ctx, common.HexToAddress(address).Hex())
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

// AddDelegate authorizes another profile to act for profileID.
// Only the profile itself may add delegates.
func (s *Service) AddDelegate(ctx context.Context, callerID, profileID, delegateID int64) error {
	if callerID != profileID {
		return ErrNotOwner
	}
	if _, err := s.store.Get(ctx, profileID); err != nil {
		return err
	}
	if _, err := s.store.Get(ctx, delegateID); err != nil {
		return err
	}
	return s.store.AddDelegate(ctx, profileID, delegateID)
}

// RemoveDelegate revokes a delegate.
func (s *Service) RemoveDelegate(ctx context.Context, callerID, profileID, delegateID int64) error {
	if callerID != profileID {
		return ErrNotOwner
	}
	return s.store.RemoveDelegate(ctx, profileID, delegateID)
}

// IsAuthorized reports whether caller is the profile itself or one of its
// delegates.
func (s *Service) IsAuthorized(ctx context.Context, profileID, callerID int64) (bool, error) {
	if profileID == callerID {
		return true, nil
	}
	return s.store.IsDelegate(ctx, profileID, callerID)
}
