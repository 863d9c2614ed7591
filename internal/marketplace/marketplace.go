// Package marketplace manages service listings and the proposals made
// against them.
//
// A buyer posts a service on a platform; sellers respond with proposals,
// each priced in a token and carrying a keccak256 digest of its terms. The
// buyer accepts exactly one proposal, and the escrow engine later validates
// the accepted terms (amount, token, digest, expiry) when locking funds.
// The service's platform earns the origin-service fee; the proposal's
// platform earns the origin-validated-proposal fee, and the two may differ.
package marketplace

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openwork-labs/escrowd/internal/token"
)

var (
	ErrServiceNotFound    = errors.New("service not found")
	ErrProposalNotFound   = errors.New("proposal not found")
	ErrNotOwner           = errors.New("caller does not own this resource")
	ErrServiceNotOpen     = errors.New("service is not open")
	ErrProposalExpired    = errors.New("proposal has expired")
	ErrProposalMismatch   = errors.New("proposal does not belong to this service")
	ErrNoAcceptedProposal = errors.New("service has no accepted proposal")
	ErrAlreadyAccepted    = errors.New("service already has an accepted proposal")
	ErrInvalidDescription = errors.New("invalid description")
)

// ServiceStatus is the lifecycle state of a service listing.
type ServiceStatus string

const (
	ServiceOpen        ServiceStatus = "open"
	ServiceConfirmed   ServiceStatus = "confirmed"
	ServiceFinished    ServiceStatus = "finished"
	ServiceUncompleted ServiceStatus = "uncompleted"
)

// Service is a buyer's listing on a platform.
type Service struct {
	ID          int64         `json:"id"`
	BuyerID     int64         `json:"buyerId"`
	PlatformID  int64         `json:"platformId"`
	Description string        `json:"description"`
	Status      ServiceStatus `json:"status"`

	// Set once a proposal is accepted / escrow confirms.
	AcceptedProposalID int64 `json:"acceptedProposalId,omitempty"`
	TransactionID      int64 `json:"transactionId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Proposal is a seller's priced offer against a service.
type Proposal struct {
	ID         int64  `json:"id"`
	ServiceID  int64  `json:"serviceId"`
	SellerID   int64  `json:"sellerId"`
	PlatformID int64  `json:"platformId"`
	Token      string `json:"token"`
	Amount     string `json:"amount"`

	// DataDigest is the keccak256 of the proposal terms at creation time.
	// Escrow re-checks it so accepted terms cannot be swapped afterwards.
	DataDigest string    `json:"dataDigest"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AcceptedTerms is the snapshot the escrow engine validates against when a
// transaction is created for a service.
type AcceptedTerms struct {
	ProposalID         int64
	SellerID           int64
	Token              string
	Amount             string
	ServicePlatformID  int64
	ProposalPlatformID int64
	DataDigest         string
	ExpiresAt          time.Time
}

// DigestProposalData computes the canonical digest of proposal terms.
func DigestProposalData(data string) string {
	return crypto.Keccak256Hash([]byte(data)).Hex()
}

// Store persists services and proposals.
type Store interface {
	CreateService(ctx context.Context, s *Service) error // assigns sequential ID
	GetService(ctx context.Context, id int64) (*Service, error)
	UpdateService(ctx context.Context, s *Service) error
	ListServices(ctx context.Context, platformID int64) ([]*Service, error)

	CreateProposal(ctx context.Context, p *Proposal) error // assigns sequential ID
	GetProposal(ctx context.Context, id int64) (*Proposal, error)
	ListProposals(ctx context.Context, serviceID int64) ([]*Proposal, error)
}

// Registry implements service/proposal management.
type Registry struct {
	store Store
}

// NewRegistry creates a new marketplace registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// CreateService posts a new listing owned by buyerID on a platform.
func (r *Registry) CreateService(ctx context.Context, buyerID, platformID int64, description string) (*Service, error) {
	description = strings.TrimSpace(description)
	if description == "" || len(description) > 2000 {
		return nil, ErrInvalidDescription
	}

	now := time.Now()
	s := &Service{
		BuyerID:     buyerID,
		PlatformID:  platformID,
		Description: description,
		Status:      ServiceOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateService(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetService returns a service by id.
func (r *Registry) GetService(ctx context.Context, id int64) (*Service, error) {
	return r.store.GetService(ctx, id)
}

// ListServices returns services, optionally filtered by platform (0 = all).
func (r *Registry) ListServices(ctx context.Context, platformID int64) ([]*Service, error) {
	return r.store.ListServices(ctx, platformID)
}

// CreateProposalParams are the inputs for a seller's offer.
type CreateProposalParams struct {
	ServiceID  int64
	SellerID   int64
	PlatformID int64
	Token      string
	Amount     string
	Data       string
	ExpiresAt  time.Time
}

// CreateProposal records a seller's priced offer against an open service.
func (r *Registry) CreateProposal(ctx context.Context, params CreateProposalParams) (*Proposal, error) {
	svc, err := r.store.GetService(ctx, params.ServiceID)
	if err != nil {
		return nil, err
	}
	if svc.Status != ServiceOpen {
		return nil, ErrServiceNotOpen
	}

	cur, err := token.Normalize(params.Token)
	if err != nil {
		return nil, err
	}
	amt, err := token.ParseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if amt.Sign() <= 0 {
		return nil, token.ErrInvalidAmount
	}
	if params.ExpiresAt.Before(time.Now()) {
		return nil, ErrProposalExpired
	}

	p := &Proposal{
		ServiceID:  params.ServiceID,
		SellerID:   params.SellerID,
		PlatformID: params.PlatformID,
		Token:      cur,
		Amount:     amt.String(),
		DataDigest: DigestProposalData(params.Data),
		ExpiresAt:  params.ExpiresAt,
		CreatedAt:  time.Now(),
	}
	if err := r.store.CreateProposal(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProposal returns a proposal by id.
func (r *Registry) GetProposal(ctx context.Context, id int64) (*Proposal, error) {
	return r.store.GetProposal(ctx, id)
}

// ListProposals returns all proposals made against a service.
func (r *Registry) ListProposals(ctx context.Context, serviceID int64) ([]*Proposal, error) {
	return r.store.ListProposals(ctx, serviceID)
}

// AcceptProposal records the buyer's choice of proposal. The service stays
// open until escrow confirms it with locked funds.
func (r *Registry) AcceptProposal(ctx context.Context, callerID, serviceID, proposalID int64) (*Service, error) {
	svc, err := r.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.BuyerID != callerID {
		return nil, ErrNotOwner
	}
	if svc.Status != ServiceOpen {
		return nil, ErrServiceNotOpen
	}
	if svc.AcceptedProposalID != 0 {
		return nil, ErrAlreadyAccepted
	}

	p, err := r.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.ServiceID != serviceID {
		return nil, ErrProposalMismatch
	}
	if p.ExpiresAt.Before(time.Now()) {
		return nil, ErrProposalExpired
	}

	svc.AcceptedProposalID = proposalID
	svc.UpdatedAt = time.Now()
	if err := r.store.UpdateService(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// GetAcceptedTerms returns the accepted proposal's terms for escrow
// validation. The service must still be open and have an accepted proposal.
func (r *Registry) GetAcceptedTerms(ctx context.Context, serviceID int64) (*AcceptedTerms, error) {
	svc, err := r.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.Status != ServiceOpen {
		return nil, ErrServiceNotOpen
	}
	if svc.AcceptedProposalID == 0 {
		return nil, ErrNoAcceptedProposal
	}
	p, err := r.store.GetProposal(ctx, svc.AcceptedProposalID)
	if err != nil {
		return nil, err
	}
	return &AcceptedTerms{
		ProposalID:         p.ID,
		SellerID:           p.SellerID,
		Token:              p.Token,
		Amount:             p.Amount,
		ServicePlatformID:  svc.PlatformID,
		ProposalPlatformID: p.PlatformID,
		DataDigest:         p.DataDigest,
		ExpiresAt:          p.ExpiresAt,
	}, nil
}

// OwnerOf returns the buyer profile id that owns a service.
func (r *Registry) OwnerOf(ctx context.Context, serviceID int64) (int64, error) {
	svc, err := r.store.GetService(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	return svc.BuyerID, nil
}

// MarkConfirmed transitions an open service to confirmed once escrow funds
// are locked against its accepted proposal.
func (r *Registry) MarkConfirmed(ctx context.Context, serviceID, transactionID int64) error {
	svc, err := r.store.GetService(ctx, serviceID)
	if err != nil {
		return err
	}
	if svc.Status != ServiceOpen {
		return ErrServiceNotOpen
	}
	svc.Status = ServiceConfirmed
	svc.TransactionID = transactionID
	svc.UpdatedAt = time.Now()
	return r.store.UpdateService(ctx, svc)
}

// MarkFinished marks a confirmed service as successfully completed.
func (r *Registry) MarkFinished(ctx context.Context, serviceID int64) error {
	return r.setTerminal(ctx, serviceID, ServiceFinished)
}

// MarkUncompleted marks a confirmed service as drained without reaching the
// completion threshold.
func (r *Registry) MarkUncompleted(ctx context.Context, serviceID int64) error {
	return r.setTerminal(ctx, serviceID, ServiceUncompleted)
}

func (r *Registry) setTerminal(ctx context.Context, serviceID int64, status ServiceStatus) error {
	svc, err := r.store.GetService(ctx, serviceID)
	if err != nil {
		return err
	}
	// Terminal transitions are idempotent; a finished service stays finished.
	if svc.Status == ServiceFinished || svc.Status == ServiceUncompleted {
		return nil
	}
	svc.Status = status
	svc.UpdatedAt = time.Now()
	return r.store.UpdateService(ctx, svc)
}
