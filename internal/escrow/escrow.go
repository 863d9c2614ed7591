// Package escrow implements the transaction ledger at the heart of the
// engine: locked principals, incremental release and reimbursement, frozen
// fee snapshots, claimable fee balances, and ruling application.
package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/openwork-labs/escrowd/internal/marketplace"
	"github.com/openwork-labs/escrowd/internal/platform"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrNonMatchingFunds    = errors.New("payment does not match principal plus fees")
	ErrProposalExpired     = errors.New("accepted proposal has expired")
	ErrProposalDataChanged = errors.New("proposal data digest does not match")
	ErrServiceNotOpen      = errors.New("service is not open")
	ErrDisputed            = errors.New("transaction is under dispute")
	ErrNotDisputed         = errors.New("transaction is not under dispute")
	ErrAmountTooLow        = errors.New("amount too low")
	ErrInsufficientFunds   = errors.New("amount exceeds remaining principal")
	ErrAlreadyResolved     = errors.New("transaction already resolved")
	ErrTimeoutNotReached   = errors.New("arbitration fee timeout not reached")
	ErrPaused              = errors.New("escrow is paused")
	ErrNoFeeBalance        = errors.New("no claimable fee balance")
	ErrInvalidRuling       = errors.New("invalid ruling")
)

// ProtocolBeneficiary is the fee-balance key for the protocol operator's
// share. Platform shares are keyed by their platform id, which is always
// positive.
const ProtocolBeneficiary int64 = 0

// Status is the dispute-lifecycle state of a transaction.
type Status string

const (
	StatusNoDispute       Status = "no_dispute"
	StatusWaitingSender   Status = "waiting_sender"
	StatusWaitingReceiver Status = "waiting_receiver"
	StatusDisputeCreated  Status = "dispute_created"
	StatusResolved        Status = "resolved"
)

// Ruling codes applied to a disputed transaction.
const (
	RulingAbstain  = 0 // split 50/50
	RulingSender   = 1 // favor sender (buyer)
	RulingReceiver = 2 // favor receiver (seller)
)

// Transaction is one escrowed deal. Created once, resolved in place,
// never deleted.
type Transaction struct {
	ID         int64 `json:"id"`
	SenderID   int64 `json:"senderId"`
	ReceiverID int64 `json:"receiverId"`
	ServiceID  int64 `json:"serviceId"`
	ProposalID int64 `json:"proposalId"`

	Token string `json:"token"`

	// Amount is the principal still locked; OriginalAmount never changes.
	// LockedTotal tracks principal plus fees still held in the sender's
	// escrow, so truncation dust can be refunded at resolution.
	Amount         string `json:"amount"`
	OriginalAmount string `json:"originalAmount"`
	ReleasedAmount string `json:"releasedAmount"`
	LockedTotal    string `json:"lockedTotal"`

	// Fee rates in basis points, frozen at creation. Never recomputed.
	ProtocolFeeRate       int64 `json:"protocolFeeRate"`
	OriginServiceFeeRate  int64 `json:"originServiceFeeRate"`
	OriginProposalFeeRate int64 `json:"originProposalFeeRate"`

	ServicePlatformID  int64 `json:"servicePlatformId"`
	ProposalPlatformID int64 `json:"proposalPlatformId"`

	// Arbitration terms frozen at creation from the service's platform.
	ArbitrationFeeTimeout time.Duration `json:"arbitrationFeeTimeout"`

	Status          Status    `json:"status"`
	SenderFee       string    `json:"senderFee"`
	ReceiverFee     string    `json:"receiverFee"`
	DisputeID       int64     `json:"disputeId,omitempty"`
	LastInteraction time.Time `json:"lastInteraction"`

	MetaEvidenceURI string `json:"metaEvidenceUri"`

	// ThresholdCrossed records whether ReleasedAmount ever reached the
	// completion threshold; it decides finished vs uncompleted at drain.
	ThresholdCrossed bool `json:"thresholdCrossed"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FeeBalance is an accrued, unclaimed fee share for a beneficiary
// (a platform id, or ProtocolBeneficiary) in one token.
type FeeBalance struct {
	BeneficiaryID int64  `json:"beneficiaryId"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
}

// Store persists transactions and fee balances.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error // assigns sequential ID
	Get(ctx context.Context, id int64) (*Transaction, error)
	GetByDisputeID(ctx context.Context, disputeID int64) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
	List(ctx context.Context, profileID int64, limit int) ([]*Transaction, error)
	// ListExpiredWaiting returns transactions stuck in a waiting state
	// whose arbitration fee timeout elapsed before now.
	ListExpiredWaiting(ctx context.Context, now time.Time) ([]*Transaction, error)

	// CreditFee adds amount to a beneficiary's claimable balance.
	CreditFee(ctx context.Context, beneficiaryID int64, tok, amount string) error
	// FeeBalance reads a claimable balance; zero if never credited.
	FeeBalance(ctx context.Context, beneficiaryID int64, tok string) (*FeeBalance, error)
	// ClaimFee zeroes a balance and returns the amount it held. The zeroing
	// must be visible before any transfer is attempted.
	ClaimFee(ctx context.Context, beneficiaryID int64, tok string) (string, error)
}

// ServiceRegistry is the marketplace surface the escrow engine consumes.
type ServiceRegistry interface {
	GetAcceptedTerms(ctx context.Context, serviceID int64) (*marketplace.AcceptedTerms, error)
	OwnerOf(ctx context.Context, serviceID int64) (int64, error)
	MarkConfirmed(ctx context.Context, serviceID, transactionID int64) error
	MarkFinished(ctx context.Context, serviceID int64) error
	MarkUncompleted(ctx context.Context, serviceID int64) error
}

// PlatformRegistry supplies fee rates and arbitration terms per platform.
type PlatformRegistry interface {
	Get(ctx context.Context, id int64) (*platform.Platform, error)
	OwnerOf(ctx context.Context, id int64) (int64, error)
}

// Ledger is the value-movement surface the escrow engine consumes.
type Ledger interface {
	Lock(ctx context.Context, accountID int64, tok, amount, ref string) error
	Unlock(ctx context.Context, accountID int64, tok, amount, ref string) error
	ReleaseTo(ctx context.Context, fromID, toID int64, tok, amount, ref string) error
	Transfer(ctx context.Context, fromID, toID int64, tok, amount, ref string) error
}
