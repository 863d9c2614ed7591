package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openwork-labs/escrowd/internal/idgen"
	"github.com/openwork-labs/escrowd/internal/marketplace"
	"github.com/openwork-labs/escrowd/internal/metrics"
	"github.com/openwork-labs/escrowd/internal/token"
	"github.com/openwork-labs/escrowd/internal/traces"
)

// Options configures the escrow service.
type Options struct {
	// ProtocolFeeRate is the protocol-wide fee rate in basis points,
	// snapshotted into every new transaction.
	ProtocolFeeRate int64
	// CompletionThreshold is the releasedAmount/originalAmount ratio, in
	// basis points, at which a service counts as finished.
	CompletionThreshold int64
	Logger              *slog.Logger
}

// Service implements the escrow transaction ledger.
type Service struct {
	store     Store
	events    EventStore
	ledger    Ledger
	services  ServiceRegistry
	platforms PlatformRegistry
	perms     *Permissions

	protocolRate        int64
	completionThreshold int64
	logger              *slog.Logger

	paused atomic.Bool

	// txLocks serializes all state-changing calls per transaction.
	txLocks sync.Map
}

// NewService creates a new escrow service.
func NewService(store Store, events EventStore, ledger Ledger, services ServiceRegistry, platforms PlatformRegistry, perms *Permissions, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:               store,
		events:              events,
		ledger:              ledger,
		services:            services,
		platforms:           platforms,
		perms:               perms,
		protocolRate:        opts.ProtocolFeeRate,
		completionThreshold: opts.CompletionThreshold,
		logger:              logger,
	}
}

// LockTransaction serializes access to one transaction. The returned
// function releases the lock. Shared with the dispute coordinator so its
// fee-handshake mutations cannot interleave with release/reimburse.
func (s *Service) LockTransaction(id int64) func() {
	v, _ := s.txLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Paused reports whether the global pause switch is on.
func (s *Service) Paused() bool {
	return s.paused.Load()
}

// Pause disables transaction creation, release, and reimbursement. Claim
// stays open so already-earned fees remain withdrawable.
func (s *Service) Pause(callerID int64) error {
	if !s.perms.Has(callerID, CapPause) {
		return ErrAccessDenied
	}
	s.paused.Store(true)
	s.logger.Warn("escrow paused", "caller_id", callerID)
	return nil
}

// Unpause re-enables value movement.
func (s *Service) Unpause(callerID int64) error {
	if !s.perms.Has(callerID, CapUnpause) {
		return ErrAccessDenied
	}
	s.paused.Store(false)
	s.logger.Info("escrow unpaused", "caller_id", callerID)
	return nil
}

// Create locks principal plus fees against a service's accepted proposal
// and opens a transaction in NoDispute status.
//
// The caller must be the buyer that owns the service, the accepted proposal
// must be unexpired and its digest unchanged, and payment must equal
// principal + fees exactly.
func (s *Service) Create(ctx context.Context, callerID, serviceID int64, metaEvidenceURI, proposalDataDigest, payment string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create", traces.ProfileID(callerID))
	defer span.End()

	if s.paused.Load() {
		return nil, ErrPaused
	}

	ownerID, err := s.services.OwnerOf(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if ownerID != callerID {
		return nil, ErrAccessDenied
	}

	terms, err := s.services.GetAcceptedTerms(ctx, serviceID)
	if err != nil {
		if errors.Is(err, marketplace.ErrServiceNotOpen) {
			return nil, ErrServiceNotOpen
		}
		return nil, err
	}
	if time.Now().After(terms.ExpiresAt) {
		return nil, ErrProposalExpired
	}
	if proposalDataDigest != terms.DataDigest {
		return nil, ErrProposalDataChanged
	}

	svcPlatform, err := s.platforms.Get(ctx, terms.ServicePlatformID)
	if err != nil {
		return nil, err
	}
	propPlatform, err := s.platforms.Get(ctx, terms.ProposalPlatformID)
	if err != nil {
		return nil, err
	}
	rates := ComputeFees(svcPlatform, propPlatform, s.protocolRate)

	principal, err := token.ParseAmount(terms.Amount)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(principal, token.FeeShare(principal, rates.Total()))

	paid, err := token.ParseAmount(payment)
	if err != nil {
		return nil, err
	}
	if paid.Cmp(total) != 0 {
		return nil, ErrNonMatchingFunds
	}

	if err := s.ledger.Lock(ctx, callerID, terms.Token, total.String(), fmt.Sprintf("svc:%d", serviceID)); err != nil {
		return nil, err
	}

	now := time.Now()
	tx := &Transaction{
		SenderID:              callerID,
		ReceiverID:            terms.SellerID,
		ServiceID:             serviceID,
		ProposalID:            terms.ProposalID,
		Token:                 terms.Token,
		Amount:                principal.String(),
		OriginalAmount:        principal.String(),
		ReleasedAmount:        "0",
		LockedTotal:           total.String(),
		ProtocolFeeRate:       rates.Protocol,
		OriginServiceFeeRate:  rates.OriginService,
		OriginProposalFeeRate: rates.OriginProposal,
		ServicePlatformID:     terms.ServicePlatformID,
		ProposalPlatformID:    terms.ProposalPlatformID,
		ArbitrationFeeTimeout: svcPlatform.ArbitrationFeeTimeout,
		Status:                StatusNoDispute,
		SenderFee:             "0",
		ReceiverFee:           "0",
		LastInteraction:       now,
		MetaEvidenceURI:       metaEvidenceURI,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.Create(ctx, tx); err != nil {
		// Best effort: return the locked funds before surfacing the error.
		if uerr := s.ledger.Unlock(ctx, callerID, terms.Token, total.String(), fmt.Sprintf("svc:%d", serviceID)); uerr != nil {
			s.logger.Error("failed to unlock after create failure", "service_id", serviceID, "error", uerr)
		}
		return nil, err
	}

	if err := s.services.MarkConfirmed(ctx, serviceID, tx.ID); err != nil {
		s.logger.Error("failed to confirm service", "service_id", serviceID, "transaction_id", tx.ID, "error", err)
	}

	span.SetAttributes(traces.TransactionID(tx.ID), traces.Amount(tx.Amount), traces.Currency(tx.Token))
	s.appendEvent(ctx, &Event{
		Type:          EventTransactionCreated,
		TransactionID: tx.ID,
		ServiceID:     serviceID,
		ActorID:       callerID,
		Amount:        tx.Amount,
		Token:         tx.Token,
	})
	s.appendEvent(ctx, &Event{
		Type:          EventMetaEvidence,
		TransactionID: tx.ID,
		URI:           metaEvidenceURI,
	})
	metrics.TransactionsCreatedTotal.Inc()
	s.logger.Info("transaction created",
		"transaction_id", tx.ID, "service_id", serviceID,
		"sender_id", tx.SenderID, "receiver_id", tx.ReceiverID,
		"amount", tx.Amount, "locked_total", tx.LockedTotal)
	return tx, nil
}

// Release pays part of the remaining principal to the receiver, fee-free,
// crediting the three fee shares to their claimable balances. Sender only.
func (s *Service) Release(ctx context.Context, callerID, transactionID int64, amount string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release",
		traces.TransactionID(transactionID), traces.ProfileID(callerID), traces.Amount(amount))
	defer span.End()

	if s.paused.Load() {
		return nil, ErrPaused
	}

	unlock := s.LockTransaction(transactionID)
	defer unlock()

	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.SenderID != callerID {
		return nil, ErrAccessDenied
	}
	if err := s.checkMutable(tx); err != nil {
		return nil, err
	}

	v, err := s.parseMovable(tx, amount)
	if err != nil {
		return nil, err
	}

	if err := s.releaseFunds(ctx, tx, v); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, &Event{
		Type:          EventPayment,
		TransactionID: tx.ID,
		ServiceID:     tx.ServiceID,
		ActorID:       callerID,
		PaymentType:   PaymentRelease,
		Amount:        v.String(),
		Token:         tx.Token,
	})
	metrics.PaymentsTotal.WithLabelValues(string(PaymentRelease)).Inc()

	if err := s.finishIfDrained(ctx, tx); err != nil {
		return nil, err
	}
	tx.LastInteraction = time.Now()
	tx.UpdatedAt = tx.LastInteraction
	if err := s.store.Update(ctx, tx); err != nil {
		return nil, err
	}
	s.logger.Info("released", "transaction_id", tx.ID, "amount", v.String(), "remaining", tx.Amount)
	return tx, nil
}

// Reimburse returns part of the remaining principal, plus the proportional
// fees on it, to the sender. Receiver only. No fee is retained on
// reimbursed value.
func (s *Service) Reimburse(ctx context.Context, callerID, transactionID int64, amount string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Reimburse",
		traces.TransactionID(transactionID), traces.ProfileID(callerID), traces.Amount(amount))
	defer span.End()

	if s.paused.Load() {
		return nil, ErrPaused
	}

	unlock := s.LockTransaction(transactionID)
	defer unlock()

	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.ReceiverID != callerID {
		return nil, ErrAccessDenied
	}
	if err := s.checkMutable(tx); err != nil {
		return nil, err
	}

	v, err := s.parseMovable(tx, amount)
	if err != nil {
		return nil, err
	}

	if err := s.reimburseFunds(ctx, tx, v); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, &Event{
		Type:          EventPayment,
		TransactionID: tx.ID,
		ServiceID:     tx.ServiceID,
		ActorID:       callerID,
		PaymentType:   PaymentReimburse,
		Amount:        v.String(),
		Token:         tx.Token,
	})
	metrics.PaymentsTotal.WithLabelValues(string(PaymentReimburse)).Inc()

	if err := s.finishIfDrained(ctx, tx); err != nil {
		return nil, err
	}
	tx.LastInteraction = time.Now()
	tx.UpdatedAt = tx.LastInteraction
	if err := s.store.Update(ctx, tx); err != nil {
		return nil, err
	}
	s.logger.Info("reimbursed", "transaction_id", tx.ID, "amount", v.String(), "remaining", tx.Amount)
	return tx, nil
}

// Claim withdraws a beneficiary's full claimable fee balance in one token.
// Platform balances may be claimed by the platform owner; the protocol
// balance by a holder of the claim_protocol capability. Allowed while
// paused.
func (s *Service) Claim(ctx context.Context, callerID, beneficiaryID int64, tok string) (string, error) {
	tok, err := token.Normalize(tok)
	if err != nil {
		return "", err
	}

	if beneficiaryID == ProtocolBeneficiary {
		if !s.perms.Has(callerID, CapClaimProtocol) {
			return "", ErrAccessDenied
		}
	} else {
		ownerID, err := s.platforms.OwnerOf(ctx, beneficiaryID)
		if err != nil {
			return "", err
		}
		if ownerID != callerID {
			return "", ErrAccessDenied
		}
	}

	// Zero the balance before moving value out.
	amount, err := s.store.ClaimFee(ctx, beneficiaryID, tok)
	if err != nil {
		return "", err
	}
	v, err := token.ParseAmount(amount)
	if err != nil {
		return "", err
	}
	if v.Sign() == 0 {
		return "", ErrNoFeeBalance
	}

	ref := fmt.Sprintf("feeclaim:%d", beneficiaryID)
	if err := s.ledger.Transfer(ctx, FeePoolAccount, callerID, tok, amount, ref); err != nil {
		// Put the balance back so the claim can be retried.
		if cerr := s.store.CreditFee(ctx, beneficiaryID, tok, amount); cerr != nil {
			s.logger.Error("failed to restore fee balance after transfer failure",
				"beneficiary_id", beneficiaryID, "amount", amount, "error", cerr)
		}
		return "", err
	}

	s.appendEvent(ctx, &Event{
		Type:    EventFeeClaimed,
		ActorID: callerID,
		Amount:  amount,
		Token:   tok,
	})
	metrics.FeeClaimsTotal.Inc()
	s.logger.Info("fees claimed", "beneficiary_id", beneficiaryID, "caller_id", callerID, "amount", amount)
	return amount, nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id int64) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// GetByDisputeID returns the transaction a dispute id is bound to.
func (s *Service) GetByDisputeID(ctx context.Context, disputeID int64) (*Transaction, error) {
	return s.store.GetByDisputeID(ctx, disputeID)
}

// List returns transactions a profile participates in.
func (s *Service) List(ctx context.Context, profileID int64, limit int) ([]*Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.List(ctx, profileID, limit)
}

// Events returns the domain event log for a transaction.
func (s *Service) Events(ctx context.Context, transactionID int64) ([]*Event, error) {
	return s.events.ListByTransaction(ctx, transactionID)
}

// FeeBalance reads a beneficiary's claimable balance.
func (s *Service) FeeBalance(ctx context.Context, beneficiaryID int64, tok string) (*FeeBalance, error) {
	tok, err := token.Normalize(tok)
	if err != nil {
		return nil, err
	}
	return s.store.FeeBalance(ctx, beneficiaryID, tok)
}

// checkMutable rejects release/reimburse on disputed or resolved
// transactions.
func (s *Service) checkMutable(tx *Transaction) error {
	switch tx.Status {
	case StatusResolved:
		return ErrAlreadyResolved
	case StatusDisputeCreated:
		return ErrDisputed
	}
	return nil
}

// parseMovable validates an amount against the remaining principal.
func (s *Service) parseMovable(tx *Transaction, amount string) (*big.Int, error) {
	v, err := token.ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, ErrAmountTooLow
	}
	remaining, err := token.ParseAmount(tx.Amount)
	if err != nil {
		return nil, err
	}
	if v.Cmp(remaining) > 0 {
		return nil, ErrInsufficientFunds
	}
	return v, nil
}

func (s *Service) appendEvent(ctx context.Context, e *Event) {
	e.ID = idgen.WithPrefix("evt_")
	e.CreatedAt = time.Now()
	if err := s.events.Append(ctx, e); err != nil {
		s.logger.Error("failed to append event", "type", e.Type, "transaction_id", e.TransactionID, "error", err)
	}
}
