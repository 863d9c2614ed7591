// Package dispute coordinates the two-sided arbitration-fee handshake, the
// timeout fallback, evidence submission, and the application of rulings to
// the escrow ledger.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/openwork-labs/escrowd/internal/arbitration"
	"github.com/openwork-labs/escrowd/internal/escrow"
	"github.com/openwork-labs/escrowd/internal/idgen"
	"github.com/openwork-labs/escrowd/internal/metrics"
	"github.com/openwork-labs/escrowd/internal/token"
	"github.com/openwork-labs/escrowd/internal/traces"
)

var (
	ErrWrongFee        = errors.New("fee must equal the current arbitration cost")
	ErrFeeAlreadyPaid  = errors.New("this side already paid its arbitration fee")
	ErrNotWaiting      = errors.New("transaction is not waiting on this side's fee")
	ErrDisputeMismatch = errors.New("dispute id does not match the transaction")
	ErrEvidenceClosed  = errors.New("transaction is resolved; evidence is closed")
)

// IdentityRegistry answers delegate authorization checks for evidence.
type IdentityRegistry interface {
	IsAuthorized(ctx context.Context, profileID, callerID int64) (bool, error)
}

// Coordinator drives the per-transaction dispute state machine.
type Coordinator struct {
	engine     *escrow.Service
	txs        escrow.Store
	ledger     escrow.Ledger
	arbitrator arbitration.Arbitrator
	identity   IdentityRegistry
	events     escrow.EventStore
	logger     *slog.Logger
}

// NewCoordinator creates a dispute coordinator over the shared escrow
// store and ledger.
func NewCoordinator(engine *escrow.Service, txs escrow.Store, ledger escrow.Ledger, arbitrator arbitration.Arbitrator, identity IdentityRegistry, events escrow.EventStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		engine:     engine,
		txs:        txs,
		ledger:     ledger,
		arbitrator: arbitrator,
		identity:   identity,
		events:     events,
		logger:     logger,
	}
}

func arbRef(txID int64) string {
	return fmt.Sprintf("txarb:%d", txID)
}

// PayArbitrationFeeBySender deposits the sender's arbitration fee. The
// first deposit moves the transaction to WaitingReceiver; once both sides
// have paid, a dispute is created with the arbitrator.
func (c *Coordinator) PayArbitrationFeeBySender(ctx context.Context, callerID, transactionID int64, fee string) (*escrow.Transaction, error) {
	return c.payFee(ctx, callerID, transactionID, fee, true)
}

// PayArbitrationFeeByReceiver is the receiver-side counterpart.
func (c *Coordinator) PayArbitrationFeeByReceiver(ctx context.Context, callerID, transactionID int64, fee string) (*escrow.Transaction, error) {
	return c.payFee(ctx, callerID, transactionID, fee, false)
}

func (c *Coordinator) payFee(ctx context.Context, callerID, transactionID int64, fee string, bySender bool) (*escrow.Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.PayArbitrationFee",
		traces.TransactionID(transactionID), traces.ProfileID(callerID))
	defer span.End()

	unlock := c.engine.LockTransaction(transactionID)
	defer unlock()

	tx, err := c.txs.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	payerID := tx.SenderID
	waitingOnMe := escrow.StatusWaitingSender
	if !bySender {
		payerID = tx.ReceiverID
		waitingOnMe = escrow.StatusWaitingReceiver
	}
	if callerID != payerID {
		return nil, escrow.ErrAccessDenied
	}

	switch tx.Status {
	case escrow.StatusResolved:
		return nil, escrow.ErrAlreadyResolved
	case escrow.StatusDisputeCreated:
		return nil, escrow.ErrDisputed
	case escrow.StatusNoDispute, waitingOnMe:
		// payable
	default:
		// The other side is the one being waited on; this side already paid.
		return nil, ErrFeeAlreadyPaid
	}

	// The fee is always checked against the platform's current price, so a
	// price change between the two deposits surfaces here, not at ruling.
	cost, err := c.arbitrator.ArbitrationCost(ctx, tx.ServicePlatformID)
	if err != nil {
		return nil, err
	}
	costV, err := token.ParseAmount(cost)
	if err != nil {
		return nil, err
	}
	feeV, err := token.ParseAmount(fee)
	if err != nil {
		return nil, err
	}
	if costV.Sign() == 0 || feeV.Cmp(costV) != 0 {
		return nil, ErrWrongFee
	}

	if err := c.ledger.Lock(ctx, payerID, tx.Token, fee, arbRef(tx.ID)); err != nil {
		return nil, err
	}

	now := time.Now()
	if bySender {
		tx.SenderFee = fee
	} else {
		tx.ReceiverFee = fee
	}
	tx.LastInteraction = now
	tx.UpdatedAt = now

	if tx.Status == escrow.StatusNoDispute {
		if bySender {
			tx.Status = escrow.StatusWaitingReceiver
		} else {
			tx.Status = escrow.StatusWaitingSender
		}
		if err := c.txs.Update(ctx, tx); err != nil {
			return nil, err
		}
		c.logger.Info("arbitration fee deposited",
			"transaction_id", tx.ID, "payer_id", payerID, "fee", fee, "status", tx.Status)
		return tx, nil
	}

	// Both sides have paid: open the dispute with the combined deposit.
	senderFee, _ := token.ParseAmount(tx.SenderFee)
	receiverFee, _ := token.ParseAmount(tx.ReceiverFee)
	combined := new(big.Int).Add(senderFee, receiverFee)

	disputeID, err := c.arbitrator.CreateDispute(ctx, tx.ServicePlatformID, tx.ID, combined.String())
	if err != nil {
		// Return this side's deposit; the first payer's stays escrowed so
		// they can retry or time out.
		if uerr := c.ledger.Unlock(ctx, payerID, tx.Token, fee, arbRef(tx.ID)); uerr != nil {
			c.logger.Error("failed to unlock deposit after dispute creation failure",
				"transaction_id", tx.ID, "payer_id", payerID, "error", uerr)
		}
		return nil, err
	}

	tx.Status = escrow.StatusDisputeCreated
	tx.DisputeID = disputeID
	if err := c.txs.Update(ctx, tx); err != nil {
		return nil, err
	}

	c.appendEvent(ctx, &escrow.Event{
		Type:          escrow.EventDispute,
		TransactionID: tx.ID,
		DisputeID:     disputeID,
		Amount:        combined.String(),
		Token:         tx.Token,
	})
	metrics.DisputesTotal.WithLabelValues("created").Inc()
	c.logger.Info("dispute opened",
		"transaction_id", tx.ID, "dispute_id", disputeID, "combined_fee", combined.String())
	return tx, nil
}

// TimeoutBySender resolves in the sender's favor when the receiver never
// matched the sender's arbitration deposit within the fee timeout.
func (c *Coordinator) TimeoutBySender(ctx context.Context, callerID, transactionID int64) (*escrow.Transaction, error) {
	return c.timeout(ctx, callerID, transactionID, true)
}

// TimeoutByReceiver is the receiver-side counterpart.
func (c *Coordinator) TimeoutByReceiver(ctx context.Context, callerID, transactionID int64) (*escrow.Transaction, error) {
	return c.timeout(ctx, callerID, transactionID, false)
}

func (c *Coordinator) timeout(ctx context.Context, callerID, transactionID int64, bySender bool) (*escrow.Transaction, error) {
	unlock := c.engine.LockTransaction(transactionID)
	defer unlock()

	tx, err := c.txs.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	winnerID := tx.SenderID
	needStatus := escrow.StatusWaitingReceiver
	ruling := escrow.RulingSender
	if !bySender {
		winnerID = tx.ReceiverID
		needStatus = escrow.StatusWaitingSender
		ruling = escrow.RulingReceiver
	}
	if callerID != winnerID {
		return nil, escrow.ErrAccessDenied
	}
	if tx.Status == escrow.StatusResolved {
		return nil, escrow.ErrAlreadyResolved
	}
	if tx.Status != needStatus {
		return nil, ErrNotWaiting
	}
	if time.Now().Before(tx.LastInteraction.Add(tx.ArbitrationFeeTimeout)) {
		return nil, escrow.ErrTimeoutNotReached
	}

	resolved, err := c.engine.ApplyRuling(ctx, transactionID, ruling)
	if err != nil {
		return nil, err
	}
	metrics.DisputesTotal.WithLabelValues("timeout").Inc()
	c.logger.Info("resolved by timeout",
		"transaction_id", tx.ID, "winner_id", winnerID)
	return resolved, nil
}

// Rule applies an arbitrator's final ruling. Implements
// arbitration.RulingHandler; provenance (platform ownership) is checked by
// the arbitrator before this is called.
func (c *Coordinator) Rule(ctx context.Context, disputeID, transactionID int64, ruling int) error {
	unlock := c.engine.LockTransaction(transactionID)
	defer unlock()

	tx, err := c.txs.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status == escrow.StatusResolved {
		return escrow.ErrAlreadyResolved
	}
	if tx.Status != escrow.StatusDisputeCreated {
		return escrow.ErrNotDisputed
	}
	if tx.DisputeID != disputeID {
		return ErrDisputeMismatch
	}

	if _, err := c.engine.ApplyRuling(ctx, transactionID, ruling); err != nil {
		return err
	}

	outcome := map[int]string{
		escrow.RulingAbstain:  "split",
		escrow.RulingSender:   "sender",
		escrow.RulingReceiver: "receiver",
	}[ruling]
	metrics.DisputesTotal.WithLabelValues(outcome).Inc()
	return nil
}

// SubmitEvidence records an evidence URI for a transaction. The caller
// must be the sender, the receiver, or a delegate of either, and the
// transaction must not be resolved. Pure event emission.
func (c *Coordinator) SubmitEvidence(ctx context.Context, callerID, transactionID int64, evidenceURI string) error {
	tx, err := c.txs.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status == escrow.StatusResolved {
		return ErrEvidenceClosed
	}

	allowed := false
	for _, partyID := range []int64{tx.SenderID, tx.ReceiverID} {
		ok, err := c.identity.IsAuthorized(ctx, partyID, callerID)
		if err != nil {
			return err
		}
		if ok {
			allowed = true
			break
		}
	}
	if !allowed {
		return escrow.ErrAccessDenied
	}

	c.appendEvent(ctx, &escrow.Event{
		Type:          escrow.EventEvidence,
		TransactionID: tx.ID,
		DisputeID:     tx.DisputeID,
		ActorID:       callerID,
		URI:           evidenceURI,
	})
	c.logger.Info("evidence submitted",
		"transaction_id", tx.ID, "submitter_id", callerID)
	return nil
}

func (c *Coordinator) appendEvent(ctx context.Context, e *escrow.Event) {
	e.ID = idgen.WithPrefix("evt_")
	e.CreatedAt = time.Now()
	if err := c.events.Append(ctx, e); err != nil {
		c.logger.Error("failed to append event", "type", e.Type, "transaction_id", e.TransactionID, "error", err)
	}
}
