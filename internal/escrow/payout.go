package escrow

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/openwork-labs/escrowd/internal/ledger"
	"github.com/openwork-labs/escrowd/internal/metrics"
	"github.com/openwork-labs/escrowd/internal/token"
)

// FeePoolAccount is the ledger account holding accrued, unclaimed fees.
const FeePoolAccount = ledger.FeePool

func txRef(tx *Transaction) string {
	return fmt.Sprintf("tx:%d", tx.ID)
}

func arbRef(tx *Transaction) string {
	return fmt.Sprintf("txarb:%d", tx.ID)
}

// releaseFunds pays amount of principal to the receiver and credits the
// three fee shares to their claimable balances. Mutates tx's running
// amounts; the caller persists.
func (s *Service) releaseFunds(ctx context.Context, tx *Transaction, amount *big.Int) error {
	protocolFee, svcFee, propFee := tx.feeShares(amount)
	ref := txRef(tx)

	if err := s.ledger.ReleaseTo(ctx, tx.SenderID, tx.ReceiverID, tx.Token, amount.String(), ref); err != nil {
		return err
	}
	if err := s.creditFee(ctx, tx, ProtocolBeneficiary, protocolFee, "protocol"); err != nil {
		return err
	}
	if err := s.creditFee(ctx, tx, tx.ServicePlatformID, svcFee, "origin_service"); err != nil {
		return err
	}
	if err := s.creditFee(ctx, tx, tx.ProposalPlatformID, propFee, "origin_proposal"); err != nil {
		return err
	}

	remaining, _ := token.ParseAmount(tx.Amount)
	released, _ := token.ParseAmount(tx.ReleasedAmount)
	lockedTotal, _ := token.ParseAmount(tx.LockedTotal)

	moved := new(big.Int).Add(amount, protocolFee)
	moved.Add(moved, svcFee)
	moved.Add(moved, propFee)

	tx.Amount = new(big.Int).Sub(remaining, amount).String()
	tx.ReleasedAmount = new(big.Int).Add(released, amount).String()
	tx.LockedTotal = new(big.Int).Sub(lockedTotal, moved).String()

	s.checkThreshold(ctx, tx)
	return nil
}

// creditFee moves one fee share into the fee pool and records it as
// claimable by the beneficiary.
func (s *Service) creditFee(ctx context.Context, tx *Transaction, beneficiaryID int64, fee *big.Int, kind string) error {
	if fee.Sign() <= 0 {
		return nil
	}
	if err := s.ledger.ReleaseTo(ctx, tx.SenderID, FeePoolAccount, tx.Token, fee.String(), txRef(tx)); err != nil {
		return err
	}
	if err := s.store.CreditFee(ctx, beneficiaryID, tx.Token, fee.String()); err != nil {
		return err
	}
	metrics.FeesAccruedTotal.WithLabelValues(kind).Inc()
	return nil
}

// reimburseFunds returns amount plus the proportional fees on it to the
// sender. No fee is retained on reimbursed value.
func (s *Service) reimburseFunds(ctx context.Context, tx *Transaction, amount *big.Int) error {
	fees := token.FeeShare(amount, tx.rates().Total())
	refund := new(big.Int).Add(amount, fees)

	if err := s.ledger.Unlock(ctx, tx.SenderID, tx.Token, refund.String(), txRef(tx)); err != nil {
		return err
	}

	remaining, _ := token.ParseAmount(tx.Amount)
	lockedTotal, _ := token.ParseAmount(tx.LockedTotal)
	tx.Amount = new(big.Int).Sub(remaining, amount).String()
	tx.LockedTotal = new(big.Int).Sub(lockedTotal, refund).String()
	return nil
}

// checkThreshold marks the service finished the first time cumulative
// releases reach the completion threshold.
func (s *Service) checkThreshold(ctx context.Context, tx *Transaction) {
	if tx.ThresholdCrossed || s.completionThreshold <= 0 {
		return
	}
	released, _ := token.ParseAmount(tx.ReleasedAmount)
	original, _ := token.ParseAmount(tx.OriginalAmount)
	// released / original >= threshold / 10000, in integer arithmetic
	lhs := new(big.Int).Mul(released, big.NewInt(token.RateDenominator))
	rhs := new(big.Int).Mul(original, big.NewInt(s.completionThreshold))
	if lhs.Cmp(rhs) < 0 {
		return
	}
	tx.ThresholdCrossed = true
	if err := s.services.MarkFinished(ctx, tx.ServiceID); err != nil {
		s.logger.Error("failed to mark service finished", "service_id", tx.ServiceID, "error", err)
	}
}

// refundDeposits returns each side's arbitration-fee deposit to its payer.
func (s *Service) refundDeposits(ctx context.Context, tx *Transaction) error {
	ref := arbRef(tx)
	if fee, _ := token.ParseAmount(tx.SenderFee); fee.Sign() > 0 {
		if err := s.ledger.Unlock(ctx, tx.SenderID, tx.Token, fee.String(), ref); err != nil {
			return err
		}
	}
	if fee, _ := token.ParseAmount(tx.ReceiverFee); fee.Sign() > 0 {
		if err := s.ledger.Unlock(ctx, tx.ReceiverID, tx.Token, fee.String(), ref); err != nil {
			return err
		}
	}
	return nil
}

// awardDepositsTo pays both arbitration-fee deposits to the winning side.
func (s *Service) awardDepositsTo(ctx context.Context, tx *Transaction, winnerID, loserID int64, winnerFee, loserFee string) error {
	ref := arbRef(tx)
	if fee, _ := token.ParseAmount(winnerFee); fee.Sign() > 0 {
		if err := s.ledger.Unlock(ctx, winnerID, tx.Token, fee.String(), ref); err != nil {
			return err
		}
	}
	if fee, _ := token.ParseAmount(loserFee); fee.Sign() > 0 {
		if err := s.ledger.ReleaseTo(ctx, loserID, winnerID, tx.Token, fee.String(), ref); err != nil {
			return err
		}
	}
	return nil
}

// finishIfDrained resolves a transaction whose principal reached zero via
// normal release/reimburse, refunding any outstanding arbitration deposits.
func (s *Service) finishIfDrained(ctx context.Context, tx *Transaction) error {
	remaining, err := token.ParseAmount(tx.Amount)
	if err != nil {
		return err
	}
	if remaining.Sign() != 0 {
		return nil
	}
	if err := s.refundDeposits(ctx, tx); err != nil {
		return err
	}
	return s.resolve(ctx, tx)
}

// resolve refunds truncation dust, marks the transaction resolved, and
// settles the service's terminal state.
func (s *Service) resolve(ctx context.Context, tx *Transaction) error {
	dust, err := token.ParseAmount(tx.LockedTotal)
	if err != nil {
		return err
	}
	if dust.Sign() > 0 {
		if err := s.ledger.Unlock(ctx, tx.SenderID, tx.Token, dust.String(), txRef(tx)); err != nil {
			return err
		}
		tx.LockedTotal = "0"
	}
	tx.Status = StatusResolved

	var markErr error
	if tx.ThresholdCrossed {
		markErr = s.services.MarkFinished(ctx, tx.ServiceID)
	} else {
		markErr = s.services.MarkUncompleted(ctx, tx.ServiceID)
	}
	if markErr != nil {
		s.logger.Error("failed to settle service state", "service_id", tx.ServiceID, "error", markErr)
	}

	s.appendEvent(ctx, &Event{
		Type:          EventPaymentCompleted,
		TransactionID: tx.ID,
		ServiceID:     tx.ServiceID,
	})
	metrics.TransactionDuration.Observe(time.Since(tx.CreatedAt).Seconds())
	s.logger.Info("transaction resolved", "transaction_id", tx.ID, "threshold_crossed", tx.ThresholdCrossed)
	return nil
}

// ApplyRuling settles a transaction according to a ruling code. The caller
// must hold the transaction's lock (LockTransaction) and have verified the
// ruling's provenance; this method only enforces transaction-state guards.
func (s *Service) ApplyRuling(ctx context.Context, transactionID int64, ruling int) (*Transaction, error) {
	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	switch tx.Status {
	case StatusResolved:
		return nil, ErrAlreadyResolved
	case StatusNoDispute:
		return nil, ErrNotDisputed
	}

	remaining, err := token.ParseAmount(tx.Amount)
	if err != nil {
		return nil, err
	}

	switch ruling {
	case RulingSender:
		// Everything still locked, fees included, goes back to the sender.
		lockedTotal, err := token.ParseAmount(tx.LockedTotal)
		if err != nil {
			return nil, err
		}
		if lockedTotal.Sign() > 0 {
			if err := s.ledger.Unlock(ctx, tx.SenderID, tx.Token, lockedTotal.String(), txRef(tx)); err != nil {
				return nil, err
			}
		}
		tx.Amount = "0"
		tx.LockedTotal = "0"
		if err := s.awardDepositsTo(ctx, tx, tx.SenderID, tx.ReceiverID, tx.SenderFee, tx.ReceiverFee); err != nil {
			return nil, err
		}

	case RulingReceiver:
		// Remaining principal paid out as a normal release, fee shares
		// credited.
		if remaining.Sign() > 0 {
			if err := s.releaseFunds(ctx, tx, remaining); err != nil {
				return nil, err
			}
		}
		if err := s.awardDepositsTo(ctx, tx, tx.ReceiverID, tx.SenderID, tx.ReceiverFee, tx.SenderFee); err != nil {
			return nil, err
		}

	case RulingAbstain:
		// Principal splits 50/50; the sender keeps the odd unit. Both
		// deposits are equal by the fee handshake, so refunding each side
		// its own deposit is the 50/50 split of the deposit pot.
		receiverHalf := new(big.Int).Rsh(remaining, 1)
		senderHalf := new(big.Int).Sub(remaining, receiverHalf)
		if receiverHalf.Sign() > 0 {
			if err := s.releaseFunds(ctx, tx, receiverHalf); err != nil {
				return nil, err
			}
		}
		if senderHalf.Sign() > 0 {
			if err := s.reimburseFunds(ctx, tx, senderHalf); err != nil {
				return nil, err
			}
		}
		if err := s.refundDeposits(ctx, tx); err != nil {
			return nil, err
		}

	default:
		return nil, ErrInvalidRuling
	}

	if err := s.resolve(ctx, tx); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, &Event{
		Type:          EventRuling,
		TransactionID: tx.ID,
		DisputeID:     tx.DisputeID,
		Ruling:        ruling,
	})

	tx.LastInteraction = time.Now()
	tx.UpdatedAt = tx.LastInteraction
	if err := s.store.Update(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}
