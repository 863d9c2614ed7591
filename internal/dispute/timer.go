package dispute

import (
	"context"
	"log/slog"
	"time"

	"github.com/openwork-labs/escrowd/internal/escrow"
	"github.com/openwork-labs/escrowd/internal/metrics"
)

// Sweeper periodically resolves transactions whose arbitration-fee
// timeout elapsed without the second deposit arriving. It performs the
// same settlement the waiting party could claim by calling timeout
// themselves.
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *slog.Logger
}

// NewSweeper creates a timeout sweeper.
func NewSweeper(coordinator *Coordinator, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{coordinator: coordinator, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("timeout sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in timeout sweep", "panic", r)
		}
	}()

	expired, err := s.coordinator.txs.ListExpiredWaiting(ctx, time.Now())
	if err != nil {
		s.logger.Error("failed to list expired transactions", "error", err)
		return
	}

	for _, tx := range expired {
		if err := s.expire(ctx, tx.ID); err != nil {
			s.logger.Error("failed to expire transaction", "transaction_id", tx.ID, "error", err)
		}
	}
}

// expire re-checks state under the transaction lock; the listing is only a
// hint and may be stale by the time the lock is held.
func (s *Sweeper) expire(ctx context.Context, transactionID int64) error {
	c := s.coordinator
	unlock := c.engine.LockTransaction(transactionID)
	defer unlock()

	tx, err := c.txs.Get(ctx, transactionID)
	if err != nil {
		return err
	}

	var ruling int
	switch tx.Status {
	case escrow.StatusWaitingReceiver:
		ruling = escrow.RulingSender
	case escrow.StatusWaitingSender:
		ruling = escrow.RulingReceiver
	default:
		return nil
	}
	if time.Now().Before(tx.LastInteraction.Add(tx.ArbitrationFeeTimeout)) {
		return nil
	}

	if _, err := c.engine.ApplyRuling(ctx, transactionID, ruling); err != nil {
		return err
	}
	metrics.DisputesTotal.WithLabelValues("timeout").Inc()
	s.logger.Info("expired waiting transaction resolved", "transaction_id", transactionID)
	return nil
}
