package dispute

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/openwork-labs/escrowd/internal/arbitration"
	"github.com/openwork-labs/escrowd/internal/escrow"
	"github.com/openwork-labs/escrowd/internal/idgen"
	"github.com/openwork-labs/escrowd/internal/ledger"
	"github.com/openwork-labs/escrowd/internal/marketplace"
	"github.com/openwork-labs/escrowd/internal/platform"
	"github.com/openwork-labs/escrowd/internal/token"
)

const (
	buyerID  = int64(1)
	sellerID = int64(2)
	ownerID  = int64(3) // platform owner, also the ruler
)

// stubIdentity authorizes a profile itself plus any registered delegate.
type stubIdentity struct {
	delegates map[int64][]int64
}

func (s *stubIdentity) IsAuthorized(_ context.Context, profileID, callerID int64) (bool, error) {
	if profileID == callerID {
		return true, nil
	}
	for _, d := range s.delegates[profileID] {
		if d == callerID {
			return true, nil
		}
	}
	return false, nil
}

type fixture struct {
	engine      *escrow.Service
	coordinator *Coordinator
	arbitrator  *arbitration.PlatformArbitrator
	ledger      *ledger.Service
	platforms   *platform.Service
	identity    *stubIdentity

	platformID int64
	txID       int64
}

// newFixture stands up the full dispute pipeline over memory stores: a
// platform charging 1100/2200 bp with a 10-unit arbitration price, a funded
// escrow of 1 410 000 on a 1 000 000 principal, and a seeded receiver.
func newFixture(t *testing.T, feeTimeout time.Duration) *fixture {
	t.Helper()
	ctx := context.Background()

	platforms := platform.NewService(platform.NewMemoryStore(), 24*time.Hour)
	plat, err := platforms.Create(ctx, platform.CreateParams{
		Name:                  "acme-market",
		OwnerID:               ownerID,
		OriginServiceFeeRate:  1100,
		OriginProposalFeeRate: 2200,
		ArbitrationPrice:      "10",
		ArbitrationFeeTimeout: feeTimeout,
	})
	if err != nil {
		t.Fatalf("platform create failed: %v", err)
	}

	market := marketplace.NewRegistry(marketplace.NewMemoryStore())
	svc, err := market.CreateService(ctx, buyerID, plat.ID, "design a logo")
	if err != nil {
		t.Fatalf("service create failed: %v", err)
	}
	prop, err := market.CreateProposal(ctx, marketplace.CreateProposalParams{
		ServiceID:  svc.ID,
		SellerID:   sellerID,
		PlatformID: plat.ID,
		Amount:     "1000000",
		Data:       "three drafts, one revision",
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("proposal create failed: %v", err)
	}
	if _, err := market.AcceptProposal(ctx, buyerID, svc.ID, prop.ID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	led := ledger.NewService(ledger.NewMemoryStore(), func() string { return idgen.WithPrefix("led_") })
	if err := led.Deposit(ctx, buyerID, token.Native, "2000000", "seed"); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := led.Deposit(ctx, sellerID, token.Native, "1000", "seed"); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	txStore := escrow.NewMemoryStore()
	events := escrow.NewMemoryEventStore()
	engine := escrow.NewService(txStore, events, led, market, platforms, escrow.NewPermissions(), escrow.Options{
		ProtocolFeeRate:     800,
		CompletionThreshold: 3000,
	})

	arb := arbitration.NewPlatformArbitrator(arbitration.NewMemoryStore(), platforms, nil)
	ident := &stubIdentity{delegates: map[int64][]int64{}}
	coordinator := NewCoordinator(engine, txStore, led, arb, ident, events, nil)
	arb.SetRulingHandler(coordinator)

	digest := marketplace.DigestProposalData("three drafts, one revision")
	tx, err := engine.Create(ctx, buyerID, svc.ID, "ipfs://meta", digest, "1410000")
	if err != nil {
		t.Fatalf("escrow create failed: %v", err)
	}

	return &fixture{
		engine:      engine,
		coordinator: coordinator,
		arbitrator:  arb,
		ledger:      led,
		platforms:   platforms,
		identity:    ident,
		platformID:  plat.ID,
		txID:        tx.ID,
	}
}

func (f *fixture) available(t *testing.T, accountID int64) string {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), accountID, token.Native)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	return b.Available
}

// openDispute walks both deposits in and returns the dispute id.
func (f *fixture) openDispute(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	if _, err := f.coordinator.PayArbitrationFeeBySender(ctx, buyerID, f.txID, "10"); err != nil {
		t.Fatalf("sender fee failed: %v", err)
	}
	tx, err := f.coordinator.PayArbitrationFeeByReceiver(ctx, sellerID, f.txID, "10")
	if err != nil {
		t.Fatalf("receiver fee failed: %v", err)
	}
	if tx.Status != escrow.StatusDisputeCreated || tx.DisputeID == 0 {
		t.Fatalf("status/disputeID = %s/%d after both deposits", tx.Status, tx.DisputeID)
	}
	return tx.DisputeID
}

func TestFeeHandshakeTransitions(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	tx, err := f.coordinator.PayArbitrationFeeBySender(ctx, buyerID, f.txID, "10")
	if err != nil {
		t.Fatalf("sender fee failed: %v", err)
	}
	if tx.Status != escrow.StatusWaitingReceiver {
		t.Errorf("status = %s, want waiting_receiver", tx.Status)
	}
	if tx.SenderFee != "10" {
		t.Errorf("senderFee = %s, want 10", tx.SenderFee)
	}

	// Paying again while the other side is awaited is a double deposit.
	if _, err := f.coordinator.PayArbitrationFeeBySender(ctx, buyerID, f.txID, "10"); !errors.Is(err, ErrFeeAlreadyPaid) {
		t.Errorf("double sender fee error = %v, want ErrFeeAlreadyPaid", err)
	}

	tx, err = f.coordinator.PayArbitrationFeeByReceiver(ctx, sellerID, f.txID, "10")
	if err != nil {
		t.Fatalf("receiver fee failed: %v", err)
	}
	if tx.Status != escrow.StatusDisputeCreated {
		t.Errorf("status = %s, want dispute_created", tx.Status)
	}

	// Under dispute nothing moves voluntarily.
	if _, err := f.engine.Release(ctx, buyerID, f.txID, "100"); !errors.Is(err, escrow.ErrDisputed) {
		t.Errorf("release under dispute error = %v, want ErrDisputed", err)
	}
	if _, err := f.coordinator.PayArbitrationFeeBySender(ctx, buyerID, f.txID, "10"); !errors.Is(err, escrow.ErrDisputed) {
		t.Errorf("fee under dispute error = %v, want ErrDisputed", err)
	}
}

func TestFeeGuards(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	// Only the party itself may deposit on its side.
	if _, err := f.coordinator.PayArbitrationFeeBySender(ctx, sellerID, f.txID, "10"); !errors.Is(err, escrow.ErrAccessDenied) {
		t.Errorf("foreign sender fee error = %v, want ErrAccessDenied", err)
	}

	// The deposit must equal the current arbitration cost exactly.
	for _, fee := range []string{"5", "11", "0"} {
		if _, err := f.coordinator.PayArbitrationFeeBySender(ctx, buyerID, f.txID, fee); !errors.Is(err, ErrWrongFee) {
			t.Errorf("fee %s error = %v, want ErrWrongFee", fee, err)
		}
	}

	// A zero arbitration price means arbitration is disabled.
	if _, err := f.platforms.UpdateArbitrationTerms(ctx, ownerID, f.platformID, "0", time.Hour); err != nil {
		t.Fatalf("terms update failed: %v", err)
	}
	if _, err := f.coordinator.PayArbitrationFeeBySender(ctx, buyerID, f.txID, "0"); !errors.Is(err, ErrWrongFee) {
		t.Errorf("zero-cost fee error = %v, want ErrWrongFee", err)
	}
}

// A price raise between the two deposits re-prices the second side.
func TestPriceChangeBetweenDeposits(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	if _, err := f.coordinator.PayArbitrationFeeBySender(ctx, buyerID, f.txID, "10"); err != nil {
		t.Fatalf("sender fee failed: %v", err)
	}
	if _, err := f.platforms.UpdateArbitrationTerms(ctx, ownerID, f.platformID, "25", time.Hour); err != nil {
		t.Fatalf("terms update failed: %v", err)
	}

	if _, err := f.coordinator.PayArbitrationFeeByReceiver(ctx, sellerID, f.txID, "10"); !errors.Is(err, ErrWrongFee) {
		t.Errorf("stale fee error = %v, want ErrWrongFee", err)
	}
	tx, err := f.coordinator.PayArbitrationFeeByReceiver(ctx, sellerID, f.txID, "25")
	if err != nil {
		t.Fatalf("re-priced receiver fee failed: %v", err)
	}
	if tx.Status != escrow.StatusDisputeCreated {
		t.Errorf("status = %s, want dispute_created", tx.Status)
	}
}

// Ruling in the sender's favor: everything locked goes back, plus both
// arbitration deposits.
func TestRulingForSender(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	disputeID := f.openDispute(t)

	// Only the platform owner may rule.
	if _, err := f.arbitrator.GiveRuling(ctx, sellerID, disputeID, escrow.RulingSender); !errors.Is(err, arbitration.ErrNotPlatformOwner) {
		t.Errorf("foreign ruling error = %v, want ErrNotPlatformOwner", err)
	}

	d, err := f.arbitrator.GiveRuling(ctx, ownerID, disputeID, escrow.RulingSender)
	if err != nil {
		t.Fatalf("ruling failed: %v", err)
	}
	if d.Status != arbitration.DisputeSolved || d.Ruling != escrow.RulingSender {
		t.Errorf("dispute = %s/%d", d.Status, d.Ruling)
	}

	// 2 000 000 - 1 410 000 - 10 + 1 410 000 + 10 + 10 (loser's deposit)
	if got := f.available(t, buyerID); got != "2000010" {
		t.Errorf("sender available = %s, want 2000010", got)
	}
	// 1 000 + deposit locked and forfeited
	if got := f.available(t, sellerID); got != "990" {
		t.Errorf("receiver available = %s, want 990", got)
	}

	tx, _ := f.engine.Get(ctx, f.txID)
	if tx.Status != escrow.StatusResolved {
		t.Errorf("status = %s, want resolved", tx.Status)
	}

	// A dispute is ruled exactly once.
	if _, err := f.arbitrator.GiveRuling(ctx, ownerID, disputeID, escrow.RulingReceiver); !errors.Is(err, arbitration.ErrAlreadyRuled) {
		t.Errorf("second ruling error = %v, want ErrAlreadyRuled", err)
	}
	// And a direct replay against the coordinator hits the state guard.
	if err := f.coordinator.Rule(ctx, disputeID, f.txID, escrow.RulingReceiver); !errors.Is(err, escrow.ErrAlreadyResolved) {
		t.Errorf("replayed ruling error = %v, want ErrAlreadyResolved", err)
	}
}

// Ruling in the receiver's favor: remaining principal paid out with fee
// shares credited, both deposits awarded to the receiver.
func TestRulingForReceiver(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	disputeID := f.openDispute(t)

	if _, err := f.arbitrator.GiveRuling(ctx, ownerID, disputeID, escrow.RulingReceiver); err != nil {
		t.Fatalf("ruling failed: %v", err)
	}

	// 1 000 - 10 + 1 000 000 principal + own 10 + sender's 10
	if got := f.available(t, sellerID); got != "1001010" {
		t.Errorf("receiver available = %s, want 1001010", got)
	}
	// Sender keeps only what was never locked.
	if got := f.available(t, buyerID); got != "589990" {
		t.Errorf("sender available = %s, want 589990", got)
	}

	platFees, _ := f.engine.FeeBalance(ctx, f.platformID, token.Native)
	if platFees.Amount != "330000" { // 1000000 * 3300 / 10000
		t.Errorf("platform fees = %s, want 330000", platFees.Amount)
	}
	protoFees, _ := f.engine.FeeBalance(ctx, escrow.ProtocolBeneficiary, token.Native)
	if protoFees.Amount != "80000" {
		t.Errorf("protocol fees = %s, want 80000", protoFees.Amount)
	}
}

// The ruling settles the arbitration deposits between the parties; the
// ruling platform's owner earns the origin fee shares and nothing else.
func TestDepositsSettleBetweenPartiesNotArbitrator(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	disputeID := f.openDispute(t)

	if _, err := f.arbitrator.GiveRuling(ctx, ownerID, disputeID, escrow.RulingReceiver); err != nil {
		t.Fatalf("ruling failed: %v", err)
	}

	// Exactly the 3300 bp origin shares, no arbitration-fee credit on top.
	platFees, _ := f.engine.FeeBalance(ctx, f.platformID, token.Native)
	if platFees.Amount != "330000" {
		t.Errorf("platform claimable = %s, want 330000", platFees.Amount)
	}
	if got := f.available(t, ownerID); got != "0" {
		t.Errorf("owner available = %s, want 0", got)
	}

	// Both deposits ended up with the winner; everything locked is accounted
	// for between the parties and the fee pool.
	sum := big.NewInt(0)
	for _, account := range []int64{buyerID, sellerID, escrow.FeePoolAccount} {
		b, err := f.ledger.Balance(ctx, account, token.Native)
		if err != nil {
			t.Fatalf("balance failed: %v", err)
		}
		avail, _ := token.ParseAmount(b.Available)
		esc, _ := token.ParseAmount(b.Escrowed)
		sum.Add(sum, avail)
		sum.Add(sum, esc)
	}
	if sum.String() != "2001000" {
		t.Errorf("total value = %s, want 2001000", sum)
	}
}

// Abstention splits the principal 50/50 and refunds each side's deposit.
func TestRulingAbstain(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	disputeID := f.openDispute(t)

	if _, err := f.arbitrator.GiveRuling(ctx, ownerID, disputeID, escrow.RulingAbstain); err != nil {
		t.Fatalf("ruling failed: %v", err)
	}

	// 589 990 + 500 000 principal + 205 000 fees on it + own deposit 10
	if got := f.available(t, buyerID); got != "1295000" {
		t.Errorf("sender available = %s, want 1295000", got)
	}
	// 990 + 500 000 principal + own deposit 10
	if got := f.available(t, sellerID); got != "501000" {
		t.Errorf("receiver available = %s, want 501000", got)
	}

	// Conservation across all accounts, fee pool included.
	sum := big.NewInt(0)
	for _, account := range []int64{buyerID, sellerID, escrow.FeePoolAccount} {
		b, err := f.ledger.Balance(ctx, account, token.Native)
		if err != nil {
			t.Fatalf("balance failed: %v", err)
		}
		avail, _ := token.ParseAmount(b.Available)
		esc, _ := token.ParseAmount(b.Escrowed)
		sum.Add(sum, avail)
		sum.Add(sum, esc)
	}
	if sum.String() != "2001000" {
		t.Errorf("total value = %s, want 2001000", sum)
	}
}

func TestRuleDisputeMismatch(t *testing.T) {
	f := newFixture(t, time.Hour)
	disputeID := f.openDispute(t)

	if err := f.coordinator.Rule(context.Background(), disputeID+1, f.txID, escrow.RulingSender); !errors.Is(err, ErrDisputeMismatch) {
		t.Errorf("mismatched dispute error = %v, want ErrDisputeMismatch", err)
	}
}

// The waiting party collects the whole pot when the other side never
// matches the deposit.
func TestTimeout(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	ctx := context.Background()

	if _, err := f.coordinator.PayArbitrationFeeBySender(ctx, buyerID, f.txID, "10"); err != nil {
		t.Fatalf("sender fee failed: %v", err)
	}

	// Not the waiting party, wrong direction, too early.
	if _, err := f.coordinator.TimeoutByReceiver(ctx, sellerID, f.txID); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("receiver timeout error = %v, want ErrNotWaiting", err)
	}
	if _, err := f.coordinator.TimeoutBySender(ctx, sellerID, f.txID); !errors.Is(err, escrow.ErrAccessDenied) {
		t.Errorf("foreign timeout error = %v, want ErrAccessDenied", err)
	}
	if _, err := f.coordinator.TimeoutBySender(ctx, buyerID, f.txID); !errors.Is(err, escrow.ErrTimeoutNotReached) {
		t.Errorf("early timeout error = %v, want ErrTimeoutNotReached", err)
	}

	time.Sleep(50 * time.Millisecond)

	tx, err := f.coordinator.TimeoutBySender(ctx, buyerID, f.txID)
	if err != nil {
		t.Fatalf("timeout failed: %v", err)
	}
	if tx.Status != escrow.StatusResolved {
		t.Errorf("status = %s, want resolved", tx.Status)
	}
	// Everything comes back: principal, fees, and the sender's own deposit.
	if got := f.available(t, buyerID); got != "2000000" {
		t.Errorf("sender available = %s, want 2000000", got)
	}
}

// The sweeper resolves expired waiting transactions without a caller.
func TestSweeperExpires(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	ctx := context.Background()

	if _, err := f.coordinator.PayArbitrationFeeByReceiver(ctx, sellerID, f.txID, "10"); err != nil {
		t.Fatalf("receiver fee failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	sweeper := NewSweeper(f.coordinator, time.Minute, nil)
	sweeper.sweep(ctx)

	tx, err := f.engine.Get(ctx, f.txID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if tx.Status != escrow.StatusResolved {
		t.Errorf("status = %s, want resolved", tx.Status)
	}
	// The receiver was waiting on the sender, so the receiver wins:
	// principal, fee shares credited, own deposit back.
	if got := f.available(t, sellerID); got != "1001000" {
		t.Errorf("receiver available = %s, want 1001000", got)
	}
}

func TestSubmitEvidence(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.identity.delegates[buyerID] = []int64{77}

	if err := f.coordinator.SubmitEvidence(ctx, buyerID, f.txID, "ipfs://ev1"); err != nil {
		t.Errorf("sender evidence failed: %v", err)
	}
	if err := f.coordinator.SubmitEvidence(ctx, 77, f.txID, "ipfs://ev2"); err != nil {
		t.Errorf("delegate evidence failed: %v", err)
	}
	if err := f.coordinator.SubmitEvidence(ctx, 99, f.txID, "ipfs://ev3"); !errors.Is(err, escrow.ErrAccessDenied) {
		t.Errorf("stranger evidence error = %v, want ErrAccessDenied", err)
	}

	events, err := f.engine.Events(ctx, f.txID)
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	var evidence int
	for _, e := range events {
		if e.Type == escrow.EventEvidence {
			evidence++
		}
	}
	if evidence != 2 {
		t.Errorf("evidence events = %d, want 2", evidence)
	}

	// Evidence closes at resolution.
	if _, err := f.engine.Reimburse(ctx, sellerID, f.txID, "1000000"); err != nil {
		t.Fatalf("reimburse failed: %v", err)
	}
	if err := f.coordinator.SubmitEvidence(ctx, buyerID, f.txID, "ipfs://ev4"); !errors.Is(err, ErrEvidenceClosed) {
		t.Errorf("late evidence error = %v, want ErrEvidenceClosed", err)
	}
}
