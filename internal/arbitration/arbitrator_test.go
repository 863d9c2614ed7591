package arbitration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openwork-labs/escrowd/internal/platform"
)

const arbOwnerID = int64(3)

type recordingHandler struct {
	disputeID     int64
	transactionID int64
	ruling        int
	calls         int
	err           error
}

func (h *recordingHandler) Rule(_ context.Context, disputeID, transactionID int64, ruling int) error {
	if h.err != nil {
		return h.err
	}
	h.disputeID = disputeID
	h.transactionID = transactionID
	h.ruling = ruling
	h.calls++
	return nil
}

func newArbitrator(t *testing.T, price string) (*PlatformArbitrator, *recordingHandler, int64) {
	t.Helper()
	platforms := platform.NewService(platform.NewMemoryStore(), 24*time.Hour)
	plat, err := platforms.Create(context.Background(), platform.CreateParams{
		Name:             "arb-market",
		OwnerID:          arbOwnerID,
		ArbitrationPrice: price,
	})
	if err != nil {
		t.Fatalf("platform create failed: %v", err)
	}

	handler := &recordingHandler{}
	arb := NewPlatformArbitrator(NewMemoryStore(), platforms, nil)
	arb.SetRulingHandler(handler)
	return arb, handler, plat.ID
}

func TestArbitrationCost(t *testing.T) {
	arb, _, platformID := newArbitrator(t, "25")

	cost, err := arb.ArbitrationCost(context.Background(), platformID)
	if err != nil {
		t.Fatalf("cost failed: %v", err)
	}
	if cost != "25" {
		t.Errorf("cost = %s, want 25", cost)
	}
}

func TestCreateDisputeRequiresBothDeposits(t *testing.T) {
	arb, _, platformID := newArbitrator(t, "10")
	ctx := context.Background()

	if _, err := arb.CreateDispute(ctx, platformID, 1, "19"); !errors.Is(err, ErrInsufficientFee) {
		t.Errorf("underfunded dispute error = %v, want ErrInsufficientFee", err)
	}

	id, err := arb.CreateDispute(ctx, platformID, 1, "20")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	d, err := arb.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if d.Status != DisputeWaiting || d.TransactionID != 1 || d.Fee != "20" {
		t.Errorf("dispute = %s tx=%d fee=%s", d.Status, d.TransactionID, d.Fee)
	}
}

func TestGiveRuling(t *testing.T) {
	arb, handler, platformID := newArbitrator(t, "10")
	ctx := context.Background()

	id, err := arb.CreateDispute(ctx, platformID, 7, "20")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := arb.GiveRuling(ctx, arbOwnerID, id, 3); !errors.Is(err, ErrInvalidRuling) {
		t.Errorf("bad ruling code error = %v, want ErrInvalidRuling", err)
	}
	if _, err := arb.GiveRuling(ctx, 42, id, 1); !errors.Is(err, ErrNotPlatformOwner) {
		t.Errorf("foreign ruler error = %v, want ErrNotPlatformOwner", err)
	}

	d, err := arb.GiveRuling(ctx, arbOwnerID, id, 2)
	if err != nil {
		t.Fatalf("ruling failed: %v", err)
	}
	if d.Status != DisputeSolved || d.Ruling != 2 || d.ResolvedAt == nil {
		t.Errorf("dispute = %s/%d resolvedAt=%v", d.Status, d.Ruling, d.ResolvedAt)
	}
	if handler.calls != 1 || handler.disputeID != id || handler.transactionID != 7 || handler.ruling != 2 {
		t.Errorf("handler saw %d calls, dispute %d, tx %d, ruling %d",
			handler.calls, handler.disputeID, handler.transactionID, handler.ruling)
	}

	if _, err := arb.GiveRuling(ctx, arbOwnerID, id, 1); !errors.Is(err, ErrAlreadyRuled) {
		t.Errorf("second ruling error = %v, want ErrAlreadyRuled", err)
	}
}

// A handler failure leaves the dispute open so the ruling can be retried.
func TestGiveRulingHandlerFailure(t *testing.T) {
	arb, handler, platformID := newArbitrator(t, "10")
	ctx := context.Background()

	id, err := arb.CreateDispute(ctx, platformID, 7, "20")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	handler.err = errors.New("settlement failed")
	if _, err := arb.GiveRuling(ctx, arbOwnerID, id, 1); err == nil {
		t.Fatal("expected handler error to propagate")
	}
	d, _ := arb.Get(ctx, id)
	if d.Status != DisputeWaiting {
		t.Errorf("status after failure = %s, want waiting", d.Status)
	}

	handler.err = nil
	if _, err := arb.GiveRuling(ctx, arbOwnerID, id, 1); err != nil {
		t.Errorf("retry failed: %v", err)
	}
}

func TestGiveRulingWithoutHandler(t *testing.T) {
	platforms := platform.NewService(platform.NewMemoryStore(), 24*time.Hour)
	arb := NewPlatformArbitrator(NewMemoryStore(), platforms, nil)

	if _, err := arb.GiveRuling(context.Background(), arbOwnerID, 1, 1); !errors.Is(err, ErrNoHandler) {
		t.Errorf("no-handler error = %v, want ErrNoHandler", err)
	}
}

func TestListByPlatform(t *testing.T) {
	arb, _, platformID := newArbitrator(t, "10")
	ctx := context.Background()

	if _, err := arb.CreateDispute(ctx, platformID, 1, "20"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := arb.CreateDispute(ctx, platformID, 2, "20"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	all, err := arb.List(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
	scoped, err := arb.List(ctx, platformID+1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(scoped) != 0 {
		t.Errorf("len(scoped) = %d, want 0", len(scoped))
	}
}
