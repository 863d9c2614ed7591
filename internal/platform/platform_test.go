package platform

import (
	"context"
	"errors"
	"testing"
	"time"
)

const day = 24 * time.Hour

func newTestService() *Service {
	return NewService(NewMemoryStore(), day)
}

func TestCreateDefaults(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateParams{
		Name:                  "acme-market",
		OwnerID:               7,
		OriginServiceFeeRate:  1200,
		OriginProposalFeeRate: 2000,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.ID != 1 {
		t.Errorf("id = %d, want 1", p.ID)
	}
	if p.ArbitrationPrice != "0" {
		t.Errorf("default arbitration price = %q, want \"0\"", p.ArbitrationPrice)
	}
	if p.ArbitrationFeeTimeout != day {
		t.Errorf("default fee timeout = %v, want %v", p.ArbitrationFeeTimeout, day)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{Name: "", OwnerID: 1}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("empty name error = %v, want ErrInvalidName", err)
	}
	if _, err := svc.Create(ctx, CreateParams{Name: "x", OwnerID: 1, OriginServiceFeeRate: 10001}); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("rate > 10000 error = %v, want ErrInvalidRate", err)
	}
	if _, err := svc.Create(ctx, CreateParams{Name: "x", OwnerID: 1, ArbitrationPrice: "-5"}); err == nil {
		t.Error("negative arbitration price should be rejected")
	}
}

func TestUpdateFeeRatesOwnerOnly(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateParams{Name: "acme", OwnerID: 7, OriginServiceFeeRate: 1000})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := svc.UpdateFeeRates(ctx, 8, p.ID, 500, 500); !errors.Is(err, ErrNotOwner) {
		t.Errorf("foreign update error = %v, want ErrNotOwner", err)
	}

	updated, err := svc.UpdateFeeRates(ctx, 7, p.ID, 500, 800)
	if err != nil {
		t.Fatalf("owner update failed: %v", err)
	}
	if updated.OriginServiceFeeRate != 500 || updated.OriginProposalFeeRate != 800 {
		t.Errorf("rates = %d/%d, want 500/800",
			updated.OriginServiceFeeRate, updated.OriginProposalFeeRate)
	}
}

func TestUpdateArbitrationTerms(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateParams{Name: "acme", OwnerID: 7})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := svc.UpdateArbitrationTerms(ctx, 7, p.ID, "10", 2*day)
	if err != nil {
		t.Fatalf("UpdateArbitrationTerms failed: %v", err)
	}
	if updated.ArbitrationPrice != "10" {
		t.Errorf("price = %q, want \"10\"", updated.ArbitrationPrice)
	}
	if updated.ArbitrationFeeTimeout != 2*day {
		t.Errorf("timeout = %v, want %v", updated.ArbitrationFeeTimeout, 2*day)
	}

	if _, err := svc.UpdateArbitrationTerms(ctx, 7, p.ID, "10", 0); !errors.Is(err, ErrInvalidTimeout) {
		t.Errorf("zero timeout error = %v, want ErrInvalidTimeout", err)
	}
}

func TestOwnerOf(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	p, _ := svc.Create(ctx, CreateParams{Name: "acme", OwnerID: 42})
	owner, err := svc.OwnerOf(ctx, p.ID)
	if err != nil {
		t.Fatalf("OwnerOf failed: %v", err)
	}
	if owner != 42 {
		t.Errorf("owner = %d, want 42", owner)
	}

	if _, err := svc.OwnerOf(ctx, 999); !errors.Is(err, ErrPlatformNotFound) {
		t.Errorf("missing platform error = %v, want ErrPlatformNotFound", err)
	}
}
