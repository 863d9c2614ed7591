package marketplace

import (
	"context"
	"errors"
	"testing"
	"time"
)

const (
	buyerID  = int64(1)
	sellerID = int64(2)
)

func newTestRegistry() *Registry {
	return NewRegistry(NewMemoryStore())
}

func mustService(t *testing.T, r *Registry) *Service {
	t.Helper()
	svc, err := r.CreateService(context.Background(), buyerID, 1, "translate a contract")
	if err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}
	return svc
}

func mustProposal(t *testing.T, r *Registry, serviceID int64) *Proposal {
	t.Helper()
	p, err := r.CreateProposal(context.Background(), CreateProposalParams{
		ServiceID:  serviceID,
		SellerID:   sellerID,
		PlatformID: 2,
		Token:      "",
		Amount:     "1000000",
		Data:       "deliver within 10 days",
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	return p
}

func TestAcceptProposalFlow(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	svc := mustService(t, r)
	p := mustProposal(t, r, svc.ID)

	// Only the buyer may accept.
	if _, err := r.AcceptProposal(ctx, sellerID, svc.ID, p.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("foreign accept error = %v, want ErrNotOwner", err)
	}

	if _, err := r.AcceptProposal(ctx, buyerID, svc.ID, p.ID); err != nil {
		t.Fatalf("AcceptProposal failed: %v", err)
	}

	terms, err := r.GetAcceptedTerms(ctx, svc.ID)
	if err != nil {
		t.Fatalf("GetAcceptedTerms failed: %v", err)
	}
	if terms.SellerID != sellerID {
		t.Errorf("seller = %d, want %d", terms.SellerID, sellerID)
	}
	if terms.Amount != "1000000" {
		t.Errorf("amount = %q, want 1000000", terms.Amount)
	}
	if terms.ServicePlatformID != 1 || terms.ProposalPlatformID != 2 {
		t.Errorf("platforms = %d/%d, want 1/2", terms.ServicePlatformID, terms.ProposalPlatformID)
	}
	if terms.DataDigest != DigestProposalData("deliver within 10 days") {
		t.Errorf("digest mismatch: %s", terms.DataDigest)
	}
}

func TestAcceptProposalGuards(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	svc := mustService(t, r)
	other := mustService(t, r)
	p := mustProposal(t, r, other.ID)

	if _, err := r.AcceptProposal(ctx, buyerID, svc.ID, p.ID); !errors.Is(err, ErrProposalMismatch) {
		t.Errorf("cross-service accept error = %v, want ErrProposalMismatch", err)
	}

	mine := mustProposal(t, r, svc.ID)
	if _, err := r.AcceptProposal(ctx, buyerID, svc.ID, mine.ID); err != nil {
		t.Fatalf("AcceptProposal failed: %v", err)
	}
	second := mustProposal(t, r, svc.ID)
	if _, err := r.AcceptProposal(ctx, buyerID, svc.ID, second.ID); !errors.Is(err, ErrAlreadyAccepted) {
		t.Errorf("second accept error = %v, want ErrAlreadyAccepted", err)
	}
}

func TestGetAcceptedTermsRequiresAcceptance(t *testing.T) {
	r := newTestRegistry()
	svc := mustService(t, r)

	if _, err := r.GetAcceptedTerms(context.Background(), svc.ID); !errors.Is(err, ErrNoAcceptedProposal) {
		t.Errorf("error = %v, want ErrNoAcceptedProposal", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	svc := mustService(t, r)
	p := mustProposal(t, r, svc.ID)
	if _, err := r.AcceptProposal(ctx, buyerID, svc.ID, p.ID); err != nil {
		t.Fatalf("AcceptProposal failed: %v", err)
	}

	if err := r.MarkConfirmed(ctx, svc.ID, 77); err != nil {
		t.Fatalf("MarkConfirmed failed: %v", err)
	}
	got, _ := r.GetService(ctx, svc.ID)
	if got.Status != ServiceConfirmed || got.TransactionID != 77 {
		t.Errorf("after confirm: status=%s tx=%d", got.Status, got.TransactionID)
	}

	// Confirmed services can no longer be validated for a new escrow.
	if _, err := r.GetAcceptedTerms(ctx, svc.ID); !errors.Is(err, ErrServiceNotOpen) {
		t.Errorf("terms after confirm error = %v, want ErrServiceNotOpen", err)
	}
	if err := r.MarkConfirmed(ctx, svc.ID, 78); !errors.Is(err, ErrServiceNotOpen) {
		t.Errorf("double confirm error = %v, want ErrServiceNotOpen", err)
	}

	if err := r.MarkFinished(ctx, svc.ID); err != nil {
		t.Fatalf("MarkFinished failed: %v", err)
	}
	got, _ = r.GetService(ctx, svc.ID)
	if got.Status != ServiceFinished {
		t.Errorf("status = %s, want finished", got.Status)
	}

	// Terminal states are sticky.
	if err := r.MarkUncompleted(ctx, svc.ID); err != nil {
		t.Fatalf("MarkUncompleted on finished service errored: %v", err)
	}
	got, _ = r.GetService(ctx, svc.ID)
	if got.Status != ServiceFinished {
		t.Errorf("terminal status changed to %s", got.Status)
	}
}

func TestCreateProposalValidation(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	svc := mustService(t, r)

	if _, err := r.CreateProposal(ctx, CreateProposalParams{
		ServiceID: svc.ID, SellerID: sellerID, PlatformID: 2,
		Amount: "0", Data: "x", ExpiresAt: time.Now().Add(time.Hour),
	}); err == nil {
		t.Error("zero amount should be rejected")
	}

	if _, err := r.CreateProposal(ctx, CreateProposalParams{
		ServiceID: svc.ID, SellerID: sellerID, PlatformID: 2,
		Amount: "100", Data: "x", ExpiresAt: time.Now().Add(-time.Minute),
	}); !errors.Is(err, ErrProposalExpired) {
		t.Errorf("expired proposal error = %v, want ErrProposalExpired", err)
	}
}

func TestDigestIsStable(t *testing.T) {
	a := DigestProposalData("same terms")
	b := DigestProposalData("same terms")
	c := DigestProposalData("different terms")
	if a != b {
		t.Error("digest should be deterministic")
	}
	if a == c {
		t.Error("different data should produce different digests")
	}
}
