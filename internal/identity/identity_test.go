package identity

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndResolve(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	alice, err := svc.Register(ctx, "alice", "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if alice.ID != 1 {
		t.Errorf("first profile id = %d, want 1", alice.ID)
	}

	bob, err := svc.Register(ctx, "bob", "0x2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if bob.ID != 2 {
		t.Errorf("second profile id = %d, want 2", bob.ID)
	}

	addr, err := svc.ResolveOwner(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ResolveOwner failed: %v", err)
	}
	if addr != alice.Address {
		t.Errorf("ResolveOwner = %s, want %s", addr, alice.Address)
	}

	id, err := svc.ResolveID(ctx, alice.Address)
	if err != nil {
		t.Fatalf("ResolveID failed: %v", err)
	}
	if id != alice.ID {
		t.Errorf("ResolveID = %d, want %d", id, alice.ID)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "0x1111111111111111111111111111111111111111"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := svc.Register(ctx, "alice", "0x3333333333333333333333333333333333333333"); !errors.Is(err, ErrHandleTaken) {
		t.Errorf("duplicate handle error = %v, want ErrHandleTaken", err)
	}
	if _, err := svc.Register(ctx, "alice2", "0x1111111111111111111111111111111111111111"); !errors.Is(err, ErrAddressTaken) {
		t.Errorf("duplicate address error = %v, want ErrAddressTaken", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Bad Handle!", "0x1111111111111111111111111111111111111111"); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("bad handle error = %v, want ErrInvalidHandle", err)
	}
	if _, err := svc.Register(ctx, "ok", "nope"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("bad address error = %v, want ErrInvalidAddress", err)
	}
}

func TestDelegates(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	owner, _ := svc.Register(ctx, "owner", "0x1111111111111111111111111111111111111111")
	helper, _ := svc.Register(ctx, "helper", "0x2222222222222222222222222222222222222222")
	other, _ := svc.Register(ctx, "other", "0x3333333333333333333333333333333333333333")

	// Only the profile itself may add delegates.
	if err := svc.AddDelegate(ctx, other.ID, owner.ID, helper.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("foreign AddDelegate error = %v, want ErrNotOwner", err)
	}

	if err := svc.AddDelegate(ctx, owner.ID, owner.ID, helper.ID); err != nil {
		t.Fatalf("AddDelegate failed: %v", err)
	}

	ok, err := svc.IsAuthorized(ctx, owner.ID, helper.ID)
	if err != nil || !ok {
		t.Errorf("delegate should be authorized, got ok=%v err=%v", ok, err)
	}
	ok, _ = svc.IsAuthorized(ctx, owner.ID, owner.ID)
	if !ok {
		t.Error("profile should be authorized for itself")
	}
	ok, _ = svc.IsAuthorized(ctx, owner.ID, other.ID)
	if ok {
		t.Error("unrelated profile should not be authorized")
	}

	if err := svc.RemoveDelegate(ctx, owner.ID, owner.ID, helper.ID); err != nil {
		t.Fatalf("RemoveDelegate failed: %v", err)
	}
	ok, _ = svc.IsAuthorized(ctx, owner.ID, helper.ID)
	if ok {
		t.Error("removed delegate should not be authorized")
	}
}
