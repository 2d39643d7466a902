package registry

import (
	"context"
	"testing"
	"time"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	ctx := context.Background()
	now := time.Now()

	desc := types.ConnectionDescriptor{UserID: "alice", ConnectionID: "c1", Engine: types.RelationalA}
	if _, err := r.Register(ctx, desc, now); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Resolve(ctx, "alice", "c1", now.Add(time.Second))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ConnectionID != "c1" {
		t.Errorf("ConnectionID = %q, want c1", got.ConnectionID)
	}
	if !got.LastUsedAt.After(got.CreatedAt) {
		t.Errorf("LastUsedAt %v should be after CreatedAt %v", got.LastUsedAt, got.CreatedAt)
	}
}

func TestResolveCrossUserIsolation(t *testing.T) {
	r := New()
	ctx := context.Background()
	now := time.Now()

	desc := types.ConnectionDescriptor{UserID: "alice", ConnectionID: "c1", Engine: types.RelationalA}
	if _, err := r.Register(ctx, desc, now); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Resolve(ctx, "bob", "c1", now)
	if dbvybeerr.KindOf(err) != dbvybeerr.NotFound {
		t.Fatalf("Resolve by non-owner: got err %v, want NotFound", err)
	}
}

func TestResolveUnknownConnection(t *testing.T) {
	r := New()
	_, err := r.Resolve(context.Background(), "alice", "missing", time.Now())
	if dbvybeerr.KindOf(err) != dbvybeerr.NotFound {
		t.Fatalf("Resolve unknown: got err %v, want NotFound", err)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	r := New()
	ctx := context.Background()
	now := time.Now()

	desc := types.ConnectionDescriptor{UserID: "alice", ConnectionID: "c1", Engine: types.RelationalA}
	if _, err := r.Register(ctx, desc, now); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(ctx, desc, now); err == nil {
		t.Fatal("expected error registering duplicate connection id, got nil")
	}
}

func TestRemove(t *testing.T) {
	r := New()
	ctx := context.Background()
	now := time.Now()

	desc := types.ConnectionDescriptor{UserID: "alice", ConnectionID: "c1", Engine: types.RelationalA}
	if _, err := r.Register(ctx, desc, now); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Remove(ctx, "alice", "c1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Resolve(ctx, "alice", "c1", now); dbvybeerr.KindOf(err) != dbvybeerr.NotFound {
		t.Fatalf("Resolve after Remove: got err %v, want NotFound", err)
	}
}

func TestRemoveWrongOwner(t *testing.T) {
	r := New()
	ctx := context.Background()
	now := time.Now()

	desc := types.ConnectionDescriptor{UserID: "alice", ConnectionID: "c1", Engine: types.RelationalA}
	if _, err := r.Register(ctx, desc, now); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Remove(ctx, "bob", "c1"); dbvybeerr.KindOf(err) != dbvybeerr.NotFound {
		t.Fatalf("Remove by non-owner: got err %v, want NotFound", err)
	}
}
