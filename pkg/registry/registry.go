// Package registry implements the ConnectionRegistry (C1): the single
// source of truth mapping (userId, connectionId) to a ConnectionDescriptor,
// gating all downstream access by ownership.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// Registry is a thread-safe, in-memory ConnectionRegistry. It does not open
// live connections — it only resolves ownership and tracks usage. The zero
// value is not ready to use; construct with [New].
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]types.ConnectionDescriptor // keyed by connectionId
}

// New returns an initialised, empty Registry.
func New() *Registry {
	return &Registry{descriptors: make(map[string]types.ConnectionDescriptor)}
}

// Register adds a new descriptor. The descriptor's ConnectionID must be
// unique; CreatedAt and LastUsedAt are stamped with now. Returns
// [dbvybeerr.InvalidInput] if ConnectionID or UserID is empty, or if a
// descriptor is already registered under that id.
func (r *Registry) Register(ctx context.Context, desc types.ConnectionDescriptor, now time.Time) (types.ConnectionDescriptor, error) {
	if desc.ConnectionID == "" {
		return types.ConnectionDescriptor{}, dbvybeerr.New(dbvybeerr.InvalidInput, "connection id must not be empty")
	}
	if desc.UserID == "" {
		return types.ConnectionDescriptor{}, dbvybeerr.New(dbvybeerr.InvalidInput, "user id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[desc.ConnectionID]; exists {
		return types.ConnectionDescriptor{}, dbvybeerr.New(dbvybeerr.InvalidInput, "connection id already registered")
	}

	desc.CreatedAt = now
	desc.LastUsedAt = now
	r.descriptors[desc.ConnectionID] = desc
	return desc, nil
}

// Resolve looks up the descriptor for connectionId and verifies userId owns
// it, updating LastUsedAt on success. Returns [dbvybeerr.NotFound] if no
// active descriptor exists for that (userId, connectionId) pair — including
// when the connection exists but is owned by a different user, so that
// cross-user probing cannot distinguish "doesn't exist" from "not yours".
func (r *Registry) Resolve(ctx context.Context, userID, connectionID string, now time.Time) (types.ConnectionDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.descriptors[connectionID]
	if !ok || desc.UserID != userID {
		return types.ConnectionDescriptor{}, dbvybeerr.New(dbvybeerr.NotFound, "no active connection for this user")
	}

	desc.LastUsedAt = now
	r.descriptors[connectionID] = desc
	return desc, nil
}

// Remove soft-deactivates a connection by taking it out of the registry.
// Returns [dbvybeerr.NotFound] if userId does not own an active descriptor
// with that id.
func (r *Registry) Remove(ctx context.Context, userID, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.descriptors[connectionID]
	if !ok || desc.UserID != userID {
		return dbvybeerr.New(dbvybeerr.NotFound, "no active connection for this user")
	}

	delete(r.descriptors, connectionID)
	return nil
}

// Count returns the number of currently registered descriptors, for
// observability gauges.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}
