// Package knowledge implements the KnowledgeCache (C4): an in-memory,
// process-lifetime mapping from connection id to the latest Schema
// snapshot. It never synthesizes a missing snapshot — the Orchestrator
// decides whether a miss should trigger re-extraction.
package knowledge

import (
	"context"
	"sync"

	"github.com/gizmosoft/dbvybe/pkg/types"
)

// Cache is a thread-safe KnowledgeCache. The zero value is not ready to
// use; construct with [New].
type Cache struct {
	mu      sync.RWMutex
	schemas map[string]*types.Schema // keyed by connectionId

	// coalesce ensures concurrent re-extractions for the same connection
	// are coalesced into a single in-flight call, per the single-
	// writer-per-key cache policy: other callers await and observe its
	// result rather than triggering their own redundant extraction.
	coalesceMu sync.Mutex
	inFlight   map[string]*coalescedExtraction
}

type coalescedExtraction struct {
	done   chan struct{}
	schema *types.Schema
	err    error
}

// New returns an initialised, empty Cache.
func New() *Cache {
	return &Cache{
		schemas:  make(map[string]*types.Schema),
		inFlight: make(map[string]*coalescedExtraction),
	}
}

// Put stores schema as the current snapshot for connectionId, replacing any
// prior snapshot.
func (c *Cache) Put(connectionID string, schema *types.Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[connectionID] = schema
}

// Get returns the current snapshot for connectionId, or (nil, false) if
// absent.
func (c *Cache) Get(connectionID string) (*types.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[connectionID]
	return s, ok
}

// Drop removes any snapshot held for connectionId. A no-op if absent.
func (c *Cache) Drop(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.schemas, connectionID)
}

// Len reports the number of cached snapshots, for observability gauges.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.schemas)
}

// GetOrExtract returns the cached snapshot for connectionId if present;
// otherwise it calls extract exactly once even if multiple goroutines miss
// concurrently for the same connectionId — later callers block on the
// first call's result instead of triggering their own extraction, and the
// winning result is cached for subsequent Get calls.
func (c *Cache) GetOrExtract(ctx context.Context, connectionID string, extract func(context.Context) (*types.Schema, error)) (*types.Schema, error) {
	if s, ok := c.Get(connectionID); ok {
		return s, nil
	}

	c.coalesceMu.Lock()
	if ex, running := c.inFlight[connectionID]; running {
		c.coalesceMu.Unlock()
		select {
		case <-ex.done:
			return ex.schema, ex.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ex := &coalescedExtraction{done: make(chan struct{})}
	c.inFlight[connectionID] = ex
	c.coalesceMu.Unlock()

	schema, err := extract(ctx)

	c.coalesceMu.Lock()
	ex.schema, ex.err = schema, err
	delete(c.inFlight, connectionID)
	close(ex.done)
	c.coalesceMu.Unlock()

	if err == nil {
		c.Put(connectionID, schema)
	}
	return schema, err
}
