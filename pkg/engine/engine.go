// Package engine implements the EngineDriver (C2): executes a sanitized
// query against the descriptor's connection and returns a normalized
// QueryResult, dispatching across the three engine kinds.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// DefaultTimeout is the default per-call execution timeout.
const DefaultTimeout = 30 * time.Second

// Driver executes a query against a single connection descriptor.
type Driver interface {
	Execute(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error)
}

// Dispatcher routes Execute calls to the relational-A, relational-B, or
// document driver based on the descriptor's engine kind.
type Dispatcher struct {
	RelationalA Driver
	RelationalB Driver
	Document    Driver
}

// Execute implements [Driver].
func (d *Dispatcher) Execute(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error) {
	var drv Driver
	switch desc.Engine {
	case types.RelationalA:
		drv = d.RelationalA
	case types.RelationalB:
		drv = d.RelationalB
	case types.Document:
		drv = d.Document
	}
	if drv == nil {
		return types.QueryResult{}, dbvybeerr.New(dbvybeerr.ExecutionError, fmt.Sprintf("no driver configured for engine %q", desc.Engine))
	}
	return drv.Execute(ctx, desc, queryText, maxRows)
}
