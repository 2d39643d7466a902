// Package schema implements the SchemaExtractor (C3): introspection of live
// databases into a canonical, engine-neutral Schema snapshot, plus the
// canonical natural-language table rendering used as VectorIndex embedding
// text.
package schema

import (
	"context"
	"fmt"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// Extractor produces a Schema snapshot for a connection descriptor.
type Extractor interface {
	Extract(ctx context.Context, desc types.ConnectionDescriptor) (*types.Schema, error)
}

// DocumentConnDialer opens a [types.DocumentConn] for a document-engine
// descriptor. Injected so this package never depends on a concrete
// document-database client library.
type DocumentConnDialer func(ctx context.Context, desc types.ConnectionDescriptor) (types.DocumentConn, error)

// Dispatcher routes Extract calls to the relational-A, relational-B, or
// document extractor based on the descriptor's engine kind.
type Dispatcher struct {
	RelationalA Extractor
	RelationalB Extractor
	Document    Extractor
}

// Extract implements [Extractor] by dispatching on desc.Engine. Returns a
// [dbvybeerr.ExtractionError] for an engine kind with no configured
// extractor.
func (d *Dispatcher) Extract(ctx context.Context, desc types.ConnectionDescriptor) (*types.Schema, error) {
	var ex Extractor
	switch desc.Engine {
	case types.RelationalA:
		ex = d.RelationalA
	case types.RelationalB:
		ex = d.RelationalB
	case types.Document:
		ex = d.Document
	}
	if ex == nil {
		return nil, dbvybeerr.New(dbvybeerr.ExtractionError, fmt.Sprintf("no extractor configured for engine %q", desc.Engine))
	}
	return ex.Extract(ctx, desc)
}

// RenderTableText produces the canonical natural-language rendering of a
// table used as VectorIndex embedding text:
//
//	"Table: {id}[ - {comment}]. Columns: {name} ({type})[ - {comment}], ….
//	 Relationships: {col} references {tgtTable}.{tgtCol}, …"
func RenderTableText(t types.Table) string {
	s := "Table: " + t.ID()
	if t.Comment != "" {
		s += " - " + t.Comment
	}
	s += ". Columns: "
	for i, c := range t.Columns {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s (%s)", c.Name, c.TypeName)
		if c.Comment != "" {
			s += " - " + c.Comment
		}
	}
	if len(t.ForeignKeys) > 0 {
		s += ". Relationships: "
		for i, fk := range t.ForeignKeys {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("%s references %s.%s", fk.Column, types.TableID(fk.RefNamespace, fk.RefTable), fk.RefColumn)
		}
	}
	return s
}
