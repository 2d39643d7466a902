package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// conventionalFields are always present on document-engine collections
// regardless of whether the sampled document happens to carry them, mirroring
// the implicit fields most document stores attach to every record.
var conventionalFields = []types.Column{
	{Name: "_id", TypeName: "objectId", Ordinal: 0},
}

// DocumentExtractor introspects a DOCUMENT connection by sampling at most one
// document per collection and walking its fields. Because document
// collections carry no declared schema, the result is a best-effort
// inference rather than an authoritative definition.
type DocumentExtractor struct {
	Dial DocumentConnDialer
}

// Extract implements [Extractor].
func (e *DocumentExtractor) Extract(ctx context.Context, desc types.ConnectionDescriptor) (*types.Schema, error) {
	conn, err := e.Dial(ctx, desc)
	if err != nil {
		return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, "connect for introspection", err)
	}

	collections, err := conn.ListCollections(ctx)
	if err != nil {
		return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, "list collections", err)
	}

	var tables []types.Table
	for _, coll := range collections {
		doc, err := conn.SampleOne(ctx, coll)
		if err != nil {
			return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, fmt.Sprintf("sample collection %s", coll), err)
		}
		tables = append(tables, inferTable(coll, doc, collections))
	}

	return &types.Schema{
		Engine:       types.Document,
		DatabaseName: desc.Database,
		Namespaces:   nil,
		Tables:       tables,
		ExtractedAt:  time.Now().UTC(),
	}, nil
}

// inferTable walks a sampled document's fields recursively, producing dotted
// paths for nested objects, and proposes heuristic relationships for
// `*Id`/`*ID`-suffixed fields whose naively-pluralized prefix matches another
// known collection.
func inferTable(collection string, doc map[string]any, knownCollections []string) types.Table {
	tbl := types.Table{Name: collection}
	tbl.Columns = append(tbl.Columns, conventionalFields...)

	ordinal := len(tbl.Columns)
	var cols []types.Column
	walkFields("", doc, &cols, &ordinal)
	tbl.Columns = append(tbl.Columns, cols...)

	known := map[string]bool{}
	for _, c := range knownCollections {
		known[strings.ToLower(c)] = true
	}

	for _, c := range tbl.Columns {
		if refColl, ok := referencedCollection(c.Name, known); ok {
			tbl.ForeignKeys = append(tbl.ForeignKeys, types.ForeignKey{
				Column:    c.Name,
				RefTable:  refColl,
				RefColumn: "_id",
				Heuristic: true,
			})
		}
	}

	return tbl
}

// walkFields recursively flattens a sampled document into dotted-path
// columns, inferring a type name from each leaf value's Go kind.
func walkFields(prefix string, doc map[string]any, out *[]types.Column, ordinal *int) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		v := doc[k]
		switch val := v.(type) {
		case map[string]any:
			walkFields(path, val, out, ordinal)
		case nil:
			*out = append(*out, types.Column{Name: path, TypeName: "null", Ordinal: *ordinal})
			*ordinal++
		default:
			*out = append(*out, types.Column{Name: path, TypeName: goKindName(val), Ordinal: *ordinal})
			*ordinal++
		}
	}
}

func goKindName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32:
		return "double"
	case int, int32, int64:
		return "long"
	case []any:
		return "array"
	case time.Time:
		return "date"
	default:
		return "string"
	}
}

// referencedCollection proposes that a "*Id"/"*ID"-suffixed field references
// the naively-pluralized (append "s") singular prefix, when that name
// matches a known collection. Ambiguous or unmatched cases are left alone —
// callers must flag any resulting edge as heuristic, never authoritative.
func referencedCollection(fieldName string, known map[string]bool) (string, bool) {
	lower := strings.ToLower(fieldName)
	var prefix string
	switch {
	case strings.HasSuffix(lower, "id") && len(lower) > 2 && lower != "_id":
		prefix = strings.TrimSuffix(lower, "id")
	default:
		return "", false
	}
	prefix = strings.TrimSuffix(prefix, "_")
	if prefix == "" {
		return "", false
	}
	plural := prefix + "s"
	if known[plural] {
		return plural, true
	}
	if known[prefix] {
		return prefix, true
	}
	return "", false
}
