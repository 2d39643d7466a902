package types

import "context"

// DocumentConn is the pluggable contract a document-engine connection must
// satisfy. Neither EngineDriver nor SchemaExtractor depends on a concrete
// document-database client library — the wire protocol for `doc://` URIs is
// explicitly out of this module's scope (mirroring how the specification
// scopes out packaging of the language-model provider SDK); callers inject
// a DocumentConn implementation appropriate to their deployment.
type DocumentConn interface {
	// ListCollections returns every collection name in the database.
	ListCollections(ctx context.Context) ([]string, error)

	// SampleOne returns at most one document from collection, or nil if the
	// collection is empty. Used by SchemaExtractor to infer a field layout.
	SampleOne(ctx context.Context, collection string) (map[string]any, error)

	// Find executes a `find`-shaped query: filter and projection are
	// already-decoded JSON objects; limit bounds the returned document
	// count.
	Find(ctx context.Context, collection string, filter, projection map[string]any, limit int) ([]map[string]any, error)

	// Aggregate executes an `aggregate`-shaped query: pipeline is the
	// already-decoded JSON array of stage objects.
	Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error)

	// Count executes a `count`-shaped query.
	Count(ctx context.Context, collection string, filter map[string]any) (int64, error)

	// Distinct executes a `distinct`-shaped query.
	Distinct(ctx context.Context, collection string, field string, filter map[string]any) ([]any, error)
}
