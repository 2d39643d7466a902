// Package types holds the data model shared across every component of the
// NL-to-query pipeline: connection descriptors, schema snapshots, embeddings,
// graph entities, prompt context, and query results. Keeping these in their
// own package (rather than in whichever component first needs them) avoids
// import cycles between pkg/registry, pkg/schema, pkg/vectorindex,
// pkg/graphindex, pkg/context, and pkg/orchestrator.
package types

import "time"

// EngineKind identifies which wire protocol and query language a
// ConnectionDescriptor speaks.
type EngineKind string

const (
	// RelationalA is a Postgres-wire-compatible engine: double-quote
	// identifier quoting.
	RelationalA EngineKind = "RELATIONAL_A"
	// RelationalB is a MySQL-wire-compatible engine: backtick identifier
	// quoting.
	RelationalB EngineKind = "RELATIONAL_B"
	// Document is a schemaless JSON-document engine.
	Document EngineKind = "DOCUMENT"
)

// IsRelational reports whether k is one of the relational engine kinds.
func (k EngineKind) IsRelational() bool {
	return k == RelationalA || k == RelationalB
}

// ConnectionDescriptor identifies how to reach a specific database on
// behalf of a specific owning user. Immutable once registered; removal is a
// soft-deactivation that takes it out of the registry rather than mutating
// it in place.
type ConnectionDescriptor struct {
	UserID       string
	ConnectionID string
	Engine       EngineKind
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	// Properties holds driver-specific connection options (TLS mode, URI
	// query parameters for document engines, and so on).
	Properties map[string]string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// TableID returns the canonical table identifier: "{namespace}.{name}" for
// relational engines, "{collection}" for document engines.
func TableID(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// Column describes one column (relational) or inferred field (document).
type Column struct {
	Name         string
	TypeName     string
	Size         int
	Nullable     bool
	DefaultValue *string
	Comment      string
	Ordinal      int
}

// ForeignKey describes a single-column reference from one table/column to
// another table/column.
type ForeignKey struct {
	Column          string
	RefNamespace    string
	RefTable        string
	RefColumn       string
	// Heuristic is true when this FK was inferred from a naming
	// convention (document engines) rather than a declared constraint
	// (relational engines). Heuristic FKs may name the wrong target for
	// irregularly pluralized collection names; downstream code should
	// discount them accordingly.
	Heuristic bool
}

// Index describes a table index (informational; not consulted for query
// planning by this module).
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table is one relational table or document collection.
type Table struct {
	Namespace   string
	Name        string
	Comment     string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// ID returns the table's canonical identifier.
func (t Table) ID() string { return TableID(t.Namespace, t.Name) }

// Schema is the canonical, engine-neutral snapshot of a database produced
// atomically by SchemaExtractor. Immutable for its lifetime — callers must
// treat a returned *Schema as read-only.
type Schema struct {
	Engine       EngineKind
	DatabaseName string
	Namespaces   []string
	Tables       []Table
	ExtractedAt  time.Time
}

// TableByID looks up a table by its canonical identifier. Returns nil if
// absent.
func (s *Schema) TableByID(id string) *Table {
	if s == nil {
		return nil
	}
	for i := range s.Tables {
		if s.Tables[i].ID() == id {
			return &s.Tables[i]
		}
	}
	return nil
}

// SchemaEmbedding is one vector-index point: the embedding of a single
// table's canonical natural-language rendering.
type SchemaEmbedding struct {
	ID           string
	ConnectionID string
	UserID       string
	TableID      string
	Text         string
	Vector       []float32
	CreatedAt    time.Time
}

// ScoredEmbedding pairs a SchemaEmbedding with its similarity score from a
// VectorIndex search.
type ScoredEmbedding struct {
	Embedding SchemaEmbedding
	Score     float64
}

// GraphEdgeKind identifies a GraphIndex relationship type.
type GraphEdgeKind string

const (
	BelongsTo  GraphEdgeKind = "BELONGS_TO"
	References GraphEdgeKind = "REFERENCES"
)

// GraphPath is one shortest-path result: an ordered list of table ids and
// the edge kinds connecting consecutive hops.
type GraphPath struct {
	TableIDs []string
	Edges    []GraphEdgeKind
}

// Neighbor is one neighborhood-query result.
type Neighbor struct {
	TableID  string
	Distance int
	EdgeKind GraphEdgeKind
}

// RankedTable is one table included in an assembled PromptContext.
type RankedTable struct {
	TableID string
	Score   float64
	Text    string
	Columns []Column
}

// PromptContext is the assembled, ranked context handed to LLMClient. It is
// consumed by one call and discarded.
type PromptContext struct {
	Engine        EngineKind
	DatabaseName  string
	RankedTables  []RankedTable
	Relationships []ForeignKey
	JoinHints     []string
	MemoryKey     string
}

// GeneratedQuery is the LLM's query-generation output, ephemeral until
// validated by QuerySanitizer.
type GeneratedQuery struct {
	Engine      EngineKind
	Text        string
	Explanation string
}

// ColumnDescriptor names a result column and its normalized type.
type ColumnDescriptor struct {
	Name string
	Type string
}

// QueryResult is the normalized, tabulated output of EngineDriver.Execute.
type QueryResult struct {
	Columns   []ColumnDescriptor
	Rows      [][]any
	RowCount  int
	ElapsedMs int64
	Status    string

	// SubstitutionNotes carries one human-readable note per defensive
	// parameter-placeholder substitution EngineDriver performed before
	// execution (spec.md §9's "flag but retain" Open Question resolution).
	// It is a transport field from EngineDriver back to the Orchestrator,
	// which appends it to GeneratedQuery.Explanation and clears it — it is
	// not part of the wire-facing result contract in spec.md §3.
	SubstitutionNotes []string
}

// Message is one turn in a conversational memory window.
type Message struct {
	Role    string // "user" | "assistant" | "system"
	Content string
}
