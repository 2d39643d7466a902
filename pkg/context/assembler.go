// Package context implements the ContextAssembler (C7): ranks candidate
// tables by vector similarity, enriches them from the cached Schema, and
// derives join hints from the graph store into one PromptContext consumed by
// a single LLMClient call.
package context

import (
	"context"
	"fmt"
	"sort"

	"github.com/gizmosoft/dbvybe/pkg/provider/embeddings"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// DefaultTopK is the default number of ranked tables included in an
// assembled PromptContext.
const DefaultTopK = 8

// joinHintDepth bounds the top-ranked tables considered for pairwise
// shortest-path join hints; beyond the top 3 the combinatorial cost of
// pairwise path lookups outweighs the benefit to the prompt.
const joinHintDepth = 3

// VectorSearcher is the narrow VectorIndex surface this package depends on.
type VectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, limit int, filterConnectionID string) ([]types.ScoredEmbedding, error)
}

// GraphPathFinder is the narrow GraphIndex surface this package depends on.
type GraphPathFinder interface {
	ShortestPath(ctx context.Context, connectionID, srcTable, dstTable string, maxDepth int) ([]types.GraphPath, error)
}

// SchemaLookup is the narrow KnowledgeCache surface this package depends on.
type SchemaLookup interface {
	Get(connectionID string) (*types.Schema, bool)
}

// Assembler is the ContextAssembler component.
type Assembler struct {
	vector     VectorSearcher
	graph      GraphPathFinder
	cache      SchemaLookup
	embeddings embeddings.Provider
	topK       int
}

// New constructs an Assembler. topK <= 0 uses DefaultTopK.
func New(vector VectorSearcher, graph GraphPathFinder, cache SchemaLookup, embedder embeddings.Provider, topK int) *Assembler {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Assembler{vector: vector, graph: graph, cache: cache, embeddings: embedder, topK: topK}
}

// result bundles the two independently-gathered pieces of context (vector
// hits and cached schema); a degraded input is left empty.
type result struct {
	scored []types.ScoredEmbedding
	schema *types.Schema
}

// Assemble gathers vector search and schema concurrently, then derives graph
// join hints from the ranked tables, and combines them into a PromptContext.
// Per the specification's GATHER_CONTEXT contract, a failing or degraded
// input is treated as empty rather than aborting the whole assembly.
func (a *Assembler) Assemble(ctx context.Context, engine types.EngineKind, databaseName, connectionID, userID, userQuery string) types.PromptContext {
	res := a.gather(ctx, connectionID, userQuery)

	ranked := rankTables(res.scored, res.schema, a.topK)

	pc := types.PromptContext{
		Engine:       engine,
		DatabaseName: databaseName,
		RankedTables: ranked,
		MemoryKey:    userID,
	}
	pc.Relationships = relationshipsAmong(ranked, res.schema)
	pc.JoinHints = a.joinHints(ctx, connectionID, ranked)

	return pc
}

func (a *Assembler) gather(ctx context.Context, connectionID, userQuery string) result {
	type vectorOutcome struct {
		scored []types.ScoredEmbedding
	}

	vecCh := make(chan vectorOutcome, 1)
	go func() {
		var out vectorOutcome
		if vec, err := a.embeddings.Embed(ctx, userQuery); err == nil {
			if scored, err := a.vector.Search(ctx, vec, a.topK, connectionID); err == nil {
				out.scored = scored
			}
		}
		vecCh <- out
	}()

	schemaCh := make(chan *types.Schema, 1)
	go func() {
		schema, _ := a.cache.Get(connectionID)
		schemaCh <- schema
	}()

	vecOut := <-vecCh
	schema := <-schemaCh

	return result{scored: vecOut.scored, schema: schema}
}

// rankTables orders scored embeddings by descending score, attaches rendered
// text and columns from schema when available, and trims to topK.
func rankTables(scored []types.ScoredEmbedding, schema *types.Schema, topK int) []types.RankedTable {
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	var out []types.RankedTable
	for _, se := range scored {
		if len(out) >= topK {
			break
		}
		rt := types.RankedTable{TableID: se.Embedding.TableID, Score: se.Score, Text: se.Embedding.Text}
		if tbl := schema.TableByID(se.Embedding.TableID); tbl != nil {
			rt.Columns = tbl.Columns
		}
		out = append(out, rt)
	}
	return out
}

// relationshipsAmong collects every FK where either endpoint is a ranked
// table, so the model sees edges leaving the ranked set as well as edges
// within it.
func relationshipsAmong(ranked []types.RankedTable, schema *types.Schema) []types.ForeignKey {
	if schema == nil {
		return nil
	}
	rankedIDs := make(map[string]bool, len(ranked))
	for _, rt := range ranked {
		rankedIDs[rt.TableID] = true
	}

	var out []types.ForeignKey
	for _, tbl := range schema.Tables {
		for _, fk := range tbl.ForeignKeys {
			if rankedIDs[tbl.ID()] || rankedIDs[types.TableID(fk.RefNamespace, fk.RefTable)] {
				out = append(out, fk)
			}
		}
	}
	return out
}

// joinHints derives human-readable join hints from graph shortest paths
// among the top joinHintDepth ranked tables.
func (a *Assembler) joinHints(ctx context.Context, connectionID string, ranked []types.RankedTable) []string {
	limit := joinHintDepth
	if len(ranked) < limit {
		limit = len(ranked)
	}

	var hints []string
	for i := 0; i < limit; i++ {
		for j := i + 1; j < limit; j++ {
			paths, err := a.graph.ShortestPath(ctx, connectionID, ranked[i].TableID, ranked[j].TableID, 4)
			if err != nil || len(paths) == 0 {
				continue
			}
			hints = append(hints, renderJoinHint(paths[0]))
		}
	}
	return hints
}

func renderJoinHint(p types.GraphPath) string {
	s := ""
	for i, id := range p.TableIDs {
		if i > 0 {
			s += fmt.Sprintf(" -[%s]-> ", p.Edges[i-1])
		}
		s += id
	}
	return s
}
