// Package vectorindex implements the VectorIndex (C5): a pgvector-backed
// schema-embedding store with connection-scoped filtering and cosine
// similarity search. When the backing Postgres instance is unreachable the
// index operates in degraded mode: writes are acknowledged without being
// persisted and reads return empty, exactly as the specification's
// degraded-mode contract requires. Degraded mode is driven by the same
// three-state circuit breaker the rest of this module uses for any remote
// dependency that may go away mid-process.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/gizmosoft/dbvybe/internal/resilience"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// Dimensions is the fixed embedding dimension the specification mandates: a
// small multilingual sentence encoder. Unlike the teacher's parameterized
// pgvector schema, this is not configurable.
const Dimensions = 384

const ddlSchemaEmbeddings = `
CREATE TABLE IF NOT EXISTS schema_embeddings (
    id            uuid PRIMARY KEY,
    collection    text NOT NULL,
    connection_id text NOT NULL,
    user_id       text NOT NULL,
    table_id      text NOT NULL,
    text          text NOT NULL,
    embedding     vector(384) NOT NULL,
    created_at    timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS schema_embeddings_connection_idx ON schema_embeddings (connection_id);
CREATE INDEX IF NOT EXISTS schema_embeddings_embedding_hnsw ON schema_embeddings USING hnsw (embedding vector_cosine_ops);
`

// Index is the pgvector-backed VectorIndex implementation.
type Index struct {
	pool       *pgxpool.Pool
	collection string
	breaker    *resilience.CircuitBreaker
}

// New connects to dsn, registers pgvector types, runs the idempotent
// migration, and returns a ready Index scoped to collection (the logical
// grouping named by `vector.collection`, default "dbvybe_schemas"). If the
// store does not answer the startup ping, New logs a warning, skips the
// migration, and returns an Index that serves in degraded mode.
func New(ctx context.Context, dsn, collection string) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		slog.Warn("vectorindex: store unreachable at startup, serving degraded", "error", err)
	} else if _, err := pool.Exec(ctx, ddlSchemaEmbeddings); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorindex: migrate: %w", err)
	}

	return &Index{
		pool:       pool,
		collection: collection,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "vectorindex",
		}),
	}, nil
}

// Close releases the underlying connection pool.
func (idx *Index) Close() { idx.pool.Close() }

// Degraded reports whether the index is currently operating in degraded
// mode (the backing store is unreachable). This is the status flag the
// specification requires be observable for tests.
func (idx *Index) Degraded() bool {
	return idx.breaker.State() != resilience.StateClosed
}

// Upsert overwrites each embedding by id. In degraded mode, logs and
// returns success without persisting — per the degraded-mode contract,
// callers cannot distinguish a degraded no-op from a real write.
func (idx *Index) Upsert(ctx context.Context, embeddings []types.SchemaEmbedding) error {
	for _, e := range embeddings {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if len(e.Vector) != Dimensions {
			return fmt.Errorf("vectorindex: embedding for table %q has dimension %d, want %d", e.TableID, len(e.Vector), Dimensions)
		}

		err := idx.breaker.Execute(func() error {
			const q = `
				INSERT INTO schema_embeddings
				    (id, collection, connection_id, user_id, table_id, text, embedding, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
				    collection    = EXCLUDED.collection,
				    connection_id = EXCLUDED.connection_id,
				    user_id       = EXCLUDED.user_id,
				    table_id      = EXCLUDED.table_id,
				    text          = EXCLUDED.text,
				    embedding     = EXCLUDED.embedding,
				    created_at    = EXCLUDED.created_at`
			_, execErr := idx.pool.Exec(ctx, q,
				e.ID, idx.collection, e.ConnectionID, e.UserID, e.TableID, e.Text,
				pgvector.NewVector(e.Vector), e.CreatedAt,
			)
			return execErr
		})
		if err != nil {
			slog.Warn("vectorindex: upsert failed, serving degraded", "table_id", e.TableID, "error", err)
			return nil
		}
	}
	return nil
}

// Search returns up to limit points ranked by descending cosine similarity
// to queryVector. When filterConnectionID is non-empty, filtering is applied
// post-ranking: the query over-fetches limit*2 candidates globally, then
// trims to limit after discarding points from other connections — matching
// the specification's documented over-fetch factor. Returns an empty slice
// (not an error) in degraded mode.
func (idx *Index) Search(ctx context.Context, queryVector []float32, limit int, filterConnectionID string) ([]types.ScoredEmbedding, error) {
	if limit <= 0 {
		return []types.ScoredEmbedding{}, nil
	}
	fetch := limit * 2

	var out []types.ScoredEmbedding
	err := idx.breaker.Execute(func() error {
		const q = `
			SELECT id, connection_id, user_id, table_id, text, embedding, created_at,
			       1 - (embedding <=> $1) AS score
			FROM   schema_embeddings
			WHERE  collection = $2
			ORDER  BY embedding <=> $1
			LIMIT  $3`

		rows, queryErr := idx.pool.Query(ctx, q, pgvector.NewVector(queryVector), idx.collection, fetch)
		if queryErr != nil {
			return queryErr
		}

		candidates, scanErr := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ScoredEmbedding, error) {
			var (
				se  types.ScoredEmbedding
				vec pgvector.Vector
			)
			if err := row.Scan(
				&se.Embedding.ID, &se.Embedding.ConnectionID, &se.Embedding.UserID,
				&se.Embedding.TableID, &se.Embedding.Text, &vec, &se.Embedding.CreatedAt,
				&se.Score,
			); err != nil {
				return types.ScoredEmbedding{}, err
			}
			se.Embedding.Vector = vec.Slice()
			return se, nil
		})
		if scanErr != nil {
			return scanErr
		}

		if filterConnectionID == "" {
			if len(candidates) > limit {
				candidates = candidates[:limit]
			}
			out = candidates
			return nil
		}

		filtered := make([]types.ScoredEmbedding, 0, limit)
		for _, c := range candidates {
			if c.Embedding.ConnectionID == filterConnectionID {
				filtered = append(filtered, c)
				if len(filtered) == limit {
					break
				}
			}
		}
		out = filtered
		return nil
	})
	if err != nil {
		slog.Warn("vectorindex: search failed, serving degraded empty result", "error", err)
		return []types.ScoredEmbedding{}, nil
	}
	if out == nil {
		out = []types.ScoredEmbedding{}
	}
	return out, nil
}

// DeleteByConnection removes every point whose payload matches
// (connectionId, userId). In degraded mode, logs and returns success
// without persisting the delete; the points stay in the store, and nothing
// in this module retries the delete later.
func (idx *Index) DeleteByConnection(ctx context.Context, connectionID, userID string) error {
	err := idx.breaker.Execute(func() error {
		const q = `DELETE FROM schema_embeddings WHERE connection_id = $1 AND user_id = $2 AND collection = $3`
		_, execErr := idx.pool.Exec(ctx, q, connectionID, userID, idx.collection)
		return execErr
	})
	if err != nil {
		slog.Warn("vectorindex: delete-by-connection failed, serving degraded", "connection_id", connectionID, "error", err)
		return nil
	}
	return nil
}
