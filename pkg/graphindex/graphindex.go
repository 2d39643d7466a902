// Package graphindex implements the GraphIndex (C6): a property-graph store
// of schema relationships, backed by its own PostgreSQL pool (separate from
// VectorIndex's) using recursive CTEs for shortest-path and neighborhood
// traversal — the same technique the teacher's knowledge-graph layer uses
// for its L3 memory store, generalized from conversational entities to
// database/table/reference nodes. Degraded mode follows the identical
// circuit-breaker contract as VectorIndex so that one store's unavailability
// never masks the other's.
package graphindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gizmosoft/dbvybe/internal/resilience"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

const ddlGraph = `
CREATE TABLE IF NOT EXISTS graph_databases (
    connection_id text PRIMARY KEY,
    user_id       text NOT NULL,
    engine        text NOT NULL
);
CREATE TABLE IF NOT EXISTS graph_tables (
    id            text PRIMARY KEY,
    connection_id text NOT NULL REFERENCES graph_databases(connection_id) ON DELETE CASCADE,
    table_id      text NOT NULL,
    UNIQUE (connection_id, table_id)
);
CREATE TABLE IF NOT EXISTS graph_edges (
    id            bigserial PRIMARY KEY,
    connection_id text NOT NULL REFERENCES graph_databases(connection_id) ON DELETE CASCADE,
    src_table_id  text NOT NULL,
    dst_table_id  text NOT NULL,
    src_column    text NOT NULL,
    dst_column    text NOT NULL,
    kind          text NOT NULL,
    UNIQUE (connection_id, src_table_id, dst_table_id, src_column, dst_column)
);
CREATE INDEX IF NOT EXISTS graph_tables_connection_idx ON graph_tables (connection_id);
CREATE INDEX IF NOT EXISTS graph_edges_connection_idx ON graph_edges (connection_id);
CREATE INDEX IF NOT EXISTS graph_edges_src_idx ON graph_edges (connection_id, src_table_id);
`

// RelationshipInput is one foreign-key-shaped edge to store, already
// resolved to canonical table ids by the caller.
type RelationshipInput struct {
	SrcTableID string
	DstTableID string
	SrcColumn  string
	DstColumn  string
}

// Index is the PostgreSQL-backed GraphIndex implementation.
type Index struct {
	pool    *pgxpool.Pool
	breaker *resilience.CircuitBreaker
}

// New connects to dsn, runs the idempotent migration, and returns a ready
// Index. If the store does not answer the startup ping, New logs a warning,
// skips the migration, and returns an Index that serves in degraded mode.
func New(ctx context.Context, dsn string) (*Index, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("graphindex: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		slog.Warn("graphindex: store unreachable at startup, serving degraded", "error", err)
	} else if _, err := pool.Exec(ctx, ddlGraph); err != nil {
		pool.Close()
		return nil, fmt.Errorf("graphindex: migrate: %w", err)
	}
	return &Index{
		pool:    pool,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "graphindex"}),
	}, nil
}

// Close releases the underlying connection pool.
func (idx *Index) Close() { idx.pool.Close() }

// Degraded reports whether the index is currently operating in degraded
// mode.
func (idx *Index) Degraded() bool {
	return idx.breaker.State() != resilience.StateClosed
}

// StoreRelationships creates the Database node if absent, merges Table
// nodes for every table referenced by rels (by src or dst), and replaces
// all REFERENCES edges for connectionId with rels. Idempotent on re-store:
// re-running with identical input yields the same set of edges because the
// replace is done inside one transaction and edges are unique on
// (connectionId, src, dst, srcColumn, dstColumn). In degraded mode, logs and
// returns success without persisting.
func (idx *Index) StoreRelationships(ctx context.Context, connectionID, userID string, engine types.EngineKind, rels []RelationshipInput) error {
	err := idx.breaker.Execute(func() error {
		tx, txErr := idx.pool.Begin(ctx)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `
			INSERT INTO graph_databases (connection_id, user_id, engine)
			VALUES ($1, $2, $3)
			ON CONFLICT (connection_id) DO UPDATE SET user_id = EXCLUDED.user_id, engine = EXCLUDED.engine`,
			connectionID, userID, string(engine),
		); err != nil {
			return err
		}

		tableIDs := map[string]struct{}{}
		for _, r := range rels {
			tableIDs[r.SrcTableID] = struct{}{}
			tableIDs[r.DstTableID] = struct{}{}
		}
		for tableID := range tableIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO graph_tables (id, connection_id, table_id)
				VALUES ($1, $2, $3)
				ON CONFLICT (connection_id, table_id) DO NOTHING`,
				connectionID+"/"+tableID, connectionID, tableID,
			); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM graph_edges WHERE connection_id = $1`, connectionID); err != nil {
			return err
		}
		for _, r := range rels {
			if _, err := tx.Exec(ctx, `
				INSERT INTO graph_edges (connection_id, src_table_id, dst_table_id, src_column, dst_column, kind)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				connectionID, r.SrcTableID, r.DstTableID, r.SrcColumn, r.DstColumn, string(types.References),
			); err != nil {
				return err
			}
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		slog.Warn("graphindex: store relationships failed, serving degraded", "connection_id", connectionID, "error", err)
		return nil
	}
	return nil
}

// ShortestPath returns up to 10 paths from srcTable to dstTable within
// connectionId, ordered by ascending length, using a recursive CTE that
// tracks the visited path to guard against cycles (schema reference graphs
// are not acyclic). Returns an empty slice in degraded mode.
func (idx *Index) ShortestPath(ctx context.Context, connectionID, srcTable, dstTable string, maxDepth int) ([]types.GraphPath, error) {
	var out []types.GraphPath
	err := idx.breaker.Execute(func() error {
		const q = `
			WITH RECURSIVE path_search(src, dst, path, kinds, depth) AS (
				SELECT src_table_id, dst_table_id, ARRAY[src_table_id, dst_table_id],
				       ARRAY[kind], 1
				FROM   graph_edges
				WHERE  connection_id = $1 AND src_table_id = $2

				UNION ALL

				SELECT ps.src, e.dst_table_id, ps.path || e.dst_table_id,
				       ps.kinds || e.kind, ps.depth + 1
				FROM   path_search ps
				JOIN   graph_edges e
				       ON e.connection_id = $1 AND e.src_table_id = ps.dst
				WHERE  ps.depth < $4
				       AND NOT e.dst_table_id = ANY(ps.path)
			)
			SELECT path, kinds
			FROM   path_search
			WHERE  dst = $3
			ORDER  BY depth
			LIMIT  10`

		rows, queryErr := idx.pool.Query(ctx, q, connectionID, srcTable, dstTable, maxDepth)
		if queryErr != nil {
			return queryErr
		}
		paths, scanErr := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.GraphPath, error) {
			var p types.GraphPath
			var kinds []string
			if err := row.Scan(&p.TableIDs, &kinds); err != nil {
				return types.GraphPath{}, err
			}
			for _, k := range kinds {
				p.Edges = append(p.Edges, types.GraphEdgeKind(k))
			}
			return p, nil
		})
		if scanErr != nil {
			return scanErr
		}
		out = paths
		return nil
	})
	if err != nil {
		slog.Warn("graphindex: shortest path failed, serving degraded empty result", "error", err)
		return []types.GraphPath{}, nil
	}
	if out == nil {
		out = []types.GraphPath{}
	}
	return out, nil
}

// Neighborhood returns every table reachable from tableID within maxDepth
// hops (in either edge direction), deduplicated, ordered by distance then
// name, capped at 20. Returns an empty slice in degraded mode.
func (idx *Index) Neighborhood(ctx context.Context, connectionID, tableID string, maxDepth int) ([]types.Neighbor, error) {
	var out []types.Neighbor
	err := idx.breaker.Execute(func() error {
		const q = `
			WITH RECURSIVE reachable(id, kind, visited, depth) AS (
				SELECT $2::text, ''::text, ARRAY[$2::text], 0

				UNION ALL

				SELECT nxt.id, nxt.kind, r.visited || nxt.id, r.depth + 1
				FROM   reachable r
				JOIN   LATERAL (
					SELECT dst_table_id AS id, kind FROM graph_edges
					WHERE  connection_id = $1 AND src_table_id = r.id
					UNION ALL
					SELECT src_table_id AS id, kind FROM graph_edges
					WHERE  connection_id = $1 AND dst_table_id = r.id
				) nxt ON true
				WHERE  r.depth < $3 AND NOT nxt.id = ANY(r.visited)
			)
			SELECT DISTINCT ON (id) id, kind, depth
			FROM   reachable
			WHERE  depth > 0
			ORDER  BY id, depth
			LIMIT  40`

		rows, queryErr := idx.pool.Query(ctx, q, connectionID, tableID, maxDepth)
		if queryErr != nil {
			return queryErr
		}
		neighbors, scanErr := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Neighbor, error) {
			var n types.Neighbor
			var kind string
			if err := row.Scan(&n.TableID, &kind, &n.Distance); err != nil {
				return types.Neighbor{}, err
			}
			n.EdgeKind = types.GraphEdgeKind(kind)
			return n, nil
		})
		if scanErr != nil {
			return scanErr
		}
		sortNeighbors(neighbors)
		if len(neighbors) > 20 {
			neighbors = neighbors[:20]
		}
		out = neighbors
		return nil
	})
	if err != nil {
		slog.Warn("graphindex: neighborhood failed, serving degraded empty result", "error", err)
		return []types.Neighbor{}, nil
	}
	if out == nil {
		out = []types.Neighbor{}
	}
	return out, nil
}

// Dependencies returns, for each id in tableIDs, the list of table ids it
// directly references (outbound edges only). Returns an empty map in
// degraded mode.
func (idx *Index) Dependencies(ctx context.Context, connectionID string, tableIDs []string) (map[string][]string, error) {
	out := map[string][]string{}
	err := idx.breaker.Execute(func() error {
		const q = `
			SELECT src_table_id, dst_table_id
			FROM   graph_edges
			WHERE  connection_id = $1 AND src_table_id = ANY($2)
			ORDER  BY src_table_id, dst_table_id`
		rows, queryErr := idx.pool.Query(ctx, q, connectionID, tableIDs)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		for rows.Next() {
			var src, dst string
			if err := rows.Scan(&src, &dst); err != nil {
				return err
			}
			out[src] = append(out[src], dst)
		}
		return rows.Err()
	})
	if err != nil {
		slog.Warn("graphindex: dependencies failed, serving degraded empty result", "error", err)
		return map[string][]string{}, nil
	}
	return out, nil
}

// DeleteByConnection removes the Database node for connectionId, cascading
// to its Table nodes and edges. In degraded mode, logs and returns success
// without persisting.
func (idx *Index) DeleteByConnection(ctx context.Context, connectionID, userID string) error {
	err := idx.breaker.Execute(func() error {
		_, execErr := idx.pool.Exec(ctx, `DELETE FROM graph_databases WHERE connection_id = $1 AND user_id = $2`, connectionID, userID)
		return execErr
	})
	if err != nil {
		slog.Warn("graphindex: delete-by-connection failed, serving degraded", "connection_id", connectionID, "error", err)
		return nil
	}
	return nil
}

// sortNeighbors orders by ascending distance then lexicographic table id,
// matching the specification's documented ordering.
func sortNeighbors(ns []types.Neighbor) {
	for i := 1; i < len(ns); i++ {
		for j := i; j > 0 && less(ns[j], ns[j-1]); j-- {
			ns[j], ns[j-1] = ns[j-1], ns[j]
		}
	}
}

func less(a, b types.Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.TableID < b.TableID
}
