package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// PostgresDialer opens a short-lived connection for introspection. Injected
// rather than pooled: extraction is infrequent (cache-miss driven) and does
// not compete with EngineDriver's execution pool.
type PostgresDialer func(ctx context.Context, desc types.ConnectionDescriptor) (*pgx.Conn, error)

// PostgresExtractor introspects a RELATIONAL_A (Postgres-wire-compatible)
// database via pg_catalog, the same system tables the reference
// introspection tool in this codebase's retrieval pack queries.
type PostgresExtractor struct {
	Dial PostgresDialer
}

// Extract implements [Extractor].
func (e *PostgresExtractor) Extract(ctx context.Context, desc types.ConnectionDescriptor) (*types.Schema, error) {
	conn, err := e.Dial(ctx, desc)
	if err != nil {
		return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, "connect for introspection", err)
	}
	defer conn.Close(ctx)

	namespaces, err := listNamespaces(ctx, conn)
	if err != nil {
		return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, "list namespaces", err)
	}

	var tables []types.Table
	for _, ns := range namespaces {
		names, err := listTableNames(ctx, conn, ns)
		if err != nil {
			return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, "list tables", err)
		}
		for _, name := range names {
			tbl, err := describeTable(ctx, conn, ns, name)
			if err != nil {
				return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, fmt.Sprintf("describe table %s.%s", ns, name), err)
			}
			tables = append(tables, tbl)
		}
	}

	return &types.Schema{
		Engine:       types.RelationalA,
		DatabaseName: desc.Database,
		Namespaces:   namespaces,
		Tables:       tables,
		ExtractedAt:  time.Now().UTC(),
	}, nil
}

// listNamespaces enumerates schemas excluding engine-internal ones.
func listNamespaces(ctx context.Context, conn *pgx.Conn) ([]string, error) {
	const q = `
		SELECT n.nspname
		FROM   pg_catalog.pg_namespace n
		WHERE  n.nspname NOT IN ('pg_catalog', 'information_schema')
		       AND n.nspname NOT LIKE 'pg_%'
		ORDER  BY n.nspname`
	rows, err := conn.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// listTableNames enumerates ordinary tables in namespace ns.
func listTableNames(ctx context.Context, conn *pgx.Conn, ns string) ([]string, error) {
	const q = `
		SELECT c.relname
		FROM   pg_catalog.pg_class c
		JOIN   pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE  n.nspname = $1 AND c.relkind = 'r'
		ORDER  BY c.relname`
	rows, err := conn.Query(ctx, q, ns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// describeTable builds a Table with columns, primary key, and foreign keys
// via the same pg_attribute / pg_constraint / LATERAL-join technique the
// pack's Postgres introspection reference uses.
func describeTable(ctx context.Context, conn *pgx.Conn, ns, name string) (types.Table, error) {
	tbl := types.Table{Namespace: ns, Name: name}

	const commentQ = `SELECT obj_description(c.oid) FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`
	var comment *string
	if err := conn.QueryRow(ctx, commentQ, ns, name).Scan(&comment); err != nil {
		return types.Table{}, err
	}
	if comment != nil {
		tbl.Comment = *comment
	}

	const colQ = `
		SELECT a.attname,
		       pg_catalog.format_type(a.atttypid, a.atttypmod) AS type_name,
		       a.attlen,
		       NOT a.attnotnull AS nullable,
		       pg_catalog.pg_get_expr(d.adbin, d.adrelid) AS default_value,
		       pg_catalog.col_description(c.oid, a.attnum) AS col_comment,
		       a.attnum AS ordinal,
		       COALESCE(pk.is_pk, false) AS is_pk,
		       fk.ref_schema, fk.ref_table, fk.ref_column
		FROM   pg_catalog.pg_attribute a
		JOIN   pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN   pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		LEFT JOIN LATERAL (
			SELECT true AS is_pk
			FROM   pg_constraint con
			WHERE  con.conrelid = c.oid AND con.contype = 'p' AND a.attnum = ANY(con.conkey)
		) pk ON true
		LEFT JOIN LATERAL (
			SELECT nf.nspname AS ref_schema, cf.relname AS ref_table, af.attname AS ref_column
			FROM   pg_constraint con
			JOIN   pg_class cf ON cf.oid = con.confrelid
			JOIN   pg_namespace nf ON nf.oid = cf.relnamespace
			JOIN   pg_attribute af ON af.attrelid = con.confrelid AND af.attnum = con.confkey[1]
			WHERE  con.conrelid = c.oid AND con.contype = 'f' AND a.attnum = con.conkey[1]
			LIMIT 1
		) fk ON true
		WHERE  n.nspname = $1 AND c.relname = $2
		       AND a.attnum > 0 AND NOT a.attisdropped
		ORDER  BY a.attnum`

	rows, err := conn.Query(ctx, colQ, ns, name)
	if err != nil {
		return types.Table{}, err
	}
	defer rows.Close()

	seenPK := map[string]bool{}
	for rows.Next() {
		var (
			col                            types.Column
			isPK                           bool
			refSchema, refTable, refColumn *string
		)
		if err := rows.Scan(
			&col.Name, &col.TypeName, &col.Size, &col.Nullable, &col.DefaultValue, &col.Comment,
			&col.Ordinal, &isPK, &refSchema, &refTable, &refColumn,
		); err != nil {
			return types.Table{}, err
		}
		tbl.Columns = append(tbl.Columns, col)
		if isPK && !seenPK[col.Name] {
			tbl.PrimaryKey = append(tbl.PrimaryKey, col.Name)
			seenPK[col.Name] = true
		}
		if refTable != nil && refColumn != nil {
			ns := ""
			if refSchema != nil {
				ns = *refSchema
			}
			tbl.ForeignKeys = append(tbl.ForeignKeys, types.ForeignKey{
				Column:       col.Name,
				RefNamespace: ns,
				RefTable:     *refTable,
				RefColumn:    *refColumn,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return types.Table{}, err
	}

	return tbl, nil
}
