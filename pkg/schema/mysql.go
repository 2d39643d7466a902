package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// MySQLDialer opens a short-lived *sql.DB for introspection of a RELATIONAL_B
// connection.
type MySQLDialer func(ctx context.Context, desc types.ConnectionDescriptor) (*sql.DB, error)

// MySQLExtractor introspects a RELATIONAL_B database via information_schema,
// MySQL's ANSI-standard introspection views (pg_catalog has no MySQL
// counterpart, so RELATIONAL_B uses information_schema instead of mirroring
// the Postgres extractor's system-catalog queries).
type MySQLExtractor struct {
	Dial MySQLDialer
}

// Extract implements [Extractor]. A MySQL "database" plays the role of a
// single namespace; Schema.Namespaces is always a single-element slice
// holding desc.Database.
func (e *MySQLExtractor) Extract(ctx context.Context, desc types.ConnectionDescriptor) (*types.Schema, error) {
	db, err := e.Dial(ctx, desc)
	if err != nil {
		return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, "connect for introspection", err)
	}
	defer db.Close()

	names, err := mysqlTableNames(ctx, db, desc.Database)
	if err != nil {
		return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, "list tables", err)
	}

	var tables []types.Table
	for _, name := range names {
		tbl, err := mysqlDescribeTable(ctx, db, desc.Database, name)
		if err != nil {
			return nil, dbvybeerr.Wrap(dbvybeerr.ExtractionError, fmt.Sprintf("describe table %s", name), err)
		}
		tables = append(tables, tbl)
	}

	return &types.Schema{
		Engine:       types.RelationalB,
		DatabaseName: desc.Database,
		Namespaces:   []string{desc.Database},
		Tables:       tables,
		ExtractedAt:  time.Now().UTC(),
	}, nil
}

func mysqlTableNames(ctx context.Context, db *sql.DB, database string) ([]string, error) {
	const q = `
		SELECT TABLE_NAME
		FROM   information_schema.TABLES
		WHERE  TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER  BY TABLE_NAME`
	rows, err := db.QueryContext(ctx, q, database)
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

func mysqlDescribeTable(ctx context.Context, db *sql.DB, database, name string) (types.Table, error) {
	tbl := types.Table{Namespace: database, Name: name}

	const tblQ = `
		SELECT TABLE_COMMENT
		FROM   information_schema.TABLES
		WHERE  TABLE_SCHEMA = ? AND TABLE_NAME = ?`
	var comment string
	if err := db.QueryRowContext(ctx, tblQ, database, name).Scan(&comment); err != nil {
		return types.Table{}, err
	}
	if comment != "" {
		tbl.Comment = comment
	}

	const colQ = `
		SELECT c.COLUMN_NAME, c.COLUMN_TYPE, COALESCE(c.CHARACTER_MAXIMUM_LENGTH, 0),
		       c.IS_NULLABLE = 'YES' AS nullable, c.COLUMN_DEFAULT, c.COLUMN_COMMENT,
		       c.ORDINAL_POSITION, c.COLUMN_KEY = 'PRI' AS is_pk
		FROM   information_schema.COLUMNS c
		WHERE  c.TABLE_SCHEMA = ? AND c.TABLE_NAME = ?
		ORDER  BY c.ORDINAL_POSITION`
	rows, err := db.QueryContext(ctx, colQ, database, name)
	if err != nil {
		return types.Table{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			col  types.Column
			isPK bool
		)
		if err := rows.Scan(&col.Name, &col.TypeName, &col.Size, &col.Nullable, &col.DefaultValue, &col.Comment, &col.Ordinal, &isPK); err != nil {
			rows.Close()
			return types.Table{}, err
		}
		tbl.Columns = append(tbl.Columns, col)
		if isPK {
			tbl.PrimaryKey = append(tbl.PrimaryKey, col.Name)
		}
	}
	if err := rows.Err(); err != nil {
		return types.Table{}, err
	}

	const fkQ = `
		SELECT COLUMN_NAME, REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM   information_schema.KEY_COLUMN_USAGE
		WHERE  TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL`
	fkRows, err := db.QueryContext(ctx, fkQ, database, name)
	if err != nil {
		return types.Table{}, err
	}
	defer fkRows.Close()

	for fkRows.Next() {
		var fk types.ForeignKey
		if err := fkRows.Scan(&fk.Column, &fk.RefNamespace, &fk.RefTable, &fk.RefColumn); err != nil {
			return types.Table{}, err
		}
		tbl.ForeignKeys = append(tbl.ForeignKeys, fk)
	}
	if err := fkRows.Err(); err != nil {
		return types.Table{}, err
	}

	const idxQ = `
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE = 0 AS is_unique
		FROM   information_schema.STATISTICS
		WHERE  TABLE_SCHEMA = ? AND TABLE_NAME = ? AND INDEX_NAME != 'PRIMARY'
		ORDER  BY INDEX_NAME, SEQ_IN_INDEX`
	idxRows, err := db.QueryContext(ctx, idxQ, database, name)
	if err != nil {
		return types.Table{}, err
	}
	defer idxRows.Close()

	byName := map[string]*types.Index{}
	var order []string
	for idxRows.Next() {
		var idxName, col string
		var unique bool
		if err := idxRows.Scan(&idxName, &col, &unique); err != nil {
			return types.Table{}, err
		}
		idx, ok := byName[idxName]
		if !ok {
			idx = &types.Index{Name: idxName, Unique: unique}
			byName[idxName] = idx
			order = append(order, idxName)
		}
		idx.Columns = append(idx.Columns, col)
	}
	if err := idxRows.Err(); err != nil {
		return types.Table{}, err
	}
	for _, n := range order {
		tbl.Indexes = append(tbl.Indexes, *byName[n])
	}

	return tbl, nil
}
