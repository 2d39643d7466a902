package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// PostgresDialer opens a connection used to execute one query against a
// RELATIONAL_A descriptor.
type PostgresDialer func(ctx context.Context, desc types.ConnectionDescriptor) (*pgx.Conn, error)

// PostgresDriver executes sanitized queries against a RELATIONAL_A
// connection.
type PostgresDriver struct {
	Dial    PostgresDialer
	Timeout time.Duration
}

// Execute implements [Driver].
func (d *PostgresDriver) Execute(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	queryText, notes := substitutePlaceholders(queryText)

	conn, err := d.Dial(ctx, desc)
	if err != nil {
		return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.ExecutionError, "connect", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, queryText)
	if err != nil {
		if ctx.Err() != nil {
			return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.Timeout, "query execution timed out", err)
		}
		return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.ExecutionError, "query execution failed", err)
	}
	defer rows.Close()

	result, err := collectPgxRows(rows, maxRows)
	if err != nil {
		return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.ExecutionError, "read result rows", err)
	}
	result.ElapsedMs = time.Since(start).Milliseconds()
	result.Status = "ok"
	result.SubstitutionNotes = notes
	return result, nil
}

func collectPgxRows(rows pgx.Rows, maxRows int) (types.QueryResult, error) {
	fds := rows.FieldDescriptions()
	result := types.QueryResult{}
	for _, fd := range fds {
		result.Columns = append(result.Columns, types.ColumnDescriptor{Name: string(fd.Name), Type: fdTypeName(fd)})
	}

	for rows.Next() && result.RowCount < maxRows {
		vals, err := rows.Values()
		if err != nil {
			return types.QueryResult{}, err
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			row[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	return result, rows.Err()
}

// fdTypeName resolves a pgx field's OID to its Postgres type name via the
// connection-independent built-in type registry, falling back to the raw OID
// for extension types (e.g. the vector type used by the vector index).
func fdTypeName(fd pgx.FieldDescription) string {
	if t, ok := pgtype.NewMap().TypeForOID(fd.DataTypeOID); ok {
		return t.Name
	}
	return fmt.Sprintf("oid:%d", fd.DataTypeOID)
}

// MySQLDialer opens a *sql.DB used to execute one query against a
// RELATIONAL_B descriptor.
type MySQLDialer func(ctx context.Context, desc types.ConnectionDescriptor) (*sql.DB, error)

// MySQLDriver executes sanitized queries against a RELATIONAL_B connection.
type MySQLDriver struct {
	Dial    MySQLDialer
	Timeout time.Duration
}

// Execute implements [Driver].
func (d *MySQLDriver) Execute(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	queryText, notes := substitutePlaceholders(queryText)

	db, err := d.Dial(ctx, desc)
	if err != nil {
		return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.ExecutionError, "connect", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, queryText)
	if err != nil {
		if ctx.Err() != nil {
			return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.Timeout, "query execution timed out", err)
		}
		return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.ExecutionError, "query execution failed", err)
	}
	defer rows.Close()

	result, err := collectSQLRows(rows, maxRows)
	if err != nil {
		return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.ExecutionError, "read result rows", err)
	}
	result.ElapsedMs = time.Since(start).Milliseconds()
	result.Status = "ok"
	result.SubstitutionNotes = notes
	return result, nil
}

func collectSQLRows(rows *sql.Rows, maxRows int) (types.QueryResult, error) {
	colNames, err := rows.Columns()
	if err != nil {
		return types.QueryResult{}, err
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return types.QueryResult{}, err
	}

	result := types.QueryResult{}
	dbTypes := make([]string, len(colNames))
	for i, name := range colNames {
		dbTypes[i] = colTypes[i].DatabaseTypeName()
		result.Columns = append(result.Columns, types.ColumnDescriptor{Name: name, Type: dbTypes[i]})
	}

	scanBuf := make([]any, len(colNames))
	scanPtrs := make([]any, len(colNames))
	for i := range scanBuf {
		scanPtrs[i] = &scanBuf[i]
	}

	for rows.Next() && result.RowCount < maxRows {
		if err := rows.Scan(scanPtrs...); err != nil {
			return types.QueryResult{}, err
		}
		row := make([]any, len(scanBuf))
		for i, v := range scanBuf {
			row[i] = normalizeMySQLValue(v, dbTypes[i])
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	return result, rows.Err()
}
