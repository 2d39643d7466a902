package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// DocumentDriver executes sanitized document-engine queries against a
// pluggable [types.DocumentConn]. The wire protocol for `doc://` URIs is out
// of this module's scope (see [types.DocumentConn]); this driver only owns
// the JSON-shape dispatch and limit enforcement described in spec.md §4.2.
type DocumentDriver struct {
	Dial    func(ctx context.Context, desc types.ConnectionDescriptor) (types.DocumentConn, error)
	Timeout time.Duration
}

// documentQuery is the decoded shape of a sanitized document-engine query:
// exactly one of find/aggregate/count/distinct, per spec.md §4.2 and §4.10.
type documentQuery struct {
	collection string
	op         string
	raw        gjson.Result
}

// Execute implements [Driver]. queryText must already have passed
// QuerySanitizer — it parses it again defensively (a malformed shape here is
// a programmer error, not a user-facing one) and dispatches on the single
// top-level key.
func (d *DocumentDriver) Execute(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	if !gjson.Valid(queryText) {
		return types.QueryResult{}, dbvybeerr.New(dbvybeerr.ExecutionError, "query text is not valid JSON")
	}
	parsed := gjson.Parse(queryText)
	if !parsed.IsObject() {
		return types.QueryResult{}, dbvybeerr.New(dbvybeerr.ExecutionError, "query text must be a JSON object")
	}

	q, err := decodeDocumentQuery(parsed)
	if err != nil {
		return types.QueryResult{}, err
	}

	conn, err := d.Dial(ctx, desc)
	if err != nil {
		return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.ExecutionError, "connect", err)
	}

	var docs []map[string]any
	var countResult *int64
	var distinctResult []any

	switch q.op {
	case "find":
		filter := jsonObject(q.raw.Get("filter"))
		projection := jsonObject(q.raw.Get("projection"))
		limit := effectiveLimit(q.raw.Get("limit"), maxRows)
		docs, err = conn.Find(ctx, q.collection, filter, projection, limit)
	case "aggregate":
		pipeline, perr := decodePipeline(q.raw.Get("pipeline"), maxRows)
		if perr != nil {
			return types.QueryResult{}, perr
		}
		docs, err = conn.Aggregate(ctx, q.collection, pipeline)
	case "count":
		filter := jsonObject(q.raw.Get("filter"))
		var n int64
		n, err = conn.Count(ctx, q.collection, filter)
		countResult = &n
	case "distinct":
		field := q.raw.Get("field").String()
		filter := jsonObject(q.raw.Get("filter"))
		distinctResult, err = conn.Distinct(ctx, q.collection, field, filter)
	}
	if err != nil {
		if ctx.Err() != nil {
			return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.Timeout, "query execution timed out", err)
		}
		return types.QueryResult{}, dbvybeerr.Wrap(dbvybeerr.ExecutionError, "query execution failed", err)
	}

	var result types.QueryResult
	switch {
	case countResult != nil:
		result = types.QueryResult{
			Columns: []types.ColumnDescriptor{{Name: "count", Type: "long"}},
			Rows:    [][]any{{*countResult}},
		}
	case distinctResult != nil:
		result = types.QueryResult{Columns: []types.ColumnDescriptor{{Name: "value", Type: "mixed"}}}
		for _, v := range distinctResult {
			if result.RowCount >= maxRows {
				break
			}
			result.Rows = append(result.Rows, []any{normalizeValue(v)})
			result.RowCount++
		}
	default:
		result = documentRowsToResult(docs, maxRows)
	}
	result.RowCount = len(result.Rows)
	result.ElapsedMs = time.Since(start).Milliseconds()
	result.Status = "ok"
	return result, nil
}

// decodeDocumentQuery validates that exactly one top-level key is present
// and that it names an allowed operator, mirroring QuerySanitizer's
// document-shape check (belt-and-suspenders: EngineDriver never trusts that
// the text it receives actually went through Sanitize).
func decodeDocumentQuery(parsed gjson.Result) (documentQuery, error) {
	var op string
	var count int
	parsed.ForEach(func(key, _ gjson.Result) bool {
		op = key.String()
		count++
		return count < 2
	})
	if count != 1 {
		return documentQuery{}, dbvybeerr.New(dbvybeerr.ExecutionError, "exactly one operator is required")
	}
	if !allowedDocumentOps[op] {
		return documentQuery{}, dbvybeerr.New(dbvybeerr.ExecutionError, "unsupported document operator: "+op)
	}
	collection := parsed.Get(op).String()
	if collection == "" {
		return documentQuery{}, dbvybeerr.New(dbvybeerr.ExecutionError, "operator value must name a collection")
	}
	return documentQuery{collection: collection, op: op, raw: parsed}, nil
}

var allowedDocumentOps = map[string]bool{
	"find": true, "aggregate": true, "count": true, "distinct": true,
}

// effectiveLimit implements spec.md §4.2 / §8: effective limit is
// min(declared, maxRows); an absent or zero declared limit defers entirely
// to maxRows.
func effectiveLimit(declared gjson.Result, maxRows int) int {
	if !declared.Exists() {
		return maxRows
	}
	d := int(declared.Int())
	if d <= 0 || d > maxRows {
		return maxRows
	}
	return d
}

// decodePipeline decodes an aggregate pipeline's stage array, appending a
// `$limit` stage when none is present — per spec.md §4.2 and the boundary
// behavior in §8 ("aggregate pipeline gains a $limit=maxRows stage").
func decodePipeline(stages gjson.Result, maxRows int) ([]map[string]any, error) {
	if !stages.IsArray() {
		return nil, dbvybeerr.New(dbvybeerr.ExecutionError, "aggregate pipeline must be a JSON array")
	}

	hasLimit := false
	var out []map[string]any
	var decodeErr error
	stages.ForEach(func(_, stage gjson.Result) bool {
		if stage.Get("$limit").Exists() {
			hasLimit = true
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(stage.Raw), &m); err != nil {
			decodeErr = dbvybeerr.Wrap(dbvybeerr.ExecutionError, "decode pipeline stage", err)
			return false
		}
		out = append(out, m)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	if !hasLimit {
		limited, err := sjson.Set(stages.Raw, "-1.$limit", maxRows)
		if err != nil {
			return nil, dbvybeerr.Wrap(dbvybeerr.Internal, "append limit stage", err)
		}
		out = nil
		if err := json.Unmarshal([]byte(limited), &out); err != nil {
			return nil, dbvybeerr.Wrap(dbvybeerr.Internal, "decode limited pipeline", err)
		}
	}
	return out, nil
}

// jsonObject decodes a gjson object field (or nil, when absent) into a
// generic map for the DocumentConn contract.
func jsonObject(v gjson.Result) map[string]any {
	if !v.Exists() || !v.IsObject() {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(v.Raw), &m)
	return m
}

// documentRowsToResult flattens a list of sampled documents into a
// QueryResult whose columns are the union of top-level keys across all
// returned documents, in first-seen order — there is no declared schema to
// consult for find/aggregate result shapes.
func documentRowsToResult(docs []map[string]any, maxRows int) types.QueryResult {
	var result types.QueryResult
	colIndex := map[string]int{}

	for _, doc := range docs {
		if result.RowCount >= maxRows {
			break
		}
		row := make([]any, len(result.Columns))
		for i := range row {
			row[i] = nil
		}
		for k, v := range doc {
			idx, ok := colIndex[k]
			if !ok {
				idx = len(result.Columns)
				colIndex[k] = idx
				result.Columns = append(result.Columns, types.ColumnDescriptor{Name: k, Type: "mixed"})
				row = append(row, nil)
			}
			row[idx] = normalizeDocumentValue(v)
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}

	for i, row := range result.Rows {
		if len(row) < len(result.Columns) {
			padded := make([]any, len(result.Columns))
			copy(padded, row)
			result.Rows[i] = padded
		}
	}
	return result
}

// normalizeDocumentValue applies the unified scalar mapping to a raw
// decoded-JSON value, additionally recognizing the document-engine
// conventions from spec.md §6: a 24-hex-character string under an "_id" key
// is left as-is (already the hex-string representation of an ObjectId), and
// nested maps/arrays are re-rendered as canonical JSON strings.
func normalizeDocumentValue(v any) any {
	switch val := v.(type) {
	case map[string]any, []any:
		return normalizeValue(val)
	default:
		return normalizeValue(val)
	}
}
