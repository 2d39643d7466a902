package engine

import (
	"context"
	"testing"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

type fakeDocConn struct {
	findDocs       []map[string]any
	aggregateDocs  []map[string]any
	aggregatePipe  []map[string]any
	countValue     int64
	distinctValues []any
	err            error
}

func (f *fakeDocConn) ListCollections(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeDocConn) SampleOne(ctx context.Context, collection string) (map[string]any, error) {
	return nil, nil
}

func (f *fakeDocConn) Find(ctx context.Context, collection string, filter, projection map[string]any, limit int) ([]map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.findDocs, nil
}

func (f *fakeDocConn) Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.aggregatePipe = pipeline
	return f.aggregateDocs, nil
}

func (f *fakeDocConn) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.countValue, nil
}

func (f *fakeDocConn) Distinct(ctx context.Context, collection, field string, filter map[string]any) ([]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.distinctValues, nil
}

func newTestDriver(conn *fakeDocConn) *DocumentDriver {
	return &DocumentDriver{
		Dial: func(ctx context.Context, desc types.ConnectionDescriptor) (types.DocumentConn, error) {
			return conn, nil
		},
	}
}

func TestDocumentDriverFind(t *testing.T) {
	conn := &fakeDocConn{findDocs: []map[string]any{
		{"name": "alice", "age": int64(30)},
		{"name": "bob"},
	}}
	d := newTestDriver(conn)

	result, err := d.Execute(context.Background(), types.ConnectionDescriptor{Engine: types.Document}, `{"find":"customers","filter":{"active":true}}`, 100)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", result.RowCount)
	}
	if len(result.Columns) != 2 {
		t.Fatalf("Columns = %v, want 2 entries", result.Columns)
	}
}

func TestDocumentDriverCount(t *testing.T) {
	conn := &fakeDocConn{countValue: 42}
	d := newTestDriver(conn)

	result, err := d.Execute(context.Background(), types.ConnectionDescriptor{Engine: types.Document}, `{"count":"orders"}`, 100)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.RowCount != 1 || result.Rows[0][0] != int64(42) {
		t.Fatalf("got %+v, want single row with count 42", result)
	}
}

func TestDocumentDriverAggregateAppendsLimit(t *testing.T) {
	conn := &fakeDocConn{aggregateDocs: []map[string]any{{"_id": "shipped", "n": int64(3)}}}
	d := newTestDriver(conn)

	_, err := d.Execute(context.Background(), types.ConnectionDescriptor{Engine: types.Document},
		`{"aggregate":"orders","pipeline":[{"$group":{"_id":"$status","n":{"$sum":1}}}]}`, 100)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(conn.aggregatePipe) != 2 {
		t.Fatalf("pipeline stages = %d, want 2 (original + appended $limit)", len(conn.aggregatePipe))
	}
	last := conn.aggregatePipe[1]
	if _, ok := last["$limit"]; !ok {
		t.Fatalf("last stage = %v, want a $limit stage", last)
	}
}

func TestDocumentDriverAggregateRespectsExistingLimit(t *testing.T) {
	conn := &fakeDocConn{aggregateDocs: []map[string]any{}}
	d := newTestDriver(conn)

	_, err := d.Execute(context.Background(), types.ConnectionDescriptor{Engine: types.Document},
		`{"aggregate":"orders","pipeline":[{"$match":{}},{"$limit":5}]}`, 100)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(conn.aggregatePipe) != 2 {
		t.Fatalf("pipeline stages = %d, want 2 (no stage appended)", len(conn.aggregatePipe))
	}
}

func TestDocumentDriverRejectsUnsupportedOperator(t *testing.T) {
	d := newTestDriver(&fakeDocConn{})
	_, err := d.Execute(context.Background(), types.ConnectionDescriptor{Engine: types.Document}, `{"update":"orders"}`, 100)
	if dbvybeerr.KindOf(err) != dbvybeerr.ExecutionError {
		t.Fatalf("err = %v, want ExecutionError", err)
	}
}

func TestDocumentDriverMaxRowsZero(t *testing.T) {
	conn := &fakeDocConn{findDocs: []map[string]any{{"a": int64(1)}, {"a": int64(2)}}}
	d := newTestDriver(conn)

	result, err := d.Execute(context.Background(), types.ConnectionDescriptor{Engine: types.Document}, `{"find":"things"}`, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.RowCount != 0 {
		t.Fatalf("RowCount = %d, want 0", result.RowCount)
	}
	if result.Status != "ok" {
		t.Fatalf("Status = %q, want ok", result.Status)
	}
}
