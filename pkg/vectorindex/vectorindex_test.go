package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/gizmosoft/dbvybe/pkg/types"
)

// TestUpsertRejectsWrongDimension verifies the fixed-384-dimension
// invariant is enforced before any store round trip is attempted, so a
// caller gets a clear local error rather than a cryptic driver failure.
func TestUpsertRejectsWrongDimension(t *testing.T) {
	idx := &Index{collection: "dbvybe_schemas"}
	err := idx.Upsert(context.Background(), []types.SchemaEmbedding{
		{TableID: "pizza_shop.customer", Vector: make([]float32, 128), CreatedAt: time.Now()},
	})
	if err == nil {
		t.Fatal("expected an error for a non-384-dimensional embedding, got nil")
	}
}
