package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/pkg/classifier"
	"github.com/gizmosoft/dbvybe/pkg/graphindex"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// --- fakes ---

type fakeRegistry struct {
	desc    types.ConnectionDescriptor
	resolve func(ctx context.Context, userID, connectionID string, now time.Time) (types.ConnectionDescriptor, error)
}

func (f *fakeRegistry) Resolve(ctx context.Context, userID, connectionID string, now time.Time) (types.ConnectionDescriptor, error) {
	if f.resolve != nil {
		return f.resolve(ctx, userID, connectionID, now)
	}
	return f.desc, nil
}
func (f *fakeRegistry) Register(ctx context.Context, desc types.ConnectionDescriptor, now time.Time) (types.ConnectionDescriptor, error) {
	f.desc = desc
	return desc, nil
}
func (f *fakeRegistry) Remove(ctx context.Context, userID, connectionID string) error { return nil }

type fakeCache struct {
	schema *types.Schema
}

func (f *fakeCache) Get(connectionID string) (*types.Schema, bool) {
	if f.schema == nil {
		return nil, false
	}
	return f.schema, true
}
func (f *fakeCache) Put(connectionID string, s *types.Schema) { f.schema = s }
func (f *fakeCache) Drop(connectionID string)                 { f.schema = nil }
func (f *fakeCache) GetOrExtract(ctx context.Context, connectionID string, extract func(context.Context) (*types.Schema, error)) (*types.Schema, error) {
	if f.schema != nil {
		return f.schema, nil
	}
	s, err := extract(ctx)
	if err != nil {
		return nil, err
	}
	f.schema = s
	return s, nil
}

type fakeExtractor struct {
	schema *types.Schema
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, desc types.ConnectionDescriptor) (*types.Schema, error) {
	return f.schema, f.err
}

type fakeVector struct{}

func (fakeVector) Upsert(ctx context.Context, embeddings []types.SchemaEmbedding) error { return nil }
func (fakeVector) DeleteByConnection(ctx context.Context, connectionID, userID string) error {
	return nil
}

type fakeGraph struct{}

func (fakeGraph) StoreRelationships(ctx context.Context, connectionID, userID string, engine types.EngineKind, rels []graphindex.RelationshipInput) error {
	return nil
}
func (fakeGraph) DeleteByConnection(ctx context.Context, connectionID, userID string) error {
	return nil
}

type fakeAssembler struct{}

func (fakeAssembler) Assemble(ctx context.Context, engine types.EngineKind, databaseName, connectionID, userID, userQuery string) types.PromptContext {
	return types.PromptContext{Engine: engine, DatabaseName: databaseName}
}

type fakeClassifier struct {
	intent classifier.Intent
}

func (f fakeClassifier) Classify(ctx context.Context, userQuery, connectionID string) classifier.Intent {
	return f.intent
}

type fakeLLM struct {
	chatText   string
	chatErr    error
	generated  types.GeneratedQuery
	genErr     error
}

func (f fakeLLM) Chat(ctx context.Context, userQuery, memoryKey string) (string, error) {
	return f.chatText, f.chatErr
}
func (f fakeLLM) GenerateQuery(ctx context.Context, userQuery string, engine types.EngineKind, pc types.PromptContext, memoryKey string) (types.GeneratedQuery, error) {
	return f.generated, f.genErr
}

type fakeEngine struct {
	result types.QueryResult
	err    error
}

func (f fakeEngine) Execute(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error) {
	return f.result, f.err
}

func pizzaShopSchema() *types.Schema {
	return &types.Schema{
		Engine:       types.RelationalA,
		DatabaseName: "pizza_shop",
		Tables: []types.Table{
			{Namespace: "pizza_shop", Name: "customer", Columns: make([]types.Column, 6)},
			{Namespace: "pizza_shop", Name: "order", Columns: make([]types.Column, 5)},
		},
	}
}

func newTestOrchestrator(cache *fakeCache, extractor *fakeExtractor, classify classifier.Intent, llm fakeLLM, engine fakeEngine) *Orchestrator {
	return New(
		&fakeRegistry{desc: types.ConnectionDescriptor{UserID: "u1", ConnectionID: "c1", Engine: types.RelationalA}},
		cache,
		extractor,
		nil,
		fakeVector{},
		fakeGraph{},
		fakeAssembler{},
		fakeClassifier{intent: classify},
		llm,
		engine,
	)
}

func TestHandleKnowledgeAnswerListsTablesInOrder(t *testing.T) {
	cache := &fakeCache{schema: pizzaShopSchema()}
	o := newTestOrchestrator(cache, &fakeExtractor{}, classifier.Knowledge, fakeLLM{}, fakeEngine{})

	resp := o.Handle(context.Background(), "u1", "c1", "which tables does this database have?", "")

	if resp.Kind != KindKnowledgeAnswer {
		t.Fatalf("Kind = %v, want KindKnowledgeAnswer", resp.Kind)
	}
	wantOrder := "pizza_shop.customer, pizza_shop.order"
	if !containsInOrder(resp.Text, "pizza_shop.customer", "pizza_shop.order") {
		t.Fatalf("Text = %q, want tables listed as %q", resp.Text, wantOrder)
	}
}

func containsInOrder(s string, parts ...string) bool {
	idx := 0
	for _, p := range parts {
		i := indexFrom(s, p, idx)
		if i < 0 {
			return false
		}
		idx = i + len(p)
	}
	return true
}

func indexFrom(s, substr string, from int) int {
	if from > len(s) {
		return -1
	}
	i := indexOf(s[from:], substr)
	if i < 0 {
		return -1
	}
	return from + i
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestHandleQueryGeneratesSanitizesAndExecutes(t *testing.T) {
	cache := &fakeCache{schema: pizzaShopSchema()}
	generated := types.GeneratedQuery{
		Engine:      types.RelationalA,
		Text:        "SELECT DISTINCT c.* FROM customer c JOIN \"order\" o ON c.customer_id=o.customer_id WHERE o.total > 20",
		Explanation: "customers with orders over 20",
	}
	wantResult := types.QueryResult{
		Columns:  []types.ColumnDescriptor{{Name: "customer_id", Type: "int8"}},
		Rows:     [][]any{{int64(1)}},
		RowCount: 1,
		Status:   "ok",
	}
	o := newTestOrchestrator(cache, &fakeExtractor{}, classifier.Query,
		fakeLLM{generated: generated}, fakeEngine{result: wantResult})

	resp := o.Handle(context.Background(), "u1", "c1", "list all customers who have paid more than $20", "")

	if resp.Kind != KindQuery {
		t.Fatalf("Kind = %v, want KindQuery: %+v", resp.Kind, resp)
	}
	if resp.Query.Result.RowCount != 1 {
		t.Fatalf("Result = %+v, want row count 1", resp.Query.Result)
	}
}

func TestHandleBlockedNeverCallsEngine(t *testing.T) {
	cache := &fakeCache{schema: pizzaShopSchema()}
	generated := types.GeneratedQuery{
		Engine: types.RelationalA,
		Text:   "DROP TABLE pizza_shop.customer;",
	}
	engineCalled := false
	engine := fakeEngineFunc(func(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error) {
		engineCalled = true
		return types.QueryResult{}, nil
	})
	o := New(
		&fakeRegistry{desc: types.ConnectionDescriptor{UserID: "u1", ConnectionID: "c1", Engine: types.RelationalA}},
		cache, &fakeExtractor{}, nil, fakeVector{}, fakeGraph{}, fakeAssembler{},
		fakeClassifier{intent: classifier.Query}, fakeLLM{generated: generated}, engine,
	)

	resp := o.Handle(context.Background(), "u1", "c1", "drop the customer table", "")

	if resp.Kind != KindBlocked {
		t.Fatalf("Kind = %v, want KindBlocked: %+v", resp.Kind, resp)
	}
	if engineCalled {
		t.Fatalf("EngineDriver.Execute was called for a blocked query")
	}
}

type fakeEngineFunc func(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error)

func (f fakeEngineFunc) Execute(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error) {
	return f(ctx, desc, queryText, maxRows)
}

func TestHandleEmptyQueryReturnsInvalidInput(t *testing.T) {
	o := newTestOrchestrator(&fakeCache{}, &fakeExtractor{}, classifier.General, fakeLLM{}, fakeEngine{})
	resp := o.Handle(context.Background(), "u1", "c1", "   ", "")
	if resp.Kind != KindError || resp.Error.Kind != dbvybeerr.InvalidInput {
		t.Fatalf("got %+v, want InvalidInput error", resp)
	}
}

func TestHandleResolveFailureReturnsNotFound(t *testing.T) {
	reg := &fakeRegistry{resolve: func(ctx context.Context, userID, connectionID string, now time.Time) (types.ConnectionDescriptor, error) {
		return types.ConnectionDescriptor{}, dbvybeerr.New(dbvybeerr.NotFound, "no active connection for this user")
	}}
	o := New(reg, &fakeCache{}, &fakeExtractor{}, nil, fakeVector{}, fakeGraph{}, fakeAssembler{},
		fakeClassifier{intent: classifier.General}, fakeLLM{}, fakeEngine{})

	resp := o.Handle(context.Background(), "u1", "missing", "hello", "")
	if resp.Kind != KindError || resp.Error.Kind != dbvybeerr.NotFound {
		t.Fatalf("got %+v, want NotFound error", resp)
	}
}

func TestHandleChatDelegatesToLLM(t *testing.T) {
	o := newTestOrchestrator(&fakeCache{}, &fakeExtractor{}, classifier.General,
		fakeLLM{chatText: "hello there"}, fakeEngine{})

	resp := o.Handle(context.Background(), "u1", "c1", "hi!", "")
	if resp.Kind != KindChat || resp.Text != "hello there" {
		t.Fatalf("got %+v, want chat response %q", resp, "hello there")
	}
}

func TestRegisterAndRemoveConnection(t *testing.T) {
	extractor := &fakeExtractor{schema: pizzaShopSchema()}
	cache := &fakeCache{}
	o := New(
		&fakeRegistry{}, cache, extractor, emptyEmbedder{}, fakeVector{}, fakeGraph{}, fakeAssembler{},
		fakeClassifier{intent: classifier.General}, fakeLLM{}, fakeEngine{},
	)

	desc, err := o.RegisterConnection(context.Background(), types.ConnectionDescriptor{
		UserID: "u1", ConnectionID: "c1", Engine: types.RelationalA,
	})
	if err != nil {
		t.Fatalf("RegisterConnection: %v", err)
	}
	if _, ok := cache.Get(desc.ConnectionID); !ok {
		t.Fatalf("expected schema to be cached after registration")
	}

	if err := o.RemoveConnection(context.Background(), "u1", "c1"); err != nil {
		t.Fatalf("RemoveConnection: %v", err)
	}
	if _, ok := cache.Get("c1"); ok {
		t.Fatalf("expected schema to be dropped from cache after removal")
	}
}

type emptyEmbedder struct{}

func (emptyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
