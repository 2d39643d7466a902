// Package orchestrator implements the Orchestrator (C11): the single
// `handle` entry point that drives every request through RESOLVE → CLASSIFY
// → {ANSWER_FROM_CACHE | LLM_CHAT | GATHER_CONTEXT → GENERATE → SANITIZE →
// EXECUTE} → DONE, enforcing the overall request deadline and turning every
// failure into a typed [Response] rather than a bare Go error.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gizmosoft/dbvybe/internal/dbvybeerr"
	"github.com/gizmosoft/dbvybe/internal/observe"
	"github.com/gizmosoft/dbvybe/pkg/classifier"
	"github.com/gizmosoft/dbvybe/pkg/graphindex"
	"github.com/gizmosoft/dbvybe/pkg/sanitizer"
	"github.com/gizmosoft/dbvybe/pkg/schema"
	"github.com/gizmosoft/dbvybe/pkg/types"
)

// DefaultRequestTimeout is the overall per-request deadline: "Overall
// request deadline is 45 s" from the state-machine description.
const DefaultRequestTimeout = 45 * time.Second

// DefaultMaxRows bounds result size when a caller doesn't request a smaller
// cap.
const DefaultMaxRows = 500

// Registry is the narrow ConnectionRegistry surface RESOLVE depends on.
type Registry interface {
	Resolve(ctx context.Context, userID, connectionID string, now time.Time) (types.ConnectionDescriptor, error)
	Register(ctx context.Context, desc types.ConnectionDescriptor, now time.Time) (types.ConnectionDescriptor, error)
	Remove(ctx context.Context, userID, connectionID string) error
}

// SchemaCache is the narrow KnowledgeCache surface this package depends on.
type SchemaCache interface {
	Get(connectionID string) (*types.Schema, bool)
	Put(connectionID string, s *types.Schema)
	Drop(connectionID string)
	GetOrExtract(ctx context.Context, connectionID string, extract func(context.Context) (*types.Schema, error)) (*types.Schema, error)
}

// Embedder is the narrow embeddings.Provider surface used to index a newly
// registered connection's schema.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the narrow VectorIndex surface used outside of context
// assembly: indexing and teardown on (de)registration.
type VectorStore interface {
	Upsert(ctx context.Context, embeddings []types.SchemaEmbedding) error
	DeleteByConnection(ctx context.Context, connectionID, userID string) error
}

// GraphStore is the narrow GraphIndex surface used outside of context
// assembly: indexing and teardown on (de)registration.
type GraphStore interface {
	StoreRelationships(ctx context.Context, connectionID, userID string, engine types.EngineKind, rels []graphindex.RelationshipInput) error
	DeleteByConnection(ctx context.Context, connectionID, userID string) error
}

// ContextAssembler is the narrow ContextAssembler surface GATHER_CONTEXT
// delegates to.
type ContextAssembler interface {
	Assemble(ctx context.Context, engine types.EngineKind, databaseName, connectionID, userID, userQuery string) types.PromptContext
}

// Classifier is the narrow QueryClassifier surface CLASSIFY delegates to.
type Classifier interface {
	Classify(ctx context.Context, userQuery, connectionID string) classifier.Intent
}

// LLM is the narrow LLMClient surface LLM_CHAT and GENERATE delegate to.
type LLM interface {
	Chat(ctx context.Context, userQuery, memoryKey string) (string, error)
	GenerateQuery(ctx context.Context, userQuery string, engine types.EngineKind, pc types.PromptContext, memoryKey string) (types.GeneratedQuery, error)
}

// EngineExecutor is the narrow EngineDriver surface EXECUTE delegates to.
type EngineExecutor interface {
	Execute(ctx context.Context, desc types.ConnectionDescriptor, queryText string, maxRows int) (types.QueryResult, error)
}

// Orchestrator is the C11 component. The zero value is not ready to use;
// construct with [New].
type Orchestrator struct {
	registry   Registry
	cache      SchemaCache
	extractor  schema.Extractor
	embedder   Embedder
	vector     VectorStore
	graph      GraphStore
	assembler  ContextAssembler
	classifier Classifier
	llm        LLM
	engine     EngineExecutor

	requestTimeout time.Duration
	maxRows        int
	metrics        *observe.Metrics
	now            func() time.Time
}

// Option configures an [Orchestrator] built by [New].
type Option func(*Orchestrator)

// WithRequestTimeout overrides [DefaultRequestTimeout].
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.requestTimeout = d }
}

// WithMaxRows overrides [DefaultMaxRows].
func WithMaxRows(n int) Option {
	return func(o *Orchestrator) { o.maxRows = n }
}

// WithMetrics attaches an [observe.Metrics] instance. Unset leaves
// instrumentation disabled, which test suites rely on to avoid constructing
// an OpenTelemetry meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New constructs an Orchestrator wiring every pipeline component.
func New(
	registry Registry,
	cache SchemaCache,
	extractor schema.Extractor,
	embedder Embedder,
	vector VectorStore,
	graph GraphStore,
	assembler ContextAssembler,
	classifier Classifier,
	llm LLM,
	engine EngineExecutor,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		cache:          cache,
		extractor:      extractor,
		embedder:       embedder,
		vector:         vector,
		graph:          graph,
		assembler:      assembler,
		classifier:     classifier,
		llm:            llm,
		engine:         engine,
		requestTimeout: DefaultRequestTimeout,
		maxRows:        DefaultMaxRows,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterConnection adds desc to the ConnectionRegistry, then extracts and
// indexes its schema: caches the Schema, embeds and upserts one
// SchemaEmbedding per table, and stores its foreign keys in the GraphIndex.
// Indexing failures are logged and degrade silently — per the degraded-mode
// design, a connection that registers successfully but fails to index can
// still be answered against on first use via KnowledgeCache.GetOrExtract.
func (o *Orchestrator) RegisterConnection(ctx context.Context, desc types.ConnectionDescriptor) (types.ConnectionDescriptor, error) {
	registered, err := o.registry.Register(ctx, desc, o.now())
	if err != nil {
		return types.ConnectionDescriptor{}, err
	}

	s, err := o.extractor.Extract(ctx, registered)
	if err != nil {
		observe.Logger(ctx).Warn("schema extraction failed during registration",
			"connection_id", registered.ConnectionID, "error", err)
		return registered, nil
	}
	o.cache.Put(registered.ConnectionID, s)

	if err := o.indexSchema(ctx, registered, s); err != nil {
		observe.Logger(ctx).Warn("schema indexing failed during registration",
			"connection_id", registered.ConnectionID, "error", err)
	}
	return registered, nil
}

// indexSchema embeds every table's canonical rendering and stores it in the
// VectorIndex, and stores every declared foreign key in the GraphIndex.
// Both run concurrently; either failing aborts the other via errgroup,
// mirroring the fan-out-and-abort style used elsewhere in this codebase for
// indexing (as opposed to GATHER_CONTEXT's tolerate-partial-failure style).
// The error goes back to RegisterConnection, which logs it; nothing retries
// the indexing later.
func (o *Orchestrator) indexSchema(ctx context.Context, desc types.ConnectionDescriptor, s *types.Schema) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		embeddings, err := o.embedTables(ctx, desc, s)
		if err != nil {
			return fmt.Errorf("embed tables: %w", err)
		}
		if len(embeddings) == 0 {
			return nil
		}
		if err := o.vector.Upsert(ctx, embeddings); err != nil {
			return fmt.Errorf("upsert embeddings: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		rels := buildRelationshipInputs(s)
		if len(rels) == 0 {
			return nil
		}
		if err := o.graph.StoreRelationships(ctx, desc.ConnectionID, desc.UserID, s.Engine, rels); err != nil {
			return fmt.Errorf("store relationships: %w", err)
		}
		return nil
	})

	return eg.Wait()
}

// embedTables computes one embedding per table concurrently, bounding
// fan-out to the table count (schemas are small enough that no additional
// pooling is warranted).
func (o *Orchestrator) embedTables(ctx context.Context, desc types.ConnectionDescriptor, s *types.Schema) ([]types.SchemaEmbedding, error) {
	out := make([]types.SchemaEmbedding, len(s.Tables))
	eg, ctx := errgroup.WithContext(ctx)
	for i, t := range s.Tables {
		i, t := i, t
		eg.Go(func() error {
			text := schema.RenderTableText(t)
			vec, err := o.embedder.Embed(ctx, text)
			if err != nil {
				return err
			}
			out[i] = types.SchemaEmbedding{
				ConnectionID: desc.ConnectionID,
				UserID:       desc.UserID,
				TableID:      t.ID(),
				Text:         text,
				Vector:       vec,
				CreatedAt:    o.now(),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// buildRelationshipInputs flattens every table's declared foreign keys into
// the canonical-table-id shape GraphIndex.StoreRelationships expects.
// Heuristic foreign keys (document engines) are included on the same
// footing as declared ones; GraphIndex does not distinguish them.
func buildRelationshipInputs(s *types.Schema) []graphindex.RelationshipInput {
	var rels []graphindex.RelationshipInput
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			rels = append(rels, graphindex.RelationshipInput{
				SrcTableID: t.ID(),
				DstTableID: types.TableID(fk.RefNamespace, fk.RefTable),
				SrcColumn:  fk.Column,
				DstColumn:  fk.RefColumn,
			})
		}
	}
	return rels
}

// RemoveConnection deactivates a connection and tears down its indexed
// representations. The registry entry and the cached schema are removed
// first; both stores are then torn down concurrently. A teardown failure is
// logged and not retried: calling RemoveConnection again returns NotFound,
// because the registry entry is already gone (a stale index entry is inert
// without a live registry entry pointing at it).
func (o *Orchestrator) RemoveConnection(ctx context.Context, userID, connectionID string) error {
	if err := o.registry.Remove(ctx, userID, connectionID); err != nil {
		return err
	}
	o.cache.Drop(connectionID)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return o.vector.DeleteByConnection(ctx, connectionID, userID) })
	eg.Go(func() error { return o.graph.DeleteByConnection(ctx, connectionID, userID) })
	if err := eg.Wait(); err != nil {
		observe.Logger(ctx).Warn("index teardown incomplete, stale index entries remain",
			"connection_id", connectionID, "error", err)
	}
	return nil
}

// Handle is the Orchestrator's single operation: it drives userQuery for
// (userId, connectionId) through RESOLVE → CLASSIFY → the matching branch,
// always returning a well-formed [Response] — never a bare error.
// Conversation memory is keyed by userID; sessionID does not affect it.
func (o *Orchestrator) Handle(ctx context.Context, userID, connectionID, userQuery, sessionID string) Response {
	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "orchestrator.Handle",
		trace.WithAttributes(attribute.String("connection_id", connectionID)))
	defer span.End()

	if strings.TrimSpace(userQuery) == "" {
		return o.finish(ctx, errorResponse(dbvybeerr.InvalidInput, "user query must not be empty"))
	}

	resolveStart := time.Now()
	desc, err := o.registry.Resolve(ctx, userID, connectionID, o.now())
	o.recordStage(ctx, "RESOLVE", resolveStart)
	if err != nil {
		return o.finish(ctx, errorResponseFrom(err, ""))
	}

	intent := o.classify(ctx, userQuery, connectionID)

	memoryKey := userID

	switch intent {
	case classifier.Knowledge:
		return o.finish(ctx, o.answerFromCache(connectionID))
	case classifier.Query:
		return o.finish(ctx, o.runQuery(ctx, desc, userQuery, memoryKey))
	default:
		return o.finish(ctx, o.chat(ctx, userQuery, memoryKey))
	}
}

// classify wraps QueryClassifier.Classify with stage timing. CLASSIFY has no
// failure mode of its own here — the Classifier already defaults internally
// to GENERAL when its LLM call errors or times out, per the classifier's own
// documented decision order — so this is purely an instrumentation wrapper.
func (o *Orchestrator) classify(ctx context.Context, userQuery, connectionID string) classifier.Intent {
	start := time.Now()
	intent := o.classifier.Classify(ctx, userQuery, connectionID)
	o.recordStage(ctx, "CLASSIFY", start)
	o.recordClassification(ctx, string(intent))
	return intent
}

// answerFromCache implements ANSWER_FROM_CACHE: a deterministic listing of
// the cached schema's tables, in Schema.Tables order.
func (o *Orchestrator) answerFromCache(connectionID string) Response {
	s, ok := o.cache.Get(connectionID)
	if !ok || s == nil {
		return errorResponse(dbvybeerr.NotFound, "no cached schema for this connection")
	}

	var b strings.Builder
	b.WriteString("This database has the following tables: ")
	for i, t := range s.Tables {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.ID())
	}
	b.WriteString(".")
	return knowledgeResponse(b.String())
}

// chat implements LLM_CHAT.
func (o *Orchestrator) chat(ctx context.Context, userQuery, memoryKey string) Response {
	start := time.Now()
	text, err := o.llm.Chat(ctx, userQuery, memoryKey)
	o.recordStage(ctx, "CHAT", start)
	o.recordLLM(ctx, "chat", err)
	if err != nil {
		return errorResponseFrom(err, "")
	}
	return chatResponse(text)
}

// runQuery implements GATHER_CONTEXT → GENERATE → SANITIZE →
// (blocked? EXPLAIN_BLOCK : EXECUTE).
func (o *Orchestrator) runQuery(ctx context.Context, desc types.ConnectionDescriptor, userQuery, memoryKey string) Response {
	schemaStart := time.Now()
	s, err := o.cache.GetOrExtract(ctx, desc.ConnectionID, func(ctx context.Context) (*types.Schema, error) {
		return o.extractor.Extract(ctx, desc)
	})
	o.recordStage(ctx, "RESOLVE_SCHEMA", schemaStart)
	if err != nil {
		return errorResponseFrom(err, "")
	}

	pc := o.gatherContext(ctx, desc, s, userQuery)

	gq, err := o.generate(ctx, userQuery, desc.Engine, pc, memoryKey)
	if err != nil {
		return errorResponse(dbvybeerr.LLMError, err.Error())
	}

	sanitized, blocked := o.sanitize(ctx, gq, s)
	if blocked != nil {
		o.recordSanitizerBlock(ctx, blocked.Reason)
		return blockedResponse(gq.Text, blocked.Reason)
	}

	result, err := o.execute(ctx, desc, sanitized)
	if err != nil {
		msg := fmt.Sprintf("%s (query: %s)", err.Error(), sanitized)
		return errorResponse(dbvybeerr.ExecutionError, msg)
	}

	explanation := appendSubstitutionNotes(gq.Explanation, result.SubstitutionNotes)
	result.SubstitutionNotes = nil
	return queryResponse(sanitized, explanation, result)
}

// appendSubstitutionNotes appends EngineDriver's defensive placeholder-
// substitution notes to the model's own explanation, per spec.md §9's
// resolution: "surface the substitution in the Query.explanation."
func appendSubstitutionNotes(explanation string, notes []string) string {
	if len(notes) == 0 {
		return explanation
	}
	parts := make([]string, 0, len(notes)+1)
	if explanation != "" {
		parts = append(parts, explanation)
	}
	parts = append(parts, notes...)
	return strings.Join(parts, "\n")
}

// gatherContext implements GATHER_CONTEXT. ContextAssembler.Assemble
// already tolerates missing/degraded vector, graph, and cache results as
// empty context rather than failure, so this is purely a stage-timed
// delegation.
func (o *Orchestrator) gatherContext(ctx context.Context, desc types.ConnectionDescriptor, s *types.Schema, userQuery string) types.PromptContext {
	start := time.Now()
	pc := o.assembler.Assemble(ctx, desc.Engine, s.DatabaseName, desc.ConnectionID, desc.UserID, userQuery)
	o.recordStage(ctx, "GATHER_CONTEXT", start)
	return pc
}

func (o *Orchestrator) generate(ctx context.Context, userQuery string, engine types.EngineKind, pc types.PromptContext, memoryKey string) (types.GeneratedQuery, error) {
	start := time.Now()
	gq, err := o.llm.GenerateQuery(ctx, userQuery, engine, pc, memoryKey)
	o.recordStage(ctx, "GENERATE", start)
	o.recordLLM(ctx, "generate", err)
	return gq, err
}

func (o *Orchestrator) sanitize(ctx context.Context, gq types.GeneratedQuery, s *types.Schema) (string, *sanitizer.Blocked) {
	start := time.Now()
	sanitized, blocked := sanitizer.Sanitize(gq, s)
	o.recordStage(ctx, "SANITIZE", start)
	return sanitized, blocked
}

func (o *Orchestrator) execute(ctx context.Context, desc types.ConnectionDescriptor, queryText string) (types.QueryResult, error) {
	start := time.Now()
	result, err := o.engine.Execute(ctx, desc, queryText, o.maxRows)
	o.recordStage(ctx, "EXECUTE", start)
	return result, err
}

// finish records the outcome of a Handle call for observability and returns
// resp unchanged.
func (o *Orchestrator) finish(ctx context.Context, resp Response) Response {
	if o.metrics != nil {
		o.metrics.RecordRequest(ctx, outcomeLabel(resp.Kind))
	}
	return resp
}

func outcomeLabel(k ResponseKind) string {
	switch k {
	case KindKnowledgeAnswer:
		return "knowledge"
	case KindChat:
		return "chat"
	case KindQuery:
		return "query"
	case KindBlocked:
		return "blocked"
	default:
		return "error"
	}
}

func (o *Orchestrator) recordStage(ctx context.Context, stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStage(ctx, stage, time.Since(start).Seconds())
	}
}

func (o *Orchestrator) recordClassification(ctx context.Context, decision string) {
	if o.metrics != nil {
		o.metrics.RecordClassification(ctx, decision)
	}
}

func (o *Orchestrator) recordSanitizerBlock(ctx context.Context, reason string) {
	if o.metrics != nil {
		o.metrics.RecordSanitizerBlock(ctx, reason)
	}
}

func (o *Orchestrator) recordLLM(ctx context.Context, role string, err error) {
	if o.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordLLMRequest(ctx, role, status)
}
