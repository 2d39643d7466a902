// Package observe provides application-wide observability primitives for
// dbvybe: OpenTelemetry metrics, distributed tracing, and structured logging
// tied together through the request's context.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint by whatever HTTP adapter embeds
// this module. A package-level default [Metrics] instance ([DefaultMetrics])
// is provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dbvybe metrics.
const meterName = "github.com/gizmosoft/dbvybe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// StageDuration tracks latency of each Orchestrator stage (RESOLVE,
	// CLASSIFY, GATHER_CONTEXT, GENERATE, SANITIZE, EXECUTE). Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// ExtractionDuration tracks SchemaExtractor.Extract latency.
	ExtractionDuration metric.Float64Histogram

	// EngineExecDuration tracks EngineDriver.Execute latency. Use with
	// attribute.String("engine", ...).
	EngineExecDuration metric.Float64Histogram

	// --- Counters ---

	// RequestsTotal counts Orchestrator.Handle invocations by outcome.
	// Use with attribute.String("outcome", ...) (knowledge, chat, query,
	// blocked, error).
	RequestsTotal metric.Int64Counter

	// ClassifierDecisions counts QueryClassifier decisions by result.
	ClassifierDecisions metric.Int64Counter

	// SanitizerBlocks counts QuerySanitizer rejections by reason.
	SanitizerBlocks metric.Int64Counter

	// VectorSearchFallbacks counts VectorIndex operations served in
	// degraded mode.
	VectorSearchFallbacks metric.Int64Counter

	// GraphFallbacks counts GraphIndex operations served in degraded mode.
	GraphFallbacks metric.Int64Counter

	// LLMRequests counts LLMClient calls by role (chat, generate, classify)
	// and status.
	LLMRequests metric.Int64Counter

	// --- Gauges ---

	// RegisteredConnections tracks the number of active connection
	// descriptors in the ConnectionRegistry.
	RegisteredConnections metric.Int64UpDownCounter

	// CachedSchemas tracks the number of Schema snapshots held by the
	// KnowledgeCache.
	CachedSchemas metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// request/response pipeline stages (sub-millisecond cache hits through
// multi-second LLM round trips).
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("dbvybe.orchestrator.stage.duration",
		metric.WithDescription("Latency of each Orchestrator pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("dbvybe.schema.extraction.duration",
		metric.WithDescription("Latency of SchemaExtractor.Extract."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineExecDuration, err = m.Float64Histogram("dbvybe.engine.execute.duration",
		metric.WithDescription("Latency of EngineDriver.Execute by engine kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.RequestsTotal, err = m.Int64Counter("dbvybe.requests.total",
		metric.WithDescription("Total Orchestrator.Handle invocations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierDecisions, err = m.Int64Counter("dbvybe.classifier.decisions",
		metric.WithDescription("Total QueryClassifier decisions by result."),
	); err != nil {
		return nil, err
	}
	if met.SanitizerBlocks, err = m.Int64Counter("dbvybe.sanitizer.blocks",
		metric.WithDescription("Total QuerySanitizer rejections by reason."),
	); err != nil {
		return nil, err
	}
	if met.VectorSearchFallbacks, err = m.Int64Counter("dbvybe.vectorindex.degraded",
		metric.WithDescription("Total VectorIndex operations served in degraded mode."),
	); err != nil {
		return nil, err
	}
	if met.GraphFallbacks, err = m.Int64Counter("dbvybe.graphindex.degraded",
		metric.WithDescription("Total GraphIndex operations served in degraded mode."),
	); err != nil {
		return nil, err
	}
	if met.LLMRequests, err = m.Int64Counter("dbvybe.llm.requests",
		metric.WithDescription("Total LLMClient calls by role and status."),
	); err != nil {
		return nil, err
	}

	if met.RegisteredConnections, err = m.Int64UpDownCounter("dbvybe.connections.registered",
		metric.WithDescription("Number of active connection descriptors."),
	); err != nil {
		return nil, err
	}
	if met.CachedSchemas, err = m.Int64UpDownCounter("dbvybe.schemas.cached",
		metric.WithDescription("Number of Schema snapshots held by the KnowledgeCache."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records a pipeline stage duration.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(Attr("stage", stage)))
}

// RecordRequest records the outcome of one Orchestrator.Handle call.
func (m *Metrics) RecordRequest(ctx context.Context, outcome string) {
	m.RequestsTotal.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordClassification records a QueryClassifier decision.
func (m *Metrics) RecordClassification(ctx context.Context, decision string) {
	m.ClassifierDecisions.Add(ctx, 1, metric.WithAttributes(Attr("decision", decision)))
}

// RecordSanitizerBlock records a QuerySanitizer rejection.
func (m *Metrics) RecordSanitizerBlock(ctx context.Context, reason string) {
	m.SanitizerBlocks.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordLLMRequest records an LLMClient call outcome.
func (m *Metrics) RecordLLMRequest(ctx context.Context, role, status string) {
	m.LLMRequests.Add(ctx, 1, metric.WithAttributes(Attr("role", role), Attr("status", status)))
}
