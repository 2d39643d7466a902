// Command dbvybe is the main entry point for the dbvybe natural-language
// database query service: it wires every pipeline component (C1–C11) and
// hands the assembled Orchestrator to whatever embedding application routes
// requests to it — HTTP/gRPC transport is out of this module's scope.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/gizmosoft/dbvybe/internal/config"
	"github.com/gizmosoft/dbvybe/internal/observe"
	"github.com/gizmosoft/dbvybe/pkg/classifier"
	contextpkg "github.com/gizmosoft/dbvybe/pkg/context"
	"github.com/gizmosoft/dbvybe/pkg/engine"
	"github.com/gizmosoft/dbvybe/pkg/graphindex"
	"github.com/gizmosoft/dbvybe/pkg/knowledge"
	"github.com/gizmosoft/dbvybe/pkg/llmclient"
	"github.com/gizmosoft/dbvybe/pkg/orchestrator"
	embeddingsopenai "github.com/gizmosoft/dbvybe/pkg/provider/embeddings/openai"
	"github.com/gizmosoft/dbvybe/pkg/provider/llm/anyllm"
	"github.com/gizmosoft/dbvybe/pkg/registry"
	"github.com/gizmosoft/dbvybe/pkg/schema"
	"github.com/gizmosoft/dbvybe/pkg/types"
	"github.com/gizmosoft/dbvybe/pkg/vectorindex"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dbvybe: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dbvybe: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dbvybe starting", "config", *configPath, "log_level", cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, graphIdx, vectorIdx, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		slog.Error("failed to build orchestrator", "err", err)
		return 1
	}
	defer graphIdx.Close()
	defer vectorIdx.Close()

	printStartupSummary(cfg)

	slog.Info("dbvybe ready")
	_ = orch // handed off to the embedding application's transport layer

	<-ctx.Done()
	slog.Info("shutdown signal received, goodbye")
	return 0
}

// buildOrchestrator wires every pipeline component (C1–C11) from cfg. It
// returns the GraphIndex and VectorIndex pools alongside the Orchestrator so
// the caller can close them on shutdown.
func buildOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, *graphindex.Index, *vectorindex.Index, error) {
	reg := registry.New()
	cache := knowledge.New()

	vectorIdx, err := vectorindex.New(ctx, cfg.Vector.Endpoint, cfg.Vector.Collection)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect vector index: %w", err)
	}

	graphIdx, err := graphindex.New(ctx, graphDSN(cfg.Graph))
	if err != nil {
		vectorIdx.Close()
		return nil, nil, nil, fmt.Errorf("connect graph index: %w", err)
	}

	embedder, err := embeddingsopenai.New(cfg.LLM.APIKey, "text-embedding-3-small")
	if err != nil {
		graphIdx.Close()
		vectorIdx.Close()
		return nil, nil, nil, fmt.Errorf("build embeddings provider: %w", err)
	}

	llmOpts := []anyllmlib.Option{anyllmlib.WithAPIKey(cfg.LLM.APIKey)}
	if cfg.LLM.Endpoint != "" {
		llmOpts = append(llmOpts, anyllmlib.WithBaseURL(cfg.LLM.Endpoint))
	}
	llmProvider, err := anyllm.NewOpenAI(cfg.LLM.Model, llmOpts...)
	if err != nil {
		graphIdx.Close()
		vectorIdx.Close()
		return nil, nil, nil, fmt.Errorf("build llm provider: %w", err)
	}
	llmClient := llmclient.New(llmProvider, cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout())

	extractors := &schema.Dispatcher{
		RelationalA: &schema.PostgresExtractor{Dial: dialPostgres},
		RelationalB: &schema.MySQLExtractor{Dial: dialMySQL},
		Document:    &schema.DocumentExtractor{Dial: dialDocument},
	}

	assembler := contextpkg.New(vectorIdx, graphIdx, cache, embedder, cfg.Orchestrator.TopK)
	cls := classifier.New(cache, llmClient)

	drivers := &engine.Dispatcher{
		RelationalA: &engine.PostgresDriver{Dial: enginePostgresDialer},
		RelationalB: &engine.MySQLDriver{Dial: engineMySQLDialer},
		Document:    &engine.DocumentDriver{Dial: dialDocument},
	}

	orch := orchestrator.New(
		reg, cache, extractors, embedder, vectorIdx, graphIdx, assembler, cls, llmClient, drivers,
		orchestrator.WithRequestTimeout(cfg.Orchestrator.RequestTimeout()),
		orchestrator.WithMetrics(observe.DefaultMetrics()),
	)
	return orch, graphIdx, vectorIdx, nil
}

// dialPostgres opens a short-lived introspection connection for a
// RELATIONAL_A descriptor.
func dialPostgres(ctx context.Context, desc types.ConnectionDescriptor) (*pgx.Conn, error) {
	return pgx.Connect(ctx, postgresDSN(desc))
}

// enginePostgresDialer mirrors dialPostgres for EngineDriver's execution
// path; kept distinct per engine.PostgresDialer's own type even though the
// connection logic is identical, since SchemaExtractor and EngineDriver are
// independently pluggable per the component design.
func enginePostgresDialer(ctx context.Context, desc types.ConnectionDescriptor) (*pgx.Conn, error) {
	return pgx.Connect(ctx, postgresDSN(desc))
}

func postgresDSN(desc types.ConnectionDescriptor) string {
	sslmode := desc.Properties["sslmode"]
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		desc.Username, desc.Password, desc.Host, desc.Port, desc.Database, sslmode)
}

func dialMySQL(ctx context.Context, desc types.ConnectionDescriptor) (*sql.DB, error) {
	return sql.Open("mysql", mysqlDSN(desc))
}

func engineMySQLDialer(ctx context.Context, desc types.ConnectionDescriptor) (*sql.DB, error) {
	return sql.Open("mysql", mysqlDSN(desc))
}

func mysqlDSN(desc types.ConnectionDescriptor) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", desc.Username, desc.Password, desc.Host, desc.Port, desc.Database)
}

// graphDSN composes the GraphIndex's own Postgres connection string from its
// separately-configured host URI, credentials, and database name.
func graphDSN(g config.GraphConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", g.User, g.Password, g.URI, g.Database)
}

// dialDocument opens a document-engine connection. No concrete
// document-database client exists anywhere in this module's dependency
// pack, so this is a deliberately unimplemented seam: an embedding
// application links a concrete driver (e.g. a Mongo-wire client) by
// replacing this function before calling buildOrchestrator, or by
// constructing schema.DocumentExtractor / engine.DocumentDriver directly
// with its own Dial.
func dialDocument(ctx context.Context, desc types.ConnectionDescriptor) (types.DocumentConn, error) {
	return nil, fmt.Errorf("dbvybe: no document-engine driver is linked into this build")
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          dbvybe — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  LLM model       : %-19s ║\n", truncate(cfg.LLM.Model, 19))
	fmt.Printf("║  Vector collection: %-18s ║\n", truncate(cfg.Vector.Collection, 18))
	fmt.Printf("║  Request timeout  : %-18s ║\n", cfg.Orchestrator.RequestTimeout())
	fmt.Printf("║  Context top-K     : %-17d ║\n", cfg.Orchestrator.TopK)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
