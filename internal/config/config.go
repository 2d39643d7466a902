// Package config provides the configuration schema, YAML loader, and
// environment-variable overlay for dbvybe.
package config

import "time"

// Config is the root configuration structure for dbvybe. It is typically
// loaded from a YAML file via [Load] or [LoadFromReader], then overlaid with
// environment variables via [ApplyEnv] — env vars always win, mirroring the
// recognized-keys contract described in the external interfaces section of
// the specification this module implements.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Vector       VectorConfig       `yaml:"vector"`
	Graph        GraphConfig        `yaml:"graph"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// ServerConfig holds logging settings. HTTP routing and listener setup are
// the embedding application's concern, not this module's.
type ServerConfig struct {
	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level" env:"SERVER_LOG_LEVEL"`
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, "":
		return true
	default:
		return false
	}
}

// LLMConfig configures the external chat-completion model used by LLMClient
// (C9). Field names and defaults mirror the `llm.*` environment keys.
type LLMConfig struct {
	// Endpoint is the provider's base API URL. Empty uses the provider's
	// built-in default.
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT"`

	// APIKey authenticates against Endpoint.
	APIKey string `yaml:"api_key" env:"LLM_API_KEY"`

	// Model selects the chat-completion model (e.g. "gpt-4o-mini").
	Model string `yaml:"model" env:"LLM_MODEL"`

	// Temperature controls sampling randomness. Default: 0.7.
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE"`

	// MaxTokens bounds the completion length. Default: 1000.
	MaxTokens int `yaml:"max_tokens" env:"LLM_MAX_TOKENS"`

	// TimeoutMs bounds a single completion call. Default: 30000.
	TimeoutMs int `yaml:"timeout_ms" env:"LLM_TIMEOUT_MS"`
}

// Timeout returns TimeoutMs as a [time.Duration].
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// VectorConfig configures the VectorIndex (C5) backing store.
type VectorConfig struct {
	// Endpoint is the vector store's connection string (e.g. a Postgres DSN
	// for the pgvector-backed implementation).
	Endpoint string `yaml:"endpoint" env:"VECTOR_ENDPOINT"`

	// APIKey authenticates against Endpoint, when applicable.
	APIKey string `yaml:"api_key" env:"VECTOR_API_KEY"`

	// Collection names the logical grouping of schema embeddings.
	// Default: "dbvybe_schemas".
	Collection string `yaml:"collection" env:"VECTOR_COLLECTION"`
}

// GraphConfig configures the GraphIndex (C6) backing store.
type GraphConfig struct {
	// URI is the graph store's host[:port]; cmd/dbvybe combines it with
	// User, Password and Database into a Postgres DSN for the
	// recursive-CTE-backed implementation this module ships.
	URI string `yaml:"uri" env:"GRAPH_URI"`

	User     string `yaml:"user" env:"GRAPH_USER"`
	Password string `yaml:"password" env:"GRAPH_PASSWORD"`
	Database string `yaml:"database" env:"GRAPH_DATABASE"`
}

// OrchestratorConfig configures the Orchestrator (C11).
type OrchestratorConfig struct {
	// RequestTimeoutMs bounds an entire Handle call. Default: 45000.
	RequestTimeoutMs int `yaml:"request_timeout_ms" env:"ORCHESTRATOR_REQUEST_TIMEOUT_MS"`

	// TopK bounds how many ranked tables ContextAssembler includes. Default: 8.
	TopK int `yaml:"top_k" env:"ORCHESTRATOR_TOP_K"`
}

// RequestTimeout returns RequestTimeoutMs as a [time.Duration].
func (c OrchestratorConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// applyDefaults fills zero-valued fields with the specification's documented
// defaults. Called by [LoadFromReader] after YAML decode and before env
// overlay, so an explicit YAML value of 0 is indistinguishable from "unset"
// — consistent with the documented defaults being the system's fallback,
// not a sentinel.
func (c *Config) applyDefaults() {
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1000
	}
	if c.LLM.TimeoutMs == 0 {
		c.LLM.TimeoutMs = 30000
	}
	if c.Vector.Collection == "" {
		c.Vector.Collection = "dbvybe_schemas"
	}
	if c.Orchestrator.RequestTimeoutMs == 0 {
		c.Orchestrator.RequestTimeoutMs = 45000
	}
	if c.Orchestrator.TopK == 0 {
		c.Orchestrator.TopK = 8
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogLevelInfo
	}
}
