package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, overlays recognized
// environment variables, and returns a validated [Config]. It is a
// convenience wrapper around [LoadFromReader] and [ApplyEnv].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment-variable overlay, and validates the result. Useful in tests
// where configs are constructed from string literals. An empty r is valid
// — the zero Config overlaid with env vars and defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: env overlay: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays recognized environment variables onto cfg, following the
// documented mapping of dotted keys to env vars (e.g. `llm.endpoint` →
// `LLM_ENDPOINT`). Only variables actually set in the environment override
// the existing value; an unset variable leaves the YAML-or-default value in
// place.
func ApplyEnv(cfg *Config) error {
	return env.Parse(cfg)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.LLM.Endpoint == "" {
		slog.Warn("llm.endpoint is empty; LLMClient will not be able to reach a model")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive, got %d", cfg.LLM.MaxTokens))
	}
	if cfg.LLM.TimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout_ms must be positive, got %d", cfg.LLM.TimeoutMs))
	}

	if cfg.Vector.Endpoint == "" {
		slog.Warn("vector.endpoint is empty; VectorIndex will operate in degraded mode from startup")
	}
	if cfg.Vector.Collection == "" {
		errs = append(errs, errors.New("vector.collection must not be empty"))
	}

	if cfg.Graph.URI == "" {
		slog.Warn("graph.uri is empty; GraphIndex will operate in degraded mode from startup")
	}

	if cfg.Orchestrator.RequestTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.request_timeout_ms must be positive, got %d", cfg.Orchestrator.RequestTimeoutMs))
	}
	if cfg.Orchestrator.TopK <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.top_k must be positive, got %d", cfg.Orchestrator.TopK))
	}
	if cfg.LLM.TimeoutMs > 0 && cfg.Orchestrator.RequestTimeoutMs > 0 &&
		cfg.LLM.TimeoutMs > cfg.Orchestrator.RequestTimeoutMs {
		slog.Warn("llm.timeout_ms exceeds orchestrator.request_timeout_ms; the LLM call will always be cancelled by the request deadline first",
			"llm_timeout_ms", cfg.LLM.TimeoutMs,
			"orchestrator_request_timeout_ms", cfg.Orchestrator.RequestTimeoutMs,
		)
	}

	return errors.Join(errs...)
}
