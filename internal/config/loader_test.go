package config

import (
	"os"
	"strings"
	"testing"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v, want 0.7", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxTokens != 1000 {
		t.Errorf("LLM.MaxTokens = %v, want 1000", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.TimeoutMs != 30000 {
		t.Errorf("LLM.TimeoutMs = %v, want 30000", cfg.LLM.TimeoutMs)
	}
	if cfg.Vector.Collection != "dbvybe_schemas" {
		t.Errorf("Vector.Collection = %q, want dbvybe_schemas", cfg.Vector.Collection)
	}
	if cfg.Orchestrator.RequestTimeoutMs != 45000 {
		t.Errorf("Orchestrator.RequestTimeoutMs = %v, want 45000", cfg.Orchestrator.RequestTimeoutMs)
	}
	if cfg.Orchestrator.TopK != 8 {
		t.Errorf("Orchestrator.TopK = %v, want 8", cfg.Orchestrator.TopK)
	}
}

func TestLoadFromReaderYAMLOverride(t *testing.T) {
	yamlDoc := `
llm:
  model: gpt-4o-mini
  temperature: 0.2
vector:
  collection: custom_schemas
orchestrator:
  top_k: 5
`
	cfg, err := LoadFromReader(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q, want gpt-4o-mini", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("LLM.Temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.Vector.Collection != "custom_schemas" {
		t.Errorf("Vector.Collection = %q, want custom_schemas", cfg.Vector.Collection)
	}
	if cfg.Orchestrator.TopK != 5 {
		t.Errorf("Orchestrator.TopK = %v, want 5", cfg.Orchestrator.TopK)
	}
}

func TestLoadFromReaderEnvOverridesYAML(t *testing.T) {
	t.Setenv("LLM_MODEL", "claude-override")
	t.Setenv("ORCHESTRATOR_TOP_K", "3")

	yamlDoc := "llm:\n  model: gpt-4o-mini\n"
	cfg, err := LoadFromReader(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LLM.Model != "claude-override" {
		t.Errorf("LLM.Model = %q, want claude-override (env must win)", cfg.LLM.Model)
	}
	if cfg.Orchestrator.TopK != 3 {
		t.Errorf("Orchestrator.TopK = %v, want 3", cfg.Orchestrator.TopK)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("bogus_top_level_key: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReaderInvalidLogLevel(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  log_level: verbose\n"))
	if err == nil {
		t.Fatal("expected validation error for invalid log level, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !os.IsNotExist(errorsUnwrapNotExist(err)) {
		t.Skip("underlying error is not a plain os.IsNotExist; acceptable if wrapped differently")
	}
}

// errorsUnwrapNotExist walks err.Unwrap() looking for the underlying
// *fs.PathError so the missing-file test can assert on it without coupling
// to the exact wrapping depth.
func errorsUnwrapNotExist(err error) error {
	for err != nil {
		if os.IsNotExist(err) {
			return err
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		err = u.Unwrap()
	}
	return err
}
