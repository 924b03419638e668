package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.DBPath != "annotator.db" {
		t.Errorf("expected annotator.db, got %s", cfg.DBPath)
	}
	if cfg.Limits.TokensPerPeriod != 1000 || cfg.Limits.TokenPeriod.D() != time.Minute {
		t.Errorf("unexpected token limit %+v", cfg.Limits)
	}
	if cfg.Limits.CallsPerPeriod != 1 || cfg.Limits.CallPeriod.D() != time.Second {
		t.Errorf("unexpected call limit %+v", cfg.Limits)
	}
	if cfg.Prediction.BatchSize != 5 || cfg.Embedding.BatchSize != 20 {
		t.Errorf("unexpected batch sizes %d/%d", cfg.Prediction.BatchSize, cfg.Embedding.BatchSize)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-1234567890")

	path := writeFile(t, "config.yaml", `
db_path: "test.db"
provider:
  api_keys:
    - ${TEST_API_KEY}
    - sk-second-key-000000
  model: gpt-4
limits:
  tokens_per_period: 40000
  token_period: 1m
  admission_timeout: 30s
prediction:
  enabled: true
  batch_size: 8
  tick: 2s
pricing:
  - model: gpt-4
    prompt_cost_per_1k: 0.03
    completion_cost_per_1k: 0.06
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "test.db" {
		t.Errorf("expected test.db, got %s", cfg.DBPath)
	}
	if keys := cfg.Provider.Keys(); len(keys) != 2 || keys[0] != "sk-test-1234567890" {
		t.Errorf("env var not expanded: got %v", keys)
	}
	if cfg.Provider.Model != "gpt-4" {
		t.Errorf("expected gpt-4, got %s", cfg.Provider.Model)
	}
	if cfg.Provider.EmbeddingModel != "text-embedding-ada-002" {
		t.Error("defaults must survive partial config")
	}
	if cfg.Limits.AdmissionTimeout.D() != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.Limits.AdmissionTimeout.D())
	}
	if cfg.Prediction.Tick.D() != 2*time.Second || cfg.Prediction.BatchSize != 8 {
		t.Errorf("unexpected prediction config %+v", cfg.Prediction)
	}
	if len(cfg.Pricing) != 1 || cfg.Pricing[0].CompletionCost != 0.06 {
		t.Errorf("unexpected pricing %+v", cfg.Pricing)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-toml-1234567890")

	path := writeFile(t, "config.toml", `
db_path = "toml.db"

[provider]
api_key = "${TEST_API_KEY}"

[limits]
tokens_per_period = 500
token_period = "30s"

[embedding]
enabled = false

[qdrant]
enabled = true
collection = "vectors"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "toml.db" {
		t.Errorf("expected toml.db, got %s", cfg.DBPath)
	}
	if cfg.Provider.APIKey != "sk-toml-1234567890" {
		t.Errorf("env var not expanded: got %s", cfg.Provider.APIKey)
	}
	if cfg.Limits.TokenPeriod.D() != 30*time.Second || cfg.Limits.TokensPerPeriod != 500 {
		t.Errorf("unexpected limits %+v", cfg.Limits)
	}
	if cfg.Embedding.Enabled {
		t.Error("expected embedding disabled")
	}
	if !cfg.Qdrant.Enabled || cfg.Qdrant.Collection != "vectors" || cfg.Qdrant.Port != 6334 {
		t.Errorf("unexpected qdrant config %+v", cfg.Qdrant)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeFile(t, "config.yaml", "limits:\n  token_period: soon\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"no keys", func(c *Config) { c.Provider.APIKey = "" }, false},
		{"zero tokens", func(c *Config) { c.Limits.TokensPerPeriod = 0 }, false},
		{"zero call period", func(c *Config) { c.Limits.CallPeriod = 0 }, false},
		{"zero batch", func(c *Config) { c.Prediction.BatchSize = 0 }, false},
		{"zero batch disabled", func(c *Config) { c.Embedding.Enabled = false; c.Embedding.BatchSize = 0 }, true},
		{"qdrant without collection", func(c *Config) { c.Qdrant.Enabled = true; c.Qdrant.Collection = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Provider.APIKey = "sk-valid-key-123456"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
