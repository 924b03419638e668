// Package config loads annotator configuration from YAML or TOML.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/propolis-ai/annotator/pkg/models"
)

// Config holds all annotator configuration.
type Config struct {
	DBPath     string                `yaml:"db_path" toml:"db_path"`
	Provider   ProviderConfig        `yaml:"provider" toml:"provider"`
	Limits     LimitsConfig          `yaml:"limits" toml:"limits"`
	Prediction LoopConfig            `yaml:"prediction" toml:"prediction"`
	Embedding  LoopConfig            `yaml:"embedding" toml:"embedding"`
	Audit      models.AuditConfig    `yaml:"audit" toml:"audit"`
	Logging    LoggingConfig         `yaml:"logging" toml:"logging"`
	Telemetry  TelemetryConfig       `yaml:"telemetry" toml:"telemetry"`
	Qdrant     QdrantConfig          `yaml:"qdrant" toml:"qdrant"`
	Pricing    []models.ModelPricing `yaml:"pricing" toml:"pricing"`
}

// ProviderConfig defines the upstream model provider.
type ProviderConfig struct {
	Name            string   `yaml:"name" toml:"name"`
	BaseURL         string   `yaml:"base_url" toml:"base_url"`
	APIKey          string   `yaml:"api_key" toml:"api_key"`
	APIKeys         []string `yaml:"api_keys" toml:"api_keys"`
	Model           string   `yaml:"model" toml:"model"`
	ModerationModel string   `yaml:"moderation_model" toml:"moderation_model"`
	EmbeddingModel  string   `yaml:"embedding_model" toml:"embedding_model"`
	Temperature     *float64 `yaml:"temperature" toml:"temperature"`
	Timeout         Duration `yaml:"timeout" toml:"timeout"`
}

// Keys returns every configured key, api_keys first.
func (p ProviderConfig) Keys() []string {
	keys := make([]string, 0, len(p.APIKeys)+1)
	for _, k := range p.APIKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if p.APIKey != "" {
		keys = append(keys, p.APIKey)
	}
	return keys
}

// LimitsConfig sets the fixed-window quotas. Every loop gets its own pair
// of limiters built from these values.
type LimitsConfig struct {
	TokensPerPeriod  float64  `yaml:"tokens_per_period" toml:"tokens_per_period"`
	TokenPeriod      Duration `yaml:"token_period" toml:"token_period"`
	CallsPerPeriod   float64  `yaml:"calls_per_period" toml:"calls_per_period"`
	CallPeriod       Duration `yaml:"call_period" toml:"call_period"`
	PollInterval     Duration `yaml:"poll_interval" toml:"poll_interval"`
	AdmissionTimeout Duration `yaml:"admission_timeout" toml:"admission_timeout"`
}

// LoopConfig controls one runner loop.
type LoopConfig struct {
	Enabled   bool     `yaml:"enabled" toml:"enabled"`
	BatchSize int      `yaml:"batch_size" toml:"batch_size"`
	Tick      Duration `yaml:"tick" toml:"tick"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool   `yaml:"insecure" toml:"insecure"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// QdrantConfig controls the optional embedding mirror.
type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	Host       string `yaml:"host" toml:"host"`
	Port       int    `yaml:"port" toml:"port"`
	APIKey     string `yaml:"api_key" toml:"api_key"`
	UseTLS     bool   `yaml:"use_tls" toml:"use_tls"`
	Collection string `yaml:"collection" toml:"collection"`
}

// Duration is a time.Duration written as "1s", "90m" and so on.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", b)
	}
	*d = Duration(v)
	return nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DBPath: "annotator.db",
		Provider: ProviderConfig{
			Name:            "openai",
			BaseURL:         "https://api.openai.com",
			Model:           "gpt-3.5-turbo",
			ModerationModel: "text-moderation-latest",
			EmbeddingModel:  "text-embedding-ada-002",
			Timeout:         Duration(2 * time.Minute),
		},
		Limits: LimitsConfig{
			TokensPerPeriod: 1000,
			TokenPeriod:     Duration(time.Minute),
			CallsPerPeriod:  1,
			CallPeriod:      Duration(time.Second),
			PollInterval:    Duration(time.Second),
		},
		Prediction: LoopConfig{Enabled: true, BatchSize: 5, Tick: Duration(time.Second)},
		Embedding:  LoopConfig{Enabled: true, BatchSize: 20, Tick: Duration(time.Second)},
		Audit: models.AuditConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{Endpoint: "localhost:4317", ServiceName: "annotator"},
		Qdrant:    QdrantConfig{Host: "localhost", Port: 6334, Collection: "statements"},
	}
}

// Load reads a YAML or TOML config file, chosen by extension, and expands
// environment variables before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(expanded, cfg)
	default:
		err = yaml.Unmarshal(expanded, cfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// Validate reports the first setting that would make the runners misbehave.
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("db_path is required")
	case len(c.Provider.Keys()) == 0:
		return errors.New("provider.api_key or provider.api_keys is required")
	case c.Provider.Model == "":
		return errors.New("provider.model is required")
	case c.Limits.TokensPerPeriod <= 0 || c.Limits.CallsPerPeriod <= 0:
		return errors.New("limits: quotas must be positive")
	case c.Limits.TokenPeriod <= 0 || c.Limits.CallPeriod <= 0:
		return errors.New("limits: periods must be positive")
	case c.Prediction.Enabled && (c.Prediction.BatchSize <= 0 || c.Prediction.Tick <= 0):
		return errors.New("prediction: batch_size and tick must be positive")
	case c.Embedding.Enabled && (c.Embedding.BatchSize <= 0 || c.Embedding.Tick <= 0):
		return errors.New("embedding: batch_size and tick must be positive")
	case c.Embedding.Enabled && c.Provider.EmbeddingModel == "":
		return errors.New("provider.embedding_model is required when embedding is enabled")
	case c.Qdrant.Enabled && c.Qdrant.Collection == "":
		return errors.New("qdrant.collection is required")
	}
	return nil
}
