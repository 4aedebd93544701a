package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Blobstore  BlobstoreConfig  `yaml:"blobstore"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

type AppConfig struct {
	Port          int     `yaml:"port"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type QdrantConfig struct {
	// Enabled false runs on the in-memory store, for single-node setups
	// and local development.
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type EmbeddingConfig struct {
	URL       string `yaml:"url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type BlobstoreConfig struct {
	Path string `yaml:"path"`
}

type IngestConfig struct {
	Workers      int      `yaml:"workers"`
	MaxDocuments int      `yaml:"max_documents"`
	LeaseTTL     Duration `yaml:"lease_ttl"`
}

type ResilienceConfig struct {
	RatePerSecond    float64  `yaml:"rate_per_second"`
	Burst            int      `yaml:"burst"`
	MaxAttempts      int      `yaml:"max_attempts"`
	Timeout          Duration `yaml:"timeout"`
	FailureThreshold uint32   `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
	CacheTTL         Duration `yaml:"cache_ttl"`
}

// Duration accepts YAML values like "30s" or "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func Default() *Config {
	return &Config{
		App: AppConfig{
			Port:          8080,
			RatePerSecond: 20,
			Burst:         40,
		},
		Qdrant: QdrantConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    6334,
		},
		Embedding: EmbeddingConfig{
			URL:       "http://localhost:8000",
			Model:     "bge-large-en-v1.5",
			Dimension: 1024,
		},
		Blobstore: BlobstoreConfig{
			Path: "data/veridano.db",
		},
		Ingest: IngestConfig{
			Workers:      4,
			MaxDocuments: 100,
			LeaseTTL:     Duration(30 * time.Minute),
		},
		Resilience: ResilienceConfig{
			RatePerSecond:    5,
			Burst:            10,
			MaxAttempts:      3,
			Timeout:          Duration(30 * time.Second),
			FailureThreshold: 5,
			Cooldown:         Duration(30 * time.Second),
			CacheTTL:         Duration(5 * time.Minute),
		},
	}
}

// Load reads the optional YAML file at path and applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VERIDANO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = port
		}
	}
	if v := os.Getenv("VERIDANO_QDRANT_HOST"); v != "" {
		cfg.Qdrant.Host = v
	}
	if v := os.Getenv("VERIDANO_QDRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Qdrant.Port = port
		}
	}
	if v := os.Getenv("VERIDANO_EMBEDDING_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("VERIDANO_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("VERIDANO_BLOBSTORE_PATH"); v != "" {
		cfg.Blobstore.Path = v
	}
}
