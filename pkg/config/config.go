// Package config defines the engine configuration: YAML-loaded, validated,
// with defaults for every knob.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/promptops/rlm-go/pkg/errors"
)

// CacheConfig tunes the response cache.
type CacheConfig struct {
	Backend  string        `yaml:"backend" validate:"oneof=memory sqlite"`
	MaxSize  int           `yaml:"max_size" validate:"min=1"`
	TTL      time.Duration `yaml:"ttl"` // <= 0 means entries never expire
	Path     string        `yaml:"path"`
	Compress bool          `yaml:"compress"`
}

// RetrievalConfig tunes context and knowledge retrieval.
type RetrievalConfig struct {
	ContextStrategy  string `yaml:"context_strategy" validate:"oneof=keyword semantic hybrid frequency recent"`
	MaxContextLength int    `yaml:"max_context_length" validate:"min=100"`
	MemoryRecall     int    `yaml:"memory_recall" validate:"min=1,max=20"`
	KnowledgeLimit   int    `yaml:"knowledge_limit" validate:"min=1,max=20"`
	MinPriority      int    `yaml:"min_priority" validate:"min=0,max=10"`
	VectorTopK       int    `yaml:"vector_top_k" validate:"min=1,max=20"`
	VectorThreshold  float64 `yaml:"vector_threshold" validate:"min=0,max=1"`
	MaxContextItems  int    `yaml:"max_context_items" validate:"min=1,max=20"`
}

// EmbeddingsConfig tunes the optional embedding capability.
type EmbeddingsConfig struct {
	Enabled    bool `yaml:"enabled"`
	Dimensions int  `yaml:"dimensions" validate:"min=8,max=4096"`
}

// StorageConfig locates the persisted stores.
type StorageConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// BackendConfig names the default generation backend and model.
type BackendConfig struct {
	Name  string `yaml:"name"`
	Model string `yaml:"model"`
}

// LoggingConfig tunes the logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error fatal"`
	File  string `yaml:"file"`
}

// Config is the full engine configuration.
type Config struct {
	Cache      CacheConfig      `yaml:"cache"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Storage    StorageConfig    `yaml:"storage"`
	Backend    BackendConfig    `yaml:"backend"`
	Logging    LoggingConfig    `yaml:"logging"`
	BatchSize  int              `yaml:"batch_size" validate:"min=1,max=64"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend:  "memory",
			MaxSize:  1000,
			TTL:      24 * time.Hour,
			Compress: true,
		},
		Retrieval: RetrievalConfig{
			ContextStrategy:  "hybrid",
			MaxContextLength: 2000,
			MemoryRecall:     3,
			KnowledgeLimit:   3,
			MinPriority:      7,
			VectorTopK:       3,
			VectorThreshold:  0.5,
			MaxContextItems:  7,
		},
		Embeddings: EmbeddingsConfig{
			Enabled:    false,
			Dimensions: 384,
		},
		Storage: StorageConfig{
			Dir: ".rlm",
		},
		Backend: BackendConfig{
			Name: "openai",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		BatchSize: 4,
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, errors.ValidationFailed, "invalid configuration")
	}
	return nil
}
