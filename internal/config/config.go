// Package config loads and validates the indexing engine's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for an indexing/retrieval run.
type Config struct {
	// CacheDir is the on-disk directory holding cache.db and chroma_db/.
	// Default ".minipilot" relative to the indexed root.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
}

// PathsConfig layers user-provided excludes on top of the Walker's
// built-in allow/deny lists. Extra excludes only narrow the result set.
type PathsConfig struct {
	ExtraExclude []string `yaml:"extra_exclude" json:"extra_exclude"`
}

// ChunkingConfig configures the token-sliding-window chunker.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// EmbeddingsConfig configures the embedding backend.
type EmbeddingsConfig struct {
	// Provider selects "ollama" or "static" (deterministic, offline).
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Host     string `yaml:"host" json:"host"`
}

// SearchConfig configures the Query Engine's defaults.
type SearchConfig struct {
	MaxResults          int     `yaml:"max_results" json:"max_results"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	MaxContextLength    int     `yaml:"max_context_length" json:"max_context_length"`
}

// Default configuration values.
const (
	DefaultCacheDir         = ".minipilot"
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 200
	DefaultMaxFileSize      = int64(1 << 20) // 1 MiB
	DefaultMaxResults       = 10
	DefaultMaxContextLength = 16000
	DefaultEmbedderTimeout  = 60 * time.Second
)

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		CacheDir: DefaultCacheDir,
		Chunking: ChunkingConfig{
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "static",
			Model:    "static-768",
			Host:     "http://localhost:11434",
		},
		Search: SearchConfig{
			MaxResults:          DefaultMaxResults,
			SimilarityThreshold: 0.0,
			MaxContextLength:    DefaultMaxContextLength,
		},
	}
}

// Load reads a YAML config file, applying defaults for any unset field.
// A missing file is not an error: Load returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills in zero-valued fields after a partial YAML load.
func applyDefaults(cfg *Config) {
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = DefaultChunkSize
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "static"
	}
	if cfg.Embeddings.Host == "" {
		cfg.Embeddings.Host = "http://localhost:11434"
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = DefaultMaxResults
	}
	if cfg.Search.MaxContextLength == 0 {
		cfg.Search.MaxContextLength = DefaultMaxContextLength
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	return nil
}

// CacheDBPath returns the absolute path to the metadata store file for
// the given indexed root.
func (c *Config) CacheDBPath(root string) string {
	return filepath.Join(root, c.CacheDir, "cache.db")
}

// VectorDBPath returns the absolute path to the vector store directory
// for the given indexed root.
func (c *Config) VectorDBPath(root string) string {
	return filepath.Join(root, c.CacheDir, "chroma_db")
}
