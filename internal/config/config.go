// Package config provides configuration loading for recalld.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/recallbank/recalld/internal/logging"
)

// Config is the root configuration for the recalld daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Storage     StorageConfig     `koanf:"storage"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Graph       GraphConfig       `koanf:"graph"`
	Ensemble    EnsembleConfig    `koanf:"ensemble"`
	Logging     logging.Config    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig holds knowledge store settings.
type StorageConfig struct {
	// DataDir is the directory containing the SQLite database.
	DataDir string `koanf:"data_dir"`
}

// VectorStoreConfig holds embedded vector store settings.
type VectorStoreConfig struct {
	// Enabled turns the vector search provider on. When disabled (or when
	// the embedder fails to initialize), ensemble search runs without it.
	Enabled bool `koanf:"enabled"`

	// Path is the chromem persistence directory.
	Path string `koanf:"path"`

	// Collection is the collection holding memory mirrors.
	Collection string `koanf:"collection"`

	// Compress enables gzip compression of persisted vectors.
	Compress bool `koanf:"compress"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX) or "tei" (HTTP).
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// GraphConfig holds graph provider settings.
type GraphConfig struct {
	// Enabled turns the graph search provider on.
	Enabled bool `koanf:"enabled"`
}

// EnsembleConfig holds ensemble search settings.
type EnsembleConfig struct {
	// ProviderTimeout bounds each provider call during fan-out.
	ProviderTimeout time.Duration `koanf:"provider_timeout"`

	// CacheTTL is how long consolidated results stay cached. Zero disables
	// the cache.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// ConflictThreshold is the score gap under which adjacent results are
	// reported as ambiguous.
	ConflictThreshold float64 `koanf:"conflict_threshold"`

	// RerankEnabled turns the term-overlap reranker on.
	RerankEnabled bool `koanf:"rerank_enabled"`
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "recalld", "config.yaml"), nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Ensemble.ProviderTimeout <= 0 {
		return fmt.Errorf("ensemble.provider_timeout must be positive")
	}
	if c.Ensemble.ConflictThreshold < 0 || c.Ensemble.ConflictThreshold > 1 {
		return fmt.Errorf("ensemble.conflict_threshold must be in [0,1]")
	}
	switch c.Embeddings.Provider {
	case "", "fastembed", "tei":
	default:
		return fmt.Errorf("embeddings.provider must be fastembed or tei, got %q", c.Embeddings.Provider)
	}
	return c.Logging.Validate()
}
