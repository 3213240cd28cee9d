// Package embeddings generates text embeddings for the semantic memory
// index, either locally through ONNX models or against a remote
// text-embeddings-inference server.
package embeddings

import "context"

// Embedder turns text into vectors. Document and query embeddings are
// separate because BGE-style models prefix them differently.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with lifecycle management.
type Provider interface {
	Embedder
	// Dimension returns the embedding width of the configured model.
	Dimension() int
	Close() error
}

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is "fastembed" (local ONNX, default) or "tei".
	Provider string
	// Model is the embedding model name, e.g. BAAI/bge-small-en-v1.5.
	Model string
	// BaseURL points at the TEI server. TEI only.
	BaseURL string
	// CacheDir holds downloaded model files. FastEmbed only.
	CacheDir string
}

// NewProvider builds the configured provider.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "tei":
		return NewTEIProvider(cfg.BaseURL, cfg.Model)
	default:
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	}
}

// modelDimension returns the embedding width of known models, defaulting to
// 384 (bge-small family).
func modelDimension(model string) int {
	dims := map[string]int{
		"BAAI/bge-small-en-v1.5":                 384,
		"BAAI/bge-base-en-v1.5":                  768,
		"sentence-transformers/all-MiniLM-L6-v2": 384,
	}
	if d, ok := dims[model]; ok {
		return d
	}
	return 384
}
