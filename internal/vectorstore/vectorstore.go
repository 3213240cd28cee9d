// Package vectorstore persists memory embeddings in an embedded chromem-go
// database and serves similarity queries for the ensemble search.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/recallbank/recalld/internal/embeddings"
)

var (
	ErrEmptyDocuments     = errors.New("vectorstore: no documents given")
	ErrCollectionNotFound = errors.New("vectorstore: collection not found")
)

// Config holds vector store configuration.
type Config struct {
	// Path is the directory for persistent storage.
	Path string
	// Collection is the collection holding mirrored memories.
	Collection string
	// Compress enables gzip compression of stored data.
	Compress bool
}

// Document is one entry in the index.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Hit is one similarity-search result. Score is cosine similarity in [0,1].
type Hit struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]string
}

// Store is the semantic index consumed by the ensemble's vector provider
// and the knowledge service's memory mirror.
type Store interface {
	AddDocuments(ctx context.Context, docs []Document) error
	Search(ctx context.Context, query string, k int, where map[string]string) ([]Hit, error)
	Delete(ctx context.Context, ids ...string) error
	Count() int
	Close() error
}

// ChromemStore implements Store on chromem-go: pure Go, persisted to disk,
// no external service.
type ChromemStore struct {
	db         *chromem.DB
	embedder   embeddings.Embedder
	collection string
	logger     *zap.Logger
}

// NewChromemStore opens (creating if necessary) the persistent database at
// cfg.Path.
func NewChromemStore(cfg Config, embedder embeddings.Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("vectorstore: embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("vectorstore: path is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "recalld_memories"
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: create directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open database: %w", err)
	}

	s := &ChromemStore{
		db:         db,
		embedder:   embedder,
		collection: cfg.Collection,
		logger:     logger,
	}

	// Materialize the collection up front so first search does not race
	// first write.
	if _, err := s.getOrCreate(); err != nil {
		return nil, err
	}

	logger.Info("vector store opened",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Bool("compress", cfg.Compress))
	return s, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) getOrCreate() (*chromem.Collection, error) {
	collection, err := s.db.GetOrCreateCollection(s.collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("vectorstore: collection %s: %w", s.collection, err)
	}
	return collection, nil
}

// AddDocuments embeds and indexes the given documents. Documents must carry
// explicit IDs so the caller can delete them later.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("vectorstore: document at index %d has no id", i)
		}
		texts[i] = doc.Content
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("vectorstore: embed documents: %w", err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: vectors[i],
		}
	}

	collection, err := s.getOrCreate()
	if err != nil {
		return err
	}
	// Embeddings are precomputed, a single worker is enough.
	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("vectorstore: add documents: %w", err)
	}

	s.logger.Debug("documents indexed", zap.Int("count", len(docs)))
	return nil
}

// Search runs a similarity query, optionally filtered on metadata equality.
func (s *ChromemStore) Search(ctx context.Context, query string, k int, where map[string]string) ([]Hit, error) {
	if query == "" {
		return nil, fmt.Errorf("vectorstore: empty query")
	}
	if k <= 0 {
		k = 10
	}

	collection := s.db.GetCollection(s.collection, s.embeddingFunc())
	if collection == nil {
		return nil, ErrCollectionNotFound
	}

	// chromem requires k <= document count.
	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	// chromem rejects nResults above the number of matching documents, and
	// a metadata filter can shrink that below the collection count. Retry
	// with smaller k until the query fits.
	var results []chromem.Result
	for ; k >= 1; k-- {
		var err error
		results, err = collection.Query(ctx, query, k, where, nil)
		if err == nil {
			break
		}
		if !strings.Contains(err.Error(), "nResults") {
			return nil, fmt.Errorf("vectorstore: query: %w", err)
		}
		if k == 1 {
			return nil, nil
		}
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ID:       r.ID,
			Content:  r.Content,
			Score:    normalizeSimilarity(float64(r.Similarity)),
			Metadata: r.Metadata,
		}
	}
	return hits, nil
}

// Delete removes documents by ID. Unknown IDs are ignored.
func (s *ChromemStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	collection := s.db.GetCollection(s.collection, s.embeddingFunc())
	if collection == nil {
		return ErrCollectionNotFound
	}
	for _, id := range ids {
		if err := collection.Delete(ctx, nil, nil, id); err != nil {
			s.logger.Warn("document delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

// Count returns the number of indexed documents.
func (s *ChromemStore) Count() int {
	collection := s.db.GetCollection(s.collection, s.embeddingFunc())
	if collection == nil {
		return 0
	}
	return collection.Count()
}

// Close is a no-op; chromem persists synchronously.
func (s *ChromemStore) Close() error {
	return nil
}

// normalizeSimilarity maps cosine similarity from [-1,1] into [0,1] so
// vector scores are comparable with other providers.
func normalizeSimilarity(sim float64) float64 {
	v := (sim + 1) / 2
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
