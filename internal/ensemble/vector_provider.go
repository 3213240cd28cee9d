package ensemble

import (
	"context"

	"github.com/recallbank/recalld/internal/vectorstore"
)

// VectorProvider serves semantic similarity hits over mirrored memories.
// Document IDs are already namespaced (memory_N) by the mirror.
type VectorProvider struct {
	store vectorstore.Store
}

// NewVectorProvider wraps a vector store.
func NewVectorProvider(store vectorstore.Store) *VectorProvider {
	return &VectorProvider{store: store}
}

func (p *VectorProvider) Name() string {
	return "vector"
}

func (p *VectorProvider) Search(ctx context.Context, query string, filters Filters, limit int) ([]SearchResult, error) {
	hits, err := p.store.Search(ctx, query, limit, nil)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		meta := make(map[string]any, len(h.Metadata))
		for k, v := range h.Metadata {
			meta[k] = v
		}
		results[i] = SearchResult{
			ID:       h.ID,
			Content:  h.Content,
			Source:   p.Name(),
			Score:    h.Score,
			Metadata: meta,
		}
	}
	return results, nil
}
