package ensemble

import (
	"context"
	"strings"

	"github.com/recallbank/recalld/internal/graph"
)

// GraphProvider serves entity matches from the knowledge graph, scored by
// connectivity. It is an optional capability: searches run without it when
// no graph store is configured.
type GraphProvider struct {
	store *graph.Store
}

// NewGraphProvider wraps a graph store.
func NewGraphProvider(store *graph.Store) *GraphProvider {
	return &GraphProvider{store: store}
}

func (p *GraphProvider) Name() string {
	return "graph"
}

func (p *GraphProvider) Search(ctx context.Context, query string, _ Filters, limit int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits, err := p.store.Search(query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		content := h.Entity.Name
		if h.Entity.Description != nil {
			content += ": " + *h.Entity.Description
		}
		if len(h.Related) > 0 {
			content += " (related: " + strings.Join(h.Related, ", ") + ")"
		}

		results[i] = SearchResult{
			ID:      "entity_" + h.Entity.Name,
			Content: content,
			Source:  p.Name(),
			Score:   h.Score,
			Metadata: map[string]any{
				"entity_type": h.Entity.Type,
				"related":     h.Related,
			},
			Timestamp: h.Entity.CreatedAt,
		}
	}
	return results, nil
}
