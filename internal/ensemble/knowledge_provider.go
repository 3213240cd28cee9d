package ensemble

import (
	"context"
	"fmt"

	"github.com/recallbank/recalld/internal/knowledge"
)

// KnowledgeProvider serves relational text-search hits over decisions and
// learnings. As the primary store it carries full maturity metadata, so its
// results rank with real confidence and validation signals.
type KnowledgeProvider struct {
	store *knowledge.Store
}

// NewKnowledgeProvider wraps the knowledge store.
func NewKnowledgeProvider(store *knowledge.Store) *KnowledgeProvider {
	return &KnowledgeProvider{store: store}
}

func (p *KnowledgeProvider) Name() string {
	return "knowledge"
}

func (p *KnowledgeProvider) Search(ctx context.Context, query string, filters Filters, limit int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits, err := p.store.SearchText(query, filters.Project, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		meta := map[string]any{
			"table":           h.Table.String(),
			"record_id":       h.ID,
			"maturity_status": string(h.MaturityStatus),
			"has_context":     h.HasContext,
			"times_used":      h.TimesUsed,
		}
		if h.Project != nil {
			meta["project"] = *h.Project
		}

		timestamp := h.CreatedAt
		if h.UpdatedAt != nil && *h.UpdatedAt != "" {
			timestamp = *h.UpdatedAt
		}

		results[i] = SearchResult{
			ID:        resultID(h.Table, h.ID),
			Content:   h.Content,
			Source:    p.Name(),
			Score:     h.ConfidenceScore,
			Metadata:  meta,
			Timestamp: timestamp,
		}
	}
	return results, nil
}

// resultID namespaces a relational record so IDs stay unique across
// providers: decision_12, learning_3.
func resultID(table knowledge.Table, id int64) string {
	name := table.String()
	// singular form reads better in result IDs
	return fmt.Sprintf("%s_%d", name[:len(name)-1], id)
}
