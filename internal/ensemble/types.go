// Package ensemble fans a query out to independent result providers,
// consolidates their candidates into one deduplicated list, ranks it with
// the composite relevance score and flags ambiguous near-ties.
package ensemble

import (
	"context"

	"github.com/recallbank/recalld/internal/relevance"
)

// SearchResult is the unit every provider returns and the coordinator
// emits. IDs must be globally unique across providers (each provider
// prefixes its own namespace).
type SearchResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	// Source tags the provider that produced the result.
	Source string `json:"source"`
	// Score is the provider-local score in [0,1].
	Score float64 `json:"score"`
	// RelevanceScore is filled in by the coordinator after ranking.
	RelevanceScore float64        `json:"relevance_score"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// Timestamp is the record's most relevant time in SQLite datetime or
	// RFC 3339 form, when the provider knows one.
	Timestamp string `json:"timestamp,omitempty"`
}

// Filters narrows a provider search.
type Filters struct {
	Project string
}

// Provider is an independent source of candidate results. Implementations
// must keep scores in [0,1]; errors are isolated by the coordinator and
// never abort the overall search.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, filters Filters, limit int) ([]SearchResult, error)
}

// Query is one ensemble search request.
type Query struct {
	Query   string
	Project string
	Limit   int
	// UseGraph includes the graph provider; defaults to true via
	// NewQuery.
	UseGraph bool
	// Rerank enables the optional second-stage blend when a reranker is
	// configured and more than five results survive consolidation.
	Rerank bool
}

// NewQuery builds a Query with the default flags on.
func NewQuery(query, project string, limit int) Query {
	return Query{Query: query, Project: project, Limit: limit, UseGraph: true, Rerank: true}
}

// Report describes how a search went: which sources answered, which
// failed, and whether the top of the ranking is ambiguous. A search where
// SourcesResponded is zero means no provider answered at all.
type Report struct {
	QueryID          string                   `json:"query_id"`
	SourcesResponded int                      `json:"sources_responded"`
	SourcesFailed    []string                 `json:"sources_failed,omitempty"`
	Conflicts        []relevance.ConflictPair `json:"conflicts,omitempty"`
	CacheHit         bool                     `json:"cache_hit"`
	Reranked         bool                     `json:"reranked"`
}

// Result is the ranked output plus its report.
type Result struct {
	Results []SearchResult `json:"results"`
	Report  Report         `json:"report"`
}

// record maps a result into the generic scoring inputs: the provider score
// becomes the confidence signal, the timestamp feeds recency, and metadata
// supplies project, context and maturity when the provider knows them.
func record(sr SearchResult) relevance.Record {
	rec := relevance.Record{Confidence: &sr.Score}

	if sr.Timestamp != "" {
		ts := sr.Timestamp
		rec.CreatedAt = &ts
	}
	if project, ok := sr.Metadata["project"].(string); ok && project != "" {
		rec.Project = &project
	}
	if hasContext, ok := sr.Metadata["has_context"].(bool); ok {
		rec.HasContext = hasContext
	}
	if status, ok := sr.Metadata["maturity_status"].(string); ok {
		rec.MaturityStatus = status
	}
	if used, ok := sr.Metadata["times_used"].(int); ok {
		rec.TimesUsed = &used
	}
	if count, ok := sr.Metadata["access_count"].(int); ok {
		rec.AccessCount = &count
	}
	if freq, ok := sr.Metadata["frequency"].(int); ok {
		rec.Frequency = &freq
	}
	return rec
}
