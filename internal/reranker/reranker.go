// Package reranker provides an optional second-stage relevance model for
// ensemble search. The coordinator blends its scores into the prior ranking
// when a reranker is configured; a nil reranker means the stage is skipped.
package reranker

import (
	"context"
	"strings"
)

// Reranker scores query/document pairs like a cross-encoder would: one
// relevance value in [0,1] per document, in input order.
type Reranker interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
	Close() error
}

// TermOverlap is a lexical stand-in for a cross-encoder: it scores each
// document by the fraction of query terms it contains. Cheap, deterministic
// and dependency-free, which makes it the default second stage.
type TermOverlap struct{}

// NewTermOverlap creates the lexical reranker.
func NewTermOverlap() *TermOverlap {
	return &TermOverlap{}
}

// Score computes per-document query-term coverage.
func (r *TermOverlap) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTokens := tokenize(query)
	scores := make([]float64, len(docs))
	if len(queryTokens) == 0 {
		return scores, nil
	}

	for i, doc := range docs {
		scores[i] = termOverlap(queryTokens, tokenize(doc))
	}
	return scores, nil
}

func (r *TermOverlap) Close() error {
	return nil
}

// tokenize lowercases, splits on non-alphanumerics and drops stopwords and
// very short tokens.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := tokens[:0]
	for _, token := range tokens {
		if len(token) > 2 && !stopwords[token] {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "these": true, "those": true, "was": true,
	"are": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true,
	"what": true, "which": true, "who": true, "when": true, "where": true,
	"why": true, "how": true, "not": true, "but": true, "you": true,
	"they": true,
}

// termOverlap returns the fraction of unique query terms present in the
// document.
func termOverlap(queryTokens, docTokens []string) float64 {
	docSet := make(map[string]bool, len(docTokens))
	for _, token := range docTokens {
		docSet[token] = true
	}

	matched := map[string]bool{}
	unique := map[string]bool{}
	for _, token := range queryTokens {
		unique[token] = true
		if docSet[token] {
			matched[token] = true
		}
	}
	if len(unique) == 0 {
		return 0
	}
	return float64(len(matched)) / float64(len(unique))
}
