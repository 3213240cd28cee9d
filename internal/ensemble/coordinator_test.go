package ensemble

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallbank/recalld/internal/reranker"
)

// stubProvider returns canned results or a canned error.
type stubProvider struct {
	name    string
	results []SearchResult
	err     error
	delay   time.Duration
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(ctx context.Context, _ string, _ Filters, _ int) ([]SearchResult, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.results, nil
}

func result(id string, score float64) SearchResult {
	return SearchResult{ID: id, Content: "content for " + id, Source: "stub", Score: score}
}

func newCoordinator(t *testing.T, cfg Config, providers []Provider, graph Provider, rr reranker.Reranker) *Coordinator {
	t.Helper()
	c, err := New(cfg, providers, graph, rr, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSearchDedupKeepsHigherScore(t *testing.T) {
	a := &stubProvider{name: "a", results: []SearchResult{result("shared", 0.6)}}
	b := &stubProvider{name: "b", results: []SearchResult{result("shared", 0.9)}}
	c := newCoordinator(t, Config{}, []Provider{a, b}, nil, nil)

	res, err := c.Search(context.Background(), NewQuery("q", "", 10))
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 0.9, res.Results[0].Score)
	assert.Equal(t, 2, res.Report.SourcesResponded)
}

func TestSearchProviderFaultIsolation(t *testing.T) {
	t.Run("one of three fails", func(t *testing.T) {
		ok1 := &stubProvider{name: "ok1", results: []SearchResult{result("r1", 0.8)}}
		bad := &stubProvider{name: "bad", err: errors.New("backend down")}
		ok2 := &stubProvider{name: "ok2", results: []SearchResult{result("r2", 0.7)}}
		c := newCoordinator(t, Config{}, []Provider{ok1, bad, ok2}, nil, nil)

		res, err := c.Search(context.Background(), NewQuery("q", "", 10))
		require.NoError(t, err)
		assert.Len(t, res.Results, 2)
		assert.Equal(t, 2, res.Report.SourcesResponded)
		assert.Equal(t, []string{"bad"}, res.Report.SourcesFailed)
	})

	t.Run("slow provider times out", func(t *testing.T) {
		fast := &stubProvider{name: "fast", results: []SearchResult{result("r1", 0.8)}}
		slow := &stubProvider{name: "slow", delay: time.Second,
			results: []SearchResult{result("r2", 0.9)}}
		c := newCoordinator(t, Config{ProviderTimeout: 20 * time.Millisecond},
			[]Provider{fast, slow}, nil, nil)

		res, err := c.Search(context.Background(), NewQuery("q", "", 10))
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "r1", res.Results[0].ID)
		assert.Equal(t, []string{"slow"}, res.Report.SourcesFailed)
	})

	t.Run("total failure returns empty list without error", func(t *testing.T) {
		bad1 := &stubProvider{name: "bad1", err: errors.New("down")}
		bad2 := &stubProvider{name: "bad2", err: errors.New("down")}
		c := newCoordinator(t, Config{}, []Provider{bad1, bad2}, nil, nil)

		res, err := c.Search(context.Background(), NewQuery("q", "", 10))
		require.NoError(t, err)
		assert.Empty(t, res.Results)
		assert.Equal(t, 0, res.Report.SourcesResponded)
	})
}

func TestSearchRanking(t *testing.T) {
	p := &stubProvider{name: "p", results: []SearchResult{
		result("low", 0.1),
		result("high", 0.95),
		result("mid", 0.5),
	}}
	c := newCoordinator(t, Config{}, []Provider{p}, nil, nil)

	res, err := c.Search(context.Background(), NewQuery("q", "", 10))
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, "high", res.Results[0].ID)
	assert.Equal(t, "low", res.Results[2].ID)
	for i := 0; i+1 < len(res.Results); i++ {
		assert.GreaterOrEqual(t, res.Results[i].RelevanceScore, res.Results[i+1].RelevanceScore)
	}
}

func TestSearchTruncatesToLimit(t *testing.T) {
	var many []SearchResult
	for i := 0; i < 20; i++ {
		many = append(many, result(fmt.Sprintf("r%d", i), float64(i)/20))
	}
	p := &stubProvider{name: "p", results: many}
	c := newCoordinator(t, Config{}, []Provider{p}, nil, nil)

	res, err := c.Search(context.Background(), Query{Query: "q", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)
}

func TestSearchConflicts(t *testing.T) {
	// identical provider scores and no other signals produce identical
	// relevance scores: every adjacent pair conflicts
	p := &stubProvider{name: "p", results: []SearchResult{
		result("a", 0.8), result("b", 0.8), result("c", 0.2),
	}}
	c := newCoordinator(t, Config{ConflictThreshold: 0.01}, []Provider{p}, nil, nil)

	res, err := c.Search(context.Background(), NewQuery("q", "", 10))
	require.NoError(t, err)
	require.Len(t, res.Report.Conflicts, 1)
	assert.Equal(t, 0, res.Report.Conflicts[0].I)
	assert.Equal(t, 1, res.Report.Conflicts[0].J)
}

type stubReranker struct {
	scores map[string]float64
	err    error
}

func (r *stubReranker) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = r.scores[d]
	}
	return out, nil
}

func (r *stubReranker) Close() error { return nil }

func TestSearchRerank(t *testing.T) {
	sixResults := func() []SearchResult {
		var rs []SearchResult
		for i := 0; i < 6; i++ {
			rs = append(rs, result(fmt.Sprintf("r%d", i), 0.5+float64(i)/100))
		}
		return rs
	}

	t.Run("blend reorders", func(t *testing.T) {
		rr := &stubReranker{scores: map[string]float64{"content for r0": 1.0}}
		p := &stubProvider{name: "p", results: sixResults()}
		c := newCoordinator(t, Config{}, []Provider{p}, nil, rr)

		res, err := c.Search(context.Background(), NewQuery("q", "", 10))
		require.NoError(t, err)
		assert.True(t, res.Report.Reranked)
		// r0 had the lowest prior but a perfect second-stage score
		assert.Equal(t, "r0", res.Results[0].ID)
	})

	t.Run("skipped at five or fewer results", func(t *testing.T) {
		rr := &stubReranker{scores: map[string]float64{"content for r0": 1.0}}
		p := &stubProvider{name: "p", results: sixResults()[:5]}
		c := newCoordinator(t, Config{}, []Provider{p}, nil, rr)

		res, err := c.Search(context.Background(), NewQuery("q", "", 10))
		require.NoError(t, err)
		assert.False(t, res.Report.Reranked)
	})

	t.Run("reranker failure is non-fatal", func(t *testing.T) {
		rr := &stubReranker{err: errors.New("model gone")}
		p := &stubProvider{name: "p", results: sixResults()}
		c := newCoordinator(t, Config{}, []Provider{p}, nil, rr)

		res, err := c.Search(context.Background(), NewQuery("q", "", 10))
		require.NoError(t, err)
		assert.False(t, res.Report.Reranked)
		assert.Len(t, res.Results, 6)
	})

	t.Run("rerank flag off", func(t *testing.T) {
		rr := &stubReranker{scores: map[string]float64{"content for r0": 1.0}}
		p := &stubProvider{name: "p", results: sixResults()}
		c := newCoordinator(t, Config{}, []Provider{p}, nil, rr)

		q := NewQuery("q", "", 10)
		q.Rerank = false
		res, err := c.Search(context.Background(), q)
		require.NoError(t, err)
		assert.False(t, res.Report.Reranked)
	})
}

func TestSearchGraphToggle(t *testing.T) {
	base := &stubProvider{name: "base", results: []SearchResult{result("r1", 0.5)}}
	g := &stubProvider{name: "graph", results: []SearchResult{result("entity_x", 0.6)}}
	c := newCoordinator(t, Config{}, []Provider{base}, g, nil)

	t.Run("graph included by default", func(t *testing.T) {
		res, err := c.Search(context.Background(), NewQuery("q", "", 10))
		require.NoError(t, err)
		assert.Len(t, res.Results, 2)
	})

	t.Run("useGraph=false skips it", func(t *testing.T) {
		q := NewQuery("q", "", 10)
		q.UseGraph = false
		res, err := c.Search(context.Background(), q)
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "r1", res.Results[0].ID)
	})
}

func TestSearchCache(t *testing.T) {
	p := &stubProvider{name: "p", results: []SearchResult{result("r1", 0.5)}}
	c := newCoordinator(t, Config{CacheTTL: time.Minute}, []Provider{p}, nil, nil)

	q := NewQuery("stable query", "proj", 10)
	first, err := c.Search(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, first.Report.CacheHit)

	// ristretto admits writes asynchronously
	c.cache.cache.Wait()

	second, err := c.Search(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, second.Report.CacheHit)
	assert.Equal(t, first.Results, second.Results)

	// a different project is a different cache entry
	other, err := c.Search(context.Background(), NewQuery("stable query", "elsewhere", 10))
	require.NoError(t, err)
	assert.False(t, other.Report.CacheHit)
}

func TestSearchValidation(t *testing.T) {
	p := &stubProvider{name: "p"}
	c := newCoordinator(t, Config{}, []Provider{p}, nil, nil)

	_, err := c.Search(context.Background(), NewQuery("", "", 10))
	assert.Error(t, err)

	_, err = New(Config{}, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestRecordMapping(t *testing.T) {
	sr := SearchResult{
		ID:        "decision_1",
		Score:     0.8,
		Timestamp: "2026-08-01 10:00:00",
		Metadata: map[string]any{
			"project":         "recalld",
			"has_context":     true,
			"maturity_status": "confirmed",
			"times_used":      7,
		},
	}
	rec := record(sr)
	require.NotNil(t, rec.Confidence)
	assert.Equal(t, 0.8, *rec.Confidence)
	require.NotNil(t, rec.Project)
	assert.Equal(t, "recalld", *rec.Project)
	assert.True(t, rec.HasContext)
	assert.Equal(t, "confirmed", rec.MaturityStatus)
	require.NotNil(t, rec.TimesUsed)
	assert.Equal(t, 7, *rec.TimesUsed)
	require.NotNil(t, rec.CreatedAt)
}
