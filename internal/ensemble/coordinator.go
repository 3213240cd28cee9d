package ensemble

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/recallbank/recalld/internal/relevance"
	"github.com/recallbank/recalld/internal/reranker"
)

// Blend weights for the optional second-stage reranker.
const (
	rerankPriorWeight = 0.7
	rerankModelWeight = 0.3
	// rerankMinResults is the result count below which reranking is not
	// worth the extra pass.
	rerankMinResults = 5
)

// Config holds coordinator tuning.
type Config struct {
	// ProviderTimeout bounds each provider call. Default 3s.
	ProviderTimeout time.Duration
	// ConflictThreshold is the score band for near-tie detection. Default
	// 0.10.
	ConflictThreshold float64
	// CacheTTL enables the result cache when positive.
	CacheTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 3 * time.Second
	}
	if c.ConflictThreshold <= 0 {
		c.ConflictThreshold = relevance.DefaultConflictThreshold
	}
}

// Coordinator runs ensemble searches. The graph provider and the reranker
// are optional capabilities; nil means the corresponding stage is skipped.
type Coordinator struct {
	providers []Provider
	graph     Provider
	reranker  reranker.Reranker
	cache     *resultCache
	cfg       Config
	logger    *zap.Logger
}

// New builds a coordinator over the given always-on providers. graph and rr
// may be nil.
func New(cfg Config, providers []Provider, graph Provider, rr reranker.Reranker, logger *zap.Logger) (*Coordinator, error) {
	if len(providers) == 0 && graph == nil {
		return nil, fmt.Errorf("ensemble: at least one provider required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	c := &Coordinator{
		providers: providers,
		graph:     graph,
		reranker:  rr,
		cfg:       cfg,
		logger:    logger,
	}
	if cfg.CacheTTL > 0 {
		cache, err := newResultCache(cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	return c, nil
}

// Search fans the query out to every active provider, consolidates and
// ranks the answers. Provider failures degrade the result set instead of
// failing the call: the only error paths are validation and caller
// cancellation.
func (c *Coordinator) Search(ctx context.Context, q Query) (*Result, error) {
	if q.Query == "" {
		return nil, fmt.Errorf("ensemble: empty query")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}

	start := time.Now()
	searchesTotal.Inc()
	defer func() { searchDuration.Observe(time.Since(start).Seconds()) }()

	if c.cache != nil {
		if cached, ok := c.cache.get(q); ok {
			cacheHits.Inc()
			hit := *cached
			hit.Report.CacheHit = true
			return &hit, nil
		}
	}

	active := c.providers
	if q.UseGraph && c.graph != nil {
		active = append(append([]Provider(nil), c.providers...), c.graph)
	}

	// Fan out with per-provider timeouts. Results land in fixed slots so
	// consolidation order (and with it, tie-breaking) stays deterministic
	// regardless of which provider finishes first.
	candidates := make([][]SearchResult, len(active))
	failed := make([]bool, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range active {
		i, p := i, p
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, c.cfg.ProviderTimeout)
			defer cancel()

			pstart := time.Now()
			results, err := p.Search(pctx, q.Query, Filters{Project: q.Project}, q.Limit)
			providerDuration.WithLabelValues(p.Name()).Observe(time.Since(pstart).Seconds())
			if err != nil {
				providerFailures.WithLabelValues(p.Name()).Inc()
				failed[i] = true
				c.logger.Warn("provider failed, contributing no results",
					zap.String("provider", p.Name()),
					zap.Error(err))
				return nil
			}
			providerResults.WithLabelValues(p.Name()).Add(float64(len(results)))
			candidates[i] = results
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := Report{QueryID: uuid.NewString()}
	var all []SearchResult
	for i, list := range candidates {
		if failed[i] {
			report.SourcesFailed = append(report.SourcesFailed, active[i].Name())
			continue
		}
		report.SourcesResponded++
		all = append(all, list...)
	}

	merged := dedupe(all)

	for i := range merged {
		merged[i].RelevanceScore = relevance.Score(record(merged[i]), q.Project)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].RelevanceScore > merged[j].RelevanceScore
	})

	if len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}

	if q.Rerank && len(merged) > rerankMinResults && c.reranker != nil {
		report.Reranked = c.rerank(ctx, q.Query, merged)
	}

	scores := make([]float64, len(merged))
	for i, r := range merged {
		scores[i] = r.RelevanceScore
	}
	report.Conflicts = relevance.DetectConflicts(scores, c.cfg.ConflictThreshold)

	result := &Result{Results: merged, Report: report}
	if c.cache != nil {
		c.cache.set(q, result)
	}

	c.logger.Debug("ensemble search complete",
		zap.String("query_id", report.QueryID),
		zap.Int("results", len(merged)),
		zap.Int("sources_responded", report.SourcesResponded),
		zap.Strings("sources_failed", report.SourcesFailed),
		zap.Int("conflicts", len(report.Conflicts)))
	return result, nil
}

// rerank blends second-stage scores into the prior ranking and re-sorts.
// Reranker failure is non-fatal; the prior ranking stands.
func (c *Coordinator) rerank(ctx context.Context, query string, results []SearchResult) bool {
	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = r.Content
	}

	scores, err := c.reranker.Score(ctx, query, docs)
	if err != nil || len(scores) != len(results) {
		c.logger.Debug("reranker unavailable, keeping prior ranking", zap.Error(err))
		return false
	}

	for i := range results {
		results[i].RelevanceScore = rerankPriorWeight*results[i].RelevanceScore +
			rerankModelWeight*scores[i]
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	return true
}

// dedupe collapses results sharing an ID, keeping the copy with the higher
// provider-local score. First-seen position is preserved.
func dedupe(results []SearchResult) []SearchResult {
	byID := make(map[string]int, len(results))
	merged := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if at, ok := byID[r.ID]; ok {
			if r.Score > merged[at].Score {
				merged[at] = r
			}
			continue
		}
		byID[r.ID] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

// Close releases the cache.
func (c *Coordinator) Close() {
	if c.cache != nil {
		c.cache.close()
	}
}
