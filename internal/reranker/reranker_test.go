package reranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermOverlapScore(t *testing.T) {
	r := NewTermOverlap()
	ctx := context.Background()

	t.Run("full overlap scores one", func(t *testing.T) {
		scores, err := r.Score(ctx, "database connection timeout",
			[]string{"fix database connection timeout under load"})
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, 1.0, scores[0])
	})

	t.Run("partial overlap", func(t *testing.T) {
		scores, err := r.Score(ctx, "database connection timeout",
			[]string{"database queries run slowly"})
		require.NoError(t, err)
		assert.InDelta(t, 1.0/3.0, scores[0], 1e-9)
	})

	t.Run("no overlap scores zero", func(t *testing.T) {
		scores, err := r.Score(ctx, "database connection timeout",
			[]string{"frontend bundle size regression"})
		require.NoError(t, err)
		assert.Equal(t, 0.0, scores[0])
	})

	t.Run("order preserved", func(t *testing.T) {
		scores, err := r.Score(ctx, "cache invalidation",
			[]string{"unrelated", "cache invalidation strategy", "cache warming"})
		require.NoError(t, err)
		require.Len(t, scores, 3)
		assert.Equal(t, 0.0, scores[0])
		assert.Equal(t, 1.0, scores[1])
		assert.Equal(t, 0.5, scores[2])
	})

	t.Run("stopword-only query", func(t *testing.T) {
		scores, err := r.Score(ctx, "the and for", []string{"anything"})
		require.NoError(t, err)
		assert.Equal(t, []float64{0}, scores)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Score(cancelled, "q", []string{"d"})
		assert.Error(t, err)
	})
}
