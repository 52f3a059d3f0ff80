package optimize

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/rlm-go/pkg/cache"
)

func newTestOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	store, err := cache.NewMemoryStore(cache.Config{MaxSize: 100})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewOptimizer(store, NewContextIndex(nil, 0), nil)
}

func TestOptimizer_CacheHitShortCircuits(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t)

	require.NoError(t, o.CacheResponse(ctx, "cached question", "cached answer", 42, nil))

	result := o.Optimize(ctx, "cached question", Options{})
	assert.True(t, result.FromCache)
	assert.Equal(t, "cached answer", result.CachedResponse)
	assert.Equal(t, 42, result.TokensSaved)
	assert.Equal(t, "cached question", result.OptimizedPrompt)

	stats := o.Stats()
	assert.Equal(t, 1, stats.CacheHits)
	assert.InDelta(t, 100.0, stats.CacheHitRate, 0.001)
}

func TestOptimizer_SkipCache(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t)

	require.NoError(t, o.CacheResponse(ctx, "cached question", "cached answer", 42, nil))

	result := o.Optimize(ctx, "cached question", Options{SkipCache: true, SkipContext: true})
	assert.False(t, result.FromCache)
	assert.Empty(t, result.CachedResponse)
}

func TestOptimizer_CompressionSavings(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t)

	result := o.Optimize(ctx, "could you please summarize the incident report", Options{SkipContext: true})

	assert.True(t, result.CompressionUsed)
	assert.Positive(t, result.CompressionSavings)
	assert.Positive(t, result.TokensSaved)
	assert.Less(t, result.TokensOptimized, result.TokensOriginal)
	assert.NotContains(t, strings.ToLower(result.OptimizedPrompt), "please")
}

func TestOptimizer_ContextRetrievalAndDedupe(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t)
	o.AddContext(ctx, "hint", "deploy uses blue green", nil)

	// Politeness padding gives compression enough headroom that attaching
	// the context still beats shipping the original query.
	result := o.Optimize(ctx, "could you please kindly deploy could you please kindly", Options{ContextStrategy: RetrieveKeyword})

	assert.True(t, result.ContextUsed)
	assert.Positive(t, result.ContextSavings)
	assert.Contains(t, result.Context, "blue")
	words := strings.Fields(strings.ToLower(result.Context))
	assert.NotContains(t, words, "deploy", "query words are deduplicated out of the context")
}

func TestOptimizer_RegressionGuard(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t)

	// Context far longer than the query makes the combined estimate worse
	// than shipping the query untouched.
	o.AddContext(ctx, "bloat", "deploy "+strings.Repeat("unrelated filler words ", 40), nil)

	query := "deploy now"
	result := o.Optimize(ctx, query, Options{ContextStrategy: RetrieveKeyword})

	assert.Equal(t, query, result.OptimizedPrompt)
	assert.Empty(t, result.Context)
	assert.Equal(t, result.TokensOriginal, result.TokensOptimized)
	assert.Zero(t, result.TokensSaved)
}

func TestOptimizer_Stats(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t)

	o.Optimize(ctx, "please explain the rollout plan", Options{SkipContext: true})
	require.NoError(t, o.CacheResponse(ctx, "q2", "r2", 5, nil))
	o.Optimize(ctx, "q2", Options{})

	stats := o.Stats()
	assert.Equal(t, 2, stats.TotalQueries)
	assert.Equal(t, 1, stats.CacheHits)
	assert.InDelta(t, 50.0, stats.CacheHitRate, 0.001)
	assert.Positive(t, stats.TotalTokensSaved)
	assert.Positive(t, stats.AvgSavedPerQuery)
	assert.False(t, stats.EmbeddingsEnabled)
}
