package optimize

import (
	"context"
	"strings"
	"sync"

	"github.com/promptops/rlm-go/pkg/cache"
	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/logging"
)

// Result is the output of one base optimization pass.
type Result struct {
	OptimizedPrompt    string `json:"optimized_prompt"`
	Context            string `json:"context"`
	TokensOriginal     int    `json:"tokens_original"`
	TokensOptimized    int    `json:"tokens_optimized"`
	TokensSaved        int    `json:"tokens_saved"`
	CompressionSavings int    `json:"compression_savings"`
	ContextSavings     int    `json:"context_savings"`
	FromCache          bool   `json:"from_cache"`
	CachedResponse     string `json:"cached_response,omitempty"`
	CompressionUsed    bool   `json:"compression_used"`
	ContextUsed        bool   `json:"context_used"`
}

// Stats is the optimizer's running accounting.
type Stats struct {
	TotalQueries       int     `json:"total_queries"`
	CacheHits          int     `json:"cache_hits"`
	CacheHitRate       float64 `json:"cache_hit_rate"` // percentage
	TotalTokensSaved   int     `json:"total_tokens_saved"`
	CompressionSavings int     `json:"compression_savings"`
	ContextSavings     int     `json:"context_savings"`
	AvgSavedPerQuery   float64 `json:"avg_saved_per_query"`
	ContextItems       int     `json:"context_items"`
	EmbeddingsEnabled  bool    `json:"embeddings_enabled"`
}

// Options tunes one Optimize call. The zero value enables everything with the
// default strategies.
type Options struct {
	SkipCache           bool
	SkipContext         bool
	ContextStrategy     RetrievalStrategy
	CompressionStrategy Strategy
}

// Optimizer is the base optimization stage: cache lookup, rule-based
// compression, context retrieval, prompt/context word deduplication, and the
// final token accounting with its regression guard.
type Optimizer struct {
	cache     cache.Store
	index     *ContextIndex
	estimator core.TokenEstimator

	mu                 sync.Mutex
	totalQueries       int
	cacheHits          int
	totalTokensSaved   int
	compressionSavings int
	contextSavings     int
}

// NewOptimizer wires the base optimizer to a cache store and context index.
// A nil estimator defaults to the word-count estimator.
func NewOptimizer(store cache.Store, index *ContextIndex, estimator core.TokenEstimator) *Optimizer {
	if estimator == nil {
		estimator = core.NewWordEstimator()
	}
	return &Optimizer{cache: store, index: index, estimator: estimator}
}

// Index exposes the optimizer's context index for snippet registration.
func (o *Optimizer) Index() *ContextIndex {
	return o.index
}

// AddContext registers a snippet, lightly compressed, with the context index.
func (o *Optimizer) AddContext(ctx context.Context, key, content string, metadata map[string]string) {
	o.index.Add(ctx, key, Compress(content, StrategyMinimal), metadata)
}

// Optimize runs the base pipeline over a prompt. A cache hit short-circuits
// with the cached response; otherwise compression, context retrieval, and
// deduplication apply, and the regression guard reverts everything when the
// optimized token estimate exceeds the original.
func (o *Optimizer) Optimize(ctx context.Context, query string, opts Options) Result {
	o.mu.Lock()
	o.totalQueries++
	o.mu.Unlock()

	originalQuery := query

	if !opts.SkipCache {
		entry, ok, err := o.cache.Get(ctx, query)
		if err != nil {
			logging.GetLogger().Warn(ctx, "cache lookup failed, continuing uncached: %v", err)
		} else if ok {
			o.mu.Lock()
			o.cacheHits++
			o.totalTokensSaved += entry.TokensSaved
			o.mu.Unlock()
			return Result{
				OptimizedPrompt: query,
				TokensOriginal:  o.estimator.Estimate(query),
				TokensSaved:     entry.TokensSaved,
				FromCache:       true,
				CachedResponse:  entry.Response,
			}
		}
	}

	strategy := opts.CompressionStrategy
	if strategy == "" {
		strategy = StrategySmart
	}
	compressionSavings := 0
	compressed := Compress(query, strategy)
	if saved := o.estimator.Estimate(query) - o.estimator.Estimate(compressed); saved > 0 {
		query = compressed
		compressionSavings = saved
		o.mu.Lock()
		o.compressionSavings += saved
		o.mu.Unlock()
	}

	contextText := ""
	contextSavings := 0
	if !opts.SkipContext {
		retrieval := opts.ContextStrategy
		if retrieval == "" {
			retrieval = RetrieveHybrid
		}
		contextText = o.index.Retrieve(ctx, query, 3, retrieval)
		if contextText != "" {
			// Retrieved context can stand in for part of the query.
			contextSavings = len(strings.Fields(contextText)) / 2
			o.mu.Lock()
			o.contextSavings += contextSavings
			o.mu.Unlock()
		}
	}

	if contextText != "" {
		query, contextText = dedupe(query, contextText)
	}

	tokensOriginal := o.estimator.Estimate(originalQuery)
	tokensOptimized := o.estimator.Estimate(query + contextText)

	// Regression guard: never ship a result costlier than the input.
	if tokensOptimized > tokensOriginal {
		query = originalQuery
		contextText = ""
		tokensOptimized = tokensOriginal
	}

	saved := tokensOriginal - tokensOptimized
	o.mu.Lock()
	o.totalTokensSaved += saved
	o.mu.Unlock()

	return Result{
		OptimizedPrompt:    query,
		Context:            contextText,
		TokensOriginal:     tokensOriginal,
		TokensOptimized:    tokensOptimized,
		TokensSaved:        saved,
		CompressionSavings: compressionSavings,
		ContextSavings:     contextSavings,
		CompressionUsed:    compressionSavings > 0,
		ContextUsed:        contextText != "",
	}
}

// dedupe drops context words already present in the query.
func dedupe(query, contextText string) (string, string) {
	queryWords := wordSet(query)

	words := strings.Fields(contextText)
	filtered := words[:0]
	for _, w := range words {
		if _, dup := queryWords[strings.ToLower(w)]; !dup {
			filtered = append(filtered, w)
		}
	}
	return query, strings.Join(filtered, " ")
}

// CacheResponse records a generated response against its query.
func (o *Optimizer) CacheResponse(ctx context.Context, query, response string, tokensSaved int, metadata map[string]string) error {
	return o.cache.Set(ctx, query, response, tokensSaved, metadata)
}

// Stats returns the running optimization accounting.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := Stats{
		TotalQueries:       o.totalQueries,
		CacheHits:          o.cacheHits,
		TotalTokensSaved:   o.totalTokensSaved,
		CompressionSavings: o.compressionSavings,
		ContextSavings:     o.contextSavings,
		ContextItems:       o.index.Len(),
		EmbeddingsEnabled:  o.index.embedder != nil,
	}
	if o.totalQueries > 0 {
		stats.CacheHitRate = float64(o.cacheHits) / float64(o.totalQueries) * 100
		stats.AvgSavedPerQuery = float64(o.totalTokensSaved) / float64(o.totalQueries)
	}
	return stats
}
