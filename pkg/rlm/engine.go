// Package rlm composes the caches, stores, and optimizers into the query
// pipeline: remember everything, never duplicate work, and only trust
// validated responses.
package rlm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/promptops/rlm-go/pkg/cache"
	"github.com/promptops/rlm-go/pkg/config"
	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/errors"
	"github.com/promptops/rlm-go/pkg/improvement"
	"github.com/promptops/rlm-go/pkg/intelligence"
	"github.com/promptops/rlm-go/pkg/knowledge"
	"github.com/promptops/rlm-go/pkg/logging"
	"github.com/promptops/rlm-go/pkg/memory"
	"github.com/promptops/rlm-go/pkg/optimize"
	"github.com/promptops/rlm-go/pkg/persist"
	"github.com/promptops/rlm-go/pkg/vector"
)

// QueryResult is the bundle returned by ProcessQuery.
type QueryResult struct {
	Query               string                 `json:"query"`
	FromMemory          bool                   `json:"from_memory"`
	Response            string                 `json:"response,omitempty"`
	OptimizedPrompt     string                 `json:"optimized_prompt"`
	Context             string                 `json:"context,omitempty"`
	Backend             string                 `json:"backend,omitempty"`
	Model               string                 `json:"model,omitempty"`
	TokensOriginal      int                    `json:"tokens_original"`
	TokensOptimized     int                    `json:"tokens_optimized"`
	TokensSaved         int                    `json:"tokens_saved"`
	FromCache           bool                   `json:"from_cache"`
	CachedResponse      string                 `json:"cached_response,omitempty"`
	Analysis            *intelligence.Analysis `json:"analysis,omitempty"`
	KnowledgeResults    int                    `json:"knowledge_results"`
	VectorResults       int                    `json:"vector_results"`
	SimilarMemories     int                    `json:"similar_memories"`
	Suggestions         []string               `json:"suggestions,omitempty"`
	Advanced            *optimize.RewriteResult `json:"advanced,omitempty"`
	CompressionStrategy optimize.Strategy      `json:"compression_strategy,omitempty"`
	Elapsed             time.Duration          `json:"elapsed"`
}

// RememberResult reports the outcome of RememberInteraction.
type RememberResult struct {
	MemoryID   string                  `json:"memory_id"`
	Validation *improvement.Validation `json:"validation,omitempty"`
	Success    bool                    `json:"success"`
}

// Stats aggregates every component's statistics.
type Stats struct {
	Optimizer    optimize.Stats                            `json:"optimizer"`
	Rewriter     optimize.RewriterStats                    `json:"rewriter"`
	Compressor   map[optimize.Strategy]optimize.StrategyStats `json:"compressor"`
	Cache        cache.Stats                               `json:"cache"`
	Knowledge    knowledge.Stats                           `json:"knowledge"`
	Vectors      vector.Stats                              `json:"vectors"`
	Intelligence intelligence.Stats                        `json:"intelligence"`
	Memory       memory.Insights                           `json:"memory"`
	Improvement  improvement.Stats                         `json:"improvement"`
}

// Engine owns every store and sequences the pipeline. All stores are explicit
// instances; nothing is process-global.
type Engine struct {
	cfg        *config.Config
	generator  core.Generator
	estimator  core.TokenEstimator
	cache      cache.Store
	memory     *memory.Store
	knowledge  *knowledge.Base
	vectors    *vector.Index
	usage      *intelligence.Tracker
	improve    *improvement.Engine
	rewriter   *optimize.Rewriter
	compressor *optimize.AdaptiveCompressor
	optimizer  *optimize.Optimizer
}

// New builds an Engine from configuration. The generator may be nil when only
// the optimization pipeline is used; Answer then returns an error.
func New(cfg *config.Config, generator core.Generator) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configureLogging(cfg.Logging)

	dir := cfg.Storage.Dir

	cachePath := filepath.Join(dir, "cache.json")
	if cfg.Cache.Backend == "sqlite" {
		cachePath = filepath.Join(dir, "cache.db")
	}
	if cfg.Cache.Path != "" {
		cachePath = cfg.Cache.Path
	}
	store, err := cache.New(cache.Config{
		Backend:  cfg.Cache.Backend,
		MaxSize:  cfg.Cache.MaxSize,
		TTL:      cfg.Cache.TTL,
		Path:     cachePath,
		Compress: cfg.Cache.Compress,
	})
	if err != nil {
		return nil, err
	}

	var embedder core.Embedder
	if cfg.Embeddings.Enabled {
		embedder = vector.NewHashEmbedder(cfg.Embeddings.Dimensions)
	}

	index := optimize.NewContextIndex(embedder, cfg.Retrieval.MaxContextLength)

	e := &Engine{
		cfg:        cfg,
		generator:  generator,
		estimator:  core.NewWordEstimator(),
		cache:      store,
		memory:     memory.New(filepath.Join(dir, "memory.json")),
		knowledge:  knowledge.New(filepath.Join(dir, "knowledge.json")),
		vectors:    vector.New(embedder, filepath.Join(dir, "vectors.json")),
		usage:      intelligence.New(filepath.Join(dir, "usage.json")),
		improve:    improvement.New(filepath.Join(dir, "improvement.json")),
		rewriter:   optimize.NewRewriter(),
		compressor: optimize.NewAdaptiveCompressor(),
	}
	e.optimizer = optimize.NewOptimizer(store, index, e.estimator)

	logging.GetLogger().Info(context.Background(), "engine ready: %d memories, %d knowledge entries, embeddings %v",
		e.memory.Len(), e.knowledge.Stats().Entries, e.vectors.Enabled())

	return e, nil
}

// configureLogging installs the global logger described by the config.
func configureLogging(cfg config.LoggingConfig) {
	outputs := []logging.Output{logging.NewConsoleOutput(true)}
	if cfg.File != "" {
		fileOut, err := logging.NewFileOutput(cfg.File)
		if err != nil {
			logging.GetLogger().Warn(context.Background(), "cannot open log file %q: %v", cfg.File, err)
		} else {
			outputs = append(outputs, fileOut)
		}
	}
	logging.SetLogger(logging.NewLogger(logging.Config{
		Severity: logging.ParseSeverity(cfg.Level),
		Outputs:  outputs,
	}))
}

// ProcessQuery runs the full optimization pipeline over one query. An exact
// memory hit short-circuits everything else; no optimization work happens for
// a query asked before.
func (e *Engine) ProcessQuery(ctx context.Context, query string) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New(errors.InvalidInput, "empty query")
	}
	start := time.Now()

	if rec, ok := e.memory.RecallExact(query); ok {
		return &QueryResult{
			Query:       query,
			FromMemory:  true,
			Response:    rec.Response,
			Context:     rec.Context,
			Backend:     rec.Backend,
			Model:       rec.Model,
			TokensSaved: rec.TokensUsed,
			Elapsed:     time.Since(start),
		}, nil
	}

	similar := e.memory.Recall(query, e.cfg.Retrieval.MemoryRecall)
	memoryContext := renderMemoryContext(similar)

	suggestions := e.improve.Suggestions(query)

	analysis := e.usage.Analyze(query)

	kbResults := e.knowledge.Search(knowledge.Query{
		Text:        query,
		MinPriority: e.cfg.Retrieval.MinPriority,
		Limit:       e.cfg.Retrieval.KnowledgeLimit,
	})
	kbIDs := make(map[string]struct{}, len(kbResults))
	for _, entry := range kbResults {
		kbIDs[entry.ID] = struct{}{}
	}

	var vectorMatches []vector.Match
	if e.vectors.Enabled() {
		vectorMatches = e.vectors.Search(ctx, query,
			e.cfg.Retrieval.VectorTopK, e.cfg.Retrieval.VectorThreshold, nil)
	}

	var parts []string
	if memoryContext != "" {
		parts = append(parts, "[Memory] "+memoryContext)
	}
	for _, entry := range kbResults {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", entry.Category, entry.Title, entry.Content))
	}
	for _, match := range vectorMatches {
		if _, dup := kbIDs[match.Entry.ID]; dup {
			continue
		}
		parts = append(parts, "[Similar] "+match.Entry.Text)
	}
	if len(suggestions) > 0 {
		parts = append(parts, "[Suggestions] "+strings.Join(suggestions, "; "))
	}
	if len(parts) > e.cfg.Retrieval.MaxContextItems {
		parts = parts[:e.cfg.Retrieval.MaxContextItems]
	}
	contextText := strings.Join(parts, "\n")

	advanced := e.rewriter.Rewrite(query, contextText)
	rewritten := advanced.OptimizedPrompt
	contextText = advanced.Context

	compressed, strategy := e.compressor.Compress(rewritten)

	compressionStrategy := optimize.StrategyMinimal
	if analysis.ShouldCompress {
		compressionStrategy = optimize.StrategySmart
	}
	// The configured strategy degrades to keyword inside the index when no
	// embedder is available.
	contextStrategy := optimize.RetrievalStrategy(e.cfg.Retrieval.ContextStrategy)
	opt := e.optimizer.Optimize(ctx, compressed, optimize.Options{
		SkipContext:         contextText == "",
		ContextStrategy:     contextStrategy,
		CompressionStrategy: compressionStrategy,
	})

	return &QueryResult{
		Query:               query,
		OptimizedPrompt:     opt.OptimizedPrompt,
		Context:             contextText,
		TokensOriginal:      opt.TokensOriginal,
		TokensOptimized:     opt.TokensOptimized,
		TokensSaved:         opt.TokensSaved,
		FromCache:           opt.FromCache,
		CachedResponse:      opt.CachedResponse,
		Analysis:            &analysis,
		KnowledgeResults:    len(kbResults),
		VectorResults:       len(vectorMatches),
		SimilarMemories:     len(similar),
		Suggestions:         suggestions,
		Advanced:            &advanced,
		CompressionStrategy: strategy,
		Elapsed:             time.Since(start),
	}, nil
}

func renderMemoryContext(records []memory.Record) string {
	if len(records) == 0 {
		return ""
	}
	lines := make([]string, len(records))
	for i, rec := range records {
		resp := rec.Response
		if len(resp) > 100 {
			resp = resp[:100] + "..."
		}
		lines[i] = fmt.Sprintf("Past: %s -> %s", rec.Query, resp)
	}
	return strings.Join(lines, "\n")
}

// Answer optimizes a query, calls the generation backend, and remembers the
// interaction. Generation failures are remembered as unsuccessful and
// returned wrapped.
func (e *Engine) Answer(ctx context.Context, query, systemPrompt string) (string, *QueryResult, error) {
	if e.generator == nil {
		return "", nil, errors.New(errors.CapabilityUnavailable, "no generation backend configured")
	}

	result, err := e.ProcessQuery(ctx, query)
	if err != nil {
		return "", nil, err
	}
	if result.FromMemory {
		return result.Response, result, nil
	}
	if result.FromCache {
		return result.CachedResponse, result, nil
	}

	prompt := result.OptimizedPrompt
	if result.Context != "" {
		prompt += "\n\nRelevant Context:\n" + result.Context
	}

	info := e.generator.Describe()
	response, genErr := e.generator.Generate(ctx, prompt, systemPrompt)
	if genErr != nil {
		e.RememberInteraction(ctx, query, "error: "+genErr.Error(), result.Context,
			info.Name, info.ModelID, 0, false, false)
		return "", result, errors.Wrap(genErr, errors.GenerationFailed, "generation backend failed")
	}

	tokensUsed := e.estimator.Estimate(prompt) + e.estimator.Estimate(response)
	e.RememberInteraction(ctx, query, response, result.Context,
		info.Name, info.ModelID, tokensUsed, true, true)

	if err := e.cache.Set(ctx, query, response, result.TokensSaved, nil); err != nil {
		logging.GetLogger().Warn(ctx, "failed to cache response: %v", err)
	}

	result.Response = response
	result.Backend = info.Name
	result.Model = info.ModelID
	return response, result, nil
}

// RememberInteraction validates the response (optionally), records it in
// long-term memory, and feeds the usage tracker. A failed validation demotes
// success to false before the record is written.
func (e *Engine) RememberInteraction(ctx context.Context, query, response, contextText, backend, model string, tokensUsed int, success, validate bool) RememberResult {
	var validation *improvement.Validation
	if validate {
		v := e.improve.Validate(query, response, contextText)
		validation = &v
		if !v.IsValid {
			success = false
		}
	}

	id := e.memory.Remember(query, response, contextText, backend, model, tokensUsed, success, nil)
	e.usage.Record(query, backend, model, tokensUsed, 0, success)

	e.flush(ctx)

	return RememberResult{MemoryID: id, Validation: validation, Success: success}
}

// ProvideFeedback feeds a user rating into the improvement engine.
func (e *Engine) ProvideFeedback(ctx context.Context, query, response, feedback string, rating int) error {
	if rating < 1 || rating > 5 {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "rating must be between 1 and 5"),
			errors.Fields{"rating": rating})
	}
	e.improve.LearnFromFeedback(query, response, feedback, rating)
	if err := e.improve.Save(); err != nil {
		logging.GetLogger().Warn(ctx, "failed to save improvement state: %v", err)
	}
	return nil
}

// AddKnowledge inserts an entry into the knowledge base and mirrors it into
// the vector index when embeddings are available.
func (e *Engine) AddKnowledge(ctx context.Context, id, category, title, content string, tags []string, priority int) error {
	if id == "" || title == "" {
		return errors.New(errors.InvalidInput, "knowledge entries need an id and title")
	}

	e.knowledge.Add(id, category, title, content, tags, priority, nil)

	if e.vectors.Enabled() {
		err := e.vectors.Add(ctx, id, title+": "+content, map[string]string{"category": category})
		if err != nil && errors.CodeOf(err) != errors.CapabilityUnavailable {
			logging.GetLogger().Warn(ctx, "failed to index knowledge entry %q: %v", id, err)
		}
	}

	e.flush(ctx)
	return nil
}

// SearchKnowledge runs a filtered knowledge base search.
func (e *Engine) SearchKnowledge(q knowledge.Query) []knowledge.Entry {
	return e.knowledge.Search(q)
}

// RecallMemory returns the most similar past interactions.
func (e *Engine) RecallMemory(query string, limit int) []memory.Record {
	return e.memory.Recall(query, limit)
}

// AddContext registers an ad hoc context snippet with the optimizer's index.
func (e *Engine) AddContext(ctx context.Context, key, content string, metadata map[string]string) {
	e.optimizer.AddContext(ctx, key, content, metadata)
}

// seedEntry is one curated starter fact.
type seedEntry struct {
	id, category, title, content string
	tags                         []string
	priority                     int
}

var commonKnowledge = []seedEntry{
	{
		id: "rest_api_design", category: "api", title: "REST API Design Principles",
		content:  "Use HTTP methods correctly: GET for read, POST for create, PUT for update, DELETE for remove. Use plural nouns for resources. Version your API.",
		tags:     []string{"api", "rest", "design"},
		priority: 9,
	},
	{
		id: "authentication_jwt", category: "security", title: "JWT Authentication",
		content:  "JWT tokens contain header, payload, and signature. Include in Authorization header as Bearer token. Set appropriate expiration time.",
		tags:     []string{"auth", "jwt", "security"},
		priority: 9,
	},
	{
		id: "database_normalization", category: "database", title: "Database Normalization",
		content:  "Normalize to reduce redundancy. Use foreign keys for relationships. Index frequently queried columns.",
		tags:     []string{"database", "sql", "design"},
		priority: 8,
	},
	{
		id: "error_handling", category: "coding", title: "Error Handling Best Practices",
		content:  "Always handle errors gracefully. Log errors with context. Return meaningful error messages.",
		tags:     []string{"error", "best-practice"},
		priority: 8,
	},
	{
		id: "testing_strategy", category: "testing", title: "Testing Strategy",
		content:  "Write unit tests for functions. Integration tests for APIs. Use mocking for external services. Aim for 80%+ coverage.",
		tags:     []string{"testing", "unit-test", "quality"},
		priority: 7,
	},
}

// SeedCommonKnowledge loads the curated starter entries. Idempotent: entries
// are keyed by stable ids and re-seeding replaces them in place.
func (e *Engine) SeedCommonKnowledge(ctx context.Context) int {
	for _, entry := range commonKnowledge {
		if err := e.AddKnowledge(ctx, entry.id, entry.category, entry.title, entry.content, entry.tags, entry.priority); err != nil {
			logging.GetLogger().Warn(ctx, "failed to seed %q: %v", entry.id, err)
		}
	}
	return len(commonKnowledge)
}

// ComprehensiveStats aggregates every component's statistics.
func (e *Engine) ComprehensiveStats() Stats {
	return Stats{
		Optimizer:    e.optimizer.Stats(),
		Rewriter:     e.rewriter.Stats(),
		Compressor:   e.compressor.Stats(),
		Cache:        e.cache.Stats(),
		Knowledge:    e.knowledge.Stats(),
		Vectors:      e.vectors.Stats(),
		Intelligence: e.usage.Stats(),
		Memory:       e.memory.LearnedInsights(),
		Improvement:  e.improve.Stats(),
	}
}

// report is the exported JSON shape.
type report struct {
	GeneratedAt         time.Time                    `json:"generated_at"`
	Statistics          Stats                        `json:"statistics"`
	QualityTrend        improvement.Trend            `json:"quality_trend"`
	TopPatterns         []intelligence.KeywordCount  `json:"top_patterns"`
	PeakHours           []int                        `json:"peak_hours"`
	KnowledgeCategories []string                     `json:"knowledge_categories"`
	TotalMemories       int                          `json:"total_memories"`
	LearnedInsights     memory.Insights              `json:"learned_insights"`
}

// ExportReport writes the comprehensive report as JSON to path.
func (e *Engine) ExportReport(path string) error {
	return persist.SaveJSON(path, report{
		GeneratedAt:         time.Now(),
		Statistics:          e.ComprehensiveStats(),
		QualityTrend:        e.improve.QualityTrend(),
		TopPatterns:         e.usage.PopularKeywords(10),
		PeakHours:           e.usage.PeakHours(),
		KnowledgeCategories: e.knowledge.Categories(),
		TotalMemories:       e.memory.Len(),
		LearnedInsights:     e.memory.LearnedInsights(),
	})
}

// flush saves every store, logging failures. In-memory state stays
// authoritative when a save fails.
func (e *Engine) flush(ctx context.Context) {
	for name, save := range map[string]func() error{
		"memory":      e.memory.Save,
		"knowledge":   e.knowledge.Save,
		"vectors":     e.vectors.Save,
		"usage":       e.usage.Save,
		"improvement": e.improve.Save,
	} {
		if err := save(); err != nil {
			logging.GetLogger().Warn(ctx, "failed to save %s store: %v", name, err)
		}
	}
}

// Save flushes every store to disk.
func (e *Engine) Save(ctx context.Context) {
	e.flush(ctx)
}

// Close flushes all state and releases the cache backend.
func (e *Engine) Close(ctx context.Context) error {
	e.flush(ctx)
	return e.cache.Close()
}
