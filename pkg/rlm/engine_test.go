package rlm

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/rlm-go/pkg/config"
	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/errors"
	"github.com/promptops/rlm-go/pkg/knowledge"
	"github.com/promptops/rlm-go/pkg/llms"
	"github.com/promptops/rlm-go/pkg/persist"
)

func newTestEngine(t *testing.T, generator core.Generator, embeddings bool) *Engine {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.Embeddings.Enabled = embeddings

	e, err := New(cfg, generator)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestEngine_ProcessQuery_EmptyQuery(t *testing.T) {
	e := newTestEngine(t, nil, false)

	_, err := e.ProcessQuery(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
}

func TestEngine_ProcessQuery_ExactMemoryShortCircuits(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, false)

	e.RememberInteraction(ctx, "how do channels work", "they are typed conduits", "",
		"openai", "gpt-4o-mini", 37, true, false)

	result, err := e.ProcessQuery(ctx, "how do channels work")
	require.NoError(t, err)

	assert.True(t, result.FromMemory)
	assert.Equal(t, "they are typed conduits", result.Response)
	assert.Equal(t, "openai", result.Backend)
	assert.Equal(t, 37, result.TokensSaved, "a remembered answer saves its full original cost")
	assert.Nil(t, result.Analysis, "no analysis work happens on a memory hit")
}

func TestEngine_ProcessQuery_ComposesContext(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, false)

	require.NoError(t, e.AddKnowledge(ctx, "rest_paths", "api", "REST Paths",
		"design rest api endpoints with plural resource nouns", []string{"rest"}, 9))
	e.RememberInteraction(ctx, "design rest api paths", "use plural nouns", "",
		"openai", "gpt-4o-mini", 20, true, false)

	result, err := e.ProcessQuery(ctx, "design rest api endpoints")
	require.NoError(t, err)

	assert.False(t, result.FromMemory)
	assert.Equal(t, 1, result.KnowledgeResults)
	assert.Equal(t, 1, result.SimilarMemories)
	assert.Contains(t, result.Context, "[api] REST Paths:")
	assert.Contains(t, result.Context, "[Memory] Past: design rest api paths")
	require.NotNil(t, result.Analysis)
	assert.Equal(t, "coding", result.Analysis.Category, `"api" puts the query in the coding bucket`)
	assert.NotEmpty(t, result.OptimizedPrompt)
	assert.NotEmpty(t, result.CompressionStrategy)
}

func TestEngine_ProcessQuery_SurfacesSuggestions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, false)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.ProvideFeedback(ctx, "docker networking issue", "resp", "wrong", 1))
	}

	result, err := e.ProcessQuery(ctx, "docker networking question")
	require.NoError(t, err)
	require.NotEmpty(t, result.Suggestions)
	assert.Contains(t, result.Suggestions[0], "docker")
}

func TestEngine_Answer_RequiresGenerator(t *testing.T) {
	e := newTestEngine(t, nil, false)

	_, _, err := e.Answer(context.Background(), "anything", "")
	require.Error(t, err)
	assert.Equal(t, errors.CapabilityUnavailable, errors.CodeOf(err))
}

func TestEngine_Answer_GeneratesThenRemembers(t *testing.T) {
	ctx := context.Background()
	fake := llms.NewFakeGenerator("queue depth rises when consumers stall, watch the consumer lag metric closely")
	e := newTestEngine(t, fake, false)

	response, result, err := e.Answer(ctx, "why does queue depth rise", "")
	require.NoError(t, err)
	assert.Contains(t, response, "queue depth")
	assert.Equal(t, "fake", result.Backend)
	assert.Equal(t, "fake-1", result.Model)
	assert.Len(t, fake.Calls, 1)

	// The second ask is answered from memory without touching the backend.
	response2, result2, err := e.Answer(ctx, "why does queue depth rise", "")
	require.NoError(t, err)
	assert.True(t, result2.FromMemory)
	assert.Equal(t, response, response2)
	assert.Len(t, fake.Calls, 1)
}

func TestEngine_Answer_RemembersFailures(t *testing.T) {
	ctx := context.Background()
	fake := llms.NewFakeGenerator("")
	fake.Fail = errors.New(errors.Unknown, "backend unreachable")
	e := newTestEngine(t, fake, false)

	_, _, err := e.Answer(ctx, "unreachable backend question", "")
	require.Error(t, err)
	assert.Equal(t, errors.GenerationFailed, errors.CodeOf(err))

	recs := e.RecallMemory("unreachable backend question", 1)
	require.Len(t, recs, 1)
	assert.True(t, strings.HasPrefix(recs[0].Response, "error: "))
	assert.False(t, recs[0].Success)
}

func TestEngine_RememberInteraction_DemotesInvalidResponses(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, false)

	// Hedged, short, off-topic: validation fails and the record flips to
	// unsuccessful even though the caller claimed success.
	out := e.RememberInteraction(ctx, "what is the capacity plan",
		"maybe, possibly, i think", "", "openai", "m", 10, true, true)

	require.NotNil(t, out.Validation)
	assert.False(t, out.Validation.IsValid)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.MemoryID)

	recs := e.RecallMemory("what is the capacity plan", 1)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
}

func TestEngine_ProvideFeedback_RatingBounds(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, false)

	for _, rating := range []int{0, 6, -1} {
		err := e.ProvideFeedback(ctx, "q", "r", "f", rating)
		require.Error(t, err)
		assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))
	}

	assert.NoError(t, e.ProvideFeedback(ctx, "q", "r", "f", 5))
}

func TestEngine_AddKnowledge(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, false)

	err := e.AddKnowledge(ctx, "", "cat", "", "content", nil, 5)
	require.Error(t, err)
	assert.Equal(t, errors.InvalidInput, errors.CodeOf(err))

	require.NoError(t, e.AddKnowledge(ctx, "id1", "coding", "Titled Entry", "entry content", []string{"tag"}, 8))

	got := e.SearchKnowledge(knowledge.Query{Category: "coding"})
	require.Len(t, got, 1)
	assert.Equal(t, "Titled Entry", got[0].Title)
}

func TestEngine_AddKnowledge_MirrorsIntoVectors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, true)

	require.NoError(t, e.AddKnowledge(ctx, "vec1", "coding", "Vector Entry", "indexed content", nil, 8))

	stats := e.ComprehensiveStats()
	assert.True(t, stats.Vectors.EmbeddingsEnabled)
	assert.Equal(t, 1, stats.Vectors.Entries)
}

func TestEngine_SeedCommonKnowledge(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, false)

	assert.Equal(t, 5, e.SeedCommonKnowledge(ctx))
	assert.Equal(t, 5, e.SeedCommonKnowledge(ctx), "re-seeding replaces in place")
	assert.Equal(t, 5, e.ComprehensiveStats().Knowledge.Entries)

	got := e.SearchKnowledge(knowledge.Query{Category: "security"})
	require.Len(t, got, 1)
	assert.Equal(t, "authentication_jwt", got[0].ID)
}

func TestEngine_StatePersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Storage.Dir = t.TempDir()

	e, err := New(cfg, nil)
	require.NoError(t, err)
	e.RememberInteraction(ctx, "persisted question", "persisted answer", "", "openai", "m", 10, true, false)
	require.NoError(t, e.AddKnowledge(ctx, "persisted_kb", "coding", "Persisted", "content", nil, 8))
	require.NoError(t, e.Close(ctx))

	reopened, err := New(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close(ctx)

	result, err := reopened.ProcessQuery(ctx, "persisted question")
	require.NoError(t, err)
	assert.True(t, result.FromMemory)
	assert.Equal(t, "persisted answer", result.Response)

	require.Len(t, reopened.SearchKnowledge(knowledge.Query{Category: "coding"}), 1)
}

func TestEngine_ExportReport(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, false)

	e.SeedCommonKnowledge(ctx)
	e.RememberInteraction(ctx, "report question", "report answer", "", "openai", "m", 10, true, false)
	require.NoError(t, e.ProvideFeedback(ctx, "report question", "report answer", "good", 5))

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, e.ExportReport(path))

	var got map[string]interface{}
	found, err := persist.LoadJSON(path, &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, got, "statistics")
	assert.Contains(t, got, "quality_trend")
	assert.EqualValues(t, 1, got["total_memories"])
	assert.NotEmpty(t, got["knowledge_categories"])
}

func TestEngine_ComprehensiveStats(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, false)

	_, err := e.ProcessQuery(ctx, "please summarize the deployment pipeline carefully")
	require.NoError(t, err)
	e.RememberInteraction(ctx, "please summarize the deployment pipeline carefully",
		"ship via the release train", "", "openai", "m", 12, true, false)

	stats := e.ComprehensiveStats()
	assert.Equal(t, 1, stats.Optimizer.TotalQueries)
	assert.Equal(t, 1, stats.Rewriter.TotalOptimizations)
	assert.Equal(t, 1, stats.Intelligence.PerformanceRecords)
	assert.Equal(t, 1, stats.Memory.TotalRecords)
	assert.False(t, stats.Vectors.EmbeddingsEnabled)
}
