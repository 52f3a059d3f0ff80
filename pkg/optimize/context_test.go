package optimize

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/rlm-go/pkg/vector"
)

func TestContextIndex_RetrieveKeyword(t *testing.T) {
	ctx := context.Background()
	ci := NewContextIndex(nil, 0)
	ci.Add(ctx, "deploy", "kubernetes deploy checklist", nil)
	ci.Add(ctx, "cooking", "pasta recipe steps", nil)
	ci.Add(ctx, "rollback", "kubernetes rollback and deploy notes", nil)

	got := ci.Retrieve(ctx, "kubernetes deploy", 3, RetrieveKeyword)

	assert.Contains(t, got, "\n[Context] rollback:\nkubernetes rollback and deploy notes\n")
	assert.Contains(t, got, "[Context] deploy:")
	assert.NotContains(t, got, "pasta", "zero-overlap items are excluded")
}

func TestContextIndex_RetrieveTopKAndEmpty(t *testing.T) {
	ctx := context.Background()
	ci := NewContextIndex(nil, 0)

	assert.Empty(t, ci.Retrieve(ctx, "anything", 3, RetrieveKeyword))

	ci.Add(ctx, "a", "shared topic one", nil)
	ci.Add(ctx, "b", "shared topic two", nil)

	got := ci.Retrieve(ctx, "shared topic", 1, RetrieveKeyword)
	assert.Equal(t, 1, strings.Count(got, "[Context]"))
}

func TestContextIndex_SemanticDegradesToKeyword(t *testing.T) {
	ctx := context.Background()
	ci := NewContextIndex(nil, 0)
	ci.Add(ctx, "match", "database index tuning", nil)
	ci.Add(ctx, "miss", "garden watering schedule", nil)

	for _, strategy := range []RetrievalStrategy{RetrieveSemantic, RetrieveHybrid} {
		got := ci.Retrieve(ctx, "database tuning", 3, strategy)
		assert.Contains(t, got, "database index tuning")
		assert.NotContains(t, got, "garden")
	}
}

func TestContextIndex_HybridRanksExactContentFirst(t *testing.T) {
	ctx := context.Background()
	ci := NewContextIndex(vector.NewHashEmbedder(64), 0)
	ci.Add(ctx, "exact", "configure kubernetes ingress routing", nil)
	ci.Add(ctx, "partial", "configure dns records", nil)

	got := ci.Retrieve(ctx, "configure kubernetes ingress routing", 1, RetrieveHybrid)
	assert.Contains(t, got, "[Context] exact:")
	assert.NotContains(t, got, "[Context] partial:")
}

func TestContextIndex_FrequencyAndRecent(t *testing.T) {
	ctx := context.Background()
	ci := NewContextIndex(nil, 0)
	ci.Add(ctx, "old", "first snippet", nil)
	ci.Add(ctx, "new", "second snippet", nil)

	// Render the old snippet once so frequency ranking favors it.
	ci.Retrieve(ctx, "first snippet", 1, RetrieveKeyword)

	byFrequency := ci.Retrieve(ctx, "ignored", 1, RetrieveFrequency)
	assert.Contains(t, byFrequency, "[Context] old:")

	// That frequency render just touched "old", so it is now the most recent.
	byRecency := ci.Retrieve(ctx, "ignored", 1, RetrieveRecent)
	assert.Contains(t, byRecency, "[Context] old:")
}

func TestContextIndex_RenderTruncatesToMaxLength(t *testing.T) {
	ctx := context.Background()
	ci := NewContextIndex(nil, 50)
	ci.Add(ctx, "long", strings.Repeat("overflowing content ", 20), nil)

	got := ci.Retrieve(ctx, "overflowing content", 3, RetrieveKeyword)
	assert.LessOrEqual(t, len(got), 50)
	assert.Contains(t, got, "[Context] long:")
}

func TestContextIndex_RenderUpdatesAccessStats(t *testing.T) {
	ctx := context.Background()
	ci := NewContextIndex(nil, 0)
	ci.Add(ctx, "tracked", "observable snippet", nil)

	ci.Retrieve(ctx, "observable snippet", 3, RetrieveKeyword)
	ci.Retrieve(ctx, "observable snippet", 3, RetrieveKeyword)

	ci.mu.Lock()
	defer ci.mu.Unlock()
	require.Len(t, ci.items, 1)
	assert.Equal(t, 2, ci.items[0].AccessCount)
	assert.False(t, ci.items[0].LastAccessed.IsZero())
}
