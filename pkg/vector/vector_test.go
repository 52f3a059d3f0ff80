package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/rlm-go/pkg/errors"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "mismatched dims", a: []float32{1, 0}, b: []float32{1, 0, 0}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "same text")
	require.NoError(t, err)
	a2, err := e.Embed(ctx, "same text")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "different text")
	require.NoError(t, err)

	assert.Equal(t, a1, a2, "equal texts embed identically")
	assert.NotEqual(t, a1, b)
	assert.Len(t, a1, 64)
	assert.InDelta(t, 1.0, Cosine(a1, a2), 1e-6)

	assert.Equal(t, 384, NewHashEmbedder(0).Dimensions(), "default dimension count")
}

func TestIndex_DegradedModeWithoutEmbedder(t *testing.T) {
	idx := New(nil, "")
	ctx := context.Background()

	assert.False(t, idx.Enabled())

	err := idx.Add(ctx, "id", "text", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CapabilityUnavailable, errors.CodeOf(err))

	assert.Nil(t, idx.Search(ctx, "text", 3, 0.5, nil))
	assert.False(t, idx.Stats().EmbeddingsEnabled)
}

func TestIndex_SearchThresholdAndTopK(t *testing.T) {
	idx := New(NewHashEmbedder(64), "")
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "exact", "deploy service to kubernetes", nil))
	require.NoError(t, idx.Add(ctx, "other", "completely unrelated cooking recipe", nil))

	// The exact text embeds identically, so its score is 1.0 and passes any
	// threshold; hash embeddings make no semantic promise for the other entry.
	matches := idx.Search(ctx, "deploy service to kubernetes", 3, 0.99, nil)
	require.NotEmpty(t, matches)
	assert.Equal(t, "exact", matches[0].Entry.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)

	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.99)
	}

	one := idx.Search(ctx, "deploy service to kubernetes", 1, -1, nil)
	assert.Len(t, one, 1, "topK caps the result count")
}

func TestIndex_SearchMetadataFilter(t *testing.T) {
	idx := New(NewHashEmbedder(64), "")
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "a", "shared text", map[string]string{"category": "x"}))
	require.NoError(t, idx.Add(ctx, "b", "shared text", map[string]string{"category": "y"}))

	matches := idx.Search(ctx, "shared text", 5, 0.5, map[string]string{"category": "x"})
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Entry.ID)
}

func TestIndex_SearchUpdatesAccessStats(t *testing.T) {
	idx := New(NewHashEmbedder(64), "")
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "id", "some text", nil))

	idx.Search(ctx, "some text", 3, 0.5, nil)
	idx.Search(ctx, "some text", 3, 0.5, nil)

	stats := idx.Stats()
	assert.Equal(t, 2, stats.TotalAccesses)
}

func TestIndex_Delete(t *testing.T) {
	idx := New(NewHashEmbedder(64), "")
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "id", "text", nil))
	assert.True(t, idx.Delete("id"))
	assert.False(t, idx.Delete("id"))
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.json")
	ctx := context.Background()

	idx := New(NewHashEmbedder(64), path)
	require.NoError(t, idx.Add(ctx, "persisted", "stored text", map[string]string{"k": "v"}))
	require.NoError(t, idx.Save())

	reloaded := New(NewHashEmbedder(64), path)
	assert.Equal(t, 1, reloaded.Len())

	matches := reloaded.Search(ctx, "stored text", 3, 0.99, nil)
	require.Len(t, matches, 1)
	assert.Equal(t, "persisted", matches[0].Entry.ID)
	assert.Equal(t, "v", matches[0].Entry.Metadata["k"])
}
