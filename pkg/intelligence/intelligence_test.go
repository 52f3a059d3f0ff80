package intelligence

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "coding", query: "write a function to parse JSON", want: "coding"},
		{name: "explanation", query: "explain goroutine scheduling", want: "explanation"},
		{name: "debugging", query: "there is an odd panic, please locate the bug", want: "debugging"},
		{name: "design", query: "propose an architecture for the service", want: "design"},
		{name: "testing", query: "verify the parser output", want: "testing"},
		{name: "general fallback", query: "hello there", want: "general"},
		{name: "first bucket wins", query: "explain this function", want: "coding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.query))
		})
	}
}

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "trivial", query: "hi", want: 1},
		{name: "question marks count", query: "why? how? when?", want: 3},
		{name: "complexity keyword", query: "give me a comprehensive answer", want: 1},
		{name: "clamped to ten", query: strings.Repeat("x", 300) + " complex advanced detailed comprehensive ????????", want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateComplexity(tt.query))
		})
	}
}

func TestTracker_Analyze_Defaults(t *testing.T) {
	tr := New("")

	tests := []struct {
		name        string
		query       string
		wantBackend string
	}{
		{name: "coding default", query: "implement a parser", wantBackend: "deepseek"},
		{name: "explanation default", query: "explain this concept", wantBackend: "anthropic"},
		{name: "debugging default", query: "there is a strange bug somewhere", wantBackend: "openai"},
		{name: "general default", query: "hello", wantBackend: "openai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tr.Analyze(tt.query)
			assert.Equal(t, tt.wantBackend, a.RecommendedBackend)
		})
	}
}

func TestTracker_Analyze_PrefersHistoricalBackend(t *testing.T) {
	tr := New("")
	tr.Record("implement a parser", "deepseek", "ds-1", 100, time.Second, true)
	tr.Record("implement a lexer", "anthropic", "c-1", 100, time.Second, true)
	tr.Record("implement a formatter", "anthropic", "c-1", 100, time.Second, true)

	a := tr.Analyze("implement a compiler")
	assert.Equal(t, "anthropic", a.RecommendedBackend, "most-used backend overrides the category default")
}

func TestTracker_Analyze_Flags(t *testing.T) {
	tr := New("")

	simple := tr.Analyze("short question")
	assert.True(t, simple.ShouldCache, "low complexity caches")
	assert.False(t, simple.ShouldCompress)

	long := tr.Analyze(strings.Repeat("elaborate detailed comprehensive analysis ", 10))
	assert.False(t, long.ShouldCache)
	assert.True(t, long.ShouldCompress, "prompts over 200 chars compress")
}

func TestTracker_PeakHours(t *testing.T) {
	tr := New("")
	assert.Nil(t, tr.PeakHours(), "no data means no peaks")

	tr.mu.Lock()
	tr.hours = map[int]int{9: 10, 10: 1, 11: 1}
	tr.mu.Unlock()

	assert.Equal(t, []int{9}, tr.PeakHours(), "only hours above the mean are peaks")
}

func TestTracker_Stats(t *testing.T) {
	tr := New("")
	tr.Record("implement feature", "openai", "gpt-4o-mini", 100, 2*time.Second, true)
	tr.Record("implement another feature", "openai", "gpt-4o-mini", 200, 4*time.Second, false)

	stats := tr.Stats()
	assert.Equal(t, 2, stats.PerformanceRecords)
	assert.Equal(t, "openai", stats.PreferredBackend)
	assert.InDelta(t, 150.0, stats.AvgTokensPerQuery, 0.001)
	assert.Equal(t, 3*time.Second, stats.AvgResponseTime)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 2, stats.CategoryUsage["coding"])
}

func TestTracker_PerformanceHistoryBounded(t *testing.T) {
	tr := New("")
	for i := 0; i < maxPerformanceHistory+50; i++ {
		tr.Record("q", "openai", "m", 1, 0, true)
	}
	assert.Equal(t, maxPerformanceHistory, tr.Stats().PerformanceRecords)
}

func TestTracker_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	tr := New(path)
	tr.Record("implement persistence", "anthropic", "c-1", 120, time.Second, true)
	require.NoError(t, tr.Save())

	reloaded := New(path)
	stats := reloaded.Stats()
	assert.Equal(t, "anthropic", stats.PreferredBackend)
	assert.Equal(t, 1, stats.PerformanceRecords)
	assert.Positive(t, stats.UniqueKeywords)
}
