// Package intelligence learns from usage: it classifies queries, estimates
// complexity, and recommends a backend from historical usage aggregates.
package intelligence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/logging"
	"github.com/promptops/rlm-go/pkg/persist"
)

// Analysis is the per-query recommendation bundle.
type Analysis struct {
	Category           string          `json:"category"`
	Complexity         int             `json:"complexity"` // 1-10
	RecommendedBackend string          `json:"recommended_backend"`
	SimilarPatterns    []KeywordCount  `json:"similar_patterns,omitempty"`
	Keywords           []string        `json:"keywords,omitempty"`
	ShouldCache        bool            `json:"should_cache"`
	ShouldCompress     bool            `json:"should_compress"`
}

// KeywordCount pairs a keyword with its historical count.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// PerformanceRecord is one recorded generation outcome.
type PerformanceRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	Category     string        `json:"category"`
	Backend      string        `json:"backend"`
	Model        string        `json:"model"`
	TokensUsed   int           `json:"tokens_used"`
	ResponseTime time.Duration `json:"response_time"`
	Success      bool          `json:"success"`
}

// Stats summarizes the learned usage aggregates.
type Stats struct {
	TotalQueries       int            `json:"total_queries"`
	UniqueKeywords     int            `json:"unique_keywords"`
	PopularKeywords    []KeywordCount `json:"popular_keywords"`
	PeakHours          []int          `json:"peak_hours"`
	PreferredBackend   string         `json:"preferred_backend"`
	BackendUsage       map[string]int `json:"backend_usage"`
	CategoryUsage      map[string]int `json:"category_usage"`
	AvgTokensPerQuery  float64        `json:"avg_tokens_per_query"`
	AvgResponseTime    time.Duration  `json:"avg_response_time"`
	SuccessRate        float64        `json:"success_rate"` // percentage
	PerformanceRecords int            `json:"performance_records"`
}

const maxPerformanceHistory = 1000

var categoryBuckets = []struct {
	name     string
	keywords []string
}{
	{"coding", []string{"code", "function", "class", "api", "implement"}},
	{"explanation", []string{"explain", "what", "how", "why"}},
	{"debugging", []string{"fix", "error", "bug", "issue"}},
	{"design", []string{"design", "architecture", "structure"}},
	{"testing", []string{"test", "verify", "check"}},
}

var defaultBackends = map[string]string{
	"coding":      "deepseek",
	"explanation": "anthropic",
	"debugging":   "openai",
	"design":      "anthropic",
	"testing":     "openai",
	"general":     "openai",
}

var complexityKeywords = []string{"complex", "advanced", "detailed", "comprehensive"}

// Tracker accumulates usage aggregates and answers analysis queries.
type Tracker struct {
	mu          sync.Mutex
	path        string
	keywords    map[string]int
	hours       map[int]int // hour of day -> count
	backends    map[string]int
	models      map[string]int
	categories  map[string]int
	performance []PerformanceRecord
}

type snapshot struct {
	Keywords    map[string]int      `json:"keywords"`
	Hours       map[int]int         `json:"hours"`
	Backends    map[string]int      `json:"backends"`
	Models      map[string]int      `json:"models"`
	Categories  map[string]int      `json:"categories"`
	Performance []PerformanceRecord `json:"performance"`
}

// New creates a Tracker, loading a prior snapshot when path names one.
func New(path string) *Tracker {
	t := &Tracker{
		path:       path,
		keywords:   make(map[string]int),
		hours:      make(map[int]int),
		backends:   make(map[string]int),
		models:     make(map[string]int),
		categories: make(map[string]int),
	}

	if path != "" {
		var snap snapshot
		if ok, err := persist.LoadJSON(path, &snap); err != nil {
			logging.GetLogger().Warn(context.Background(), "failed to load usage snapshot: %v", err)
		} else if ok {
			if snap.Keywords != nil {
				t.keywords = snap.Keywords
			}
			if snap.Hours != nil {
				t.hours = snap.Hours
			}
			if snap.Backends != nil {
				t.backends = snap.Backends
			}
			if snap.Models != nil {
				t.models = snap.Models
			}
			if snap.Categories != nil {
				t.categories = snap.Categories
			}
			t.performance = snap.Performance
		}
	}

	return t
}

// Categorize returns the first matching keyword bucket, else "general".
func Categorize(query string) string {
	lowered := strings.ToLower(query)
	for _, bucket := range categoryBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(lowered, kw) {
				return bucket.name
			}
		}
	}
	return "general"
}

// EstimateComplexity scores a query 1-10 from length, question marks, and
// complexity keywords.
func EstimateComplexity(query string) int {
	lengthScore := len(query) / 50
	if lengthScore > 5 {
		lengthScore = 5
	}
	score := lengthScore + strings.Count(query, "?")

	lowered := strings.ToLower(query)
	for _, kw := range complexityKeywords {
		if strings.Contains(lowered, kw) {
			score++
		}
	}

	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// Analyze derives category, complexity, a backend recommendation, and
// cache/compress flags for a query.
func (t *Tracker) Analyze(query string) Analysis {
	keywords := core.Keywords(query)
	category := Categorize(query)
	complexity := EstimateComplexity(query)

	t.mu.Lock()
	var similar []KeywordCount
	for _, kw := range keywords {
		if count, ok := t.keywords[kw]; ok {
			similar = append(similar, KeywordCount{Keyword: kw, Count: count})
		}
	}
	preferred := t.preferredBackendLocked()
	t.mu.Unlock()

	if len(similar) > 3 {
		similar = similar[:3]
	}
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}

	backend := preferred
	if backend == "" {
		backend = defaultBackends[category]
	}

	return Analysis{
		Category:           category,
		Complexity:         complexity,
		RecommendedBackend: backend,
		SimilarPatterns:    similar,
		Keywords:           keywords,
		ShouldCache:        complexity < 5,
		ShouldCompress:     len(query) > 200,
	}
}

// Record updates the usage aggregates with one generation outcome.
func (t *Tracker) Record(query, backend, model string, tokensUsed int, responseTime time.Duration, success bool) {
	category := Categorize(query)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, kw := range core.Keywords(query) {
		t.keywords[kw]++
	}
	t.hours[time.Now().Hour()]++
	if backend != "" {
		t.backends[backend]++
	}
	if model != "" {
		t.models[model]++
	}
	t.categories[category]++

	t.performance = append(t.performance, PerformanceRecord{
		Timestamp:    time.Now(),
		Category:     category,
		Backend:      backend,
		Model:        model,
		TokensUsed:   tokensUsed,
		ResponseTime: responseTime,
		Success:      success,
	})
	if len(t.performance) > maxPerformanceHistory {
		t.performance = t.performance[len(t.performance)-maxPerformanceHistory:]
	}
}

func (t *Tracker) preferredBackendLocked() string {
	best, bestCount := "", 0
	for backend, count := range t.backends {
		if count > bestCount || (count == bestCount && backend < best) {
			best, bestCount = backend, count
		}
	}
	return best
}

// PreferredBackend returns the most-used backend, or empty when nothing has
// been recorded.
func (t *Tracker) PreferredBackend() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.preferredBackendLocked()
}

// PeakHours returns the hours whose usage count exceeds the mean across all
// tracked hours, ascending.
func (t *Tracker) PeakHours() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHoursLocked()
}

func (t *Tracker) peakHoursLocked() []int {
	if len(t.hours) == 0 {
		return nil
	}

	total := 0
	for _, count := range t.hours {
		total += count
	}
	mean := float64(total) / float64(len(t.hours))

	var peaks []int
	for hour, count := range t.hours {
		if float64(count) > mean {
			peaks = append(peaks, hour)
		}
	}
	sort.Ints(peaks)
	return peaks
}

// PopularKeywords returns the top-k keywords by count.
func (t *Tracker) PopularKeywords(topK int) []KeywordCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.popularKeywordsLocked(topK)
}

func (t *Tracker) popularKeywordsLocked(topK int) []KeywordCount {
	out := make([]KeywordCount, 0, len(t.keywords))
	for kw, count := range t.keywords {
		out = append(out, KeywordCount{Keyword: kw, Count: count})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Stats summarizes everything the tracker has learned.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, count := range t.keywords {
		total += count
	}

	stats := Stats{
		TotalQueries:       total,
		UniqueKeywords:     len(t.keywords),
		PopularKeywords:    t.popularKeywordsLocked(5),
		PeakHours:          t.peakHoursLocked(),
		PreferredBackend:   t.preferredBackendLocked(),
		BackendUsage:       make(map[string]int, len(t.backends)),
		CategoryUsage:      make(map[string]int, len(t.categories)),
		PerformanceRecords: len(t.performance),
	}
	for k, v := range t.backends {
		stats.BackendUsage[k] = v
	}
	for k, v := range t.categories {
		stats.CategoryUsage[k] = v
	}

	if len(t.performance) > 0 {
		var tokens int
		var elapsed time.Duration
		var successes int
		for _, rec := range t.performance {
			tokens += rec.TokensUsed
			elapsed += rec.ResponseTime
			if rec.Success {
				successes++
			}
		}
		n := len(t.performance)
		stats.AvgTokensPerQuery = float64(tokens) / float64(n)
		stats.AvgResponseTime = elapsed / time.Duration(n)
		stats.SuccessRate = float64(successes) / float64(n) * 100
	}

	return stats
}

// Save flushes the aggregates atomically to the snapshot path.
func (t *Tracker) Save() error {
	if t.path == "" {
		return nil
	}

	t.mu.Lock()
	snap := snapshot{
		Keywords:    copyCounts(t.keywords),
		Hours:       copyIntCounts(t.hours),
		Backends:    copyCounts(t.backends),
		Models:      copyCounts(t.models),
		Categories:  copyCounts(t.categories),
		Performance: append([]PerformanceRecord(nil), t.performance...),
	}
	t.mu.Unlock()

	return persist.SaveJSON(t.path, snap)
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIntCounts(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
