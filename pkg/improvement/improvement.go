// Package improvement implements heuristic response validation and
// feedback-driven pattern learning. Validation is keyword-based, not
// semantically grounded; treat its verdicts as hints, not ground truth.
package improvement

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/logging"
	"github.com/promptops/rlm-go/pkg/persist"
)

// Validation is the outcome of a heuristic response check.
type Validation struct {
	IsValid           bool     `json:"is_valid"`
	Confidence        float64  `json:"confidence"` // clamped to [0,1]
	Issues            []string `json:"issues,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
	HallucinationRisk bool     `json:"hallucination_risk"`
}

// FeedbackRecord is one logged piece of user feedback.
type FeedbackRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Feedback  string    `json:"feedback"`
	Rating    int       `json:"rating"` // 1-5
}

// PatternCount pairs a keyword pattern with its count.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// Trend summarizes quality movement across the rating series.
type Trend struct {
	Trend          string  `json:"trend"` // improving, declining, stable, no_data
	CurrentQuality float64 `json:"current_quality"`
	Improvement    float64 `json:"improvement"`
	TotalFeedbacks int     `json:"total_feedbacks"`
}

// Stats summarizes the learned patterns and quality trend.
type Stats struct {
	TotalFeedbacks  int            `json:"total_feedbacks"`
	MistakePatterns int            `json:"mistake_patterns"`
	SuccessPatterns int            `json:"success_patterns"`
	QualityTrend    Trend          `json:"quality_trend"`
	TopMistakes     []PatternCount `json:"top_mistakes"`
	TopSuccesses    []PatternCount `json:"top_successes"`
}

var hedgingPhrases = []string{
	"i think", "probably", "maybe", "might be",
	"i'm not sure", "could be", "possibly",
	"as far as i know", "to my knowledge",
	"i believe", "i assume",
}

var contradictionPairs = [][2]string{
	{"yes", "no"},
	{"true", "false"},
	{"always", "never"},
	{"all", "none"},
	{"correct", "incorrect"},
}

// Engine validates responses and learns from feedback ratings.
type Engine struct {
	mu       sync.Mutex
	path     string
	log      []FeedbackRecord
	mistakes map[string]int
	successes map[string]int
	quality  []float64 // normalized ratings, append-only
}

type snapshot struct {
	Log       []FeedbackRecord `json:"log"`
	Mistakes  map[string]int   `json:"mistakes"`
	Successes map[string]int   `json:"successes"`
	Quality   []float64        `json:"quality"`
}

// New creates an Engine, loading a prior snapshot when path names one.
func New(path string) *Engine {
	e := &Engine{
		path:      path,
		mistakes:  make(map[string]int),
		successes: make(map[string]int),
	}

	if path != "" {
		var snap snapshot
		if ok, err := persist.LoadJSON(path, &snap); err != nil {
			logging.GetLogger().Warn(context.Background(), "failed to load improvement snapshot: %v", err)
		} else if ok {
			e.log = snap.Log
			if snap.Mistakes != nil {
				e.mistakes = snap.Mistakes
			}
			if snap.Successes != nil {
				e.successes = snap.Successes
			}
			e.quality = snap.Quality
		}
	}

	return e
}

// Validate scores a response against the query and optional context. The
// confidence starts at 1.0 and each firing check subtracts a fixed penalty, so
// confidence is monotonically non-increasing in the number of issues.
func (e *Engine) Validate(query, response, contextText string) Validation {
	confidence := 1.0
	var issues, suggestions []string

	responseLower := strings.ToLower(response)
	hedges := 0
	for _, phrase := range hedgingPhrases {
		if strings.Contains(responseLower, phrase) {
			hedges++
		}
	}
	if hedges > 0 {
		issues = append(issues, fmt.Sprintf("uncertainty detected (%d indicators)", hedges))
		confidence -= 0.1 * float64(hedges)
		suggestions = append(suggestions, "provide more factual, confident responses")
	}

	if len(response) < 50 {
		issues = append(issues, "response too short")
		confidence -= 0.2
		suggestions = append(suggestions, "provide more detailed explanation")
	}

	queryTokens := core.TokenSet(query)
	responseTokens := core.TokenSet(response)
	overlap := 0
	for tok := range queryTokens {
		if _, ok := responseTokens[tok]; ok {
			overlap++
		}
	}
	if float64(overlap) < float64(len(queryTokens))*0.3 {
		issues = append(issues, "response may not address query")
		confidence -= 0.3
		suggestions = append(suggestions, "ensure response directly answers the question")
	}

	if hasContradiction(responseLower) {
		issues = append(issues, "potential contradiction detected")
		confidence -= 0.4
		suggestions = append(suggestions, "review response for consistency")
	}

	if contextText != "" && !strings.Contains(response, contextText) {
		issues = append(issues, "context not utilized")
		confidence -= 0.1
		suggestions = append(suggestions, "incorporate provided context")
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Validation{
		IsValid:           confidence >= 0.7,
		Confidence:        confidence,
		Issues:            issues,
		Suggestions:       suggestions,
		HallucinationRisk: hedges > 2,
	}
}

// hasContradiction reports whether both halves of any contradiction pair
// appear within 100 characters of each other.
func hasContradiction(lowered string) bool {
	for _, pair := range contradictionPairs {
		pos1 := strings.Index(lowered, pair[0])
		pos2 := strings.Index(lowered, pair[1])
		if pos1 < 0 || pos2 < 0 {
			continue
		}
		diff := pos1 - pos2
		if diff < 0 {
			diff = -diff
		}
		if diff < 100 {
			return true
		}
	}
	return false
}

// LearnFromFeedback logs the feedback, updates the success or mistake pattern
// counts when the rating crosses a threshold, and appends the normalized
// rating to the quality series.
func (e *Engine) LearnFromFeedback(query, response, feedback string, rating int) {
	rec := FeedbackRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Query:     query,
		Response:  response,
		Feedback:  feedback,
		Rating:    rating,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.log = append(e.log, rec)

	switch {
	case rating >= 4:
		for _, kw := range core.Keywords(query) {
			e.successes[kw]++
		}
	case rating <= 2:
		for _, kw := range core.Keywords(query) {
			e.mistakes[kw]++
		}
	}

	e.quality = append(e.quality, float64(rating)/5.0)
}

// Suggestions emits a caution note for query keywords with more than two past
// mistakes and a reinforcement note for those with more than three successes.
func (e *Engine) Suggestions(query string) []string {
	keywords := core.Keywords(query)

	e.mu.Lock()
	defer e.mu.Unlock()

	var out []string
	for _, kw := range keywords {
		if count := e.mistakes[kw]; count > 2 {
			out = append(out, fmt.Sprintf("be careful with %q - %d past issues", kw, count))
		}
	}
	for _, kw := range keywords {
		if count := e.successes[kw]; count > 3 {
			out = append(out, fmt.Sprintf("good track record with %q - continue approach", kw))
		}
	}
	return out
}

// QualityTrend compares the mean of the last ten ratings to the mean of the
// preceding ten. Delta beyond ±0.1 reads as improving or declining.
func (e *Engine) QualityTrend() Trend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.qualityTrendLocked()
}

func (e *Engine) qualityTrendLocked() Trend {
	if len(e.quality) == 0 {
		return Trend{Trend: "no_data"}
	}

	recent := e.quality
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	currentAvg := mean(recent)

	olderAvg := currentAvg
	if len(e.quality) > 10 {
		start := len(e.quality) - 20
		if start < 0 {
			start = 0
		}
		older := e.quality[start : len(e.quality)-10]
		if len(older) > 0 {
			olderAvg = mean(older)
		}
	}

	improvement := currentAvg - olderAvg
	trend := "stable"
	if improvement > 0.1 {
		trend = "improving"
	} else if improvement < -0.1 {
		trend = "declining"
	}

	return Trend{
		Trend:          trend,
		CurrentQuality: currentAvg,
		Improvement:    improvement,
		TotalFeedbacks: len(e.quality),
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Stats summarizes learned patterns and the quality trend.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		TotalFeedbacks:  len(e.log),
		MistakePatterns: len(e.mistakes),
		SuccessPatterns: len(e.successes),
		QualityTrend:    e.qualityTrendLocked(),
		TopMistakes:     topPatterns(e.mistakes, 5),
		TopSuccesses:    topPatterns(e.successes, 5),
	}
}

func topPatterns(m map[string]int, topK int) []PatternCount {
	out := make([]PatternCount, 0, len(m))
	for pattern, count := range m {
		out = append(out, PatternCount{Pattern: pattern, Count: count})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pattern < out[j].Pattern
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Save flushes the log, patterns, and quality series atomically to the
// snapshot path.
func (e *Engine) Save() error {
	if e.path == "" {
		return nil
	}

	e.mu.Lock()
	snap := snapshot{
		Log:       append([]FeedbackRecord(nil), e.log...),
		Mistakes:  make(map[string]int, len(e.mistakes)),
		Successes: make(map[string]int, len(e.successes)),
		Quality:   append([]float64(nil), e.quality...),
	}
	for k, v := range e.mistakes {
		snap.Mistakes[k] = v
	}
	for k, v := range e.successes {
		snap.Successes[k] = v
	}
	e.mu.Unlock()

	return persist.SaveJSON(e.path, snap)
}
