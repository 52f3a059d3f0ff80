package optimize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// RewriteResult bundles the output of one advanced rewriting pass.
type RewriteResult struct {
	OriginalPrompt  string   `json:"original_prompt"`
	OptimizedPrompt string   `json:"optimized_prompt"`
	Context         string   `json:"context"`
	OriginalLength  int      `json:"original_length"`
	OptimizedLength int      `json:"optimized_length"`
	SavingsPercent  float64  `json:"savings_percent"`
	StrategiesUsed  []string `json:"strategies_used"`
	TokensSaved     int      `json:"tokens_saved"` // chars/4 estimate
}

// RewriterStats summarizes the rewriter history.
type RewriterStats struct {
	TotalOptimizations int             `json:"total_optimizations"`
	AvgSavingsPercent  float64         `json:"avg_savings_percent"`
	Recent             []rewriteRecord `json:"recent,omitempty"`
}

type rewriteRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	SavingsPercent float64   `json:"savings_percent"`
	Strategies     []string  `json:"strategies"`
}

const maxRewriteHistory = 100

type phraseRule struct {
	re          *regexp.Regexp
	replacement string
}

var redundancyRules = []phraseRule{
	{regexp.MustCompile(`(?i)\b(please|kindly)\s+`), ""},
	{regexp.MustCompile(`(?i)\b(could you|can you|would you)\s+`), ""},
	{regexp.MustCompile(`(?i)\b(I would like to|I want to)\s+`), ""},
	{regexp.MustCompile(`(?i)\b(in order to)\s+`), "to "},
	{regexp.MustCompile(`(?i)\b(due to the fact that)\s+`), "because "},
	{regexp.MustCompile(`(?i)\b(at this point in time)\s+`), "now "},
}

var verboseRules = []phraseRule{
	{regexp.MustCompile(`(?i)\b(a large number of)\b`), "many"},
	{regexp.MustCompile(`(?i)\b(a majority of)\b`), "most"},
	{regexp.MustCompile(`(?i)\b(a small number of)\b`), "few"},
	{regexp.MustCompile(`(?i)\b(at the present time)\b`), "now"},
	{regexp.MustCompile(`(?i)\b(in the event that)\b`), "if"},
	{regexp.MustCompile(`(?i)\b(in spite of the fact that)\b`), "although"},
	{regexp.MustCompile(`(?i)\b(on the occasion of)\b`), "when"},
	{regexp.MustCompile(`(?i)\b(with regard to)\b`), "about"},
	{regexp.MustCompile(`(?i)\b(for the purpose of)\b`), "to"},
	{regexp.MustCompile(`(?i)\b(in the near future)\b`), "soon"},
	{regexp.MustCompile(`(?i)\b(prior to)\b`), "before"},
	{regexp.MustCompile(`(?i)\b(subsequent to)\b`), "after"},
	{regexp.MustCompile(`(?i)\b(in the process of)\b`), "during"},
	{regexp.MustCompile(`(?i)\b(make a decision)\b`), "decide"},
	{regexp.MustCompile(`(?i)\b(come to a conclusion)\b`), "conclude"},
	{regexp.MustCompile(`(?i)\b(give consideration to)\b`), "consider"},
}

var fillerWords = map[string]struct{}{
	"actually": {}, "basically": {}, "literally": {}, "really": {},
	"very": {}, "quite": {}, "rather": {}, "somewhat": {},
}

// Rewriter is the advanced prompt rewriting stage: redundancy removal,
// verbose-phrase compression, context relevance re-ranking, and filler
// removal, plus learned substitutions carried across calls.
type Rewriter struct {
	mu       sync.Mutex
	history  []rewriteRecord
	patterns map[string]string // learned literal substitutions
}

// NewRewriter returns an empty Rewriter.
func NewRewriter() *Rewriter {
	return &Rewriter{patterns: make(map[string]string)}
}

// Rewrite runs all rewriting strategies over the prompt and re-ranks the
// context down to its most query-relevant lines.
func (r *Rewriter) Rewrite(prompt, contextText string) RewriteResult {
	originalLength := len(prompt)
	optimized := prompt
	var strategies []string

	optimized, removed := removeRedundancy(optimized)
	if removed > 0 {
		strategies = append(strategies, fmt.Sprintf("redundancy_removal:%d", removed))
	}

	optimized, compressed := compressVerbose(optimized)
	if compressed > 0 {
		strategies = append(strategies, fmt.Sprintf("verbose_compression:%d", compressed))
	}

	if contextText != "" {
		contextText = rankContextLines(optimized, contextText)
		strategies = append(strategies, "smart_context_merge")
	}

	optimized = removeFillers(optimized)
	strategies = append(strategies, "clarity_rewrite")

	optimized = r.applyLearned(optimized)
	strategies = append(strategies, "learned_patterns")

	savings := 0.0
	if originalLength > 0 {
		savings = float64(originalLength-len(optimized)) / float64(originalLength) * 100
	}

	result := RewriteResult{
		OriginalPrompt:  prompt,
		OptimizedPrompt: optimized,
		Context:         contextText,
		OriginalLength:  originalLength,
		OptimizedLength: len(optimized),
		SavingsPercent:  savings,
		StrategiesUsed:  strategies,
		TokensSaved:     (originalLength - len(optimized)) / 4,
	}

	r.mu.Lock()
	r.history = append(r.history, rewriteRecord{
		Timestamp:      time.Now(),
		SavingsPercent: savings,
		Strategies:     strategies,
	})
	if len(r.history) > maxRewriteHistory {
		r.history = r.history[len(r.history)-maxRewriteHistory:]
	}
	r.mu.Unlock()

	return result
}

// removeRedundancy drops repeated words (keeping short ones) and strips the
// redundant phrase table. Returns the text and the character count removed.
func removeRedundancy(text string) (string, int) {
	originalLength := len(text)

	words := strings.Fields(text)
	seen := make(map[string]struct{}, len(words))
	filtered := words[:0]
	for _, word := range words {
		lower := strings.ToLower(word)
		if _, dup := seen[lower]; !dup || len(word) <= 3 {
			filtered = append(filtered, word)
			seen[lower] = struct{}{}
		}
	}
	text = strings.Join(filtered, " ")

	for _, rule := range redundancyRules {
		text = rule.re.ReplaceAllString(text, rule.replacement)
	}

	return text, originalLength - len(text)
}

// compressVerbose applies the verbose-to-concise phrase table.
func compressVerbose(text string) (string, int) {
	originalLength := len(text)
	for _, rule := range verboseRules {
		text = rule.re.ReplaceAllString(text, rule.replacement)
	}
	return text, originalLength - len(text)
}

// rankContextLines keeps the three context lines sharing the most words with
// the prompt, most relevant first.
func rankContextLines(prompt, contextText string) string {
	promptWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		promptWords[w] = struct{}{}
	}

	type scoredLine struct {
		score int
		line  string
	}
	var scored []scoredLine
	for _, line := range strings.Split(contextText, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		relevance := 0
		for _, w := range strings.Fields(strings.ToLower(line)) {
			if _, ok := promptWords[w]; ok {
				relevance++
			}
		}
		if relevance > 0 {
			scored = append(scored, scoredLine{score: relevance, line: line})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > 3 {
		scored = scored[:3]
	}

	lines := make([]string, len(scored))
	for i, s := range scored {
		lines[i] = s.line
	}
	return strings.Join(lines, "\n")
}

func removeFillers(text string) string {
	words := strings.Fields(text)
	filtered := words[:0]
	for _, word := range words {
		if _, filler := fillerWords[strings.ToLower(word)]; !filler {
			filtered = append(filtered, word)
		}
	}
	return strings.TrimSpace(strings.Join(filtered, " "))
}

func (r *Rewriter) applyLearned(text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	lowered := strings.ToLower(text)
	for pattern, replacement := range r.patterns {
		if strings.Contains(lowered, pattern) {
			text = strings.ReplaceAll(text, pattern, replacement)
		}
	}
	return text
}

// LearnPattern registers a literal substitution applied on future rewrites.
func (r *Rewriter) LearnPattern(pattern, replacement string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns[strings.ToLower(pattern)] = replacement
}

// Stats summarizes the rewrite history.
func (r *Rewriter) Stats() RewriterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RewriterStats{TotalOptimizations: len(r.history)}
	if len(r.history) == 0 {
		return stats
	}

	var sum float64
	for _, rec := range r.history {
		sum += rec.SavingsPercent
	}
	stats.AvgSavingsPercent = sum / float64(len(r.history))

	recent := r.history
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	stats.Recent = append([]rewriteRecord(nil), recent...)
	return stats
}
