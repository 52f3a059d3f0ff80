// Package optimize implements the prompt optimization stages: rule-based
// compression with adaptive strategy selection, advanced prompt rewriting,
// transient context retrieval, and the base optimizer with its cache-backed
// regression guard.
package optimize

import (
	"regexp"
	"strings"
	"sync"
)

// Strategy names a compression level.
type Strategy string

const (
	StrategyMinimal    Strategy = "minimal"
	StrategySmart      Strategy = "smart"
	StrategyAggressive Strategy = "aggressive"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	politenessRe = regexp.MustCompile(`(?i)\b(please|kindly|could you)\b`)
	articlesRe   = regexp.MustCompile(`(?i)\b(a|an|the)\b`)
	punctRe      = regexp.MustCompile(`[,;:]`)
)

// Compress applies the named strategy: minimal collapses whitespace, smart
// additionally strips politeness phrases, aggressive additionally strips
// articles and soft punctuation. Unknown strategies fall back to minimal.
func Compress(text string, strategy Strategy) string {
	switch strategy {
	case StrategyAggressive:
		text = whitespaceRe.ReplaceAllString(text, " ")
		text = articlesRe.ReplaceAllString(text, "")
		text = politenessRe.ReplaceAllString(text, "")
		text = punctRe.ReplaceAllString(text, "")
	case StrategySmart:
		text = whitespaceRe.ReplaceAllString(text, " ")
		text = politenessRe.ReplaceAllString(text, "")
	default:
		text = whitespaceRe.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(text)
}

// StrategyStats reports one strategy's historical performance.
type StrategyStats struct {
	Uses       int     `json:"uses"`
	AvgSavings float64 `json:"avg_savings"` // percentage, (1 - avg ratio) * 100
}

// AdaptiveCompressor picks a strategy per text from its characteristics and
// the best historical compression ratio.
type AdaptiveCompressor struct {
	mu     sync.Mutex
	ratios map[Strategy][]float64
}

// NewAdaptiveCompressor returns an AdaptiveCompressor with empty history.
func NewAdaptiveCompressor() *AdaptiveCompressor {
	return &AdaptiveCompressor{
		ratios: map[Strategy][]float64{
			StrategyMinimal:    nil,
			StrategySmart:      nil,
			StrategyAggressive: nil,
		},
	}
}

// Compress chooses a strategy, applies it, and records the achieved
// compression ratio. Short or lexically complex text is preserved with
// minimal compression; long text is compressed aggressively; otherwise the
// historically best-performing strategy wins.
func (c *AdaptiveCompressor) Compress(text string) (string, Strategy) {
	var strategy Strategy
	switch {
	case len(text) < 100:
		strategy = StrategyMinimal
	case lexicalComplexity(text) > 0.7:
		strategy = StrategyMinimal
	case len(text) > 500:
		strategy = StrategyAggressive
	default:
		strategy = c.bestStrategy()
	}

	compressed := Compress(text, strategy)

	ratio := 1.0
	if len(text) > 0 {
		ratio = float64(len(compressed)) / float64(len(text))
	}
	c.mu.Lock()
	c.ratios[strategy] = append(c.ratios[strategy], ratio)
	c.mu.Unlock()

	return compressed, strategy
}

// lexicalComplexity is the unique/total word ratio, 0 for empty text.
func lexicalComplexity(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	return float64(len(unique)) / float64(len(words))
}

// bestStrategy returns the strategy with the lowest mean historical ratio, or
// smart when no history exists.
func (c *AdaptiveCompressor) bestStrategy() Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()

	best := StrategySmart
	bestAvg := 2.0 // above any possible ratio
	any := false
	for _, strategy := range []Strategy{StrategyMinimal, StrategySmart, StrategyAggressive} {
		ratios := c.ratios[strategy]
		if len(ratios) == 0 {
			continue
		}
		var sum float64
		for _, r := range ratios {
			sum += r
		}
		avg := sum / float64(len(ratios))
		if avg < bestAvg {
			best, bestAvg = strategy, avg
			any = true
		}
	}
	if !any {
		return StrategySmart
	}
	return best
}

// Stats reports per-strategy usage counts and average savings.
func (c *AdaptiveCompressor) Stats() map[Strategy]StrategyStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Strategy]StrategyStats, len(c.ratios))
	for _, strategy := range []Strategy{StrategyMinimal, StrategySmart, StrategyAggressive} {
		ratios := c.ratios[strategy]
		stats := StrategyStats{Uses: len(ratios)}
		if len(ratios) > 0 {
			var sum float64
			for _, r := range ratios {
				sum += r
			}
			stats.AvgSavings = (1 - sum/float64(len(ratios))) * 100
		}
		out[strategy] = stats
	}
	return out
}
