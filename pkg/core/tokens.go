package core

import (
	"strings"

	"golang.org/x/text/cases"
)

// TokenEstimator approximates token counts from text. Counts are estimates,
// not tokenizer output; substitute an exact tokenizer without touching the
// pipeline by implementing this interface.
type TokenEstimator interface {
	Estimate(text string) int
}

// WordEstimator estimates tokens from whitespace-separated words. The default
// ratio of 1.3 tokens per word tracks common subword tokenizers closely enough
// for savings accounting.
type WordEstimator struct {
	Ratio float64
}

// NewWordEstimator returns a WordEstimator with the default 1.3 ratio.
func NewWordEstimator() WordEstimator {
	return WordEstimator{Ratio: 1.3}
}

func (e WordEstimator) Estimate(text string) int {
	ratio := e.Ratio
	if ratio <= 0 {
		ratio = 1.3
	}
	return int(float64(len(strings.Fields(text))) * ratio)
}

// CharEstimator is the fast path: one token per four characters.
type CharEstimator struct{}

func (CharEstimator) Estimate(text string) int {
	return len(text) / 4
}

var foldCaser = cases.Fold()

// Normalize trims and case-folds text so hashing and overlap scoring agree on
// non-ASCII input.
func Normalize(text string) string {
	return foldCaser.String(strings.TrimSpace(text))
}

// Tokenize splits normalized text into lowercase tokens.
func Tokenize(text string) []string {
	return strings.Fields(Normalize(text))
}

// TokenSet returns the set of normalized tokens in text.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {},
}

const maxKeywords = 10

// Keywords extracts up to ten significant tokens: longer than three runes and
// not a stopword.
func Keywords(text string) []string {
	var out []string
	for _, tok := range Tokenize(text) {
		if len([]rune(tok)) <= 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
