package optimize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/logging"
	"github.com/promptops/rlm-go/pkg/vector"
)

// RetrievalStrategy names a context ranking mode.
type RetrievalStrategy string

const (
	RetrieveKeyword   RetrievalStrategy = "keyword"
	RetrieveSemantic  RetrievalStrategy = "semantic"
	RetrieveHybrid    RetrievalStrategy = "hybrid"
	RetrieveFrequency RetrievalStrategy = "frequency"
	RetrieveRecent    RetrievalStrategy = "recent"
)

const defaultMaxContextLength = 2000

// ContextItem is one transient retrievable snippet.
type ContextItem struct {
	Key          string
	Content      string
	Metadata     map[string]string
	AddedAt      time.Time
	AccessCount  int
	LastAccessed time.Time
	embedding    []float32
}

// ContextIndex holds transient context snippets and retrieves the most
// relevant ones per query. Semantic and hybrid ranking need an embedder;
// without one they degrade to keyword ranking.
type ContextIndex struct {
	mu        sync.Mutex
	embedder  core.Embedder
	items     []*ContextItem
	maxLength int
}

// NewContextIndex returns a ContextIndex. A nil embedder disables semantic
// scoring; maxLength <= 0 uses the 2000-character default.
func NewContextIndex(embedder core.Embedder, maxLength int) *ContextIndex {
	if maxLength <= 0 {
		maxLength = defaultMaxContextLength
	}
	return &ContextIndex{embedder: embedder, maxLength: maxLength}
}

// Add appends a snippet, embedding it when the capability is available.
func (ci *ContextIndex) Add(ctx context.Context, key, content string, metadata map[string]string) {
	item := &ContextItem{
		Key:      key,
		Content:  content,
		Metadata: metadata,
		AddedAt:  time.Now(),
	}

	if ci.embedder != nil {
		vec, err := ci.embedder.Embed(ctx, content)
		if err != nil {
			logging.GetLogger().Warn(ctx, "context embed failed for %q: %v", key, err)
		} else {
			item.embedding = vec
		}
	}

	ci.mu.Lock()
	ci.items = append(ci.items, item)
	ci.mu.Unlock()
}

// Len returns the number of stored snippets.
func (ci *ContextIndex) Len() int {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return len(ci.items)
}

// Retrieve ranks snippets by the given strategy and renders the top-k as
// tagged context text, truncated to the index's maximum length. Every
// rendered item's access stats are updated.
func (ci *ContextIndex) Retrieve(ctx context.Context, query string, topK int, strategy RetrievalStrategy) string {
	if topK <= 0 {
		topK = 3
	}

	ci.mu.Lock()
	defer ci.mu.Unlock()

	if len(ci.items) == 0 {
		return ""
	}

	var ranked []*ContextItem
	switch {
	case strategy == RetrieveSemantic && ci.embedder != nil:
		ranked = ci.rankSemanticLocked(ctx, query)
	case strategy == RetrieveHybrid && ci.embedder != nil:
		ranked = ci.rankHybridLocked(ctx, query)
	case strategy == RetrieveFrequency:
		ranked = ci.rankByLocked(func(a, b *ContextItem) bool {
			return a.AccessCount > b.AccessCount
		})
	case strategy == RetrieveRecent:
		ranked = ci.rankByLocked(func(a, b *ContextItem) bool {
			return lastTouch(a).After(lastTouch(b))
		})
	default:
		// keyword is also the degraded fallback for semantic/hybrid
		ranked = ci.rankKeywordLocked(query)
	}

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ci.renderLocked(ranked)
}

func lastTouch(item *ContextItem) time.Time {
	if !item.LastAccessed.IsZero() {
		return item.LastAccessed
	}
	return item.AddedAt
}

func (ci *ContextIndex) rankKeywordLocked(query string) []*ContextItem {
	queryWords := wordSet(query)

	type scored struct {
		score int
		item  *ContextItem
	}
	var matches []scored
	for _, item := range ci.items {
		score := overlapCount(queryWords, wordSet(item.Content))
		if score > 0 {
			matches = append(matches, scored{score: score, item: item})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	out := make([]*ContextItem, len(matches))
	for i, m := range matches {
		out[i] = m.item
	}
	return out
}

func (ci *ContextIndex) rankSemanticLocked(ctx context.Context, query string) []*ContextItem {
	queryVec, err := ci.embedder.Embed(ctx, query)
	if err != nil {
		logging.GetLogger().Warn(ctx, "semantic retrieval falling back to keyword: %v", err)
		return ci.rankKeywordLocked(query)
	}

	type scored struct {
		score float64
		item  *ContextItem
	}
	var matches []scored
	for _, item := range ci.items {
		if item.embedding == nil {
			continue
		}
		matches = append(matches, scored{
			score: vector.Cosine(queryVec, item.embedding),
			item:  item,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	out := make([]*ContextItem, len(matches))
	for i, m := range matches {
		out[i] = m.item
	}
	return out
}

// rankHybridLocked weights normalized keyword overlap at 0.4 and cosine
// similarity at 0.6.
func (ci *ContextIndex) rankHybridLocked(ctx context.Context, query string) []*ContextItem {
	queryVec, err := ci.embedder.Embed(ctx, query)
	if err != nil {
		logging.GetLogger().Warn(ctx, "hybrid retrieval falling back to keyword: %v", err)
		return ci.rankKeywordLocked(query)
	}
	queryWords := wordSet(query)
	denom := len(queryWords)
	if denom < 1 {
		denom = 1
	}

	type scored struct {
		score float64
		item  *ContextItem
	}
	matches := make([]scored, 0, len(ci.items))
	for _, item := range ci.items {
		keywordScore := float64(overlapCount(queryWords, wordSet(item.Content))) / float64(denom)
		semanticScore := 0.0
		if item.embedding != nil {
			semanticScore = vector.Cosine(queryVec, item.embedding)
		}
		matches = append(matches, scored{
			score: 0.4*keywordScore + 0.6*semanticScore,
			item:  item,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	out := make([]*ContextItem, len(matches))
	for i, m := range matches {
		out[i] = m.item
	}
	return out
}

func (ci *ContextIndex) rankByLocked(less func(a, b *ContextItem) bool) []*ContextItem {
	out := append([]*ContextItem(nil), ci.items...)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// renderLocked concatenates items as tagged blocks, truncated to maxLength.
// Rendering is the access side effect: each included item's stats update.
func (ci *ContextIndex) renderLocked(items []*ContextItem) string {
	var b strings.Builder
	now := time.Now()
	for _, item := range items {
		item.AccessCount++
		item.LastAccessed = now

		fmt.Fprintf(&b, "\n[Context] %s:\n%s\n", item.Key, item.Content)
		if b.Len() > ci.maxLength {
			break
		}
	}

	out := b.String()
	if len(out) > ci.maxLength {
		out = out[:ci.maxLength]
	}
	return out
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

func overlapCount(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	count := 0
	for w := range a {
		if _, ok := b[w]; ok {
			count++
		}
	}
	return count
}

