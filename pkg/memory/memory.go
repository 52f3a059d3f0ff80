// Package memory implements the durable interaction memory: an append-only
// record of every query/response pair with exact and fuzzy recall, plus
// incrementally learned per-keyword statistics.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/logging"
	"github.com/promptops/rlm-go/pkg/persist"
)

// Record is a single remembered interaction. Records are immutable once
// written except for feedback attachment; they are removed only by explicit
// age-based pruning.
type Record struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Query      string            `json:"query"`
	Response   string            `json:"response"`
	Context    string            `json:"context,omitempty"`
	Backend    string            `json:"backend,omitempty"`
	Model      string            `json:"model,omitempty"`
	TokensUsed int               `json:"tokens_used"`
	Success    bool              `json:"success"`
	Feedback   string            `json:"feedback,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// KeywordStats aggregates what the store has learned about one query keyword.
type KeywordStats struct {
	Count     int            `json:"count"`
	Successes int            `json:"successes"`
	Backends  map[string]int `json:"backends"`
	AvgTokens float64        `json:"avg_tokens"`
}

// TopicCount pairs a keyword with its occurrence count.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Insights summarizes the learned keyword statistics.
type Insights struct {
	TotalRecords           int               `json:"total_records"`
	HistoryLength          int               `json:"history_length"`
	LearnedPatterns        int               `json:"learned_patterns"`
	TopTopics              []TopicCount      `json:"top_topics"`
	BackendRecommendations map[string]string `json:"backend_recommendations"`
	SuccessRate            float64           `json:"success_rate"` // percentage
}

// Store is the long-term memory. Remember always succeeds; recall never
// errors.
type Store struct {
	mu       sync.Mutex
	path     string // snapshot file, empty disables persistence
	records  map[string]*Record
	history  []string          // record ids in insertion order
	byHash   map[string]string // normalized-query hash -> first record id
	patterns map[string]*KeywordStats
}

type snapshot struct {
	Records  map[string]*Record       `json:"records"`
	History  []string                 `json:"history"`
	Patterns map[string]*KeywordStats `json:"patterns"`
}

// New creates a Store, loading a prior snapshot when path names one.
func New(path string) *Store {
	s := &Store{
		path:     path,
		records:  make(map[string]*Record),
		byHash:   make(map[string]string),
		patterns: make(map[string]*KeywordStats),
	}

	if path != "" {
		var snap snapshot
		if ok, err := persist.LoadJSON(path, &snap); err != nil {
			logging.GetLogger().Warn(context.Background(), "failed to load memory snapshot: %v", err)
		} else if ok {
			if snap.Records != nil {
				s.records = snap.Records
			}
			s.history = snap.History
			if snap.Patterns != nil {
				s.patterns = snap.Patterns
			}
			s.rebuildHashIndex()
		}
	}

	return s
}

// rebuildHashIndex maps each normalized query hash to its earliest record,
// walking history so exact recall keeps first-write-wins semantics.
func (s *Store) rebuildHashIndex() {
	for _, id := range s.history {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		hash := core.HashText(rec.Query)
		if _, seen := s.byHash[hash]; !seen {
			s.byHash[hash] = id
		}
	}
}

// Remember appends an interaction and updates the keyword aggregates. It
// returns the derived record id.
func (s *Store) Remember(query, response, contextText, backend, model string, tokensUsed int, success bool, metadata map[string]string) string {
	now := time.Now()
	id := core.HashRaw(query, response, now.Format(time.RFC3339Nano))

	rec := &Record{
		ID:         id,
		Timestamp:  now,
		Query:      query,
		Response:   response,
		Context:    contextText,
		Backend:    backend,
		Model:      model,
		TokensUsed: tokensUsed,
		Success:    success,
		Metadata:   metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = rec
	s.history = append(s.history, id)

	hash := core.HashText(query)
	if _, seen := s.byHash[hash]; !seen {
		s.byHash[hash] = id
	}

	s.learnLocked(rec)
	return id
}

// learnLocked updates the per-keyword aggregate for every query token longer
// than three runes.
func (s *Store) learnLocked(rec *Record) {
	for _, tok := range core.Tokenize(rec.Query) {
		if len([]rune(tok)) <= 3 {
			continue
		}

		stats, ok := s.patterns[tok]
		if !ok {
			stats = &KeywordStats{Backends: make(map[string]int)}
			s.patterns[tok] = stats
		}

		stats.Count++
		if rec.Success {
			stats.Successes++
		}
		if rec.Backend != "" {
			stats.Backends[rec.Backend]++
		}
		stats.AvgTokens = (stats.AvgTokens*float64(stats.Count-1) + float64(rec.TokensUsed)) / float64(stats.Count)
	}
}

// RecallExact returns the earliest record whose query hashes equal to the
// given query under normalization.
func (s *Store) RecallExact(query string) (*Record, bool) {
	hash := core.HashText(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, false
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	out := *rec
	return &out, true
}

// Recall scores every record by token-overlap ratio against the query and
// returns the top limit matches, best first.
func (s *Store) Recall(query string, limit int) []Record {
	if limit <= 0 {
		limit = 5
	}
	queryTokens := core.TokenSet(query)
	if len(queryTokens) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		score float64
		rec   *Record
	}

	var matches []scored
	for _, rec := range s.records {
		recTokens := core.TokenSet(rec.Query)
		common := 0
		for tok := range queryTokens {
			if _, ok := recTokens[tok]; ok {
				common++
			}
		}
		if common == 0 {
			continue
		}
		denom := len(queryTokens)
		if len(recTokens) > denom {
			denom = len(recTokens)
		}
		matches = append(matches, scored{
			score: float64(common) / float64(denom),
			rec:   rec,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Record, len(matches))
	for i, m := range matches {
		out[i] = *m.rec
	}
	return out
}

// AttachFeedback adds feedback text to an existing record. This is the only
// permitted mutation of a written record.
func (s *Store) AttachFeedback(id, feedback string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	rec.Feedback = feedback
	return true
}

// ConversationContext renders the last n history records as Q/A text.
func (s *Store) ConversationContext(lastN int) string {
	if lastN <= 0 {
		lastN = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.history) - lastN
	if start < 0 {
		start = 0
	}

	var parts []string
	for _, id := range s.history[start:] {
		if rec, ok := s.records[id]; ok {
			parts = append(parts, fmt.Sprintf("Q: %s\nA: %s", rec.Query, rec.Response))
		}
	}
	return strings.Join(parts, "\n\n")
}

// LearnedInsights surfaces the top keyword topics, the best-performing
// backend per topic, and the overall success rate.
func (s *Store) LearnedInsights() Insights {
	s.mu.Lock()
	defer s.mu.Unlock()

	insights := Insights{
		TotalRecords:           len(s.records),
		HistoryLength:          len(s.history),
		LearnedPatterns:        len(s.patterns),
		BackendRecommendations: make(map[string]string),
	}

	topics := make([]TopicCount, 0, len(s.patterns))
	for topic, stats := range s.patterns {
		topics = append(topics, TopicCount{Topic: topic, Count: stats.Count})
	}
	sort.SliceStable(topics, func(i, j int) bool {
		if topics[i].Count != topics[j].Count {
			return topics[i].Count > topics[j].Count
		}
		return topics[i].Topic < topics[j].Topic
	})
	if len(topics) > 10 {
		topics = topics[:10]
	}
	insights.TopTopics = topics

	for _, tc := range topics {
		stats := s.patterns[tc.Topic]
		best, bestCount := "", 0
		for backend, count := range stats.Backends {
			if count > bestCount || (count == bestCount && backend < best) {
				best, bestCount = backend, count
			}
		}
		if best != "" {
			insights.BackendRecommendations[tc.Topic] = best
		}
	}

	if len(s.records) > 0 {
		successes := 0
		for _, rec := range s.records {
			if rec.Success {
				successes++
			}
		}
		insights.SuccessRate = float64(successes) / float64(len(s.records)) * 100
	}

	return insights
}

// PruneOlderThan deletes records older than age and returns how many were
// removed.
func (s *Store) PruneOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	kept := s.history[:0]
	for _, id := range s.history {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			delete(s.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.history = kept

	// Hash index may point at pruned records; rebuild it.
	s.byHash = make(map[string]string)
	s.rebuildHashIndex()

	return removed
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Save flushes the whole store atomically to the snapshot path.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	snap := snapshot{
		Records:  make(map[string]*Record, len(s.records)),
		History:  append([]string(nil), s.history...),
		Patterns: make(map[string]*KeywordStats, len(s.patterns)),
	}
	for id, rec := range s.records {
		r := *rec
		snap.Records[id] = &r
	}
	for k, v := range s.patterns {
		p := *v
		p.Backends = make(map[string]int, len(v.Backends))
		for b, n := range v.Backends {
			p.Backends[b] = n
		}
		snap.Patterns[k] = &p
	}
	s.mu.Unlock()

	return persist.SaveJSON(s.path, snap)
}
