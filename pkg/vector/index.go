// Package vector implements the optional embedding-similarity index. The
// embedding capability is resolved once at construction: a nil embedder puts
// the index in degraded mode, where Add and Search are no-ops.
package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/errors"
	"github.com/promptops/rlm-go/pkg/logging"
	"github.com/promptops/rlm-go/pkg/persist"
)

// Entry is a stored text with its embedding and access stats.
type Entry struct {
	ID           string            `json:"id"`
	Text         string            `json:"text"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	AccessCount  int               `json:"access_count"`
	LastAccessed time.Time         `json:"last_accessed,omitzero"`
}

// Match pairs an entry with its similarity score.
type Match struct {
	Entry Entry
	Score float64
}

// Stats summarizes index contents.
type Stats struct {
	Entries           int     `json:"entries"`
	TotalAccesses     int     `json:"total_accesses"`
	AvgAccessPerEntry float64 `json:"avg_access_per_entry"`
	EmbeddingsEnabled bool    `json:"embeddings_enabled"`
	Dimensions        int     `json:"dimensions"`
}

// Index is the embedding-similarity index. Metadata and vectors persist as
// two parallel collections.
type Index struct {
	mu       sync.Mutex
	path     string // snapshot file prefix, empty disables persistence
	embedder core.Embedder
	entries  map[string]*Entry
	vectors  map[string][]float32
}

type snapshot struct {
	Entries map[string]*Entry    `json:"entries"`
	Vectors map[string][]float32 `json:"vectors"`
}

// New creates an Index bound to an embedder. A nil embedder is allowed and
// leaves the index permanently in degraded mode.
func New(embedder core.Embedder, path string) *Index {
	idx := &Index{
		path:     path,
		embedder: embedder,
		entries:  make(map[string]*Entry),
		vectors:  make(map[string][]float32),
	}

	if path != "" {
		var snap snapshot
		if ok, err := persist.LoadJSON(path, &snap); err != nil {
			logging.GetLogger().Warn(context.Background(), "failed to load vector snapshot: %v", err)
		} else if ok {
			if snap.Entries != nil {
				idx.entries = snap.Entries
			}
			if snap.Vectors != nil {
				idx.vectors = snap.Vectors
			}
		}
	}

	return idx
}

// Enabled reports whether the embedding capability is available.
func (idx *Index) Enabled() bool {
	return idx.embedder != nil
}

// Add embeds text and stores it under id. Without an embedder this returns a
// CapabilityUnavailable error that callers treat as a silent no-op.
func (idx *Index) Add(ctx context.Context, id, text string, metadata map[string]string) error {
	if idx.embedder == nil {
		return errors.New(errors.CapabilityUnavailable, "no embedding backend configured")
	}

	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return errors.Wrap(err, errors.GenerationFailed, fmt.Sprintf("embed entry %q", id))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries[id] = &Entry{
		ID:        id,
		Text:      text,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	idx.vectors[id] = vec
	return nil
}

// Search embeds the query and returns entries passing the metadata filter
// whose cosine similarity is at least threshold, best first, capped at topK.
// Each match's access stats are updated. Without an embedder it returns nil.
func (idx *Index) Search(ctx context.Context, query string, topK int, threshold float64, metadataFilter map[string]string) []Match {
	if idx.embedder == nil {
		return nil
	}
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		logging.GetLogger().Warn(ctx, "vector search failed to embed query: %v", err)
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := time.Now()
	var matches []Match
	for id, entry := range idx.entries {
		if !metadataMatches(entry.Metadata, metadataFilter) {
			continue
		}
		vec, ok := idx.vectors[id]
		if !ok {
			continue
		}
		score := Cosine(queryVec, vec)
		if score < threshold {
			continue
		}
		entry.AccessCount++
		entry.LastAccessed = now
		matches = append(matches, Match{Entry: *entry, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func metadataMatches(metadata, filter map[string]string) bool {
	for k, want := range filter {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

// Delete removes an entry and its vector.
func (idx *Index) Delete(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, ok := idx.entries[id]
	delete(idx.entries, id)
	delete(idx.vectors, id)
	return ok
}

// Len returns the number of stored entries.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// Stats summarizes the index.
func (idx *Index) Stats() Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	stats := Stats{
		Entries:           len(idx.entries),
		EmbeddingsEnabled: idx.embedder != nil,
	}
	if idx.embedder != nil {
		stats.Dimensions = idx.embedder.Dimensions()
	}
	for _, entry := range idx.entries {
		stats.TotalAccesses += entry.AccessCount
	}
	if len(idx.entries) > 0 {
		stats.AvgAccessPerEntry = float64(stats.TotalAccesses) / float64(len(idx.entries))
	}
	return stats
}

// Save flushes metadata and vectors atomically to the snapshot path.
func (idx *Index) Save() error {
	if idx.path == "" {
		return nil
	}

	idx.mu.Lock()
	snap := snapshot{
		Entries: make(map[string]*Entry, len(idx.entries)),
		Vectors: make(map[string][]float32, len(idx.vectors)),
	}
	for id, entry := range idx.entries {
		e := *entry
		snap.Entries[id] = &e
	}
	for id, vec := range idx.vectors {
		snap.Vectors[id] = append([]float32(nil), vec...)
	}
	idx.mu.Unlock()

	return persist.SaveJSON(idx.path, snap)
}
