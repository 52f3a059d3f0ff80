// Package knowledge implements the curated knowledge base: entries owned by
// category and tag inverted indices, searched by filter and ranked by
// priority.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/promptops/rlm-go/pkg/logging"
	"github.com/promptops/rlm-go/pkg/persist"
)

// Entry is a curated fact. Priority runs 0-10; higher sorts first.
type Entry struct {
	ID          string            `json:"id"`
	Category    string            `json:"category"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Tags        []string          `json:"tags,omitempty"`
	Priority    int               `json:"priority"`
	AccessCount int               `json:"access_count"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Query filters a search. Zero values mean "no filter".
type Query struct {
	Text        string
	Category    string
	Tags        []string
	MinPriority int
	Limit       int
}

// Stats summarizes base contents.
type Stats struct {
	Entries       int     `json:"entries"`
	Categories    int     `json:"categories"`
	Tags          int     `json:"tags"`
	TotalAccesses int     `json:"total_accesses"`
	AvgPriority   float64 `json:"avg_priority"`
}

// Base is the knowledge base. Every id referenced by an index exists in the
// entry map; removal scrubs all indices.
type Base struct {
	mu         sync.Mutex
	path       string
	entries    map[string]*Entry
	categories map[string][]string // category -> entry ids
	tags       map[string][]string // tag -> entry ids
}

type snapshot struct {
	Entries    map[string]*Entry   `json:"entries"`
	Categories map[string][]string `json:"categories"`
	Tags       map[string][]string `json:"tags"`
}

// New creates a Base, loading a prior snapshot when path names one.
func New(path string) *Base {
	b := &Base{
		path:       path,
		entries:    make(map[string]*Entry),
		categories: make(map[string][]string),
		tags:       make(map[string][]string),
	}

	if path != "" {
		var snap snapshot
		if ok, err := persist.LoadJSON(path, &snap); err != nil {
			logging.GetLogger().Warn(context.Background(), "failed to load knowledge snapshot: %v", err)
		} else if ok {
			if snap.Entries != nil {
				b.entries = snap.Entries
			}
			if snap.Categories != nil {
				b.categories = snap.Categories
			}
			if snap.Tags != nil {
				b.tags = snap.Tags
			}
		}
	}

	return b
}

// Add inserts or replaces an entry and maintains both inverted indices.
func (b *Base) Add(id, category, title, content string, tags []string, priority int, metadata map[string]string) {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, exists := b.entries[id]; exists {
		b.scrubIndicesLocked(old)
	}

	entry := &Entry{
		ID:        id,
		Category:  category,
		Title:     title,
		Content:   content,
		Tags:      append([]string(nil), tags...),
		Priority:  clampPriority(priority),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	b.entries[id] = entry
	b.indexLocked(entry)
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 10 {
		return 10
	}
	return p
}

func (b *Base) indexLocked(entry *Entry) {
	b.categories[entry.Category] = appendUnique(b.categories[entry.Category], entry.ID)
	for _, tag := range entry.Tags {
		b.tags[tag] = appendUnique(b.tags[tag], entry.ID)
	}
}

func (b *Base) scrubIndicesLocked(entry *Entry) {
	b.categories[entry.Category] = removeID(b.categories[entry.Category], entry.ID)
	if len(b.categories[entry.Category]) == 0 {
		delete(b.categories, entry.Category)
	}
	for _, tag := range entry.Tags {
		b.tags[tag] = removeID(b.tags[tag], entry.ID)
		if len(b.tags[tag]) == 0 {
			delete(b.tags, tag)
		}
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Get returns an entry by id and bumps its access count.
func (b *Base) Get(id string) (*Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[id]
	if !ok {
		return nil, false
	}
	entry.AccessCount++
	out := *entry
	return &out, true
}

// Update applies the given mutation to an entry under the lock, reindexing if
// category or tags changed.
func (b *Base) Update(id string, mutate func(*Entry)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[id]
	if !ok {
		return false
	}

	b.scrubIndicesLocked(entry)
	mutate(entry)
	entry.ID = id // id is immutable
	entry.Priority = clampPriority(entry.Priority)
	entry.UpdatedAt = time.Now()
	b.indexLocked(entry)
	return true
}

// Delete removes an entry and scrubs it from all indices.
func (b *Base) Delete(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[id]
	if !ok {
		return false
	}
	b.scrubIndicesLocked(entry)
	delete(b.entries, id)
	return true
}

// Search filters entries by category equality, any-tag membership, minimum
// priority, and case-insensitive substring match against title, content, and
// tags; results order by (priority, access count) descending.
func (b *Base) Search(q Query) []Entry {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	text := strings.ToLower(q.Text)

	b.mu.Lock()
	defer b.mu.Unlock()

	var results []*Entry
	for _, entry := range b.entries {
		if q.Category != "" && entry.Category != q.Category {
			continue
		}
		if len(q.Tags) > 0 && !anyTagMatch(entry.Tags, q.Tags) {
			continue
		}
		if entry.Priority < q.MinPriority {
			continue
		}
		if text != "" && !textMatch(entry, text) {
			continue
		}
		results = append(results, entry)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Priority != results[j].Priority {
			return results[i].Priority > results[j].Priority
		}
		return results[i].AccessCount > results[j].AccessCount
	})

	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]Entry, len(results))
	for i, entry := range results {
		out[i] = *entry
	}
	return out
}

func anyTagMatch(entryTags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range entryTags {
			if t == w {
				return true
			}
		}
	}
	return false
}

func textMatch(entry *Entry, lowered string) bool {
	if strings.Contains(strings.ToLower(entry.Title), lowered) {
		return true
	}
	if strings.Contains(strings.ToLower(entry.Content), lowered) {
		return true
	}
	for _, tag := range entry.Tags {
		if strings.Contains(strings.ToLower(tag), lowered) {
			return true
		}
	}
	return false
}

// ByCategory returns every entry in a category.
func (b *Base) ByCategory(category string) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collectLocked(b.categories[category])
}

// ByTag returns every entry carrying a tag.
func (b *Base) ByTag(tag string) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collectLocked(b.tags[tag])
}

func (b *Base) collectLocked(ids []string) []Entry {
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if entry, ok := b.entries[id]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// Categories lists known category names.
func (b *Base) Categories() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.categories))
	for category := range b.categories {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the base.
func (b *Base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Entries:    len(b.entries),
		Categories: len(b.categories),
		Tags:       len(b.tags),
	}
	var prioritySum int
	for _, entry := range b.entries {
		stats.TotalAccesses += entry.AccessCount
		prioritySum += entry.Priority
	}
	if len(b.entries) > 0 {
		stats.AvgPriority = float64(prioritySum) / float64(len(b.entries))
	}
	return stats
}

// Save flushes the whole base atomically to the snapshot path.
func (b *Base) Save() error {
	if b.path == "" {
		return nil
	}

	b.mu.Lock()
	snap := snapshot{
		Entries:    make(map[string]*Entry, len(b.entries)),
		Categories: make(map[string][]string, len(b.categories)),
		Tags:       make(map[string][]string, len(b.tags)),
	}
	for id, entry := range b.entries {
		e := *entry
		snap.Entries[id] = &e
	}
	for k, v := range b.categories {
		snap.Categories[k] = append([]string(nil), v...)
	}
	for k, v := range b.tags {
		snap.Tags[k] = append([]string(nil), v...)
	}
	b.mu.Unlock()

	return persist.SaveJSON(b.path, snap)
}
