package cache

import (
	"context"
	"sync"
	"time"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/logging"
	"github.com/promptops/rlm-go/pkg/persist"
)

// MemoryStore is an in-memory cache with TTL expiry and LRU eviction, keyed
// by the hash of the normalized query. With a snapshot path configured, the
// contents survive restarts via Save/load.
type MemoryStore struct {
	config  Config
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lru     *lruList
	stats   Stats
}

type memoryEntry struct {
	entry   Entry
	element *lruElement
}

// Doubly-linked recency list. Front is most recently used.
type lruElement struct {
	key  string
	prev *lruElement
	next *lruElement
}

type lruList struct {
	head *lruElement
	tail *lruElement
	size int
}

func newLRUList() *lruList {
	head := &lruElement{}
	tail := &lruElement{}
	head.next = tail
	tail.prev = head
	return &lruList{head: head, tail: tail}
}

func (l *lruList) moveToFront(elem *lruElement) {
	if elem.prev == l.head {
		return // Already at front
	}
	elem.prev.next = elem.next
	elem.next.prev = elem.prev
	elem.prev = l.head
	elem.next = l.head.next
	l.head.next.prev = elem
	l.head.next = elem
}

func (l *lruList) pushFront(key string) *lruElement {
	elem := &lruElement{key: key}
	elem.prev = l.head
	elem.next = l.head.next
	l.head.next.prev = elem
	l.head.next = elem
	l.size++
	return elem
}

func (l *lruList) removeElement(elem *lruElement) {
	elem.prev.next = elem.next
	elem.next.prev = elem.prev
	l.size--
}

func (l *lruList) back() *lruElement {
	if l.tail.prev == l.head {
		return nil
	}
	return l.tail.prev
}

// NewMemoryStore creates an in-memory cache store, loading a prior snapshot
// when one exists at the configured path.
func NewMemoryStore(config Config) (*MemoryStore, error) {
	s := &MemoryStore{
		config:  config,
		entries: make(map[string]*memoryEntry),
		lru:     newLRUList(),
	}

	if config.Path != "" {
		var snapshot map[string]Entry
		if ok, err := persist.LoadJSON(config.Path, &snapshot); err != nil {
			logging.GetLogger().Warn(context.Background(), "failed to load cache snapshot: %v", err)
		} else if ok {
			for hash, entry := range snapshot {
				e := entry
				s.entries[hash] = &memoryEntry{
					entry:   e,
					element: s.lru.pushFront(hash),
				}
			}
		}
	}

	return s, nil
}

func (s *MemoryStore) Get(ctx context.Context, query string) (*Entry, bool, error) {
	hash := core.HashText(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	me, exists := s.entries[hash]
	if !exists {
		s.stats.Misses++
		return nil, false, nil
	}

	if me.entry.expired(s.config.TTL, time.Now()) {
		s.removeLocked(hash, me)
		s.stats.Misses++
		return nil, false, nil
	}

	s.lru.moveToFront(me.element)
	s.stats.Hits++

	out := me.entry
	out.Response = inflate(out.Response)
	return &out, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, query, response string, tokensSaved int, metadata map[string]string) error {
	hash := core.HashText(query)

	stored := response
	if s.config.Compress {
		stored = deflate(response)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if me, exists := s.entries[hash]; exists {
		me.entry.Response = stored
		me.entry.TokensSaved = tokensSaved
		me.entry.CreatedAt = time.Now()
		me.entry.Metadata = metadata
		s.lru.moveToFront(me.element)
		return nil
	}

	if s.config.MaxSize > 0 && len(s.entries) >= s.config.MaxSize {
		s.evictLRULocked()
	}

	s.entries[hash] = &memoryEntry{
		entry: Entry{
			QueryHash:   hash,
			Query:       query,
			Response:    stored,
			TokensSaved: tokensSaved,
			CreatedAt:   time.Now(),
			Metadata:    metadata,
		},
		element: s.lru.pushFront(hash),
	}

	return nil
}

func (s *MemoryStore) evictLRULocked() {
	elem := s.lru.back()
	if elem == nil {
		return
	}
	if me, exists := s.entries[elem.key]; exists {
		s.removeLocked(elem.key, me)
		s.stats.Evictions++
	}
}

func (s *MemoryStore) removeLocked(hash string, me *memoryEntry) {
	delete(s.entries, hash)
	s.lru.removeElement(me.element)
}

func (s *MemoryStore) PruneExpired(ctx context.Context) (int, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int
	for hash, me := range s.entries {
		if me.entry.expired(s.config.TTL, now) {
			s.removeLocked(hash, me)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*memoryEntry)
	s.lru = newLRUList()
	s.stats = Stats{}
	return nil
}

func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Count = len(s.entries)
	stats.MaxSize = s.config.MaxSize
	if s.config.MaxSize > 0 {
		stats.Utilization = float64(len(s.entries)) / float64(s.config.MaxSize) * 100
	}

	now := time.Now()
	var totalAge time.Duration
	for _, me := range s.entries {
		stats.TotalTokensSaved += me.entry.TokensSaved
		stats.SizeBytes += int64(len(me.entry.Query) + len(me.entry.Response))
		totalAge += now.Sub(me.entry.CreatedAt)
	}
	if len(s.entries) > 0 {
		stats.MeanAge = totalAge / time.Duration(len(s.entries))
	}

	return stats
}

// Save flushes the whole store atomically to the configured snapshot path.
func (s *MemoryStore) Save() error {
	if s.config.Path == "" {
		return nil
	}

	s.mu.Lock()
	snapshot := make(map[string]Entry, len(s.entries))
	for hash, me := range s.entries {
		snapshot[hash] = me.entry
	}
	s.mu.Unlock()

	return persist.SaveJSON(s.config.Path, snapshot)
}

func (s *MemoryStore) Close() error {
	return s.Save()
}
