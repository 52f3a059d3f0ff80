package cache

import (
	"context"
	"time"
)

// Store is the response cache consulted by the optimizer before any
// generation work happens.
type Store interface {
	// Get returns the cached entry for a query if present and unexpired.
	// Expired entries are purged lazily on access.
	Get(ctx context.Context, query string) (*Entry, bool, error)

	// Set caches a response for a query, evicting the least-recently-used
	// entry first when the store is at capacity.
	Set(ctx context.Context, query, response string, tokensSaved int, metadata map[string]string) error

	// PruneExpired removes every expired entry and reports how many were
	// purged.
	PruneExpired(ctx context.Context) (int, error)

	// Clear removes all cached entries.
	Clear(ctx context.Context) error

	// Stats returns cache statistics.
	Stats() Stats

	// Close releases any resources held by the store.
	Close() error
}

// Entry is a cached response. The response is stored compressed in the
// backing store and returned decompressed.
type Entry struct {
	QueryHash   string            `json:"query_hash"`
	Query       string            `json:"query"`
	Response    string            `json:"response"`
	TokensSaved int               `json:"tokens_saved"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// expired reports whether the entry is older than ttl. A non-positive ttl
// means entries never expire.
func (e *Entry) expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > ttl
}

// Stats describes cache performance and contents.
type Stats struct {
	Count            int           `json:"count"`
	MaxSize          int           `json:"max_size"`
	Utilization      float64       `json:"utilization_pct"`
	TotalTokensSaved int           `json:"total_tokens_saved"`
	SizeBytes        int64         `json:"size_bytes"`
	MeanAge          time.Duration `json:"mean_age"`
	Hits             int64         `json:"hits"`
	Misses           int64         `json:"misses"`
	Evictions        int64         `json:"evictions"`
}

// Config holds cache configuration.
type Config struct {
	// Backend selects the implementation: "memory" or "sqlite".
	Backend string `json:"backend" yaml:"backend"`

	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int `json:"max_size" yaml:"max_size"`

	// TTL is the maximum entry age. Zero or negative means entries never
	// expire.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// Path is the snapshot file (memory backend) or database file (sqlite
	// backend). Empty disables persistence for the memory backend.
	Path string `json:"path" yaml:"path"`

	// Compress stores responses through the reversible deflate transform.
	Compress bool `json:"compress" yaml:"compress"`
}

// New creates a cache store for the configured backend. Unknown backends fall
// back to memory.
func New(config Config) (Store, error) {
	switch config.Backend {
	case "sqlite":
		return NewSQLiteStore(config)
	default:
		return NewMemoryStore(config)
	}
}
