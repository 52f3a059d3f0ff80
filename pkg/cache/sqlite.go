package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/promptops/rlm-go/pkg/core"
	"github.com/promptops/rlm-go/pkg/errors"
	"github.com/promptops/rlm-go/pkg/logging"
)

// SQLiteStore implements Store backed by a SQLite database. Eviction order
// uses the accessed_at column, so recency survives restarts.
type SQLiteStore struct {
	db     *sql.DB
	config Config
}

// NewSQLiteStore opens (or creates) the database at config.Path.
func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = "rlm_cache.db"
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.PersistenceFailed, "open cache database")
	}

	db.SetMaxOpenConns(1) // Single writer; the pipeline is sequential.

	s := &SQLiteStore{db: db, config: config}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.PersistenceFailed, "initialize cache schema")
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			logging.GetLogger().Warn(context.Background(), "failed to set pragma %s: %v", pragma, err)
		}
	}

	return s, nil
}

func (s *SQLiteStore) initDB() error {
	query := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		query_hash TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		response TEXT NOT NULL,
		tokens_saved INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		accessed_at INTEGER NOT NULL,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cache_accessed_at ON cache_entries(accessed_at);
	CREATE INDEX IF NOT EXISTS idx_cache_created_at ON cache_entries(created_at);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) expiryCutoff(now time.Time) int64 {
	if s.config.TTL <= 0 {
		return 0
	}
	return now.Add(-s.config.TTL).UnixNano()
}

func (s *SQLiteStore) Get(ctx context.Context, query string) (*Entry, bool, error) {
	hash := core.HashText(query)
	now := time.Now()

	var entry Entry
	var createdAt int64
	var metadata sql.NullString

	row := s.db.QueryRowContext(ctx,
		`SELECT query, response, tokens_saved, created_at, metadata FROM cache_entries WHERE query_hash = ?`,
		hash)
	err := row.Scan(&entry.Query, &entry.Response, &entry.TokensSaved, &createdAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.PersistenceFailed, "read cache entry")
	}

	entry.QueryHash = hash
	entry.CreatedAt = time.Unix(0, createdAt)

	if entry.expired(s.config.TTL, now) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE query_hash = ?`, hash); err != nil {
			logging.GetLogger().Warn(ctx, "failed to purge expired cache entry: %v", err)
		}
		return nil, false, nil
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
			logging.GetLogger().Warn(ctx, "failed to decode cache metadata: %v", err)
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET accessed_at = ? WHERE query_hash = ?`,
		now.UnixNano(), hash); err != nil {
		logging.GetLogger().Warn(ctx, "failed to update cache access time: %v", err)
	}

	entry.Response = inflate(entry.Response)
	return &entry, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, query, response string, tokensSaved int, metadata map[string]string) error {
	hash := core.HashText(query)
	now := time.Now()

	stored := response
	if s.config.Compress {
		stored = deflate(response)
	}

	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return errors.Wrap(err, errors.PersistenceFailed, "encode cache metadata")
		}
	}

	if s.config.MaxSize > 0 {
		if err := s.evictToFit(ctx, hash); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_entries
			(query_hash, query, response, tokens_saved, created_at, accessed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hash, query, stored, tokensSaved, now.UnixNano(), now.UnixNano(), string(metaJSON))
	if err != nil {
		return errors.Wrap(err, errors.PersistenceFailed, "write cache entry")
	}
	return nil
}

// evictToFit deletes least-recently-accessed entries until inserting one more
// row stays within MaxSize. Replacing an existing key needs no room.
func (s *SQLiteStore) evictToFit(ctx context.Context, incomingHash string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE query_hash = ?`, incomingHash).Scan(&exists); err != nil {
		return errors.Wrap(err, errors.PersistenceFailed, "check cache entry")
	}
	if exists > 0 {
		return nil
	}

	for {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
			return errors.Wrap(err, errors.PersistenceFailed, "count cache entries")
		}
		if count < s.config.MaxSize {
			return nil
		}

		res, err := s.db.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE query_hash IN (
				SELECT query_hash FROM cache_entries ORDER BY accessed_at ASC LIMIT 1
			)`)
		if err != nil {
			return errors.Wrap(err, errors.PersistenceFailed, "evict cache entry")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
	}
}

func (s *SQLiteStore) PruneExpired(ctx context.Context) (int, error) {
	cutoff := s.expiryCutoff(time.Now())
	if cutoff == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, errors.PersistenceFailed, "prune expired cache entries")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return errors.Wrap(err, errors.PersistenceFailed, "clear cache")
	}
	return nil
}

func (s *SQLiteStore) Stats() Stats {
	stats := Stats{MaxSize: s.config.MaxSize}

	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(tokens_saved), 0),
		       COALESCE(SUM(LENGTH(query) + LENGTH(response)), 0),
		       COALESCE(AVG(created_at), 0)
		FROM cache_entries`)

	var avgCreated float64
	if err := row.Scan(&stats.Count, &stats.TotalTokensSaved, &stats.SizeBytes, &avgCreated); err != nil {
		logging.GetLogger().Warn(context.Background(), "failed to read cache stats: %v", err)
		return stats
	}

	if s.config.MaxSize > 0 {
		stats.Utilization = float64(stats.Count) / float64(s.config.MaxSize) * 100
	}
	if stats.Count > 0 {
		stats.MeanAge = time.Since(time.Unix(0, int64(avgCreated)))
	}
	return stats
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
