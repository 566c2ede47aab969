package fundval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists cache entries in a local SQLite file so a restart keeps
// recently fetched quotes.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	writes atomic.Int64
}

// sqlitePurgeEvery is how many writes pass between sweeps of expired rows.
const sqlitePurgeEvery = 64

// OpenSQLiteStore opens (creating if needed) the cache database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite cache path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// SQLite performs best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := initCacheSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	store := &SQLiteStore{db: db, now: time.Now}
	if _, err := store.PurgeExpired(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func initCacheSchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			cache_key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at)")
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	var expiresAt int64
	row := s.db.QueryRowContext(ctx, "SELECT payload, expires_at FROM cache_entries WHERE cache_key = ?", key)
	if err := row.Scan(&payload, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, WrapError(ErrCodeCacheUnavailable, "read cache entry", err)
	}
	if s.now().UnixMilli() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE cache_key = ? AND expires_at = ?", key, expiresAt); err != nil {
			return nil, false, WrapError(ErrCodeCacheUnavailable, "delete expired cache entry", err)
		}
		return nil, false, nil
	}
	return payload, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl).UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at
	`, key, payload, expiresAt)
	if err != nil {
		return WrapError(ErrCodeCacheUnavailable, "write cache entry", err)
	}
	if s.writes.Add(1)%sqlitePurgeEvery == 0 {
		if _, err := s.PurgeExpired(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PurgeExpired deletes every expired entry and reports how many were removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at <= ?", s.now().UnixMilli())
	if err != nil {
		return 0, WrapError(ErrCodeCacheUnavailable, "purge cache entries", err)
	}
	return result.RowsAffected()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
