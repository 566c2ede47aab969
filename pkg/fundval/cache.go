package fundval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Cache lifetimes per data kind.
const (
	SnapshotTTL      = 5 * time.Minute
	HistoryTTL       = 15 * time.Minute
	RecentChangesTTL = 10 * time.Minute
)

// Store is the minimal key-value contract the valuation cache needs.
type Store interface {
	// Get returns the payload and true on a live hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores payload until ttl elapses.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Close() error
}

// ValuationCache is a read-through cache in front of the fetchers. A store
// failure never surfaces: the computation runs directly instead.
type ValuationCache struct {
	store  Store
	logger *slog.Logger
}

// NewValuationCache wraps store. A nil store disables caching.
func NewValuationCache(store Store, logger *slog.Logger) *ValuationCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValuationCache{store: store, logger: logger}
}

// Close releases the underlying store.
func (c *ValuationCache) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

type validator interface {
	Validate() error
}

// getOrCompute returns the cached value for key, or runs compute and stores
// its result for ttl. Failed computations are never stored.
func getOrCompute[T any](ctx context.Context, c *ValuationCache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if c == nil || c.store == nil {
		return compute(ctx)
	}

	payload, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("cache get failed; computing directly", "key", key, "err", err)
	case ok:
		var cached T
		if err := json.Unmarshal(payload, &cached); err != nil {
			c.logger.Warn("cache payload undecodable; recomputing", "key", key, "err", err)
			break
		}
		if v, isValidator := any(cached).(validator); isValidator {
			if err := v.Validate(); err != nil {
				c.logger.Warn("cache payload invalid; recomputing", "key", key, "err", err)
				break
			}
		}
		return cached, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return value, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache payload encode failed", "key", key, "err", err)
		return value, nil
	}
	if err := c.store.Set(ctx, key, encoded, ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "err", err)
	}
	return value, nil
}

func snapshotKey(code string) string {
	return "fund_info:" + code
}

func historyKey(code string, start, end time.Time) string {
	return fmt.Sprintf("fund_history:%s:%s:%s", code, start.Format(dateLayout), end.Format(dateLayout))
}

func recentChangesKey(code string) string {
	return "fund_recent:" + code
}
