package bars

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"market-replay-broker/internal/logging"
	"market-replay-broker/internal/models"
)

// latest-bar lookups repeat heavily while a session steps through one
// minute; a short TTL keeps the cache honest without invalidation.
const cacheTTL = 30 * time.Second

// CachedBarStore is a Redis read-through cache over a BarStore. Cache
// failures degrade to direct reads.
type CachedBarStore struct {
	inner  BarStore
	client *redis.Client
	logger *logging.Logger
}

// NewCachedBarStore wraps inner with a Redis cache.
func NewCachedBarStore(inner BarStore, client *redis.Client, logger *logging.Logger) *CachedBarStore {
	return &CachedBarStore{
		inner:  inner,
		client: client,
		logger: logger.WithComponent("bar-cache"),
	}
}

func cacheKey(symbol string, asOf time.Time, res models.Resolution) string {
	return fmt.Sprintf("bar:%s:%s:%d", symbol, res, asOf.Unix())
}

func (c *CachedBarStore) GetBar(ctx context.Context, symbol string, asOf time.Time, res models.Resolution) (*models.Bar, error) {
	symbol = NormalizeSymbol(symbol)
	key := cacheKey(symbol, asOf, res)

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var bar models.Bar
		if err := json.Unmarshal(data, &bar); err == nil {
			return &bar, nil
		}
	}

	bar, err := c.inner.GetBar(ctx, symbol, asOf, res)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(bar); err == nil {
		if err := c.client.Set(ctx, key, data, cacheTTL).Err(); err != nil {
			c.logger.Debug("cache write failed", "key", key, "error", err)
		}
	}
	return bar, nil
}

func (c *CachedBarStore) GetBars(ctx context.Context, symbol string, start, end time.Time, res models.Resolution, limit int) ([]*models.Bar, error) {
	// Range queries are not cached; they are paginated client reads, not part
	// of the hot advance-time path.
	return c.inner.GetBars(ctx, symbol, start, end, res, limit)
}

func (c *CachedBarStore) GetLatestBars(ctx context.Context, symbols []string, asOf time.Time) (map[string]*models.Bar, error) {
	out := make(map[string]*models.Bar, len(symbols))
	var misses []string
	for _, symbol := range symbols {
		symbol = NormalizeSymbol(symbol)
		if data, err := c.client.Get(ctx, cacheKey(symbol, asOf, models.ResolutionMinute)).Bytes(); err == nil {
			var bar models.Bar
			if err := json.Unmarshal(data, &bar); err == nil {
				out[symbol] = &bar
				continue
			}
		}
		misses = append(misses, symbol)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.inner.GetLatestBars(ctx, misses, asOf)
	if err != nil {
		return nil, err
	}
	for symbol, bar := range fetched {
		out[symbol] = bar
		if data, err := json.Marshal(bar); err == nil {
			if err := c.client.Set(ctx, cacheKey(symbol, asOf, models.ResolutionMinute), data, cacheTTL).Err(); err != nil {
				c.logger.Debug("cache write failed", "symbol", symbol, "error", err)
			}
		}
	}
	return out, nil
}

func (c *CachedBarStore) ListSymbols(ctx context.Context) ([]string, error) {
	return c.inner.ListSymbols(ctx)
}
