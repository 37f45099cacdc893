package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// SpotCache implements domain.SpotCache using Redis hashes.
// Each root's spot is stored as a hash at key "spot:{root}" with fields
// "price" and "ts" (Unix nanosecond timestamp).
type SpotCache struct {
	rdb *redis.Client
}

// NewSpotCache creates a SpotCache backed by the given Client.
func NewSpotCache(c *Client) *SpotCache {
	return &SpotCache{rdb: c.Underlying()}
}

func spotKey(root string) string {
	return "spot:" + root
}

// SetSpot stores the latest underlying price and timestamp for a root.
func (sc *SpotCache) SetSpot(ctx context.Context, root string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := sc.rdb.HSet(ctx, spotKey(root), fields).Err(); err != nil {
		return fmt.Errorf("redis: set spot %s: %w", root, err)
	}
	return nil
}

// GetSpot retrieves the latest underlying price and timestamp for a root.
// It returns domain.ErrNotFound when no price is cached.
func (sc *SpotCache) GetSpot(ctx context.Context, root string) (float64, time.Time, error) {
	vals, err := sc.rdb.HGetAll(ctx, spotKey(root)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get spot %s: %w", root, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse spot price %s: %w", root, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse spot ts %s: %w", root, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.SpotCache = (*SpotCache)(nil)
