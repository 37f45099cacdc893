package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// CurveCache implements domain.CurveCache using Redis. The latest slice per
// (root, expiry) lives at "curve:{root}:{expiry}" as a JSON blob, and the set
// "curve_expiries:{root}" tracks which expiries have a cached slice.
type CurveCache struct {
	rdb *redis.Client
}

// NewCurveCache creates a CurveCache backed by the given Client.
func NewCurveCache(c *Client) *CurveCache {
	return &CurveCache{rdb: c.Underlying()}
}

func curveKey(root, expiry string) string {
	return "curve:" + root + ":" + expiry
}

func curveExpiriesKey(root string) string {
	return "curve_expiries:" + root
}

// SetCurve stores the slice and registers its expiry, atomically via
// pipeline.
func (cc *CurveCache) SetCurve(ctx context.Context, params domain.SmileParameters) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("redis: marshal curve %s/%s: %w", params.Root, params.Expiry, err)
	}

	pipe := cc.rdb.TxPipeline()
	pipe.Set(ctx, curveKey(params.Root, params.Expiry), payload, 0)
	pipe.SAdd(ctx, curveExpiriesKey(params.Root), params.Expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set curve %s/%s: %w", params.Root, params.Expiry, err)
	}
	return nil
}

// GetCurve retrieves the cached slice for (root, expiry). It returns
// domain.ErrNotFound when no slice is cached.
func (cc *CurveCache) GetCurve(ctx context.Context, root, expiry string) (domain.SmileParameters, error) {
	payload, err := cc.rdb.Get(ctx, curveKey(root, expiry)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.SmileParameters{}, domain.ErrNotFound
		}
		return domain.SmileParameters{}, fmt.Errorf("redis: get curve %s/%s: %w", root, expiry, err)
	}

	var params domain.SmileParameters
	if err := json.Unmarshal(payload, &params); err != nil {
		return domain.SmileParameters{}, fmt.Errorf("redis: decode curve %s/%s: %w", root, expiry, err)
	}
	return params, nil
}

// ListExpiries returns the expiries with a cached slice for root, sorted
// ascending.
func (cc *CurveCache) ListExpiries(ctx context.Context, root string) ([]string, error) {
	expiries, err := cc.rdb.SMembers(ctx, curveExpiriesKey(root)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list expiries %s: %w", root, err)
	}
	// YYYYMMDD labels sort chronologically as strings.
	sort.Strings(expiries)
	return expiries, nil
}

// Compile-time interface check.
var _ domain.CurveCache = (*CurveCache)(nil)
