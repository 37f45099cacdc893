package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optflow/internal/domain"
)

type fakeFetcher struct {
	mu     sync.Mutex
	prices map[string]float64
	ts     time.Time
	calls  map[string]int
}

func (f *fakeFetcher) GetSpot(_ context.Context, root string) (float64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[root]++
	price, ok := f.prices[root]
	if !ok {
		return 0, time.Time{}, domain.ErrSpotUnavailable
	}
	return price, f.ts, nil
}

type memSpotCache struct {
	mu    sync.Mutex
	spots map[string]struct {
		price float64
		ts    time.Time
	}
}

func newMemSpotCache() *memSpotCache {
	return &memSpotCache{spots: make(map[string]struct {
		price float64
		ts    time.Time
	})}
}

func (c *memSpotCache) SetSpot(_ context.Context, root string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spots[root] = struct {
		price float64
		ts    time.Time
	}{price, ts}
	return nil
}

func (c *memSpotCache) GetSpot(_ context.Context, root string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.spots[root]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return e.price, e.ts, nil
}

func TestSpotServicePollsAllRoots(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{
		prices: map[string]float64{"SPXW": 5900.25, "VIX": 18.5},
		ts:     now,
	}
	cache := newMemSpotCache()
	svc := NewSpotService(fetcher, cache, []string{"SPXW", "VIX"}, time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	svc.pollAll(context.Background())

	price, ts, err := svc.Spot(context.Background(), "SPXW")
	require.NoError(t, err)
	assert.Equal(t, 5900.25, price)
	assert.Equal(t, now, ts)

	price, _, err = svc.Spot(context.Background(), "VIX")
	require.NoError(t, err)
	assert.Equal(t, 18.5, price)
}

func TestSpotServiceKeepsStaleValueOnFetchFailure(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{
		prices: map[string]float64{"SPXW": 5900.25},
		ts:     now,
	}
	cache := newMemSpotCache()
	svc := NewSpotService(fetcher, cache, []string{"SPXW"}, time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	svc.pollAll(context.Background())

	// Host goes dark; the previously cached value stays readable.
	fetcher.mu.Lock()
	delete(fetcher.prices, "SPXW")
	fetcher.mu.Unlock()
	svc.pollAll(context.Background())

	price, _, err := svc.Spot(context.Background(), "SPXW")
	require.NoError(t, err)
	assert.Equal(t, 5900.25, price)
}

func TestSpotMissMapsToSpotUnavailable(t *testing.T) {
	svc := NewSpotService(&fakeFetcher{}, newMemSpotCache(), nil, time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, _, err := svc.Spot(context.Background(), "SPXW")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSpotUnavailable)
}
