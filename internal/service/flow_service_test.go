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

type memTradeStore struct {
	mu      sync.Mutex
	trades  []domain.Trade
	batches []int
	failOn  int // batch index that returns an error, -1 disables
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{failOn: -1}
}

func (m *memTradeStore) InsertBatch(_ context.Context, trades []domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == len(m.batches) {
		m.batches = append(m.batches, len(trades))
		return assert.AnError
	}
	m.batches = append(m.batches, len(trades))
	m.trades = append(m.trades, trades...)
	return nil
}

func (m *memTradeStore) ListByRoot(_ context.Context, root string, opts domain.ListOpts) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trade
	for _, t := range m.trades {
		if t.Contract.Root != root {
			continue
		}
		if opts.Since != nil && t.Timestamp.Before(*opts.Since) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *memTradeStore) ListRecent(_ context.Context, limit int) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := min(limit, len(m.trades))
	out := make([]domain.Trade, n)
	for i := 0; i < n; i++ {
		out[i] = m.trades[len(m.trades)-1-i]
	}
	return out, nil
}

func (m *memTradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trade
	for _, t := range m.trades {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		published: make(map[string][][]byte),
		streamed:  make(map[string][][]byte),
	}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func flowTrade(root string, strike float64, size int64, side domain.TradeSide, ts time.Time) domain.Trade {
	return domain.Trade{
		Contract: domain.Contract{
			Root:       root,
			Expiration: "20270115",
			Strike:     strike,
			Right:      domain.RightCall,
		},
		Price:     12.5,
		Size:      size,
		Timestamp: ts,
		Side:      side,
	}
}

func TestPublishTradesAssignsIDsAndBatches(t *testing.T) {
	store := newMemTradeStore()
	bus := newMemBus()
	svc := NewFlowService(store, bus, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))

	now := time.Now()
	trades := []domain.Trade{
		flowTrade("SPXW", 5400, 10, domain.SideBuy, now),
		flowTrade("SPXW", 5500, 5, domain.SideSell, now),
		flowTrade("SPXW", 5600, 3, domain.SideUnknown, now),
	}
	svc.PublishTrades(context.Background(), trades)

	// Batch size 2 splits three trades into 2 + 1.
	assert.Equal(t, []int{2, 1}, store.batches)
	require.Len(t, store.trades, 3)
	for _, tr := range store.trades {
		assert.NotEmpty(t, tr.ID)
	}

	assert.Len(t, bus.published["trades"], 3)
	assert.Len(t, bus.streamed["trades"], 3)
}

func TestPublishTradesSurvivesStoreFailure(t *testing.T) {
	store := newMemTradeStore()
	store.failOn = 0
	bus := newMemBus()
	svc := NewFlowService(store, bus, 100, slog.New(slog.NewTextHandler(io.Discard, nil)))

	svc.PublishTrades(context.Background(), []domain.Trade{
		flowTrade("SPXW", 5400, 10, domain.SideBuy, time.Now()),
	})

	// Persistence failed but the fan-out still happened.
	assert.Empty(t, store.trades)
	assert.Len(t, bus.published["trades"], 1)
}

func TestNetFlowAggregatesByStrike(t *testing.T) {
	store := newMemTradeStore()
	svc := NewFlowService(store, nil, 100, slog.New(slog.NewTextHandler(io.Discard, nil)))

	now := time.Now()
	svc.PublishTrades(context.Background(), []domain.Trade{
		flowTrade("SPXW", 5400, 10, domain.SideBuy, now),
		flowTrade("SPXW", 5400, 4, domain.SideSell, now),
		flowTrade("SPXW", 5500, 7, domain.SideSell, now),
		flowTrade("SPXW", 5500, 2, domain.SideUnknown, now),
		flowTrade("SPXW", 5300, 1, domain.SideBuy, now.Add(-2*time.Hour)), // outside window
		flowTrade("VIX", 20, 50, domain.SideBuy, now),                     // other root
	})

	entries, err := svc.NetFlow(context.Background(), "SPXW", time.Hour)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Ascending strike order.
	assert.Equal(t, 5400.0, entries[0].Strike)
	assert.Equal(t, int64(6), entries[0].NetSize)
	assert.InDelta(t, (10-4)*12.5*100, entries[0].Premium, 1e-9)

	assert.Equal(t, 5500.0, entries[1].Strike)
	assert.Equal(t, int64(-7), entries[1].NetSize)
	assert.InDelta(t, -7*12.5*100, entries[1].Premium, 1e-9)
}
