package s3blob

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// memBlobStore is an in-memory BlobWriter + BlobReader.
type memBlobStore struct {
	objects map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (m *memBlobStore) Write(_ context.Context, key string, data []byte, _ string) error {
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobStore) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlobStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memBlobStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

type memTradeArchive struct {
	trades []domain.Trade
}

func (m *memTradeArchive) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range m.trades {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

type memCurveArchive struct{}

func (memCurveArchive) ListBefore(context.Context, time.Time) ([]domain.SmileParameters, error) {
	return nil, nil
}

func archiveTrade(id string, ts time.Time) domain.Trade {
	return domain.Trade{
		ID: id,
		Contract: domain.Contract{
			Root:       "SPXW",
			Expiration: "20270115",
			Strike:     5900,
			Right:      domain.RightCall,
		},
		Price:     12.5,
		Size:      3,
		Side:      domain.SideBuy,
		Timestamp: ts,
	}
}

// A second run on the same day must not drop rows that aged into the cutoff
// window after the first run: the existing day object is merged, not skipped,
// so every row reaches the archive before the caller prunes it.
func TestArchiveTradesMergesIntoExistingDayObject(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlobStore()

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &memTradeArchive{trades: []domain.Trade{
		archiveTrade("t-1", day.Add(-30*24*time.Hour)),
	}}
	arch := NewArchiver(blob, blob, store, memCurveArchive{})

	n, err := arch.ArchiveTrades(ctx, day.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The caller pruned the archived row; a new row has aged into the
	// window since.
	store.trades = []domain.Trade{
		archiveTrade("t-2", day.Add(-30*24*time.Hour).Add(2*time.Hour)),
	}

	n, err = arch.ArchiveTrades(ctx, day.Add(7*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "second run must report the new row as archived")

	obj := blob.objects["archive/trades/2026-08-01.jsonl"]
	require.NotEmpty(t, obj)
	lines := bytes.Split(bytes.TrimRight(obj, "\n"), []byte("\n"))
	assert.Len(t, lines, 2, "day object must hold both rows")
	assert.Contains(t, string(obj), `"t-1"`)
	assert.Contains(t, string(obj), `"t-2"`)
}

func TestArchiveTradesNilReaderOverwrites(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlobStore()

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &memTradeArchive{trades: []domain.Trade{
		archiveTrade("t-1", day.Add(-40*24*time.Hour)),
	}}
	arch := NewArchiver(blob, nil, store, memCurveArchive{})

	n, err := arch.ArchiveTrades(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, blob.objects, "archive/trades/2026-08-01.jsonl")
}

func TestMergeJSONLDeduplicatesLines(t *testing.T) {
	merged := mergeJSONL([]byte("a\nb\n"), []byte("b\nc\n"))
	assert.Equal(t, "a\nb\nc\n", string(merged))

	// Missing trailing newline on the existing object is repaired.
	merged = mergeJSONL([]byte("a"), []byte("b\n"))
	assert.Equal(t, "a\nb\n", string(merged))

	// Empty existing object passes the update through untouched.
	merged = mergeJSONL(nil, []byte("a\nb\n"))
	assert.Equal(t, "a\nb\n", string(merged))
}
