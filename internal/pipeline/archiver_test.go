package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobArchiver struct {
	trades    int
	curves    int
	tradesErr error
	cutoffs   []time.Time
}

func (f *fakeBlobArchiver) ArchiveTrades(_ context.Context, before time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.trades, f.tradesErr
}

func (f *fakeBlobArchiver) ArchiveCurves(context.Context, time.Time) (int, error) {
	return f.curves, nil
}

type fakeRetention struct {
	deleted int64
	calls   int
}

func (f *fakeRetention) DeleteBefore(context.Context, time.Time) (int64, error) {
	f.calls++
	return f.deleted, nil
}

func TestArchiveRunPrunesAfterUpload(t *testing.T) {
	blob := &fakeBlobArchiver{trades: 12, curves: 7}
	trades := &fakeRetention{deleted: 12}
	curves := &fakeRetention{deleted: 7}
	a := NewArchiver(blob, trades, curves, 30,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 1, trades.calls)
	assert.Equal(t, 1, curves.calls)

	// Cutoff honors the retention window.
	require.Len(t, blob.cutoffs, 1)
	want := time.Now().UTC().Add(-30 * 24 * time.Hour)
	assert.WithinDuration(t, want, blob.cutoffs[0], time.Minute)
}

func TestArchiveRunSkipsPruneOnUploadFailure(t *testing.T) {
	blob := &fakeBlobArchiver{tradesErr: assert.AnError}
	trades := &fakeRetention{}
	curves := &fakeRetention{}
	a := NewArchiver(blob, trades, curves, 30,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := a.Run(context.Background())
	require.Error(t, err)

	// Trades upload failed so trades are kept; curves succeeded and prune.
	assert.Equal(t, 0, trades.calls)
	assert.Equal(t, 1, curves.calls)
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 3, 10, 2, 15, 30, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC), next)

	// Already past today's trigger: rolls to tomorrow.
	next, err = nextCronTime("0 1 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC), next)

	// Comma lists.
	next, err = nextCronTime("0,30 2 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC), next)

	_, err = nextCronTime("not a cron", after)
	require.Error(t, err)
}
