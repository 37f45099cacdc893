package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists classified trades.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	ListByRoot(ctx context.Context, root string, opts ListOpts) ([]Trade, error)
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
	// ListBefore returns trades executed strictly before the cutoff, for
	// archival.
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// CurveStore persists the history of fitted smile slices.
type CurveStore interface {
	Insert(ctx context.Context, params SmileParameters) error
	GetLatest(ctx context.Context, root, expiry string) (SmileParameters, error)
	ListBySnapshot(ctx context.Context, snapshotID string) ([]SmileParameters, error)
	ListBefore(ctx context.Context, before time.Time) ([]SmileParameters, error)
}
