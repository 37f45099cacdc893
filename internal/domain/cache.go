package domain

import (
	"context"
	"time"
)

// SpotCache provides fast access to the latest underlying spot price per
// root. Implementations must return ErrNotFound when no price is cached.
type SpotCache interface {
	SetSpot(ctx context.Context, root string, price float64, ts time.Time) error
	GetSpot(ctx context.Context, root string) (float64, time.Time, error)
}

// CurveCache stores the most recently published smile slice per
// (root, expiry) for cheap cross-process reads.
type CurveCache interface {
	SetCurve(ctx context.Context, params SmileParameters) error
	GetCurve(ctx context.Context, root, expiry string) (SmileParameters, error)
	ListExpiries(ctx context.Context, root string) ([]string, error)
}

// RateLimiter enforces request-rate limits shared across processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for change notifications and durable streams
// for the classified-trade feed.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
