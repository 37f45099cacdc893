package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter writes immutable objects to cold storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader reads back objects from cold storage.
type BlobReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Archiver moves aged records from the primary store to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int, error)
	ArchiveCurves(ctx context.Context, before time.Time) (int, error)
}
