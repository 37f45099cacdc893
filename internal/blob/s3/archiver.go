package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver. The archiver only needs
// the time-ranged query methods it actually calls; the Postgres stores
// satisfy these implicitly.
// ---------------------------------------------------------------------------

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// CurveArchiveStore provides read access to fitted slices for archival
// purposes.
type CurveArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.SmileParameters, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades TradeArchiveStore
	curves CurveArchiveStore
}

// NewArchiver creates a new ArchiveImpl. reader may be nil; when provided it
// is used to merge into a day object that already exists instead of
// overwriting it.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades TradeArchiveStore,
	curves CurveArchiveStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		trades: trades,
		curves: curves,
	}
}

// ArchiveTrades queries all trades before the cutoff, serializes them to
// JSONL, and uploads the file to archive/trades/YYYY-MM-DD.jsonl. Returns the
// number of archived records.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return len(trades), nil
}

// ArchiveCurves queries all fitted slices before the cutoff, serializes them
// to JSONL, and uploads the file to archive/curves/YYYY-MM-DD.jsonl. Returns
// the number of archived records.
func (a *ArchiveImpl) ArchiveCurves(ctx context.Context, before time.Time) (int, error) {
	curves, err := a.curves.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive curves query: %w", err)
	}
	if len(curves) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(curves)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive curves marshal: %w", err)
	}

	path := archivePath("curves", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive curves upload: %w", err)
	}

	return len(curves), nil
}

// upload writes buf to path. When a reader is available and the object
// already exists, the existing content is merged in rather than overwritten:
// rows that aged into the cutoff window after an earlier run for the same day
// must still reach the archive, because the caller prunes them afterward.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("check %s: %w", path, err)
		}
		if exists {
			rc, err := a.reader.Get(ctx, path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			existing, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			buf = mergeJSONL(existing, buf)
		}
	}
	if err := a.writer.Write(ctx, path, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// mergeJSONL appends the lines of update that are not already present in
// existing. Existing content is preserved byte for byte; duplicate lines can
// occur when a prior run uploaded but failed to prune.
func mergeJSONL(existing, update []byte) []byte {
	seen := make(map[string]struct{})
	for _, line := range bytes.Split(existing, []byte("\n")) {
		if len(line) > 0 {
			seen[string(line)] = struct{}{}
		}
	}

	var out bytes.Buffer
	out.Write(existing)
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		out.WriteByte('\n')
	}
	for _, line := range bytes.Split(update, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if _, dup := seen[string(line)]; dup {
			continue
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

// archivePath builds the S3 key for an archive file, partitioned by the
// day of the cutoff time.
//
//	archive/trades/2025-01-15.jsonl
//	archive/curves/2025-01-15.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
