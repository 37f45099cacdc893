package app

import (
	"context"
	"time"

	"github.com/alanyoungcy/optflow/internal/domain"
	"github.com/alanyoungcy/optflow/internal/server/handler"
	"github.com/alanyoungcy/optflow/internal/surface"
)

// storeSurfaceSource serves the API from the in-process surface store. Used
// in live mode, where the snapshot scheduler and the HTTP server share a
// process.
type storeSurfaceSource struct {
	store *surface.Store
}

var _ handler.SurfaceSource = (*storeSurfaceSource)(nil)

func (s *storeSurfaceSource) Curve(_ context.Context, root, expiry string) (domain.SmileParameters, error) {
	params, ok := s.store.Curve(root, expiry)
	if !ok {
		return domain.SmileParameters{}, domain.ErrNotFound
	}
	return params, nil
}

func (s *storeSurfaceSource) Expiries(_ context.Context, root string) ([]string, error) {
	return s.store.Expiries(root), nil
}

func (s *storeSurfaceSource) Spot(_ context.Context, root string) (float64, time.Time, error) {
	price, ts, ok := s.store.Spot(root)
	if !ok {
		return 0, time.Time{}, domain.ErrSpotUnavailable
	}
	return price, ts, nil
}

// cacheSurfaceSource serves the API from Redis. Used in serve mode, where
// curves and spots are written by a separate ingest process.
type cacheSurfaceSource struct {
	curves domain.CurveCache
	spots  domain.SpotCache
}

var _ handler.SurfaceSource = (*cacheSurfaceSource)(nil)

func (s *cacheSurfaceSource) Curve(ctx context.Context, root, expiry string) (domain.SmileParameters, error) {
	return s.curves.GetCurve(ctx, root, expiry)
}

func (s *cacheSurfaceSource) Expiries(ctx context.Context, root string) ([]string, error) {
	return s.curves.ListExpiries(ctx, root)
}

func (s *cacheSurfaceSource) Spot(ctx context.Context, root string) (float64, time.Time, error) {
	return s.spots.GetSpot(ctx, root)
}
