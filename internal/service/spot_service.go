package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/optflow/internal/domain"
	"github.com/alanyoungcy/optflow/internal/surface"
)

// SpotFetcher retrieves the current underlying price from the market data
// host. The ThetaData REST client satisfies this.
type SpotFetcher interface {
	GetSpot(ctx context.Context, root string) (float64, time.Time, error)
}

// SpotService polls the underlying price for every configured root on a fixed
// interval and keeps the spot cache current. It also serves cached reads for
// the snapshot scheduler.
type SpotService struct {
	fetcher  SpotFetcher
	cache    domain.SpotCache
	roots    []string
	interval time.Duration
	logger   *slog.Logger
}

// NewSpotService creates a SpotService polling the given roots. A
// non-positive interval defaults to one second.
func NewSpotService(
	fetcher SpotFetcher,
	cache domain.SpotCache,
	roots []string,
	interval time.Duration,
	logger *slog.Logger,
) *SpotService {
	if interval <= 0 {
		interval = time.Second
	}
	return &SpotService{
		fetcher:  fetcher,
		cache:    cache,
		roots:    roots,
		interval: interval,
		logger:   logger.With(slog.String("component", "spot_service")),
	}
}

// Run polls until ctx is cancelled. A failed poll for one root leaves its
// previous cached value in place; staleness is the scheduler's call.
func (s *SpotService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("spot polling started",
		slog.Int("roots", len(s.roots)),
		slog.Duration("interval", s.interval),
	)
	defer s.logger.Info("spot polling stopped")

	// Prime the cache immediately instead of waiting out the first tick.
	s.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollAll(ctx)
		}
	}
}

// pollAll refreshes every root concurrently, bounded so a slow host cannot
// pile up requests across ticks.
func (s *SpotService) pollAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, root := range s.roots {
		g.Go(func() error {
			s.pollOne(gctx, root)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *SpotService) pollOne(ctx context.Context, root string) {
	price, ts, err := s.fetcher.GetSpot(ctx, root)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("spot_service: fetch failed",
				slog.String("root", root),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if err := s.cache.SetSpot(ctx, root, price, ts); err != nil {
		s.logger.Warn("spot_service: cache write failed",
			slog.String("root", root),
			slog.String("error", err.Error()),
		)
	}
}

// Spot returns the cached underlying price for a root. A cache miss maps to
// domain.ErrSpotUnavailable so callers need not know about cache internals.
func (s *SpotService) Spot(ctx context.Context, root string) (float64, time.Time, error) {
	price, ts, err := s.cache.GetSpot(ctx, root)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, time.Time{}, fmt.Errorf("spot_service: %s: %w", root, domain.ErrSpotUnavailable)
		}
		return 0, time.Time{}, fmt.Errorf("spot_service: get spot for %s: %w", root, err)
	}
	return price, ts, nil
}

// Compile-time interface check.
var _ surface.SpotProvider = (*SpotService)(nil)
