package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/optflow/internal/buffer"
	"github.com/alanyoungcy/optflow/internal/domain"
	"github.com/alanyoungcy/optflow/internal/feed"
	"github.com/alanyoungcy/optflow/internal/flow"
	"github.com/alanyoungcy/optflow/internal/pipeline"
	"github.com/alanyoungcy/optflow/internal/platform/thetadata"
	"github.com/alanyoungcy/optflow/internal/server"
	"github.com/alanyoungcy/optflow/internal/server/handler"
	"github.com/alanyoungcy/optflow/internal/server/ws"
	"github.com/alanyoungcy/optflow/internal/service"
	"github.com/alanyoungcy/optflow/internal/smile"
	"github.com/alanyoungcy/optflow/internal/surface"
	"github.com/alanyoungcy/optflow/internal/vol"
)

// corePipeline bundles the components of the ingest path: the market feed,
// the spot poller, and the snapshot scheduler that turns buffered events into
// fitted smile slices.
type corePipeline struct {
	feed      *feed.MarketFeed
	spots     *service.SpotService
	scheduler *surface.Scheduler
	store     *surface.Store
	flow      *service.FlowService
}

// LiveMode runs the full service: market-data ingestion, the snapshot loop,
// the archive cron, and the HTTP + WebSocket API backed by the in-process
// surface store.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	g, ctx := errgroup.WithContext(ctx)

	core := a.buildCorePipeline(deps)
	defer core.feed.Close()

	g.Go(func() error { return core.feed.Run(ctx) })
	g.Go(func() error { return core.spots.Run(ctx) })
	g.Go(func() error { return core.scheduler.Run(ctx) })

	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		src := &storeSurfaceSource{store: core.store}
		a.startHTTPServer(ctx, g, deps, src, core.flow)
	}

	return g.Wait()
}

// IngestMode runs ingestion and persistence without the HTTP API. Fitted
// curves and classified trades still reach Postgres, Redis, and the signal
// bus, so a separate serve-mode process can expose them.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	core := a.buildCorePipeline(deps)
	defer core.feed.Close()

	g.Go(func() error { return core.feed.Run(ctx) })
	g.Go(func() error { return core.spots.Run(ctx) })
	g.Go(func() error { return core.scheduler.Run(ctx) })

	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ServeMode runs only the HTTP + WebSocket API, reading curves and spots from
// Redis and trades from Postgres. It pairs with one or more ingest-mode
// processes writing to the same backends.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	src := &cacheSurfaceSource{curves: deps.CurveCache, spots: deps.SpotCache}
	flowSvc := service.NewFlowService(deps.TradeStore, nil, 0, a.logger)
	a.startHTTPServer(ctx, g, deps, src, flowSvc)

	return g.Wait()
}

// buildCorePipeline constructs the buffer, quote history, solver, fitter,
// surface store, spot poller, flow service, snapshot scheduler, and market
// feed from the configuration.
func (a *App) buildCorePipeline(deps *Dependencies) *corePipeline {
	cfg := a.cfg

	buf := buffer.New(cfg.Buffer.MaxRelSpread)
	history := flow.NewQuoteHistory(cfg.Flow.QuoteWindow.Duration, cfg.Flow.MaxQuotesPerKey)

	solverCfg := vol.DefaultSolverConfig()
	solverCfg.MinVol = cfg.Solver.MinVol
	solverCfg.MaxVol = cfg.Solver.MaxVol
	solverCfg.SanityMin = cfg.Solver.SanityMin
	solverCfg.SanityMax = cfg.Solver.SanityMax
	solverCfg.MaxIter = cfg.Solver.MaxIterations
	solver := vol.NewSolver(solverCfg)

	fitter := smile.NewFitter(smile.FitterConfig{
		MinStrikes:      cfg.Fitter.MinStrikes,
		ButterflyWeight: cfg.Fitter.ButterflyWeight,
		CalendarWeight:  cfg.Fitter.CalendarWeight,
		MaxIterations:   cfg.Fitter.MaxIterations,
	})

	// The store invokes onUpdate synchronously from the snapshot worker, so
	// the fan-out to Redis, Postgres, and the signal bus is bounded by a
	// short timeout.
	var store *surface.Store
	store = surface.NewStore(func(u domain.CurveUpdate) {
		params, ok := store.Curve(u.Root, u.Expiry)
		if !ok {
			return
		}
		a.fanOutCurve(deps, params)
	})

	spotSvc := service.NewSpotService(
		thetadata.NewClient(cfg.Feed.RestHost),
		deps.SpotCache,
		cfg.Feed.Roots,
		cfg.Feed.SpotPollInterval.Duration,
		a.logger,
	)

	flowSvc := service.NewFlowService(deps.TradeStore, deps.SignalBus, cfg.Flow.InsertBatchSize, a.logger)

	sched := surface.NewScheduler(
		surface.SchedulerConfig{
			Interval:         cfg.Scheduler.Interval.Duration,
			MinInterval:      cfg.Scheduler.MinInterval.Duration,
			SpotMaxAge:       cfg.Scheduler.SpotMaxAge.Duration,
			RiskFreeRate:     cfg.Solver.RiskFreeRate,
			DividendYield:    cfg.Solver.DividendYield,
			ExpiryCutoffHour: cfg.Scheduler.ExpiryCutoffHour,
		},
		buf, history, solver, fitter, store, spotSvc, flowSvc, a.logger,
	)
	sched.SetFitFailureNotifier(func(root, expiry string, streak int) {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		msg := fmt.Sprintf("%s %s has produced no curve for %d consecutive snapshots", root, expiry, streak)
		if err := deps.Notifier.Notify(nctx, "error", "Curve fit failing", msg); err != nil {
			a.logger.Warn("fit failure notification failed",
				slog.String("root", root),
				slog.String("expiry", expiry),
				slog.String("error", err.Error()),
			)
		}
	})

	mf := feed.NewMarketFeed(
		feed.Config{
			WsURL:            cfg.Feed.WsHost,
			Roots:            cfg.Feed.Roots,
			ReconnectBackoff: cfg.Feed.ReconnectBackoff.Duration,
			MaxReconnectWait: cfg.Feed.MaxReconnectWait.Duration,
		},
		buf,
		history,
		a.feedStateNotifier(deps),
		a.logger,
	)

	return &corePipeline{
		feed:      mf,
		spots:     spotSvc,
		scheduler: sched,
		store:     store,
		flow:      flowSvc,
	}
}

// fanOutCurve pushes a freshly fitted slice to the Redis curve cache, the
// Postgres curve store, and the "curves" pub/sub channel.
func (a *App) fanOutCurve(deps *Dependencies, params domain.SmileParameters) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := deps.CurveCache.SetCurve(ctx, params); err != nil {
		a.logger.Warn("curve cache write failed",
			slog.String("root", params.Root),
			slog.String("expiry", params.Expiry),
			slog.String("error", err.Error()),
		)
	}

	if err := deps.CurveStore.Insert(ctx, params); err != nil {
		a.logger.Error("curve persist failed",
			slog.String("root", params.Root),
			slog.String("expiry", params.Expiry),
			slog.String("error", err.Error()),
		)
	}

	evt, err := json.Marshal(map[string]any{
		"event":       "curve_updated",
		"root":        params.Root,
		"expiry":      params.Expiry,
		"snapshot_id": params.SnapshotID,
		"atm_vol":     params.Vol(0),
		"num_strikes": params.NumStrikes,
		"fitted_at":   params.FittedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	if err := deps.SignalBus.Publish(ctx, "curves", evt); err != nil {
		a.logger.Warn("curve publish failed",
			slog.String("root", params.Root),
			slog.String("error", err.Error()),
		)
	}
}

// feedStateNotifier reports feed connectivity transitions to the configured
// notification channels and the "status" pub/sub channel.
func (a *App) feedStateNotifier(deps *Dependencies) feed.StateNotifier {
	return func(connected bool) {
		event, title := "feed_reconnected", "Market feed reconnected"
		if !connected {
			event, title = "feed_disconnected", "Market feed disconnected"
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msg := fmt.Sprintf("roots: %s", strings.Join(a.cfg.Feed.Roots, ", "))
		if err := deps.Notifier.Notify(ctx, event, title, msg); err != nil {
			a.logger.Warn("feed state notification failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}

		payload, err := json.Marshal(map[string]any{
			"event":     event,
			"connected": connected,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return
		}
		if err := deps.SignalBus.Publish(ctx, "status", payload); err != nil {
			a.logger.Warn("feed state publish failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// startArchiver schedules the nightly archive run when S3 is enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	arch := pipeline.NewArchiver(
		deps.Archiver,
		deps.TradeRetention,
		deps.CurveRetention,
		a.cfg.S3.RetentionDays,
		a.logger,
	)
	cronExpr := a.cfg.S3.ArchiveCron
	g.Go(func() error { return arch.RunCron(ctx, cronExpr) })
}

// startHTTPServer builds the handler set, the WebSocket hub, and the HTTP
// server, and runs them on the errgroup with graceful shutdown on context
// cancellation.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	src handler.SurfaceSource,
	flowSvc *service.FlowService,
) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Roots:     a.cfg.Feed.Roots,
		StartedAt: startedAt,
	})
	g.Go(func() error { return hub.Run(ctx) })

	netFlowWindow := time.Duration(a.cfg.Flow.NetFlowWindowMin) * time.Minute

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, startedAt, a.logger),
		Surface: handler.NewSurfaceHandler(src, a.logger),
		Flow:    handler.NewFlowHandler(flowSvc, netFlowWindow, a.logger),
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		handlers,
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	})
}
