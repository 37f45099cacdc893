package surface

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/optflow/internal/buffer"
	"github.com/alanyoungcy/optflow/internal/domain"
	"github.com/alanyoungcy/optflow/internal/flow"
	"github.com/alanyoungcy/optflow/internal/smile"
	"github.com/alanyoungcy/optflow/internal/vol"
)

// SpotProvider supplies the cached underlying price for a root. It must be
// cheap: the scheduler calls it once per root per snapshot.
type SpotProvider interface {
	Spot(ctx context.Context, root string) (float64, time.Time, error)
}

// TradeSink receives the classified trades of one snapshot, in arrival
// order, each exactly once.
type TradeSink interface {
	PublishTrades(ctx context.Context, trades []domain.Trade)
}

// SchedulerConfig holds the snapshot loop parameters.
type SchedulerConfig struct {
	Interval      time.Duration // timer tick, default 1s
	MinInterval   time.Duration // rate limit between snapshot starts
	SpotMaxAge    time.Duration // spot older than this skips the root
	RiskFreeRate  float64
	DividendYield float64
	// ExpiryCutoffHour is the exchange-local hour the options stop trading;
	// time to expiry is measured to this point on the expiration date.
	ExpiryCutoffHour int
}

// exchangeTZ is the exchange local time zone in which the trading cutoff is
// defined. Falls back to UTC if tzdata is unavailable.
var exchangeTZ = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// DefaultSchedulerConfig mirrors the production loop: 1s ticks, 500ms rate
// limit, 10s spot staleness, r=5%, q=1.5%, 16:00 cutoff.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:         time.Second,
		MinInterval:      500 * time.Millisecond,
		SpotMaxAge:       10 * time.Second,
		RiskFreeRate:     0.05,
		DividendYield:    0.015,
		ExpiryCutoffHour: 16,
	}
}

// Scheduler drains the event buffer on a fixed timer, converts quotes and
// trades to implied-volatility points, classifies trade aggressors, fits a
// smile slice per expiry, and publishes the result to the Store.
//
// The scheduler is not re-entrant: a tick that fires while a previous
// snapshot is still running is skipped.
type Scheduler struct {
	cfg     SchedulerConfig
	buf     *buffer.EventBuffer
	history *flow.QuoteHistory
	solver  *vol.Solver
	fitter  *smile.Fitter
	store   *Store
	spots   SpotProvider
	sink    TradeSink
	logger  *slog.Logger

	snapshotting atomic.Bool
	lastStart    atomic.Int64 // unix nanos of the last snapshot start

	failMu       sync.Mutex
	failStreaks  map[string]int
	onFitFailure func(root, expiry string, streak int)
}

// fitFailureStreakAlert is the number of consecutive snapshots a
// (root, expiry) pair must fail to fit before the failure notifier fires.
const fitFailureStreakAlert = 10

// NewScheduler creates a Scheduler. sink may be nil when classified trades
// have no downstream consumer.
func NewScheduler(
	cfg SchedulerConfig,
	buf *buffer.EventBuffer,
	history *flow.QuoteHistory,
	solver *vol.Solver,
	fitter *smile.Fitter,
	store *Store,
	spots SpotProvider,
	sink TradeSink,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		buf:     buf,
		history: history,
		solver:  solver,
		fitter:  fitter,
		store:   store,
		spots:   spots,
		sink:    sink,
		logger:  logger.With(slog.String("component", "snapshot_scheduler")),

		failStreaks: make(map[string]int),
	}
}

// SetFitFailureNotifier registers fn to be called once when a (root, expiry)
// pair reaches fitFailureStreakAlert consecutive snapshots without a
// published curve. Must be called before Run.
func (s *Scheduler) SetFitFailureNotifier(fn func(root, expiry string, streak int)) {
	s.onFitFailure = fn
}

// recordFitOutcome tracks consecutive fit failures per (root, expiry) and
// fires the failure notifier when the streak first crosses the alert
// threshold.
func (s *Scheduler) recordFitOutcome(root, expiry string, fitted bool) {
	key := root + ":" + expiry

	s.failMu.Lock()
	if fitted {
		delete(s.failStreaks, key)
		s.failMu.Unlock()
		return
	}
	s.failStreaks[key]++
	streak := s.failStreaks[key]
	s.failMu.Unlock()

	if streak == fitFailureStreakAlert && s.onFitFailure != nil {
		s.onFitFailure(root, expiry, streak)
	}
}

// Run drives the snapshot loop until ctx is cancelled. Each snapshot runs on
// its own worker goroutine so event admission is never blocked by the
// CPU-bound recomputation; overlapping ticks are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("snapshot scheduler started",
		slog.Duration("interval", s.cfg.Interval),
	)
	defer s.logger.Info("snapshot scheduler stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.maybeSnapshot(ctx, now)
		}
	}
}

// maybeSnapshot starts a snapshot worker when the buffer has events, the
// rate limit has elapsed, and no snapshot is in flight.
func (s *Scheduler) maybeSnapshot(ctx context.Context, now time.Time) {
	if s.buf.Empty() {
		return
	}
	if now.UnixNano()-s.lastStart.Load() < int64(s.cfg.MinInterval) {
		return
	}
	if !s.snapshotting.CompareAndSwap(false, true) {
		return // previous snapshot still running
	}
	s.lastStart.Store(now.UnixNano())

	go func() {
		defer s.snapshotting.Store(false)
		s.runSnapshot(ctx, now)
	}()
}

// runSnapshot performs one full cycle: drain the buffer, solve IVs,
// classify trades, fit the slices, publish.
func (s *Scheduler) runSnapshot(ctx context.Context, now time.Time) {
	snapshotID := uuid.NewString()
	drained := s.buf.Drain()

	quotesByRoot := make(map[string][]domain.MarketQuote)
	for _, q := range drained.Quotes {
		quotesByRoot[q.Contract.Root] = append(quotesByRoot[q.Contract.Root], q)
	}
	tradeIdxByRoot := make(map[string][]int)
	for i, t := range drained.Trades {
		tradeIdxByRoot[t.Contract.Root] = append(tradeIdxByRoot[t.Contract.Root], i)
	}

	roots := make(map[string]struct{})
	for root := range quotesByRoot {
		roots[root] = struct{}{}
	}
	for root := range tradeIdxByRoot {
		roots[root] = struct{}{}
	}

	classified := make([]domain.Trade, len(drained.Trades))
	copy(classified, drained.Trades)

	// Roots share no state, so they are processed in parallel. Per-root
	// failures skip that root only.
	g, gctx := errgroup.WithContext(ctx)
	for root := range roots {
		g.Go(func() error {
			s.processRoot(gctx, snapshotID, now, root, quotesByRoot[root], tradeIdxByRoot[root], classified)
			return nil
		})
	}
	_ = g.Wait()

	if s.sink != nil && len(classified) > 0 {
		s.sink.PublishTrades(ctx, classified)
	}
}

// processRoot converts one root's events into volatility points and fitted
// slices. classified is shared across roots but each root writes only its
// own trade indices.
func (s *Scheduler) processRoot(ctx context.Context, snapshotID string, now time.Time, root string, quotes []domain.MarketQuote, tradeIdx []int, classified []domain.Trade) {
	// Classification needs only the quote history, so it happens even when
	// the spot is unavailable and the rest of the root is skipped.
	for _, i := range tradeIdx {
		t := classified[i]
		before, after := s.history.Bracket(t.Contract, t.Timestamp)
		t.Side = flow.Classify(t.Price, t.Size, before, after)
		classified[i] = t
	}

	spot, spotTS, err := s.spots.Spot(ctx, root)
	if err != nil || spot <= 0 {
		s.logger.Warn("skipping root: no spot price", slog.String("root", root))
		return
	}
	if s.cfg.SpotMaxAge > 0 && now.Sub(spotTS) > s.cfg.SpotMaxAge {
		s.logger.Warn("skipping root: stale spot price",
			slog.String("root", root),
			slog.Time("spot_ts", spotTS),
		)
		return
	}
	s.store.SetSpot(root, spot, spotTS)

	pointsByExpiry := make(map[string][]domain.VolatilityPoint)

	for _, q := range quotes {
		tte := s.timeToExpiry(q.Contract, now)
		iv, ok := s.solver.Solve(spot, q.Contract.Strike, tte, s.cfg.RiskFreeRate, s.cfg.DividendYield, q.Mid(), q.Contract.Right == domain.RightCall)
		if !ok {
			continue
		}
		pointsByExpiry[q.Contract.Expiration] = append(pointsByExpiry[q.Contract.Expiration], domain.VolatilityPoint{
			Contract:   q.Contract,
			ImpliedVol: iv,
			Side:       domain.PriceSideMid,
			Spot:       spot,
			TimeToExp:  tte,
			Timestamp:  q.Timestamp,
		})
	}

	for _, i := range tradeIdx {
		t := classified[i]
		t.Spot = spot

		tte := s.timeToExpiry(t.Contract, now)
		if iv, ok := s.solver.Solve(spot, t.Contract.Strike, tte, s.cfg.RiskFreeRate, s.cfg.DividendYield, t.Price, t.Contract.Right == domain.RightCall); ok {
			t.ImpliedVol = iv
			greeks := vol.ComputeGreeks(spot, t.Contract.Strike, tte, s.cfg.RiskFreeRate, s.cfg.DividendYield, iv, t.Contract.Right == domain.RightCall)
			t.Delta = greeks.Delta
			t.Gamma = greeks.Gamma
			t.Theta = greeks.Theta
			t.Vega = greeks.Vega
			pointsByExpiry[t.Contract.Expiration] = append(pointsByExpiry[t.Contract.Expiration], domain.VolatilityPoint{
				Contract:   t.Contract,
				ImpliedVol: iv,
				Side:       domain.PriceSideTrade,
				Spot:       spot,
				TimeToExp:  tte,
				Timestamp:  t.Timestamp,
			})
		}
		classified[i] = t
	}

	s.fitRoot(snapshotID, now, root, pointsByExpiry)
}

// fitRoot fits each expiry in ascending time-to-expiry order so every slice
// can reference the immediately-shorter expiry for the calendar penalty.
func (s *Scheduler) fitRoot(snapshotID string, now time.Time, root string, pointsByExpiry map[string][]domain.VolatilityPoint) {
	expiries := make([]string, 0, len(pointsByExpiry))
	for expiry := range pointsByExpiry {
		expiries = append(expiries, expiry)
	}
	// YYYYMMDD labels sort chronologically, which is ascending TTE.
	sort.Strings(expiries)

	var prev *domain.SmileParameters
	for _, expiry := range expiries {
		points := pointsByExpiry[expiry]

		fitPoints := make([]smile.Point, 0, len(points))
		var tte float64
		for _, p := range points {
			tte = p.TimeToExp
			fitPoints = append(fitPoints, smile.Point{
				LogMoneyness:  p.LogMoneyness(),
				TotalVariance: p.TotalVariance(),
			})
		}

		params := s.fitter.Fit(fitPoints, s.calendarReference(root, expiry, prev))
		s.recordFitOutcome(root, expiry, params != nil)
		if params == nil {
			s.logger.Debug("no curve this cycle",
				slog.String("root", root),
				slog.String("expiry", expiry),
				slog.Int("points", len(points)),
			)
			continue
		}

		params.Root = root
		params.Expiry = expiry
		params.TimeToExp = tte
		params.SnapshotID = snapshotID
		params.FittedAt = now
		s.store.Publish(*params)
		prev = params

		s.logger.Debug("curve published",
			slog.String("root", root),
			slog.String("expiry", expiry),
			slog.Int("strikes", params.NumStrikes),
			slog.Float64("residual", params.Residual),
		)
	}
}

// calendarReference returns the slice the calendar penalty compares against:
// the shorter-expiry slice fitted earlier in this snapshot when there is one,
// otherwise the store's last published slice for the nearest shorter expiry.
// Returns nil when no shorter slice exists anywhere.
func (s *Scheduler) calendarReference(root, expiry string, prev *domain.SmileParameters) *domain.SmileParameters {
	if prev != nil {
		return prev
	}

	// YYYYMMDD labels compare chronologically as strings.
	var nearest string
	for _, e := range s.store.Expiries(root) {
		if e >= expiry {
			break
		}
		nearest = e
	}
	if nearest == "" {
		return nil
	}
	if p, ok := s.store.Curve(root, nearest); ok {
		return &p
	}
	return nil
}

// timeToExpiry returns the annualized time from now to the contract's
// trading cutoff, floored at zero; the solver applies its own minimum floor.
// The cutoff is an exchange-local wall-clock hour, so it is anchored in
// exchangeTZ rather than UTC.
func (s *Scheduler) timeToExpiry(c domain.Contract, now time.Time) float64 {
	expiry, err := c.ExpiryDate()
	if err != nil {
		return 0
	}
	cutoff := time.Date(expiry.Year(), expiry.Month(), expiry.Day(),
		s.cfg.ExpiryCutoffHour, 0, 0, 0, exchangeTZ)
	return math.Max(0, cutoff.Sub(now).Hours()/24/365)
}
