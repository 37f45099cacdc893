package surface

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optflow/internal/buffer"
	"github.com/alanyoungcy/optflow/internal/domain"
	"github.com/alanyoungcy/optflow/internal/flow"
	"github.com/alanyoungcy/optflow/internal/smile"
	"github.com/alanyoungcy/optflow/internal/vol"
)

type fakeSpots struct {
	prices map[string]float64
	ts     time.Time
}

func (f *fakeSpots) Spot(_ context.Context, root string) (float64, time.Time, error) {
	price, ok := f.prices[root]
	if !ok {
		return 0, time.Time{}, domain.ErrSpotUnavailable
	}
	return price, f.ts, nil
}

type captureSink struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (c *captureSink) PublishTrades(_ context.Context, trades []domain.Trade) {
	c.mu.Lock()
	c.trades = append(c.trades, trades...)
	c.mu.Unlock()
}

type schedFixture struct {
	buf     *buffer.EventBuffer
	hist    *flow.QuoteHistory
	store   *Store
	spots   *fakeSpots
	sink    *captureSink
	sched   *Scheduler
	updates []domain.CurveUpdate
}

func newSchedFixture(spots map[string]float64, now time.Time) *schedFixture {
	fx := &schedFixture{
		buf:   buffer.New(0.15),
		hist:  flow.NewQuoteHistory(time.Minute, 0),
		spots: &fakeSpots{prices: spots, ts: now},
		sink:  &captureSink{},
	}
	fx.store = NewStore(func(u domain.CurveUpdate) { fx.updates = append(fx.updates, u) })
	fx.sched = NewScheduler(
		DefaultSchedulerConfig(),
		fx.buf,
		fx.hist,
		vol.NewSolver(vol.DefaultSolverConfig()),
		smile.NewFitter(smile.DefaultFitterConfig()),
		fx.store,
		fx.spots,
		fx.sink,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return fx
}

func testContract(expiry string, strike float64) domain.Contract {
	return domain.Contract{
		Root:       "SPXW",
		Expiration: expiry,
		Strike:     strike,
		Right:      domain.RightCall,
	}
}

func TestSnapshotPublishesCurve(t *testing.T) {
	now := time.Now()
	expiry := now.AddDate(0, 1, 0).Format("20060102")
	const spot, sigma = 5900.0, 0.30

	fx := newSchedFixture(map[string]float64{"SPXW": spot}, now)

	// Five strikes quoted at the theoretical price for a flat 30% vol, so
	// every mid solves cleanly and the fitted slice is near flat.
	cfg := fx.sched.cfg
	for _, strike := range []float64{5400, 5650, 5900, 6150, 6400} {
		c := testContract(expiry, strike)
		tte := fx.sched.timeToExpiry(c, now)
		price := vol.Price(spot, strike, tte, cfg.RiskFreeRate, cfg.DividendYield, sigma, true)
		reject := fx.buf.RecordQuote(domain.MarketQuote{
			Contract:  c,
			Bid:       price - 0.05,
			Ask:       price + 0.05,
			BidSize:   10,
			AskSize:   10,
			Timestamp: now,
		})
		require.Equal(t, domain.QuoteRejectNone, reject)
	}

	fx.sched.runSnapshot(context.Background(), now)

	assert.True(t, fx.buf.Empty())

	curve, ok := fx.store.Curve("SPXW", expiry)
	require.True(t, ok, "curve should be published after the snapshot")
	assert.Equal(t, 5, curve.NumStrikes)
	assert.NotEmpty(t, curve.SnapshotID)
	assert.InDelta(t, sigma, curve.Vol(0), 0.02)

	assert.Equal(t, []string{expiry}, fx.store.Expiries("SPXW"))

	require.Len(t, fx.updates, 1)
	assert.Equal(t, expiry, fx.updates[0].Expiry)
	assert.Equal(t, curve.SnapshotID, fx.updates[0].SnapshotID)

	storedSpot, _, ok := fx.store.Spot("SPXW")
	require.True(t, ok)
	assert.InDelta(t, spot, storedSpot, 1e-9)
}

func TestSnapshotClassifiesTradesInArrivalOrder(t *testing.T) {
	now := time.Now()
	expiry := now.AddDate(0, 1, 0).Format("20060102")
	fx := newSchedFixture(map[string]float64{"SPXW": 5900}, now)

	c := testContract(expiry, 5900)
	t0 := now.Add(-2 * time.Second)

	fx.hist.Record(domain.MarketQuote{
		Contract: c, Bid: 118.0, Ask: 120.0, BidSize: 10, AskSize: 10, Timestamp: t0,
	})
	fx.hist.Record(domain.MarketQuote{
		Contract: c, Bid: 118.0, Ask: 120.0, BidSize: 10, AskSize: 6, Timestamp: t0.Add(100 * time.Millisecond),
	})

	// Trade at the ask with the resting size shrinking afterwards: a lifted
	// offer, hence a buy.
	require.True(t, fx.buf.RecordTrade(domain.Trade{
		Contract: c, Price: 120.0, Size: 4, Timestamp: t0.Add(50 * time.Millisecond),
	}))
	// A contract with no quote history stays unknown.
	require.True(t, fx.buf.RecordTrade(domain.Trade{
		Contract: testContract(expiry, 6000), Price: 120.0, Size: 1, Timestamp: t0.Add(60 * time.Millisecond),
	}))

	fx.sched.runSnapshot(context.Background(), now)

	require.Len(t, fx.sink.trades, 2)
	assert.Equal(t, 5900.0, fx.sink.trades[0].Contract.Strike)
	assert.Equal(t, domain.SideBuy, fx.sink.trades[0].Side)
	assert.Greater(t, fx.sink.trades[0].ImpliedVol, 0.0)
	assert.InDelta(t, 5900.0, fx.sink.trades[0].Spot, 1e-9)

	// Greeks ride along with the solved IV: a near-ATM call.
	assert.Greater(t, fx.sink.trades[0].Delta, 0.0)
	assert.Less(t, fx.sink.trades[0].Delta, 1.0)
	assert.Greater(t, fx.sink.trades[0].Gamma, 0.0)
	assert.Greater(t, fx.sink.trades[0].Vega, 0.0)
	assert.Less(t, fx.sink.trades[0].Theta, 0.0)

	assert.Equal(t, 6000.0, fx.sink.trades[1].Contract.Strike)
	assert.Equal(t, domain.SideUnknown, fx.sink.trades[1].Side)
}

func TestSnapshotSkipsRootWithoutSpot(t *testing.T) {
	now := time.Now()
	expiry := now.AddDate(0, 1, 0).Format("20060102")
	fx := newSchedFixture(map[string]float64{}, now)

	c := testContract(expiry, 5900)
	fx.hist.Record(domain.MarketQuote{
		Contract: c, Bid: 118.0, Ask: 120.0, BidSize: 10, AskSize: 10, Timestamp: now.Add(-time.Second),
	})
	fx.buf.RecordQuote(domain.MarketQuote{
		Contract: c, Bid: 118.0, Ask: 120.0, BidSize: 10, AskSize: 10, Timestamp: now,
	})
	require.True(t, fx.buf.RecordTrade(domain.Trade{
		Contract: c, Price: 120.0, Size: 2, Timestamp: now,
	}))

	fx.sched.runSnapshot(context.Background(), now)

	// No spot means no IVs and no curves for the root, but classification
	// still runs and the trade is still emitted.
	assert.Empty(t, fx.store.Roots())
	require.Len(t, fx.sink.trades, 1)
	assert.Equal(t, domain.SideBuy, fx.sink.trades[0].Side)
	assert.Zero(t, fx.sink.trades[0].ImpliedVol)
}

func TestSnapshotSkipsStaleSpot(t *testing.T) {
	now := time.Now()
	expiry := now.AddDate(0, 1, 0).Format("20060102")
	fx := newSchedFixture(map[string]float64{"SPXW": 5900}, now)
	fx.spots.ts = now.Add(-time.Minute)

	fx.buf.RecordQuote(domain.MarketQuote{
		Contract: testContract(expiry, 5900), Bid: 118.0, Ask: 120.0, BidSize: 10, AskSize: 10, Timestamp: now,
	})

	fx.sched.runSnapshot(context.Background(), now)

	assert.Empty(t, fx.store.Roots())
}

func TestMaybeSnapshotSkipsWhileRunning(t *testing.T) {
	now := time.Now()
	expiry := now.AddDate(0, 1, 0).Format("20060102")
	fx := newSchedFixture(map[string]float64{"SPXW": 5900}, now)

	fx.buf.RecordQuote(domain.MarketQuote{
		Contract: testContract(expiry, 5900), Bid: 118.0, Ask: 120.0, BidSize: 10, AskSize: 10, Timestamp: now,
	})

	fx.sched.snapshotting.Store(true)
	fx.sched.maybeSnapshot(context.Background(), now)
	assert.False(t, fx.buf.Empty(), "tick during a running snapshot must be skipped")

	fx.sched.snapshotting.Store(false)
	fx.sched.maybeSnapshot(context.Background(), now)
	require.Eventually(t, fx.buf.Empty, 2*time.Second, 10*time.Millisecond)
}

func TestMaybeSnapshotRateLimited(t *testing.T) {
	now := time.Now()
	expiry := now.AddDate(0, 1, 0).Format("20060102")
	fx := newSchedFixture(map[string]float64{"SPXW": 5900}, now)

	fx.buf.RecordQuote(domain.MarketQuote{
		Contract: testContract(expiry, 5900), Bid: 118.0, Ask: 120.0, BidSize: 10, AskSize: 10, Timestamp: now,
	})

	fx.sched.lastStart.Store(now.Add(-100 * time.Millisecond).UnixNano())
	fx.sched.maybeSnapshot(context.Background(), now)
	assert.False(t, fx.buf.Empty(), "tick inside the minimum interval must be skipped")
}

func TestTimeToExpiryUsesExchangeCutoff(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	fx := newSchedFixture(map[string]float64{"SPXW": 5900}, time.Now())
	require.Equal(t, 16, fx.sched.cfg.ExpiryCutoffHour)

	// 10:00 New York on expiration day leaves six hours to the 16:00 cutoff,
	// regardless of the offset between New York and UTC.
	now := time.Date(2027, 1, 15, 10, 0, 0, 0, loc)
	tte := fx.sched.timeToExpiry(testContract("20270115", 5900), now)
	assert.InDelta(t, 6.0/(24*365), tte, 1e-9)

	// Same instant expressed in UTC must give the same answer.
	assert.InDelta(t, tte, fx.sched.timeToExpiry(testContract("20270115", 5900), now.UTC()), 1e-12)

	// Past the cutoff the time is floored at zero.
	after := time.Date(2027, 1, 15, 17, 0, 0, 0, loc)
	assert.Zero(t, fx.sched.timeToExpiry(testContract("20270115", 5900), after))
}

func TestCalendarReferenceFallsBackToStore(t *testing.T) {
	now := time.Now()
	fx := newSchedFixture(map[string]float64{"SPXW": 5900}, now)

	// Nothing fitted this snapshot and nothing published: no reference.
	assert.Nil(t, fx.sched.calendarReference("SPXW", "20270219", nil))

	published := domain.SmileParameters{
		Root: "SPXW", Expiry: "20270115",
		A: 0.04, B: 0.1, Sigma: 0.2, TimeToExp: 0.12,
		NumStrikes: 7, SnapshotID: "snap-1", FittedAt: now,
	}
	fx.store.Publish(published)
	fx.store.Publish(domain.SmileParameters{
		Root: "SPXW", Expiry: "20270319", A: 0.05, NumStrikes: 5, FittedAt: now,
	})

	// With no shorter slice from this snapshot the store's nearest shorter
	// expiry fills in; the longer published expiry is never a candidate.
	ref := fx.sched.calendarReference("SPXW", "20270219", nil)
	require.NotNil(t, ref)
	assert.Equal(t, "20270115", ref.Expiry)
	assert.Equal(t, published.SnapshotID, ref.SnapshotID)

	// A slice fitted earlier in the same snapshot always wins.
	prev := &domain.SmileParameters{Root: "SPXW", Expiry: "20270129"}
	assert.Same(t, prev, fx.sched.calendarReference("SPXW", "20270219", prev))

	// The front expiry has nothing shorter than itself.
	assert.Nil(t, fx.sched.calendarReference("SPXW", "20270115", nil))
}

func TestFitFailureStreakFiresOnceAtThreshold(t *testing.T) {
	now := time.Now()
	fx := newSchedFixture(map[string]float64{"SPXW": 5900}, now)

	var fired []int
	fx.sched.SetFitFailureNotifier(func(root, expiry string, streak int) {
		assert.Equal(t, "SPXW", root)
		assert.Equal(t, "20270115", expiry)
		fired = append(fired, streak)
	})

	for i := 0; i < fitFailureStreakAlert+5; i++ {
		fx.sched.recordFitOutcome("SPXW", "20270115", false)
	}
	assert.Equal(t, []int{fitFailureStreakAlert}, fired)

	// A successful fit resets the streak; the notifier can fire again on the
	// next sustained run of failures.
	fx.sched.recordFitOutcome("SPXW", "20270115", true)
	for i := 0; i < fitFailureStreakAlert; i++ {
		fx.sched.recordFitOutcome("SPXW", "20270115", false)
	}
	assert.Len(t, fired, 2)
}
