// Package feed bridges the vendor market-data stream into the in-process
// event buffer and quote history.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/optflow/internal/buffer"
	"github.com/alanyoungcy/optflow/internal/domain"
	"github.com/alanyoungcy/optflow/internal/flow"
	"github.com/alanyoungcy/optflow/internal/platform/thetadata"
)

// StateNotifier receives feed connectivity transitions, e.g. for alerting.
type StateNotifier func(connected bool)

// Reconnect backoff defaults, applied when Config leaves them zero.
const (
	defaultReconnectBackoff = time.Second
	defaultMaxReconnectWait = 30 * time.Second
)

// Config holds the market feed's endpoint, universe, and reconnect policy.
type Config struct {
	WsURL string
	Roots []string
	// ReconnectBackoff is the delay before the first reconnect attempt; it
	// doubles after each consecutive failure up to MaxReconnectWait.
	ReconnectBackoff time.Duration
	MaxReconnectWait time.Duration
}

// MarketFeed connects to the ThetaData option stream, subscribes to quotes
// and trades for the configured roots, and records every admitted event into
// the buffer and quote history. It reconnects on disconnect.
type MarketFeed struct {
	wsURL   string
	roots   []string
	backoff time.Duration
	maxWait time.Duration
	buf     *buffer.EventBuffer
	history *flow.QuoteHistory
	onState StateNotifier
	logger  *slog.Logger

	quotesSeen     atomic.Int64
	quotesRejected atomic.Int64
	tradesSeen     atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewMarketFeed creates a feed for the given roots. onState may be nil.
func NewMarketFeed(cfg Config, buf *buffer.EventBuffer, history *flow.QuoteHistory, onState StateNotifier, logger *slog.Logger) *MarketFeed {
	backoff := cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = defaultReconnectBackoff
	}
	maxWait := cfg.MaxReconnectWait
	if maxWait <= 0 {
		maxWait = defaultMaxReconnectWait
	}
	if maxWait < backoff {
		maxWait = backoff
	}

	return &MarketFeed{
		wsURL:   cfg.WsURL,
		roots:   cfg.Roots,
		backoff: backoff,
		maxWait: maxWait,
		buf:     buf,
		history: history,
		onState: onState,
		logger:  logger.With(slog.String("component", "market_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects, subscribes to quotes and trades for the configured roots, and
// runs until ctx is cancelled. Reconnects with backoff on disconnect.
func (f *MarketFeed) Run(ctx context.Context) error {
	if len(f.roots) == 0 {
		f.logger.Info("no roots to subscribe, exiting")
		return nil
	}
	wait := f.backoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		subscribed, err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			// The connection was established; start the backoff over.
			wait = f.backoff
		}
		f.logger.Warn("market stream disconnected, reconnecting",
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = nextReconnectWait(wait, f.maxWait)
	}
}

// nextReconnectWait doubles the reconnect delay up to the configured cap.
func nextReconnectWait(cur, limit time.Duration) time.Duration {
	cur *= 2
	if cur > limit {
		return limit
	}
	return cur
}

// runConnection connects, subscribes, and blocks until ctx is cancelled. It
// reports whether the subscription was established so the caller can reset
// its backoff.
func (f *MarketFeed) runConnection(ctx context.Context) (bool, error) {
	client := thetadata.NewWSClient(f.wsURL)
	client.SetReconnectBackoff(f.backoff, f.maxWait)
	defer client.Close()

	client.OnQuote(f.handleQuote)
	client.OnTrade(f.handleTrade)
	client.OnStateChange(func(connected bool) {
		if connected {
			f.logger.Info("market stream reconnected")
		} else {
			f.logger.Warn("market stream connection lost")
		}
		if f.onState != nil {
			f.onState(connected)
		}
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return false, err
	}
	if err := client.Subscribe(ctx, f.roots); err != nil {
		return false, err
	}
	f.logger.Info("market stream subscribed", slog.Int("roots", len(f.roots)))

	<-ctx.Done()
	return true, ctx.Err()
}

// handleQuote admits a quote into the buffer and, when admitted, into the
// quote history used for trade classification. Rejected quotes are counted
// and dropped.
func (f *MarketFeed) handleQuote(q domain.MarketQuote) {
	f.quotesSeen.Add(1)
	if reject := f.buf.RecordQuote(q); reject != domain.QuoteRejectNone {
		f.quotesRejected.Add(1)
		return
	}
	f.history.Record(q)
}

func (f *MarketFeed) handleTrade(t domain.Trade) {
	f.tradesSeen.Add(1)
	f.buf.RecordTrade(t)
}

// Stats returns the cumulative event counters for diagnostics.
func (f *MarketFeed) Stats() (quotesSeen, quotesRejected, tradesSeen int64) {
	return f.quotesSeen.Load(), f.quotesRejected.Load(), f.tradesSeen.Load()
}

// Close stops the feed.
func (f *MarketFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
