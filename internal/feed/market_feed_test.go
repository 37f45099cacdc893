package feed

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optflow/internal/buffer"
	"github.com/alanyoungcy/optflow/internal/domain"
	"github.com/alanyoungcy/optflow/internal/flow"
)

func TestHandleQuoteRoutesToBufferAndHistory(t *testing.T) {
	buf := buffer.New(0.15)
	hist := flow.NewQuoteHistory(time.Minute, 0)
	f := NewMarketFeed(Config{WsURL: "ws://unused", Roots: []string{"SPXW"}}, buf, hist, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	c := domain.Contract{Root: "SPXW", Expiration: "20250117", Strike: 5900, Right: domain.RightCall}
	good := domain.MarketQuote{Contract: c, Bid: 10.0, Ask: 10.2, BidSize: 5, AskSize: 5, Timestamp: time.Now()}
	crossed := domain.MarketQuote{Contract: c, Bid: 10.4, Ask: 10.2, BidSize: 5, AskSize: 5, Timestamp: time.Now()}

	f.handleQuote(good)
	f.handleQuote(crossed)

	// Only the admitted quote reaches the history.
	assert.Equal(t, 1, hist.Len(c))
	quotes, _ := buf.Len()
	assert.Equal(t, 1, quotes)

	seen, rejected, _ := f.Stats()
	assert.Equal(t, int64(2), seen)
	assert.Equal(t, int64(1), rejected)
}

func TestHandleTradeRoutesToBuffer(t *testing.T) {
	buf := buffer.New(0.15)
	hist := flow.NewQuoteHistory(time.Minute, 0)
	f := NewMarketFeed(Config{WsURL: "ws://unused", Roots: []string{"SPXW"}}, buf, hist, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	c := domain.Contract{Root: "SPXW", Expiration: "20250117", Strike: 5900, Right: domain.RightPut}
	f.handleTrade(domain.Trade{Contract: c, Price: 10.1, Size: 2, Timestamp: time.Now()})

	snap := buf.Drain()
	require.Len(t, snap.Trades, 1)
	assert.Equal(t, int64(2), snap.Trades[0].Size)
}

func TestReconnectPolicyDefaultsAndOverrides(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	buf := buffer.New(0.15)
	hist := flow.NewQuoteHistory(time.Minute, 0)

	f := NewMarketFeed(Config{WsURL: "ws://unused"}, buf, hist, nil, logger)
	assert.Equal(t, time.Second, f.backoff)
	assert.Equal(t, 30*time.Second, f.maxWait)

	f = NewMarketFeed(Config{
		WsURL:            "ws://unused",
		ReconnectBackoff: 250 * time.Millisecond,
		MaxReconnectWait: 5 * time.Second,
	}, buf, hist, nil, logger)
	assert.Equal(t, 250*time.Millisecond, f.backoff)
	assert.Equal(t, 5*time.Second, f.maxWait)

	// A cap below the base is raised to the base.
	f = NewMarketFeed(Config{
		WsURL:            "ws://unused",
		ReconnectBackoff: 10 * time.Second,
		MaxReconnectWait: time.Second,
	}, buf, hist, nil, logger)
	assert.Equal(t, 10*time.Second, f.maxWait)
}

func TestNextReconnectWaitDoublesToCap(t *testing.T) {
	wait := time.Second
	var seen []time.Duration
	for i := 0; i < 6; i++ {
		wait = nextReconnectWait(wait, 30*time.Second)
		seen = append(seen, wait)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, seen)
}
