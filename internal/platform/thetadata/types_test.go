package thetadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optflow/internal/domain"
)

func TestWireContractToDomain(t *testing.T) {
	c := WireContract{Root: "SPXW", Expiration: 20250117, Strike: 5900000, Right: "C"}

	got := c.ToDomain()
	assert.Equal(t, "SPXW", got.Root)
	assert.Equal(t, "20250117", got.Expiration)
	assert.InDelta(t, 5900.0, got.Strike, 1e-9)
	assert.Equal(t, domain.RightCall, got.Right)
	assert.NoError(t, got.Validate())
}

func TestWireTimestamp(t *testing.T) {
	// 10:30:00.250 exchange time.
	ms := (10*3600 + 30*60) * 1000
	ts := wireTimestamp(20250117, ms+250)

	assert.Equal(t, 2025, ts.Year())
	assert.Equal(t, 17, ts.Day())
	assert.Equal(t, 10, ts.Hour())
	assert.Equal(t, 30, ts.Minute())
	assert.Equal(t, 250*1000*1000, ts.Nanosecond())
}

func TestHandleMessageDispatch(t *testing.T) {
	w := NewWSClient("ws://unused")

	var quotes []domain.MarketQuote
	var trades []domain.Trade
	w.OnQuote(func(q domain.MarketQuote) { quotes = append(quotes, q) })
	w.OnTrade(func(tr domain.Trade) { trades = append(trades, tr) })

	w.handleMessage([]byte(`{
		"header": {"type": "QUOTE"},
		"contract": {"root": "SPXW", "expiration": 20250117, "strike": 5900000, "right": "C"},
		"quote": {"bid": 10.0, "bid_size": 5, "ask": 10.2, "ask_size": 7, "date": 20250115, "ms_of_day": 37800000}
	}`))
	w.handleMessage([]byte(`{
		"header": {"type": "TRADE"},
		"contract": {"root": "SPXW", "expiration": 20250117, "strike": 5900000, "right": "P"},
		"trade": {"price": 10.1, "size": 3, "date": 20250115, "ms_of_day": 37800500}
	}`))
	// Unknown and malformed messages are dropped.
	w.handleMessage([]byte(`{"header": {"type": "OHLC"}}`))
	w.handleMessage([]byte(`not json`))

	require.Len(t, quotes, 1)
	assert.InDelta(t, 10.1, quotes[0].Mid(), 1e-9)
	assert.Equal(t, int64(7), quotes[0].AskSize)

	require.Len(t, trades, 1)
	assert.Equal(t, domain.RightPut, trades[0].Contract.Right)
	assert.Equal(t, domain.SideUnknown, trades[0].Side)
	assert.True(t, trades[0].Timestamp.After(quotes[0].Timestamp))
}
