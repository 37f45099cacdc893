package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optflow/internal/domain"
)

func contract(strike float64) domain.Contract {
	return domain.Contract{
		Root:       "SPXW",
		Expiration: "20250117",
		Strike:     strike,
		Right:      domain.RightCall,
	}
}

func validQuote(strike, bid, ask float64) domain.MarketQuote {
	return domain.MarketQuote{
		Contract:  contract(strike),
		Bid:       bid,
		Ask:       ask,
		BidSize:   10,
		AskSize:   10,
		Timestamp: time.Now(),
	}
}

func TestRecordQuoteLastWriteWins(t *testing.T) {
	b := New(0.15)

	require.Equal(t, domain.QuoteRejectNone, b.RecordQuote(validQuote(5900, 10.00, 10.10)))
	require.Equal(t, domain.QuoteRejectNone, b.RecordQuote(validQuote(5900, 10.05, 10.15)))

	snap := b.Drain()
	require.Len(t, snap.Quotes, 1)
	for _, q := range snap.Quotes {
		assert.InDelta(t, 10.05, q.Bid, 1e-9)
	}
}

func TestRecordQuoteAdmission(t *testing.T) {
	b := New(0.15)

	assert.Equal(t, domain.QuoteRejectBadPrice, b.RecordQuote(validQuote(5900, 0, 10.10)))
	assert.Equal(t, domain.QuoteRejectCrossed, b.RecordQuote(validQuote(5900, 10.20, 10.10)))
	// 2.00/11.00 mid is over an 18% relative spread.
	assert.Equal(t, domain.QuoteRejectWideSpread, b.RecordQuote(validQuote(5900, 10.00, 12.00)))

	bad := validQuote(0, 10.00, 10.10)
	assert.Equal(t, domain.QuoteRejectContract, b.RecordQuote(bad))

	assert.True(t, b.Empty())
}

func TestRecordTradeRejectsMalformed(t *testing.T) {
	b := New(0.15)

	ok := b.RecordTrade(domain.Trade{Contract: contract(5900), Price: 0, Size: 1, Timestamp: time.Now()})
	assert.False(t, ok)
	ok = b.RecordTrade(domain.Trade{Contract: contract(5900), Price: 10, Size: 0, Timestamp: time.Now()})
	assert.False(t, ok)

	ok = b.RecordTrade(domain.Trade{Contract: contract(5900), Price: 10, Size: 1, Timestamp: time.Now()})
	assert.True(t, ok)

	snap := b.Drain()
	assert.Len(t, snap.Trades, 1)
}

func TestDrainEmptiesBuffer(t *testing.T) {
	b := New(0.15)

	b.RecordQuote(validQuote(5900, 10.00, 10.10))
	b.RecordTrade(domain.Trade{Contract: contract(5900), Price: 10.05, Size: 2, Timestamp: time.Now()})

	snap := b.Drain()
	assert.Len(t, snap.Quotes, 1)
	assert.Len(t, snap.Trades, 1)

	assert.True(t, b.Empty())
	again := b.Drain()
	assert.Empty(t, again.Quotes)
	assert.Empty(t, again.Trades)
}

func TestConcurrentRecordThenDrain(t *testing.T) {
	const n = 200
	b := New(0)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Two writes per key; the second must win.
			strike := 5000 + float64(i)
			b.RecordQuote(validQuote(strike, 1.00, 1.10))
			b.RecordQuote(validQuote(strike, 2.00, 2.10))
		}(i)
	}
	wg.Wait()

	snap := b.Drain()
	require.Len(t, snap.Quotes, n)
	for key, q := range snap.Quotes {
		assert.InDelta(t, 2.00, q.Bid, 1e-9, fmt.Sprintf("key %s", key))
	}
}
