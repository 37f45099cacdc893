// Package buffer provides the thread-safe event buffer that decouples the
// high-frequency ingestion path from the periodic snapshot computation.
package buffer

import (
	"sync"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// Snapshot is the result of one Drain: the latest admitted quote per
// contract key and every trade recorded since the previous drain.
type Snapshot struct {
	Quotes map[string]domain.MarketQuote
	Trades []domain.Trade
}

// EventBuffer coalesces raw market events between snapshot ticks. Quotes are
// keyed by contract; recording a second quote for the same key before a
// drain overwrites the first, so only the latest observation per key per
// interval is retained. Trades are appended in arrival order; each
// execution is its own observation. All operations are O(1) per event and
// safe for concurrent use from transport callbacks.
type EventBuffer struct {
	mu     sync.Mutex
	quotes map[string]domain.MarketQuote
	trades []domain.Trade

	maxRelSpread float64
}

// New creates an EventBuffer. maxRelSpread is the quote admission threshold
// (relative spread above it rejects the quote); zero disables the check.
func New(maxRelSpread float64) *EventBuffer {
	return &EventBuffer{
		quotes:       make(map[string]domain.MarketQuote),
		maxRelSpread: maxRelSpread,
	}
}

// RecordQuote admits a quote into the buffer. Malformed or economically
// invalid quotes are rejected and the reason returned; rejected quotes never
// enter the data model.
func (b *EventBuffer) RecordQuote(q domain.MarketQuote) domain.QuoteReject {
	if reject := q.Check(b.maxRelSpread); reject != domain.QuoteRejectNone {
		return reject
	}

	b.mu.Lock()
	b.quotes[q.Contract.Key()] = q
	b.mu.Unlock()
	return domain.QuoteRejectNone
}

// RecordTrade appends a trade. Malformed trades are rejected silently; the
// boolean reports whether the trade was stored.
func (b *EventBuffer) RecordTrade(t domain.Trade) bool {
	if t.Validate() != nil {
		return false
	}

	b.mu.Lock()
	b.trades = append(b.trades, t)
	b.mu.Unlock()
	return true
}

// Drain atomically empties the buffer and returns its contents.
func (b *EventBuffer) Drain() Snapshot {
	b.mu.Lock()
	snap := Snapshot{Quotes: b.quotes, Trades: b.trades}
	b.quotes = make(map[string]domain.MarketQuote)
	b.trades = nil
	b.mu.Unlock()
	return snap
}

// Len returns the number of buffered quote keys and trades.
func (b *EventBuffer) Len() (quotes, trades int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.quotes), len(b.trades)
}

// Empty reports whether the buffer holds no events.
func (b *EventBuffer) Empty() bool {
	q, t := b.Len()
	return q == 0 && t == 0
}
