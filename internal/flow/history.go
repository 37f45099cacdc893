package flow

import (
	"sync"
	"time"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// QuoteHistory maintains a sliding window of admitted quotes per contract so
// trades can be bracketed by the nearest quote observations on either side
// of their timestamp. The transport guarantees per-contract timestamps are
// non-decreasing, so appends keep each window sorted.
type QuoteHistory struct {
	mu     sync.RWMutex
	byKey  map[string][]domain.MarketQuote
	window time.Duration
	maxPer int
}

// NewQuoteHistory creates a history that retains quotes for at most window
// per contract and never more than maxPerContract entries.
func NewQuoteHistory(window time.Duration, maxPerContract int) *QuoteHistory {
	if maxPerContract <= 0 {
		maxPerContract = 256
	}
	return &QuoteHistory{
		byKey:  make(map[string][]domain.MarketQuote),
		window: window,
		maxPer: maxPerContract,
	}
}

// Record appends a quote to its contract's window and trims aged entries.
func (h *QuoteHistory) Record(q domain.MarketQuote) {
	key := q.Contract.Key()

	h.mu.Lock()
	defer h.mu.Unlock()

	quotes := append(h.byKey[key], q)

	if h.window > 0 {
		cutoff := q.Timestamp.Add(-h.window)
		trim := 0
		for trim < len(quotes)-1 && quotes[trim].Timestamp.Before(cutoff) {
			trim++
		}
		quotes = quotes[trim:]
	}
	if len(quotes) > h.maxPer {
		quotes = quotes[len(quotes)-h.maxPer:]
	}
	h.byKey[key] = quotes
}

// Bracket returns copies of the nearest quote at-or-before ts and the
// nearest quote strictly after ts for the contract. Either side may be nil
// when no such quote exists.
func (h *QuoteHistory) Bracket(c domain.Contract, ts time.Time) (before, after *domain.MarketQuote) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	quotes := h.byKey[c.Key()]
	for i := range quotes {
		if quotes[i].Timestamp.After(ts) {
			q := quotes[i]
			after = &q
			break
		}
		q := quotes[i]
		before = &q
	}
	return before, after
}

// Len returns the number of retained quotes for a contract. Test helper and
// diagnostics only.
func (h *QuoteHistory) Len(c domain.Contract) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byKey[c.Key()])
}
