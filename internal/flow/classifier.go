// Package flow infers the aggressor side of option trades from the quote
// context bracketing each execution and maintains the per-contract quote
// history the bracketing draws from.
package flow

import "github.com/alanyoungcy/optflow/internal/domain"

// Spread-position thresholds. A trade printing above the 90% line of the
// spread is treated as buyer-initiated outright; between the lines the
// decision falls to size pressure and then the standard 70/30 rule.
const (
	insideBuyFrac  = 0.90
	insideSellFrac = 0.10
	wideBuyFrac    = 0.70
	wideSellFrac   = 0.30
)

// Classify infers the aggressor side of an execution from the nearest quotes
// before and after it. Either quote may be nil; with no quote on either side
// the result is UNKNOWN. The decision order is fixed and first-match-wins:
//
//  1. print at the touch with a same-side size decrease afterward
//  2. one-sided quote shift
//  3. position inside the spread (90/10, then size pressure, then 70/30)
//  4. print at or through the touch
//  5. tick test on the midpoint
//
// Classify is a pure function of its inputs: no state, deterministic,
// idempotent.
func Classify(price float64, size int64, before, after *domain.MarketQuote) domain.TradeSide {
	ref := before
	if ref == nil {
		ref = after
	}
	if ref == nil {
		return domain.SideUnknown
	}

	// Rule 1: a resting order being lifted or hit. Needs both quotes.
	if before != nil && after != nil {
		if price == before.Ask && after.AskSize < before.AskSize && after.Bid == before.Bid {
			return domain.SideBuy
		}
		if price == before.Bid && after.BidSize < before.BidSize && after.Ask == before.Ask {
			return domain.SideSell
		}

		// Rule 2: one side of the book moved in response to the print.
		if after.Ask < before.Ask && after.Bid == before.Bid {
			return domain.SideBuy
		}
		if after.Bid > before.Bid && after.Ask == before.Ask {
			return domain.SideSell
		}
	}

	// Rule 3: price strictly inside the reference spread.
	if spread := ref.Spread(); spread > 0 && price > ref.Bid && price < ref.Ask {
		pos := (price - ref.Bid) / spread
		if pos > insideBuyFrac {
			return domain.SideBuy
		}
		if pos < insideSellFrac {
			return domain.SideSell
		}
		if before != nil && after != nil {
			if after.AskSize < before.AskSize && after.BidSize >= before.BidSize {
				return domain.SideBuy
			}
			if after.BidSize < before.BidSize && after.AskSize >= before.AskSize {
				return domain.SideSell
			}
		}
		if pos >= wideBuyFrac {
			return domain.SideBuy
		}
		if pos <= wideSellFrac {
			return domain.SideSell
		}
	} else {
		// Rule 4: at or through the touch.
		if price >= ref.Ask {
			return domain.SideBuy
		}
		if price <= ref.Bid {
			return domain.SideSell
		}
	}

	// Rule 5: tick test on the quote midpoint.
	if before != nil && after != nil {
		switch {
		case after.Mid() > before.Mid():
			return domain.SideBuy
		case after.Mid() < before.Mid():
			return domain.SideSell
		}
	}
	return domain.SideUnknown
}
