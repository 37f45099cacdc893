package domain

import "time"

// MarketQuote is one bid/ask observation for a single contract. Quotes are
// admitted into the data model only after passing Check: positive prices,
// uncrossed book, and a relative spread within the configured maximum.
type MarketQuote struct {
	Contract  Contract
	Bid       float64
	Ask       float64
	BidSize   int64
	AskSize   int64
	Timestamp time.Time
}

// Mid returns the quote midpoint.
func (q MarketQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Spread returns the absolute bid/ask spread.
func (q MarketQuote) Spread() float64 {
	return q.Ask - q.Bid
}

// RelativeSpread returns the spread divided by the midpoint. It returns 0
// when the midpoint is not positive.
func (q MarketQuote) RelativeSpread() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return q.Spread() / mid
}

// QuoteReject describes why a quote failed admission.
type QuoteReject string

const (
	QuoteRejectNone       QuoteReject = ""
	QuoteRejectBadPrice   QuoteReject = "non_positive_price"
	QuoteRejectCrossed    QuoteReject = "crossed"
	QuoteRejectWideSpread QuoteReject = "wide_spread"
	QuoteRejectContract   QuoteReject = "bad_contract"
)

// Check validates the quote against the admission rules. maxRelSpread is the
// maximum relative spread (for example 0.15 for 15%).
func (q MarketQuote) Check(maxRelSpread float64) QuoteReject {
	if q.Contract.Validate() != nil {
		return QuoteRejectContract
	}
	if q.Bid <= 0 || q.Ask <= 0 {
		return QuoteRejectBadPrice
	}
	if q.Ask < q.Bid {
		return QuoteRejectCrossed
	}
	if maxRelSpread > 0 && q.RelativeSpread() > maxRelSpread {
		return QuoteRejectWideSpread
	}
	return QuoteRejectNone
}
