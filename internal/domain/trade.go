package domain

import "time"

// TradeSide is the inferred aggressor side of an execution.
type TradeSide string

const (
	SideBuy     TradeSide = "BUY"
	SideSell    TradeSide = "SELL"
	SideUnknown TradeSide = "UNKNOWN"
)

// Trade is one option execution. Side is assigned exactly once by the trade
// classifier during a snapshot; it is never reassigned afterward.
type Trade struct {
	ID        string // UUID, assigned at persistence time
	Contract  Contract
	Price     float64
	Size      int64
	Timestamp time.Time
	Side      TradeSide

	// ImpliedVol is the solved IV for this execution, 0 when the solver
	// produced no observation.
	ImpliedVol float64
	// Spot is the underlying price used for the IV solve.
	Spot float64

	// Greeks evaluated at ImpliedVol; all zero when no IV was solved.
	// Theta is per year.
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// SignedSize returns size signed by aggressor: positive for buyer-initiated,
// negative for seller-initiated, zero for UNKNOWN.
func (t Trade) SignedSize() int64 {
	switch t.Side {
	case SideBuy:
		return t.Size
	case SideSell:
		return -t.Size
	default:
		return 0
	}
}

// Premium returns the dollar premium of the execution using the standard
// 100-share contract multiplier, signed by aggressor.
func (t Trade) Premium() float64 {
	p := t.Price * float64(t.Size) * 100
	if t.Side == SideSell {
		return -p
	}
	if t.Side == SideUnknown {
		return 0
	}
	return p
}

// Validate checks that the trade carries a usable contract, price, and size.
func (t Trade) Validate() error {
	if err := t.Contract.Validate(); err != nil {
		return err
	}
	if t.Price <= 0 {
		return ErrBadPrice
	}
	if t.Size <= 0 {
		return ErrBadSize
	}
	return nil
}

// NetFlowEntry is the aggregated signed contract flow at one strike, as
// published by the flow service.
type NetFlowEntry struct {
	Strike  float64 `json:"strike"`
	NetSize int64   `json:"net_size"`
	Premium float64 `json:"premium"`
}
