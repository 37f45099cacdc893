package domain

import (
	"math"
	"time"
)

// PriceSide records which side of the market an IV observation came from.
type PriceSide string

const (
	PriceSideBid   PriceSide = "bid"
	PriceSideAsk   PriceSide = "ask"
	PriceSideMid   PriceSide = "mid"
	PriceSideTrade PriceSide = "trade"
)

// VolatilityPoint is a single solved implied-volatility observation. Points
// are value objects: the solver either produces one inside the sanity band
// or drops the observation entirely.
type VolatilityPoint struct {
	Contract   Contract
	ImpliedVol float64
	Side       PriceSide
	Spot       float64
	TimeToExp  float64 // annualized
	Timestamp  time.Time
}

// LogMoneyness returns log(strike/spot) for the point.
func (p VolatilityPoint) LogMoneyness() float64 {
	return math.Log(p.Contract.Strike / p.Spot)
}

// TotalVariance returns iv^2 * T, the additive quantity used by the fitter
// and the calendar-arbitrage check.
func (p VolatilityPoint) TotalVariance() float64 {
	return p.ImpliedVol * p.ImpliedVol * p.TimeToExp
}

// SmileParameters is one fitted raw-SVI slice for a (root, expiry) pair at a
// snapshot time. Total variance at log-moneyness k is
//
//	w(k) = A + B*(Rho*(k-M) + sqrt((k-M)^2 + Sigma^2))
type SmileParameters struct {
	Root       string
	Expiry     string // YYYYMMDD
	A          float64
	B          float64
	Rho        float64
	M          float64
	Sigma      float64
	TimeToExp  float64 // annualized, used by the next slice's calendar check
	Residual   float64 // mean squared fit residual
	NumStrikes int
	SnapshotID string
	FittedAt   time.Time
}

// TotalVariance evaluates the fitted slice at log-moneyness k.
func (s SmileParameters) TotalVariance(k float64) float64 {
	d := k - s.M
	return s.A + s.B*(s.Rho*d+math.Sqrt(d*d+s.Sigma*s.Sigma))
}

// Vol returns the implied volatility at log-moneyness k, 0 when the slice
// evaluates to non-positive variance there.
func (s SmileParameters) Vol(k float64) float64 {
	w := s.TotalVariance(k)
	if w <= 0 || s.TimeToExp <= 0 {
		return 0
	}
	return math.Sqrt(w / s.TimeToExp)
}

// CurveUpdate is the change notification emitted once per successfully
// fitted (root, expiry) slice.
type CurveUpdate struct {
	Root       string
	Expiry     string
	SnapshotID string
	FittedAt   time.Time
}
