// Package vol implements Black-Scholes-Merton pricing and the bracketed
// implied-volatility solver used to turn observed option prices into
// volatility observations.
package vol

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Price returns the Black-Scholes-Merton theoretical price of a European
// option with continuous dividend yield q.
func Price(spot, strike, t, r, q, sigma float64, isCall bool) float64 {
	if t <= 0 || sigma <= 0 {
		return intrinsic(spot, strike, t, r, q, isCall)
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r-q+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	if isCall {
		return spot*math.Exp(-q*t)*stdNormal.CDF(d1) - strike*math.Exp(-r*t)*stdNormal.CDF(d2)
	}
	return strike*math.Exp(-r*t)*stdNormal.CDF(-d2) - spot*math.Exp(-q*t)*stdNormal.CDF(-d1)
}

// Vega returns the derivative of the BSM price with respect to volatility.
// It is identical for calls and puts.
func Vega(spot, strike, t, r, q, sigma float64) float64 {
	if t <= 0 || sigma <= 0 {
		return 0
	}
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r-q+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return spot * math.Exp(-q*t) * stdNormal.Prob(d1) * sqrtT
}

// intrinsic is the discounted exercise value, the zero-volatility limit of
// the BSM price.
func intrinsic(spot, strike, t, r, q float64, isCall bool) float64 {
	fwdSpot := spot * math.Exp(-q*t)
	disc := strike * math.Exp(-r*t)
	if isCall {
		return math.Max(0, fwdSpot-disc)
	}
	return math.Max(0, disc-fwdSpot)
}
