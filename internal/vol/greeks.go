package vol

import "math"

// Greeks are the analytic BSM sensitivities of an option price. Theta is per
// year; divide by 365 for a per-day figure.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// ComputeGreeks returns the BSM greeks with continuous dividend yield q.
// Expired or zero-volatility inputs yield zero greeks.
func ComputeGreeks(spot, strike, t, r, q, sigma float64, isCall bool) Greeks {
	if t <= 0 || sigma <= 0 || spot <= 0 || strike <= 0 {
		return Greeks{}
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r-q+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	divDisc := math.Exp(-q * t)
	rateDisc := math.Exp(-r * t)
	pdf1 := stdNormal.Prob(d1)

	g := Greeks{
		Gamma: divDisc * pdf1 / (spot * sigma * sqrtT),
		Vega:  spot * divDisc * pdf1 * sqrtT,
	}

	decay := -spot * sigma * divDisc * pdf1 / (2 * sqrtT)
	if isCall {
		g.Delta = divDisc * stdNormal.CDF(d1)
		g.Theta = decay - r*strike*rateDisc*stdNormal.CDF(d2) + q*spot*divDisc*stdNormal.CDF(d1)
	} else {
		g.Delta = -divDisc * stdNormal.CDF(-d1)
		g.Theta = decay + r*strike*rateDisc*stdNormal.CDF(-d2) - q*spot*divDisc*stdNormal.CDF(-d1)
	}
	return g
}
