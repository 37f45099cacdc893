// Package smile fits a raw-SVI total-variance curve to implied-volatility
// observations for one expiry, with penalty terms that keep the fitted slice
// free of butterfly arbitrage and calendar-consistent with the
// immediately-shorter expiry.
package smile

import "math"

// sviParams is the raw-SVI parameter vector [a, b, rho, m, sigma]. Total
// variance at log-moneyness k is
//
//	w(k) = a + b*(rho*(k-m) + sqrt((k-m)^2 + sigma^2))
//
// With a >= 0, b >= 0, |rho| < 1 the curve is non-negative everywhere.
type sviParams [5]float64

func (p sviParams) totalVariance(k float64) float64 {
	d := k - p[3]
	return p[0] + p[1]*(p[2]*d+math.Sqrt(d*d+p[4]*p[4]))
}

// wPrime is dw/dk.
func (p sviParams) wPrime(k float64) float64 {
	d := k - p[3]
	return p[1] * (p[2] + d/math.Sqrt(d*d+p[4]*p[4]))
}

// wDoublePrime is d²w/dk².
func (p sviParams) wDoublePrime(k float64) float64 {
	d := k - p[3]
	s2 := d*d + p[4]*p[4]
	return p[1] * p[4] * p[4] / (s2 * math.Sqrt(s2))
}

// density is Gatheral's g(k); a negative value means the implied
// risk-neutral density at k is negative, i.e. butterfly arbitrage.
func (p sviParams) density(k float64) float64 {
	w := p.totalVariance(k)
	if w <= 0 {
		return -1
	}
	wp := p.wPrime(k)
	wpp := p.wDoublePrime(k)

	t1 := 1 - k*wp/(2*w)
	return t1*t1 - (wp*wp/4)*(1/w+0.25) + wpp/2
}

// butterflyPenalty integrates the convexity-violation measure over the
// observed strikes: the squared magnitude of any negative density.
func butterflyPenalty(p sviParams, ks []float64) float64 {
	var pen float64
	for _, k := range ks {
		if g := p.density(k); g < 0 {
			pen += g * g
		}
	}
	return pen
}

// calendarPenalty sums the squared amount by which the current slice's total
// variance falls below the previous (shorter-expiry) slice's at each
// observed strike. Total variance must be non-decreasing in time to expiry.
func calendarPenalty(p sviParams, prev sviParams, ks []float64) float64 {
	var pen float64
	for _, k := range ks {
		if gap := prev.totalVariance(k) - p.totalVariance(k); gap > 0 {
			pen += gap * gap
		}
	}
	return pen
}
