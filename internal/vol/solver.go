package vol

import "math"

// SolverConfig bounds the root search. The zero value is not usable; start
// from DefaultSolverConfig.
type SolverConfig struct {
	MinVol    float64 // lower bracket bound
	MaxVol    float64 // upper bracket bound
	SanityMin float64 // results at or below are dropped
	SanityMax float64 // results at or above are dropped
	Tolerance float64 // absolute price tolerance for convergence
	MaxIter   int
	// MinTimeToExp floors time-to-expiry so zero-DTE contracts near the
	// close do not degenerate. Annualized; the default is one minute.
	MinTimeToExp float64
}

// DefaultSolverConfig mirrors the bounds the rest of the pipeline assumes:
// bracket [1e-4, 5], sanity band (0.01, 5.0), one-minute expiry floor.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		MinVol:       1e-4,
		MaxVol:       5.0,
		SanityMin:    0.01,
		SanityMax:    5.0,
		Tolerance:    1e-8,
		MaxIter:      100,
		MinTimeToExp: 1.0 / (365 * 24 * 60),
	}
}

// Solver inverts the BSM price for volatility.
type Solver struct {
	cfg SolverConfig
}

// NewSolver creates a Solver with the given config.
func NewSolver(cfg SolverConfig) *Solver {
	return &Solver{cfg: cfg}
}

// Solve recovers the implied volatility that reprices the observed price.
// The boolean result is false when no valid observation can be produced:
// non-positive inputs, a price outside the arbitrage-free band for the
// bracket, failure to converge, or a root outside the sanity band. Callers
// must treat false as "no observation", never as zero volatility.
func (s *Solver) Solve(spot, strike, t, r, q, price float64, isCall bool) (float64, bool) {
	if price <= 0 || spot <= 0 || strike <= 0 {
		return 0, false
	}
	if t < s.cfg.MinTimeToExp {
		t = s.cfg.MinTimeToExp
	}

	f := func(sigma float64) float64 {
		return Price(spot, strike, t, r, q, sigma, isCall) - price
	}

	lo, hi := s.cfg.MinVol, s.cfg.MaxVol
	fLo, fHi := f(lo), f(hi)
	// The bracket must contain a sign change: price below intrinsic or above
	// the maximum arbitrage-free price leaves both endpoints on one side.
	if fLo*fHi > 0 {
		return 0, false
	}
	if fLo == 0 {
		return s.sanity(lo)
	}
	if fHi == 0 {
		return s.sanity(hi)
	}

	// Newton with vega, falling back to bisection whenever the derivative is
	// degenerate or a step leaves the bracket. Each accepted iterate also
	// tightens the bracket so the fallback always remains valid.
	sigma := 0.5 * (lo + hi)
	for i := 0; i < s.cfg.MaxIter; i++ {
		fv := f(sigma)
		if math.Abs(fv) < s.cfg.Tolerance {
			return s.sanity(sigma)
		}
		if fv*fLo < 0 {
			hi = sigma
		} else {
			lo, fLo = sigma, fv
		}

		next := sigma
		vega := Vega(spot, strike, t, r, q, sigma)
		if vega > 1e-10 {
			next = sigma - fv/vega
		}
		if next <= lo || next >= hi || math.IsNaN(next) {
			next = 0.5 * (lo + hi)
		}
		if hi-lo < 1e-12 {
			return s.sanity(next)
		}
		sigma = next
	}
	return 0, false
}

// sanity drops roots outside the open (SanityMin, SanityMax) band.
func (s *Solver) sanity(sigma float64) (float64, bool) {
	if sigma <= s.cfg.SanityMin || sigma >= s.cfg.SanityMax {
		return 0, false
	}
	return sigma, true
}
