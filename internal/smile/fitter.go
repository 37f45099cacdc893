package smile

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// Point is one fitter input observation: log-moneyness and total variance.
type Point struct {
	LogMoneyness  float64
	TotalVariance float64
}

// FitterConfig controls the constrained fit.
type FitterConfig struct {
	MinStrikes      int
	ButterflyWeight float64
	CalendarWeight  float64
	MaxIterations   int
}

// DefaultFitterConfig returns the weights used in production: butterfly
// violations dominate the residual, calendar violations are traded off
// against fit quality so the penalty stays active rather than binding.
func DefaultFitterConfig() FitterConfig {
	return FitterConfig{
		MinStrikes:      5,
		ButterflyWeight: 100,
		CalendarWeight:  10,
		MaxIterations:   4000,
	}
}

// Box constraints per parameter: a, b, rho, m, sigma.
var (
	boundsLo = sviParams{1e-6, 1e-3, -0.999, -1.0, 0.01}
	boundsHi = sviParams{2.0, 5.0, 0.999, 1.0, 2.0}
)

// Fitter produces one SmileParameters slice per (root, expiry) per snapshot.
type Fitter struct {
	cfg FitterConfig
}

// NewFitter creates a Fitter with the given config.
func NewFitter(cfg FitterConfig) *Fitter {
	if cfg.MinStrikes < 5 {
		cfg.MinStrikes = 5
	}
	return &Fitter{cfg: cfg}
}

// Fit fits the raw-SVI slice to the given points. prev, when non-nil, is the
// immediately-shorter expiry's fitted slice; the calendar penalty keeps the
// current slice's total variance at or above it. Multiple observations at
// the same strike are pre-aggregated by median. Fit returns nil when fewer
// than MinStrikes distinct strikes are available or the optimizer fails to
// converge — callers must treat nil as "curve unavailable this cycle".
func (f *Fitter) Fit(points []Point, prev *domain.SmileParameters) *domain.SmileParameters {
	ks, ws := aggregateByStrike(points)
	if len(ks) < f.cfg.MinStrikes {
		return nil
	}

	var prevP *sviParams
	if prev != nil {
		p := sviParams{prev.A, prev.B, prev.Rho, prev.M, prev.Sigma}
		prevP = &p
	}

	obj := func(x []float64) float64 {
		p := fromUnbounded(x)
		var ssr float64
		for i, k := range ks {
			r := p.totalVariance(k) - ws[i]
			ssr += r * r
		}
		cost := ssr + f.cfg.ButterflyWeight*butterflyPenalty(p, ks)
		if prevP != nil {
			cost += f.cfg.CalendarWeight * calendarPenalty(p, *prevP, ks)
		}
		return cost
	}

	x0 := toUnbounded(initialGuess(ks, ws))
	res, err := optimize.Minimize(
		optimize.Problem{Func: obj},
		x0,
		&optimize.Settings{FuncEvaluations: f.cfg.MaxIterations},
		&optimize.NelderMead{},
	)
	if err != nil || res == nil || math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return nil
	}

	fitted := fromUnbounded(res.X)
	var ssr float64
	for i, k := range ks {
		r := fitted.totalVariance(k) - ws[i]
		ssr += r * r
	}

	return &domain.SmileParameters{
		A:          fitted[0],
		B:          fitted[1],
		Rho:        fitted[2],
		M:          fitted[3],
		Sigma:      fitted[4],
		Residual:   ssr / float64(len(ks)),
		NumStrikes: len(ks),
	}
}

// aggregateByStrike collapses repeated observations at the same strike to
// their median total variance so one noisy quote pair cannot skew a bucket,
// and returns strikes sorted ascending.
func aggregateByStrike(points []Point) (ks, ws []float64) {
	byK := make(map[float64][]float64)
	for _, p := range points {
		byK[p.LogMoneyness] = append(byK[p.LogMoneyness], p.TotalVariance)
	}

	ks = make([]float64, 0, len(byK))
	for k := range byK {
		ks = append(ks, k)
	}
	sort.Float64s(ks)

	ws = make([]float64, len(ks))
	for i, k := range ks {
		ws[i] = median(byK[k])
	}
	return ks, ws
}

func median(vals []float64) float64 {
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// initialGuess bins the observations into five log-moneyness buckets,
// averages each, and reads off starting values: the minimum-variance bucket
// locates m and a, the outer buckets give the wing slopes that seed b and
// rho.
func initialGuess(ks, ws []float64) sviParams {
	const nBuckets = 5

	kMin, kMax := ks[0], ks[len(ks)-1]
	width := (kMax - kMin) / nBuckets
	if width <= 0 {
		width = 1e-3
	}

	sums := make([]float64, nBuckets)
	counts := make([]int, nBuckets)
	for i, k := range ks {
		b := int((k - kMin) / width)
		if b >= nBuckets {
			b = nBuckets - 1
		}
		sums[b] += ws[i]
		counts[b]++
	}

	centers := make([]float64, 0, nBuckets)
	means := make([]float64, 0, nBuckets)
	for b := 0; b < nBuckets; b++ {
		if counts[b] == 0 {
			continue
		}
		centers = append(centers, kMin+(float64(b)+0.5)*width)
		means = append(means, sums[b]/float64(counts[b]))
	}

	minIdx := 0
	for i, m := range means {
		if m < means[minIdx] {
			minIdx = i
		}
	}

	m0 := centers[minIdx]
	a0 := 0.8 * means[minIdx]

	slope := func(i int) float64 {
		dk := math.Abs(centers[i] - m0)
		if dk < 1e-9 {
			return 0
		}
		return (means[i] - means[minIdx]) / dk
	}
	sL := slope(0)
	sR := slope(len(centers) - 1)

	b0 := (sL + sR) / 2
	rho0 := 0.0
	if sL+sR > 1e-9 {
		rho0 = (sR - sL) / (sR + sL)
	}

	return clampToBounds(sviParams{a0, b0, rho0, m0, width / 2})
}

func clampToBounds(p sviParams) sviParams {
	for i := range p {
		// Keep the seed strictly inside the box so the sigmoid transform is
		// finite.
		lo := boundsLo[i] + 1e-4*(boundsHi[i]-boundsLo[i])
		hi := boundsHi[i] - 1e-4*(boundsHi[i]-boundsLo[i])
		if p[i] < lo {
			p[i] = lo
		}
		if p[i] > hi {
			p[i] = hi
		}
	}
	return p
}

// fromUnbounded maps the optimizer's unconstrained vector into the box via
// a sigmoid, giving smooth box constraints without a constrained solver.
func fromUnbounded(x []float64) sviParams {
	var p sviParams
	for i := range p {
		p[i] = boundsLo[i] + (boundsHi[i]-boundsLo[i])/(1+math.Exp(-x[i]))
	}
	return p
}

func toUnbounded(p sviParams) []float64 {
	x := make([]float64, len(p))
	for i := range p {
		frac := (p[i] - boundsLo[i]) / (boundsHi[i] - boundsLo[i])
		x[i] = math.Log(frac / (1 - frac))
	}
	return x
}
