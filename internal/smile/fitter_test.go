package smile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optflow/internal/domain"
)

func sviPoints(p sviParams, ks []float64) []Point {
	pts := make([]Point, 0, len(ks))
	for _, k := range ks {
		pts = append(pts, Point{LogMoneyness: k, TotalVariance: p.totalVariance(k)})
	}
	return pts
}

func TestFitTooFewStrikes(t *testing.T) {
	f := NewFitter(DefaultFitterConfig())

	pts := []Point{
		{-0.02, 0.010},
		{-0.01, 0.009},
		{0.00, 0.008},
		{0.01, 0.009},
	}
	assert.Nil(t, f.Fit(pts, nil))

	// Many observations but only four distinct strikes still fails the
	// minimum.
	pts = append(pts, pts...)
	assert.Nil(t, f.Fit(pts, nil))
}

func TestFitRecoversSyntheticSmile(t *testing.T) {
	f := NewFitter(DefaultFitterConfig())

	truth := sviParams{0.01, 0.1, -0.4, 0.0, 0.2}
	ks := []float64{-0.20, -0.15, -0.10, -0.05, 0.0, 0.05, 0.10, 0.15, 0.20}

	got := f.Fit(sviPoints(truth, ks), nil)
	require.NotNil(t, got)
	assert.Less(t, got.Residual, 1e-4)

	fitted := sviParams{got.A, got.B, got.Rho, got.M, got.Sigma}
	for _, k := range ks {
		assert.InDelta(t, truth.totalVariance(k), fitted.totalVariance(k), 2e-3, "k=%v", k)
		// The fitted slice must not imply a negative density anywhere we
		// observed.
		assert.GreaterOrEqual(t, fitted.density(k), -1e-9, "k=%v", k)
	}
}

func TestFitAggregatesDuplicateStrikesByMedian(t *testing.T) {
	ks, ws := aggregateByStrike([]Point{
		{0.0, 0.010},
		{0.0, 0.011},
		{0.0, 0.500}, // outlier quote pair
		{0.1, 0.020},
		{0.1, 0.022},
	})

	require.Equal(t, []float64{0.0, 0.1}, ks)
	assert.InDelta(t, 0.011, ws[0], 1e-12)
	assert.InDelta(t, 0.021, ws[1], 1e-12)
}

func TestFitCalendarPenaltyActive(t *testing.T) {
	f := NewFitter(DefaultFitterConfig())

	// Current slice observations sit well below the previous expiry's total
	// variance, violating calendar consistency.
	ks := []float64{-0.15, -0.10, -0.05, 0.0, 0.05, 0.10, 0.15}
	pts := make([]Point, 0, len(ks))
	for _, k := range ks {
		pts = append(pts, Point{LogMoneyness: k, TotalVariance: 0.005})
	}

	prev := &domain.SmileParameters{A: 0.02, B: 0.001, Rho: 0, M: 0, Sigma: 0.1, TimeToExp: 0.01}
	prevP := sviParams{prev.A, prev.B, prev.Rho, prev.M, prev.Sigma}

	unconstrained := f.Fit(pts, nil)
	require.NotNil(t, unconstrained)
	constrained := f.Fit(pts, prev)
	require.NotNil(t, constrained)

	penUn := calendarPenalty(sviParams{unconstrained.A, unconstrained.B, unconstrained.Rho, unconstrained.M, unconstrained.Sigma}, prevP, ks)
	penCon := calendarPenalty(sviParams{constrained.A, constrained.B, constrained.Rho, constrained.M, constrained.Sigma}, prevP, ks)

	assert.Greater(t, penUn, 0.0, "unconstrained fit should violate the calendar")
	assert.Greater(t, penCon, 0.0, "quadratic penalty trades off, never binds exactly")
	assert.Less(t, penCon, penUn/5, "penalty term should materially reduce the violation")
}

func TestInitialGuessInsideBounds(t *testing.T) {
	truth := sviParams{0.02, 0.3, 0.2, 0.05, 0.15}
	ks := []float64{-0.3, -0.2, -0.1, 0.0, 0.1, 0.2, 0.3}

	var ws []float64
	for _, k := range ks {
		ws = append(ws, truth.totalVariance(k))
	}

	guess := initialGuess(ks, ws)
	for i := range guess {
		assert.Greater(t, guess[i], boundsLo[i], "param %d", i)
		assert.Less(t, guess[i], boundsHi[i], "param %d", i)
	}
	assert.False(t, math.IsNaN(toUnbounded(guess)[0]))
}
