package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optflow/internal/domain"
)

type fakeSurfaceSource struct {
	curves map[string]map[string]domain.SmileParameters
	spot   float64
	spotTS time.Time
}

func (f *fakeSurfaceSource) Curve(_ context.Context, root, expiry string) (domain.SmileParameters, error) {
	p, ok := f.curves[root][expiry]
	if !ok {
		return domain.SmileParameters{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeSurfaceSource) Expiries(_ context.Context, root string) ([]string, error) {
	var out []string
	for expiry := range f.curves[root] {
		out = append(out, expiry)
	}
	return out, nil
}

func (f *fakeSurfaceSource) Spot(_ context.Context, root string) (float64, time.Time, error) {
	if f.spot == 0 {
		return 0, time.Time{}, domain.ErrSpotUnavailable
	}
	return f.spot, f.spotTS, nil
}

func testParams(root, expiry string) domain.SmileParameters {
	return domain.SmileParameters{
		Root:       root,
		Expiry:     expiry,
		A:          0.002,
		B:          0.1,
		Rho:        -0.3,
		M:          0.0,
		Sigma:      0.2,
		TimeToExp:  0.05,
		Residual:   1e-6,
		NumStrikes: 12,
		SnapshotID: "snap-1",
		FittedAt:   time.Now().UTC(),
	}
}

func newSurfaceHandler(src SurfaceSource) *SurfaceHandler {
	return NewSurfaceHandler(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serveSurface(h *SurfaceHandler, method, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/surface/{root}", h.GetSurface)
	mux.HandleFunc("GET /api/surface/{root}/{expiry}", h.GetCurve)
	mux.HandleFunc("GET /api/expiries/{root}", h.ListExpiries)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetCurve(t *testing.T) {
	src := &fakeSurfaceSource{
		curves: map[string]map[string]domain.SmileParameters{
			"SPXW": {"20270115": testParams("SPXW", "20270115")},
		},
	}
	rec := serveSurface(newSurfaceHandler(src), http.MethodGet, "/api/surface/SPXW/20270115")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp curveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SPXW", resp.Root)
	assert.Equal(t, "20270115", resp.Expiry)
	assert.Equal(t, 12, resp.NumStrikes)
	assert.Greater(t, resp.AtmVol, 0.0)
}

func TestGetCurveNotFound(t *testing.T) {
	src := &fakeSurfaceSource{curves: map[string]map[string]domain.SmileParameters{}}
	rec := serveSurface(newSurfaceHandler(src), http.MethodGet, "/api/surface/SPXW/20270115")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSurfaceIncludesSpotAndAllExpiries(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSurfaceSource{
		curves: map[string]map[string]domain.SmileParameters{
			"SPXW": {
				"20270115": testParams("SPXW", "20270115"),
				"20270219": testParams("SPXW", "20270219"),
			},
		},
		spot:   5900.25,
		spotTS: now,
	}
	rec := serveSurface(newSurfaceHandler(src), http.MethodGet, "/api/surface/SPXW")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp surfaceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5900.25, resp.Spot)
	assert.Len(t, resp.Curves, 2)
}

func TestGetSurfaceNoCurves(t *testing.T) {
	src := &fakeSurfaceSource{curves: map[string]map[string]domain.SmileParameters{}}
	rec := serveSurface(newSurfaceHandler(src), http.MethodGet, "/api/surface/SPXW")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExpiries(t *testing.T) {
	src := &fakeSurfaceSource{
		curves: map[string]map[string]domain.SmileParameters{
			"SPXW": {"20270115": testParams("SPXW", "20270115")},
		},
	}
	rec := serveSurface(newSurfaceHandler(src), http.MethodGet, "/api/expiries/SPXW")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Root     string   `json:"root"`
		Expiries []string `json:"expiries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"20270115"}, resp.Expiries)
}
