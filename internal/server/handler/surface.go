package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// SurfaceSource provides read access to the published volatility surface. In
// live mode it is backed by the in-process surface store; in serve mode the
// Redis curve cache stands in. Implementations return domain.ErrNotFound for
// missing curves.
type SurfaceSource interface {
	Curve(ctx context.Context, root, expiry string) (domain.SmileParameters, error)
	Expiries(ctx context.Context, root string) ([]string, error)
	Spot(ctx context.Context, root string) (float64, time.Time, error)
}

// SurfaceHandler serves the fitted-surface HTTP endpoints.
type SurfaceHandler struct {
	source SurfaceSource
	logger *slog.Logger
}

// NewSurfaceHandler creates a SurfaceHandler with the given source and logger.
func NewSurfaceHandler(source SurfaceSource, logger *slog.Logger) *SurfaceHandler {
	return &SurfaceHandler{
		source: source,
		logger: logger,
	}
}

// curveResponse is the wire form of one fitted slice.
type curveResponse struct {
	Root       string    `json:"root"`
	Expiry     string    `json:"expiry"`
	A          float64   `json:"a"`
	B          float64   `json:"b"`
	Rho        float64   `json:"rho"`
	M          float64   `json:"m"`
	Sigma      float64   `json:"sigma"`
	TimeToExp  float64   `json:"time_to_exp"`
	AtmVol     float64   `json:"atm_vol"`
	Residual   float64   `json:"residual"`
	NumStrikes int       `json:"num_strikes"`
	SnapshotID string    `json:"snapshot_id"`
	FittedAt   time.Time `json:"fitted_at"`
}

func toCurveResponse(p domain.SmileParameters) curveResponse {
	return curveResponse{
		Root:       p.Root,
		Expiry:     p.Expiry,
		A:          p.A,
		B:          p.B,
		Rho:        p.Rho,
		M:          p.M,
		Sigma:      p.Sigma,
		TimeToExp:  p.TimeToExp,
		AtmVol:     p.Vol(0),
		Residual:   p.Residual,
		NumStrikes: p.NumStrikes,
		SnapshotID: p.SnapshotID,
		FittedAt:   p.FittedAt,
	}
}

// surfaceResponse wraps the full surface of one root.
type surfaceResponse struct {
	Root   string          `json:"root"`
	Spot   float64         `json:"spot,omitempty"`
	SpotTS *time.Time      `json:"spot_ts,omitempty"`
	Curves []curveResponse `json:"curves"`
}

// GetSurface returns every published slice for one root, shortest expiry
// first, plus the last known spot.
// GET /api/surface/{root}
func (h *SurfaceHandler) GetSurface(w http.ResponseWriter, r *http.Request) {
	root := pathParam(r, "root")
	if root == "" {
		writeError(w, http.StatusBadRequest, "missing root")
		return
	}

	expiries, err := h.source.Expiries(r.Context(), root)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list expiries failed",
			slog.String("root", root),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read surface")
		return
	}
	if len(expiries) == 0 {
		writeError(w, http.StatusNotFound, "no surface for root")
		return
	}

	resp := surfaceResponse{Root: root, Curves: make([]curveResponse, 0, len(expiries))}
	for _, expiry := range expiries {
		params, err := h.source.Curve(r.Context(), root, expiry)
		if err != nil {
			// An expiry can age out between the two reads; skip it.
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			h.logger.ErrorContext(r.Context(), "handler: read curve failed",
				slog.String("root", root),
				slog.String("expiry", expiry),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to read surface")
			return
		}
		resp.Curves = append(resp.Curves, toCurveResponse(params))
	}

	if spot, ts, err := h.source.Spot(r.Context(), root); err == nil {
		resp.Spot = spot
		resp.SpotTS = &ts
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetCurve returns a single fitted slice.
// GET /api/surface/{root}/{expiry}
func (h *SurfaceHandler) GetCurve(w http.ResponseWriter, r *http.Request) {
	root := pathParam(r, "root")
	expiry := pathParam(r, "expiry")
	if root == "" || expiry == "" {
		writeError(w, http.StatusBadRequest, "missing root or expiry")
		return
	}

	params, err := h.source.Curve(r.Context(), root, expiry)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "curve not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get curve failed",
			slog.String("root", root),
			slog.String("expiry", expiry),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get curve")
		return
	}

	writeJSON(w, http.StatusOK, toCurveResponse(params))
}

// ListExpiries returns the expiry labels with a published slice for one root,
// in ascending date order.
// GET /api/expiries/{root}
func (h *SurfaceHandler) ListExpiries(w http.ResponseWriter, r *http.Request) {
	root := pathParam(r, "root")
	if root == "" {
		writeError(w, http.StatusBadRequest, "missing root")
		return
	}

	expiries, err := h.source.Expiries(r.Context(), root)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list expiries failed",
			slog.String("root", root),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list expiries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"root":     root,
		"expiries": expiries,
	})
}
