package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// FlowReader defines what the flow handler needs from the flow service.
type FlowReader interface {
	NetFlow(ctx context.Context, root string, window time.Duration) ([]domain.NetFlowEntry, error)
	RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error)
}

// FlowHandler serves order-flow HTTP endpoints.
type FlowHandler struct {
	flow FlowReader
	// defaultWindow is used when the request omits window_min.
	defaultWindow time.Duration
	logger        *slog.Logger
}

// NewFlowHandler creates a FlowHandler with the given reader and default
// aggregation window.
func NewFlowHandler(flow FlowReader, defaultWindow time.Duration, logger *slog.Logger) *FlowHandler {
	if defaultWindow <= 0 {
		defaultWindow = time.Hour
	}
	return &FlowHandler{
		flow:          flow,
		defaultWindow: defaultWindow,
		logger:        logger,
	}
}

// tradeResponse is the wire form of one classified trade.
type tradeResponse struct {
	ID         string    `json:"id"`
	Root       string    `json:"root"`
	Expiration string    `json:"expiration"`
	Strike     float64   `json:"strike"`
	Right      string    `json:"right"`
	Price      float64   `json:"price"`
	Size       int64     `json:"size"`
	Side       string    `json:"side"`
	ImpliedVol float64   `json:"implied_vol,omitempty"`
	Spot       float64   `json:"spot,omitempty"`
	Delta      float64   `json:"delta,omitempty"`
	Gamma      float64   `json:"gamma,omitempty"`
	Theta      float64   `json:"theta,omitempty"`
	Vega       float64   `json:"vega,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func toTradeResponse(t domain.Trade) tradeResponse {
	return tradeResponse{
		ID:         t.ID,
		Root:       t.Contract.Root,
		Expiration: t.Contract.Expiration,
		Strike:     t.Contract.Strike,
		Right:      string(t.Contract.Right),
		Price:      t.Price,
		Size:       t.Size,
		Side:       string(t.Side),
		ImpliedVol: t.ImpliedVol,
		Spot:       t.Spot,
		Delta:      t.Delta,
		Gamma:      t.Gamma,
		Theta:      t.Theta,
		Vega:       t.Vega,
		Timestamp:  t.Timestamp,
	}
}

// netFlowResponse wraps the per-strike aggregation for one root.
type netFlowResponse struct {
	Root      string                `json:"root"`
	WindowMin int                   `json:"window_min"`
	Entries   []domain.NetFlowEntry `json:"entries"`
}

// GetNetFlow returns the signed per-strike contract flow for one root over
// the trailing window.
// GET /api/flow/{root}?window_min=60
func (h *FlowHandler) GetNetFlow(w http.ResponseWriter, r *http.Request) {
	root := pathParam(r, "root")
	if root == "" {
		writeError(w, http.StatusBadRequest, "missing root")
		return
	}

	window := h.defaultWindow
	if v := r.URL.Query().Get("window_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "window_min must be a positive integer")
			return
		}
		window = time.Duration(n) * time.Minute
	}

	entries, err := h.flow.NetFlow(r.Context(), root, window)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: net flow failed",
			slog.String("root", root),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to aggregate flow")
		return
	}
	if entries == nil {
		entries = []domain.NetFlowEntry{}
	}

	writeJSON(w, http.StatusOK, netFlowResponse{
		Root:      root,
		WindowMin: int(window / time.Minute),
		Entries:   entries,
	})
}

// ListRecentTrades returns the most recently persisted classified trades,
// newest first.
// GET /api/trades/recent?limit=100
func (h *FlowHandler) ListRecentTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	trades, err := h.flow.RecentTrades(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: recent trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": out,
		"limit":  opts.Limit,
	})
}
