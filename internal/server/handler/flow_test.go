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

type fakeFlowReader struct {
	entries    []domain.NetFlowEntry
	trades     []domain.Trade
	lastWindow time.Duration
}

func (f *fakeFlowReader) NetFlow(_ context.Context, _ string, window time.Duration) ([]domain.NetFlowEntry, error) {
	f.lastWindow = window
	return f.entries, nil
}

func (f *fakeFlowReader) RecentTrades(context.Context, int) ([]domain.Trade, error) {
	return f.trades, nil
}

func serveFlow(h *FlowHandler, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/flow/{root}", h.GetNetFlow)
	mux.HandleFunc("GET /api/trades/recent", h.ListRecentTrades)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetNetFlow(t *testing.T) {
	reader := &fakeFlowReader{
		entries: []domain.NetFlowEntry{
			{Strike: 5400, NetSize: 6, Premium: 7500},
			{Strike: 5500, NetSize: -7, Premium: -8750},
		},
	}
	h := NewFlowHandler(reader, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := serveFlow(h, "/api/flow/SPXW?window_min=15")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15*time.Minute, reader.lastWindow)

	var resp netFlowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SPXW", resp.Root)
	assert.Equal(t, 15, resp.WindowMin)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, int64(6), resp.Entries[0].NetSize)
}

func TestGetNetFlowDefaultWindowAndEmpty(t *testing.T) {
	reader := &fakeFlowReader{}
	h := NewFlowHandler(reader, 30*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := serveFlow(h, "/api/flow/SPXW")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30*time.Minute, reader.lastWindow)

	var resp netFlowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Entries)
	assert.Empty(t, resp.Entries)
}

func TestGetNetFlowRejectsBadWindow(t *testing.T) {
	h := NewFlowHandler(&fakeFlowReader{}, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := serveFlow(h, "/api/flow/SPXW?window_min=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRecentTrades(t *testing.T) {
	reader := &fakeFlowReader{
		trades: []domain.Trade{{
			ID: "t-1",
			Contract: domain.Contract{
				Root:       "SPXW",
				Expiration: "20270115",
				Strike:     5400,
				Right:      domain.RightCall,
			},
			Price:      12.5,
			Size:       4,
			Side:       domain.SideBuy,
			ImpliedVol: 0.31,
			Spot:       5900,
			Timestamp:  time.Now().UTC(),
		}},
	}
	h := NewFlowHandler(reader, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := serveFlow(h, "/api/trades/recent?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Trades []tradeResponse `json:"trades"`
		Limit  int             `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "BUY", resp.Trades[0].Side)
	assert.Equal(t, 10, resp.Limit)
}
