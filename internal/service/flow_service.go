package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/optflow/internal/domain"
	"github.com/alanyoungcy/optflow/internal/surface"
)

// defaultInsertBatchSize bounds a single pgx batch when the config leaves the
// batch size unset.
const defaultInsertBatchSize = 500

// FlowService persists classified trades and serves net-flow aggregations.
// It is the downstream consumer of each snapshot's trade batch.
type FlowService struct {
	trades    domain.TradeStore
	bus       domain.SignalBus
	batchSize int
	logger    *slog.Logger
}

// NewFlowService creates a FlowService. bus may be nil when no live
// subscribers exist, for example in backfill tooling.
func NewFlowService(
	trades domain.TradeStore,
	bus domain.SignalBus,
	batchSize int,
	logger *slog.Logger,
) *FlowService {
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}
	return &FlowService{
		trades:    trades,
		bus:       bus,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "flow_service")),
	}
}

// PublishTrades assigns IDs, persists the batch, and fans each trade out to
// the signal bus. It is called once per snapshot with that snapshot's trades
// in arrival order; persistence failures are logged rather than propagated so
// a database outage never stalls the snapshot loop.
func (s *FlowService) PublishTrades(ctx context.Context, trades []domain.Trade) {
	if len(trades) == 0 {
		return
	}

	for i := range trades {
		if trades[i].ID == "" {
			trades[i].ID = uuid.NewString()
		}
	}

	for start := 0; start < len(trades); start += s.batchSize {
		end := min(start+s.batchSize, len(trades))
		if err := s.trades.InsertBatch(ctx, trades[start:end]); err != nil {
			s.logger.Error("flow_service: insert batch failed",
				slog.Int("count", end-start),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		s.fanOut(ctx, trades)
	}

	s.logger.Debug("flow_service: published trades",
		slog.Int("count", len(trades)),
	)
}

// fanOut publishes each trade on the ephemeral "trades" channel and appends it
// to the durable stream of the same name. Events keep arrival order because
// both calls happen on the caller's goroutine.
func (s *FlowService) fanOut(ctx context.Context, trades []domain.Trade) {
	for _, t := range trades {
		evt, _ := json.Marshal(map[string]any{
			"event":       "trade_classified",
			"trade_id":    t.ID,
			"root":        t.Contract.Root,
			"expiration":  t.Contract.Expiration,
			"strike":      t.Contract.Strike,
			"right":       t.Contract.Right,
			"price":       t.Price,
			"size":        t.Size,
			"side":        t.Side,
			"implied_vol": t.ImpliedVol,
			"spot":        t.Spot,
			"delta":       t.Delta,
			"gamma":       t.Gamma,
			"theta":       t.Theta,
			"vega":        t.Vega,
			"timestamp":   t.Timestamp.Format(time.RFC3339Nano),
		})

		if pubErr := s.bus.Publish(ctx, "trades", evt); pubErr != nil {
			s.logger.Warn("flow_service: publish event failed",
				slog.String("trade_id", t.ID),
				slog.String("error", pubErr.Error()),
			)
		}
		if streamErr := s.bus.StreamAppend(ctx, "trades", evt); streamErr != nil {
			s.logger.Warn("flow_service: stream append failed",
				slog.String("trade_id", t.ID),
				slog.String("error", streamErr.Error()),
			)
		}
	}
}

// NetFlow aggregates signed contract flow per strike for one root over the
// trailing window. UNKNOWN-side trades contribute nothing but still appear in
// the store; entries are returned in ascending strike order.
func (s *FlowService) NetFlow(ctx context.Context, root string, window time.Duration) ([]domain.NetFlowEntry, error) {
	since := time.Now().Add(-window)
	trades, err := s.trades.ListByRoot(ctx, root, domain.ListOpts{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("flow_service: list trades for %q: %w", root, err)
	}

	byStrike := make(map[float64]*domain.NetFlowEntry)
	for _, t := range trades {
		entry, ok := byStrike[t.Contract.Strike]
		if !ok {
			entry = &domain.NetFlowEntry{Strike: t.Contract.Strike}
			byStrike[t.Contract.Strike] = entry
		}
		entry.NetSize += t.SignedSize()
		entry.Premium += t.Premium()
	}

	out := make([]domain.NetFlowEntry, 0, len(byStrike))
	for _, entry := range byStrike {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out, nil
}

// RecentTrades returns the most recently persisted trades, newest first.
func (s *FlowService) RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	trades, err := s.trades.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("flow_service: list recent trades: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ surface.TradeSink = (*FlowService)(nil)
