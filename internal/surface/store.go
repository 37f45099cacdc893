// Package surface owns the authoritative per-root, per-expiry volatility
// state and the periodic snapshot scheduler that recomputes it from buffered
// market events.
package surface

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/optflow/internal/domain"
)

// UpdateFunc is invoked once per successfully published (root, expiry)
// slice. It is called synchronously from the snapshot worker; implementations
// must not block for long.
type UpdateFunc func(update domain.CurveUpdate)

type spotEntry struct {
	price float64
	ts    time.Time
}

// Store holds the fitted smile slices and last-known spot per root. It is
// written exclusively by the snapshot scheduler; readers get copies through
// the accessors and can never observe a half-updated curve.
type Store struct {
	mu       sync.RWMutex
	curves   map[string]map[string]domain.SmileParameters
	spots    map[string]spotEntry
	onUpdate UpdateFunc
}

// NewStore creates a Store. onUpdate may be nil.
func NewStore(onUpdate UpdateFunc) *Store {
	return &Store{
		curves:   make(map[string]map[string]domain.SmileParameters),
		spots:    make(map[string]spotEntry),
		onUpdate: onUpdate,
	}
}

// Publish atomically replaces the slice for (params.Root, params.Expiry) and
// fires the change notification.
func (s *Store) Publish(params domain.SmileParameters) {
	s.mu.Lock()
	byExpiry, ok := s.curves[params.Root]
	if !ok {
		byExpiry = make(map[string]domain.SmileParameters)
		s.curves[params.Root] = byExpiry
	}
	byExpiry[params.Expiry] = params
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(domain.CurveUpdate{
			Root:       params.Root,
			Expiry:     params.Expiry,
			SnapshotID: params.SnapshotID,
			FittedAt:   params.FittedAt,
		})
	}
}

// Curve returns the latest published slice for (root, expiry).
func (s *Store) Curve(root, expiry string) (domain.SmileParameters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	params, ok := s.curves[root][expiry]
	return params, ok
}

// Expiries returns the sorted expiry labels with a published slice for root.
// YYYYMMDD labels sort chronologically as strings.
func (s *Store) Expiries(root string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byExpiry := s.curves[root]
	out := make([]string, 0, len(byExpiry))
	for expiry := range byExpiry {
		out = append(out, expiry)
	}
	sort.Strings(out)
	return out
}

// Roots returns the sorted roots with at least one published slice.
func (s *Store) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.curves))
	for root := range s.curves {
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

// SetSpot records the most recent underlying price for a root.
func (s *Store) SetSpot(root string, price float64, ts time.Time) {
	s.mu.Lock()
	s.spots[root] = spotEntry{price: price, ts: ts}
	s.mu.Unlock()
}

// Spot returns the last recorded spot for a root.
func (s *Store) Spot(root string) (float64, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.spots[root]
	return e.price, e.ts, ok
}
