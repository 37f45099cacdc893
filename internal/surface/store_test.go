package surface

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optflow/internal/domain"
)

func TestStorePublishAndCurve(t *testing.T) {
	var updates []domain.CurveUpdate
	s := NewStore(func(u domain.CurveUpdate) { updates = append(updates, u) })

	_, ok := s.Curve("SPXW", "20250117")
	assert.False(t, ok)

	first := domain.SmileParameters{
		Root: "SPXW", Expiry: "20250117",
		A: 0.01, B: 0.1, Rho: -0.3, M: 0, Sigma: 0.2,
		SnapshotID: "snap-1", FittedAt: time.Now(),
	}
	s.Publish(first)

	got, ok := s.Curve("SPXW", "20250117")
	require.True(t, ok)
	assert.Equal(t, "snap-1", got.SnapshotID)

	// A later snapshot replaces the slice wholesale.
	second := first
	second.A = 0.02
	second.SnapshotID = "snap-2"
	s.Publish(second)

	got, ok = s.Curve("SPXW", "20250117")
	require.True(t, ok)
	assert.InDelta(t, 0.02, got.A, 1e-12)
	assert.Equal(t, "snap-2", got.SnapshotID)

	require.Len(t, updates, 2)
	assert.Equal(t, "snap-1", updates[0].SnapshotID)
	assert.Equal(t, "snap-2", updates[1].SnapshotID)
}

func TestStoreExpiriesSorted(t *testing.T) {
	s := NewStore(nil)

	for _, expiry := range []string{"20250221", "20250117", "20250321"} {
		s.Publish(domain.SmileParameters{Root: "SPXW", Expiry: expiry})
	}
	s.Publish(domain.SmileParameters{Root: "QQQ", Expiry: "20250117"})

	assert.Equal(t, []string{"20250117", "20250221", "20250321"}, s.Expiries("SPXW"))
	assert.Equal(t, []string{"20250117"}, s.Expiries("QQQ"))
	assert.Empty(t, s.Expiries("IWM"))

	assert.Equal(t, []string{"QQQ", "SPXW"}, s.Roots())
}

func TestStoreSpot(t *testing.T) {
	s := NewStore(nil)

	_, _, ok := s.Spot("SPXW")
	assert.False(t, ok)

	ts := time.Now()
	s.SetSpot("SPXW", 5912.50, ts)

	price, gotTS, ok := s.Spot("SPXW")
	require.True(t, ok)
	assert.InDelta(t, 5912.50, price, 1e-9)
	assert.Equal(t, ts, gotTS)
}
