package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteHistoryBracket(t *testing.T) {
	h := NewQuoteHistory(time.Minute, 64)
	base := time.Now()

	for i := 0; i < 5; i++ {
		h.Record(*quote(10.00+float64(i)*0.01, 10.10+float64(i)*0.01, 50, 40, base.Add(time.Duration(i)*time.Second)))
	}

	before, after := h.Bracket(testContract, base.Add(2500*time.Millisecond))
	require.NotNil(t, before)
	require.NotNil(t, after)
	assert.InDelta(t, 10.02, before.Bid, 1e-9)
	assert.InDelta(t, 10.03, after.Bid, 1e-9)

	// Before the first quote: only an after-side bracket exists.
	before, after = h.Bracket(testContract, base.Add(-time.Second))
	assert.Nil(t, before)
	require.NotNil(t, after)
	assert.InDelta(t, 10.00, after.Bid, 1e-9)

	// After the last quote: only a before-side bracket exists.
	before, after = h.Bracket(testContract, base.Add(time.Hour))
	require.NotNil(t, before)
	assert.Nil(t, after)
	assert.InDelta(t, 10.04, before.Bid, 1e-9)
}

func TestQuoteHistoryUnknownContract(t *testing.T) {
	h := NewQuoteHistory(time.Minute, 64)

	before, after := h.Bracket(testContract, time.Now())
	assert.Nil(t, before)
	assert.Nil(t, after)
}

func TestQuoteHistoryTrimsWindowAndCap(t *testing.T) {
	h := NewQuoteHistory(10*time.Second, 8)
	base := time.Now()

	for i := 0; i < 30; i++ {
		h.Record(*quote(10.00, 10.10, 50, 40, base.Add(time.Duration(i)*time.Second)))
	}
	assert.LessOrEqual(t, h.Len(testContract), 8)
}
