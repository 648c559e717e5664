package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolutionFromPrices(t *testing.T) {
	res := ResolutionFromPrices([]float64{1, 0}, "gamma")
	assert.Equal(t, Resolved, res.State)
	assert.Equal(t, 1, res.WinningOutcome)
	assert.Equal(t, "gamma", res.Source)

	res = ResolutionFromPrices([]float64{0, 1}, "gamma")
	assert.Equal(t, Resolved, res.State)
	assert.Equal(t, 0, res.WinningOutcome)
}

func TestResolutionFromPrices_Indeterminate(t *testing.T) {
	// mid-market prices are not a resolution signal
	assert.Equal(t, Indeterminate, ResolutionFromPrices([]float64{0.6, 0.4}, "gamma").State)
	// wrong arity
	assert.Equal(t, Indeterminate, ResolutionFromPrices([]float64{1}, "gamma").State)
	assert.Equal(t, Indeterminate, ResolutionFromPrices(nil, "gamma").State)
	assert.Equal(t, Indeterminate, ResolutionFromPrices([]float64{1, 0, 0}, "gamma").State)
}

func TestRedeemIndexSet(t *testing.T) {
	assert.Equal(t, []uint64{1}, RedeemIndexSet(0))
	assert.Equal(t, []uint64{2}, RedeemIndexSet(1))
}
