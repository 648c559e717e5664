package polymarket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

func TestMapGammaMarket(t *testing.T) {
	gm := gammaMarket{
		ConditionID:   "0xabc",
		Question:      "Will X happen?",
		Outcomes:      `["Yes", "No"]`,
		OutcomePrices: `["0.62", "0.38"]`,
		CLOBTokenIDs:  `["111", "222"]`,
		NegRisk:       true,
	}

	tm, err := mapGammaMarket(gm, "222")
	require.NoError(t, err)

	assert.Equal(t, "0xabc", tm.ConditionID)
	assert.Equal(t, "222", tm.TokenID)
	assert.Equal(t, []string{"Yes", "No"}, tm.Outcomes)
	assert.Equal(t, []float64{0.62, 0.38}, tm.OutcomePrices)
	assert.Equal(t, 1, tm.OutcomeIndex)
	assert.True(t, tm.NegRisk)
}

func TestMapGammaMarket_TokenNotInMarket(t *testing.T) {
	gm := gammaMarket{ConditionID: "0xabc", CLOBTokenIDs: `["111", "222"]`}

	_, err := mapGammaMarket(gm, "999")
	assert.Error(t, err)
}

func TestMapGammaMarket_MalformedNestedJSON(t *testing.T) {
	gm := gammaMarket{ConditionID: "0xabc", Outcomes: `not json`, CLOBTokenIDs: `["111"]`}

	_, err := mapGammaMarket(gm, "111")
	assert.Error(t, err)
}

func TestMapLevels(t *testing.T) {
	levels := mapLevels([]bookLevel{
		{Price: "0.45", Size: "120.5"},
		{Price: "0.46", Size: "80"},
	})

	require.Len(t, levels, 2)
	assert.Equal(t, domain.BookEntry{Price: 0.45, Size: 120.5}, levels[0])
	assert.Equal(t, domain.BookEntry{Price: 0.46, Size: 80}, levels[1])
}

func TestParseMicroUSDC(t *testing.T) {
	assert.Equal(t, 1.0, parseMicroUSDC("1000000"))
	assert.Equal(t, 0.5, parseMicroUSDC("500000"))
	assert.Equal(t, 0.0, parseMicroUSDC(""))
}

func TestDetectPricePrecision(t *testing.T) {
	assert.Equal(t, int64(100), detectPricePrecision(0.60))
	assert.Equal(t, int64(1000), detectPricePrecision(0.673))
	assert.Equal(t, int64(10000), detectPricePrecision(0.1234))
	// prices off the finest tick fall back to the coarsest
	assert.Equal(t, int64(100), detectPricePrecision(0.123456))
}
