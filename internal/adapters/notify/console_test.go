package notify_test

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Okay-Bet/market-agent-server/internal/adapters/notify"
	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

func makePosition(userAddr string, outcome int) domain.Position {
	return domain.Position{
		ID:                uuid.New(),
		ConditionID:       "0xaa00000000000000000000000000000000000000000000000000000000000001",
		UserAddress:       userAddr,
		Outcome:           outcome,
		Amount:            decimal.RequireFromString("150"),
		AverageEntryPrice: decimal.RequireFromString("0.5"),
		TotalCostBasis:    decimal.RequireFromString("75"),
		Status:            domain.PositionActive,
	}
}

func TestPrintPositions_Table(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, "table")

	c.PrintPositions([]domain.Position{
		makePosition("0x1111111111111111111111111111111111111111", 0),
		makePosition("0x2222222222222222222222222222222222222222", 1),
	})

	out := buf.String()
	assert.Contains(t, out, "150.0000")
	assert.Contains(t, out, "0.5000")
	assert.Contains(t, out, "$75.00")
	assert.Contains(t, out, "active")
}

func TestPrintPositions_Empty(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, "table")

	c.PrintPositions(nil)
	assert.Contains(t, buf.String(), "no positions")
}

func TestPrintRedemptions_JSON(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, "json")

	c.PrintRedemptions([]domain.RedemptionResult{{
		ConditionID:       "0xabc",
		UserAddress:       "0x1111",
		RedemptionTx:      "0xredeem",
		TransferTx:        "0xtransfer",
		AmountTransferred: big.NewInt(50_000_000),
	}})

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "0xabc", decoded[0]["ConditionID"])
}

func TestPrintRedemptions_PaidColumnInUSDC(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, "table")

	c.PrintRedemptions([]domain.RedemptionResult{{
		ConditionID:       "0xabc",
		UserAddress:       "0x1111",
		AmountTransferred: big.NewInt(50_000_000),
	}})

	assert.Contains(t, buf.String(), "$50.00")
}

func TestPrintOrders_Table(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, "table")

	c.PrintOrders([]domain.Order{{
		ID:          domain.OrderID("0x1111", 0),
		UserAddress: "0x1111",
		Side:        domain.Buy,
		Price:       decimal.RequireFromString("0.42"),
		Amount:      decimal.RequireFromString("25"),
		Status:      domain.OrderCompleted,
	}})

	out := buf.String()
	assert.Contains(t, out, "BUY")
	assert.Contains(t, out, "0.4200")
	assert.Contains(t, out, "$25.00")
	assert.Contains(t, out, "completed")
}
