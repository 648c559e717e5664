package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/Okay-Bet/market-agent-server/internal/adapters/storage"
	"github.com/Okay-Bet/market-agent-server/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCondition = "0x" + "aa00000000000000000000000000000000000000000000000000000000000001"
	testUser      = "0x1111111111111111111111111111111111111111"
)

func openLedger(t *testing.T) *storage.SQLiteLedger {
	t.Helper()
	db, err := storage.NewSQLiteLedger(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func buyFill(outcome int, amount, price string) domain.LedgerFill {
	return domain.LedgerFill{
		UserAddress:     testUser,
		ConditionID:     testCondition,
		TokenID:         "7001",
		Outcome:         outcome,
		Amount:          decimal.RequireFromString(amount),
		Price:           decimal.RequireFromString(price),
		CollateralToken: "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
		OrderID:         domain.OrderID(testUser, 0),
		FilledAt:        time.Now().UTC().Truncate(time.Second),
	}
}

func TestRegisterMarket_IdempotentInsert(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()

	m := domain.Market{
		ConditionID: testCondition,
		TokenID:     "7001",
		Metadata:    domain.MarketMetadata{Question: "Will X happen?"},
	}
	require.NoError(t, db.RegisterMarket(ctx, m))
	require.NoError(t, db.RegisterMarket(ctx, m))

	got, err := db.GetMarket(ctx, testCondition)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketUnresolved, got.Status)
	assert.Equal(t, "Will X happen?", got.Metadata.Question)
	assert.Nil(t, got.WinningOutcome)
}

func TestMarketLifecycle_ResolvedThenProcessed(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.RegisterMarket(ctx, domain.Market{ConditionID: testCondition}))

	unresolved, err := db.UnresolvedMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	require.NoError(t, db.MarkResolved(ctx, testCondition, 1, now))

	got, err := db.GetMarket(ctx, testCondition)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, got.Status)
	require.NotNil(t, got.WinningOutcome)
	assert.Equal(t, 1, *got.WinningOutcome)

	// resolving again is a no-op, the outcome does not flip
	require.NoError(t, db.MarkResolved(ctx, testCondition, 0, now))
	got, err = db.GetMarket(ctx, testCondition)
	require.NoError(t, err)
	assert.Equal(t, 1, *got.WinningOutcome)

	pending, err := db.PendingRedemptions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	done, err := db.MarkProcessed(ctx, testCondition, now)
	require.NoError(t, err)
	assert.True(t, done)

	// second call finds nothing to flip
	done, err = db.MarkProcessed(ctx, testCondition, now)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMarkProcessed_BlockedByActivePosition(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.RegisterMarket(ctx, domain.Market{ConditionID: testCondition}))
	require.NoError(t, db.RecordBuyFill(ctx, buyFill(1, "50", "0.40")))
	require.NoError(t, db.MarkResolved(ctx, testCondition, 1, now))

	done, err := db.MarkProcessed(ctx, testCondition, now)
	require.NoError(t, err)
	assert.False(t, done, "active position must block processing")

	positions, err := db.ActivePositions(ctx, testCondition)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	require.NoError(t, db.MarkRedeemed(ctx, positions[0].ID, "0xredeem", "0xtransfer",
		decimal.RequireFromString("50000000"), now))

	done, err = db.MarkProcessed(ctx, testCondition, now)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestMarkProcessed_LosingPositionDoesNotBlock(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.RegisterMarket(ctx, domain.Market{ConditionID: testCondition}))
	require.NoError(t, db.RecordBuyFill(ctx, buyFill(0, "30", "0.35")))
	require.NoError(t, db.MarkResolved(ctx, testCondition, 1, now))

	// only winning-outcome positions gate the flip; the loser stays active
	done, err := db.MarkProcessed(ctx, testCondition, now)
	require.NoError(t, err)
	assert.True(t, done)

	positions, err := db.ActivePositions(ctx, testCondition)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 0, positions[0].Outcome)
}

func TestRecordBuyFill_WeightedAverageMerge(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()

	require.NoError(t, db.RecordBuyFill(ctx, buyFill(0, "100", "0.40")))
	require.NoError(t, db.RecordBuyFill(ctx, buyFill(0, "50", "0.70")))

	positions, err := db.ActivePositions(ctx, testCondition)
	require.NoError(t, err)
	require.Len(t, positions, 1, "same (condition, user, outcome) merges into one row")

	p := positions[0]
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("150")))
	// (100×0.40 + 50×0.70) / 150 = 0.50
	assert.True(t, p.AverageEntryPrice.Equal(decimal.RequireFromString("0.5")),
		"avg = %s", p.AverageEntryPrice)
	assert.True(t, p.TotalCostBasis.Equal(decimal.RequireFromString("75")))
}

func TestRecordBuyFill_SeparateOutcomesSeparateRows(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()

	require.NoError(t, db.RecordBuyFill(ctx, buyFill(0, "10", "0.40")))
	require.NoError(t, db.RecordBuyFill(ctx, buyFill(1, "20", "0.60")))

	positions, err := db.ActivePositions(ctx, testCondition)
	require.NoError(t, err)
	assert.Len(t, positions, 2)

	winners, err := db.WinningPositions(ctx, testCondition, 1)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, 1, winners[0].Outcome)
}

func TestRecordSellFill_RealizesPnL(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()

	require.NoError(t, db.RecordBuyFill(ctx, buyFill(0, "100", "0.40")))
	require.NoError(t, db.RecordSellFill(ctx, buyFill(0, "40", "0.60")))

	positions, err := db.ActivePositions(ctx, testCondition)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("60")))
	assert.True(t, p.RealizedPnL.Equal(decimal.RequireFromString("8")), "pnl = %s", p.RealizedPnL)
}

func TestRecordSellFill_NoPositionErrors(t *testing.T) {
	db := openLedger(t)
	err := db.RecordSellFill(context.Background(), buyFill(0, "10", "0.50"))
	assert.Error(t, err)
}

func TestMarkRedeemed_OnlyFromActive(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.RecordBuyFill(ctx, buyFill(1, "25", "0.50")))
	positions, err := db.ActivePositions(ctx, testCondition)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	id := positions[0].ID

	amount := decimal.RequireFromString("25000000")
	require.NoError(t, db.MarkRedeemed(ctx, id, "0xredeem1", "0xtransfer1", amount, now))

	// replay with different hashes leaves the first write in place
	require.NoError(t, db.MarkRedeemed(ctx, id, "0xredeem2", "0xtransfer2", amount, now))

	active, err := db.ActivePositions(ctx, testCondition)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestOrderLifecycle(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()

	order := domain.Order{
		ID:          domain.OrderID(testUser, 0),
		UserAddress: testUser,
		TokenID:     "7001",
		ConditionID: testCondition,
		Price:       decimal.RequireFromString("0.40"),
		Amount:      decimal.RequireFromString("40"),
		Side:        domain.Buy,
		Nonce:       0,
	}
	require.NoError(t, db.CreateOrder(ctx, order))

	got, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, got.Status)
	assert.True(t, got.Price.Equal(order.Price))

	require.NoError(t, db.UpdateOrderStatus(ctx, order.ID, domain.OrderExecuting,
		domain.OrderUpdate{ExchangeOrderID: "exch-1"}))

	executedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.UpdateOrderStatus(ctx, order.ID, domain.OrderCompleted,
		domain.OrderUpdate{TransactionHash: "0xfill", ExecutedAt: &executedAt}))

	got, err = db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, got.Status)
	// fields from earlier transitions survive later partial updates
	assert.Equal(t, "exch-1", got.ExchangeOrderID)
	assert.Equal(t, "0xfill", got.TransactionHash)
	require.NotNil(t, got.ExecutedAt)

	completed, err := db.UserOrders(ctx, testUser, domain.OrderCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	pending, err := db.UserOrders(ctx, testUser, domain.OrderPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUserNonce_StartsAtZeroAndIncrements(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()

	nonce, err := db.UserNonce(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(0), nonce)

	next, err := db.IncrementUserNonce(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	nonce, err = db.UserNonce(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), nonce)
}

func TestUpdateMarketMetadata_ReplacesBlob(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()

	require.NoError(t, db.RegisterMarket(ctx, domain.Market{ConditionID: testCondition}))
	require.NoError(t, db.UpdateMarketMetadata(ctx, testCondition, domain.MarketMetadata{
		Question:      "Will Y happen?",
		Outcomes:      []string{"Yes", "No"},
		OutcomePrices: []float64{1, 0},
	}))

	got, err := db.GetMarket(ctx, testCondition)
	require.NoError(t, err)
	assert.Equal(t, "Will Y happen?", got.Metadata.Question)
	assert.Equal(t, []float64{1, 0}, got.Metadata.OutcomePrices)
}

func TestUserStats_AggregatesAcrossFills(t *testing.T) {
	db := openLedger(t)
	ctx := context.Background()

	require.NoError(t, db.RegisterMarket(ctx, domain.Market{ConditionID: testCondition}))

	// buy 100 @ 0.40 = $40 volume, then sell 40 @ 0.60
	require.NoError(t, db.RecordBuyFill(ctx, buyFill(0, "100", "0.40")))
	require.NoError(t, db.RecordSellFill(ctx, buyFill(0, "40", "0.60")))

	stats, err := db.UserStats(ctx, testUser)
	require.NoError(t, err)

	// volume 100*0.40 + 40*0.60 = 64
	assert.True(t, stats.TotalVolume.Equal(decimal.RequireFromString("64")),
		"got volume %s", stats.TotalVolume)
	// pnl = 40 * (0.60 - 0.40) = 8
	assert.True(t, stats.RealizedPnL.Equal(decimal.RequireFromString("8")),
		"got pnl %s", stats.RealizedPnL)
	assert.Equal(t, int64(2), stats.TradesCount)
}

func TestUserStats_UnknownUserIsZero(t *testing.T) {
	db := openLedger(t)

	stats, err := db.UserStats(context.Background(), "0x9999999999999999999999999999999999999999")
	require.NoError(t, err)
	assert.True(t, stats.TotalVolume.IsZero())
	assert.True(t, stats.RealizedPnL.IsZero())
	assert.Zero(t, stats.TradesCount)
}
