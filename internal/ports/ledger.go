package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

// LedgerStore is the transactional store of record for markets, positions
// and orders. It exclusively owns the persisted rows; the state machines
// only mutate them through the atomic transitions below.
type LedgerStore interface {
	// Markets
	RegisterMarket(ctx context.Context, m domain.Market) error
	GetMarket(ctx context.Context, conditionID string) (*domain.Market, error)
	UpdateMarketMetadata(ctx context.Context, conditionID string, md domain.MarketMetadata) error
	UnresolvedMarkets(ctx context.Context) ([]domain.Market, error)

	// PendingRedemptions returns resolved markets that still have active
	// positions or were never marked processed.
	PendingRedemptions(ctx context.Context) ([]domain.Market, error)

	// MarkResolved flips unresolved → resolved with the winning outcome.
	// Optimistic: a no-op if the market already left unresolved.
	MarkResolved(ctx context.Context, conditionID string, winningOutcome int, at time.Time) error

	// MarkProcessed flips resolved → processed, but only when no active
	// winning-outcome position remains. Returns true if the flip happened.
	MarkProcessed(ctx context.Context, conditionID string, at time.Time) (bool, error)

	// Positions
	ActivePositions(ctx context.Context, conditionID string) ([]domain.Position, error)
	WinningPositions(ctx context.Context, conditionID string, winningOutcome int) ([]domain.Position, error)

	// RecordBuyFill inserts or weighted-average-merges a position and
	// updates the user aggregates in one transaction.
	RecordBuyFill(ctx context.Context, fill domain.LedgerFill) error

	// RecordSellFill reduces a position and realizes PnL.
	RecordSellFill(ctx context.Context, fill domain.LedgerFill) error

	// MarkRedeemed flips active → redeemed with both tx hashes. Optimistic:
	// only an active position is updated, so a rerun never re-marks.
	MarkRedeemed(ctx context.Context, positionID uuid.UUID, redemptionTx, transferTx string, amountTransferred decimal.Decimal, at time.Time) error

	// Orders
	CreateOrder(ctx context.Context, o domain.Order) error
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, update domain.OrderUpdate) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	UserOrders(ctx context.Context, userAddress string, status domain.OrderStatus) ([]domain.Order, error)

	// Nonces. The nonce only moves forward after successful execution so a
	// failed attempt can be retried under the same order id.
	UserNonce(ctx context.Context, userAddress string) (int64, error)
	IncrementUserNonce(ctx context.Context, userAddress string) (int64, error)

	// UserStats returns the per-user running aggregates (volume, realized
	// PnL, fill count) maintained by the fill recorders.
	UserStats(ctx context.Context, userAddress string) (domain.UserStats, error)

	Close() error
}
