package ports

import (
	"context"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

// ExchangeGateway wraps the off-chain order-book exchange.
type ExchangeGateway interface {
	// OrderBook fetches a fresh book snapshot for the token.
	OrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)

	// SubmitOrder signs and submits an order under the given fill policy.
	// Exchange rejections surface as domain.ErrOrderRejected and are
	// terminal; transport failures are retried internally.
	SubmitOrder(ctx context.Context, order domain.ExchangeOrder) (domain.ExchangeReceipt, error)

	// WaitForFill polls the order until it fills or the bounded wait
	// expires.
	WaitForFill(ctx context.Context, orderID string) (domain.FillInfo, error)

	// CancelOrder cancels a resting order by its exchange id.
	CancelOrder(ctx context.Context, orderID string) error
}

// MarketDataProvider resolves exchange token ids to market metadata,
// including the outcome-price vector used as a resolution fallback.
type MarketDataProvider interface {
	MarketByToken(ctx context.Context, tokenID string) (domain.TokenMarket, error)
}
