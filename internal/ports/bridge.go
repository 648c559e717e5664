package ports

import (
	"context"
	"math/big"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

// BridgeGateway wraps the cross-chain bridge's quote and deposit API for the
// one corridor the engine uses.
type BridgeGateway interface {
	// RouteAvailable reports whether the bridge currently serves the
	// configured corridor.
	RouteAvailable(ctx context.Context) (bool, error)

	// Quote fetches a relay-fee quote for bridging amount base units.
	Quote(ctx context.Context, amount *big.Int) (domain.BridgeQuote, error)

	// Deposit submits the on-chain deposit referencing a previously fetched
	// quote. The recipient receives amount − total relay fee on the
	// destination chain.
	Deposit(ctx context.Context, recipient string, amount *big.Int, quote domain.BridgeQuote) (domain.TxResult, error)
}
