package ports

import (
	"context"
	"math/big"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

// ChainGateway wraps every on-chain read and write the engine needs.
// Amounts are raw base units; addresses are 0x hex strings.
type ChainGateway interface {
	// BalanceOf returns the ERC-20 balance of owner.
	BalanceOf(ctx context.Context, asset, owner string) (*big.Int, error)

	// Allowance returns the ERC-20 allowance owner has granted spender.
	Allowance(ctx context.Context, asset, owner, spender string) (*big.Int, error)

	// Approve grants spender an allowance. Uses reset-to-zero-then-approve
	// when moving between non-zero values.
	Approve(ctx context.Context, asset, spender string, amount *big.Int) (domain.TxResult, error)

	// SetApprovalForAll sets ERC-1155 operator approval on the conditional
	// token contract.
	SetApprovalForAll(ctx context.Context, operator string, approved bool) (domain.TxResult, error)

	// PayoutDenominator reads the oracle's payout denominator for a
	// condition; > 0 means the market resolved on-chain.
	PayoutDenominator(ctx context.Context, conditionID string) (*big.Int, error)

	// PayoutNumerators reads the per-outcome payout numerators.
	PayoutNumerators(ctx context.Context, conditionID string) ([]*big.Int, error)

	// RedeemPositions redeems the given index set's collateral for the
	// engine wallet.
	RedeemPositions(ctx context.Context, conditionID string, indexSet []uint64) (domain.TxResult, error)

	// Transfer moves collateral from the engine wallet to a recipient.
	Transfer(ctx context.Context, asset, to string, amount *big.Int) (domain.TxResult, error)

	// WalletAddress returns the hot wallet address.
	WalletAddress() string
}

// SwapGateway wraps the on-chain swap router.
type SwapGateway interface {
	// AmountsOut quotes the router output for amount through path.
	AmountsOut(ctx context.Context, amount *big.Int, path []string) ([]*big.Int, error)

	// SwapExactIn swaps amount through path, reverting below minOut.
	SwapExactIn(ctx context.Context, amount, minOut *big.Int, path []string, to string, deadlineUnix int64) (domain.TxResult, error)
}

// SpokePoolDepositor submits an Across deposit transaction. Implemented by
// the on-chain adapter so the bridge client never touches a private key.
type SpokePoolDepositor interface {
	SendAcrossDeposit(ctx context.Context, params domain.DepositParams) (domain.TxResult, error)
}
