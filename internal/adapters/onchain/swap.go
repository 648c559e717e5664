package onchain

// swap.go: QuickSwap V2 router calls for the collateral conversion leg.

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

var routerABI abi.ABI

func init() {
	var err error
	routerABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "getAmountsOut",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "amountIn", "type": "uint256"},
				{"name": "path", "type": "address[]"}
			],
			"outputs": [{"name": "amounts", "type": "uint256[]"}]
		},
		{
			"name": "swapExactTokensForTokens",
			"type": "function",
			"inputs": [
				{"name": "amountIn", "type": "uint256"},
				{"name": "amountOutMin", "type": "uint256"},
				{"name": "path", "type": "address[]"},
				{"name": "to", "type": "address"},
				{"name": "deadline", "type": "uint256"}
			],
			"outputs": [{"name": "amounts", "type": "uint256[]"}]
		}
	]`))
	if err != nil {
		panic("router abi parse: " + err.Error())
	}
}

// AmountsOut quotes the router output for amount through path. The returned
// slice has one entry per path hop; the last entry is the final output.
func (c *Client) AmountsOut(ctx context.Context, amount *big.Int, path []string) ([]*big.Int, error) {
	out, err := c.call(ctx, routerABI, RouterAddress, "getAmountsOut", amount, hexPath(path))
	if err != nil {
		return nil, fmt.Errorf("onchain.AmountsOut: %w", err)
	}

	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("onchain.AmountsOut: unexpected result shape")
	}
	return amounts, nil
}

// SwapExactIn swaps amount through path, reverting on-chain if the output
// would fall below minOut.
func (c *Client) SwapExactIn(ctx context.Context, amount, minOut *big.Int, path []string, to string, deadlineUnix int64) (domain.TxResult, error) {
	res, err := c.sendContractTx(ctx, routerABI, RouterAddress, swapGasLimit, "swapExactTokensForTokens",
		amount,
		minOut,
		hexPath(path),
		common.HexToAddress(to),
		big.NewInt(deadlineUnix),
	)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("onchain.SwapExactIn: %w", err)
	}

	slog.Info("onchain: swap confirmed",
		"amount_in", amount.String(),
		"min_out", minOut.String(),
		"hops", len(path),
		"tx", res.Hash,
	)
	return res, nil
}

func hexPath(path []string) []common.Address {
	addrs := make([]common.Address, len(path))
	for i, p := range path {
		addrs[i] = common.HexToAddress(p)
	}
	return addrs
}
