package onchain

// deposit.go: Across spoke-pool depositV3 submission. The bridge adapter
// prepares the parameters from a fee quote; this side only signs and sends.

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

var spokePoolABI abi.ABI

func init() {
	var err error
	spokePoolABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "depositV3",
			"type": "function",
			"inputs": [
				{"name": "depositor", "type": "address"},
				{"name": "recipient", "type": "address"},
				{"name": "inputToken", "type": "address"},
				{"name": "outputToken", "type": "address"},
				{"name": "inputAmount", "type": "uint256"},
				{"name": "outputAmount", "type": "uint256"},
				{"name": "destinationChainId", "type": "uint256"},
				{"name": "exclusiveRelayer", "type": "address"},
				{"name": "quoteTimestamp", "type": "uint32"},
				{"name": "fillDeadline", "type": "uint32"},
				{"name": "exclusivityDeadline", "type": "uint32"},
				{"name": "message", "type": "bytes"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("spoke pool abi parse: " + err.Error())
	}
}

// SendAcrossDeposit signs and sends a depositV3 to the spoke pool named in
// params. Collateral must already be approved for the spoke pool.
func (c *Client) SendAcrossDeposit(ctx context.Context, params domain.DepositParams) (domain.TxResult, error) {
	if params.SpokePool == "" {
		return domain.TxResult{}, fmt.Errorf("onchain.SendAcrossDeposit: empty spoke pool address")
	}

	msg := params.Message
	if msg == nil {
		msg = []byte{}
	}

	res, err := c.sendContractTx(ctx, spokePoolABI, params.SpokePool, depositGasLimit, "depositV3",
		common.HexToAddress(params.Depositor),
		common.HexToAddress(params.Recipient),
		common.HexToAddress(params.InputToken),
		common.HexToAddress(params.OutputToken),
		params.InputAmount,
		params.OutputAmount,
		big.NewInt(params.DestinationChain),
		common.HexToAddress(params.ExclusiveRelayer),
		params.QuoteTimestamp,
		params.FillDeadline,
		params.ExclusivityDeadline,
		msg,
	)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("onchain.SendAcrossDeposit: %w", err)
	}

	slog.Info("onchain: across deposit sent",
		"recipient", params.Recipient,
		"input", params.InputAmount.String(),
		"output", params.OutputAmount.String(),
		"destination_chain", params.DestinationChain,
		"tx", res.Hash,
	)
	return res, nil
}
