package domain

import (
	"math/big"
	"time"
)

// TxResult is the outcome of a confirmed on-chain transaction.
type TxResult struct {
	Hash    string
	GasUsed uint64
}

// BridgeQuote is the typed result of an Across suggested-fees call,
// validated at the boundary so nothing downstream branches on missing keys.
type BridgeQuote struct {
	TotalRelayFee    *big.Int
	CapitalFee       *big.Int
	GasFee           *big.Int
	LPFee            *big.Int
	Timestamp        uint32 // quote timestamp echoed into the deposit
	ExclusiveRelayer string
	ExclusivityDeadline uint32
	SpokePool        string
	MinDeposit       *big.Int
	MaxDeposit       *big.Int
	EstimatedFillSec int
	IsAmountTooLow   bool
}

// DepositParams are the Across spoke-pool deposit arguments.
type DepositParams struct {
	SpokePool        string
	Depositor        string
	Recipient        string
	InputToken       string
	OutputToken      string
	InputAmount      *big.Int
	OutputAmount     *big.Int
	DestinationChain int64
	ExclusiveRelayer string
	QuoteTimestamp   uint32
	FillDeadline     uint32
	ExclusivityDeadline uint32
	Message          []byte
}

// SwapQuote is one candidate route's quoted output.
type SwapQuote struct {
	Path      []string
	AmountOut *big.Int
}

// SwapResult reports an executed swap.
type SwapResult struct {
	Tx        TxResult
	Path      []string
	AmountIn  *big.Int
	MinOut    *big.Int
	QuotedOut *big.Int
}

// SettlementResult reports a completed proceeds delivery: the swap leg, the
// bridge leg and the amount expected on the destination chain.
type SettlementResult struct {
	Swap         SwapResult
	BridgeTx     TxResult
	Quote        BridgeQuote
	InputAmount  *big.Int
	OutputAmount *big.Int
	Destination  string
	CompletedAt  time.Time
}

// RedemptionResult reports one position's redeem + payout.
type RedemptionResult struct {
	ConditionID       string
	UserAddress       string
	RedemptionTx      string
	TransferTx        string
	AmountTransferred *big.Int
}
