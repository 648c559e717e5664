package onchain

// client.go: Polygon gateway for the settlement engine.
//
// One hot wallet signs everything: ERC20 approvals and transfers, ERC1155
// operator approvals, CTF redeemPositions, swap router calls and Across
// deposits. All writes go through sendTx so nonce assignment, gas pricing
// and receipt confirmation behave the same everywhere.

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

// Polygon mainnet contract addresses.
const (
	// USDC.e (bridged), the Polymarket collateral
	USDCe = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// Native USDC, what Across prefers on the Optimism leg
	USDC = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"

	// USDT, the intermediate hop for the indirect swap route
	USDT = "0xc2132D05D31c914a87C6611C10748AEb04B58e8F"

	// CTF contract: conditional tokens (ERC1155) and payout oracle reads
	CTFAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// QuickSwap V2 router
	RouterAddress = "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"
)

const (
	// Gas limits (conservative upper bounds, used when estimation fails)
	approvalGasLimit = uint64(80_000)
	transferGasLimit = uint64(100_000)
	redeemGasLimit   = uint64(300_000)
	swapGasLimit     = uint64(350_000)
	depositGasLimit  = uint64(250_000)

	gasPriceUpdateInterval = 5 * time.Minute

	// Same-nonce resubmissions with escalated gas on receipt timeout
	receiptEscalations = 2
)

// Contract ABIs
var (
	erc20ABI   abi.ABI
	erc1155ABI abi.ABI
	ctfABI     abi.ABI
)

func init() {
	var err error

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"inputs": [{"name": "owner", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "transfer",
			"type": "function",
			"inputs": [
				{"name": "to", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}

	erc1155ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "setApprovalForAll",
			"type": "function",
			"inputs": [
				{"name": "operator", "type": "address"},
				{"name": "approved", "type": "bool"}
			],
			"outputs": []
		},
		{
			"name": "isApprovedForAll",
			"type": "function",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "operator", "type": "address"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("erc1155 abi parse: " + err.Error())
	}

	ctfABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "payoutDenominator",
			"type": "function",
			"inputs": [{"name": "conditionId", "type": "bytes32"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "payoutNumerators",
			"type": "function",
			"inputs": [
				{"name": "conditionId", "type": "bytes32"},
				{"name": "index", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "redeemPositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "indexSets", "type": "uint256[]"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("ctf abi parse: " + err.Error())
	}
}

// Client implements ports.ChainGateway, ports.SwapGateway and
// ports.SpokePoolDepositor over a single Polygon RPC connection.
type Client struct {
	client      *ethclient.Client
	privKey     *ecdsa.PrivateKey
	address     common.Address
	chainID     *big.Int
	receiptWait time.Duration
	receiptPoll time.Duration
	nonces      *nonceManager

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewClient dials the RPC endpoint and derives the wallet address.
// privateKeyHex may carry a 0x prefix.
func NewClient(rpcURL, privateKeyHex string, chainID int64, receiptWait, receiptPoll time.Duration) (*Client, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain: decode private key: %w", err)
	}

	privKey, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("onchain: invalid private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc %s: %w", rpcURL, err)
	}

	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	return &Client{
		client:      client,
		privKey:     privKey,
		address:     addr,
		chainID:     big.NewInt(chainID),
		receiptWait: receiptWait,
		receiptPoll: receiptPoll,
		nonces:      newNonceManager(client, addr),
	}, nil
}

// WalletAddress returns the hot wallet address as a checksummed hex string.
func (c *Client) WalletAddress() string {
	return c.address.Hex()
}

// BalanceOf returns the ERC20 balance of owner in base units.
func (c *Client) BalanceOf(ctx context.Context, asset, owner string) (*big.Int, error) {
	out, err := c.call(ctx, erc20ABI, asset, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("onchain.BalanceOf: %w", err)
	}
	return out[0].(*big.Int), nil
}

// Allowance returns the ERC20 allowance owner has granted spender.
func (c *Client) Allowance(ctx context.Context, asset, owner, spender string) (*big.Int, error) {
	out, err := c.call(ctx, erc20ABI, asset, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("onchain.Allowance: %w", err)
	}
	return out[0].(*big.Int), nil
}

// Approve grants spender an allowance on asset. Some tokens (USDT) reject
// non-zero → non-zero approvals, so an existing allowance is reset to zero
// first.
func (c *Client) Approve(ctx context.Context, asset, spender string, amount *big.Int) (domain.TxResult, error) {
	if amount.Sign() > 0 {
		current, err := c.Allowance(ctx, asset, c.address.Hex(), spender)
		if err != nil {
			return domain.TxResult{}, err
		}
		if current.Sign() > 0 {
			slog.Debug("onchain: resetting allowance before approve", "asset", asset, "spender", spender)
			if _, err := c.sendContractTx(ctx, erc20ABI, asset, approvalGasLimit, "approve",
				common.HexToAddress(spender), big.NewInt(0)); err != nil {
				return domain.TxResult{}, fmt.Errorf("onchain.Approve: reset: %w", err)
			}
		}
	}

	res, err := c.sendContractTx(ctx, erc20ABI, asset, approvalGasLimit, "approve",
		common.HexToAddress(spender), amount)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("onchain.Approve: %w", err)
	}
	return res, nil
}

// SetApprovalForAll sets ERC1155 operator approval on the CTF contract.
// A no-op transaction is skipped when the approval already matches.
func (c *Client) SetApprovalForAll(ctx context.Context, operator string, approved bool) (domain.TxResult, error) {
	out, err := c.call(ctx, erc1155ABI, CTFAddress, "isApprovedForAll", c.address, common.HexToAddress(operator))
	if err == nil && len(out) > 0 && out[0].(bool) == approved {
		return domain.TxResult{}, nil
	}

	res, err := c.sendContractTx(ctx, erc1155ABI, CTFAddress, approvalGasLimit, "setApprovalForAll",
		common.HexToAddress(operator), approved)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("onchain.SetApprovalForAll: %w", err)
	}
	return res, nil
}

// PayoutDenominator reads the CTF payout denominator for a condition.
// Zero means the oracle has not reported yet.
func (c *Client) PayoutDenominator(ctx context.Context, conditionID string) (*big.Int, error) {
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return nil, fmt.Errorf("onchain.PayoutDenominator: %w", err)
	}
	out, err := c.call(ctx, ctfABI, CTFAddress, "payoutDenominator", cond)
	if err != nil {
		return nil, fmt.Errorf("onchain.PayoutDenominator: %w", err)
	}
	return out[0].(*big.Int), nil
}

// PayoutNumerators reads the per-outcome payout numerators. The contract
// exposes an indexed getter, so each outcome is a separate call. Binary
// markets have exactly two outcomes.
func (c *Client) PayoutNumerators(ctx context.Context, conditionID string) ([]*big.Int, error) {
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return nil, fmt.Errorf("onchain.PayoutNumerators: %w", err)
	}

	numerators := make([]*big.Int, 0, 2)
	for i := int64(0); i < 2; i++ {
		out, err := c.call(ctx, ctfABI, CTFAddress, "payoutNumerators", cond, big.NewInt(i))
		if err != nil {
			return nil, fmt.Errorf("onchain.PayoutNumerators: outcome %d: %w", i, err)
		}
		numerators = append(numerators, out[0].(*big.Int))
	}
	return numerators, nil
}

// RedeemPositions redeems the given index sets' collateral for the wallet.
func (c *Client) RedeemPositions(ctx context.Context, conditionID string, indexSet []uint64) (domain.TxResult, error) {
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("onchain.RedeemPositions: %w", err)
	}

	sets := make([]*big.Int, len(indexSet))
	for i, s := range indexSet {
		sets[i] = new(big.Int).SetUint64(s)
	}

	res, err := c.sendContractTx(ctx, ctfABI, CTFAddress, redeemGasLimit, "redeemPositions",
		common.HexToAddress(USDCe),
		[32]byte{},
		cond,
		sets,
	)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("onchain.RedeemPositions: %w", err)
	}

	slog.Info("onchain: positions redeemed", "condition", shortHex(conditionID), "tx", res.Hash)
	return res, nil
}

// Transfer moves ERC20 collateral from the wallet to a recipient.
func (c *Client) Transfer(ctx context.Context, asset, to string, amount *big.Int) (domain.TxResult, error) {
	res, err := c.sendContractTx(ctx, erc20ABI, asset, transferGasLimit, "transfer",
		common.HexToAddress(to), amount)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("onchain.Transfer: %w", err)
	}

	slog.Info("onchain: transfer sent", "asset", asset, "to", to, "amount", amount.String(), "tx", res.Hash)
	return res, nil
}

// call executes a read-only contract call and unpacks the outputs.
func (c *Client) call(ctx context.Context, contractABI abi.ABI, contract, method string, args ...any) ([]any, error) {
	callData, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	addr := common.HexToAddress(contract)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &addr,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	vals, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("call %s: empty result", method)
	}
	return vals, nil
}

// sendContractTx packs, signs, sends and confirms a state-changing call.
func (c *Client) sendContractTx(ctx context.Context, contractABI abi.ABI, contract string, fallbackGas uint64, method string, args ...any) (domain.TxResult, error) {
	callData, err := contractABI.Pack(method, args...)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return c.sendTx(ctx, common.HexToAddress(contract), callData, fallbackGas)
}

// sendTx signs and sends raw calldata to a contract, then waits for the
// receipt. The wallet nonce only advances when the send itself succeeds.
func (c *Client) sendTx(ctx context.Context, to common.Address, callData []byte, fallbackGas uint64) (domain.TxResult, error) {
	gasPrice, err := c.getGasPrice(ctx)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("gas price: %w", err)
	}

	gasEstimate, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gasEstimate = fallbackGas
		slog.Warn("onchain: gas estimate failed, using default", "err", err, "limit", fallbackGas)
	}
	// Add 20% buffer
	gasEstimate = gasEstimate * 12 / 10

	nonce, err := c.nonces.next(ctx)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("nonce: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasEstimate, gasPrice, callData)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privKey)
	if err != nil {
		c.nonces.release(nonce)
		return domain.TxResult{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		c.nonces.release(nonce)
		return domain.TxResult{}, fmt.Errorf("send tx: %w", err)
	}

	txHash := signedTx.Hash()

	for attempt := 0; ; attempt++ {
		receiptCtx, cancel := context.WithTimeout(ctx, c.receiptWait)
		receipt, err := c.waitForReceipt(receiptCtx, txHash)
		cancel()

		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return domain.TxResult{}, fmt.Errorf("tx reverted: %s", txHash.Hex())
			}
			return domain.TxResult{Hash: txHash.Hex(), GasUsed: receipt.GasUsed}, nil
		}
		if attempt >= receiptEscalations || ctx.Err() != nil {
			return domain.TxResult{}, fmt.Errorf("wait receipt %s: %w", txHash.Hex(), err)
		}

		// Replace the stuck tx under the same nonce at a 25% higher price.
		gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(125)), big.NewInt(100))
		slog.Warn("onchain: receipt timeout, escalating gas",
			"tx", txHash.Hex(), "gas_price_wei", gasPrice.String())

		replacement := types.NewTransaction(nonce, to, big.NewInt(0), gasEstimate, gasPrice, callData)
		signedReplacement, err := types.SignTx(replacement, types.NewEIP155Signer(c.chainID), c.privKey)
		if err != nil {
			return domain.TxResult{}, fmt.Errorf("sign replacement tx: %w", err)
		}
		if err := c.client.SendTransaction(ctx, signedReplacement); err != nil {
			// The original may have landed in the meantime, making the
			// replacement underpriced. Keep waiting on the original hash.
			slog.Debug("onchain: replacement rejected", "err", err)
			continue
		}
		txHash = signedReplacement.Hash()
	}
}

// getGasPrice returns the current gas price, cached to avoid excessive RPC calls.
func (c *Client) getGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached, nil
	}

	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return big.NewInt(30_000_000_000), nil // 30 gwei fallback
	}

	// Add 10% buffer for faster inclusion
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()

	return buffered, nil
}

// waitForReceipt polls for a transaction receipt until confirmed or timeout.
func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

// hexToBytes32 converts a 0x-prefixed hex string to [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}

func shortHex(s string) string {
	if len(s) > 12 {
		return s[:12] + "..."
	}
	return s
}
