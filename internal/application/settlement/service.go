package settlement

// The settlement service delivers redeemed proceeds to their destination:
// swap the exchange collateral (bridged USDC.e) into native USDC on the
// best of two router paths, then bridge it to the destination chain with a
// pinned fee quote. Both legs are quoted before anything is committed, so a
// bad route or a fee that eats the amount aborts up front.

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
	"github.com/Okay-Bet/market-agent-server/internal/ports"
)

const swapDeadlineWindow = 10 * time.Minute

// Tokens names the three Polygon-side tokens the swap leg can touch.
type Tokens struct {
	USDCe string // swap input, what the exchange settles in
	USDT  string // intermediate hop on the indirect route
	USDC  string // swap output, what the bridge wants
}

// Service implements proceeds delivery.
type Service struct {
	chain       ports.ChainGateway
	swap        ports.SwapGateway
	bridge      ports.BridgeGateway
	router      string
	tokens      Tokens
	slippagePct float64
	now         func() time.Time
}

// New creates a settlement Service. slippagePct is a percentage (0.5 means
// 0.5%) and is clamped to [0, 5].
func New(chain ports.ChainGateway, swap ports.SwapGateway, bridge ports.BridgeGateway, router string, tokens Tokens, slippagePct float64) *Service {
	if slippagePct < 0 {
		slippagePct = 0
	}
	if slippagePct > 5 {
		slippagePct = 5
	}
	return &Service{
		chain:       chain,
		swap:        swap,
		bridge:      bridge,
		router:      router,
		tokens:      tokens,
		slippagePct: slippagePct,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// BestSwapQuote quotes both candidate routes and returns whichever yields
// more output. A route that fails to quote is skipped; only both failing is
// an error.
func (s *Service) BestSwapQuote(ctx context.Context, amount *big.Int) (domain.SwapQuote, error) {
	direct := []string{s.tokens.USDCe, s.tokens.USDC}
	indirect := []string{s.tokens.USDCe, s.tokens.USDT, s.tokens.USDC}

	var best domain.SwapQuote
	for _, path := range [][]string{direct, indirect} {
		amounts, err := s.swap.AmountsOut(ctx, amount, path)
		if err != nil {
			slog.Debug("swap route quote failed", "hops", len(path), "err", err)
			continue
		}
		out := amounts[len(amounts)-1]
		if best.AmountOut == nil || out.Cmp(best.AmountOut) > 0 {
			best = domain.SwapQuote{Path: path, AmountOut: out}
		}
	}

	if best.AmountOut == nil {
		return domain.SwapQuote{}, fmt.Errorf("settlement.BestSwapQuote: no route available for %s", amount.String())
	}
	if best.AmountOut.Sign() <= 0 {
		return domain.SwapQuote{}, fmt.Errorf("settlement.BestSwapQuote: best route quotes zero output")
	}
	return best, nil
}

// minOut applies the slippage floor to a quoted output.
func (s *Service) minOut(quoted *big.Int) *big.Int {
	// quoted · (10000 − slippageBps) / 10000
	bps := int64(s.slippagePct * 100)
	m := new(big.Int).Mul(quoted, big.NewInt(10000-bps))
	return m.Div(m, big.NewInt(10000))
}

// ExecuteSwap converts amount of USDC.e into USDC on the best route and
// returns what the wallet actually holds afterwards.
func (s *Service) ExecuteSwap(ctx context.Context, amount *big.Int) (domain.SwapResult, error) {
	quote, err := s.BestSwapQuote(ctx, amount)
	if err != nil {
		return domain.SwapResult{}, err
	}
	floor := s.minOut(quote.AmountOut)

	if _, err := s.chain.Approve(ctx, s.tokens.USDCe, s.router, amount); err != nil {
		return domain.SwapResult{}, fmt.Errorf("settlement.ExecuteSwap: approve router: %w", err)
	}

	deadline := s.now().Add(swapDeadlineWindow).Unix()
	tx, err := s.swap.SwapExactIn(ctx, amount, floor, quote.Path, s.chain.WalletAddress(), deadline)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("settlement.ExecuteSwap: swap: %w", err)
	}

	return domain.SwapResult{
		Tx:        tx,
		Path:      quote.Path,
		AmountIn:  amount,
		MinOut:    floor,
		QuotedOut: quote.AmountOut,
	}, nil
}

// DeliverProceeds runs the full settlement: swap, quote, deposit. recipient
// receives native USDC on the destination chain, net of the relay fee.
func (s *Service) DeliverProceeds(ctx context.Context, recipient string, amount *big.Int) (domain.SettlementResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.SettlementResult{}, fmt.Errorf("settlement.DeliverProceeds: amount must be positive")
	}

	// Confirm the corridor is live before converting anything; a swap with
	// no bridge behind it would strand the proceeds in native USDC.
	available, err := s.bridge.RouteAvailable(ctx)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement.DeliverProceeds: check route: %w", err)
	}
	if !available {
		return domain.SettlementResult{}, fmt.Errorf("settlement.DeliverProceeds: bridge route unavailable")
	}

	balanceBefore, err := s.chain.BalanceOf(ctx, s.tokens.USDC, s.chain.WalletAddress())
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement.DeliverProceeds: read USDC balance: %w", err)
	}

	swapRes, err := s.ExecuteSwap(ctx, amount)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	// Bridge what the swap actually produced, not the quote: the fill can
	// land anywhere between the floor and the quoted output. The delta keeps
	// any USDC the wallet already held out of this recipient's deposit.
	balanceAfter, err := s.chain.BalanceOf(ctx, s.tokens.USDC, s.chain.WalletAddress())
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement.DeliverProceeds: read USDC balance: %w", err)
	}
	bridgeAmount := new(big.Int).Sub(balanceAfter, balanceBefore)
	if bridgeAmount.Cmp(swapRes.MinOut) < 0 {
		return domain.SettlementResult{}, fmt.Errorf("settlement.DeliverProceeds: swap output %s below floor %s",
			bridgeAmount.String(), swapRes.MinOut.String())
	}

	quote, err := s.bridge.Quote(ctx, bridgeAmount)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement.DeliverProceeds: %w", err)
	}

	if _, err := s.chain.Approve(ctx, s.tokens.USDC, quote.SpokePool, bridgeAmount); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement.DeliverProceeds: approve spoke pool: %w", err)
	}

	depositTx, err := s.bridge.Deposit(ctx, recipient, bridgeAmount, quote)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement.DeliverProceeds: %w", err)
	}

	result := domain.SettlementResult{
		Swap:         swapRes,
		BridgeTx:     depositTx,
		Quote:        quote,
		InputAmount:  bridgeAmount,
		OutputAmount: new(big.Int).Sub(bridgeAmount, quote.TotalRelayFee),
		Destination:  recipient,
		CompletedAt:  s.now(),
	}

	slog.Info("proceeds delivered",
		"recipient", recipient,
		"swapped_in", amount.String(),
		"bridged_in", result.InputAmount.String(),
		"bridged_out", result.OutputAmount.String(),
	)
	return result, nil
}
