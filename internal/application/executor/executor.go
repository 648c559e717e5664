package executor

// The trade executor drives a delegated order through its whole lifecycle:
// validation, sizing against the live book, collateral and allowance guards,
// exchange submission, fill confirmation and ledger writes. Each step either
// completes or surfaces a classified error; there is no silent partial
// success. The user nonce only advances on success, so a failed order can be
// retried under the same deterministic order id.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
	"github.com/Okay-Bet/market-agent-server/internal/ports"
	"github.com/Okay-Bet/market-agent-server/internal/retry"
)

// Config carries the wiring and policy for an Executor.
type Config struct {
	Sizing            domain.SizingConfig
	PriceDeviationPct float64 // sanity band vs the best opposing price
	CollateralToken   string  // ERC20 the exchange settles in
	ExchangeSpender   string  // contract that pulls collateral on matches
	AllowanceRecheck  retry.Policy
}

// Executor implements the delegated trade lifecycle.
type Executor struct {
	chain    ports.ChainGateway
	exchange ports.ExchangeGateway
	markets  ports.MarketDataProvider
	ledger   ports.LedgerStore
	cfg      Config
	now      func() time.Time
}

// New creates an Executor.
func New(chain ports.ChainGateway, exchange ports.ExchangeGateway, markets ports.MarketDataProvider, ledger ports.LedgerStore, cfg Config) *Executor {
	if cfg.AllowanceRecheck.MaxAttempts == 0 {
		cfg.AllowanceRecheck = retry.Fixed(3, 2*time.Second)
	}
	return &Executor{
		chain:    chain,
		exchange: exchange,
		markets:  markets,
		ledger:   ledger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Validate runs the full pre-trade pipeline without side effects: intent
// checks, book fetch, sizing and the price-deviation guard. Callers use it
// as a dry run before asking the user to sign.
func (e *Executor) Validate(ctx context.Context, intent domain.TradeIntent) (domain.ExecutionPlan, error) {
	if _, err := domain.ParseSide(string(intent.Side)); err != nil {
		return domain.ExecutionPlan{}, domain.NewTradeError(domain.ErrInvalidSide, err.Error())
	}

	book, err := e.exchange.OrderBook(ctx, intent.TokenID)
	if err != nil {
		return domain.ExecutionPlan{}, err
	}

	// Sizing first, price sanity second: an unfillable trade reports the
	// liquidity shortfall even when the price is also off.
	plan, err := domain.PlanTrade(book, intent.Side, intent.Notional, intent.Price, e.cfg.Sizing)
	if err != nil {
		return domain.ExecutionPlan{}, err
	}
	if !plan.Feasible {
		return plan, domain.NewTradeErrorf(domain.ErrInsufficientLiquidity,
			"need %.4f tokens, book offers %.4f within band", plan.TokenAmount, plan.ExecutableLiquidity).
			WithContext("executable_liquidity", plan.ExecutableLiquidity).
			WithContext("shortfall", plan.Shortfall)
	}

	if err := e.checkDeviation(book, intent.Side, intent.Price); err != nil {
		return plan, err
	}
	return plan, nil
}

// Execute runs a validated intent to completion. The returned TradeResult
// reports every sub-step that happened; on error the order row holds the
// failure reason and the nonce is untouched.
func (e *Executor) Execute(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error) {
	nonce, err := e.ledger.UserNonce(ctx, intent.UserAddress)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("executor.Execute: read nonce: %w", err)
	}
	if intent.Nonce != nonce {
		return domain.TradeResult{}, domain.NewTradeErrorf(domain.ErrInvalidNonce,
			"nonce %d does not match expected %d", intent.Nonce, nonce)
	}

	orderID := domain.OrderID(intent.UserAddress, nonce)
	result := domain.TradeResult{OrderID: orderID}

	// Idempotent replay: a completed or in-flight order under this id is
	// returned as-is instead of being executed twice.
	if existing, err := e.ledger.GetOrder(ctx, orderID); err == nil {
		switch existing.Status {
		case domain.OrderCompleted, domain.OrderExecuting:
			result.Status = existing.Status
			result.ExchangeOrderID = existing.ExchangeOrderID
			result.TransactionHash = existing.TransactionHash
			return result, nil
		}
	} else {
		row := domain.Order{
			ID:          orderID,
			UserAddress: intent.UserAddress,
			TokenID:     intent.TokenID,
			Price:       decimal.NewFromFloat(intent.Price),
			Amount:      decimal.NewFromFloat(intent.Notional),
			Side:        intent.Side,
			Nonce:       nonce,
			Status:      domain.OrderPending,
			CreatedAt:   e.now(),
		}
		if err := e.ledger.CreateOrder(ctx, row); err != nil {
			return result, fmt.Errorf("executor.Execute: create order: %w", err)
		}
	}

	plan, err := e.Validate(ctx, intent)
	result.Plan = plan
	if err != nil {
		e.markFailed(ctx, orderID, err)
		return result, err
	}

	market, err := e.markets.MarketByToken(ctx, intent.TokenID)
	if err != nil {
		err = domain.NewTradeError(domain.ErrTemporarilyUnavailable, "resolve market metadata").WithCause(err)
		e.markFailed(ctx, orderID, err)
		return result, err
	}

	if err := e.guardFunds(ctx, intent, plan); err != nil {
		e.markFailed(ctx, orderID, err)
		return result, err
	}

	if err := e.ledger.UpdateOrderStatus(ctx, orderID, domain.OrderExecuting, domain.OrderUpdate{}); err != nil {
		return result, fmt.Errorf("executor.Execute: mark executing: %w", err)
	}
	result.Status = domain.OrderExecuting

	// Buys must fill completely right now; sells may rest on the book.
	policy := domain.FillOrKill
	if intent.Side == domain.Sell {
		policy = domain.GoodTillCancelled
	}

	receipt, err := e.exchange.SubmitOrder(ctx, domain.ExchangeOrder{
		TokenID: intent.TokenID,
		Side:    intent.Side,
		Price:   intent.Price,
		Size:    plan.TokenAmount,
		Policy:  policy,
		NegRisk: market.NegRisk,
	})
	if err != nil {
		e.markFailed(ctx, orderID, err)
		return result, err
	}
	result.ExchangeOrderID = receipt.OrderID

	fill, err := e.exchange.WaitForFill(ctx, receipt.OrderID)
	if err != nil {
		// A GTC sell that simply has not filled yet stays executing; the
		// order is cancelled so no stale liquidity lingers.
		if policy == domain.GoodTillCancelled && ctx.Err() == nil && domain.KindOf(err) != domain.ErrOrderRejected {
			if cancelErr := e.exchange.CancelOrder(ctx, receipt.OrderID); cancelErr != nil {
				slog.Warn("cancel unfilled sell failed", "order", orderID, "err", cancelErr)
			}
		}
		e.markFailed(ctx, orderID, err)
		return result, err
	}

	result.TokensFilled = fill.FilledSize
	result.AvgPrice = plan.WeightedAvgPrice
	result.TransactionHash = fill.TransactionHash

	if err := e.recordFill(ctx, intent, market, orderID, fill); err != nil {
		// The exchange fill happened; only the ledger write failed. This
		// must surface loudly and be replayed, never assumed.
		incErr := domain.NewTradeError(domain.ErrLedgerInconsistent,
			"exchange fill confirmed but ledger write failed").WithCause(err)
		e.markFailed(ctx, orderID, incErr)
		return result, incErr
	}

	executedAt := fill.FilledAt
	if err := e.ledger.UpdateOrderStatus(ctx, orderID, domain.OrderCompleted, domain.OrderUpdate{
		ExchangeOrderID: receipt.OrderID,
		TransactionHash: fill.TransactionHash,
		ExecutedAt:      &executedAt,
	}); err != nil {
		return result, domain.NewTradeError(domain.ErrLedgerInconsistent,
			"fill recorded but order row not completed").WithCause(err)
	}

	if _, err := e.ledger.IncrementUserNonce(ctx, intent.UserAddress); err != nil {
		return result, domain.NewTradeError(domain.ErrLedgerInconsistent,
			"order completed but nonce not advanced").WithCause(err)
	}

	result.Status = domain.OrderCompleted
	slog.Info("trade executed",
		"order", orderID,
		"user", intent.UserAddress,
		"side", intent.Side,
		"tokens", result.TokensFilled,
		"avg_price", result.AvgPrice,
	)
	return result, nil
}

// checkDeviation rejects limits drifting more than the configured fraction
// from the best opposing price. Books can move between the client quoting
// and the intent arriving; this bounds how stale an intent may be.
func (e *Executor) checkDeviation(book domain.OrderBook, side domain.Side, limit float64) error {
	var opposing float64
	if side == domain.Buy {
		opposing = book.BestAsk()
	} else {
		opposing = book.BestBid()
	}
	if opposing == 0 {
		return domain.NewTradeError(domain.ErrInsufficientLiquidity, "opposing book side is empty")
	}

	deviation := math.Abs(limit-opposing) / opposing
	if deviation > e.cfg.PriceDeviationPct {
		return domain.NewTradeErrorf(domain.ErrPriceDeviation,
			"limit %.4f deviates %.2f%% from best opposing %.4f",
			limit, deviation*100, opposing).
			WithContext("best_opposing", opposing).
			WithContext("deviation", deviation)
	}
	return nil
}

// guardFunds verifies the engine wallet can actually settle the trade
// before anything is signed. Buys need collateral plus the fee buffer and a
// spender allowance; sells need the ERC1155 operator approval.
func (e *Executor) guardFunds(ctx context.Context, intent domain.TradeIntent, plan domain.ExecutionPlan) error {
	wallet := e.chain.WalletAddress()

	if intent.Side == domain.Sell {
		if _, err := e.chain.SetApprovalForAll(ctx, e.cfg.ExchangeSpender, true); err != nil {
			return domain.NewTradeError(domain.ErrApprovalFailed, "set operator approval").WithCause(err)
		}
		return nil
	}

	required := domain.CollateralRequired(plan.TokenAmount, intent.Price)
	requiredUnits := usdcUnits(required)

	balance, err := e.chain.BalanceOf(ctx, e.cfg.CollateralToken, wallet)
	if err != nil {
		return domain.NewTradeError(domain.ErrTemporarilyUnavailable, "read collateral balance").WithCause(err)
	}
	if balance.Cmp(requiredUnits) < 0 {
		return domain.NewTradeErrorf(domain.ErrInsufficientBalance,
			"need %.4f USDC (with buffer), wallet holds %s base units", required, balance.String()).
			WithContext("required_usdc", required)
	}

	allowance, err := e.chain.Allowance(ctx, e.cfg.CollateralToken, wallet, e.cfg.ExchangeSpender)
	if err != nil {
		return domain.NewTradeError(domain.ErrTemporarilyUnavailable, "read allowance").WithCause(err)
	}
	if allowance.Cmp(requiredUnits) >= 0 {
		return nil
	}

	if _, err := e.chain.Approve(ctx, e.cfg.CollateralToken, e.cfg.ExchangeSpender, maxUint256()); err != nil {
		return domain.NewTradeError(domain.ErrApprovalFailed, "approve collateral").WithCause(err)
	}

	// Allowance reads can lag the approval tx on some RPC providers; give
	// the state a bounded window to catch up.
	err = e.cfg.AllowanceRecheck.Do(ctx, func() error {
		current, err := e.chain.Allowance(ctx, e.cfg.CollateralToken, wallet, e.cfg.ExchangeSpender)
		if err != nil {
			return err
		}
		if current.Cmp(requiredUnits) < 0 {
			return fmt.Errorf("allowance %s still below required %s", current.String(), requiredUnits.String())
		}
		return nil
	})
	if err != nil {
		return domain.NewTradeError(domain.ErrInsufficientAllowance,
			"allowance did not reach required amount after approval").WithCause(err)
	}
	return nil
}

// recordFill folds the confirmed fill into the ledger.
func (e *Executor) recordFill(ctx context.Context, intent domain.TradeIntent, market domain.TokenMarket, orderID string, fill domain.FillInfo) error {
	if err := e.ledger.RegisterMarket(ctx, domain.Market{
		ConditionID: market.ConditionID,
		TokenID:     intent.TokenID,
		Status:      domain.MarketUnresolved,
		Metadata: domain.MarketMetadata{
			Question:      market.Question,
			Outcomes:      market.Outcomes,
			OutcomePrices: market.OutcomePrices,
		},
		CreatedAt: e.now(),
	}); err != nil {
		return fmt.Errorf("register market: %w", err)
	}

	// Metadata can already carry a final outcome vector when the market
	// settled between listing and this fill. Marking it here saves a full
	// resolution sweep; MarkResolved is a no-op on an already-resolved row.
	if res := domain.ResolutionFromPrices(market.OutcomePrices, "metadata"); res.State == domain.Resolved {
		if err := e.ledger.MarkResolved(ctx, market.ConditionID, res.WinningOutcome, e.now()); err != nil {
			return fmt.Errorf("mark resolved at registration: %w", err)
		}
	}

	ledgerFill := domain.LedgerFill{
		UserAddress:     intent.UserAddress,
		ConditionID:     market.ConditionID,
		TokenID:         intent.TokenID,
		Outcome:         market.OutcomeIndex,
		Amount:          decimal.NewFromFloat(fill.FilledSize),
		Price:           decimal.NewFromFloat(intent.Price),
		CollateralToken: e.cfg.CollateralToken,
		OrderID:         orderID,
		FilledAt:        fill.FilledAt,
	}

	if intent.Side == domain.Buy {
		return e.ledger.RecordBuyFill(ctx, ledgerFill)
	}
	return e.ledger.RecordSellFill(ctx, ledgerFill)
}

// markFailed moves the order row to failed with the error string. Best
// effort: the primary error is already on its way to the caller.
func (e *Executor) markFailed(ctx context.Context, orderID string, cause error) {
	if err := e.ledger.UpdateOrderStatus(ctx, orderID, domain.OrderFailed, domain.OrderUpdate{
		Error: cause.Error(),
	}); err != nil {
		slog.Error("mark order failed", "order", orderID, "err", err)
	}
}

func usdcUnits(usdc float64) *big.Int {
	return big.NewInt(int64(math.Ceil(usdc * 1_000_000)))
}

func maxUint256() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}
