package executor_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Okay-Bet/market-agent-server/internal/adapters/storage"
	"github.com/Okay-Bet/market-agent-server/internal/application/executor"
	"github.com/Okay-Bet/market-agent-server/internal/domain"
	"github.com/Okay-Bet/market-agent-server/internal/retry"
)

const (
	condition = "0x" + "bb00000000000000000000000000000000000000000000000000000000000002"
	user      = "0x2222222222222222222222222222222222222222"
	token     = "7001"
	usdce     = "0x2791bca1f2de4661ed88a30c99a7a9449aa84174"
	exchange  = "0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e"
)

// --- fakes ---

type fakeChain struct {
	balance      *big.Int
	allowance    *big.Int
	approveCalls int
	approveErr   error
	operatorSet  bool
	// allowanceAfterApprove replaces allowance once Approve is called,
	// imitating delayed RPC state.
	allowanceAfterApprove *big.Int
}

func (c *fakeChain) BalanceOf(context.Context, string, string) (*big.Int, error) {
	return c.balance, nil
}

func (c *fakeChain) Allowance(context.Context, string, string, string) (*big.Int, error) {
	if c.approveCalls > 0 && c.allowanceAfterApprove != nil {
		return c.allowanceAfterApprove, nil
	}
	return c.allowance, nil
}

func (c *fakeChain) Approve(context.Context, string, string, *big.Int) (domain.TxResult, error) {
	c.approveCalls++
	if c.approveErr != nil {
		return domain.TxResult{}, c.approveErr
	}
	return domain.TxResult{Hash: "0xapprove"}, nil
}

func (c *fakeChain) SetApprovalForAll(context.Context, string, bool) (domain.TxResult, error) {
	c.operatorSet = true
	return domain.TxResult{Hash: "0xoperator"}, nil
}

func (c *fakeChain) PayoutDenominator(context.Context, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *fakeChain) PayoutNumerators(context.Context, string) ([]*big.Int, error) {
	return nil, nil
}

func (c *fakeChain) RedeemPositions(context.Context, string, []uint64) (domain.TxResult, error) {
	return domain.TxResult{}, nil
}

func (c *fakeChain) Transfer(context.Context, string, string, *big.Int) (domain.TxResult, error) {
	return domain.TxResult{}, nil
}

func (c *fakeChain) WalletAddress() string { return "0xengine" }

type fakeExchange struct {
	book        domain.OrderBook
	submitErr   error
	fillErr     error
	fill        domain.FillInfo
	submitted   []domain.ExchangeOrder
	cancelled   []string
	submitCount int
}

func (e *fakeExchange) OrderBook(context.Context, string) (domain.OrderBook, error) {
	return e.book, nil
}

func (e *fakeExchange) SubmitOrder(_ context.Context, order domain.ExchangeOrder) (domain.ExchangeReceipt, error) {
	e.submitCount++
	e.submitted = append(e.submitted, order)
	if e.submitErr != nil {
		return domain.ExchangeReceipt{}, e.submitErr
	}
	return domain.ExchangeReceipt{OrderID: "exch-1", Status: "live"}, nil
}

func (e *fakeExchange) WaitForFill(context.Context, string) (domain.FillInfo, error) {
	if e.fillErr != nil {
		return domain.FillInfo{}, e.fillErr
	}
	return e.fill, nil
}

func (e *fakeExchange) CancelOrder(_ context.Context, orderID string) error {
	e.cancelled = append(e.cancelled, orderID)
	return nil
}

type fakeMarkets struct {
	market domain.TokenMarket
	err    error
}

func (m *fakeMarkets) MarketByToken(context.Context, string) (domain.TokenMarket, error) {
	if m.err != nil {
		return domain.TokenMarket{}, m.err
	}
	return m.market, nil
}

// --- helpers ---

func usdc(amount float64) *big.Int {
	return big.NewInt(int64(amount * 1_000_000))
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newFixture(t *testing.T) (*fakeChain, *fakeExchange, *fakeMarkets, *storage.SQLiteLedger, *executor.Executor) {
	t.Helper()

	chain := &fakeChain{balance: usdc(1000), allowance: usdc(1_000_000)}
	exch := &fakeExchange{
		book: domain.OrderBook{
			TokenID: token,
			Asks:    []domain.BookEntry{{Price: 0.40, Size: 100}},
			Bids:    []domain.BookEntry{{Price: 0.398, Size: 100}},
		},
		fill: domain.FillInfo{
			OrderID:         "exch-1",
			FilledSize:      100,
			TransactionHash: "0xfill",
			FilledAt:        time.Now().UTC(),
		},
	}
	markets := &fakeMarkets{market: domain.TokenMarket{
		ConditionID:  condition,
		TokenID:      token,
		Question:     "Will X happen?",
		Outcomes:     []string{"Yes", "No"},
		OutcomeIndex: 0,
	}}

	ledger, err := storage.NewSQLiteLedger(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	exec := executor.New(chain, exch, markets, ledger, executor.Config{
		Sizing:            domain.DefaultSizingConfig(),
		PriceDeviationPct: 0.01,
		CollateralToken:   usdce,
		ExchangeSpender:   exchange,
		AllowanceRecheck:  retry.Fixed(2, time.Millisecond),
	})
	return chain, exch, markets, ledger, exec
}

func buyIntent(nonce int64) domain.TradeIntent {
	return domain.TradeIntent{
		UserAddress: user,
		TokenID:     token,
		Price:       0.40,
		Notional:    40,
		Side:        domain.Buy,
		Nonce:       nonce,
	}
}

// --- tests ---

func TestExecute_SuccessfulBuy(t *testing.T) {
	_, exch, _, ledger, exec := newFixture(t)
	ctx := context.Background()

	result, err := exec.Execute(ctx, buyIntent(0))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderCompleted, result.Status)
	assert.Equal(t, "exch-1", result.ExchangeOrderID)
	assert.Equal(t, "0xfill", result.TransactionHash)
	assert.InDelta(t, 100.0, result.TokensFilled, 1e-9)

	// buys go fill-or-kill
	require.Len(t, exch.submitted, 1)
	assert.Equal(t, domain.FillOrKill, exch.submitted[0].Policy)

	// nonce advanced by exactly one
	nonce, err := ledger.UserNonce(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), nonce)

	// the fill landed in a position
	positions, err := ledger.ActivePositions(ctx, condition)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 0, positions[0].Outcome)

	order, err := ledger.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, order.Status)
	require.NotNil(t, order.ExecutedAt)
}

func TestExecute_RejectedOrderDoesNotAdvanceNonce(t *testing.T) {
	_, exch, _, ledger, exec := newFixture(t)
	ctx := context.Background()

	exch.submitErr = domain.NewTradeError(domain.ErrOrderRejected, "not enough balance / allowance")

	_, err := exec.Execute(ctx, buyIntent(0))
	require.Error(t, err)
	assert.Equal(t, domain.ErrOrderRejected, domain.KindOf(err))

	nonce, err := ledger.UserNonce(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), nonce, "failed execution must not advance the nonce")

	order, err := ledger.GetOrder(ctx, domain.OrderID(user, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, order.Status)
	assert.NotEmpty(t, order.Error)
}

func TestExecute_NonceMismatchRejected(t *testing.T) {
	_, _, _, _, exec := newFixture(t)

	_, err := exec.Execute(context.Background(), buyIntent(5))
	require.Error(t, err)
	assert.Equal(t, domain.ErrInvalidNonce, domain.KindOf(err),
		"stale nonce is a validation failure, the exchange was never called")
}

func TestExecute_FailedOrderRetriesUnderSameID(t *testing.T) {
	_, exch, _, ledger, exec := newFixture(t)
	ctx := context.Background()

	exch.submitErr = domain.NewTradeError(domain.ErrTemporarilyUnavailable, "exchange down")
	_, err := exec.Execute(ctx, buyIntent(0))
	require.Error(t, err)

	order, err := ledger.GetOrder(ctx, domain.OrderID(user, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, order.Status)

	// same nonce, same deterministic id, second attempt succeeds
	exch.submitErr = nil
	result, err := exec.Execute(ctx, buyIntent(0))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderID(user, 0), result.OrderID)
	assert.Equal(t, domain.OrderCompleted, result.Status)
}

func TestExecute_CompletedOrderReplaysWithoutResubmission(t *testing.T) {
	_, exch, _, ledger, exec := newFixture(t)
	ctx := context.Background()

	// a completed row whose nonce increment was lost
	executedAt := time.Now().UTC()
	orderID := domain.OrderID(user, 0)
	require.NoError(t, ledger.CreateOrder(ctx, domain.Order{
		ID:          orderID,
		UserAddress: user,
		TokenID:     token,
		Side:        domain.Buy,
		Nonce:       0,
	}))
	require.NoError(t, ledger.UpdateOrderStatus(ctx, orderID, domain.OrderCompleted, domain.OrderUpdate{
		ExchangeOrderID: "exch-old",
		TransactionHash: "0xold",
		ExecutedAt:      &executedAt,
	}))

	result, err := exec.Execute(ctx, buyIntent(0))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, result.Status)
	assert.Equal(t, "exch-old", result.ExchangeOrderID)
	assert.Equal(t, 0, exch.submitCount, "replay must not hit the exchange")
}

func TestExecute_PriceDeviationRejected(t *testing.T) {
	_, _, _, _, exec := newFixture(t)

	intent := buyIntent(0)
	intent.Price = 0.50 // best ask is 0.40, 25% off

	_, err := exec.Execute(context.Background(), intent)
	require.Error(t, err)
	assert.Equal(t, domain.ErrPriceDeviation, domain.KindOf(err))
}

func TestValidate_LiquidityShortfallReportedBeforeDeviation(t *testing.T) {
	_, exch, _, _, exec := newFixture(t)
	exch.book.Asks = []domain.BookEntry{{Price: 0.40, Size: 10}}

	// both guards would trip; sizing runs first, so the caller learns about
	// the shortfall rather than the stale price
	intent := buyIntent(0)
	intent.Price = 0.50

	_, err := exec.Validate(context.Background(), intent)
	require.Error(t, err)
	assert.Equal(t, domain.ErrInsufficientLiquidity, domain.KindOf(err))
}

func TestExecute_InsufficientLiquidityCarriesContext(t *testing.T) {
	_, exch, _, _, exec := newFixture(t)
	exch.book.Asks = []domain.BookEntry{{Price: 0.40, Size: 10}}

	_, err := exec.Execute(context.Background(), buyIntent(0))
	require.Error(t, err)

	var te *domain.TradeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.ErrInsufficientLiquidity, te.Kind)
	assert.Equal(t, 10.0, te.Context["executable_liquidity"])
	assert.Equal(t, 90.0, te.Context["shortfall"])
}

func TestExecute_InsufficientBalance(t *testing.T) {
	chain, _, _, _, exec := newFixture(t)
	chain.balance = usdc(1) // collateral requirement is well above $1

	_, err := exec.Execute(context.Background(), buyIntent(0))
	require.Error(t, err)
	assert.Equal(t, domain.ErrInsufficientBalance, domain.KindOf(err))
}

func TestExecute_ApprovesWhenAllowanceLow(t *testing.T) {
	chain, _, _, _, exec := newFixture(t)
	chain.allowance = big.NewInt(0)
	chain.allowanceAfterApprove = usdc(1_000_000)

	result, err := exec.Execute(context.Background(), buyIntent(0))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, result.Status)
	assert.Equal(t, 1, chain.approveCalls)
}

func TestExecute_AllowanceNeverCatchesUp(t *testing.T) {
	chain, _, _, _, exec := newFixture(t)
	chain.allowance = big.NewInt(0)
	chain.allowanceAfterApprove = big.NewInt(0)

	_, err := exec.Execute(context.Background(), buyIntent(0))
	require.Error(t, err)
	assert.Equal(t, domain.ErrInsufficientAllowance, domain.KindOf(err))
}

func TestExecute_SellUsesGTCAndOperatorApproval(t *testing.T) {
	chain, exch, _, ledger, exec := newFixture(t)
	ctx := context.Background()

	// seed the holding the sell reduces
	require.NoError(t, ledger.RecordBuyFill(ctx, domain.LedgerFill{
		UserAddress: user,
		ConditionID: condition,
		TokenID:     token,
		Outcome:     0,
		Amount:      decimalFromFloat(200),
		Price:       decimalFromFloat(0.30),
		OrderID:     "seed",
		FilledAt:    time.Now().UTC(),
	}))

	intent := domain.TradeIntent{
		UserAddress: user,
		TokenID:     token,
		Price:       0.398,
		Notional:    20,
		Side:        domain.Sell,
		Nonce:       0,
	}
	exch.fill.FilledSize = 20 / 0.398

	result, err := exec.Execute(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, result.Status)
	assert.True(t, chain.operatorSet)
	require.Len(t, exch.submitted, 1)
	assert.Equal(t, domain.GoodTillCancelled, exch.submitted[0].Policy)
}

func TestExecute_UnfilledSellIsCancelled(t *testing.T) {
	_, exch, _, _, exec := newFixture(t)

	exch.fillErr = errors.New("wait for fill: timed out")
	intent := domain.TradeIntent{
		UserAddress: user,
		TokenID:     token,
		Price:       0.398,
		Notional:    20,
		Side:        domain.Sell,
		Nonce:       0,
	}

	_, err := exec.Execute(context.Background(), intent)
	require.Error(t, err)
	assert.Equal(t, []string{"exch-1"}, exch.cancelled)
}

func TestExecute_LedgerFailureAfterFillSurfacesInconsistency(t *testing.T) {
	_, _, _, ledger, exec := newFixture(t)
	ctx := context.Background()

	// a sell fill with no position behind it cannot be folded into the
	// ledger; the exchange effect already happened
	intent := domain.TradeIntent{
		UserAddress: user,
		TokenID:     token,
		Price:       0.398,
		Notional:    20,
		Side:        domain.Sell,
		Nonce:       0,
	}

	_, err := exec.Execute(ctx, intent)
	require.Error(t, err)
	assert.Equal(t, domain.ErrLedgerInconsistent, domain.KindOf(err))

	nonce, err := ledger.UserNonce(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), nonce)
}

func TestValidate_DoesNotTouchTheLedger(t *testing.T) {
	_, _, _, ledger, exec := newFixture(t)
	ctx := context.Background()

	plan, err := exec.Validate(ctx, buyIntent(0))
	require.NoError(t, err)
	assert.True(t, plan.Feasible)
	assert.InDelta(t, 100.0, plan.TokenAmount, 1e-9)

	_, err = ledger.GetOrder(ctx, domain.OrderID(user, 0))
	assert.Error(t, err, "dry run must not create an order row")
}

func TestExecute_SettledMetadataResolvesMarketAtRegistration(t *testing.T) {
	_, _, markets, ledger, exec := newFixture(t)
	// metadata already carries a final outcome vector: the market settled
	// between listing and this fill
	markets.market.OutcomePrices = []float64{0, 1}

	_, err := exec.Execute(context.Background(), buyIntent(0))
	require.NoError(t, err)

	m, err := ledger.GetMarket(context.Background(), condition)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, m.Status)
	require.NotNil(t, m.WinningOutcome)
	assert.Equal(t, 0, *m.WinningOutcome)
}
