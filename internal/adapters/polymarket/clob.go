package polymarket

// clob.go: CLOB order execution adapter.
//
// Implements ports.ExchangeGateway using AuthClient for L1/L2 auth. Buys go
// out FOK (fill completely now or not at all), sells go out GTC and rest on
// the book. Exchange rejections are terminal; only transport failures retry.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

// TradingClient implements ports.ExchangeGateway.
type TradingClient struct {
	auth     *AuthClient
	fillWait time.Duration
	fillPoll time.Duration
}

// NewTradingClient creates a TradingClient. fillWait bounds how long
// WaitForFill polls; fillPoll is the interval between polls.
func NewTradingClient(auth *AuthClient, fillWait, fillPoll time.Duration) *TradingClient {
	if fillWait <= 0 {
		fillWait = 60 * time.Second
	}
	if fillPoll <= 0 {
		fillPoll = 2 * time.Second
	}
	return &TradingClient{auth: auth, fillWait: fillWait, fillPoll: fillPoll}
}

// OrderBook fetches a fresh book snapshot for the token. Both sides come
// back sorted best-first regardless of API ordering.
func (tc *TradingClient) OrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	url := fmt.Sprintf("%s/book?token_id=%s", tc.auth.clobBase, tokenID)

	var resp bookResponse
	if err := tc.auth.get(ctx, tc.auth.booksLimiter, url, &resp); err != nil {
		return domain.OrderBook{}, domain.NewTradeErrorf(domain.ErrTemporarilyUnavailable,
			"fetch order book for token %s", tokenID).WithCause(err)
	}

	book := domain.OrderBook{
		TokenID: tokenID,
		Bids:    mapLevels(resp.Bids),
		Asks:    mapLevels(resp.Asks),
	}
	sort.SliceStable(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.SliceStable(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
	return book, nil
}

// SubmitOrder signs and submits an order under the given fill policy.
func (tc *TradingClient) SubmitOrder(ctx context.Context, order domain.ExchangeOrder) (domain.ExchangeReceipt, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.ExchangeReceipt{}, domain.NewTradeError(domain.ErrTemporarilyUnavailable,
			"derive exchange credentials").WithCause(err)
	}

	signed, err := tc.auth.buildSignedOrder(order)
	if err != nil {
		return domain.ExchangeReceipt{}, fmt.Errorf("polymarket.SubmitOrder: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       order.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(order.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: string(order.Policy),
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.ExchangeReceipt{}, domain.NewTradeError(domain.ErrTemporarilyUnavailable,
			"submit order").WithCause(err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return domain.ExchangeReceipt{}, domain.NewTradeErrorf(domain.ErrOrderRejected,
			"exchange rejected order: %s", resp.ErrorMsg)
	}

	slog.Info("order submitted",
		"token", order.TokenID,
		"side", order.Side,
		"policy", order.Policy,
		"exchange_order_id", resp.OrderID,
		"status", resp.Status,
	)

	return domain.ExchangeReceipt{
		OrderID:      resp.OrderID,
		Status:       resp.Status,
		TakingAmount: parseMicroUSDC(resp.TakingAmount),
		MakingAmount: parseMicroUSDC(resp.MakingAmount),
	}, nil
}

// WaitForFill polls the order state until it is fully matched or the
// bounded wait expires. An expired wait is not an error for GTC orders;
// the caller decides whether to cancel.
func (tc *TradingClient) WaitForFill(ctx context.Context, orderID string) (domain.FillInfo, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.FillInfo{}, fmt.Errorf("polymarket.WaitForFill: creds: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, tc.fillWait)
	defer cancel()

	ticker := time.NewTicker(tc.fillPoll)
	defer ticker.Stop()

	var last domain.FillInfo
	for {
		select {
		case <-waitCtx.Done():
			return last, waitCtx.Err()
		case <-ticker.C:
			var state clobOrderState
			if err := tc.auth.doL2(waitCtx, http.MethodGet, "/data/order/"+orderID, nil, &state); err != nil {
				slog.Debug("fill poll failed, retrying", "order", orderID, "err", err)
				continue
			}

			last = domain.FillInfo{
				OrderID:    orderID,
				FilledSize: domain.ParsePrice(state.SizeMatched),
			}

			upper := strings.ToUpper(state.Status)
			if strings.Contains(upper, "MATCHED") {
				last.FilledAt = time.Now().UTC()
				if len(state.AssociateTrades) > 0 {
					last.TransactionHash = state.AssociateTrades[0]
				}
				return last, nil
			}
			if strings.Contains(upper, "CANCEL") || strings.Contains(upper, "INVALID") {
				return last, domain.NewTradeErrorf(domain.ErrOrderRejected,
					"order %s ended %s before filling", orderID, state.Status)
			}
		}
	}
}

// CancelOrder cancels a resting order by its exchange id.
func (tc *TradingClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("polymarket.CancelOrder: creds: %w", err)
	}

	if err := tc.auth.doL2(ctx, http.MethodDelete, "/order/"+orderID, nil, nil); err != nil {
		return fmt.Errorf("polymarket.CancelOrder: %s: %w", orderID, err)
	}
	return nil
}

// IsNegRisk queries the CLOB to determine if a token uses the NegRisk adapter.
func (tc *TradingClient) IsNegRisk(ctx context.Context, tokenID string) (bool, error) {
	url := fmt.Sprintf("%s/neg-risk?token_id=%s", tc.auth.clobBase, tokenID)

	var resp clobNegRiskResponse
	if err := tc.auth.get(ctx, tc.auth.clobLimiter, url, &resp); err != nil {
		return false, fmt.Errorf("polymarket.IsNegRisk: %w", err)
	}
	return resp.NegRisk, nil
}

func mapLevels(levels []bookLevel) []domain.BookEntry {
	out := make([]domain.BookEntry, 0, len(levels))
	for _, l := range levels {
		out = append(out, domain.BookEntry{
			Price: domain.ParsePrice(l.Price),
			Size:  domain.ParsePrice(l.Size),
		})
	}
	return out
}

// parseMicroUSDC converts a micro-USDC string (e.g. "1000000") to USDC.
func parseMicroUSDC(s string) float64 {
	if s == "" {
		return 0
	}
	return domain.ParsePrice(s) / 1_000_000
}
