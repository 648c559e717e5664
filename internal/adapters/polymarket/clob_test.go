package polymarket_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Okay-Bet/market-agent-server/internal/adapters/polymarket"
	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

func testKeyHex(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(crypto.FromECDSA(key))
}

func newTradingClient(t *testing.T, clobSrv *httptest.Server) *polymarket.TradingClient {
	t.Helper()
	auth, err := polymarket.NewAuthClient(clobSrv.URL, "", testKeyHex(t))
	require.NoError(t, err)
	return polymarket.NewTradingClient(auth, time.Second, 10*time.Millisecond)
}

func TestOrderBook_SortedBestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "7001", r.URL.Query().Get("token_id"))
		w.Header().Set("Content-Type", "application/json")
		// sides deliberately out of order
		fmt.Fprint(w, `{
			"market": "0xabc",
			"asset_id": "7001",
			"bids": [{"price": "0.38", "size": "50"}, {"price": "0.40", "size": "120"}],
			"asks": [{"price": "0.44", "size": "80"}, {"price": "0.42", "size": "60"}]
		}`)
	}))
	defer srv.Close()

	client := newTradingClient(t, srv)
	book, err := client.OrderBook(context.Background(), "7001")
	require.NoError(t, err)

	assert.Equal(t, "7001", book.TokenID)
	assert.InDelta(t, 0.40, book.BestBid(), 0.001)
	assert.InDelta(t, 0.42, book.BestAsk(), 0.001)
	assert.InDelta(t, 0.41, book.Midpoint(), 0.001)
	assert.InDelta(t, 120.0, book.Bids[0].Size, 0.001)
}

func TestOrderBook_FailureIsTemporarilyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTradingClient(t, srv)
	_, err := client.OrderBook(context.Background(), "7001")
	require.Error(t, err)
	assert.Equal(t, domain.ErrTemporarilyUnavailable, domain.KindOf(err))
}

func TestMarketByToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "111", r.URL.Query().Get("clob_token_ids"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{
			"conditionId": "0xabc",
			"question": "Will X happen?",
			"outcomes": "[\"Yes\", \"No\"]",
			"outcomePrices": "[\"1\", \"0\"]",
			"clobTokenIds": "[\"111\", \"222\"]",
			"negRisk": false,
			"closed": true
		}]`)
	}))
	defer srv.Close()

	client := polymarket.NewClient("", srv.URL)
	tm, err := client.MarketByToken(context.Background(), "111")
	require.NoError(t, err)

	assert.Equal(t, "0xabc", tm.ConditionID)
	assert.Equal(t, 0, tm.OutcomeIndex)
	assert.Equal(t, []float64{1, 0}, tm.OutcomePrices)
}

func TestMarketByToken_NoMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := polymarket.NewClient("", srv.URL)
	_, err := client.MarketByToken(context.Background(), "111")
	assert.Error(t, err)
}
