package bridge_test

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Okay-Bet/market-agent-server/internal/adapters/bridge"
	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

const (
	wallet     = "0x5555555555555555555555555555555555555555"
	inputToken = "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"
	spokePool  = "0x9295ee1d8c5b022be115a2ad3c30c72e34e7f096"
)

type fakeDepositor struct {
	params []domain.DepositParams
	err    error
}

func (d *fakeDepositor) SendAcrossDeposit(_ context.Context, p domain.DepositParams) (domain.TxResult, error) {
	d.params = append(d.params, p)
	if d.err != nil {
		return domain.TxResult{}, d.err
	}
	return domain.TxResult{Hash: "0xdeposit"}, nil
}

func feesPayload(totalFee string, tooLow bool) string {
	return fmt.Sprintf(`{
		"totalRelayFee": {"pct": "700000000000000", "total": %q},
		"relayerCapitalFee": {"total": "100000"},
		"relayerGasFee": {"total": "500000"},
		"lpFee": {"total": "100000"},
		"timestamp": "1756700000",
		"isAmountTooLow": %t,
		"spokePoolAddress": %q,
		"exclusiveRelayer": "0x0000000000000000000000000000000000000000",
		"exclusivityDeadline": 0,
		"estimatedFillTimeSec": 4,
		"limits": {"minDeposit": "1000000", "maxDeposit": "5000000000000"}
	}`, totalFee, tooLow, spokePool)
}

func quoteServer(t *testing.T, payload string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suggested-fees", r.URL.Path)
		assert.Equal(t, inputToken, r.URL.Query().Get("inputToken"))
		assert.Equal(t, "137", r.URL.Query().Get("originChainId"))
		assert.Equal(t, "10", r.URL.Query().Get("destinationChainId"))
		w.WriteHeader(status)
		fmt.Fprint(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQuote_MapsFeeBreakdown(t *testing.T) {
	srv := quoteServer(t, feesPayload("700000", false), http.StatusOK)
	client := bridge.NewClient(srv.URL, &fakeDepositor{}, wallet, inputToken, 10, 4*time.Hour)

	quote, err := client.Quote(context.Background(), big.NewInt(100_000_000))
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(700_000), quote.TotalRelayFee)
	assert.Equal(t, big.NewInt(100_000), quote.CapitalFee)
	assert.Equal(t, big.NewInt(500_000), quote.GasFee)
	assert.Equal(t, big.NewInt(100_000), quote.LPFee)
	assert.Equal(t, uint32(1756700000), quote.Timestamp)
	assert.Equal(t, spokePool, quote.SpokePool)
	assert.Equal(t, big.NewInt(1_000_000), quote.MinDeposit)
	assert.Equal(t, 4, quote.EstimatedFillSec)
	assert.False(t, quote.IsAmountTooLow)
}

func TestQuote_AmountTooLow(t *testing.T) {
	srv := quoteServer(t, feesPayload("700000", true), http.StatusOK)
	client := bridge.NewClient(srv.URL, &fakeDepositor{}, wallet, inputToken, 10, 4*time.Hour)

	_, err := client.Quote(context.Background(), big.NewInt(100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below bridge minimum")
}

func TestQuote_FeeConsumesAmount(t *testing.T) {
	srv := quoteServer(t, feesPayload("200000000", false), http.StatusOK)
	client := bridge.NewClient(srv.URL, &fakeDepositor{}, wallet, inputToken, 10, 4*time.Hour)

	_, err := client.Quote(context.Background(), big.NewInt(100_000_000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumes the whole amount")
}

func TestQuote_ServerError(t *testing.T) {
	srv := quoteServer(t, `{"error": "internal"}`, http.StatusBadGateway)
	client := bridge.NewClient(srv.URL, &fakeDepositor{}, wallet, inputToken, 10, 4*time.Hour)

	_, err := client.Quote(context.Background(), big.NewInt(100_000_000))
	assert.Error(t, err)
}

func TestQuote_MissingSpokePoolRejected(t *testing.T) {
	payload := `{
		"totalRelayFee": {"total": "700000"},
		"timestamp": "1756700000",
		"spokePoolAddress": ""
	}`
	srv := quoteServer(t, payload, http.StatusOK)
	client := bridge.NewClient(srv.URL, &fakeDepositor{}, wallet, inputToken, 10, 4*time.Hour)

	_, err := client.Quote(context.Background(), big.NewInt(100_000_000))
	assert.Error(t, err)
}

func TestDeposit_BuildsParamsFromQuote(t *testing.T) {
	depositor := &fakeDepositor{}
	client := bridge.NewClient("http://unused", depositor, wallet, inputToken, 10, 4*time.Hour)

	quote := domain.BridgeQuote{
		TotalRelayFee: big.NewInt(700_000),
		Timestamp:     1756700000,
		SpokePool:     spokePool,
	}
	before := time.Now().Add(4 * time.Hour).Unix()

	tx, err := client.Deposit(context.Background(), "0xrecipient", big.NewInt(100_000_000), quote)
	require.NoError(t, err)
	assert.Equal(t, "0xdeposit", tx.Hash)

	require.Len(t, depositor.params, 1)
	p := depositor.params[0]
	assert.Equal(t, spokePool, p.SpokePool)
	assert.Equal(t, wallet, p.Depositor)
	assert.Equal(t, "0xrecipient", p.Recipient)
	assert.Equal(t, inputToken, p.InputToken)
	assert.Equal(t, big.NewInt(100_000_000), p.InputAmount)
	// output = input − relay fee
	assert.Equal(t, big.NewInt(99_300_000), p.OutputAmount)
	assert.Equal(t, int64(10), p.DestinationChain)
	assert.Equal(t, uint32(1756700000), p.QuoteTimestamp)
	assert.GreaterOrEqual(t, int64(p.FillDeadline), before)
}

func TestDeposit_RejectsFeeAboveAmount(t *testing.T) {
	depositor := &fakeDepositor{}
	client := bridge.NewClient("http://unused", depositor, wallet, inputToken, 10, 4*time.Hour)

	quote := domain.BridgeQuote{TotalRelayFee: big.NewInt(2_000_000), SpokePool: spokePool}
	_, err := client.Deposit(context.Background(), "0xrecipient", big.NewInt(1_000_000), quote)
	require.Error(t, err)
	assert.Empty(t, depositor.params)
}

func routesServer(t *testing.T, payload string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/available-routes", r.URL.Path)
		assert.Equal(t, "137", r.URL.Query().Get("originChainId"))
		assert.Equal(t, "10", r.URL.Query().Get("destinationChainId"))
		w.WriteHeader(status)
		fmt.Fprint(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouteAvailable_MatchesCorridorCaseInsensitive(t *testing.T) {
	// Across returns checksummed addresses; the client config is lowercase.
	srv := routesServer(t, `[
		{"originToken": "0x3C499c542cEF5E3811e1192ce70d8cC03d5c3359",
		 "destinationToken": "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"}
	]`, http.StatusOK)
	client := bridge.NewClient(srv.URL, &fakeDepositor{}, wallet, inputToken, 10, 4*time.Hour)

	ok, err := client.RouteAvailable(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRouteAvailable_NoMatchingRoute(t *testing.T) {
	srv := routesServer(t, `[
		{"originToken": "0x0000000000000000000000000000000000000001",
		 "destinationToken": "0x0000000000000000000000000000000000000002"}
	]`, http.StatusOK)
	client := bridge.NewClient(srv.URL, &fakeDepositor{}, wallet, inputToken, 10, 4*time.Hour)

	ok, err := client.RouteAvailable(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouteAvailable_EmptyList(t *testing.T) {
	srv := routesServer(t, `[]`, http.StatusOK)
	client := bridge.NewClient(srv.URL, &fakeDepositor{}, wallet, inputToken, 10, 4*time.Hour)

	ok, err := client.RouteAvailable(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouteAvailable_ServerError(t *testing.T) {
	srv := routesServer(t, `{}`, http.StatusBadGateway)
	client := bridge.NewClient(srv.URL, &fakeDepositor{}, wallet, inputToken, 10, 4*time.Hour)

	_, err := client.RouteAvailable(context.Background())
	require.Error(t, err)
}
