package bridge

// across.go: Across protocol client for the Polygon → Optimism corridor.
//
// The flow is quote-then-deposit: GET /suggested-fees pins the relayer fee
// and the spoke pool, then depositV3 commits the transfer with an output
// amount of input minus the quoted fee. The actual transaction is signed by
// the on-chain gateway; this client only talks to the fee API and assembles
// the deposit parameters.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
	"github.com/Okay-Bet/market-agent-server/internal/ports"
)

const (
	defaultAPIBase = "https://app.across.to/api"

	originChainID = 137

	// Destination-side USDC (Optimism)
	optimismUSDC = "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"
)

// Client implements ports.BridgeGateway.
type Client struct {
	http             *http.Client
	apiBase          string
	depositor        ports.SpokePoolDepositor
	walletAddress    string
	inputToken       string
	outputToken      string
	destinationChain int64
	fillDeadline     time.Duration
}

// NewClient creates an Across bridge client. inputToken is the Polygon-side
// token being bridged; depositor signs and sends the spoke-pool transaction.
func NewClient(apiBase string, depositor ports.SpokePoolDepositor, walletAddress, inputToken string, destinationChain int64, fillDeadline time.Duration) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Client{
		http:             &http.Client{Timeout: 15 * time.Second},
		apiBase:          apiBase,
		depositor:        depositor,
		walletAddress:    walletAddress,
		inputToken:       inputToken,
		outputToken:      optimismUSDC,
		destinationChain: destinationChain,
		fillDeadline:     fillDeadline,
	}
}

// availableRoute is one entry of the GET /available-routes payload. Only
// the fields used to match the corridor are decoded.
type availableRoute struct {
	OriginToken      string `json:"originToken"`
	DestinationToken string `json:"destinationToken"`
}

// RouteAvailable reports whether Across currently serves the configured
// corridor. Relayers drop routes during incidents, so the settlement leg
// checks before moving funds into the bridge path.
func (c *Client) RouteAvailable(ctx context.Context) (bool, error) {
	q := url.Values{}
	q.Set("originChainId", strconv.Itoa(originChainID))
	q.Set("destinationChainId", strconv.FormatInt(c.destinationChain, 10))

	reqURL := c.apiBase + "/available-routes?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("bridge.RouteAvailable: request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("bridge.RouteAvailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("bridge.RouteAvailable: status %d", resp.StatusCode)
	}

	var routes []availableRoute
	if err := decodeJSON(resp.Body, &routes); err != nil {
		return false, fmt.Errorf("bridge.RouteAvailable: decode: %w", err)
	}

	for _, r := range routes {
		if strings.EqualFold(r.OriginToken, c.inputToken) && strings.EqualFold(r.DestinationToken, c.outputToken) {
			return true, nil
		}
	}
	return false, nil
}

// suggestedFeesResponse is the Across GET /suggested-fees payload. Amount
// fields are decimal strings in base units.
type suggestedFeesResponse struct {
	TotalRelayFee struct {
		Pct   string `json:"pct"`
		Total string `json:"total"`
	} `json:"totalRelayFee"`
	RelayerCapitalFee struct {
		Total string `json:"total"`
	} `json:"relayerCapitalFee"`
	RelayerGasFee struct {
		Total string `json:"total"`
	} `json:"relayerGasFee"`
	LPFee struct {
		Total string `json:"total"`
	} `json:"lpFee"`
	Timestamp            string `json:"timestamp"`
	IsAmountTooLow       bool   `json:"isAmountTooLow"`
	SpokePoolAddress     string `json:"spokePoolAddress"`
	ExclusiveRelayer     string `json:"exclusiveRelayer"`
	ExclusivityDeadline  int64  `json:"exclusivityDeadline"`
	EstimatedFillTimeSec int    `json:"estimatedFillTimeSec"`
	Limits               struct {
		MinDeposit string `json:"minDeposit"`
		MaxDeposit string `json:"maxDeposit"`
	} `json:"limits"`
}

// Quote fetches a fee quote for bridging amount base units to the
// destination chain. The quote is validated here so downstream code never
// branches on missing fields.
func (c *Client) Quote(ctx context.Context, amount *big.Int) (domain.BridgeQuote, error) {
	q := url.Values{}
	q.Set("inputToken", c.inputToken)
	q.Set("outputToken", c.outputToken)
	q.Set("originChainId", strconv.Itoa(originChainID))
	q.Set("destinationChainId", strconv.FormatInt(c.destinationChain, 10))
	q.Set("amount", amount.String())

	reqURL := c.apiBase + "/suggested-fees?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("bridge.Quote: request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("bridge.Quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.BridgeQuote{}, fmt.Errorf("bridge.Quote: status %d", resp.StatusCode)
	}

	var fees suggestedFeesResponse
	if err := decodeJSON(resp.Body, &fees); err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("bridge.Quote: decode: %w", err)
	}

	quote, err := mapQuote(fees)
	if err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("bridge.Quote: %w", err)
	}

	if quote.IsAmountTooLow {
		return quote, fmt.Errorf("bridge.Quote: amount %s below bridge minimum %s",
			amount.String(), quote.MinDeposit.String())
	}
	if quote.TotalRelayFee.Cmp(amount) >= 0 {
		return quote, fmt.Errorf("bridge.Quote: relay fee %s consumes the whole amount %s",
			quote.TotalRelayFee.String(), amount.String())
	}

	slog.Debug("bridge quote",
		"amount", amount.String(),
		"relay_fee", quote.TotalRelayFee.String(),
		"spoke_pool", quote.SpokePool,
		"est_fill_sec", quote.EstimatedFillSec,
	)
	return quote, nil
}

// Deposit commits the bridge transfer using a previously fetched quote.
// The recipient receives amount minus the quoted relay fee on the
// destination chain; relayers have until now plus the fill deadline.
func (c *Client) Deposit(ctx context.Context, recipient string, amount *big.Int, quote domain.BridgeQuote) (domain.TxResult, error) {
	output := new(big.Int).Sub(amount, quote.TotalRelayFee)
	if output.Sign() <= 0 {
		return domain.TxResult{}, fmt.Errorf("bridge.Deposit: output %s not positive", output.String())
	}

	params := domain.DepositParams{
		SpokePool:           quote.SpokePool,
		Depositor:           c.walletAddress,
		Recipient:           recipient,
		InputToken:          c.inputToken,
		OutputToken:         c.outputToken,
		InputAmount:         amount,
		OutputAmount:        output,
		DestinationChain:    c.destinationChain,
		ExclusiveRelayer:    quote.ExclusiveRelayer,
		QuoteTimestamp:      quote.Timestamp,
		FillDeadline:        uint32(time.Now().Add(c.fillDeadline).Unix()),
		ExclusivityDeadline: quote.ExclusivityDeadline,
	}

	res, err := c.depositor.SendAcrossDeposit(ctx, params)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("bridge.Deposit: %w", err)
	}

	slog.Info("bridge deposit committed",
		"recipient", recipient,
		"input", amount.String(),
		"output", output.String(),
		"tx", res.Hash,
	)
	return res, nil
}

// mapQuote converts the wire payload to the typed quote, rejecting
// unparseable amounts instead of defaulting them to zero.
func mapQuote(fees suggestedFeesResponse) (domain.BridgeQuote, error) {
	total, err := parseBig(fees.TotalRelayFee.Total, "totalRelayFee")
	if err != nil {
		return domain.BridgeQuote{}, err
	}
	capital, err := parseBig(fees.RelayerCapitalFee.Total, "relayerCapitalFee")
	if err != nil {
		return domain.BridgeQuote{}, err
	}
	gas, err := parseBig(fees.RelayerGasFee.Total, "relayerGasFee")
	if err != nil {
		return domain.BridgeQuote{}, err
	}
	lp, err := parseBig(fees.LPFee.Total, "lpFee")
	if err != nil {
		return domain.BridgeQuote{}, err
	}

	ts, err := strconv.ParseUint(fees.Timestamp, 10, 32)
	if err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("parse timestamp %q: %w", fees.Timestamp, err)
	}
	if fees.SpokePoolAddress == "" {
		return domain.BridgeQuote{}, fmt.Errorf("quote missing spoke pool address")
	}

	minDep, _ := new(big.Int).SetString(fees.Limits.MinDeposit, 10)
	maxDep, _ := new(big.Int).SetString(fees.Limits.MaxDeposit, 10)
	if minDep == nil {
		minDep = big.NewInt(0)
	}
	if maxDep == nil {
		maxDep = big.NewInt(0)
	}

	return domain.BridgeQuote{
		TotalRelayFee:       total,
		CapitalFee:          capital,
		GasFee:              gas,
		LPFee:               lp,
		Timestamp:           uint32(ts),
		ExclusiveRelayer:    fees.ExclusiveRelayer,
		ExclusivityDeadline: uint32(fees.ExclusivityDeadline),
		SpokePool:           fees.SpokePoolAddress,
		MinDeposit:          minDep,
		MaxDeposit:          maxDep,
		EstimatedFillSec:    fees.EstimatedFillTimeSec,
		IsAmountTooLow:      fees.IsAmountTooLow,
	}, nil
}

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}

func parseBig(s, field string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s %q", field, s)
	}
	return v, nil
}
