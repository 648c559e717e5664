package polymarket

// auth.go: credentialed access to the Polymarket CLOB.
//
// The CLOB authenticates in two levels:
//   L1: a typed-data signature from the wallet key, traded for API creds
//   L2: an HMAC over method+path+body on every credentialed request

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/config"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

const (
	polygonChainID = int64(137)

	// Typed-data domain for credential derivation
	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	// Attestation message the derivation endpoint expects
	clobAuthMessage = "This message attests that I control the given wallet"

	// Taker address; zero address = public order
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// apiCredentials is what /auth/derive-api-key hands back for a wallet.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient layers credential handling on top of the shared transport.
type AuthClient struct {
	*Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	contracts    *config.Contracts
	orderBuilder builder.ExchangeOrderBuilder
	creds        *apiCredentials
}

// NewAuthClient builds a credentialed CLOB client from a Polygon private
// key in hex, with or without the 0x prefix.
func NewAuthClient(clobBase, gammaBase, privateKeyHex string) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}

	contracts, err := config.GetContracts(polygonChainID)
	if err != nil {
		return nil, fmt.Errorf("auth: get contracts: %w", err)
	}

	ob := builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil)

	addr := crypto.PubkeyToAddress(key.PublicKey)

	return &AuthClient{
		Client:       NewClient(clobBase, gammaBase),
		privateKey:   key,
		address:      addr,
		contracts:    contracts,
		orderBuilder: ob,
	}, nil
}

// Address returns the hex wallet address the credentials belong to.
func (ac *AuthClient) Address() string {
	return ac.address.Hex()
}

// ExchangeSpender returns the exchange contract that must hold token and
// collateral approvals before orders can settle, from the canonical
// contract set for the chain.
func (ac *AuthClient) ExchangeSpender(negRisk bool) string {
	if negRisk {
		return ac.contracts.NegRiskExchange.Hex()
	}
	return ac.contracts.Exchange.Hex()
}

// EnsureCreds derives API credentials via L1 auth on first use and caches
// them for the life of the client.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	if ac.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := ac.signClobAuth(ts, "0")
	if err != nil {
		return fmt.Errorf("auth: sign l1: %w", err)
	}

	var creds apiCredentials
	err = ac.roundTrip(ctx, ac.clobLimiter, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+"/auth/derive-api-key", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("POLY_ADDRESS", ac.address.Hex())
		req.Header.Set("POLY_SIGNATURE", sig)
		req.Header.Set("POLY_TIMESTAMP", ts)
		req.Header.Set("POLY_NONCE", "0")
		return req, nil
	}, &creds)
	if err != nil {
		return fmt.Errorf("auth: derive api key: %w", err)
	}

	ac.creds = &creds
	return nil
}

// Type hashes for the auth struct, computed at init.
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
)

// hashWords is keccak256 over the concatenation of its arguments, the
// primitive every EIP-712 encoding step reduces to.
func hashWords(words ...[]byte) common.Hash {
	return crypto.Keccak256Hash(bytes.Join(words, nil))
}

func clobAuthDomainSeparator() common.Hash {
	return hashWords(
		eip712DomainTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte(clobDomainName)).Bytes(),
		crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes(),
		common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32),
	)
}

// signClobAuth signs the ClobAuth typed data for L1 auth.
func (ac *AuthClient) signClobAuth(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", fmt.Errorf("invalid nonce: %s", nonce)
	}

	structHash := hashWords(
		clobAuthTypeHash.Bytes(),
		common.LeftPadBytes(ac.address.Bytes(), 32),
		crypto.Keccak256Hash([]byte(timestamp)).Bytes(),
		common.LeftPadBytes(nonceInt.Bytes(), 32),
		crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes(),
	)
	digest := hashWords([]byte{0x19, 0x01}, clobAuthDomainSeparator().Bytes(), structHash.Bytes())

	sig, err := crypto.Sign(digest.Bytes(), ac.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// l2Signature computes the HMAC-SHA256 request signature from the API secret.
func l2Signature(secret, message string) (string, error) {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: decode secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// applyL2Headers stamps the authenticated headers onto a request.
func (ac *AuthClient) applyL2Headers(req *http.Request, method, path, body string) error {
	if ac.creds == nil {
		return fmt.Errorf("auth: credentials not derived yet")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := l2Signature(ac.creds.Secret, ts+strings.ToUpper(method)+path+body)
	if err != nil {
		return err
	}

	req.Header.Set("POLY_ADDRESS", ac.address.Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_API_KEY", ac.creds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", ac.creds.Passphrase)
	return nil
}

// doL2 executes an authenticated L2 request through the shared transport.
// The request builder runs once per attempt, so the HMAC headers carry a
// fresh timestamp on every retry.
func (ac *AuthClient) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyStr string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		bodyStr = string(b)
	}

	return ac.roundTrip(ctx, ac.clobLimiter, func() (*http.Request, error) {
		var bodyReader io.Reader
		if bodyStr != "" {
			bodyReader = strings.NewReader(bodyStr)
		}
		req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, bodyReader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := ac.applyL2Headers(req, method, path, bodyStr); err != nil {
			return nil, err
		}
		return req, nil
	}, out)
}

// buildSignedOrder creates an EIP-712 signed order. price is per token,
// size is outcome tokens. Uses integer arithmetic so the maker/taker ratio
// matches the price exactly; the CLOB rejects orders where it doesn't.
func (ac *AuthClient) buildSignedOrder(order domain.ExchangeOrder) (*gomodel.SignedOrder, error) {
	pricePrecision := detectPricePrecision(order.Price)
	priceInt := int64(math.Round(order.Price * float64(pricePrecision)))
	tokenCents := int64(math.Floor(order.Size * 100))

	amountFactor := int64(1_000_000) / (100 * pricePrecision)
	usdcAmount := tokenCents * priceInt * amountFactor
	tokenAmount := tokenCents * 10000

	if usdcAmount <= 0 || tokenAmount <= 0 {
		return nil, fmt.Errorf("invalid amounts: usdc=%d tokens=%d (price=%.4f size=%.4f)",
			usdcAmount, tokenAmount, order.Price, order.Size)
	}

	// BUY gives collateral and takes tokens; SELL is the reverse.
	var makerAmount, takerAmount int64
	var sideVal gomodel.Side
	if order.Side == domain.Buy {
		makerAmount, takerAmount = usdcAmount, tokenAmount
		sideVal = gomodel.BUY
	} else {
		makerAmount, takerAmount = tokenAmount, usdcAmount
		sideVal = gomodel.SELL
	}

	var verifyingContract gomodel.VerifyingContract
	if order.NegRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	} else {
		verifyingContract = gomodel.CTFExchange
	}

	orderData := &gomodel.OrderData{
		Maker:         ac.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       order.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.address.Hex(),
		Expiration:    "0",
		Side:          sideVal,
		SignatureType: gomodel.EOA,
	}

	signed, err := ac.orderBuilder.BuildSignedOrder(ac.privateKey, orderData, verifyingContract)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}

// detectPricePrecision picks the smallest power-of-ten multiplier that
// represents the price exactly, which matches the market tick size.
func detectPricePrecision(price float64) int64 {
	for _, prec := range []int64{100, 1000, 10000} {
		rounded := math.Round(price * float64(prec))
		if math.Abs(rounded/float64(prec)-price) < 1e-10 {
			return prec
		}
	}
	return 100
}
