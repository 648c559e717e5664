package signing

// verify.go: EIP-712 verification of delegated trade intents.
//
// Users sign their intents client-side; the engine holds no user keys. The
// typed-data domain here must match the client exactly or recovery yields a
// different address and the intent is rejected.

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

const (
	domainName    = "ClobOrderDomain"
	domainVersion = "1"
)

// EIP-712 type hashes (computed once).
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobOrderTypeHash = crypto.Keccak256Hash([]byte(
		"ClobOrder(address maker,string tokenId,uint256 price,uint256 amount,string side,uint256 nonce)",
	))
)

// Verifier checks that a trade intent was signed by the address it claims.
type Verifier struct {
	chainID *big.Int
}

// NewVerifier creates a Verifier bound to one chain id.
func NewVerifier(chainID int64) *Verifier {
	return &Verifier{chainID: big.NewInt(chainID)}
}

// Verify recovers the signer of the intent and compares it to the intent's
// user address. signatureHex is the 65-byte signature, 0x-prefixed or not.
func (v *Verifier) Verify(intent domain.TradeIntent, signatureHex string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return fmt.Errorf("signing.Verify: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("signing.Verify: signature length %d, want 65", len(sig))
	}

	// Normalize the recovery id: wallets emit v as 27/28.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	msgHash := v.intentHash(intent)
	pub, err := crypto.SigToPub(msgHash.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("signing.Verify: recover signer: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	claimed := common.HexToAddress(intent.UserAddress)
	if recovered != claimed {
		return fmt.Errorf("signing.Verify: signer %s does not match user %s",
			recovered.Hex(), claimed.Hex())
	}
	return nil
}

// intentHash computes the EIP-712 digest for the intent. Price and notional
// are encoded in micro-units so the struct hash has no floating point.
func (v *Verifier) intentHash(intent domain.TradeIntent) common.Hash {
	priceMicro := big.NewInt(int64(intent.Price * 1_000_000))
	amountMicro := big.NewInt(int64(intent.Notional * 1_000_000))

	var structBuf []byte
	structBuf = append(structBuf, clobOrderTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(common.HexToAddress(intent.UserAddress).Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(intent.TokenID)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(priceMicro.Bytes(), 32)...)
	structBuf = append(structBuf, common.LeftPadBytes(amountMicro.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(intent.Side)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(big.NewInt(intent.Nonce).Bytes(), 32)...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, v.domainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)
	return crypto.Keccak256Hash(rawBuf)
}

func (v *Verifier) domainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(domainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(domainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(v.chainID.Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}
