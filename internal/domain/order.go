package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side of a trade from the user's perspective.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide validates and normalizes a side string.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Buy, Sell:
		return Side(s), nil
	default:
		return "", fmt.Errorf("invalid side %q", s)
	}
}

// OrderStatus is the lifecycle of a client-facing order row.
// Completed and failed are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderExecuting OrderStatus = "executing"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// Order is the ledger row clients poll for idempotent status. It is not used
// for matching; the exchange owns the book.
type Order struct {
	ID              string // sha256(user:nonce), see OrderID
	UserAddress     string
	TokenID         string
	ConditionID     string
	Price           decimal.Decimal
	Amount          decimal.Decimal // notional in USDC
	Side            Side
	Nonce           int64
	Status          OrderStatus
	ExchangeOrderID string
	TransactionHash string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExecutedAt      *time.Time
}

// OrderID derives the deterministic order id from (user, nonce). A failed
// attempt retried with the same nonce maps to the same row, which is what
// makes client status polling idempotent.
func OrderID(userAddress string, nonce int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d", userAddress, nonce))
	return hex.EncodeToString(sum[:])
}

// TradeIntent is a validated trade request entering the executor. Signature
// verification has already happened at the intake boundary.
type TradeIntent struct {
	UserAddress string
	TokenID     string
	Price       float64
	Notional    float64 // USDC
	Side        Side
	Nonce       int64
}

// OrderUpdate carries the mutable fields written alongside a status
// transition. Zero-value fields are left untouched by the store.
type OrderUpdate struct {
	ExchangeOrderID string
	TransactionHash string
	Error           string
	ExecutedAt      *time.Time
}

// UserStats are the running per-user aggregates the ledger maintains
// alongside the nonce: lifetime traded volume in USDC, realized PnL and
// the number of recorded fills.
type UserStats struct {
	Address     string
	Nonce       int64
	TotalVolume decimal.Decimal
	RealizedPnL decimal.Decimal
	TradesCount int64
}

// TradeResult reports which sub-steps completed; there is no silent partial
// success.
type TradeResult struct {
	OrderID         string
	ExchangeOrderID string
	Status          OrderStatus
	TokensFilled    float64
	AvgPrice        float64
	TransactionHash string
	Plan            ExecutionPlan
}
