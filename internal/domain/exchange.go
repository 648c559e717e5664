package domain

import "time"

// FillPolicy selects how the exchange treats the order.
type FillPolicy string

const (
	// FillOrKill executes fully and immediately or not at all. Used for
	// buys: urgent entries sized to available liquidity.
	FillOrKill FillPolicy = "FOK"
	// GoodTillCancelled rests on the book until filled or cancelled. Used
	// for sells: passive exits that can tolerate waiting.
	GoodTillCancelled FillPolicy = "GTC"
)

// ExchangeOrder is a request to create and submit a signed order.
type ExchangeOrder struct {
	TokenID string
	Side    Side
	Price   float64
	Size    float64 // outcome tokens
	Policy  FillPolicy
	NegRisk bool
}

// ExchangeReceipt is the exchange's answer to a submission. Rejected orders
// are terminal and never retried.
type ExchangeReceipt struct {
	OrderID      string
	Status       string
	TakingAmount float64
	MakingAmount float64
}

// FillInfo is the confirmed fill state polled after submission.
type FillInfo struct {
	OrderID         string
	FilledSize      float64
	TransactionHash string
	FilledAt        time.Time
}

// TokenMarket is the market/outcome mapping behind an exchange token id,
// fetched from the metadata source.
type TokenMarket struct {
	ConditionID   string
	TokenID       string
	Question      string
	Outcomes      []string
	OutcomePrices []float64
	OutcomeIndex  int
	NegRisk       bool
}
