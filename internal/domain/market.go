package domain

import "time"

// MarketStatus is the settlement lifecycle of a market.
// unresolved → resolved → processed, driven by the resolution engine and the
// redemption pipeline respectively.
type MarketStatus string

const (
	MarketUnresolved MarketStatus = "unresolved"
	MarketResolved   MarketStatus = "resolved"
	MarketProcessed  MarketStatus = "processed"
)

// Market is a binary prediction market tracked by the ledger.
// WinningOutcome is set if and only if the status is resolved or processed.
type Market struct {
	ConditionID    string // on-chain condition identifier (0x + 64 hex)
	TokenID        string // exchange-side asset id, may be empty
	Status         MarketStatus
	WinningOutcome *int // 0 or 1, nil while unresolved
	Metadata       MarketMetadata
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	ProcessedAt    *time.Time
}

// MarketMetadata is the free-form market data cached from the metadata source.
// OutcomePrices doubles as the last-resort resolution signal.
type MarketMetadata struct {
	Question      string    `json:"question,omitempty"`
	Outcomes      []string  `json:"outcomes,omitempty"`
	OutcomePrices []float64 `json:"outcome_prices,omitempty"`
}

// ResolutionState is the tri-state outcome of a resolution check.
type ResolutionState int

const (
	// Unresolved means no source reported a final outcome yet. This is the
	// expected common case, not an error.
	Unresolved ResolutionState = iota
	// Resolved means a source reported a final winning outcome.
	Resolved
	// Indeterminate means the signal was present but could not be
	// interpreted (e.g. an outcome-price vector that is neither [1,0] nor
	// [0,1]); the next fallback should be consulted.
	Indeterminate
)

// Resolution is the result of querying one or more resolution sources.
type Resolution struct {
	State          ResolutionState
	WinningOutcome int    // valid only when State == Resolved
	Source         string // which fallback produced the answer
}

// ResolutionFromPrices interprets a two-element outcome-price vector.
// [1,0] means outcome 1 won, [0,1] means outcome 0 won; anything else is
// indeterminate. Vectors of the wrong arity are indeterminate too; this
// engine only understands binary markets.
func ResolutionFromPrices(prices []float64, source string) Resolution {
	if len(prices) != 2 {
		return Resolution{State: Indeterminate, Source: source}
	}
	switch {
	case prices[0] == 1.0 && prices[1] == 0.0:
		return Resolution{State: Resolved, WinningOutcome: 1, Source: source}
	case prices[0] == 0.0 && prices[1] == 1.0:
		return Resolution{State: Resolved, WinningOutcome: 0, Source: source}
	default:
		return Resolution{State: Indeterminate, Source: source}
	}
}

// RedeemIndexSet returns the CTF partition index set for a winning outcome:
// {1} redeems outcome 0, {2} redeems outcome 1 (binary encoding).
func RedeemIndexSet(winningOutcome int) []uint64 {
	if winningOutcome == 0 {
		return []uint64{1}
	}
	return []uint64{2}
}
