package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle of a custodial position.
// Redeemed is terminal; positions are never deleted.
type PositionStatus string

const (
	PositionActive   PositionStatus = "active"
	PositionRedeemed PositionStatus = "redeemed"
)

// Position is a user's holding of one outcome of one market. Uniquely
// identified by (condition_id, user_address, outcome).
type Position struct {
	ID                uuid.UUID
	ConditionID       string
	UserAddress       string
	Outcome           int
	Amount            decimal.Decimal // outcome tokens held
	AverageEntryPrice decimal.Decimal
	TotalCostBasis    decimal.Decimal
	RealizedPnL       decimal.Decimal
	CollateralToken   string
	Status            PositionStatus
	RedemptionTx      string
	TransferTx        string
	AmountTransferred decimal.Decimal // collateral base units paid out
	OrderID           string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	RedeemedAt        *time.Time
}

// LedgerFill is a completed exchange fill ready to be folded into the ledger.
type LedgerFill struct {
	UserAddress     string
	ConditionID     string
	TokenID         string
	Outcome         int
	Amount          decimal.Decimal // outcome tokens
	Price           decimal.Decimal
	CollateralToken string
	OrderID         string
	FilledAt        time.Time
}

// ApplyFill merges a fill into the position using a weighted-average entry
// price: new_avg = (old_amount·old_avg + amount·price) / (old_amount+amount).
func (p *Position) ApplyFill(amount, price decimal.Decimal, at time.Time) {
	total := p.Amount.Add(amount)
	if total.IsPositive() {
		p.AverageEntryPrice = p.Amount.Mul(p.AverageEntryPrice).
			Add(amount.Mul(price)).
			Div(total)
	}
	p.Amount = total
	p.TotalCostBasis = p.TotalCostBasis.Add(amount.Mul(price))
	p.UpdatedAt = at
}

// ReduceFill removes sold tokens from the position and realizes PnL against
// the average entry price. Cost basis shrinks proportionally.
func (p *Position) ReduceFill(amount, price decimal.Decimal, at time.Time) {
	if amount.GreaterThan(p.Amount) {
		amount = p.Amount
	}
	p.RealizedPnL = p.RealizedPnL.Add(amount.Mul(price.Sub(p.AverageEntryPrice)))
	p.TotalCostBasis = p.TotalCostBasis.Sub(amount.Mul(p.AverageEntryPrice))
	p.Amount = p.Amount.Sub(amount)
	p.UpdatedAt = at
}

// ParValueBaseUnits values the position at $1 per token in collateral base
// units (6 decimals). This is what a winning position redeems for.
func (p *Position) ParValueBaseUnits() decimal.Decimal {
	return p.Amount.Mul(decimal.NewFromInt(1_000_000)).Floor()
}
