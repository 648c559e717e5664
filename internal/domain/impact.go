package domain

// impact.go: liquidity-aware order sizing against a book snapshot.
//
// PlanTrade is pure: identical snapshots and inputs always yield identical
// plans. No clock, no I/O: the executor fetches the book, this walks it.

import "sort"

// SizingConfig holds the sizing policy. Values are configuration, not
// invariants; see config.EngineConfig for the production defaults.
type SizingConfig struct {
	LevelTolerancePct float64 // band around the limit beyond which levels are ignored
	MinOrderUSDC      float64
	MinOrderTokens    float64
}

// DefaultSizingConfig matches the production policy.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		LevelTolerancePct: 0.01,
		MinOrderUSDC:      1,
		MinOrderTokens:    5,
	}
}

// ExecutionPlan is the output of sizing a notional against a book side.
type ExecutionPlan struct {
	TokenAmount         float64 // tokens the notional buys at the limit price
	ExecutableLiquidity float64 // tokens available within the tolerance band
	WeightedAvgPrice    float64 // volume-weighted price over the levels used
	PriceImpact         float64 // (weighted avg − limit) / limit
	EstimatedTotal      float64 // USDC actually consumed by the walk
	BestAvailable       float64 // best in-band level price, for diagnostics
	Feasible            bool
	Shortfall           float64 // tokens missing when infeasible
}

// MinOrderNotional returns the minimum accepted notional for a limit price:
// max(MinOrderUSDC, MinOrderTokens × price).
func (c SizingConfig) MinOrderNotional(limitPrice float64) float64 {
	if m := c.MinOrderTokens * limitPrice; m > c.MinOrderUSDC {
		return m
	}
	return c.MinOrderUSDC
}

// PlanTrade sizes a desired notional against the book side the order would
// consume and reports feasibility. Levels priced beyond the tolerance band
// around the limit are discarded before the walk.
func PlanTrade(book OrderBook, side Side, notionalUSDC, limitPrice float64, cfg SizingConfig) (ExecutionPlan, error) {
	if side != Buy && side != Sell {
		return ExecutionPlan{}, NewTradeErrorf(ErrInvalidSide, "side must be BUY or SELL, got %q", side)
	}
	if limitPrice <= 0 || limitPrice >= 1 {
		return ExecutionPlan{}, NewTradeErrorf(ErrInvalidPrice, "price %.4f outside (0, 1)", limitPrice)
	}
	if notionalUSDC <= 0 {
		return ExecutionPlan{}, NewTradeErrorf(ErrInvalidAmount, "notional %.6f must be positive", notionalUSDC)
	}
	if min := cfg.MinOrderNotional(limitPrice); notionalUSDC < min {
		return ExecutionPlan{}, NewTradeErrorf(ErrBelowMinimumOrderSize,
			"notional %.6f below minimum %.6f", notionalUSDC, min).
			WithContext("minimum_notional", min)
	}

	levels := usableLevels(book.ConsumedSide(side), side, limitPrice, cfg.LevelTolerancePct)

	plan := ExecutionPlan{TokenAmount: notionalUSDC / limitPrice}
	if len(levels) > 0 {
		plan.BestAvailable = levels[0].Price
	}

	remaining := plan.TokenAmount
	var filled, cost float64
	for _, lvl := range levels {
		plan.ExecutableLiquidity += lvl.Size

		if remaining <= 0 {
			continue
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		filled += take
		cost += take * lvl.Price
		remaining -= take
	}

	if filled > 0 {
		plan.WeightedAvgPrice = cost / filled
		plan.PriceImpact = (plan.WeightedAvgPrice - limitPrice) / limitPrice
	}
	plan.EstimatedTotal = cost
	plan.Feasible = plan.ExecutableLiquidity >= plan.TokenAmount
	if !plan.Feasible {
		plan.Shortfall = plan.TokenAmount - plan.ExecutableLiquidity
	}

	return plan, nil
}

// usableLevels filters out levels beyond the tolerance band and sorts the
// remainder in consumption order: cheapest first for a BUY, richest first
// for a SELL.
func usableLevels(side []BookEntry, s Side, limitPrice, tolerancePct float64) []BookEntry {
	kept := make([]BookEntry, 0, len(side))
	for _, lvl := range side {
		if s == Buy {
			if lvl.Price <= limitPrice*(1+tolerancePct) {
				kept = append(kept, lvl)
			}
		} else {
			if lvl.Price >= limitPrice*(1-tolerancePct) {
				kept = append(kept, lvl)
			}
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if s == Buy {
			return kept[i].Price < kept[j].Price
		}
		return kept[i].Price > kept[j].Price
	})
	return kept
}

// FeeBuffer returns the price-tiered collateral buffer multiplier. Lower
// prices carry proportionally higher fee and slippage risk, so the buffer
// widens as price falls.
func FeeBuffer(price float64) float64 {
	switch {
	case price <= 0.10:
		return 1.15
	case price <= 0.50:
		return 1.08
	case price <= 0.90:
		return 1.05
	default:
		return 1.02
	}
}

// PriceFactor widens the buffer further as price falls: 1 + (1−price)·0.5.
func PriceFactor(price float64) float64 {
	return 1 + (1-price)*0.5
}

// CollateralRequired is the USDC a BUY must have available before
// submission: tokens × price, inflated by the tiered fee buffer and the
// price factor.
func CollateralRequired(tokenAmount, price float64) float64 {
	return tokenAmount * price * FeeBuffer(price) * PriceFactor(price)
}
