package domain

import "strconv"

// OrderBook is a snapshot of a token's order book. It is owned by the
// request that fetched it and never cached past a single decision.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // sorted highest price first
	Asks    []BookEntry // sorted lowest price first
}

// BookEntry is a single price level.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid returns the highest bid price, or 0 if the side is empty.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if the side is empty.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint returns the mid price between best bid and best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread returns ask - bid, or 0 if either side is empty.
func (ob OrderBook) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// ConsumedSide returns the levels an order of the given side would eat:
// asks for a BUY, bids for a SELL.
func (ob OrderBook) ConsumedSide(side Side) []BookEntry {
	if side == Buy {
		return ob.Asks
	}
	return ob.Bids
}

// ParsePrice converts an API price string to float64.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
