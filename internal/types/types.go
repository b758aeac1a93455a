// Package types defines shared types used across the keeper.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideSell:
		return "SELL"
	default:
		return "BUY"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Order is a single open order belonging to the keeper.
//
// ID is the only field the order book manager itself interprets; it must be
// unique among the keeper's currently open orders. The remaining fields are
// exchange data carried through unchanged.
type Order struct {
	ID           int64
	Symbol       string
	Side         Side
	Price        decimal.Decimal
	Amount       decimal.Decimal
	FilledAmount decimal.Decimal
	CreatedAt    time.Time
}

// Remaining returns the unfilled amount of the order.
func (o Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.FilledAmount)
}

// Balances maps asset symbol to available balance. It is opaque to the order
// book manager: fetched wholesale, never merged with pending operations.
type Balances map[string]decimal.Decimal

// Get returns the balance for an asset, zero if absent.
func (b Balances) Get(asset string) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return b[asset]
}

// Clone returns a copy of the balances map.
func (b Balances) Clone() Balances {
	if b == nil {
		return nil
	}
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// OrderIDs returns the IDs of the given orders, preserving order.
func OrderIDs(orders []Order) []int64 {
	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}
