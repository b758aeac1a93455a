// Package orderbook maintains a locally cached view of the keeper's own
// open orders, refreshed by background polling and amended with order
// placements and cancellations the keeper itself performs.
package orderbook

import (
	"github.com/openkeeper/keeper/internal/types"
)

// OrderBook is the merged, externally visible snapshot of the keeper's
// orders and balances.
//
// Orders is already amended: recently placed orders are included, orders
// being cancelled or recently cancelled are excluded. An order whose
// cancellation fails reappears here; noticing it and retrying is the
// keeper's responsibility.
//
// Balances carries the last polled balances unchanged. It is not adjusted
// for pending placements or cancellations, so it may lag Orders; a keeper
// relying on it must tolerate placements that fail on stale balance.
type OrderBook struct {
	Orders               []types.Order
	Balances             types.Balances
	OrdersBeingPlaced    bool
	OrdersBeingCancelled bool
}

// OrderByID returns the order with the given ID, if present.
func (b *OrderBook) OrderByID(id int64) (types.Order, bool) {
	for _, o := range b.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return types.Order{}, false
}
