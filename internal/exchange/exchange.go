// Package exchange provides connectivity to the remote order API.
package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openkeeper/keeper/internal/types"
)

// Exchange defines the interface to the remote order API. Implementations
// may be slow and may fail; callers are expected to tolerate both.
type Exchange interface {
	// Name identifies the exchange for logs and journal entries.
	Name() string

	// OpenOrders returns all orders the keeper currently has open.
	OpenOrders(ctx context.Context) ([]types.Order, error)

	// Balances returns the keeper's token balances.
	Balances(ctx context.Context) (types.Balances, error)

	// PlaceOrder submits a new order and returns it with the
	// exchange-assigned id.
	PlaceOrder(ctx context.Context, order NewOrder) (*types.Order, error)

	// CancelOrder requests cancellation of an order. The boolean reports
	// whether the exchange confirmed the cancellation.
	CancelOrder(ctx context.Context, orderID int64) (bool, error)

	// Close releases the connection.
	Close() error
}

// NewOrder describes an order to be placed.
type NewOrder struct {
	Symbol string
	Side   types.Side
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Validate checks the order parameters.
func (o NewOrder) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", types.ErrInvalidOrder)
	}
	if o.Side != types.SideBuy && o.Side != types.SideSell {
		return fmt.Errorf("%w: bad side %q", types.ErrInvalidOrder, o.Side)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", types.ErrInvalidOrder, o.Price)
	}
	if !o.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", types.ErrInvalidOrder, o.Amount)
	}
	return nil
}
