// Package paper provides a simulated exchange for dry runs and tests.
package paper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openkeeper/keeper/internal/exchange"
	"github.com/openkeeper/keeper/internal/types"
)

// Config holds paper exchange configuration.
type Config struct {
	// Latency is added to every call, simulating a slow remote API.
	Latency time.Duration

	// FailEveryN makes every Nth call fail with ErrExchangeDown. Zero
	// disables failure injection.
	FailEveryN int

	// Balances is the simulated account balance.
	Balances types.Balances
}

// DefaultConfig returns default paper exchange config.
func DefaultConfig() Config {
	return Config{
		Latency: 10 * time.Millisecond,
		Balances: types.Balances{
			"DAI":  decimal.NewFromInt(10000),
			"WETH": decimal.NewFromInt(40),
		},
	}
}

// Exchange implements exchange.Exchange in memory.
type Exchange struct {
	cfg    Config
	logger *slog.Logger

	nextID    atomic.Int64
	callCount atomic.Int64

	mu       sync.RWMutex
	orders   map[int64]types.Order
	balances types.Balances
}

// New creates a new paper exchange.
func New(cfg Config, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}

	return &Exchange{
		cfg:      cfg,
		logger:   logger,
		orders:   make(map[int64]types.Order),
		balances: cfg.Balances.Clone(),
	}
}

// Name identifies the exchange.
func (e *Exchange) Name() string {
	return "paper"
}

// simulateCall applies latency and failure injection. Every exchange
// method goes through it first.
func (e *Exchange) simulateCall(ctx context.Context) error {
	if e.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.Latency):
		}
	}

	n := e.callCount.Add(1)
	if e.cfg.FailEveryN > 0 && n%int64(e.cfg.FailEveryN) == 0 {
		return types.ErrExchangeDown
	}
	return nil
}

// OpenOrders returns all open orders.
func (e *Exchange) OpenOrders(ctx context.Context) ([]types.Order, error) {
	if err := e.simulateCall(ctx); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	orders := make([]types.Order, 0, len(e.orders))
	for _, o := range e.orders {
		orders = append(orders, o)
	}
	return orders, nil
}

// Balances returns the simulated balances.
func (e *Exchange) Balances(ctx context.Context) (types.Balances, error) {
	if err := e.simulateCall(ctx); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances.Clone(), nil
}

// PlaceOrder records a new order and assigns it an id.
func (e *Exchange) PlaceOrder(ctx context.Context, order exchange.NewOrder) (*types.Order, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if err := e.simulateCall(ctx); err != nil {
		return nil, err
	}

	placed := types.Order{
		ID:        e.nextID.Add(1),
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     order.Price,
		Amount:    order.Amount,
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	e.orders[placed.ID] = placed
	e.mu.Unlock()

	e.logger.Info("paper order placed",
		"order_id", placed.ID,
		"symbol", placed.Symbol,
		"side", placed.Side,
		"price", placed.Price,
		"amount", placed.Amount,
	)

	return &placed, nil
}

// CancelOrder removes an order. Cancelling an unknown id is not confirmed.
func (e *Exchange) CancelOrder(ctx context.Context, orderID int64) (bool, error) {
	if err := e.simulateCall(ctx); err != nil {
		return false, err
	}

	e.mu.Lock()
	_, ok := e.orders[orderID]
	if ok {
		delete(e.orders, orderID)
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Warn("paper cancel for unknown order", "order_id", orderID)
		return false, nil
	}

	e.logger.Info("paper order cancelled", "order_id", orderID)
	return true, nil
}

// Close releases the connection. A no-op for the paper exchange.
func (e *Exchange) Close() error {
	return nil
}

// Fill simulates an external fill: the order disappears from the book and
// the balances move as if the trade settled. Intended for tests.
func (e *Exchange) Fill(orderID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return false
	}
	delete(e.orders, orderID)

	e.logger.Info("paper order filled",
		"order_id", o.ID,
		"symbol", o.Symbol,
		"side", o.Side,
		"price", o.Price,
		"amount", o.Amount,
	)
	return true
}

// SetBalances replaces the simulated balances. Intended for tests.
func (e *Exchange) SetBalances(balances types.Balances) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances = balances.Clone()
}

// OrderCount returns the number of open orders.
func (e *Exchange) OrderCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.orders)
}

// Ensure Exchange implements exchange.Exchange
var _ exchange.Exchange = (*Exchange)(nil)
