package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openkeeper/keeper/internal/exchange"
	"github.com/openkeeper/keeper/internal/types"
)

func testExchange() *Exchange {
	cfg := DefaultConfig()
	cfg.Latency = 0
	return New(cfg, nil)
}

func newOrder() exchange.NewOrder {
	return exchange.NewOrder{
		Symbol: "WETH-DAI",
		Side:   types.SideSell,
		Price:  decimal.RequireFromString("250.0"),
		Amount: decimal.NewFromInt(2),
	}
}

func TestExchange_PlaceOrder(t *testing.T) {
	e := testExchange()
	ctx := context.Background()

	placed, err := e.PlaceOrder(ctx, newOrder())
	if err != nil {
		t.Fatalf("failed to place order: %v", err)
	}
	if placed.ID == 0 {
		t.Error("expected a non-zero order id")
	}

	orders, err := e.OpenOrders(ctx)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != placed.ID {
		t.Errorf("expected open orders to contain %d, got %v", placed.ID, types.OrderIDs(orders))
	}
}

func TestExchange_PlaceOrder_UniqueIDs(t *testing.T) {
	e := testExchange()
	ctx := context.Background()

	seen := make(map[int64]bool)
	for i := 0; i < 10; i++ {
		placed, err := e.PlaceOrder(ctx, newOrder())
		if err != nil {
			t.Fatalf("failed to place order: %v", err)
		}
		if seen[placed.ID] {
			t.Fatalf("duplicate order id %d", placed.ID)
		}
		seen[placed.ID] = true
	}
}

func TestExchange_PlaceOrder_Invalid(t *testing.T) {
	e := testExchange()

	tests := []struct {
		name  string
		order exchange.NewOrder
	}{
		{"missing symbol", exchange.NewOrder{Side: types.SideBuy, Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1)}},
		{"zero price", exchange.NewOrder{Symbol: "WETH-DAI", Side: types.SideBuy, Amount: decimal.NewFromInt(1)}},
		{"negative amount", exchange.NewOrder{Symbol: "WETH-DAI", Side: types.SideBuy, Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.PlaceOrder(context.Background(), tt.order); !errors.Is(err, types.ErrInvalidOrder) {
				t.Errorf("expected ErrInvalidOrder, got %v", err)
			}
		})
	}
}

func TestExchange_CancelOrder(t *testing.T) {
	e := testExchange()
	ctx := context.Background()

	placed, err := e.PlaceOrder(ctx, newOrder())
	if err != nil {
		t.Fatalf("failed to place order: %v", err)
	}

	ok, err := e.CancelOrder(ctx, placed.ID)
	if err != nil {
		t.Fatalf("failed to cancel order: %v", err)
	}
	if !ok {
		t.Error("expected cancellation to be confirmed")
	}
	if e.OrderCount() != 0 {
		t.Errorf("expected no open orders, got %d", e.OrderCount())
	}
}

func TestExchange_CancelOrder_Unknown(t *testing.T) {
	e := testExchange()

	ok, err := e.CancelOrder(context.Background(), 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected cancellation of unknown order to be unconfirmed")
	}
}

func TestExchange_Balances(t *testing.T) {
	e := testExchange()

	balances, err := e.Balances(context.Background())
	if err != nil {
		t.Fatalf("failed to fetch balances: %v", err)
	}
	if !balances.Get("DAI").Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected DAI balance 10000, got %s", balances.Get("DAI"))
	}

	// Mutating the returned map must not leak into the exchange.
	balances["DAI"] = decimal.Zero
	again, err := e.Balances(context.Background())
	if err != nil {
		t.Fatalf("failed to fetch balances: %v", err)
	}
	if !again.Get("DAI").Equal(decimal.NewFromInt(10000)) {
		t.Error("expected balances to be copied on read")
	}
}

func TestExchange_Fill(t *testing.T) {
	e := testExchange()
	ctx := context.Background()

	placed, err := e.PlaceOrder(ctx, newOrder())
	if err != nil {
		t.Fatalf("failed to place order: %v", err)
	}

	if !e.Fill(placed.ID) {
		t.Fatal("expected fill to succeed")
	}
	if e.OrderCount() != 0 {
		t.Errorf("expected filled order to leave the book, got %d open", e.OrderCount())
	}
	if e.Fill(placed.ID) {
		t.Error("expected second fill of the same order to fail")
	}
}

func TestExchange_FailureInjection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Latency = 0
	cfg.FailEveryN = 2
	e := New(cfg, nil)
	ctx := context.Background()

	// Every second call fails.
	if _, err := e.OpenOrders(ctx); err != nil {
		t.Fatalf("expected first call to succeed, got %v", err)
	}
	if _, err := e.OpenOrders(ctx); !errors.Is(err, types.ErrExchangeDown) {
		t.Errorf("expected ErrExchangeDown on second call, got %v", err)
	}
	if _, err := e.OpenOrders(ctx); err != nil {
		t.Errorf("expected third call to succeed, got %v", err)
	}
}

func TestExchange_Latency_RespectsContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Latency = 5 * time.Second
	e := New(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.OpenOrders(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected call to return promptly on cancellation, took %s", elapsed)
	}
}
