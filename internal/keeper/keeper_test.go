package keeper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openkeeper/keeper/internal/alerting"
	"github.com/openkeeper/keeper/internal/exchange"
	"github.com/openkeeper/keeper/internal/exchange/paper"
	"github.com/openkeeper/keeper/internal/orderbook"
	"github.com/openkeeper/keeper/internal/persistence"
	"github.com/openkeeper/keeper/internal/types"
)

// downExchange always fails its polls.
type downExchange struct{}

func (d *downExchange) Name() string { return "down" }
func (d *downExchange) OpenOrders(ctx context.Context) ([]types.Order, error) {
	return nil, types.ErrExchangeDown
}
func (d *downExchange) Balances(ctx context.Context) (types.Balances, error) {
	return nil, types.ErrExchangeDown
}
func (d *downExchange) PlaceOrder(ctx context.Context, order exchange.NewOrder) (*types.Order, error) {
	return nil, types.ErrExchangeDown
}
func (d *downExchange) CancelOrder(ctx context.Context, orderID int64) (bool, error) {
	return false, types.ErrExchangeDown
}
func (d *downExchange) Close() error { return nil }

func testBookConfig() orderbook.Config {
	return orderbook.Config{RefreshInterval: 10 * time.Millisecond}
}

func testKeeperConfig() Config {
	return Config{
		WatchdogInterval:   20 * time.Millisecond,
		StaleAfterFailures: 1,
	}
}

func testPaper() *paper.Exchange {
	cfg := paper.DefaultConfig()
	cfg.Latency = 0
	return paper.New(cfg, nil)
}

func sellOrder() exchange.NewOrder {
	return exchange.NewOrder{
		Symbol: "WETH-DAI",
		Side:   types.SideSell,
		Price:  decimal.RequireFromString("250.0"),
		Amount: decimal.NewFromInt(2),
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestKeeper_StartStop(t *testing.T) {
	alerter := alerting.NewMockAlerter()
	k := NewKeeper(testKeeperConfig(), testBookConfig(), testPaper(), nil, alerter, nil)
	ctx := context.Background()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}
	if !k.IsRunning() {
		t.Error("expected keeper to be running")
	}
	if !alerter.HasAlertContaining("Keeper started") {
		t.Error("expected a start alert")
	}

	if err := k.Stop(ctx); err != nil {
		t.Fatalf("failed to stop keeper: %v", err)
	}
	if k.IsRunning() {
		t.Error("expected keeper to be stopped")
	}
	if !alerter.HasAlertContaining("Keeper stopped") {
		t.Error("expected a stop alert")
	}
}

func TestKeeper_Start_AlreadyRunning(t *testing.T) {
	k := NewKeeper(testKeeperConfig(), testBookConfig(), testPaper(), nil, nil, nil)
	ctx := context.Background()
	defer func() { _ = k.Stop(ctx) }()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}
	if err := k.Start(ctx); err != types.ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestKeeper_PlaceOrder_EndToEnd(t *testing.T) {
	exch := testPaper()
	alerter := alerting.NewMockAlerter()
	k := NewKeeper(testKeeperConfig(), testBookConfig(), exch, nil, alerter, nil)
	ctx := context.Background()
	defer func() { _ = k.Stop(ctx) }()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}

	k.PlaceOrder(ctx, sellOrder())

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := k.WaitForStableOrderBook(wctx); err != nil {
		t.Fatalf("failed to wait for stable order book: %v", err)
	}

	book, err := k.OrderBook(wctx)
	if err != nil {
		t.Fatalf("failed to get order book: %v", err)
	}
	if len(book.Orders) != 1 {
		t.Fatalf("expected 1 order in the book, got %d", len(book.Orders))
	}
	if exch.OrderCount() != 1 {
		t.Errorf("expected 1 order on the exchange, got %d", exch.OrderCount())
	}
	if !alerter.HasAlertContaining("Order placed") {
		t.Error("expected a placement alert")
	}
}

func TestKeeper_CancelOrder_EndToEnd(t *testing.T) {
	exch := testPaper()
	alerter := alerting.NewMockAlerter()
	k := NewKeeper(testKeeperConfig(), testBookConfig(), exch, nil, alerter, nil)
	ctx := context.Background()
	defer func() { _ = k.Stop(ctx) }()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}

	k.PlaceOrder(ctx, sellOrder())

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := k.WaitForStableOrderBook(wctx); err != nil {
		t.Fatalf("failed to wait for stable order book: %v", err)
	}

	book, err := k.OrderBook(wctx)
	if err != nil {
		t.Fatalf("failed to get order book: %v", err)
	}
	orderID := book.Orders[0].ID

	k.CancelOrder(ctx, orderID)
	if err := k.WaitForOrderCancellation(wctx); err != nil {
		t.Fatalf("failed to wait for cancellation: %v", err)
	}

	book, err = k.OrderBook(wctx)
	if err != nil {
		t.Fatalf("failed to get order book: %v", err)
	}
	if len(book.Orders) != 0 {
		t.Errorf("expected an empty book, got %v", types.OrderIDs(book.Orders))
	}
	if exch.OrderCount() != 0 {
		t.Errorf("expected no orders on the exchange, got %d", exch.OrderCount())
	}
	if !alerter.HasAlertContaining("Order cancelled") {
		t.Error("expected a cancellation alert")
	}
}

func TestKeeper_PlacementFailure_Alerts(t *testing.T) {
	alerter := alerting.NewMockAlerter()
	k := NewKeeper(testKeeperConfig(), testBookConfig(), testPaper(), nil, alerter, nil)
	ctx := context.Background()
	defer func() { _ = k.Stop(ctx) }()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}

	// An invalid order is rejected by the exchange client.
	k.PlaceOrder(ctx, exchange.NewOrder{})

	waitUntil(t, 2*time.Second, func() bool {
		return alerter.HasAlertContaining("Order placement failed")
	})
	if !alerter.HasAlertWithSeverity(alerting.SeverityWarning) {
		t.Error("expected a warning severity alert")
	}
}

func TestKeeper_StaleAlert_AndRecovery(t *testing.T) {
	alerter := alerting.NewMockAlerter()
	k := NewKeeper(testKeeperConfig(), testBookConfig(), &downExchange{}, nil, alerter, nil)
	ctx := context.Background()
	defer func() { _ = k.Stop(ctx) }()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		return alerter.HasAlertContaining("stale")
	})
	if !alerter.HasAlertWithSeverity(alerting.SeverityHigh) {
		t.Error("expected a high severity staleness alert")
	}
}

func TestKeeper_HealthCheck(t *testing.T) {
	k := NewKeeper(testKeeperConfig(), testBookConfig(), testPaper(), nil, nil, nil)
	ctx := context.Background()

	if check := k.HealthCheck(); check.IsHealthy() {
		t.Error("expected unhealthy before start")
	}

	if err := k.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}
	defer func() { _ = k.Stop(ctx) }()

	waitUntil(t, 2*time.Second, func() bool {
		return k.HealthCheck().IsHealthy()
	})
}

func TestKeeper_HealthCheck_StaleBook(t *testing.T) {
	k := NewKeeper(testKeeperConfig(), testBookConfig(), &downExchange{}, nil, nil, nil)
	ctx := context.Background()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}
	defer func() { _ = k.Stop(ctx) }()

	// The book never becomes available, so the keeper stays unhealthy.
	time.Sleep(100 * time.Millisecond)
	if check := k.HealthCheck(); check.IsHealthy() {
		t.Error("expected unhealthy with a failing exchange")
	}
}

func TestKeeper_JournalsOrderEvents(t *testing.T) {
	repo, err := persistence.NewSQLiteRepository(filepath.Join(t.TempDir(), "keeper.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer func() { _ = repo.Close() }()

	k := NewKeeper(testKeeperConfig(), testBookConfig(), testPaper(), repo, nil, nil)
	ctx := context.Background()
	defer func() { _ = k.Stop(ctx) }()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}

	k.PlaceOrder(ctx, sellOrder())

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := k.WaitForStableOrderBook(wctx); err != nil {
		t.Fatalf("failed to wait for stable order book: %v", err)
	}

	book, err := k.OrderBook(wctx)
	if err != nil {
		t.Fatalf("failed to get order book: %v", err)
	}
	orderID := book.Orders[0].ID

	k.CancelOrder(ctx, orderID)
	if err := k.WaitForOrderCancellation(wctx); err != nil {
		t.Fatalf("failed to wait for cancellation: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		events, err := repo.GetEventsByOrder(ctx, orderID, 10)
		return err == nil && len(events) == 2
	})

	events, err := repo.GetEventsByOrder(ctx, orderID, 10)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	// Most recent first.
	if events[0].Type != persistence.EventOrderCancelled {
		t.Errorf("expected cancellation event first, got %v", events[0].Type)
	}
	if events[1].Type != persistence.EventOrderPlaced {
		t.Errorf("expected placement event second, got %v", events[1].Type)
	}
	if !events[1].Price.Equal(decimal.RequireFromString("250.0")) {
		t.Errorf("expected journaled price 250.0, got %s", events[1].Price)
	}
}
