// Package keeper coordinates the order book manager with the exchange,
// the journal, metrics, and alerting.
package keeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openkeeper/keeper/internal/alerting"
	"github.com/openkeeper/keeper/internal/exchange"
	"github.com/openkeeper/keeper/internal/metrics"
	"github.com/openkeeper/keeper/internal/orderbook"
	"github.com/openkeeper/keeper/internal/persistence"
	"github.com/openkeeper/keeper/internal/types"
)

// Config holds keeper configuration.
type Config struct {
	// WatchdogInterval is how often gauges and staleness are checked.
	WatchdogInterval time.Duration

	// StaleAfterFailures is the poll failure streak that triggers a
	// staleness alert.
	StaleAfterFailures int

	// SummaryInterval is how often an activity summary is sent. Zero
	// disables summaries.
	SummaryInterval time.Duration

	// FetchBalances enables balance polling alongside orders.
	FetchBalances bool
}

// DefaultConfig returns default keeper config.
func DefaultConfig() Config {
	return Config{
		WatchdogInterval:   30 * time.Second,
		StaleAfterFailures: 3,
	}
}

// activityStats counts order operations since the last summary.
type activityStats struct {
	placed               int
	cancelled            int
	placementFailures    int
	cancellationFailures int
}

// Keeper owns the order book manager and wraps its operation launchers
// with journaling, metrics, and alerting.
type Keeper struct {
	cfg      Config
	logger   *slog.Logger
	exch     exchange.Exchange
	book     *orderbook.Manager
	repo     persistence.Repository
	alerter  alerting.Alerter
	recorder *metrics.Recorder

	mu           sync.Mutex
	running      bool
	staleAlerted bool
	stats        activityStats

	done chan struct{}
	wg   sync.WaitGroup
}

// NewKeeper creates a new keeper. The repository and alerter may be nil
// to disable journaling and alerting.
func NewKeeper(
	cfg Config,
	bookCfg orderbook.Config,
	exch exchange.Exchange,
	repo persistence.Repository,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultConfig().WatchdogInterval
	}

	var balances orderbook.BalancesProvider
	if cfg.FetchBalances {
		balances = exch
	}

	return &Keeper{
		cfg:      cfg,
		logger:   logger,
		exch:     exch,
		book:     orderbook.NewManager(bookCfg, exch, balances, logger),
		repo:     repo,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
		done:     make(chan struct{}),
	}
}

// Start starts the order book refresh and the watchdog.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return types.ErrAlreadyRunning
	}
	k.running = true
	k.mu.Unlock()

	k.logger.Info("starting keeper",
		"exchange", k.exch.Name(),
		"balances", k.cfg.FetchBalances,
	)

	if err := k.book.Start(ctx); err != nil {
		k.mu.Lock()
		k.running = false
		k.mu.Unlock()
		return err
	}

	k.wg.Add(1)
	go k.watchdogLoop(ctx)

	if k.cfg.SummaryInterval > 0 {
		k.wg.Add(1)
		go k.summaryLoop(ctx)
	}

	k.alert(ctx, alerting.EventKeeperStarted, "Keeper started",
		"exchange", k.exch.Name(),
	)

	return nil
}

// Stop stops the watchdog and the order book refresh.
func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	k.running = false
	k.mu.Unlock()

	k.logger.Info("stopping keeper")

	close(k.done)
	k.wg.Wait()
	k.book.Stop()

	k.alert(ctx, alerting.EventKeeperStopped, "Keeper stopped")

	k.logger.Info("keeper stopped")
	return nil
}

// IsRunning returns true if the keeper is running.
func (k *Keeper) IsRunning() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// OrderBook returns the current order book snapshot, blocking until it
// is available or ctx is done.
func (k *Keeper) OrderBook(ctx context.Context) (*orderbook.OrderBook, error) {
	return k.book.OrderBook(ctx)
}

// WaitForStableOrderBook blocks until no order operation is in flight.
func (k *Keeper) WaitForStableOrderBook(ctx context.Context) error {
	return k.book.WaitForStableOrderBook(ctx)
}

// WaitForRefresh blocks until the next successful poll.
func (k *Keeper) WaitForRefresh(ctx context.Context) error {
	return k.book.WaitForRefresh(ctx)
}

// WaitForOrderCancellation blocks until no cancellation is in flight.
func (k *Keeper) WaitForOrderCancellation(ctx context.Context) error {
	return k.book.WaitForOrderCancellation(ctx)
}

// PlaceOrder launches a background order placement. The result surfaces
// through later OrderBook calls, the journal, and alerts.
func (k *Keeper) PlaceOrder(ctx context.Context, order exchange.NewOrder) {
	k.book.PlaceOrder(ctx, func(ctx context.Context) (*types.Order, error) {
		placed, err := k.exch.PlaceOrder(ctx, order)
		if err != nil {
			k.noteFailure(ctx, persistence.EventPlacementFailed, 0, err.Error())
			k.alert(ctx, alerting.EventPlacementFailed, "Order placement failed",
				"symbol", order.Symbol,
				"side", order.Side.String(),
				"error", err.Error(),
			)
			return nil, err
		}

		k.mu.Lock()
		k.stats.placed++
		k.mu.Unlock()

		k.journal(ctx, persistence.OrderEvent{
			Type:    persistence.EventOrderPlaced,
			OrderID: placed.ID,
			Symbol:  placed.Symbol,
			Side:    placed.Side,
			Price:   placed.Price,
			Amount:  placed.Amount,
		})
		k.alert(ctx, alerting.EventOrderPlaced, "Order placed",
			"order_id", placed.ID,
			"symbol", placed.Symbol,
			"side", placed.Side.String(),
			"price", placed.Price.String(),
			"amount", placed.Amount.String(),
		)
		return placed, nil
	})
}

// CancelOrder launches a background order cancellation. The order is
// hidden from OrderBook immediately and reappears if the cancellation
// fails.
func (k *Keeper) CancelOrder(ctx context.Context, orderID int64) {
	k.book.CancelOrder(ctx, orderID, func(ctx context.Context) (bool, error) {
		ok, err := k.exch.CancelOrder(ctx, orderID)
		if err != nil {
			k.noteFailure(ctx, persistence.EventCancellationFailed, orderID, err.Error())
			k.alert(ctx, alerting.EventCancellationFailed, "Order cancellation failed",
				"order_id", orderID,
				"error", err.Error(),
			)
			return false, err
		}
		if !ok {
			k.noteFailure(ctx, persistence.EventCancellationFailed, orderID, "not confirmed")
			return false, nil
		}

		k.mu.Lock()
		k.stats.cancelled++
		k.mu.Unlock()

		k.journal(ctx, persistence.OrderEvent{
			Type:    persistence.EventOrderCancelled,
			OrderID: orderID,
		})
		k.alert(ctx, alerting.EventOrderCancelled, "Order cancelled",
			"order_id", orderID,
		)
		return true, nil
	})
}

// noteFailure counts a failed operation and journals it.
func (k *Keeper) noteFailure(ctx context.Context, event persistence.EventType, orderID int64, detail string) {
	k.mu.Lock()
	if event == persistence.EventPlacementFailed {
		k.stats.placementFailures++
	} else {
		k.stats.cancellationFailures++
	}
	k.mu.Unlock()

	k.journal(ctx, persistence.OrderEvent{
		Type:    event,
		OrderID: orderID,
		Detail:  detail,
	})
}

// watchdogLoop keeps gauges current and raises staleness alerts.
func (k *Keeper) watchdogLoop(ctx context.Context) {
	defer k.wg.Done()

	ticker := time.NewTicker(k.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.done:
			return
		case <-ticker.C:
			k.watch(ctx)
		}
	}
}

// watch runs a single watchdog tick.
func (k *Keeper) watch(ctx context.Context) {
	k.recorder.RecordHeartbeat()

	placing, cancelling := k.book.PendingOperations()
	k.recorder.RecordPendingOperations(placing, cancelling)

	available := k.book.Available()
	k.recorder.RecordBookAvailable(available)

	failures := k.book.ConsecutivePollFailures()

	k.mu.Lock()
	wasStale := k.staleAlerted
	if failures >= k.cfg.StaleAfterFailures && k.cfg.StaleAfterFailures > 0 {
		k.staleAlerted = true
	} else if failures == 0 {
		k.staleAlerted = false
	}
	isStale := k.staleAlerted
	k.mu.Unlock()

	if isStale && !wasStale {
		lastErr := ""
		if err := k.book.LastPollError(); err != nil {
			lastErr = err.Error()
		}
		k.logger.Warn("order book going stale",
			"consecutive_failures", failures,
			"err", lastErr,
		)
		k.alert(ctx, alerting.EventBookStale, "Order book going stale",
			"consecutive_failures", failures,
			"last_error", lastErr,
		)
	}
	if !isStale && wasStale {
		k.alert(ctx, alerting.EventBookRecovered, "Order book recovered")
	}

	if available && k.repo != nil {
		bctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		book, err := k.book.OrderBook(bctx)
		cancel()
		if err != nil {
			return
		}
		if err := k.repo.SaveObservation(ctx, persistence.BookObservation{
			OrderCount:           len(book.Orders),
			PendingPlacements:    placing,
			PendingCancellations: cancelling,
		}); err != nil {
			k.logger.Warn("failed to save book observation", "err", err)
		}
	}
}

// summaryLoop periodically sends an activity summary and resets the
// counters.
func (k *Keeper) summaryLoop(ctx context.Context) {
	defer k.wg.Done()

	ticker := time.NewTicker(k.cfg.SummaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.done:
			return
		case <-ticker.C:
			k.sendSummary(ctx)
		}
	}
}

// sendSummary sends one activity summary.
func (k *Keeper) sendSummary(ctx context.Context) {
	k.mu.Lock()
	stats := k.stats
	k.stats = activityStats{}
	k.mu.Unlock()

	openOrders := 0
	available := k.book.Available()
	if available {
		bctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if book, err := k.book.OrderBook(bctx); err == nil {
			openOrders = len(book.Orders)
		}
		cancel()
	}

	summary := alerting.NewActivitySummary(
		time.Now(),
		stats.placed,
		stats.cancelled,
		stats.placementFailures,
		stats.cancellationFailures,
		k.book.ConsecutivePollFailures(),
		openOrders,
		available,
	)

	k.alert(ctx, alerting.EventActivitySummary, "Keeper activity summary",
		"placed", summary.OrdersPlaced,
		"cancelled", summary.OrdersCancelled,
		"placement_failures", summary.PlacementFailures,
		"cancellation_failures", summary.CancellationFailures,
		"success_rate", summary.SuccessRate.StringFixed(1)+"%",
		"open_orders", summary.OpenOrders,
	)
}

// HealthCheck reports keeper health for the metrics server.
func (k *Keeper) HealthCheck() metrics.Check {
	if !k.IsRunning() {
		return metrics.Unhealthy("keeper not running")
	}
	if !k.book.Available() {
		return metrics.Unhealthy("order book not yet available")
	}
	if failures := k.book.ConsecutivePollFailures(); k.cfg.StaleAfterFailures > 0 && failures >= k.cfg.StaleAfterFailures {
		return metrics.Unhealthy("order book stale")
	}
	return metrics.Healthy()
}

// journal appends an event to the journal if one is configured.
func (k *Keeper) journal(ctx context.Context, event persistence.OrderEvent) {
	if k.repo == nil {
		return
	}
	if err := k.repo.SaveEvent(ctx, event); err != nil {
		k.logger.Warn("failed to journal order event",
			"type", event.Type,
			"order_id", event.OrderID,
			"err", err,
		)
	}
}

// alert sends an alert if an alerter is configured.
func (k *Keeper) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if k.alerter == nil {
		return
	}
	if err := k.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		k.logger.Warn("failed to send alert", "event", event, "err", err)
	}
}
