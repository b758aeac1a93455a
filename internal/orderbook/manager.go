package orderbook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openkeeper/keeper/internal/metrics"
	"github.com/openkeeper/keeper/internal/types"
)

const (
	// availabilityPollInterval is how often OrderBook re-checks for the
	// first successful poll.
	availabilityPollInterval = 500 * time.Millisecond

	// waitPollInterval is how often the wait helpers re-check their
	// condition.
	waitPollInterval = 100 * time.Millisecond
)

// OrdersProvider fetches the keeper's currently open orders. It may fail;
// the refresher absorbs failures and keeps the previous snapshot.
type OrdersProvider interface {
	OpenOrders(ctx context.Context) ([]types.Order, error)
}

// BalancesProvider fetches the keeper's current balances. Optional; when
// absent, OrderBook.Balances is always nil.
type BalancesProvider interface {
	Balances(ctx context.Context) (types.Balances, error)
}

// PlaceFunc places a single order. A nil order with a nil error means no
// order was placed (skipped), which is not a failure.
type PlaceFunc func(ctx context.Context) (*types.Order, error)

// CancelFunc cancels a single order. The boolean reports whether the
// exchange confirmed the cancellation.
type CancelFunc func(ctx context.Context) (bool, error)

// Config holds manager configuration.
type Config struct {
	// RefreshInterval is the delay between the end of one poll cycle and
	// the start of the next.
	RefreshInterval time.Duration
}

// DefaultConfig returns default manager config.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 10 * time.Second,
	}
}

// snapshot is the last successfully polled state. Immutable once installed.
type snapshot struct {
	orders   []types.Order
	balances types.Balances
}

// Manager tracks the keeper's order book without the keeper constantly
// querying the exchange.
//
// A slow or failing open-orders endpoint must not leave the keeper blind:
// the manager polls in the background and serves the latest snapshot,
// amended with the orders the keeper placed or cancelled through it since.
// As long as a placement returns the new order's ID, the keeper can cancel
// that order even if no poll has succeeded in the meantime.
//
// All mutable state below mu is guarded by it. The lock is never held
// across a collaborator call.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	recorder *metrics.Recorder

	orders   OrdersProvider
	balances BalancesProvider

	mu           sync.Mutex
	state        *snapshot
	refreshCount uint64
	failStreak   int
	lastPollErr  error
	placing      int
	placed       []types.Order
	cancelling   map[int64]struct{}
	cancelled    map[int64]struct{}
	running      bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a new order book manager. The orders provider is
// required; balances may be nil to disable balance polling.
func NewManager(cfg Config, orders OrdersProvider, balances BalancesProvider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}

	return &Manager{
		cfg:        cfg,
		logger:     logger,
		recorder:   metrics.NewRecorder(),
		orders:     orders,
		balances:   balances,
		cancelling: make(map[int64]struct{}),
		cancelled:  make(map[int64]struct{}),
		done:       make(chan struct{}),
	}
}

// Start starts the background order book refresh.
func (m *Manager) Start(ctx context.Context) error {
	if m.orders == nil {
		return types.ErrNoOrdersSource
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return types.ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	m.logger.Info("starting order book refresh",
		"refresh_interval", m.cfg.RefreshInterval,
		"balances", m.balances != nil,
	)

	m.wg.Add(1)
	go m.refreshLoop(ctx)

	return nil
}

// Stop stops the background refresh loop. Launched placement and
// cancellation tasks are not joined; each finishes on its own and only
// touches the trackers under the lock.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
	m.logger.Info("order book refresh stopped")
}

// IsRunning returns true if the refresh loop is running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// refreshLoop polls until stopped, sleeping RefreshInterval after each
// cycle ends rather than on a fixed-rate clock.
func (m *Manager) refreshLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		m.refreshOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-time.After(m.cfg.RefreshInterval):
		}
	}
}

// refreshOnce runs a single poll cycle and reconciles the pending trackers
// against its result.
//
// The removal sets are the tracker contents captured before the poll was
// issued: an order confirmed placed or cancelled before the request went
// out is guaranteed to be reflected in the response, so it can be retired
// once the poll lands. Anything confirmed while the poll was in flight has
// no such guarantee and stays pending for at least one more cycle. Working
// from the pre-poll copies is what makes this safe without holding the
// lock across the provider call.
func (m *Manager) refreshOnce(ctx context.Context) {
	timer := metrics.NewTimer()

	m.mu.Lock()
	cancelledBefore := make(map[int64]struct{}, len(m.cancelled))
	for id := range m.cancelled {
		cancelledBefore[id] = struct{}{}
	}
	placedBefore := len(m.placed)
	m.mu.Unlock()

	orders, err := m.orders.OpenOrders(ctx)
	var balances types.Balances
	if err == nil && m.balances != nil {
		balances, err = m.balances.Balances(ctx)
	}

	if err != nil {
		m.mu.Lock()
		m.failStreak++
		m.lastPollErr = err
		m.mu.Unlock()

		m.recorder.RecordRefresh(false)
		m.recorder.RecordError("poll")
		m.logger.Info("failed to fetch the order book", "err", err)
		return
	}

	m.mu.Lock()
	for id := range cancelledBefore {
		delete(m.cancelled, id)
	}
	// Placement tasks only append and this loop is the sole remover, so
	// the first placedBefore entries are exactly the pre-poll ones.
	m.placed = append([]types.Order(nil), m.placed[placedBefore:]...)

	if m.state == nil {
		m.logger.Info("order book became available")
		m.recorder.RecordBookAvailable(true)
	}
	m.state = &snapshot{
		orders:   append([]types.Order(nil), orders...),
		balances: balances,
	}
	m.refreshCount++
	m.failStreak = 0
	m.lastPollErr = nil
	m.mu.Unlock()

	m.recorder.RecordRefresh(true)
	m.recorder.RecordOpenOrders(len(orders))
	timer.ObserveRefresh()

	m.logger.Debug("fetched the order book", "orders", types.OrderIDs(orders))
}

// OrderBook returns the current snapshot of the keeper's orders and
// balances. Before the first successful poll it blocks, re-checking every
// half second, until the snapshot exists or ctx is done.
func (m *Manager) OrderBook(ctx context.Context) (*OrderBook, error) {
	for {
		m.mu.Lock()
		if m.state != nil {
			book := m.composeLocked()
			m.mu.Unlock()
			return book, nil
		}
		m.mu.Unlock()

		m.logger.Info("waiting for the order book to become available")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", types.ErrBookUnavailable, ctx.Err())
		case <-time.After(availabilityPollInterval):
		}
	}
}

// composeLocked merges the polled snapshot with the pending trackers.
// Caller holds mu.
func (m *Manager) composeLocked() *OrderBook {
	present := make(map[int64]struct{}, len(m.state.orders)+len(m.placed))
	orders := make([]types.Order, 0, len(m.state.orders)+len(m.placed))

	orders = append(orders, m.state.orders...)
	for _, o := range orders {
		present[o.ID] = struct{}{}
	}

	// Amend with placements the poll has not caught up with yet, skipping
	// any the poll already observed.
	for _, o := range m.placed {
		if _, ok := present[o.ID]; ok {
			continue
		}
		present[o.ID] = struct{}{}
		orders = append(orders, o)
	}

	// Hide orders being cancelled and orders already cancelled.
	kept := orders[:0]
	for _, o := range orders {
		if _, ok := m.cancelling[o.ID]; ok {
			continue
		}
		if _, ok := m.cancelled[o.ID]; ok {
			continue
		}
		kept = append(kept, o)
	}

	return &OrderBook{
		Orders:               kept,
		Balances:             m.state.balances,
		OrdersBeingPlaced:    m.placing > 0,
		OrdersBeingCancelled: len(m.cancelling) > 0,
	}
}

// PlaceOrder places a new order. The placement itself runs in a background
// goroutine; the call returns immediately and the result surfaces only
// through later OrderBook calls.
func (m *Manager) PlaceOrder(ctx context.Context, place PlaceFunc) {
	m.mu.Lock()
	m.placing++
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.placing--
			m.mu.Unlock()
		}()

		order, err := place(ctx)
		if err != nil {
			m.recorder.RecordPlacement("error")
			m.logger.Warn("order placement failed", "err", err)
			return
		}
		if order == nil {
			m.recorder.RecordPlacement("skipped")
			m.logger.Debug("order placement skipped")
			return
		}

		m.mu.Lock()
		m.placed = append(m.placed, *order)
		m.mu.Unlock()

		m.recorder.RecordPlacement("placed")
		m.logger.Info("order placed", "order_id", order.ID)
	}()
}

// CancelOrder cancels an existing order. The order disappears from
// OrderBook immediately; if the cancellation fails it reappears. The
// cancellation itself runs in a background goroutine.
//
// orderID is only used to hide the order from the snapshot while the
// cancellation runs, and to remove it permanently once confirmed.
func (m *Manager) CancelOrder(ctx context.Context, orderID int64, cancel CancelFunc) {
	m.mu.Lock()
	m.cancelling[orderID] = struct{}{}
	m.mu.Unlock()

	go func() {
		defer func() {
			// Already removed on the success path; delete is a no-op then.
			m.mu.Lock()
			delete(m.cancelling, orderID)
			m.mu.Unlock()
		}()

		ok, err := cancel(ctx)
		if err != nil {
			m.recorder.RecordCancellation("error")
			m.logger.Warn("order cancellation failed", "order_id", orderID, "err", err)
			return
		}
		if !ok {
			m.recorder.RecordCancellation("failed")
			m.logger.Warn("order cancellation not confirmed", "order_id", orderID)
			return
		}

		m.mu.Lock()
		m.cancelled[orderID] = struct{}{}
		delete(m.cancelling, orderID)
		m.mu.Unlock()

		m.recorder.RecordCancellation("cancelled")
		m.logger.Info("order cancelled", "order_id", orderID)
	}()
}

// WaitForOrderCancellation blocks until no background order cancellation
// is in flight, or ctx is done.
func (m *Manager) WaitForOrderCancellation(ctx context.Context) error {
	for {
		m.mu.Lock()
		n := len(m.cancelling)
		m.mu.Unlock()

		if n == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
}

// WaitForRefresh blocks until at least one successful poll completes after
// the call, or ctx is done. The counter only advances on poll success, so
// with a persistently failing provider this waits until ctx expires.
func (m *Manager) WaitForRefresh(ctx context.Context) error {
	m.mu.Lock()
	before := m.refreshCount
	m.mu.Unlock()

	for {
		m.mu.Lock()
		now := m.refreshCount
		m.mu.Unlock()

		if now > before {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
}

// WaitForStableOrderBook blocks until no background order placement nor
// cancellation is in flight, or ctx is done.
func (m *Manager) WaitForStableOrderBook(ctx context.Context) error {
	for {
		book, err := m.OrderBook(ctx)
		if err != nil {
			return err
		}
		if !book.OrdersBeingPlaced && !book.OrdersBeingCancelled {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
}

// Available reports whether at least one poll has succeeded.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != nil
}

// RefreshCount returns the number of successful polls so far.
func (m *Manager) RefreshCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCount
}

// ConsecutivePollFailures returns the number of polls that have failed
// since the last success.
func (m *Manager) ConsecutivePollFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failStreak
}

// LastPollError returns the error from the most recent failed poll, nil
// after a success.
func (m *Manager) LastPollError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPollErr
}

// PendingOperations returns the in-flight placement and cancellation
// counts.
func (m *Manager) PendingOperations() (placing, cancelling int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placing, len(m.cancelling)
}
