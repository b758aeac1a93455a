// Package persistence provides a durable journal of order activity.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openkeeper/keeper/internal/types"
)

// EventType classifies a journal entry.
type EventType string

const (
	EventOrderPlaced        EventType = "order_placed"
	EventOrderCancelled     EventType = "order_cancelled"
	EventPlacementFailed    EventType = "placement_failed"
	EventCancellationFailed EventType = "cancellation_failed"
)

// OrderEvent is a single journal entry. The journal is append-only; the
// in-memory snapshot is always authoritative and the journal exists for
// audit and post-mortem.
type OrderEvent struct {
	ID        string
	Type      EventType
	OrderID   int64
	Symbol    string
	Side      types.Side
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Detail    string
	Timestamp time.Time
}

// BookObservation records what a successful poll saw, for diagnostics
// across restarts.
type BookObservation struct {
	ID                   int64
	Timestamp            time.Time
	OrderCount           int
	PendingPlacements    int
	PendingCancellations int
}

// Repository defines the interface for the order journal.
type Repository interface {
	// Event operations
	SaveEvent(ctx context.Context, event OrderEvent) error
	GetEvents(ctx context.Context, from, to time.Time) ([]OrderEvent, error)
	GetEventsByOrder(ctx context.Context, orderID int64, limit int) ([]OrderEvent, error)

	// Observation operations
	SaveObservation(ctx context.Context, obs BookObservation) error
	GetLatestObservation(ctx context.Context) (*BookObservation, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
