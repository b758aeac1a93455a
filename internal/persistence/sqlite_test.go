package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openkeeper/keeper/internal/types"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	path := filepath.Join(t.TempDir(), "keeper.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func placedEvent(orderID int64, ts time.Time) OrderEvent {
	return OrderEvent{
		Type:      EventOrderPlaced,
		OrderID:   orderID,
		Symbol:    "WETH-DAI",
		Side:      types.SideSell,
		Price:     decimal.RequireFromString("250.5"),
		Amount:    decimal.NewFromInt(2),
		Timestamp: ts,
	}
}

func TestSQLiteRepository_SaveAndGetEvents(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := repo.SaveEvent(ctx, placedEvent(7, now)); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}
	if err := repo.SaveEvent(ctx, OrderEvent{
		Type:      EventOrderCancelled,
		OrderID:   7,
		Timestamp: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}

	events, err := repo.GetEvents(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.Type != EventOrderPlaced || first.OrderID != 7 {
		t.Errorf("unexpected first event: %+v", first)
	}
	if first.ID == "" {
		t.Error("expected an event id to be assigned")
	}
	if !first.Price.Equal(decimal.RequireFromString("250.5")) {
		t.Errorf("expected price 250.5, got %s", first.Price)
	}
	if first.Side != types.SideSell {
		t.Errorf("expected sell side, got %v", first.Side)
	}
	if events[1].Type != EventOrderCancelled {
		t.Errorf("expected cancelled event second, got %v", events[1].Type)
	}
}

func TestSQLiteRepository_GetEvents_EmptyRange(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	events, err := repo.GetEvents(ctx, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestSQLiteRepository_GetEventsByOrder(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := int64(1); i <= 3; i++ {
		if err := repo.SaveEvent(ctx, placedEvent(i, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("failed to save event: %v", err)
		}
	}
	if err := repo.SaveEvent(ctx, OrderEvent{
		Type:      EventCancellationFailed,
		OrderID:   2,
		Detail:    "cancel endpoint down",
		Timestamp: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}

	events, err := repo.GetEventsByOrder(ctx, 2, 10)
	if err != nil {
		t.Fatalf("failed to get events by order: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for order 2, got %d", len(events))
	}
	// Most recent first.
	if events[0].Type != EventCancellationFailed {
		t.Errorf("expected cancellation failure first, got %v", events[0].Type)
	}
	if events[0].Detail != "cancel endpoint down" {
		t.Errorf("unexpected detail %q", events[0].Detail)
	}
}

func TestSQLiteRepository_Observations(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	latest, err := repo.GetLatestObservation(ctx)
	if err != nil {
		t.Fatalf("failed to get observation: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil observation on empty journal, got %+v", latest)
	}

	if err := repo.SaveObservation(ctx, BookObservation{
		Timestamp:  now.Add(-time.Minute),
		OrderCount: 3,
	}); err != nil {
		t.Fatalf("failed to save observation: %v", err)
	}
	if err := repo.SaveObservation(ctx, BookObservation{
		Timestamp:            now,
		OrderCount:           5,
		PendingPlacements:    1,
		PendingCancellations: 2,
	}); err != nil {
		t.Fatalf("failed to save observation: %v", err)
	}

	latest, err = repo.GetLatestObservation(ctx)
	if err != nil {
		t.Fatalf("failed to get observation: %v", err)
	}
	if latest == nil {
		t.Fatal("expected an observation")
	}
	if latest.OrderCount != 5 || latest.PendingPlacements != 1 || latest.PendingCancellations != 2 {
		t.Errorf("unexpected observation: %+v", latest)
	}
}

func TestSQLiteRepository_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keeper.db")
	ctx := context.Background()

	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	if err := repo.SaveEvent(ctx, placedEvent(7, time.Now().UTC())); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("failed to close repository: %v", err)
	}

	reopened, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("failed to reopen repository: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	events, err := reopened.GetEventsByOrder(ctx, 7, 1)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected the event to survive reopen, got %d events", len(events))
	}
}
