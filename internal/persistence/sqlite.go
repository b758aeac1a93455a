package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openkeeper/keeper/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS order_events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			order_id INTEGER NOT NULL DEFAULT 0,
			symbol TEXT NOT NULL DEFAULT '',
			side INTEGER NOT NULL DEFAULT 0,
			price TEXT NOT NULL DEFAULT '0',
			amount TEXT NOT NULL DEFAULT '0',
			detail TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_timestamp ON order_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_order_id ON order_events(order_id)`,

		`CREATE TABLE IF NOT EXISTS book_observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			order_count INTEGER NOT NULL,
			pending_placements INTEGER NOT NULL DEFAULT 0,
			pending_cancellations INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_book_observations_timestamp ON book_observations(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveEvent appends a journal entry. A missing id or timestamp is filled
// in.
func (r *SQLiteRepository) SaveEvent(ctx context.Context, event OrderEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `INSERT INTO order_events (id, type, order_id, symbol, side, price, amount, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.OrderID,
		event.Symbol,
		int(event.Side),
		event.Price.String(),
		event.Amount.String(),
		event.Detail,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}

	return nil
}

// GetEvents returns journal entries in a time range.
func (r *SQLiteRepository) GetEvents(ctx context.Context, from, to time.Time) ([]OrderEvent, error) {
	query := `SELECT id, type, order_id, symbol, side, price, amount, detail, timestamp
		FROM order_events WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return r.scanEvents(rows)
}

// GetEventsByOrder returns the most recent journal entries for an order.
func (r *SQLiteRepository) GetEventsByOrder(ctx context.Context, orderID int64, limit int) ([]OrderEvent, error) {
	query := `SELECT id, type, order_id, symbol, side, price, amount, detail, timestamp
		FROM order_events WHERE order_id = ? ORDER BY timestamp DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query order events by order: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return r.scanEvents(rows)
}

func (r *SQLiteRepository) scanEvents(rows *sql.Rows) ([]OrderEvent, error) {
	var events []OrderEvent
	for rows.Next() {
		var e OrderEvent
		var eventType string
		var side int
		var price, amount string

		if err := rows.Scan(&e.ID, &eventType, &e.OrderID, &e.Symbol, &side, &price, &amount, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		e.Type = EventType(eventType)
		e.Side = types.Side(side)
		e.Price, _ = decimal.NewFromString(price)
		e.Amount, _ = decimal.NewFromString(amount)

		events = append(events, e)
	}

	return events, rows.Err()
}

// SaveObservation records what a successful poll saw.
func (r *SQLiteRepository) SaveObservation(ctx context.Context, obs BookObservation) error {
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}

	query := `INSERT INTO book_observations (timestamp, order_count, pending_placements, pending_cancellations)
		VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		obs.Timestamp,
		obs.OrderCount,
		obs.PendingPlacements,
		obs.PendingCancellations,
	)
	if err != nil {
		return fmt.Errorf("insert book observation: %w", err)
	}

	return nil
}

// GetLatestObservation returns the most recent observation, nil when the
// journal is empty.
func (r *SQLiteRepository) GetLatestObservation(ctx context.Context) (*BookObservation, error) {
	query := `SELECT id, timestamp, order_count, pending_placements, pending_cancellations
		FROM book_observations ORDER BY timestamp DESC LIMIT 1`

	var obs BookObservation
	err := r.db.QueryRowContext(ctx, query).Scan(
		&obs.ID,
		&obs.Timestamp,
		&obs.OrderCount,
		&obs.PendingPlacements,
		&obs.PendingCancellations,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query book observation: %w", err)
	}

	return &obs, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
