// Package alerting provides notification capabilities for the keeper.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key-value fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventKeeperStarted is sent when the keeper starts.
	EventKeeperStarted AlertEvent = "keeper_started"
	// EventKeeperStopped is sent when the keeper stops.
	EventKeeperStopped AlertEvent = "keeper_stopped"
	// EventBookStale is sent when polls keep failing and the book goes
	// stale.
	EventBookStale AlertEvent = "book_stale"
	// EventBookRecovered is sent when a poll succeeds after a failure
	// streak.
	EventBookRecovered AlertEvent = "book_recovered"
	// EventOrderPlaced is sent when an order is placed.
	EventOrderPlaced AlertEvent = "order_placed"
	// EventOrderCancelled is sent when an order is cancelled.
	EventOrderCancelled AlertEvent = "order_cancelled"
	// EventPlacementFailed is sent when an order placement fails.
	EventPlacementFailed AlertEvent = "placement_failed"
	// EventCancellationFailed is sent when an order cancellation fails.
	EventCancellationFailed AlertEvent = "cancellation_failed"
	// EventActivitySummary is sent for the periodic activity summary.
	EventActivitySummary AlertEvent = "activity_summary"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventBookStale:
		return SeverityHigh
	case EventPlacementFailed, EventCancellationFailed:
		return SeverityWarning
	case EventKeeperStarted, EventKeeperStopped, EventBookRecovered:
		return SeverityInfo
	case EventOrderPlaced, EventOrderCancelled, EventActivitySummary:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
