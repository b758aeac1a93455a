package alerting

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActivitySummary contains order activity statistics for the periodic
// summary report.
type ActivitySummary struct {
	Date                 time.Time
	OrdersPlaced         int
	OrdersCancelled      int
	PlacementFailures    int
	CancellationFailures int
	PollFailures         int
	SuccessRate          decimal.Decimal
	OpenOrders           int
	BookAvailable        bool
}

// NewActivitySummary creates an activity summary from raw counts.
func NewActivitySummary(
	date time.Time,
	placed, cancelled, placementFailures, cancellationFailures, pollFailures int,
	openOrders int,
	bookAvailable bool,
) ActivitySummary {
	attempts := placed + cancelled + placementFailures + cancellationFailures

	var successRate decimal.Decimal
	if attempts > 0 {
		successRate = decimal.NewFromInt(int64(placed + cancelled)).
			Div(decimal.NewFromInt(int64(attempts))).
			Mul(decimal.NewFromInt(100))
	}

	return ActivitySummary{
		Date:                 date,
		OrdersPlaced:         placed,
		OrdersCancelled:      cancelled,
		PlacementFailures:    placementFailures,
		CancellationFailures: cancellationFailures,
		PollFailures:         pollFailures,
		SuccessRate:          successRate,
		OpenOrders:           openOrders,
		BookAvailable:        bookAvailable,
	}
}
