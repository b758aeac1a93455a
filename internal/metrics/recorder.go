package metrics

import "time"

// Recorder provides methods for recording keeper metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordRefresh records the outcome of an order book refresh cycle.
func (r *Recorder) RecordRefresh(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	BookRefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordBookAvailable records whether the order book snapshot exists.
func (r *Recorder) RecordBookAvailable(available bool) {
	if available {
		BookAvailable.Set(1)
	} else {
		BookAvailable.Set(0)
	}
}

// RecordOpenOrders records the open order count from the last poll.
func (r *Recorder) RecordOpenOrders(n int) {
	OpenOrders.Set(float64(n))
}

// RecordPendingOperations records in-flight placement and cancellation counts.
func (r *Recorder) RecordPendingOperations(placing, cancelling int) {
	PendingPlacements.Set(float64(placing))
	PendingCancellations.Set(float64(cancelling))
}

// RecordPlacement records an order placement outcome.
func (r *Recorder) RecordPlacement(outcome string) {
	OrderPlacementsTotal.WithLabelValues(outcome).Inc()
}

// RecordCancellation records an order cancellation outcome.
func (r *Recorder) RecordCancellation(outcome string) {
	OrderCancellationsTotal.WithLabelValues(outcome).Inc()
}

// RecordHeartbeat records a keeper heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordError records an error by type.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveRefresh observes the elapsed time as refresh duration.
func (t *Timer) ObserveRefresh() {
	BookRefreshDuration.Observe(t.Elapsed().Seconds())
}
