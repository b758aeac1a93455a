package types

import "errors"

// Sentinel errors for the keeper.
var (
	// Order book manager errors
	ErrBookUnavailable = errors.New("order book not yet available")
	ErrAlreadyRunning  = errors.New("manager already running")
	ErrNotRunning      = errors.New("manager not running")
	ErrNoOrdersSource  = errors.New("no open orders source configured")

	// Exchange errors
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderRejected  = errors.New("order rejected by exchange")
	ErrRateLimited    = errors.New("rate limited by exchange")
	ErrExchangeDown   = errors.New("exchange unavailable")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidOrder  = errors.New("invalid order")
)
