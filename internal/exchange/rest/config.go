package rest

import (
	"fmt"
	"time"

	"github.com/openkeeper/keeper/internal/types"
)

// Config holds REST exchange client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://api.exchange.example.
	BaseURL string

	// APIKey and APISecret authenticate requests. Every request carries
	// the key and an HMAC signature derived from the secret.
	APIKey    string
	APISecret string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// RateLimitPerSecond caps outgoing requests. The limiter blocks a
	// call until a slot is available.
	RateLimitPerSecond float64

	// RetryCount is how many times idempotent requests are retried on
	// transport errors and 5xx responses.
	RetryCount int
}

// DefaultConfig returns default REST client config.
func DefaultConfig() Config {
	return Config{
		Timeout:            30 * time.Second,
		RateLimitPerSecond: 5,
		RetryCount:         2,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: rest exchange base_url is required", types.ErrInvalidConfig)
	}
	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("%w: rest exchange api_key and api_secret are required", types.ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: rest exchange timeout must be positive", types.ErrInvalidConfig)
	}
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("%w: rest exchange rate limit must be positive", types.ErrInvalidConfig)
	}
	return nil
}
