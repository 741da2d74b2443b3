// Package deribit provides Deribit connectivity implementing the exchange
// gateway interface.
package deribit

import "time"

// Config holds Deribit connection configuration.
type Config struct {
	// Endpoints
	BaseURL string
	WSURL   string

	// Credentials
	APIKey    string
	APISecret string

	// Timeouts
	RequestTimeout time.Duration

	// Rate limiting
	MaxRequestsPerSecond int

	// Orderbook cache
	BookStaleAfter time.Duration
}

// DefaultConfig returns default testnet configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:              "https://test.deribit.com",
		WSURL:                "wss://test.deribit.com/ws/api/v2",
		RequestTimeout:       10 * time.Second,
		MaxRequestsPerSecond: 10,
		BookStaleAfter:       5 * time.Second,
	}
}

// LiveConfig returns configuration for the production venue.
func LiveConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://www.deribit.com"
	cfg.WSURL = "wss://www.deribit.com/ws/api/v2"
	return cfg
}
