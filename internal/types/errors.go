package types

import "errors"

// Sentinel errors for the execution system.
var (
	// Configuration errors: surfaced before any order is placed.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidLeg    = errors.New("invalid leg")
	ErrInvalidSide   = errors.New("invalid side")
	ErrNoLegs        = errors.New("no legs to execute")

	// Gateway errors.
	ErrOrderRejected   = errors.New("order rejected by exchange")
	ErrOrderNotFound   = errors.New("order not found")
	ErrAlreadyResolved = errors.New("order already filled or cancelled")
	ErrNoMarketData    = errors.New("market data unavailable")

	// Run errors.
	ErrRunAborted = errors.New("execution run aborted")

	// State errors.
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTradeNotFound     = errors.New("trade not found")
)
