// Package exec implements smart multi-leg orderbook execution: proportional
// chunking, continuous passive quoting with repricing, and an aggressive
// spread-crossing fallback, with fill progress derived from position deltas.
package exec

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

// QuoteStrategy selects how passive quote prices are computed.
type QuoteStrategy string

const (
	// QuoteTopOfBook joins the touch: best bid for buys, best ask for sells.
	QuoteTopOfBook QuoteStrategy = "top_of_book"
	// QuoteTopOfBookOffset moves the touch price away from the spread by
	// SpreadPct, quoting more passively than the touch.
	QuoteTopOfBookOffset QuoteStrategy = "top_of_book_offset_pct"
	// QuoteMid quotes the bid/ask midpoint.
	QuoteMid QuoteStrategy = "mid"
	// QuoteMark quotes the venue mark price, falling back to mid when the
	// venue does not publish one.
	QuoteMark QuoteStrategy = "mark"
)

// minRepriceInterval bounds the order-placement rate during quoting.
const minRepriceInterval = 10 * time.Second

// Config is the immutable configuration for one execution run.
type Config struct {
	// ChunkCount is the number of proportional chunks the structure is
	// split into.
	ChunkCount int

	// TimePerChunk is the passive quoting budget per chunk.
	TimePerChunk time.Duration

	// Strategy selects the passive quote pricing.
	Strategy QuoteStrategy

	// SpreadPct is the offset percentage for QuoteTopOfBookOffset.
	SpreadPct decimal.Decimal

	// RepriceInterval is the minimum time between reprices of one leg.
	RepriceInterval time.Duration

	// RepriceThreshold is the minimum absolute price move that justifies a
	// cancel-and-replace.
	RepriceThreshold decimal.Decimal

	// MinOrderQty is the venue's minimum order increment. Remainders below
	// it are not quoted and do not count against success.
	MinOrderQty decimal.Decimal

	// AggressiveAttempts bounds the spread-crossing fallback rounds.
	AggressiveAttempts int

	// AggressiveWait is the per-attempt wait for fills.
	AggressiveWait time.Duration

	// AggressivePause is the pause between fallback attempts.
	AggressivePause time.Duration

	// MaxSlippagePct optionally caps the aggressive crossing price relative
	// to the midpoint. Zero leaves the marketable limit uncapped.
	MaxSlippagePct decimal.Decimal

	// PollInterval is the fill/market polling cadence.
	PollInterval time.Duration
}

// DefaultConfig returns the standard execution tuning.
func DefaultConfig() Config {
	return Config{
		ChunkCount:         5,
		TimePerChunk:       10 * time.Minute,
		Strategy:           QuoteTopOfBook,
		SpreadPct:          decimal.RequireFromString("0.5"),
		RepriceInterval:    10 * time.Second,
		RepriceThreshold:   decimal.RequireFromString("0.1"),
		MinOrderQty:        decimal.RequireFromString("0.01"),
		AggressiveAttempts: 10,
		AggressiveWait:     5 * time.Second,
		AggressivePause:    1 * time.Second,
		PollInterval:       500 * time.Millisecond,
	}
}

// Validate rejects configurations that must not reach the exchange.
func (c Config) Validate() error {
	if c.ChunkCount < 1 {
		return fmt.Errorf("%w: chunk_count %d must be >= 1", types.ErrInvalidConfig, c.ChunkCount)
	}
	if c.TimePerChunk <= 0 {
		return fmt.Errorf("%w: time_per_chunk must be positive", types.ErrInvalidConfig)
	}
	if c.AggressiveWait <= 0 {
		return fmt.Errorf("%w: aggressive_wait must be positive", types.ErrInvalidConfig)
	}
	if c.AggressivePause < 0 {
		return fmt.Errorf("%w: aggressive_pause must not be negative", types.ErrInvalidConfig)
	}
	if c.MinOrderQty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: min_order_qty must be positive", types.ErrInvalidConfig)
	}
	return nil
}

// normalized clamps soft tunables to safe values, logging each adjustment.
// Hard errors are Validate's concern; these are operator conveniences
// carried over from long-running production use.
func (c Config) normalized(logger *slog.Logger) Config {
	switch c.Strategy {
	case QuoteTopOfBook, QuoteTopOfBookOffset, QuoteMid, QuoteMark:
	default:
		logger.Warn("unknown quote strategy, defaulting to top_of_book", "strategy", c.Strategy)
		c.Strategy = QuoteTopOfBook
	}
	if c.RepriceInterval < minRepriceInterval {
		logger.Warn("reprice interval below floor, clamping",
			"interval", c.RepriceInterval,
			"floor", minRepriceInterval,
		)
		c.RepriceInterval = minRepriceInterval
	}
	if c.RepriceThreshold.LessThanOrEqual(decimal.Zero) {
		logger.Warn("reprice threshold must be positive, defaulting to 0.1")
		c.RepriceThreshold = decimal.RequireFromString("0.1")
	}
	if c.AggressiveAttempts < 1 {
		logger.Warn("aggressive attempts must be >= 1, defaulting to 1")
		c.AggressiveAttempts = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}
