// Package persistence stores execution reports and closed trades.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

// Repository defines the interface for run and trade persistence.
type Repository interface {
	// Execution run operations
	SaveExecution(ctx context.Context, record ExecutionRecord) error
	GetExecution(ctx context.Context, runID string) (*ExecutionRecord, error)
	GetExecutions(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error)

	// Trade operations
	SaveTrade(ctx context.Context, record TradeRecord) error
	GetTrade(ctx context.Context, tradeID string) (*TradeRecord, error)
	GetTrades(ctx context.Context, from, to time.Time) ([]TradeRecord, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// ExecutionRecord is a persisted execution run summary with its per-leg
// outcomes.
type ExecutionRecord struct {
	RunID           string
	StartedAt       time.Time
	Success         bool
	Aborted         bool
	ChunksPlanned   int
	ChunksCompleted int
	FallbackCount   int
	TotalCost       decimal.Decimal
	ExecutionTime   time.Duration
	Legs            []LegFillRecord
}

// LegFillRecord is one leg's persisted outcome within an execution run.
type LegFillRecord struct {
	Instrument string
	Side       types.Side
	TargetQty  decimal.Decimal
	FilledQty  decimal.Decimal
	AvgPrice   decimal.Decimal
}

// TradeRecord is a persisted lifecycle trade.
type TradeRecord struct {
	TradeID    string
	Label      string
	State      string
	OpenedAt   time.Time
	ClosedAt   time.Time
	OpenCost   decimal.Decimal
	CloseCost  decimal.Decimal
	RealizedPL decimal.Decimal
	ExitReason string
	OpenRunID  string
	CloseRunID string
}
