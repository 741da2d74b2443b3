package exec

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/gateway"
)

// ChunkFill converts a polled position quantity into the quantity filled
// within the current chunk.
//
// The fill is the unsigned distance of the current position from the
// starting snapshot, capped at the chunk target. It must never be computed
// as a directional subtraction: an unwind shrinks the position, so
// current-start is negative for the entire close and a clamped signed delta
// would read zero until the time budget expires. The cap keeps fills placed
// by other actors on the same account from being attributed to this run.
func ChunkFill(start, current, target decimal.Decimal) decimal.Decimal {
	filled := current.Sub(start).Abs()
	if filled.GreaterThan(target) {
		return target
	}
	return filled
}

// DeltaTracker measures per-leg fill progress by polling position
// quantities through the gateway.
type DeltaTracker struct {
	gw gateway.Gateway
}

// NewDeltaTracker creates a tracker backed by the given gateway.
func NewDeltaTracker(gw gateway.Gateway) *DeltaTracker {
	return &DeltaTracker{gw: gw}
}

// Filled returns how much of target has filled for the instrument since the
// start snapshot was taken.
func (t *DeltaTracker) Filled(ctx context.Context, instrument string, start, target decimal.Decimal) (decimal.Decimal, error) {
	current, err := t.gw.GetPositionQuantity(ctx, instrument)
	if err != nil {
		return decimal.Zero, err
	}
	return ChunkFill(start, current, target), nil
}
