package exec

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

// Phase is the execution phase of one chunk.
type Phase int

const (
	PhaseQuoting Phase = iota
	PhaseFallback
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseQuoting:
		return "quoting"
	case PhaseFallback:
		return "fallback"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether the phase may move to target. Completed is
// terminal; quoting may either fall back or complete directly.
func (p Phase) CanTransition(target Phase) bool {
	switch p {
	case PhaseQuoting:
		return target == PhaseFallback || target == PhaseCompleted
	case PhaseFallback:
		return target == PhaseCompleted
	default:
		return false
	}
}

// fillTolerance marks a leg filled once 99% of its chunk target is reached,
// absorbing venue-side quantity rounding.
var fillTolerance = decimal.RequireFromString("0.99")

// LegState is the mutable per-leg, per-chunk execution state.
type LegState struct {
	Instrument    string
	Side          types.Side
	TargetQty     decimal.Decimal
	FilledQty     decimal.Decimal
	StartPosition decimal.Decimal

	// Currently-open order, if any.
	OrderID    string
	OrderPrice decimal.Decimal
	QuotedAt   time.Time
}

// RemainingQty is the unfilled quantity for this chunk.
func (l *LegState) RemainingQty() decimal.Decimal {
	r := l.TargetQty.Sub(l.FilledQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Filled reports whether this chunk's target is met for the leg.
func (l *LegState) Filled() bool {
	return l.FilledQty.GreaterThanOrEqual(l.TargetQty.Mul(fillTolerance))
}

// clearOrder forgets the currently-open order.
func (l *LegState) clearOrder() {
	l.OrderID = ""
	l.OrderPrice = decimal.Zero
}

// ChunkState is the state machine instance for one chunk.
type ChunkState struct {
	Index     int
	StartedAt time.Time
	Phase     Phase
	Legs      []*LegState
}

// newChunkState builds the per-leg state for one chunk. Starting positions
// are filled in by the caller before quoting begins.
func newChunkState(chunk Chunk) *ChunkState {
	cs := &ChunkState{
		Index:     chunk.Index,
		StartedAt: time.Now(),
		Phase:     PhaseQuoting,
	}
	for _, leg := range chunk.Legs {
		cs.Legs = append(cs.Legs, &LegState{
			Instrument: leg.Instrument,
			Side:       leg.Side,
			TargetQty:  leg.Qty,
		})
	}
	return cs
}

// Transition moves the chunk to the target phase, rejecting transitions the
// state machine does not allow.
func (c *ChunkState) Transition(target Phase) error {
	if !c.Phase.CanTransition(target) {
		return fmt.Errorf("%w: chunk %d %s -> %s", types.ErrInvalidTransition, c.Index, c.Phase, target)
	}
	c.Phase = target
	return nil
}

// AllFilled reports whether every leg met its chunk target.
func (c *ChunkState) AllFilled() bool {
	for _, leg := range c.Legs {
		if !leg.Filled() {
			return false
		}
	}
	return true
}

// UnfilledLegs returns legs still short of their chunk target with a
// fillable remainder.
func (c *ChunkState) UnfilledLegs(minQty decimal.Decimal) []*LegState {
	var out []*LegState
	for _, leg := range c.Legs {
		if !leg.Filled() && leg.RemainingQty().GreaterThanOrEqual(minQty) {
			out = append(out, leg)
		}
	}
	return out
}

// Elapsed is the time since the chunk started.
func (c *ChunkState) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}
