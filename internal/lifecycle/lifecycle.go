// Package lifecycle manages multi-leg option trades from open to close:
// state tracking, exit condition evaluation, and execution routing by
// notional size.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

// State is the lifecycle state of a trade.
type State string

const (
	StatePendingOpen  State = "pending_open"
	StateOpening      State = "opening"
	StateOpen         State = "open"
	StatePendingClose State = "pending_close"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// IsTerminal reports whether the trade can no longer change state.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// CanTransition reports whether the state may move to target.
func (s State) CanTransition(target State) bool {
	switch s {
	case StatePendingOpen:
		return target == StateOpening || target == StateFailed
	case StateOpening:
		return target == StateOpen || target == StateFailed
	case StateOpen:
		return target == StatePendingClose
	case StatePendingClose:
		return target == StateClosing || target == StateFailed
	case StateClosing:
		return target == StateClosed || target == StateFailed
	default:
		return false
	}
}

// Snapshot is the market view a trade's exit conditions are evaluated
// against.
type Snapshot struct {
	Time         time.Time
	StructurePnL decimal.Decimal // unrealized PnL summed over the trade's legs
	OpenCost     decimal.Decimal // signed cash flow paid to open
	OpenedAt     time.Time
}

// ExitCondition decides whether an open trade should be closed. Name becomes
// the trade's exit reason when the condition fires.
type ExitCondition struct {
	Name  string
	Check func(Snapshot) bool
}

// costBasis is the magnitude percentage-based exits measure against. Credit
// structures have a negative open cost, so the sign is dropped.
func costBasis(s Snapshot) decimal.Decimal {
	return s.OpenCost.Abs()
}

// ProfitTarget closes the trade once unrealized PnL reaches pct percent of
// the open cost.
func ProfitTarget(pct decimal.Decimal) ExitCondition {
	return ExitCondition{
		Name: "profit_target",
		Check: func(s Snapshot) bool {
			basis := costBasis(s)
			if basis.IsZero() {
				return false
			}
			return s.StructurePnL.GreaterThanOrEqual(basis.Mul(pct).Div(decimal.NewFromInt(100)))
		},
	}
}

// MaxLoss closes the trade once unrealized PnL falls to -pct percent of the
// open cost.
func MaxLoss(pct decimal.Decimal) ExitCondition {
	return ExitCondition{
		Name: "max_loss",
		Check: func(s Snapshot) bool {
			basis := costBasis(s)
			if basis.IsZero() {
				return false
			}
			return s.StructurePnL.LessThanOrEqual(basis.Mul(pct).Div(decimal.NewFromInt(100)).Neg())
		},
	}
}

// MaxHold closes the trade once it has been open for the given duration.
func MaxHold(d time.Duration) ExitCondition {
	return ExitCondition{
		Name: "max_hold",
		Check: func(s Snapshot) bool {
			return !s.OpenedAt.IsZero() && s.Time.Sub(s.OpenedAt) >= d
		},
	}
}

// Trade is one multi-leg structure moving through the lifecycle.
type Trade struct {
	ID       string
	Label    string
	State    State
	OpenLegs []types.Leg
	Exits    []ExitCondition

	CreatedAt time.Time
	OpenedAt  time.Time
	ClosedAt  time.Time

	OpenCost   decimal.Decimal
	CloseCost  decimal.Decimal
	ExitReason string
	OpenRunID  string
	CloseRunID string
}

// CloseLegs derives the closing structure: the open legs with every side
// reversed.
func (t *Trade) CloseLegs() []types.Leg {
	out := make([]types.Leg, len(t.OpenLegs))
	for i, leg := range t.OpenLegs {
		out[i] = types.Leg{
			Instrument: leg.Instrument,
			Qty:        leg.Qty,
			Side:       leg.Side.Opposite(),
		}
	}
	return out
}

// Transition moves the trade to the target state, rejecting transitions the
// lifecycle does not allow.
func (t *Trade) Transition(target State) error {
	if !t.State.CanTransition(target) {
		return fmt.Errorf("%w: trade %s %s -> %s", types.ErrInvalidTransition, t.ID, t.State, target)
	}
	t.State = target
	return nil
}

// RealizedPL is the trade's cash result after closing: the negated sum of
// the open and close cash flows (cost paid is positive, premium received is
// negative).
func (t *Trade) RealizedPL() decimal.Decimal {
	return t.OpenCost.Add(t.CloseCost).Neg()
}

// Instruments returns the distinct instruments the trade touches.
func (t *Trade) Instruments() []string {
	seen := make(map[string]bool, len(t.OpenLegs))
	var out []string
	for _, leg := range t.OpenLegs {
		if !seen[leg.Instrument] {
			seen[leg.Instrument] = true
			out = append(out, leg.Instrument)
		}
	}
	return out
}
