package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StatePendingOpen, StateOpening, true},
		{StatePendingOpen, StateFailed, true},
		{StateOpening, StateOpen, true},
		{StateOpening, StateFailed, true},
		{StateOpen, StatePendingClose, true},
		{StatePendingClose, StateClosing, true},
		{StateClosing, StateClosed, true},
		{StateClosing, StateFailed, true},
		{StatePendingOpen, StateOpen, false},
		{StateOpen, StateClosed, false},
		{StateClosed, StateOpening, false},
		{StateFailed, StatePendingOpen, false},
	}
	for _, tt := range tests {
		trade := &Trade{ID: "t", State: tt.from}
		err := trade.Transition(tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, types.ErrInvalidTransition) {
			t.Errorf("%s -> %s: got %v, want ErrInvalidTransition", tt.from, tt.to, err)
		}
	}
}

func TestCloseLegsReverseSides(t *testing.T) {
	trade := &Trade{OpenLegs: []types.Leg{
		{Instrument: "a", Qty: d("0.2"), Side: types.SideBuy},
		{Instrument: "b", Qty: d("0.4"), Side: types.SideSell},
	}}

	closeLegs := trade.CloseLegs()
	if closeLegs[0].Side != types.SideSell || closeLegs[1].Side != types.SideBuy {
		t.Errorf("close legs = %v, want reversed sides", closeLegs)
	}
	if !closeLegs[0].Qty.Equal(d("0.2")) || !closeLegs[1].Qty.Equal(d("0.4")) {
		t.Errorf("close legs = %v, want same quantities", closeLegs)
	}
	// Original legs untouched.
	if trade.OpenLegs[0].Side != types.SideBuy {
		t.Error("CloseLegs mutated the open legs")
	}
}

func TestRealizedPL(t *testing.T) {
	// Paid 0.02 to open, received 0.025 closing: +0.005 profit.
	trade := &Trade{OpenCost: d("0.02"), CloseCost: d("-0.025")}
	if !trade.RealizedPL().Equal(d("0.005")) {
		t.Errorf("RealizedPL = %s, want 0.005", trade.RealizedPL())
	}

	// Credit structure: received 0.03 opening, paid 0.01 to close back.
	credit := &Trade{OpenCost: d("-0.03"), CloseCost: d("0.01")}
	if !credit.RealizedPL().Equal(d("0.02")) {
		t.Errorf("RealizedPL = %s, want 0.02", credit.RealizedPL())
	}
}

func TestProfitTarget(t *testing.T) {
	cond := ProfitTarget(d("50"))

	snap := Snapshot{OpenCost: d("0.02"), StructurePnL: d("0.009")}
	if cond.Check(snap) {
		t.Error("45% gain should not trigger a 50% target")
	}
	snap.StructurePnL = d("0.01")
	if !cond.Check(snap) {
		t.Error("50% gain should trigger")
	}

	// Zero basis never triggers.
	if cond.Check(Snapshot{StructurePnL: d("1")}) {
		t.Error("zero open cost must not trigger percentage exits")
	}
}

func TestMaxLoss(t *testing.T) {
	cond := MaxLoss(d("30"))

	snap := Snapshot{OpenCost: d("0.02"), StructurePnL: d("-0.005")}
	if cond.Check(snap) {
		t.Error("25% loss should not trigger a 30% stop")
	}
	snap.StructurePnL = d("-0.006")
	if !cond.Check(snap) {
		t.Error("30% loss should trigger")
	}
	// Credit structures use the absolute open cost as basis.
	if !cond.Check(Snapshot{OpenCost: d("-0.02"), StructurePnL: d("-0.006")}) {
		t.Error("credit structure stop should trigger on absolute basis")
	}
}

func TestMaxHold(t *testing.T) {
	cond := MaxHold(4 * time.Hour)
	now := time.Now()

	if cond.Check(Snapshot{Time: now, OpenedAt: now.Add(-3 * time.Hour)}) {
		t.Error("3h hold should not trigger a 4h limit")
	}
	if !cond.Check(Snapshot{Time: now, OpenedAt: now.Add(-5 * time.Hour)}) {
		t.Error("5h hold should trigger")
	}
	if cond.Check(Snapshot{Time: now}) {
		t.Error("unopened trade must not trigger max hold")
	}
}

func TestInstrumentsDeduplicates(t *testing.T) {
	trade := &Trade{OpenLegs: []types.Leg{
		{Instrument: "a", Qty: d("1"), Side: types.SideBuy},
		{Instrument: "b", Qty: d("1"), Side: types.SideSell},
		{Instrument: "a", Qty: d("1"), Side: types.SideBuy},
	}}
	got := trade.Instruments()
	if len(got) != 2 {
		t.Errorf("Instruments = %v, want 2 distinct", got)
	}
}
