package exec

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

// LegResult summarizes one leg's outcome over the whole run.
type LegResult struct {
	Instrument string
	Side       types.Side
	TargetQty  decimal.Decimal
	FilledQty  decimal.Decimal
	AvgPrice   decimal.Decimal // volume-weighted, zero when nothing filled
}

// Shortfall is the quantity the leg ended short of its target, never
// negative.
func (l LegResult) Shortfall() decimal.Decimal {
	s := l.TargetQty.Sub(l.FilledQty)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// Result is the immutable summary of one execution run. It is always
// produced, including for partial and aborted runs.
type Result struct {
	RunID           string
	Success         bool
	ChunksPlanned   int
	ChunksCompleted int
	Legs            []LegResult
	TotalCost       decimal.Decimal // positive = paid, negative = received
	ExecutionTime   time.Duration
	FallbackCount   int
	Aborted         bool
	Trace           []string
}

// Leg returns the result for an instrument, or nil if the run had no such
// leg.
func (r *Result) Leg(instrument string) *LegResult {
	for i := range r.Legs {
		if r.Legs[i].Instrument == instrument {
			return &r.Legs[i]
		}
	}
	return nil
}

// Summary renders a one-line human-readable outcome.
func (r *Result) Summary() string {
	status := "partial"
	if r.Success {
		status = "filled"
	}
	if r.Aborted {
		status = "aborted"
	}
	return fmt.Sprintf("%s: %d/%d chunks, %d fallbacks, cost %s, %s",
		status,
		r.ChunksCompleted,
		r.ChunksPlanned,
		r.FallbackCount,
		r.TotalCost.StringFixed(4),
		r.ExecutionTime.Round(time.Millisecond),
	)
}

// Report renders the full multi-line execution report.
func (r *Result) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s\n", r.RunID, r.Summary())
	for _, leg := range r.Legs {
		fmt.Fprintf(&b, "  %-5s %-28s filled %s/%s avg %s\n",
			leg.Side,
			leg.Instrument,
			leg.FilledQty,
			leg.TargetQty,
			leg.AvgPrice.StringFixed(4),
		)
	}
	for _, line := range r.Trace {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return b.String()
}

// vwap computes the volume-weighted average price of the fills for one
// instrument. Fills with no recorded price are excluded from the weighting.
func vwap(fills []types.Fill, instrument string) decimal.Decimal {
	totalQty := decimal.Zero
	totalNotional := decimal.Zero
	for _, f := range fills {
		if f.Instrument != instrument || f.Price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		totalQty = totalQty.Add(f.Qty)
		totalNotional = totalNotional.Add(f.Notional())
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalNotional.Div(totalQty)
}

// totalCost sums the signed cash flow of all fills.
func totalCost(fills []types.Fill) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fills {
		total = total.Add(f.SignedCost())
	}
	return total
}
