// Package types defines shared types used across the execution system.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or leg.
type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side, used to derive closing legs.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return s
	}
}

// IsValid reports whether the side is one of the two known values.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide parses "buy"/"sell" (case-sensitive lowercase, as used in
// structure files) into a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Leg is one instrument's intended trade within a multi-leg structure.
//
// Qty is an unsigned magnitude; Side carries the direction. StartPosition is
// the signed exchange-reported quantity captured immediately before execution
// begins; fill progress is measured as distance from it.
type Leg struct {
	Instrument    string
	Qty           decimal.Decimal
	Side          Side
	StartPosition decimal.Decimal
}

// Validate checks the leg is executable.
func (l Leg) Validate() error {
	if l.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", ErrInvalidLeg)
	}
	if !l.Side.IsValid() {
		return fmt.Errorf("%w: %s has no side", ErrInvalidLeg, l.Instrument)
	}
	if l.Qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s quantity %s must be positive", ErrInvalidLeg, l.Instrument, l.Qty)
	}
	return nil
}

func (l Leg) String() string {
	return fmt.Sprintf("%s %s %s", l.Side, l.Qty, l.Instrument)
}

// Orderbook is a top-of-book snapshot for one instrument.
type Orderbook struct {
	Instrument string
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	Mark       decimal.Decimal // zero when the venue does not publish one
	Timestamp  time.Time
}

// Valid reports whether both sides of the book are quoted.
func (o Orderbook) Valid() bool {
	return o.BestBid.GreaterThan(decimal.Zero) && o.BestAsk.GreaterThan(decimal.Zero)
}

// Mid returns the bid/ask midpoint.
func (o Orderbook) Mid() decimal.Decimal {
	return o.BestBid.Add(o.BestAsk).Div(decimal.NewFromInt(2))
}

// HasMark reports whether the venue supplied a mark price.
func (o Orderbook) HasMark() bool {
	return o.Mark.GreaterThan(decimal.Zero)
}

// Fill records one detected fill event, used for VWAP and cost accounting.
type Fill struct {
	Instrument string
	Side       Side
	Qty        decimal.Decimal
	Price      decimal.Decimal
	Time       time.Time
}

// Notional returns the fill's notional value (always positive).
func (f Fill) Notional() decimal.Decimal {
	return f.Qty.Mul(f.Price)
}

// SignedCost returns the cash flow of the fill: positive when we paid
// (buy), negative when we received (sell).
func (f Fill) SignedCost() decimal.Decimal {
	if f.Side == SideSell {
		return f.Notional().Neg()
	}
	return f.Notional()
}
