// Package gateway defines the exchange connectivity boundary.
//
// The execution engine only ever talks to the exchange through the Gateway
// interface, so it can be driven against the live venue or a deterministic
// simulation (see the sim subpackage) without changes.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

// OrderState represents the exchange-side state of an order.
type OrderState string

const (
	OrderOpen      OrderState = "open"
	OrderFilled    OrderState = "filled"
	OrderCancelled OrderState = "cancelled"
	OrderRejected  OrderState = "rejected"
)

// IsFinal reports whether the order can no longer fill.
func (s OrderState) IsFinal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}

// Order is the exchange's view of a limit order.
type Order struct {
	OrderID    string
	Instrument string
	Side       types.Side
	Qty        decimal.Decimal
	Price      decimal.Decimal
	FilledQty  decimal.Decimal
	AvgPrice   decimal.Decimal
	State      OrderState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	r := o.Qty.Sub(o.FilledQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Position is the exchange's view of a held position.
type Position struct {
	Instrument    string
	Qty           decimal.Decimal // signed: positive long, negative short
	AvgPrice      decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Gateway is the injected exchange capability.
//
// Position quantity polling is the authoritative fill signal; order status is
// consulted only opportunistically. CancelOrder returns ErrAlreadyResolved
// when the order filled or was cancelled before the request landed; callers
// treat that as success and re-derive truth from the position quantity.
type Gateway interface {
	PlaceLimitOrder(ctx context.Context, instrument string, side types.Side, qty, price decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (*Order, error)
	GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error)
	GetPositionQuantity(ctx context.Context, instrument string) (decimal.Decimal, error)
	GetPositions(ctx context.Context) ([]Position, error)
}
