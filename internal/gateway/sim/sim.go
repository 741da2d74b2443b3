// Package sim provides a deterministic simulated exchange gateway.
//
// Fills are surfaced the same way the live venue surfaces them: through
// position quantity polling. A resting passive order fills after the
// instrument's position has been polled a configurable number of times; a
// marketable order (buy at or above the ask, sell at or below the bid) fills
// immediately at the touch. Instruments marked never-fill accept orders but
// never execute them, which is how shortfall scenarios are scripted.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/gateway"
	"github.com/quangdv/optionsbot/internal/types"
)

// Gateway implements gateway.Gateway against an in-memory exchange.
type Gateway struct {
	logger *slog.Logger

	mu        sync.Mutex
	books     map[string]types.Orderbook
	positions map[string]decimal.Decimal
	pnl       map[string]decimal.Decimal
	orders    map[string]*gateway.Order
	orderSeq  int64

	// Fill model.
	passiveFillPolls int
	neverFill        map[string]bool
	polls            map[string]int
	placedAtPoll     map[string]int

	fills     []types.Fill
	placed    int
	cancelled int
}

// New creates a simulated gateway. Passive orders fill after two position
// polls by default.
func New(logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		logger:           logger,
		books:            make(map[string]types.Orderbook),
		positions:        make(map[string]decimal.Decimal),
		pnl:              make(map[string]decimal.Decimal),
		orders:           make(map[string]*gateway.Order),
		neverFill:        make(map[string]bool),
		polls:            make(map[string]int),
		placedAtPoll:     make(map[string]int),
		passiveFillPolls: 2,
	}
}

// SetOrderbook installs a top-of-book snapshot for an instrument.
func (g *Gateway) SetOrderbook(instrument string, bid, ask, mark decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.books[instrument] = types.Orderbook{
		Instrument: instrument,
		BestBid:    bid,
		BestAsk:    ask,
		Mark:       mark,
		Timestamp:  time.Now(),
	}
}

// SetPosition seeds the signed position quantity for an instrument.
func (g *Gateway) SetPosition(instrument string, qty decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[instrument] = qty
}

// SetUnrealizedPnL seeds the unrealized PnL reported by GetPositions.
func (g *Gateway) SetUnrealizedPnL(instrument string, pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pnl[instrument] = pnl
}

// SetPassiveFillPolls sets how many position polls a resting passive order
// survives before filling. Negative means passive orders never fill.
func (g *Gateway) SetPassiveFillPolls(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.passiveFillPolls = n
}

// SetNeverFill marks an instrument as unfillable: orders rest forever.
func (g *Gateway) SetNeverFill(instrument string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.neverFill[instrument] = true
}

// PlaceLimitOrder accepts a limit order. Marketable orders fill immediately
// at the touch; passive orders rest until swept by the fill model.
func (g *Gateway) PlaceLimitOrder(ctx context.Context, instrument string, side types.Side, qty, price decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if qty.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("%w: qty=%s price=%s", types.ErrOrderRejected, qty, price)
	}

	g.orderSeq++
	now := time.Now()
	order := &gateway.Order{
		OrderID:    fmt.Sprintf("sim-%d", g.orderSeq),
		Instrument: instrument,
		Side:       side,
		Qty:        qty,
		Price:      price,
		State:      gateway.OrderOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	g.orders[order.OrderID] = order
	g.placedAtPoll[order.OrderID] = g.polls[instrument]
	g.placed++

	if !g.neverFill[instrument] {
		if book, ok := g.books[instrument]; ok && book.Valid() && g.isMarketable(order, book) {
			g.fill(order, g.touchPrice(order, book))
		}
	}
	return order.OrderID, nil
}

// CancelOrder cancels a resting order. Cancelling an order that already
// reached a final state returns ErrAlreadyResolved.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	if order.State.IsFinal() {
		return fmt.Errorf("%w: %s is %s", types.ErrAlreadyResolved, orderID, order.State)
	}
	order.State = gateway.OrderCancelled
	order.UpdatedAt = time.Now()
	g.cancelled++
	return nil
}

// GetOrderStatus returns a copy of the order.
func (g *Gateway) GetOrderStatus(ctx context.Context, orderID string) (*gateway.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	cp := *order
	return &cp, nil
}

// GetOrderbook returns the installed snapshot for an instrument.
func (g *Gateway) GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	book, ok := g.books[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNoMarketData, instrument)
	}
	cp := book
	return &cp, nil
}

// GetPositionQuantity returns the signed position quantity. Each poll
// advances the fill model: resting passive orders for the instrument fill
// once they have survived the configured number of polls.
func (g *Gateway) GetPositionQuantity(ctx context.Context, instrument string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.polls[instrument]++
	g.sweep(instrument)
	return g.positions[instrument], nil
}

// GetPositions returns all nonzero positions.
func (g *Gateway) GetPositions(ctx context.Context) ([]gateway.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []gateway.Position
	for instrument, qty := range g.positions {
		if qty.IsZero() {
			continue
		}
		pos := gateway.Position{
			Instrument:    instrument,
			Qty:           qty,
			UnrealizedPnL: g.pnl[instrument],
		}
		if book, ok := g.books[instrument]; ok {
			pos.MarkPrice = book.Mark
		}
		out = append(out, pos)
	}
	return out, nil
}

// OpenOrders returns copies of all non-final orders for an instrument.
func (g *Gateway) OpenOrders(instrument string) []gateway.Order {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []gateway.Order
	for _, o := range g.orders {
		if o.Instrument == instrument && !o.State.IsFinal() {
			out = append(out, *o)
		}
	}
	return out
}

// Fills returns all recorded fills in order.
func (g *Gateway) Fills() []types.Fill {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.Fill, len(g.fills))
	copy(out, g.fills)
	return out
}

// PlacedCount returns the total number of orders accepted.
func (g *Gateway) PlacedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placed
}

// CancelCount returns the total number of successful cancels.
func (g *Gateway) CancelCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// sweep fills resting orders that have survived enough polls. Caller holds
// the lock.
func (g *Gateway) sweep(instrument string) {
	if g.passiveFillPolls < 0 || g.neverFill[instrument] {
		return
	}
	for _, o := range g.orders {
		if o.Instrument != instrument || o.State.IsFinal() {
			continue
		}
		if g.polls[instrument]-g.placedAtPoll[o.OrderID] >= g.passiveFillPolls {
			g.fill(o, o.Price)
		}
	}
}

// fill executes the full remaining quantity at price. Caller holds the lock.
func (g *Gateway) fill(o *gateway.Order, price decimal.Decimal) {
	qty := o.Remaining()
	if qty.LessThanOrEqual(decimal.Zero) {
		return
	}
	signed := qty
	if o.Side == types.SideSell {
		signed = qty.Neg()
	}
	g.positions[o.Instrument] = g.positions[o.Instrument].Add(signed)

	o.FilledQty = o.Qty
	o.AvgPrice = price
	o.State = gateway.OrderFilled
	o.UpdatedAt = time.Now()

	g.fills = append(g.fills, types.Fill{
		Instrument: o.Instrument,
		Side:       o.Side,
		Qty:        qty,
		Price:      price,
		Time:       o.UpdatedAt,
	})
	g.logger.Debug("sim fill",
		"instrument", o.Instrument,
		"side", o.Side,
		"qty", qty,
		"price", price,
		"position", g.positions[o.Instrument],
	)
}

func (g *Gateway) isMarketable(o *gateway.Order, book types.Orderbook) bool {
	if o.Side == types.SideBuy {
		return o.Price.GreaterThanOrEqual(book.BestAsk)
	}
	return o.Price.LessThanOrEqual(book.BestBid)
}

func (g *Gateway) touchPrice(o *gateway.Order, book types.Orderbook) decimal.Decimal {
	if o.Side == types.SideBuy {
		return book.BestAsk
	}
	return book.BestBid
}
