package exec

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/gateway"
	"github.com/quangdv/optionsbot/internal/metrics"
	"github.com/quangdv/optionsbot/internal/types"
)

// priceFloor keeps quote prices strictly positive when a strategy
// calculation collapses to zero on a degenerate book.
var priceFloor = decimal.RequireFromString("0.0001")

// quoter drives one chunk through passive quoting and, if needed, the
// aggressive fallback. It owns the chunk's orders: every order it places is
// cancelled before the phase ends.
type quoter struct {
	gw     gateway.Gateway
	cfg    Config
	logger *slog.Logger
	rec    *metrics.Recorder
	record func(types.Fill)
}

// runQuoting quotes all unfilled legs passively until every leg fills or the
// chunk time budget expires. It returns true when the aggressive fallback is
// still needed for one or more legs.
func (q *quoter) runQuoting(ctx context.Context, cs *ChunkState) (fallback bool, err error) {
	deadline := time.Now().Add(q.cfg.TimePerChunk)
	q.rec.LegQuoting(len(cs.Legs))
	defer q.rec.LegQuoting(-len(cs.Legs))

	// Whatever ends the phase, no resting order may survive it.
	defer q.cancelAll(ctx, cs)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		q.pollFills(ctx, cs)
		if cs.AllFilled() {
			q.logger.Info("all legs filled within quoting budget",
				"chunk", cs.Index,
				"elapsed", cs.Elapsed().Round(time.Millisecond),
			)
			return false, nil
		}

		if time.Now().After(deadline) {
			q.logger.Info("quoting budget expired",
				"chunk", cs.Index,
				"elapsed", cs.Elapsed().Round(time.Millisecond),
			)
			return true, nil
		}

		q.ensureOrders(ctx, cs)
		q.maybeReprice(ctx, cs)

		if err := sleepCtx(ctx, q.cfg.PollInterval); err != nil {
			return false, err
		}
	}
}

// ensureOrders places a passive order for every unfilled leg that has none.
// Placement failures are not retried inline; the leg is picked up again on
// the next poll tick.
func (q *quoter) ensureOrders(ctx context.Context, cs *ChunkState) {
	for _, leg := range cs.Legs {
		if leg.Filled() || leg.OrderID != "" {
			continue
		}
		if leg.RemainingQty().LessThan(q.cfg.MinOrderQty) {
			continue
		}
		price := q.quotePrice(ctx, leg.Instrument, leg.Side)
		if price.IsZero() {
			continue
		}
		q.placeOrder(ctx, cs, leg, price, "passive")
	}
}

// maybeReprice cancels and replaces a leg's resting order when both the
// reprice interval has elapsed and the strategy price has moved by more than
// the threshold. The interval gate bounds order-placement rate; the
// threshold gate avoids churning orders in a stable market.
func (q *quoter) maybeReprice(ctx context.Context, cs *ChunkState) {
	for _, leg := range cs.Legs {
		if leg.Filled() || leg.OrderID == "" {
			continue
		}
		if time.Since(leg.QuotedAt) < q.cfg.RepriceInterval {
			continue
		}

		newPrice := q.quotePrice(ctx, leg.Instrument, leg.Side)
		if newPrice.IsZero() {
			continue
		}

		if newPrice.Sub(leg.OrderPrice).Abs().LessThanOrEqual(q.cfg.RepriceThreshold) {
			// Price is stable; restart the interval without touching the order.
			leg.QuotedAt = time.Now()
			continue
		}

		q.logger.Info("repricing leg",
			"chunk", cs.Index,
			"instrument", leg.Instrument,
			"old_price", leg.OrderPrice,
			"new_price", newPrice,
		)
		// Cancel must complete (or prove moot) before the replacement goes
		// out, otherwise two live orders could overfill the leg.
		q.cancelLeg(ctx, leg)
		q.placeOrder(ctx, cs, leg, newPrice, "passive")
		q.rec.RecordReprice(leg.Instrument)
	}
}

// pollFills refreshes each leg's fill progress from position deltas and
// cancels the resting order of any leg that just completed, so a filled leg
// is never quoted again within the chunk.
func (q *quoter) pollFills(ctx context.Context, cs *ChunkState) {
	for _, leg := range cs.Legs {
		if leg.Filled() {
			continue
		}
		current, err := q.gw.GetPositionQuantity(ctx, leg.Instrument)
		if err != nil {
			q.logger.Debug("position poll failed", "instrument", leg.Instrument, "err", err)
			continue
		}
		filled := ChunkFill(leg.StartPosition, current, leg.TargetQty)
		if filled.LessThanOrEqual(leg.FilledQty) {
			continue
		}

		gained := filled.Sub(leg.FilledQty)
		leg.FilledQty = filled
		q.recordFill(ctx, leg, gained)
		q.logger.Info("leg fill progress",
			"chunk", cs.Index,
			"instrument", leg.Instrument,
			"filled", leg.FilledQty,
			"target", leg.TargetQty,
			"position", current,
		)

		if leg.Filled() {
			q.cancelLeg(ctx, leg)
		}
	}
}

// recordFill books a fill event at the leg's quoted price, falling back to
// the current midpoint when the fill came from an order we no longer track.
func (q *quoter) recordFill(ctx context.Context, leg *LegState, qty decimal.Decimal) {
	price := leg.OrderPrice
	if price.IsZero() {
		if book, err := q.gw.GetOrderbook(ctx, leg.Instrument); err == nil && book.Valid() {
			price = book.Mid()
		}
	}
	q.record(types.Fill{
		Instrument: leg.Instrument,
		Side:       leg.Side,
		Qty:        qty,
		Price:      price,
		Time:       time.Now(),
	})
}

// placeOrder submits a limit order for the leg's remaining quantity and
// updates the leg's order bookkeeping.
func (q *quoter) placeOrder(ctx context.Context, cs *ChunkState, leg *LegState, price decimal.Decimal, kind string) {
	timer := metrics.NewTimer()
	orderID, err := q.gw.PlaceLimitOrder(ctx, leg.Instrument, leg.Side, leg.RemainingQty(), price)
	q.rec.RecordOrderLatency(timer.Elapsed())
	if err != nil {
		q.rec.RecordOrderFailure(leg.Instrument)
		q.logger.Warn("order placement failed",
			"chunk", cs.Index,
			"instrument", leg.Instrument,
			"price", price,
			"err", err,
		)
		return
	}

	leg.OrderID = orderID
	leg.OrderPrice = price
	leg.QuotedAt = time.Now()
	q.rec.RecordOrder(leg.Instrument, leg.Side.String(), kind)
	q.logger.Info("order placed",
		"chunk", cs.Index,
		"instrument", leg.Instrument,
		"side", leg.Side,
		"qty", leg.RemainingQty(),
		"price", price,
		"order_id", orderID,
		"kind", kind,
	)
}

// cancelLeg cancels a leg's resting order. An order that already filled or
// was cancelled on the exchange side is not an error; the position delta is
// the source of truth for what actually happened.
func (q *quoter) cancelLeg(ctx context.Context, leg *LegState) {
	if leg.OrderID == "" {
		return
	}
	err := q.gw.CancelOrder(ctx, leg.OrderID)
	switch {
	case err == nil:
		q.rec.RecordCancel("ok")
	case errors.Is(err, types.ErrAlreadyResolved):
		q.rec.RecordCancel("already_resolved")
		q.logger.Debug("cancel raced a fill", "instrument", leg.Instrument, "order_id", leg.OrderID)
	default:
		q.rec.RecordCancel("error")
		q.logger.Warn("cancel failed", "instrument", leg.Instrument, "order_id", leg.OrderID, "err", err)
	}
	leg.clearOrder()
}

// cancelAll cancels every resting order in the chunk. It runs on a detached
// context so that aborting a run still cleans up its orders.
func (q *quoter) cancelAll(ctx context.Context, cs *ChunkState) {
	ctx = context.WithoutCancel(ctx)
	for _, leg := range cs.Legs {
		q.cancelLeg(ctx, leg)
	}
}

// quotePrice computes the passive quote price for a leg from the configured
// strategy. It returns zero when the book is unavailable or one-sided; the
// caller skips the leg until the next tick.
func (q *quoter) quotePrice(ctx context.Context, instrument string, side types.Side) decimal.Decimal {
	book, err := q.gw.GetOrderbook(ctx, instrument)
	if err != nil {
		q.logger.Debug("orderbook unavailable", "instrument", instrument, "err", err)
		return decimal.Zero
	}
	if !book.Valid() {
		q.logger.Debug("one-sided orderbook", "instrument", instrument)
		return decimal.Zero
	}
	return quoteFromBook(*book, side, q.cfg)
}

// quoteFromBook applies the quoting strategy to a book snapshot.
func quoteFromBook(book types.Orderbook, side types.Side, cfg Config) decimal.Decimal {
	var price decimal.Decimal

	switch cfg.Strategy {
	case QuoteTopOfBookOffset:
		offset := cfg.SpreadPct.Div(decimal.NewFromInt(100))
		if side == types.SideBuy {
			price = book.BestBid.Mul(decimal.NewFromInt(1).Sub(offset))
		} else {
			price = book.BestAsk.Mul(decimal.NewFromInt(1).Add(offset))
		}
	case QuoteMid:
		price = book.Mid()
	case QuoteMark:
		if book.HasMark() {
			price = book.Mark
		} else {
			price = book.Mid()
		}
	default: // QuoteTopOfBook
		if side == types.SideBuy {
			price = book.BestBid
		} else {
			price = book.BestAsk
		}
	}

	if price.LessThanOrEqual(decimal.Zero) {
		return priceFloor
	}
	return price
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
