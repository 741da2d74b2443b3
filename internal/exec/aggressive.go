package exec

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

// runFallback force-fills legs the quoting phase left short by crossing the
// spread with marketable limit orders: buys lift the best ask, sells hit the
// best bid. The limit caps the worst-case price at the snapshot taken when
// the order goes out, unlike a true market order against a stale quote.
//
// It returns the number of attempts consumed; filling every leg stops the
// loop immediately without using the remaining attempts.
func (q *quoter) runFallback(ctx context.Context, cs *ChunkState) (int, error) {
	attempts := 0

	for attempts < q.cfg.AggressiveAttempts {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		unfilled := cs.UnfilledLegs(q.cfg.MinOrderQty)
		if len(unfilled) == 0 {
			// Remaining shortfalls, if any, are below the minimum order size.
			q.logger.Info("no fillable legs remaining", "chunk", cs.Index)
			break
		}

		attempts++
		q.rec.RecordAggressiveAttempt()
		q.logger.Info("aggressive fill attempt",
			"chunk", cs.Index,
			"attempt", attempts,
			"max_attempts", q.cfg.AggressiveAttempts,
			"legs", len(unfilled),
		)

		placed := 0
		for _, leg := range unfilled {
			price := q.aggressivePrice(ctx, leg.Instrument, leg.Side)
			if price.IsZero() {
				q.logger.Warn("no aggressive price available", "instrument", leg.Instrument)
				continue
			}
			q.placeOrder(ctx, cs, leg, price, "aggressive")
			if leg.OrderID != "" {
				placed++
			}
		}

		if placed > 0 {
			if err := q.awaitFills(ctx, cs); err != nil {
				q.cancelAll(ctx, cs)
				return attempts, err
			}
			// A stale aggressive order left resting would double up with the
			// next attempt's order.
			q.cancelAll(ctx, cs)
		}

		if cs.AllFilled() {
			q.logger.Info("all legs filled aggressively", "chunk", cs.Index, "attempts", attempts)
			break
		}

		if attempts < q.cfg.AggressiveAttempts {
			if err := sleepCtx(ctx, q.cfg.AggressivePause); err != nil {
				return attempts, err
			}
		}
	}

	if !cs.AllFilled() {
		q.logger.Warn("fallback exhausted with unfilled legs",
			"chunk", cs.Index,
			"attempts", attempts,
		)
	}
	return attempts, nil
}

// awaitFills polls fill progress for up to the per-attempt wait budget.
func (q *quoter) awaitFills(ctx context.Context, cs *ChunkState) error {
	deadline := time.Now().Add(q.cfg.AggressiveWait)
	for {
		q.pollFills(ctx, cs)
		if cs.AllFilled() || time.Now().After(deadline) {
			return nil
		}
		if err := sleepCtx(ctx, q.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// aggressivePrice returns the spread-crossing price for urgent fills,
// optionally capped at MaxSlippagePct away from the midpoint to bound the
// damage from a distorted touch.
func (q *quoter) aggressivePrice(ctx context.Context, instrument string, side types.Side) decimal.Decimal {
	book, err := q.gw.GetOrderbook(ctx, instrument)
	if err != nil || !book.Valid() {
		return decimal.Zero
	}

	var price decimal.Decimal
	if side == types.SideBuy {
		price = book.BestAsk
	} else {
		price = book.BestBid
	}

	if q.cfg.MaxSlippagePct.GreaterThan(decimal.Zero) {
		pct := q.cfg.MaxSlippagePct.Div(decimal.NewFromInt(100))
		mid := book.Mid()
		if side == types.SideBuy {
			ceiling := mid.Mul(decimal.NewFromInt(1).Add(pct))
			if price.GreaterThan(ceiling) {
				q.logger.Warn("capping aggressive buy price",
					"instrument", instrument,
					"ask", price,
					"cap", ceiling,
				)
				price = ceiling
			}
		} else {
			floor := mid.Mul(decimal.NewFromInt(1).Sub(pct))
			if price.LessThan(floor) {
				q.logger.Warn("raising aggressive sell price",
					"instrument", instrument,
					"bid", price,
					"floor", floor,
				)
				price = floor
			}
		}
	}

	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return price
}
