package exec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/gateway"
	"github.com/quangdv/optionsbot/internal/metrics"
	"github.com/quangdv/optionsbot/internal/types"
)

// Executor runs smart multi-leg executions against an injected gateway.
// Instruments must be unique across legs: fill progress is tracked per
// instrument.
type Executor struct {
	gw     gateway.Gateway
	logger *slog.Logger
	rec    *metrics.Recorder
}

// New creates an executor. A nil logger falls back to slog.Default.
func New(gw gateway.Gateway, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		gw:     gw,
		logger: logger,
		rec:    metrics.NewRecorder(),
	}
}

// CaptureStartingPositions returns a copy of legs with StartPosition set to
// the current exchange-reported quantity. A failed poll leaves the leg's
// provided value untouched; execution proceeds on a best-effort baseline.
func (e *Executor) CaptureStartingPositions(ctx context.Context, legs []types.Leg) []types.Leg {
	out := make([]types.Leg, len(legs))
	copy(out, legs)
	for i := range out {
		qty, err := e.gw.GetPositionQuantity(ctx, out[i].Instrument)
		if err != nil {
			e.logger.Warn("could not capture starting position",
				"instrument", out[i].Instrument,
				"err", err,
			)
			continue
		}
		out[i].StartPosition = qty
	}
	return out
}

// Execute fills the multi-leg structure described by legs according to cfg.
//
// It blocks for the duration of the run and always returns a Result except
// for configuration errors raised before any order is placed. Order-level
// failures never abort the run; shortfalls are reported in the Result with
// Success=false. Context cancellation stops the run between polls, cancels
// all resting orders and returns the partial Result together with
// ErrRunAborted.
func (e *Executor) Execute(ctx context.Context, legs []types.Leg, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalized(e.logger)

	plan, err := PlanChunks(legs, cfg.ChunkCount, cfg.MinOrderQty)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()[:8]
	logger := e.logger.With("run_id", runID)
	start := time.Now()

	e.rec.RunStarted()
	logger.Info("starting smart execution",
		"legs", len(legs),
		"chunks", cfg.ChunkCount,
		"strategy", cfg.Strategy,
	)

	var fills []types.Fill
	q := &quoter{
		gw:     e.gw,
		cfg:    cfg,
		logger: logger,
		rec:    e.rec,
		record: func(f types.Fill) { fills = append(fills, f) },
	}

	targets := make(map[string]decimal.Decimal, len(legs))
	runStart := make(map[string]decimal.Decimal, len(legs))
	lastPos := make(map[string]decimal.Decimal, len(legs))
	filled := make(map[string]decimal.Decimal, len(legs))
	for _, leg := range legs {
		targets[leg.Instrument] = leg.Qty
		runStart[leg.Instrument] = leg.StartPosition
		lastPos[leg.Instrument] = leg.StartPosition
		filled[leg.Instrument] = decimal.Zero
		logger.Info("leg target",
			"instrument", leg.Instrument,
			"side", leg.Side,
			"qty", leg.Qty,
			"starting_position", leg.StartPosition,
		)
	}

	var (
		trace           []string
		fallbackCount   int
		chunksCompleted int
		aborted         bool
		abortErr        error
	)

	for _, chunk := range plan {
		e.refreshFills(ctx, legs, runStart, lastPos, filled)

		if e.allSatisfied(legs, targets, filled, cfg.MinOrderQty) {
			logger.Info("overall target reached, skipping remaining chunks",
				"chunks_completed", chunksCompleted,
			)
			trace = append(trace, fmt.Sprintf("chunk %d: target already met, remaining chunks skipped", chunk.Index+1))
			break
		}

		cs := e.buildChunkState(ctx, logger, chunk, targets, filled, lastPos, cfg.MinOrderQty)
		if len(cs.Legs) == 0 {
			trace = append(trace, fmt.Sprintf("chunk %d: no fillable legs", chunk.Index+1))
			continue
		}

		chunkTimer := metrics.NewTimer()
		fallbackNeeded, runErr := q.runQuoting(ctx, cs)
		if runErr != nil {
			aborted, abortErr = true, runErr
			break
		}

		if fallbackNeeded {
			if err := cs.Transition(PhaseFallback); err != nil {
				logger.Error("phase transition failed", "err", err)
			}
			fallbackCount++
			e.rec.RecordFallback()

			if _, runErr := q.runFallback(ctx, cs); runErr != nil {
				aborted, abortErr = true, runErr
				break
			}
		}

		if err := cs.Transition(PhaseCompleted); err != nil {
			logger.Error("phase transition failed", "err", err)
		}
		e.rec.RecordChunkDuration(chunkTimer.Elapsed())
		chunksCompleted++
		trace = append(trace, chunkTrace(cs, fallbackNeeded))
	}

	// Final position check: the deltas, not our order bookkeeping, decide
	// what actually filled.
	e.refreshFills(ctx, legs, runStart, lastPos, filled)

	result := e.buildResult(runID, legs, targets, filled, fills, cfg)
	result.ChunksPlanned = len(plan)
	result.ChunksCompleted = chunksCompleted
	result.FallbackCount = fallbackCount
	result.ExecutionTime = time.Since(start)
	result.Aborted = aborted
	result.Trace = trace

	outcome := "partial"
	if result.Success {
		outcome = "filled"
	}
	if aborted {
		outcome = "aborted"
	}
	e.rec.RunFinished(outcome)

	logger.Info("smart execution finished", "outcome", outcome, "summary", result.Summary())

	if aborted {
		return result, fmt.Errorf("%w: %v", types.ErrRunAborted, abortErr)
	}
	return result, nil
}

// refreshFills re-derives per-instrument run-level fill progress from live
// position quantities. Poll failures keep the previous values; the loop
// simply sees no progress this round.
func (e *Executor) refreshFills(ctx context.Context, legs []types.Leg, runStart, lastPos, filled map[string]decimal.Decimal) {
	for _, leg := range legs {
		qty, err := e.gw.GetPositionQuantity(ctx, leg.Instrument)
		if err != nil {
			e.logger.Warn("position refresh failed", "instrument", leg.Instrument, "err", err)
			continue
		}
		lastPos[leg.Instrument] = qty
		filled[leg.Instrument] = ChunkFill(runStart[leg.Instrument], qty, leg.Qty)
	}
}

// allSatisfied reports whether every leg's remaining quantity is below the
// minimum order size.
func (e *Executor) allSatisfied(legs []types.Leg, targets, filled map[string]decimal.Decimal, minQty decimal.Decimal) bool {
	for _, leg := range legs {
		remaining := targets[leg.Instrument].Sub(filled[leg.Instrument])
		if remaining.GreaterThan(minQty) {
			return false
		}
	}
	return true
}

// buildChunkState materializes the per-leg chunk state: chunk quantities are
// clamped to the run-level remainder (an earlier chunk may have overfilled
// in a race) and each leg's starting position is snapshotted fresh.
func (e *Executor) buildChunkState(
	ctx context.Context,
	logger *slog.Logger,
	chunk Chunk,
	targets, filled, lastPos map[string]decimal.Decimal,
	minQty decimal.Decimal,
) *ChunkState {
	trimmed := Chunk{Index: chunk.Index}
	for _, leg := range chunk.Legs {
		remaining := targets[leg.Instrument].Sub(filled[leg.Instrument])
		qty := leg.Qty
		if qty.GreaterThan(remaining) {
			qty = remaining
		}
		if qty.LessThan(minQty) {
			continue
		}
		trimmed.Legs = append(trimmed.Legs, ChunkLeg{
			Instrument: leg.Instrument,
			Side:       leg.Side,
			Qty:        qty,
		})
	}

	cs := newChunkState(trimmed)
	for _, leg := range cs.Legs {
		qty, err := e.gw.GetPositionQuantity(ctx, leg.Instrument)
		if err != nil {
			logger.Warn("could not snapshot chunk starting position, using last known",
				"instrument", leg.Instrument,
				"err", err,
			)
			qty = lastPos[leg.Instrument]
		}
		leg.StartPosition = qty
		logger.Info("chunk leg",
			"chunk", cs.Index,
			"instrument", leg.Instrument,
			"target", leg.TargetQty,
			"starting_position", qty,
		)
	}
	return cs
}

// buildResult assembles the per-leg outcome from run-level fill deltas and
// the recorded fill events.
func (e *Executor) buildResult(
	runID string,
	legs []types.Leg,
	targets, filled map[string]decimal.Decimal,
	fills []types.Fill,
	cfg Config,
) *Result {
	result := &Result{
		RunID:     runID,
		TotalCost: totalCost(fills),
	}

	success := true
	for _, leg := range legs {
		lr := LegResult{
			Instrument: leg.Instrument,
			Side:       leg.Side,
			TargetQty:  targets[leg.Instrument],
			FilledQty:  filled[leg.Instrument],
			AvgPrice:   vwap(fills, leg.Instrument),
		}
		if lr.Shortfall().GreaterThan(cfg.MinOrderQty) {
			success = false
		}
		result.Legs = append(result.Legs, lr)
	}
	result.Success = success
	return result
}

// chunkTrace renders one chunk's outcome for the execution report.
func chunkTrace(cs *ChunkState, fallback bool) string {
	filledLegs := 0
	for _, leg := range cs.Legs {
		if leg.Filled() {
			filledLegs++
		}
	}
	return fmt.Sprintf("chunk %d: %d/%d legs filled, fallback=%t, elapsed=%s",
		cs.Index+1,
		filledLegs,
		len(cs.Legs),
		fallback,
		cs.Elapsed().Round(time.Millisecond),
	)
}
