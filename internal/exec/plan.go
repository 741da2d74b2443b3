package exec

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

// ChunkLeg is one leg's slice of a chunk.
type ChunkLeg struct {
	Instrument string
	Side       types.Side
	Qty        decimal.Decimal
}

// Chunk is a proportional slice of the overall structure, executed as one
// unit before moving to the next.
type Chunk struct {
	Index int
	Legs  []ChunkLeg
}

// PlanChunks splits the structure into chunkCount proportional chunks.
//
// Each of the first chunkCount-1 chunks receives an equal per-leg share
// quantized down to minQty; the final chunk absorbs the remainder, so the
// per-leg quantities always sum exactly to the leg's target. A leg whose
// share rounds to zero sits out every chunk but the last. Legs must carry
// distinct instruments.
func PlanChunks(legs []types.Leg, chunkCount int, minQty decimal.Decimal) ([]Chunk, error) {
	if chunkCount <= 0 {
		return nil, fmt.Errorf("%w: chunk count %d must be positive", types.ErrInvalidConfig, chunkCount)
	}
	if len(legs) == 0 {
		return nil, types.ErrNoLegs
	}
	seen := make(map[string]bool, len(legs))
	for _, leg := range legs {
		if err := leg.Validate(); err != nil {
			return nil, err
		}
		// Fill progress is tracked per instrument, so two legs on the same
		// instrument would share one position-delta signal.
		if seen[leg.Instrument] {
			return nil, fmt.Errorf("%w: instrument %s appears in more than one leg", types.ErrInvalidLeg, leg.Instrument)
		}
		seen[leg.Instrument] = true
	}

	chunks := make([]Chunk, chunkCount)
	for i := range chunks {
		chunks[i].Index = i
	}

	n := decimal.NewFromInt(int64(chunkCount))
	for _, leg := range legs {
		share := quantizeDown(leg.Qty.Div(n), minQty)

		allocated := decimal.Zero
		for i := 0; i < chunkCount-1; i++ {
			if share.IsZero() {
				continue
			}
			chunks[i].Legs = append(chunks[i].Legs, ChunkLeg{
				Instrument: leg.Instrument,
				Side:       leg.Side,
				Qty:        share,
			})
			allocated = allocated.Add(share)
		}

		// Last chunk absorbs the rounding remainder.
		last := leg.Qty.Sub(allocated)
		if last.GreaterThan(decimal.Zero) {
			chunks[chunkCount-1].Legs = append(chunks[chunkCount-1].Legs, ChunkLeg{
				Instrument: leg.Instrument,
				Side:       leg.Side,
				Qty:        last,
			})
		}
	}

	return chunks, nil
}

// quantizeDown rounds qty down to a whole multiple of step. A non-positive
// step leaves qty untouched.
func quantizeDown(qty, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}
