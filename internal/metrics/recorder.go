package metrics

import "time"

// Recorder provides methods for recording execution metrics. A nil Recorder
// is valid and records nothing, so callers never need to guard calls.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order placement.
func (r *Recorder) RecordOrder(instrument, side, kind string) {
	if r == nil {
		return
	}
	OrdersTotal.WithLabelValues(instrument, side, kind).Inc()
}

// RecordOrderFailure records a rejected or failed order placement.
func (r *Recorder) RecordOrderFailure(instrument string) {
	if r == nil {
		return
	}
	OrderFailuresTotal.WithLabelValues(instrument).Inc()
}

// RecordCancel records a cancel request outcome.
func (r *Recorder) RecordCancel(outcome string) {
	if r == nil {
		return
	}
	OrderCancelsTotal.WithLabelValues(outcome).Inc()
}

// RecordReprice records a cancel-and-replace reprice.
func (r *Recorder) RecordReprice(instrument string) {
	if r == nil {
		return
	}
	RepricesTotal.WithLabelValues(instrument).Inc()
}

// RecordAggressiveAttempt records one aggressive fallback attempt.
func (r *Recorder) RecordAggressiveAttempt() {
	if r == nil {
		return
	}
	AggressiveAttemptsTotal.Inc()
}

// RecordFallback records a chunk entering the aggressive fallback.
func (r *Recorder) RecordFallback() {
	if r == nil {
		return
	}
	FallbacksTotal.Inc()
}

// RecordChunkDuration records the wall-clock duration of a chunk.
func (r *Recorder) RecordChunkDuration(d time.Duration) {
	if r == nil {
		return
	}
	ChunkDuration.Observe(d.Seconds())
}

// RecordOrderLatency records the latency of an order placement call.
func (r *Recorder) RecordOrderLatency(d time.Duration) {
	if r == nil {
		return
	}
	OrderLatency.Observe(d.Seconds())
}

// RunStarted marks an execution run in flight.
func (r *Recorder) RunStarted() {
	if r == nil {
		return
	}
	RunsActive.Inc()
}

// RunFinished marks an execution run complete.
func (r *Recorder) RunFinished(outcome string) {
	if r == nil {
		return
	}
	RunsActive.Dec()
	RunsTotal.WithLabelValues(outcome).Inc()
}

// LegQuoting adjusts the count of legs currently being quoted.
func (r *Recorder) LegQuoting(delta int) {
	if r == nil {
		return
	}
	LegsQuoting.Add(float64(delta))
}

// RecordTrade records a lifecycle trade reaching a terminal state.
func (r *Recorder) RecordTrade(state string) {
	if r == nil {
		return
	}
	TradesTotal.WithLabelValues(state).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
