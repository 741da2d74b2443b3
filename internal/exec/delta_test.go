package exec

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/gateway/sim"
)

func TestChunkFill(t *testing.T) {
	tests := []struct {
		name                  string
		start, current, target string
		want                  string
	}{
		{"opening from flat", "0", "0.4", "0.5", "0.4"},
		{"opening from existing long", "10", "10.4", "0.5", "0.4"},
		{"closing shrinks position", "2", "1.2", "1", "0.8"},
		{"closing through zero", "0.5", "-0.5", "1", "1"},
		{"short getting shorter", "-1", "-1.3", "0.5", "0.3"},
		{"capped at target", "0", "5", "1", "1"},
		{"no movement", "3", "3", "1", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkFill(d(tt.start), d(tt.current), d(tt.target))
			if !got.Equal(d(tt.want)) {
				t.Errorf("ChunkFill(%s, %s, %s) = %s, want %s",
					tt.start, tt.current, tt.target, got, tt.want)
			}
		})
	}
}

func TestDeltaTrackerFilled(t *testing.T) {
	gw := sim.New(testLogger())
	gw.SetPosition("BTC-26DEC25-100000-C", d("1.5"))

	tracker := NewDeltaTracker(gw)
	got, err := tracker.Filled(context.Background(), "BTC-26DEC25-100000-C", d("1"), d("1"))
	if err != nil {
		t.Fatalf("Filled: %v", err)
	}
	if !got.Equal(d("0.5")) {
		t.Errorf("got %s, want 0.5", got)
	}
}

func TestDeltaTrackerFilledGatewayError(t *testing.T) {
	gw := sim.New(testLogger())
	tracker := NewDeltaTracker(gw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tracker.Filled(ctx, "BTC-26DEC25-100000-C", decimal.Zero, d("1")); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
