package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/types"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSaveAndGetExecution(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	record := ExecutionRecord{
		RunID:           "run-1",
		StartedAt:       time.Now().UTC().Truncate(time.Second),
		Success:         true,
		ChunksPlanned:   5,
		ChunksCompleted: 5,
		FallbackCount:   1,
		TotalCost:       d("0.0123"),
		ExecutionTime:   42 * time.Second,
		Legs: []LegFillRecord{
			{Instrument: "BTC-26DEC25-100000-C", Side: types.SideBuy, TargetQty: d("1"), FilledQty: d("1"), AvgPrice: d("0.051")},
			{Instrument: "BTC-26DEC25-110000-C", Side: types.SideSell, TargetQty: d("2"), FilledQty: d("1.9"), AvgPrice: d("0.031")},
		},
	}
	if err := repo.SaveExecution(ctx, record); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}

	got, err := repo.GetExecution(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got == nil {
		t.Fatal("GetExecution returned nil")
	}
	if !got.Success || got.ChunksCompleted != 5 || got.FallbackCount != 1 {
		t.Errorf("record = %+v", got)
	}
	if !got.TotalCost.Equal(d("0.0123")) {
		t.Errorf("TotalCost = %s, want 0.0123", got.TotalCost)
	}
	if got.ExecutionTime != 42*time.Second {
		t.Errorf("ExecutionTime = %s, want 42s", got.ExecutionTime)
	}
	if len(got.Legs) != 2 {
		t.Fatalf("got %d legs, want 2", len(got.Legs))
	}
	if got.Legs[1].Side != types.SideSell || !got.Legs[1].FilledQty.Equal(d("1.9")) {
		t.Errorf("leg = %+v", got.Legs[1])
	}
}

func TestSaveExecutionReplacesLegs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	record := ExecutionRecord{
		RunID:     "run-1",
		StartedAt: time.Now(),
		Legs: []LegFillRecord{
			{Instrument: "a", Side: types.SideBuy, TargetQty: d("1"), FilledQty: d("0.5")},
		},
	}
	if err := repo.SaveExecution(ctx, record); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}
	record.Legs[0].FilledQty = d("1")
	if err := repo.SaveExecution(ctx, record); err != nil {
		t.Fatalf("SaveExecution (update): %v", err)
	}

	got, err := repo.GetExecution(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if len(got.Legs) != 1 || !got.Legs[0].FilledQty.Equal(d("1")) {
		t.Errorf("legs = %+v, want single updated leg", got.Legs)
	}
}

func TestGetExecutionUnknownRun(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.GetExecution(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestGetExecutionsRange(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i, runID := range []string{"r1", "r2", "r3"} {
		record := ExecutionRecord{RunID: runID, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := repo.SaveExecution(ctx, record); err != nil {
			t.Fatalf("SaveExecution: %v", err)
		}
	}

	got, err := repo.GetExecutions(ctx, base, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("GetExecutions: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d records, want 2", len(got))
	}
}

func TestSaveAndGetTrade(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	record := TradeRecord{
		TradeID:    "trade-1",
		Label:      "dec butterfly",
		State:      "closed",
		OpenedAt:   now.Add(-2 * time.Hour),
		ClosedAt:   now,
		OpenCost:   d("0.02"),
		CloseCost:  d("-0.025"),
		RealizedPL: d("0.005"),
		ExitReason: "profit_target",
		OpenRunID:  "run-a",
		CloseRunID: "run-b",
	}
	if err := repo.SaveTrade(ctx, record); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	got, err := repo.GetTrade(ctx, "trade-1")
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if got == nil {
		t.Fatal("GetTrade returned nil")
	}
	if got.State != "closed" || got.ExitReason != "profit_target" || !got.RealizedPL.Equal(d("0.005")) {
		t.Errorf("trade = %+v", got)
	}

	trades, err := repo.GetTrades(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("got %d trades, want 1", len(trades))
	}
}
